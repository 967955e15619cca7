package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/scale-node/internal/status"
)

var funcs = template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"kg": func(v float32) string { return fmt.Sprintf("%.2f kg", v) },
	"stamp": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.Format("2006-01-02 15:04:05")
	},
}

var indexTmpl = template.Must(template.New("index").Funcs(funcs).Parse(indexHTML))

var provisionTmpl = template.Must(template.New("provision").Parse(provisionHTML))

const style = `<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>`

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Scale Node</title>
` + style + `
</head>
<body>
<h1>Scale Node<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Measurement</h2>
<table>
<tr><th>Sensor</th><td id="sensor-state">{{.SensorState}}</td></tr>
<tr><th>Last weight</th><td id="last-weight">{{if .Measurements}}{{kg .LastWeight}} at {{stamp .LastSample}}{{else}}none{{end}}</td></tr>
<tr><th>Samples logged</th><td id="samples">{{.Measurements}}</td></tr>
<tr><th>Sampling</th><td>{{.SamplingMs}}ms</td></tr>
<tr><th>Battery</th><td id="battery">{{if .BatteryMV}}{{.BatteryMV}} mV{{else}}unknown{{end}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Dispatch</h2>
<table>
<tr><th>Sync</th><td id="sync-state">{{.SyncState}}</td></tr>
<tr><th>Schedule</th><td>{{.Schedule}}</td></tr>
<tr><th>Cursor</th><td id="cursor">{{.Cursor}}</td></tr>
<tr><th>Last pass</th><td>{{stamp .LastDispatch}}{{if not .LastDispatch.IsZero}} ({{.LastDispatchSent}} sent){{end}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>Wi-Fi</th><td class="{{if .WifiConnected}}connected{{else}}disconnected{{end}}">{{if .WifiConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Link</th><td>{{.Network.Interface}} {{.Network.OperState}}{{if .Network.SSID}} ({{.Network.SSID}}){{end}}</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>
<tr><th>MAC</th><td>{{.Network.MAC}}</td></tr>{{end}}
{{if .ProvisioningOpen}}<tr><th>Provisioning</th><td><a href="/provision">enter Wi-Fi credentials</a></td></tr>{{end}}
</table>

<h2>Button</h2>
<table>
<tr><th>Single click</th><td>{{.Gestures.SingleClick}}</td></tr>
<tr><th>Double click</th><td>{{.Gestures.DoubleClick}}</td></tr>
<tr><th>Long press</th><td>{{.Gestures.LongPress}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Device</th><td>{{.Config.DeviceID}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Topics</th><td>{{.Config.TopicPrefix}}/#</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/history.json">History</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  function text(id, v) {
    var el = document.getElementById(id);
    if (el) { el.textContent = v; }
  }
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onopen = function() { setDot("ok", "live"); };
  ws.onclose = function() { setDot("err", "offline"); };
  ws.onerror = function() { setDot("err", "error"); };
  ws.onmessage = function(ev) {
    try {
      var s = JSON.parse(ev.data).status;
      text("sensor-state", s.sensor_state);
      text("sync-state", s.sync_state);
      text("cursor", s.dispatch.cursor);
      if (s.last_weight) {
        text("last-weight", s.last_weight.kg.toFixed(2) + " kg at " + s.last_weight.timestamp.replace("T", " "));
        text("samples", s.last_weight.count);
      }
      if (s.battery_mv) { text("battery", s.battery_mv + " mV"); }
    } catch (e) {}
  };
})();
</script>
</body>
</html>
`

const provisionHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Scale Node Wi-Fi</title>
` + style + `
</head>
<body>
<h1>Wi-Fi setup</h1>
{{if .Message}}<p>{{.Message}}</p>{{end}}
{{if .Active}}
<form method="post" action="/provision">
<table>
<tr><th><label for="ssid">Network</label></th><td><input id="ssid" name="ssid" required></td></tr>
<tr><th><label for="password">Password</label></th><td><input id="password" name="password" type="password"></td></tr>
</table>
<button type="submit">Save</button>
</form>
{{else if not .Message}}
<p>Provisioning is not active. Long-press the button to start it.</p>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, provisioning bool) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime           time.Duration
		ProvisioningOpen bool
	}{
		Snapshot:         snap,
		Uptime:           snap.Uptime(),
		ProvisioningOpen: provisioning,
	}
	indexTmpl.Execute(w, data)
}

func renderProvision(w io.Writer, active bool, message string) {
	provisionTmpl.Execute(w, struct {
		Active  bool
		Message string
	}{active, message})
}
