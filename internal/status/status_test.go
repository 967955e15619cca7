package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/scale-node/internal/logic"
)

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{DeviceID: "AA:BB", PollMs: 50, Broker: "tcp://localhost:1883", HTTPPort: ":80"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(start) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.PollMs != 50 {
		t.Errorf("Config.PollMs: got %d, want 50", snap.Config.PollMs)
	}
	if snap.Ready {
		t.Error("expected Ready=false initially")
	}
	if snap.MQTTConnected {
		t.Error("expected MQTTConnected=false initially")
	}
	if snap.SensorState != logic.SensorAwaitInit || snap.SyncState != logic.SyncAwaitInit {
		t.Errorf("initial states: %v / %v", snap.SensorState, snap.SyncState)
	}
}

func TestRecordWeight(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	tr.RecordWeight(at, 3.5)
	tr.RecordWeight(at.Add(time.Minute), 4.25)

	snap := tr.Snapshot()
	if snap.LastWeight != 4.25 {
		t.Errorf("LastWeight: got %v, want 4.25", snap.LastWeight)
	}
	if !snap.LastSample.Equal(at.Add(time.Minute)) {
		t.Errorf("LastSample: got %v", snap.LastSample)
	}
	if snap.Measurements != 2 {
		t.Errorf("Measurements: got %d, want 2", snap.Measurements)
	}
}

func TestSetters(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetReady(true)
	tr.SetSensorState(logic.SensorMeasuring)
	tr.SetSyncState(logic.SyncSending)
	tr.SetBattery(3900)
	tr.SetEnvio(42, logic.Schedule{Hour: 18, Minute: 30}, 5000)
	tr.SetGestures(logic.GestureCounts{SingleClick: 2})
	tr.SetProvisioning(true)
	tr.SetWifiConnected(true)
	tr.SetMQTTConnected(true)

	snap := tr.Snapshot()
	if !snap.Ready || !snap.Provisioning || !snap.WifiConnected || !snap.MQTTConnected {
		t.Errorf("flags not set: %+v", snap)
	}
	if snap.SensorState != logic.SensorMeasuring || snap.SyncState != logic.SyncSending {
		t.Errorf("states: %v / %v", snap.SensorState, snap.SyncState)
	}
	if snap.BatteryMV != 3900 {
		t.Errorf("BatteryMV: got %d", snap.BatteryMV)
	}
	if snap.Cursor != 42 || snap.Schedule.String() != "18:30" || snap.SamplingMs != 5000 {
		t.Errorf("envio: cursor=%d schedule=%v sampling=%d", snap.Cursor, snap.Schedule, snap.SamplingMs)
	}
	if snap.Gestures.SingleClick != 2 {
		t.Errorf("Gestures: got %+v", snap.Gestures)
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Interface: "wlan0", IP: "192.168.1.42", OperState: "up"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotNowIsSet(t *testing.T) {
	tr := NewTracker(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Config{})

	before := time.Now()
	snap := tr.Snapshot()
	after := time.Now()

	if snap.Now.Before(before) || snap.Now.After(after) {
		t.Errorf("Now (%v) not between %v and %v", snap.Now, before, after)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.RecordWeight(time.Now(), 1)
	tr.SetNetwork(&NetworkInfo{IP: "10.0.0.1"})

	snap1 := tr.Snapshot()
	snap1.Network.IP = "changed"

	tr.RecordWeight(time.Now(), 2)

	if snap1.LastWeight != 1 {
		t.Error("snapshot should be a copy; LastWeight was modified")
	}
	if tr.Snapshot().Network.IP != "10.0.0.1" {
		t.Error("snapshot network should be a copy")
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Ready:         true,
		SensorState:   logic.SensorMeasuring,
		SyncState:     logic.SyncAwaitDispatchWindow,
		LastWeight:    12.5,
		LastSample:    time.Date(2026, 1, 1, 0, 10, 0, 0, time.UTC),
		Measurements:  7,
		Cursor:        3,
		Schedule:      logic.Schedule{Hour: 6, Minute: 5},
		SamplingMs:    10000,
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{PollMs: 50, Broker: "tcp://localhost:1883", HTTPPort: ":80"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Sensor != "measuring" {
		t.Errorf("Sensor: got %q, want measuring", parsed.Status.Sensor)
	}
	if parsed.Status.Sync != "await_dispatch_window" {
		t.Errorf("Sync: got %q", parsed.Status.Sync)
	}
	if !parsed.Status.Ready {
		t.Error("expected Ready=true")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.Weight == nil || parsed.Status.Weight.Kg != 12.5 || parsed.Status.Weight.Count != 7 {
		t.Errorf("Weight: got %+v", parsed.Status.Weight)
	}
	if parsed.Status.Dispatch.Schedule != "06:05" || parsed.Status.Dispatch.Cursor != 3 {
		t.Errorf("Dispatch: got %+v", parsed.Status.Dispatch)
	}
	if parsed.Status.Dispatch.LastPass != "" {
		t.Errorf("LastPass: got %q, want empty", parsed.Status.Dispatch.LastPass)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONOmitsWeightBeforeFirstSample(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var raw map[string]interface{}
	json.Unmarshal(FormatJSON(snap), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["last_weight"]; exists {
		t.Error("last_weight should be omitted before the first sample")
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Ready:     true,
		StartTime: start,
		Now:       start.Add(30 * time.Minute),
		Config:    Config{Broker: "tcp://localhost:1883"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.UptimeSeconds != 1800 {
		t.Errorf("UptimeSeconds: got %d, want 1800", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	data := FormatStatusEvent(snap, "STARTUP", "")

	var raw map[string]interface{}
	json.Unmarshal(data, &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestFormatJSONWithNetwork(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 1, 0, 0, time.UTC),
		Network:   &NetworkInfo{Interface: "wlan0", IP: "192.168.1.42", OperState: "up", SSID: "MyNet"},
	}

	var parsed StatusJSON
	json.Unmarshal(FormatJSON(snap), &parsed)

	if parsed.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if parsed.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", parsed.Status.Network.IP)
	}
	if parsed.Status.Network.SSID != "MyNet" {
		t.Errorf("Network.SSID: got %q, want MyNet", parsed.Status.Network.SSID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.RecordWeight(time.Now(), float32(i))
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetNetwork(&NetworkInfo{IP: "1.2.3.4"})
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()
}
