package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	Ready         bool         `json:"ready"`
	Sensor        string       `json:"sensor_state"`
	Sync          string       `json:"sync_state"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	Weight        *WeightJSON  `json:"last_weight,omitempty"`
	BatteryMV     int          `json:"battery_mv"`
	Dispatch      DispatchJSON `json:"dispatch"`
	Gestures      GesturesJSON `json:"button"`
	Provisioning  bool         `json:"provisioning"`
	WiFi          bool         `json:"wifi_connected"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// WeightJSON is the last logged measurement.
type WeightJSON struct {
	Kg        float32 `json:"kg"`
	Timestamp string  `json:"timestamp"`
	Count     int     `json:"count"`
}

// DispatchJSON reports sync progress and configuration.
type DispatchJSON struct {
	Cursor     uint32 `json:"cursor"`
	Schedule   string `json:"schedule"`
	SamplingMs uint32 `json:"sampling_ms"`
	LastPass   string `json:"last_pass,omitempty"`
	LastSent   int    `json:"last_sent"`
}

// GesturesJSON is the JSON representation of gesture counts.
type GesturesJSON struct {
	SingleClick int `json:"single_click"`
	DoubleClick int `json:"double_click"`
	LongPress   int `json:"long_press"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Interface string `json:"interface"`
	MAC       string `json:"mac"`
	IP        string `json:"ip"`
	OperState string `json:"oper_state"`
	SSID      string `json:"ssid,omitempty"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	DeviceID    string `json:"device_id"`
	PollMs      int64  `json:"poll_ms"`
	Broker      string `json:"broker"`
	TopicPrefix string `json:"topic_prefix"`
	HTTPPort    string `json:"http_port"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Ready:         snap.Ready,
		Sensor:        snap.SensorState.String(),
		Sync:          snap.SyncState.String(),
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		BatteryMV:     snap.BatteryMV,
		Dispatch: DispatchJSON{
			Cursor:     snap.Cursor,
			Schedule:   snap.Schedule.String(),
			SamplingMs: snap.SamplingMs,
			LastSent:   snap.LastDispatchSent,
		},
		Gestures: GesturesJSON{
			SingleClick: snap.Gestures.SingleClick,
			DoubleClick: snap.Gestures.DoubleClick,
			LongPress:   snap.Gestures.LongPress,
		},
		Provisioning: snap.Provisioning,
		WiFi:         snap.WifiConnected,
		MQTT:         MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			DeviceID:    snap.Config.DeviceID,
			PollMs:      snap.Config.PollMs,
			Broker:      snap.Config.Broker,
			TopicPrefix: snap.Config.TopicPrefix,
			HTTPPort:    snap.Config.HTTPPort,
		},
	}
	if !snap.LastDispatch.IsZero() {
		inner.Dispatch.LastPass = snap.LastDispatch.Format(time.RFC3339)
	}
	if snap.Measurements > 0 {
		inner.Weight = &WeightJSON{
			Kg:        snap.LastWeight,
			Timestamp: snap.LastSample.Format("2006-01-02T15:04:05"),
			Count:     snap.Measurements,
		}
	}
	return inner
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Interface: snap.Network.Interface,
			MAC:       snap.Network.MAC,
			IP:        snap.Network.IP,
			OperState: snap.Network.OperState,
			SSID:      snap.Network.SSID,
		}
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
