// Package mqtt provides the broker session with abstraction for testing,
// the topic layout and the payload formats of the weighing device.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultPrefix is the topic prefix used when none is configured.
const DefaultPrefix = "halo"

// Connection topic values.
const (
	ConnOn  = "ON"
	ConnOff = "OFF"
	ConnOn1 = "ON1" // calibration offset taken, waiting for the known mass
	ConnOn2 = "ON2" // calibration saved
)

// Weight range accepted for publishing, exclusive.
const (
	MinPublishWeight = -1000
	MaxPublishWeight = 10000
)

// ErrNotConnected is returned when publishing without a broker session.
var ErrNotConnected = errors.New("mqtt: not connected")

// Topics derives every topic from a prefix.
type Topics struct {
	Prefix string
}

// NewTopics returns Topics for prefix (DefaultPrefix if empty).
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) topic(name string) string { return t.Prefix + "/" + name }

// Inbound topics.
func (t Topics) Command() string     { return t.topic("command") }
func (t Topics) CommandOTA() string  { return t.topic("command_ota") }
func (t Topics) SetSchedule() string { return t.topic("set_schedule") }
func (t Topics) SetTime() string     { return t.topic("set_time") }

// Outbound topics.
func (t Topics) Status() string     { return t.topic("status") }
func (t Topics) Connection() string { return t.topic("connection") }
func (t Topics) WeightData() string { return t.topic("weight_data") }
func (t Topics) Battery() string    { return t.topic("battery") }
func (t Topics) DeviceInfo() string { return t.topic("device_info") }
func (t Topics) System() string     { return t.topic("system") }

// Inbound lists the topics the daemon subscribes to.
func (t Topics) Inbound() []string {
	return []string{t.Command(), t.CommandOTA(), t.SetSchedule(), t.SetTime()}
}

// Message is a received message.
type Message struct {
	Topic   string
	Payload []byte
}

// Handler receives inbound messages. It must not block.
type Handler func(Message)

// Client is a broker session.
type Client interface {
	// Connect opens the session, bounded by ctx.
	Connect(ctx context.Context) error

	// Disconnect closes the session. Safe to call when not connected.
	Disconnect()

	IsConnected() bool

	// Publish sends payload and waits for the broker acknowledgement
	// according to qos.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers h for topic. Subscriptions survive reconnects.
	Subscribe(topic string, h Handler) error
}

// WeightPayload is the telemetry record payload.
type WeightPayload struct {
	Timestamp string  `json:"timestamp"`
	Weight    float32 `json:"weight"`
}

// FormatWeight creates the JSON payload for a weight record. The
// timestamp is the local wall-clock time of the sample, without zone.
func FormatWeight(at time.Time, kg float32) ([]byte, error) {
	return json.Marshal(WeightPayload{
		Timestamp: at.Format("2006-01-02T15:04:05"),
		Weight:    kg,
	})
}

// WeightPublishable reports whether kg is inside the publishing range.
func WeightPublishable(kg float32) bool {
	return kg > MinPublishWeight && kg < MaxPublishWeight
}

// BatteryPayload is the battery voltage payload.
type BatteryPayload struct {
	VoltageMV int `json:"battery_voltage"`
}

// FormatBattery creates the JSON payload for a battery reading.
func FormatBattery(mv int) ([]byte, error) {
	return json.Marshal(BatteryPayload{VoltageMV: mv})
}

// DeviceInfoPayload identifies the device.
type DeviceInfoPayload struct {
	DeviceID string `json:"device_id"`
}

// FormatDeviceInfo creates the JSON payload for the device identity.
func FormatDeviceInfo(id string) ([]byte, error) {
	return json.Marshal(DeviceInfoPayload{DeviceID: id})
}

// SystemEvent represents a system lifecycle event (startup, shutdown, offline).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "OFFLINE"
	Reason     string // e.g., "SIGTERM", "RESTART"
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
}

// SystemPayload represents the MQTT message payload for system events
// that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}
	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
