// Package status provides a thread-safe status tracker for the scale-node daemon.
// It mirrors what the tasks are doing for the HTTP handlers and the retained
// system topic. It is not authoritative: the state store and the log are.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/scale-node/internal/logic"
)

// NetworkInfo contains link state. This is a local copy to avoid
// importing internal/wifi from status.
type NetworkInfo struct {
	Interface string
	MAC       string
	IP        string
	OperState string
	SSID      string
}

// Config contains daemon configuration for display.
type Config struct {
	DeviceID    string
	PollMs      int64
	Broker      string
	TopicPrefix string
	HTTPPort    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ready        bool
	SensorState  logic.SensorState
	SyncState    logic.SyncState
	LastWeight   float32
	LastSample   time.Time
	Measurements int
	BatteryMV    int

	Cursor     uint32
	Schedule   logic.Schedule
	SamplingMs uint32

	LastDispatch     time.Time
	LastDispatchSent int

	Gestures      logic.GestureCounts
	Provisioning  bool
	WifiConnected bool
	MQTTConnected bool

	StartTime time.Time
	Now       time.Time
	Network   *NetworkInfo
	Config    Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

func (t *Tracker) update(fn func(s *Snapshot)) {
	t.mu.Lock()
	fn(&t.snap)
	t.mu.Unlock()
}

// SetReady marks the end of the boot sequence.
func (t *Tracker) SetReady(ready bool) {
	t.update(func(s *Snapshot) { s.Ready = ready })
}

// SetSensorState records the acquisition task state.
func (t *Tracker) SetSensorState(st logic.SensorState) {
	t.update(func(s *Snapshot) { s.SensorState = st })
}

// SetSyncState records the sync task state.
func (t *Tracker) SetSyncState(st logic.SyncState) {
	t.update(func(s *Snapshot) { s.SyncState = st })
}

// RecordWeight records a logged measurement.
func (t *Tracker) RecordWeight(at time.Time, kg float32) {
	t.update(func(s *Snapshot) {
		s.LastWeight = kg
		s.LastSample = at
		s.Measurements++
	})
}

// SetBattery records the battery voltage in millivolts.
func (t *Tracker) SetBattery(mv int) {
	t.update(func(s *Snapshot) { s.BatteryMV = mv })
}

// SetEnvio mirrors the cursor and the dispatch configuration.
func (t *Tracker) SetEnvio(cursor uint32, sched logic.Schedule, samplingMs uint32) {
	t.update(func(s *Snapshot) {
		s.Cursor = cursor
		s.Schedule = sched
		s.SamplingMs = samplingMs
	})
}

// RecordDispatch records a completed dispatch pass.
func (t *Tracker) RecordDispatch(at time.Time, sent int) {
	t.update(func(s *Snapshot) {
		s.LastDispatch = at
		s.LastDispatchSent = sent
	})
}

// SetGestures records the button gesture counters.
func (t *Tracker) SetGestures(c logic.GestureCounts) {
	t.update(func(s *Snapshot) { s.Gestures = c })
}

// SetProvisioning records whether credential capture is running.
func (t *Tracker) SetProvisioning(active bool) {
	t.update(func(s *Snapshot) { s.Provisioning = active })
}

// SetWifiConnected sets the Wi-Fi association status.
func (t *Tracker) SetWifiConnected(connected bool) {
	t.update(func(s *Snapshot) { s.WifiConnected = connected })
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.update(func(s *Snapshot) { s.MQTTConnected = connected })
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.update(func(s *Snapshot) { s.Network = info })
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Network != nil {
		n := *s.Network
		s.Network = &n
	}
	s.Now = time.Now()
	return s
}
