package sensor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/battery"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/telemetry"
)

// Task pacing.
const (
	InitPoll        = time.Second
	WaitPoll        = 2 * time.Second
	WaitLogInterval = 10 * time.Second
	LogLockWait     = time.Second
)

// Notifier reports to the operator over the broker.
type Notifier interface {
	Status(msg string)
	Connection(state string)
}

// TaskConfig wires a Task. Log, Gauge, Tracker and Online may be nil.
type TaskConfig struct {
	State      *state.Store
	Log        *telemetry.Log
	Sensor     Sensor
	Gauge      battery.Gauge
	Calibrator *Calibrator
	Notifier   Notifier
	Tracker    *status.Tracker
	Now        func() time.Time
	Online     func() bool
	Sleep      backoff.SleepFunc
}

// Task is the acquisition state machine.
type Task struct {
	cfg     TaskConfig
	current logic.SensorState
	lastLog time.Time
}

// NewTask creates a Task in AwaitInit.
func NewTask(cfg TaskConfig) *Task {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.Sleep
	}
	if cfg.Online == nil {
		cfg.Online = func() bool { return false }
	}
	return &Task{cfg: cfg, current: logic.SensorAwaitInit}
}

// State returns the state chosen by the last Step.
func (t *Task) State() logic.SensorState { return t.current }

// Run steps the task until ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	log.Printf("sensor: task started")
	for {
		if err := t.Step(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("sensor: task stopped")
				return ctx.Err()
			}
			log.Printf("sensor: %v", err)
		}
	}
}

// Step decides the next state from the shared state and runs its action.
func (t *Task) Step(ctx context.Context) error {
	st, err := t.cfg.State.Snapshot(ctx)
	if err != nil {
		// Skip this round rather than act on stale flags.
		return errors.Join(fmt.Errorf("read state: %w", err), t.cfg.Sleep(ctx, InitPoll))
	}

	next := logic.NextSensorState(logic.SensorInputs{
		SystemReady:               st.Flags.SystemReady,
		Online:                    t.cfg.Online(),
		AwaitingDateTime:          st.Flags.AwaitingDateTime,
		AwaitingCommand:           st.Flags.AwaitingCommand,
		CalibrationRequested:      st.Flags.CalibrationRequested,
		CalibrationOffsetDone:     st.Flags.CalibrationOffsetDone,
		AwaitingCalibrationWeight: st.Flags.AwaitingCalibrationWeight,
		AwaitingSchedule:          st.Flags.AwaitingSchedule,
		AwaitingSamplingInterval:  st.Flags.AwaitingSamplingInterval,
	})
	if next != t.current {
		log.Printf("sensor: %s -> %s", t.current, next)
		t.current = next
		t.lastLog = time.Time{}
		if t.cfg.Tracker != nil {
			t.cfg.Tracker.SetSensorState(next)
		}
	}

	switch {
	case next == logic.SensorAwaitInit:
		return t.cfg.Sleep(ctx, InitPoll)
	case next == logic.SensorCalibrating:
		return t.calibrate(ctx)
	case next == logic.SensorMeasuring:
		return t.measure(ctx, st.Envio.SamplingIntervalMS)
	case next.Waiting():
		now := t.cfg.Now()
		if t.lastLog.IsZero() || now.Sub(t.lastLog) >= WaitLogInterval {
			log.Printf("sensor: waiting (%s)", next)
			t.lastLog = now
		}
		return t.cfg.Sleep(ctx, WaitPoll)
	}
	return nil
}

func (t *Task) calibrate(ctx context.Context) error {
	if t.cfg.Calibrator == nil {
		return t.abortCalibration(ctx, errors.New("no calibrator"))
	}
	offset, err := t.cfg.Calibrator.Offset(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return t.abortCalibration(ctx, err)
	}
	if err := t.cfg.State.UpdateFlags(ctx, func(f *state.Flags) {
		f.CalibrationOffsetDone = true
		f.AwaitingCalibrationWeight = true
	}); err != nil {
		return fmt.Errorf("calibration flags: %w", err)
	}
	t.notify(fmt.Sprintf("Offset calculated: %d. Place the 1 kg mass and send command 8", offset))
	if t.cfg.Notifier != nil {
		t.cfg.Notifier.Connection(mqtt.ConnOn1)
	}
	return nil
}

// abortCalibration drops the request so the task does not retry forever.
func (t *Task) abortCalibration(ctx context.Context, cause error) error {
	t.notify("Error: calibration failed: " + cause.Error())
	if err := t.cfg.State.UpdateFlags(ctx, func(f *state.Flags) {
		f.CalibrationRequested = false
		f.CalibrationOffsetDone = false
	}); err != nil {
		return errors.Join(cause, err)
	}
	return fmt.Errorf("calibration: %w", cause)
}

func (t *Task) measure(ctx context.Context, intervalMS uint32) error {
	now := t.cfg.Now()
	kg, err := t.cfg.Sensor.ReadWeight()
	if err != nil {
		log.Printf("sensor: read weight: %v", err)
	}

	if err == nil && kg > ErrorThreshold {
		t.record(ctx, now, kg)
	}

	return t.cfg.Sleep(ctx, time.Duration(intervalMS)*time.Millisecond)
}

func (t *Task) record(ctx context.Context, now time.Time, kg float32) {
	mv := 0
	if t.cfg.Gauge != nil {
		v, err := t.cfg.Gauge.VoltageMV()
		if err != nil {
			log.Printf("sensor: battery: %v", err)
		} else {
			mv = v
			if t.cfg.Tracker != nil {
				t.cfg.Tracker.SetBattery(mv)
			}
		}
	}

	if t.cfg.Log != nil {
		err := t.cfg.Log.WithLock(ctx, LogLockWait, func(tx *telemetry.Tx) error {
			if err := tx.AppendWeight(ctx, now, kg); err != nil {
				return err
			}
			return tx.AppendVoltage(ctx, now, mv)
		})
		switch {
		case errors.Is(err, telemetry.ErrBusy):
			log.Printf("sensor: log busy, skipping measurement")
			return
		case err != nil:
			log.Printf("sensor: log write: %v", err)
			return
		}
	}

	log.Printf("sensor: weight %.2f kg", kg)
	if t.cfg.Tracker != nil {
		t.cfg.Tracker.RecordWeight(now, kg)
	}
}

func (t *Task) notify(msg string) {
	if t.cfg.Notifier != nil {
		t.cfg.Notifier.Status(msg)
		return
	}
	log.Printf("sensor: %s", msg)
}
