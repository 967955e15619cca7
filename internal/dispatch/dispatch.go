// Package dispatch runs the daily sync: once per calendar day, after the
// scheduled time, it connects, publishes every logged record beyond the
// cursor and disconnects again.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/scale-node/internal/backoff"
	"github.com/sweeney/scale-node/internal/connection"
	"github.com/sweeney/scale-node/internal/journal"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/telemetry"
)

// Task pacing.
const (
	PollInterval    = time.Second
	NoDataWait      = time.Hour
	Stabilize       = 2 * time.Second
	RecordGap       = 100 * time.Millisecond
	Cooldown        = 10 * time.Minute
	LogLockWait     = time.Second
	WaitLogInterval = 30 * time.Second
)

// ErrConnectionLost stops a stream when the broker session drops.
var ErrConnectionLost = errors.New("dispatch: broker connection lost")

// Journal records finished passes.
type Journal interface {
	RecordDispatch(ctx context.Context, d journal.Dispatch) error
}

// Config wires a Task. Journal and Tracker may be nil.
type Config struct {
	State   *state.Store
	Log     *telemetry.Log
	Session *connection.Session
	Journal Journal
	Tracker *status.Tracker
	Now     func() time.Time
	Sleep   backoff.SleepFunc
}

// Task is the sync state machine.
type Task struct {
	cfg     Config
	current logic.SyncState
	lastLog time.Time

	pass journal.Dispatch
}

// NewTask creates a Task in AwaitInit.
func NewTask(cfg Config) *Task {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = backoff.Sleep
	}
	return &Task{cfg: cfg, current: logic.SyncAwaitInit}
}

// State returns the current state.
func (t *Task) State() logic.SyncState { return t.current }

// Run steps the task until ctx is cancelled.
func (t *Task) Run(ctx context.Context) error {
	log.Printf("dispatch: task started")
	for {
		if err := t.Step(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("dispatch: task stopped")
				return ctx.Err()
			}
			log.Printf("dispatch: %v", err)
		}
	}
}

// Step runs the current state's action and applies the resulting event.
func (t *Task) Step(ctx context.Context) error {
	var (
		ev  logic.SyncEvent
		err error
	)
	switch t.current {
	case logic.SyncAwaitInit:
		ev, err = t.awaitInit(ctx)
	case logic.SyncAwaitDispatchWindow:
		ev, err = t.awaitWindow(ctx)
	case logic.SyncConnectingWifi:
		ev, err = t.connectWiFi(ctx)
	case logic.SyncConnectingBroker:
		ev, err = t.connectBroker(ctx)
	case logic.SyncSending:
		ev, err = t.send(ctx)
	case logic.SyncFinalizing:
		ev, err = t.finalize(ctx)
	case logic.SyncBackoffWait:
		ev, err = t.cooldown(ctx)
	}
	t.apply(ev)
	return err
}

func (t *Task) apply(ev logic.SyncEvent) {
	next := logic.NextSyncState(t.current, ev)
	if next == t.current {
		return
	}
	log.Printf("dispatch: %s -> %s (%s)", t.current, next, ev)
	t.current = next
	if t.cfg.Tracker != nil {
		t.cfg.Tracker.SetSyncState(next)
	}
}

func (t *Task) awaitInit(ctx context.Context) (logic.SyncEvent, error) {
	st, err := t.cfg.State.Snapshot(ctx)
	if err == nil && st.Flags.SystemReady {
		return logic.SyncEventReady, nil
	}
	return logic.SyncEventNone, t.cfg.Sleep(ctx, PollInterval)
}

func (t *Task) awaitWindow(ctx context.Context) (logic.SyncEvent, error) {
	st, err := t.cfg.State.Snapshot(ctx)
	if err != nil {
		return logic.SyncEventNone, errors.Join(err, t.cfg.Sleep(ctx, PollInterval))
	}
	now := t.cfg.Now()
	sched := schedule(st.Envio)
	if !logic.DispatchEligible(now, st.Envio.LastDispatchDay, sched) {
		if t.lastLog.IsZero() || now.Sub(t.lastLog) >= WaitLogInterval {
			log.Printf("dispatch: waiting for %s (now %s)", sched, now.Format("15:04"))
			t.lastLog = now
		}
		return logic.SyncEventNone, t.cfg.Sleep(ctx, PollInterval)
	}

	pending, err := t.hasPending(ctx, st.Envio.LastSentIndex)
	if err != nil {
		return logic.SyncEventNone, errors.Join(err, t.cfg.Sleep(ctx, PollInterval))
	}
	if !pending {
		log.Printf("dispatch: nothing to send, skipping today")
		if err := t.cfg.State.MarkDispatched(ctx, now.Day()); err != nil {
			return logic.SyncEventNone, err
		}
		t.record(ctx, journal.Dispatch{
			Started:  now,
			Finished: now,
			Cursor:   st.Envio.LastSentIndex,
			Outcome:  journal.OutcomeNoData,
		})
		return logic.SyncEventNone, t.cfg.Sleep(ctx, NoDataWait)
	}

	t.pass = journal.Dispatch{Started: now, Cursor: st.Envio.LastSentIndex}
	return logic.SyncEventDue, nil
}

func (t *Task) hasPending(ctx context.Context, cursor uint32) (bool, error) {
	if t.cfg.Log == nil {
		return false, nil
	}
	var pending bool
	err := t.cfg.Log.WithLock(ctx, LogLockWait, func(tx *telemetry.Tx) error {
		var err error
		pending, err = tx.HasPending(cursor)
		return err
	})
	return pending, err
}

func (t *Task) connectWiFi(ctx context.Context) (logic.SyncEvent, error) {
	if err := t.cfg.Session.ConnectWiFi(ctx); err != nil {
		t.fail(ctx, journal.OutcomeWifiFail, err)
		return logic.SyncEventFailed, err
	}
	return logic.SyncEventConnected, nil
}

func (t *Task) connectBroker(ctx context.Context) (logic.SyncEvent, error) {
	if err := t.cfg.Session.ConnectBroker(ctx); err != nil {
		// Wi-Fi stays up for the next attempt.
		t.fail(ctx, journal.OutcomeBrokerFail, err)
		return logic.SyncEventFailed, err
	}
	if err := t.cfg.Sleep(ctx, Stabilize); err != nil {
		return logic.SyncEventNone, err
	}
	return logic.SyncEventConnected, nil
}

func (t *Task) send(ctx context.Context) (logic.SyncEvent, error) {
	st, err := t.cfg.State.Snapshot(ctx)
	if err != nil {
		t.fail(ctx, journal.OutcomeAborted, err)
		return logic.SyncEventFailed, err
	}
	cursor := st.Envio.LastSentIndex
	cutoff := logic.DispatchCutoff(t.cfg.Now(), schedule(st.Envio))

	client := t.cfg.Session.Client
	topic := t.cfg.Session.Topics.WeightData()
	err = t.cfg.Log.WithLock(ctx, LogLockWait, func(tx *telemetry.Tx) error {
		n, err := tx.Pending(cursor, cutoff)
		if err != nil {
			return err
		}
		log.Printf("dispatch: %d records pending from %d", n, cursor)
		return tx.Stream(cursor, n, func(rec telemetry.Record) error {
			if !client.IsConnected() {
				return ErrConnectionLost
			}
			if mqtt.WeightPublishable(rec.Weight) {
				payload, err := mqtt.FormatWeight(rec.Time, rec.Weight)
				if err != nil {
					return err
				}
				if err := client.Publish(topic, 1, false, payload); err != nil {
					return fmt.Errorf("publish record %d: %w", rec.Index, err)
				}
				t.pass.Sent++
			} else {
				log.Printf("dispatch: record %d weight %.2f out of range, skipping", rec.Index, rec.Weight)
			}
			if err := t.cfg.State.AdvanceCursor(ctx, rec.Index+1); err != nil {
				if errors.Is(err, state.ErrCursorRegression) {
					return err
				}
				log.Printf("dispatch: %v", err)
			}
			return t.cfg.Sleep(ctx, RecordGap)
		})
	})
	t.mirror(ctx)
	if err != nil {
		t.fail(ctx, journal.OutcomeAborted, err)
		return logic.SyncEventFailed, fmt.Errorf("send: %w", err)
	}
	return logic.SyncEventDone, nil
}

func (t *Task) finalize(ctx context.Context) (logic.SyncEvent, error) {
	s := t.cfg.Session
	if s.Announcer != nil {
		s.Announcer.Status("data sent")
	}
	var errs []error
	if err := t.cfg.State.CommitCursor(ctx); err != nil {
		errs = append(errs, fmt.Errorf("commit cursor: %w", err))
	}
	now := t.cfg.Now()
	if err := t.cfg.State.MarkDispatched(ctx, now.Day()); err != nil {
		errs = append(errs, fmt.Errorf("stamp day: %w", err))
	}
	s.Disconnect()

	log.Printf("dispatch: pass complete, %d records sent", t.pass.Sent)
	if t.cfg.Tracker != nil {
		t.cfg.Tracker.RecordDispatch(now, t.pass.Sent)
	}
	t.pass.Outcome = journal.OutcomeSent
	t.pass.Finished = now
	if st, err := t.cfg.State.Snapshot(ctx); err == nil {
		t.pass.Cursor = st.Envio.LastSentIndex
	}
	t.record(ctx, t.pass)
	t.pass = journal.Dispatch{}
	return logic.SyncEventDone, errors.Join(errs...)
}

func (t *Task) cooldown(ctx context.Context) (logic.SyncEvent, error) {
	log.Printf("dispatch: retrying in %v", Cooldown)
	if err := t.cfg.Sleep(ctx, Cooldown); err != nil {
		return logic.SyncEventNone, err
	}
	return logic.SyncEventDone, nil
}

func (t *Task) fail(ctx context.Context, outcome string, cause error) {
	t.pass.Finished = t.cfg.Now()
	t.pass.Outcome = outcome
	t.pass.Detail = cause.Error()
	if st, err := t.cfg.State.Snapshot(ctx); err == nil {
		t.pass.Cursor = st.Envio.LastSentIndex
	}
	t.record(ctx, t.pass)
	t.pass = journal.Dispatch{}
}

func (t *Task) record(ctx context.Context, d journal.Dispatch) {
	if t.cfg.Journal == nil {
		return
	}
	if err := t.cfg.Journal.RecordDispatch(ctx, d); err != nil {
		log.Printf("dispatch: %v", err)
	}
}

func (t *Task) mirror(ctx context.Context) {
	if t.cfg.Tracker == nil {
		return
	}
	if st, err := t.cfg.State.Snapshot(ctx); err == nil {
		t.cfg.Tracker.SetEnvio(st.Envio.LastSentIndex, schedule(st.Envio), st.Envio.SamplingIntervalMS)
	}
}

func schedule(e state.Envio) logic.Schedule {
	return logic.Schedule{Hour: e.DispatchHour, Minute: e.DispatchMinute}
}
