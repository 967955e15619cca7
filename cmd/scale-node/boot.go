package main

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sweeney/scale-node/internal/connection"
	"github.com/sweeney/scale-node/internal/kv"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/state"
	"github.com/sweeney/scale-node/internal/status"
	"github.com/sweeney/scale-node/internal/telemetry"
)

// bootLogWait bounds the pending check at startup.
const bootLogWait = time.Second

// booter runs the startup connection and marks the system ready.
type booter struct {
	state   *state.Store
	session *connection.Session
	log     *telemetry.Log
	events  *lifecycle
	tracker *status.Tracker
	now     func() time.Time
}

// run connects once when networks are stored. The session stays up
// only when a dispatch is due now; otherwise the node goes back to
// being offline. The system is ready afterwards in every case.
func (b *booter) run(ctx context.Context) error {
	defer b.ready(ctx)

	if !b.session.HasCredentials(ctx) {
		log.Printf("boot: no stored networks, starting offline")
		return nil
	}
	if err := b.session.ConnectWiFi(ctx); err != nil {
		log.Printf("boot: %v, starting offline", err)
		return nil
	}
	if err := b.session.ConnectBroker(ctx); err != nil {
		log.Printf("boot: %v, dropping wifi", err)
		b.session.DisconnectQuiet()
		return nil
	}

	if err := b.events.publish("STARTUP", ""); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}
	if err := b.session.PublishInfo(); err != nil {
		log.Printf("boot: publish info: %v", err)
	}

	due, err := b.dispatchDue(ctx)
	if err != nil {
		log.Printf("boot: %v", err)
	}
	if !due {
		b.session.Disconnect()
		return nil
	}

	log.Printf("boot: dispatch due, keeping the session")
	if a := b.session.Announcer; a != nil {
		a.Status("system connected")
		a.Connection(mqtt.ConnOn)
	}
	return b.state.UpdateFlags(ctx, func(f *state.Flags) { f.ManualConnectionActive = true })
}

func (b *booter) dispatchDue(ctx context.Context) (bool, error) {
	if b.log == nil {
		return false, nil
	}
	st, err := b.state.Snapshot(ctx)
	if err != nil {
		return false, err
	}
	sched := logic.Schedule{Hour: st.Envio.DispatchHour, Minute: st.Envio.DispatchMinute}
	if !logic.DispatchEligible(b.now(), st.Envio.LastDispatchDay, sched) {
		return false, nil
	}
	var pending bool
	err = b.log.WithLock(ctx, bootLogWait, func(tx *telemetry.Tx) error {
		pending, err = tx.HasPending(st.Envio.LastSentIndex)
		return err
	})
	return pending, err
}

func (b *booter) ready(ctx context.Context) {
	if err := b.state.UpdateFlags(ctx, func(f *state.Flags) { f.SystemReady = true }); err != nil {
		log.Printf("boot: mark ready: %v", err)
		return
	}
	if b.tracker != nil {
		b.tracker.SetReady(true)
		if st, err := b.state.Snapshot(ctx); err == nil {
			b.tracker.SetEnvio(st.Envio.LastSentIndex,
				logic.Schedule{Hour: st.Envio.DispatchHour, Minute: st.Envio.DispatchMinute},
				st.Envio.SamplingIntervalMS)
		}
	}
	log.Printf("boot: system ready")
}

// seedDefaults writes the configured sampling interval and dispatch
// time into empty slots so that commands keep precedence over the file.
func seedDefaults(ctx context.Context, store kv.Store, st *state.Store, cfg Config) error {
	var ms uint32
	if err := kv.Load(ctx, store, state.KeySamplingMS, &ms); errors.Is(err, kv.ErrNotFound) {
		if err := st.SetSamplingInterval(ctx, cfg.Timing.SamplingMsDefault); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	var hour uint8
	if err := kv.Load(ctx, store, state.KeyDispatchHour, &hour); errors.Is(err, kv.ErrNotFound) {
		h, m, err := cfg.DispatchTime()
		if err != nil {
			return err
		}
		return st.SetDispatchTime(ctx, h, m)
	} else if err != nil {
		return err
	}
	return nil
}
