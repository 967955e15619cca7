package main

import (
	"context"
	"log"
	"os"
	"syscall"
	"time"

	"github.com/sweeney/scale-node/internal/gpio"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/status"
)

// Actions are the button-driven operations.
type Actions interface {
	ToggleConnection(ctx context.Context) bool
	EnterProvisioning(ctx context.Context) bool
}

// lifecycle publishes the retained system events.
type lifecycle struct {
	client  mqtt.Client
	topics  mqtt.Topics
	tracker *status.Tracker
	now     func() time.Time
}

func (l *lifecycle) publish(event, reason string) error {
	if !l.client.IsConnected() {
		return mqtt.ErrNotConnected
	}
	ev := mqtt.SystemEvent{Timestamp: l.now(), Event: event, Reason: reason}
	if l.tracker != nil {
		l.tracker.SetMQTTConnected(true)
		ev.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), event, reason)
	}
	payload, err := mqtt.FormatSystemPayload(ev)
	if err != nil {
		return err
	}
	return l.client.Publish(l.topics.System(), 1, true, payload)
}

// runLoop polls the button on every tick and dispatches gestures until a
// signal arrives or ctx is cancelled, then publishes SHUTDOWN.
func runLoop(ctx context.Context, reader gpio.Reader, button *logic.Button, actions Actions, events *lifecycle, tracker *status.Tracker, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	var counts logic.GestureCounts

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			shutdown(events, signalName(s))
			return nil

		case <-ctx.Done():
			log.Printf("restart requested, shutting down")
			shutdown(events, "RESTART")
			return nil

		case <-tick:
			pressed, err := reader.Pressed()
			if err != nil {
				log.Printf("gpio read error: %v", err)
				continue
			}
			g := button.Process(pressed, now())
			if g == logic.GestureNone {
				continue
			}
			log.Printf("button: %s", g)
			counts.Add(g)
			if tracker != nil {
				tracker.SetGestures(counts)
			}

			var started bool
			switch g {
			case logic.GestureSingleClick:
				started = actions.ToggleConnection(ctx)
			case logic.GestureDoubleClick, logic.GestureLongPress:
				started = actions.EnterProvisioning(ctx)
			}
			if !started {
				log.Printf("button: %s ignored, action in progress", g)
			}
		}
	}
}

func shutdown(events *lifecycle, reason string) {
	if events == nil {
		return
	}
	if err := events.publish("SHUTDOWN", reason); err != nil {
		log.Printf("failed to publish shutdown event: %v", err)
	} else {
		log.Printf("published shutdown event")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
