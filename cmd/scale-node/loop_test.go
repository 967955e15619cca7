package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/scale-node/internal/gpio"
	"github.com/sweeney/scale-node/internal/logic"
	"github.com/sweeney/scale-node/internal/mqtt"
	"github.com/sweeney/scale-node/internal/status"
)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// press returns held pressed samples followed by idle released samples.
func press(held, idle int) []bool {
	out := make([]bool, 0, held+idle)
	for i := 0; i < held; i++ {
		out = append(out, true)
	}
	for i := 0; i < idle; i++ {
		out = append(out, false)
	}
	return out
}

type fakeActions struct {
	mu         sync.Mutex
	toggles    int
	provisions int
	busy       bool
}

func (a *fakeActions) ToggleConnection(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.toggles++
	return !a.busy
}

func (a *fakeActions) EnterProvisioning(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provisions++
	return !a.busy
}

type loopResult struct {
	actions *fakeActions
	client  *mqtt.FakeClient
	tracker *status.Tracker
	err     error
}

// runRunLoop drives runLoop through the samples at 50ms per tick, then
// stops it with signal.
func runRunLoop(t *testing.T, reader gpio.Reader, nTicks int, signal os.Signal) loopResult {
	t.Helper()
	res := loopResult{
		actions: &fakeActions{},
		client:  mqtt.NewFakeClient(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
	}
	res.client.SetConnected(true)
	clock := fakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), 50*time.Millisecond)
	events := &lifecycle{client: res.client, topics: mqtt.NewTopics(""), tracker: res.tracker, now: clock}

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), reader, logic.NewButton(logic.DefaultButtonTiming()),
			res.actions, events, res.tracker, clock, tick, sig)
	}()
	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal
	res.err = <-errCh
	return res
}

func shutdownReason(t *testing.T, c *mqtt.FakeClient) string {
	t.Helper()
	msgs := c.Messages(mqtt.NewTopics("").System())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(msgs))
	}
	var p struct {
		Status struct {
			Event  string `json:"event"`
			Reason string `json:"reason"`
		} `json:"status"`
	}
	if err := json.Unmarshal([]byte(msgs[0]), &p); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.Status.Event != "SHUTDOWN" {
		t.Errorf("event = %q, want SHUTDOWN", p.Status.Event)
	}
	return p.Status.Reason
}

func TestRunLoopSingleClickToggles(t *testing.T) {
	samples := press(4, 30)
	res := runRunLoop(t, gpio.NewFakeReader(samples), len(samples), syscall.SIGTERM)
	if res.err != nil {
		t.Fatalf("runLoop: %v", res.err)
	}
	if res.actions.toggles != 1 || res.actions.provisions != 0 {
		t.Errorf("toggles=%d provisions=%d, want 1/0", res.actions.toggles, res.actions.provisions)
	}
	if got := res.tracker.Snapshot().Gestures.SingleClick; got != 1 {
		t.Errorf("SingleClick count = %d, want 1", got)
	}
}

func TestRunLoopDoubleClickProvisions(t *testing.T) {
	samples := append(press(4, 4), press(4, 10)...)
	res := runRunLoop(t, gpio.NewFakeReader(samples), len(samples), syscall.SIGTERM)
	if res.actions.provisions != 1 || res.actions.toggles != 0 {
		t.Errorf("toggles=%d provisions=%d, want 0/1", res.actions.toggles, res.actions.provisions)
	}
}

func TestRunLoopLongPressProvisions(t *testing.T) {
	// 5s at 50ms per tick, plus debounce.
	samples := press(110, 5)
	res := runRunLoop(t, gpio.NewFakeReader(samples), len(samples), syscall.SIGTERM)
	if res.actions.provisions != 1 {
		t.Errorf("provisions = %d, want 1", res.actions.provisions)
	}
	if got := res.tracker.Snapshot().Gestures.LongPress; got != 1 {
		t.Errorf("LongPress count = %d, want 1", got)
	}
}

func TestRunLoopReadErrorContinues(t *testing.T) {
	reader := gpio.NewFakeReader([]bool{false})
	reader.ReadError = errors.New("gpio fault")
	res := runRunLoop(t, reader, 5, syscall.SIGTERM)
	if res.err != nil {
		t.Fatalf("runLoop: %v", res.err)
	}
	if reader.Reads != 5 {
		t.Errorf("Reads = %d, want 5", reader.Reads)
	}
}

func TestRunLoopShutdownReasons(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		res := runRunLoop(t, gpio.NewFakeReader([]bool{false}), 1, tt.sig)
		if got := shutdownReason(t, res.client); got != tt.want {
			t.Errorf("%v: reason = %q, want %q", tt.sig, got, tt.want)
		}
		p := res.client.Published[len(res.client.Published)-1]
		if !p.Retained {
			t.Error("SHUTDOWN must be retained")
		}
	}
}

func TestRunLoopRestartPublishesShutdown(t *testing.T) {
	client := mqtt.NewFakeClient()
	client.SetConnected(true)
	events := &lifecycle{client: client, topics: mqtt.NewTopics(""), now: time.Now}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := runLoop(ctx, gpio.NewFakeReader([]bool{false}), logic.NewButton(logic.DefaultButtonTiming()),
		&fakeActions{}, events, nil, time.Now, make(chan time.Time), make(chan os.Signal))
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	var p mqtt.SystemPayload
	msgs := client.Messages(events.topics.System())
	if len(msgs) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(msgs))
	}
	if err := json.Unmarshal([]byte(msgs[0]), &p); err != nil {
		t.Fatal(err)
	}
	if p.System.Event != "SHUTDOWN" || p.System.Reason != "RESTART" {
		t.Errorf("event = %+v", p.System)
	}
}

func TestRunLoopOfflineSkipsShutdownEvent(t *testing.T) {
	client := mqtt.NewFakeClient()
	events := &lifecycle{client: client, topics: mqtt.NewTopics(""), now: time.Now}
	sig := make(chan os.Signal, 1)
	sig <- syscall.SIGTERM
	err := runLoop(context.Background(), gpio.NewFakeReader([]bool{false}), logic.NewButton(logic.DefaultButtonTiming()),
		&fakeActions{}, events, nil, time.Now, make(chan time.Time), sig)
	if err != nil {
		t.Fatalf("runLoop: %v", err)
	}
	if len(client.Published) != 0 {
		t.Errorf("published %d messages while offline", len(client.Published))
	}
}
