package command

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sweeney/scale-node/internal/journal"
	"github.com/sweeney/scale-node/internal/mqtt"
)

func TestRouterHandlesInOrderAndJournals(t *testing.T) {
	f := newFixture(t)
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })

	client := mqtt.NewFakeClient()
	r := NewRouter(f.h, j)
	if err := r.Subscribe(client); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Queue before the worker starts: order must be preserved.
	client.Deliver(f.h.Topics.Command(), "2")
	client.Deliver(f.h.Topics.SetSchedule(), "5000")
	client.Deliver(f.h.Topics.Command(), "5")
	if client.Deliver("halo/unknown", "x") {
		t.Error("router subscribed to an unexpected topic")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var cmds []journal.Command
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cmds, err = j.Commands(context.Background(), 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(cmds) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	if len(cmds) != 3 {
		t.Fatalf("journaled %d commands, want 3", len(cmds))
	}
	// Newest first.
	if cmds[2].Payload != "2" || cmds[1].Payload != "5000" || cmds[0].Payload != "5" {
		t.Errorf("order = %q %q %q", cmds[2].Payload, cmds[1].Payload, cmds[0].Payload)
	}
	if cmds[1].Err != "" {
		t.Errorf("5000 failed: %s", cmds[1].Err)
	}
	if cmds[0].Err == "" {
		t.Error("unknown command journaled without an error")
	}

	st, _ := f.store.Snapshot(context.Background())
	if st.Envio.SamplingIntervalMS != 5000 {
		t.Errorf("interval = %d, want 5000", st.Envio.SamplingIntervalMS)
	}
}

func TestRouterDropsWhenFull(t *testing.T) {
	f := newFixture(t)
	r := NewRouter(f.h, nil)
	for i := 0; i < InboxSize+5; i++ {
		r.Enqueue(mqtt.Message{Topic: f.h.Topics.Command(), Payload: []byte("7")})
	}
	if got := len(r.inbox); got != InboxSize {
		t.Errorf("inbox = %d, want %d", got, InboxSize)
	}
}
