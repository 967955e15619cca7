package command

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/scale-node/internal/journal"
	"github.com/sweeney/scale-node/internal/mqtt"
)

// InboxSize bounds the messages waiting for the worker.
const InboxSize = 16

// Journal records handled commands.
type Journal interface {
	RecordCommand(ctx context.Context, c journal.Command) error
}

// Router feeds inbound broker messages to a Handler one at a time, so a
// command and the payload that answers it are handled in arrival order.
type Router struct {
	Handler *Handler
	Journal Journal
	Now     func() time.Time

	inbox chan mqtt.Message
}

// NewRouter creates a Router. j may be nil.
func NewRouter(h *Handler, j Journal) *Router {
	return &Router{
		Handler: h,
		Journal: j,
		Now:     time.Now,
		inbox:   make(chan mqtt.Message, InboxSize),
	}
}

// Subscribe registers the router for every inbound topic.
func (r *Router) Subscribe(client mqtt.Client) error {
	for _, topic := range r.Handler.Topics.Inbound() {
		if err := client.Subscribe(topic, r.Enqueue); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue queues msg without blocking. It is the mqtt.Handler passed to
// Subscribe.
func (r *Router) Enqueue(msg mqtt.Message) {
	select {
	case r.inbox <- msg:
	default:
		log.Printf("command: inbox full, dropping message on %s", msg.Topic)
	}
}

// Run handles queued messages until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-r.inbox:
			r.handle(ctx, msg)
		}
	}
}

func (r *Router) handle(ctx context.Context, msg mqtt.Message) {
	at := r.Now()
	resp, err := r.Handler.Handle(ctx, msg.Topic, string(msg.Payload))
	if r.Journal == nil {
		return
	}
	c := journal.Command{
		At:       at,
		Topic:    msg.Topic,
		Payload:  string(msg.Payload),
		Response: resp,
	}
	if err != nil {
		c.Err = err.Error()
	}
	if jerr := r.Journal.RecordCommand(ctx, c); jerr != nil {
		log.Printf("command: %v", jerr)
	}
}
