package mqtt

import (
	"context"
	"sync"
)

// Published is a message recorded by FakeClient.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient records broker traffic for test assertions.
type FakeClient struct {
	mu sync.Mutex

	// Published contains every successful publish, in order.
	Published []Published

	// Connected controls the return value of IsConnected.
	Connected bool

	// ConnectError, if set, is returned by Connect.
	ConnectError error

	// ConnectCalls and DisconnectCalls count session operations.
	ConnectCalls    int
	DisconnectCalls int

	// PublishError, if set, is returned by Publish.
	PublishError error

	// FailAfter, if > 0, drops the session once that many publishes
	// succeeded: later publishes return ErrNotConnected.
	FailAfter int

	subs map[string]Handler
}

// NewFakeClient creates a FakeClient for testing.
func NewFakeClient() *FakeClient {
	return &FakeClient{subs: make(map[string]Handler)}
}

func (f *FakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ConnectCalls++
	if f.ConnectError != nil {
		return f.ConnectError
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.Connected = true
	return nil
}

func (f *FakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DisconnectCalls++
	f.Connected = false
}

func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *FakeClient) SetConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connected = c
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	if !f.Connected {
		return ErrNotConnected
	}
	f.Published = append(f.Published, Published{Topic: topic, QoS: qos, Retained: retained, Payload: payload})
	if f.FailAfter > 0 && len(f.Published) >= f.FailAfter {
		f.Connected = false
		f.FailAfter = 0
	}
	return nil
}

func (f *FakeClient) Subscribe(topic string, h Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

// Deliver simulates an inbound message. It reports whether a handler
// was subscribed to topic.
func (f *FakeClient) Deliver(topic string, payload string) bool {
	f.mu.Lock()
	h, ok := f.subs[topic]
	f.mu.Unlock()
	if !ok {
		return false
	}
	h(Message{Topic: topic, Payload: []byte(payload)})
	return true
}

// Messages returns a copy of the messages published on topic.
func (f *FakeClient) Messages(topic string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.Published {
		if p.Topic == topic {
			out = append(out, string(p.Payload))
		}
	}
	return out
}

// Reset clears recorded traffic and injected errors.
func (f *FakeClient) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Published = nil
	f.ConnectCalls = 0
	f.DisconnectCalls = 0
	f.ConnectError = nil
	f.PublishError = nil
	f.FailAfter = 0
}
