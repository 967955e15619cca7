package mqtt

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Options configures a RealClient.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// WillTopic, if set, receives WillPayload (retained) when the session
	// drops without a clean disconnect.
	WillTopic   string
	WillPayload []byte

	// PublishTimeout bounds the wait for a publish acknowledgement.
	PublishTimeout time.Duration

	// OnConnectionChange, if set, is called on connect and on connection loss.
	OnConnectionChange func(connected bool)
}

// RealClient is a broker session over paho. A fresh paho client is built
// for each Connect so that a session closed with Disconnect can be reopened.
type RealClient struct {
	opts Options

	mu     sync.Mutex
	client paho.Client
	subs   map[string]Handler
}

// NewRealClient creates an unconnected client.
func NewRealClient(opts Options) *RealClient {
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	return &RealClient{opts: opts, subs: make(map[string]Handler)}
}

func (c *RealClient) newPaho() paho.Client {
	o := paho.NewClientOptions().
		AddBroker(c.opts.Broker).
		SetClientID(c.opts.ClientID).
		SetUsername(c.opts.Username).
		SetPassword(c.opts.Password).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(false)

	if c.opts.WillTopic != "" {
		o.SetBinaryWill(c.opts.WillTopic, c.opts.WillPayload, 1, true)
	}

	o.SetOnConnectHandler(func(pc paho.Client) {
		log.Printf("mqtt: connected to %s", c.opts.Broker)
		c.resubscribe(pc)
		if c.opts.OnConnectionChange != nil {
			c.opts.OnConnectionChange(true)
		}
	})
	o.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("mqtt: connection lost: %v", err)
		if c.opts.OnConnectionChange != nil {
			c.opts.OnConnectionChange(false)
		}
	})
	return paho.NewClient(o)
}

// Connect opens a session. It gives up when ctx is done.
func (c *RealClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client != nil && c.client.IsConnected() {
		c.mu.Unlock()
		return nil
	}
	pc := c.newPaho()
	c.client = pc
	c.mu.Unlock()

	token := pc.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		pc.Disconnect(0)
		return fmt.Errorf("connect to broker: %w", ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// Disconnect closes the session, allowing 1 second for in-flight work.
func (c *RealClient) Disconnect() {
	c.mu.Lock()
	pc := c.client
	c.client = nil
	c.mu.Unlock()
	if pc != nil && pc.IsConnectionOpen() {
		pc.Disconnect(1000)
		if c.opts.OnConnectionChange != nil {
			c.opts.OnConnectionChange(false)
		}
	}
}

func (c *RealClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil && c.client.IsConnectionOpen()
}

// Publish sends payload. For QoS > 0 it waits for the acknowledgement.
func (c *RealClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	pc := c.client
	c.mu.Unlock()
	if pc == nil || !pc.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := pc.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.opts.PublishTimeout) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe registers h. If a session is open the subscription is made
// immediately; otherwise on the next connect.
func (c *RealClient) Subscribe(topic string, h Handler) error {
	c.mu.Lock()
	c.subs[topic] = h
	pc := c.client
	c.mu.Unlock()

	if pc == nil || !pc.IsConnectionOpen() {
		return nil
	}
	return subscribe(pc, topic, h)
}

func (c *RealClient) resubscribe(pc paho.Client) {
	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()

	for t, h := range subs {
		if err := subscribe(pc, t, h); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
}

func subscribe(pc paho.Client, topic string, h Handler) error {
	token := pc.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	return nil
}
