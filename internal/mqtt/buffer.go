package mqtt

import (
	"log"
	"sync"
)

// DefaultBufferSize is the number of announcements held while offline.
const DefaultBufferSize = 32

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that stores messages while disconnected.
// Not safe for concurrent use; the caller synchronizes.
type ringBuffer struct {
	buf      []bufferedMsg
	capacity int
	head     int // next write position
	count    int
	overflow bool // true if any message was dropped since last drain
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		buf:      make([]bufferedMsg, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if r.count == r.capacity {
		if !r.overflow {
			log.Printf("mqtt: announcement buffer full (%d messages), dropping oldest", r.capacity)
			r.overflow = true
		}
		r.buf[r.head] = msg
		r.head = (r.head + 1) % r.capacity
		return
	}
	r.buf[r.head] = msg
	r.head = (r.head + 1) % r.capacity
	r.count++
}

func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}

	result := make([]bufferedMsg, r.count)
	// Oldest item is at (head - count) mod capacity
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		result[i] = r.buf[(start+i)%r.capacity]
	}

	r.count = 0
	r.head = 0
	r.overflow = false
	return result
}

func (r *ringBuffer) len() int {
	return r.count
}

// Announcer publishes operator-facing status and connection messages.
// Messages produced while the session is down are held in a ring buffer
// and replayed, oldest first, by Flush.
type Announcer struct {
	client Client
	topics Topics

	mu  sync.Mutex
	buf *ringBuffer
}

// NewAnnouncer creates an Announcer holding up to DefaultBufferSize messages.
func NewAnnouncer(client Client, topics Topics) *Announcer {
	return &Announcer{
		client: client,
		topics: topics,
		buf:    newRingBuffer(DefaultBufferSize),
	}
}

// Status publishes msg on the status topic.
func (a *Announcer) Status(msg string) {
	log.Printf("status: %s", msg)
	a.send(bufferedMsg{topic: a.topics.Status(), payload: []byte(msg), qos: 1})
}

// Connection publishes state (ConnOn, ConnOff, ...) on the connection topic.
func (a *Announcer) Connection(state string) {
	a.send(bufferedMsg{topic: a.topics.Connection(), payload: []byte(state), qos: 1})
}

func (a *Announcer) send(m bufferedMsg) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.client.IsConnected() {
		err := a.client.Publish(m.topic, m.qos, m.retained, m.payload)
		if err == nil {
			return
		}
		log.Printf("mqtt: publish %s failed, buffering: %v", m.topic, err)
	}
	a.buf.push(m)
}

// Flush replays buffered messages. It stops at the first failure, keeping
// the unsent remainder, and returns how many were sent.
func (a *Announcer) Flush() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	msgs := a.buf.drainAll()
	for i, m := range msgs {
		if err := a.client.Publish(m.topic, m.qos, m.retained, m.payload); err != nil {
			log.Printf("mqtt: flush stopped after %d messages: %v", i, err)
			for _, rest := range msgs[i:] {
				a.buf.push(rest)
			}
			return i
		}
	}
	if len(msgs) > 0 {
		log.Printf("mqtt: flushed %d buffered announcements", len(msgs))
	}
	return len(msgs)
}

// Pending returns the number of buffered messages.
func (a *Announcer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buf.len()
}
