// Package mirror republishes simulated lab activity to a real MQTT broker so a
// classroom dashboard can follow along. The simulation never depends on it.
package mirror

import (
	"context"
	"log"
	"sync"

	"github.com/zhouzirui/doorbell-lab/backend/internal/model/simulation"
	labsim "github.com/zhouzirui/doorbell-lab/backend/internal/service/simulation"
)

// Publisher publishes raw payloads to MQTT.
type Publisher interface {
	// Publish sends payload to topic. Returns error if publishing fails
	// (should not crash the process).
	Publish(topic string, payload []byte, retained bool) error

	// Close disconnects from the broker.
	Close() error

	// IsConnected reports whether the broker connection is up.
	IsConnected() bool
}

// Recorder observes publish results and queue overflow.
type Recorder interface {
	ObserveMirrorPublish(err error)
	ObserveMirrorDropped()
}

type outgoing struct {
	topic    string
	payload  []byte
	retained bool
}

// Mirror queues events and state snapshots and publishes them from a single
// goroutine, so observers of the choreographer never block on the network.
type Mirror struct {
	pub      Publisher
	prefix   string
	queue    chan outgoing
	recorder Recorder

	mu     sync.Mutex
	closed bool
}

// New creates a mirror publishing under prefix. Call Run to start publishing.
func New(pub Publisher, prefix string, recorder Recorder) *Mirror {
	return &Mirror{
		pub:      pub,
		prefix:   prefix,
		queue:    make(chan outgoing, 64),
		recorder: recorder,
	}
}

// EventsTopic is where choreography events go.
func (m *Mirror) EventsTopic() string { return m.prefix + "/events" }

// StateTopic carries the latest snapshot, retained.
func (m *Mirror) StateTopic() string { return m.prefix + "/state" }

// OnEvent implements simulation.Observer.
func (m *Mirror) OnEvent(ev labsim.Event) {
	payload, err := FormatEventPayload(ev)
	if err != nil {
		log.Printf("[mirror] format event: %v", err)
		return
	}
	m.enqueue(outgoing{topic: m.EventsTopic(), payload: payload})
}

// StateChanged is meant to be subscribed to the simulation store.
func (m *Mirror) StateChanged(s simulation.State) {
	payload, err := FormatStatePayload(s)
	if err != nil {
		log.Printf("[mirror] format state: %v", err)
		return
	}
	m.enqueue(outgoing{topic: m.StateTopic(), payload: payload, retained: true})
}

func (m *Mirror) enqueue(msg outgoing) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	select {
	case m.queue <- msg:
	default:
		log.Printf("[mirror] queue full, dropping message for %s", msg.topic)
		if m.recorder != nil {
			m.recorder.ObserveMirrorDropped()
		}
	}
}

// Connected reports whether the publisher still reaches the broker. It is
// false once Run has shut the mirror down.
func (m *Mirror) Connected() bool {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	return !closed && m.pub.IsConnected()
}

// Run publishes queued messages until ctx is done, then drains what is left
// and closes the publisher.
func (m *Mirror) Run(ctx context.Context) {
	for {
		select {
		case msg := <-m.queue:
			m.publish(msg)
		case <-ctx.Done():
			m.mu.Lock()
			m.closed = true
			m.mu.Unlock()

			for {
				select {
				case msg := <-m.queue:
					m.publish(msg)
				default:
					if err := m.pub.Close(); err != nil {
						log.Printf("[mirror] close: %v", err)
					}
					return
				}
			}
		}
	}
}

func (m *Mirror) publish(msg outgoing) {
	err := m.pub.Publish(msg.topic, msg.payload, msg.retained)
	if err != nil {
		log.Printf("[mirror] publish %s: %v", msg.topic, err)
	}
	if m.recorder != nil {
		m.recorder.ObserveMirrorPublish(err)
	}
}
