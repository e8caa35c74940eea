package mirror

import "sync"

// Message is one payload recorded by FakePublisher.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

// FakePublisher records published payloads for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	messages []Message
	closed   bool

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Disconnected makes IsConnected report false.
	Disconnected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the payload.
func (f *FakePublisher) Publish(topic string, payload []byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{Topic: topic, Payload: payload, Retained: retained})
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// IsConnected reports true until Close is called or Disconnected is set.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed && !f.Disconnected
}

// Messages returns a copy of everything published so far.
func (f *FakePublisher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.messages))
	copy(out, f.messages)
	return out
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
