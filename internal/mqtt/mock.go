package mqtt

import (
	"sort"
	"sync"
)

// Message is a publish recorded by MockTransport
type Message struct {
	Topic    string
	Retained bool
	Payload  string
}

// MockTransport implements Transport for testing
type MockTransport struct {
	mu        sync.Mutex
	handlers  map[string]Handler
	published []Message

	// PublishErr, when set, fails every publish
	PublishErr error
}

// NewMockTransport creates a new mock transport
func NewMockTransport() *MockTransport {
	return &MockTransport{handlers: make(map[string]Handler)}
}

func (m *MockTransport) Subscribe(topic string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = handler
	return nil
}

func (m *MockTransport) Unsubscribe(topics ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range topics {
		delete(m.handlers, t)
	}
	return nil
}

func (m *MockTransport) Publish(topic string, retained bool, payload string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.published = append(m.published, Message{Topic: topic, Retained: retained, Payload: payload})
	return nil
}

// Deliver simulates an inbound message. It returns false when nothing is
// subscribed to topic.
func (m *MockTransport) Deliver(topic, payload string) bool {
	m.mu.Lock()
	h, ok := m.handlers[topic]
	m.mu.Unlock()

	if !ok {
		return false
	}
	h(topic, []byte(payload))
	return true
}

// Subscribed returns the subscribed topics, sorted
func (m *MockTransport) Subscribed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// Published returns every recorded publish in order
func (m *MockTransport) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

// PublishedTo returns the recorded publishes on topic
func (m *MockTransport) PublishedTo(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, msg := range m.published {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// Last returns the most recent publish on topic
func (m *MockTransport) Last(topic string) (Message, bool) {
	msgs := m.PublishedTo(topic)
	if len(msgs) == 0 {
		return Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// ClearPublished forgets recorded publishes
func (m *MockTransport) ClearPublished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}
