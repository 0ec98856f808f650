// Package mqtt connects the engine to the broker and speaks the Home
// Assistant discovery protocol.
package mqtt

// Handler receives one inbound message
type Handler func(topic string, payload []byte)

// Transport is the subscribe/publish primitive the engine needs
type Transport interface {
	// Subscribe routes messages on topic to handler, replacing any
	// previous handler for the same topic
	Subscribe(topic string, handler Handler) error

	// Unsubscribe stops delivery for the given topics
	Unsubscribe(topics ...string) error

	// Publish sends payload on topic
	Publish(topic string, retained bool, payload string) error
}

// Availability payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// PayloadNone clears an entity state to unknown in Home Assistant
const PayloadNone = "None"

