package messagepipeline

import (
	"time"
)

// Attribute keys set by message sources.
const (
	AttrMqttTopic = "mqtt_topic"
	AttrDuplicate = "mqtt_duplicate"
)

// Message is the canonical, internal representation of an inbound transport
// message. It carries the raw payload, the receipt time, broker metadata and
// acknowledgment handles.
type Message struct {
	// MessageData contains the payload and its receipt time.
	MessageData

	// Attributes holds metadata from the message broker (e.g. the MQTT topic).
	Attributes map[string]string

	// Ack signals that processing finished. For MQTT QoS 1 the protocol-level ack
	// is handled by the client library, so sources may provide a no-op.
	Ack func()

	// Nack signals that processing failed.
	Nack func()
}

// MessageData holds the essential payload of a message.
type MessageData struct {
	// ID is the identifier assigned by the source broker.
	ID string `json:"id"`

	// Payload is the raw byte content of the message.
	Payload []byte `json:"payload"`

	// PublishTime is when the message was received from the broker.
	PublishTime time.Time `json:"publishTime"`
}

// Topic returns the transport topic the message arrived on.
func (m *Message) Topic() string {
	return m.Attributes[AttrMqttTopic]
}

func (m *Message) ack() {
	if m.Ack != nil {
		m.Ack()
	}
}

func (m *Message) nack() {
	if m.Nack != nil {
		m.Nack()
	}
}
