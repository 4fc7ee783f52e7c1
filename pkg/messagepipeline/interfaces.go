package messagepipeline

import (
	"context"
)

// MessageConsumer defines the interface for a message source (MQTT, Pub/Sub).
// It is responsible for fetching messages and handing them off to the pipeline.
type MessageConsumer interface {
	// Messages returns a read-only channel from which pipeline workers receive
	// messages. The channel is closed once the consumer has stopped.
	Messages() <-chan Message
	// Start begins consumption (connects and subscribes).
	Start(ctx context.Context) error
	// Stop ceases consumption and releases the source.
	Stop(ctx context.Context) error
	// Done returns a channel that is closed when the consumer has completely shut down.
	Done() <-chan struct{}
}

// MessageProcessor handles a single message. A returned error causes the
// message to be Nacked.
type MessageProcessor func(ctx context.Context, msg *Message) error

// KeyExtractor returns the ordering key of a message. Messages with the same
// key are processed sequentially in arrival order.
type KeyExtractor func(msg *Message) string
