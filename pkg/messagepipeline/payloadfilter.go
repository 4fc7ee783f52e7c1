package messagepipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// ErrPayloadSize is returned to the reject handler for payloads outside the
// accepted size range.
var ErrPayloadSize = errors.New("payload size out of range")

// RejectHandler is told about a message a decorator refused to process.
type RejectHandler func(ctx context.Context, msg *Message, err error)

// WithPayloadValidation wraps inner so that payloads shorter than minSize or
// longer than maxSize never reach it. A rejected message is handed to
// onReject (if set) and then acked. A maxSize below one disables the upper
// bound.
func WithPayloadValidation(
	inner MessageProcessor,
	minSize int,
	maxSize int,
	onReject RejectHandler,
	logger zerolog.Logger,
) MessageProcessor {
	return func(ctx context.Context, msg *Message) error {
		size := len(msg.Payload)
		if size >= minSize && (maxSize < 1 || size <= maxSize) {
			return inner(ctx, msg)
		}

		logger.Warn().Str("msg_id", msg.ID).Int("payload_size", size).Msg("Rejecting message due to invalid payload size.")
		if onReject != nil {
			onReject(ctx, msg, fmt.Errorf("%w: %d bytes, accepted %d..%d", ErrPayloadSize, size, minSize, maxSize))
		}
		return nil
	}
}
