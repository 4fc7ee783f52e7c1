package messagepipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// Attribute keys set on relayed and dead-lettered messages.
const (
	AttrDeviceID = "device_id"
	AttrError    = "error"
)

// ReadingRelay republishes accepted readings to a Pub/Sub topic for
// downstream consumers.
type ReadingRelay struct {
	publisher SimplePublisher
	logger    zerolog.Logger
}

// NewReadingRelay creates a relay on top of publisher.
func NewReadingRelay(publisher SimplePublisher, logger zerolog.Logger) *ReadingRelay {
	return &ReadingRelay{
		publisher: publisher,
		logger:    logger.With().Str("component", "ReadingRelay").Logger(),
	}
}

// Relay publishes r as its flattened JSON document. Its signature matches a
// topic observer so it can be registered directly.
func (r *ReadingRelay) Relay(ctx context.Context, reading types.Reading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading for relay: %w", err)
	}
	if err := r.publisher.Publish(ctx, payload, map[string]string{AttrDeviceID: reading.DeviceID}); err != nil {
		return fmt.Errorf("failed to relay reading for device %s: %w", reading.DeviceID, err)
	}
	r.logger.Debug().Str("device_id", reading.DeviceID).Msg("Relayed reading.")
	return nil
}

// Stop flushes the underlying publisher.
func (r *ReadingRelay) Stop(ctx context.Context) error {
	return r.publisher.Stop(ctx)
}

// DeadLetterPublisher forwards raw payloads that could not be processed.
type DeadLetterPublisher struct {
	publisher SimplePublisher
	logger    zerolog.Logger
}

// NewDeadLetterPublisher creates a dead-letter forwarder on top of publisher.
func NewDeadLetterPublisher(publisher SimplePublisher, logger zerolog.Logger) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		publisher: publisher,
		logger:    logger.With().Str("component", "DeadLetterPublisher").Logger(),
	}
}

// Forward publishes the original payload of msg with the failure reason and
// source topic as attributes.
func (d *DeadLetterPublisher) Forward(ctx context.Context, msg *Message, cause error) error {
	attrs := map[string]string{AttrMqttTopic: msg.Topic()}
	if cause != nil {
		attrs[AttrError] = cause.Error()
	}
	if err := d.publisher.Publish(ctx, msg.Payload, attrs); err != nil {
		d.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("Failed to dead-letter message.")
		return fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
	}
	d.logger.Warn().Str("msg_id", msg.ID).Str("topic", msg.Topic()).Msg("Message dead-lettered.")
	return nil
}

// Stop flushes the underlying publisher.
func (d *DeadLetterPublisher) Stop(ctx context.Context) error {
	return d.publisher.Stop(ctx)
}
