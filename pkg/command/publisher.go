// Package command publishes instructions to a device's commands topic.
package command

import (
	"context"
	"encoding/json"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/transport"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// ModeAuto is the irrigation mode used for core-initiated watering.
const ModeAuto = "auto"

// Publisher sends commands. Results reflect only the broker's publish
// acknowledgement, never device-side execution.
type Publisher struct {
	transport transport.Publisher
	topics    types.Topics
	deviceID  string
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewPublisher creates a Publisher whose Send targets deviceID.
func NewPublisher(pub transport.Publisher, topics types.Topics, deviceID string, m *metrics.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{
		transport: pub,
		topics:    topics,
		deviceID:  deviceID,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With().Str("component", "CommandPublisher").Logger(),
	}
}

// Send publishes a command to the default device.
func (p *Publisher) Send(ctx context.Context, name string, params map[string]interface{}) bool {
	return p.SendTo(ctx, p.deviceID, name, params)
}

// SendTo publishes {command, parameters, timestamp} to deviceID's commands
// topic and reports whether the publish was acknowledged.
func (p *Publisher) SendTo(ctx context.Context, deviceID, name string, params map[string]interface{}) bool {
	cmd := types.Command{Name: name, Parameters: params, Timestamp: p.now()}
	payload, err := json.Marshal(cmd)
	if err != nil {
		p.logger.Error().Err(err).Str("command", name).Msg("Failed to encode command.")
		p.metrics.CommandSent(name, false)
		return false
	}

	topic := p.topics.Commands(deviceID)
	if err := p.transport.Publish(ctx, topic, payload); err != nil {
		p.logger.Error().Err(err).Str("command", name).Str("topic", topic).Msg("Failed to publish command.")
		p.metrics.CommandSent(name, false)
		return false
	}
	p.logger.Info().Str("command", name).Str("topic", topic).Msg("Command sent.")
	p.metrics.CommandSent(name, true)
	return true
}

// ActivateIrrigation asks the device to water for durationSeconds using
// waterAmountML millilitres.
func (p *Publisher) ActivateIrrigation(ctx context.Context, durationSeconds, waterAmountML int) bool {
	return p.Send(ctx, types.CommandIrrigate, map[string]interface{}{
		"duration":  durationSeconds,
		"amount_ml": waterAmountML,
		"mode":      ModeAuto,
	})
}

// UpdateSettings forwards settings to the device unvalidated.
func (p *Publisher) UpdateSettings(ctx context.Context, settings map[string]interface{}) bool {
	return p.Send(ctx, types.CommandUpdateSettings, settings)
}
