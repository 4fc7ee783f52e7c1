// Package alerting publishes device alerts and records them in the alert
// history.
package alerting

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/transport"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// Store persists alerts.
type Store interface {
	Save(ctx context.Context, a types.Alert) error
}

// Emitter creates alerts. Publishing and persisting are attempted
// independently: one failing never skips the other.
type Emitter struct {
	transport transport.Publisher
	store     Store
	topics    types.Topics
	deviceID  string
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewEmitter creates an Emitter whose alerts are attributed to deviceID.
func NewEmitter(pub transport.Publisher, store Store, topics types.Topics, deviceID string, m *metrics.Metrics, logger zerolog.Logger) *Emitter {
	return &Emitter{
		transport: pub,
		store:     store,
		topics:    topics,
		deviceID:  deviceID,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With().Str("component", "AlertEmitter").Logger(),
	}
}

// CreateAlert emits an alert for the default device. An empty severity is
// info. It reports true only when both the publish and the persist succeeded.
func (e *Emitter) CreateAlert(ctx context.Context, alertType, message, severity string) bool {
	return e.CreateAlertFor(ctx, e.deviceID, alertType, message, severity)
}

// CreateAlertFor emits an alert for deviceID. An unknown severity creates
// nothing and returns false.
func (e *Emitter) CreateAlertFor(ctx context.Context, deviceID, alertType, message, severity string) bool {
	sev, err := types.ParseSeverity(severity)
	if err != nil {
		e.logger.Error().Err(err).Str("type", alertType).Msg("Rejected alert.")
		return false
	}

	alert := types.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Message:   message,
		Severity:  sev,
		DeviceID:  deviceID,
		Timestamp: e.now().UTC().Truncate(time.Second),
	}
	log := e.logger.With().Str("alert_id", alert.ID).Str("type", alertType).Str("severity", string(sev)).Logger()

	published := e.publish(ctx, alert, log)
	persisted := e.persist(ctx, alert, log)
	if published && persisted {
		log.Info().Msg("Alert created.")
	}
	return published && persisted
}

func (e *Emitter) publish(ctx context.Context, alert types.Alert, log zerolog.Logger) bool {
	payload, err := json.Marshal(alert)
	if err == nil {
		err = e.transport.Publish(ctx, e.topics.Alerts(alert.Severity), payload)
	}
	e.metrics.Alert(string(alert.Severity), metrics.StagePublish, err == nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to publish alert.")
		return false
	}
	return true
}

func (e *Emitter) persist(ctx context.Context, alert types.Alert, log zerolog.Logger) bool {
	if e.store == nil {
		return true
	}
	err := e.store.Save(ctx, alert)
	e.metrics.Alert(string(alert.Severity), metrics.StagePersist, err == nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to persist alert.")
		return false
	}
	return true
}
