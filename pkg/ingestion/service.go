// Package ingestion is the telemetry ingestion and command-dispatch core. A
// Service owns the device state cache, the sink fanout and the callback
// registry, and hands out the command, shadow and alert surfaces that share
// its single transport connection.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/alerting"
	"github.com/illmade-knight/go-irrigation/pkg/cache"
	"github.com/illmade-knight/go-irrigation/pkg/callbacks"
	"github.com/illmade-knight/go-irrigation/pkg/command"
	"github.com/illmade-knight/go-irrigation/pkg/fanout"
	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/shadow"
	"github.com/illmade-knight/go-irrigation/pkg/transport"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// ErrHistoryUnavailable is returned by GetHistoricalData when no keyed-record
// store is configured.
var ErrHistoryUnavailable = errors.New("historical data store is not configured")

// ErrSeriesUnavailable is returned by GetTimeSeriesData when no time-series
// query is configured.
var ErrSeriesUnavailable = errors.New("time-series query is not configured")

// ErrAlertHistoryUnavailable is returned by RecentAlerts when no alert
// history is configured.
var ErrAlertHistoryUnavailable = errors.New("alert history is not configured")

// HistoryStore reads persisted readings back, oldest first.
type HistoryStore interface {
	History(ctx context.Context, deviceID string, since time.Time) ([]types.Reading, error)
}

// SeriesQuery reads a measurement back from the time-series store.
type SeriesQuery interface {
	MovingAverage(ctx context.Context, deviceID, measureName string, lookback time.Duration) ([]types.SeriesSample, error)
}

// AlertHistory reads persisted alerts back, newest first.
type AlertHistory interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]types.Alert, error)
}

// DeadLetterSink receives payloads that could not be parsed.
type DeadLetterSink interface {
	Forward(ctx context.Context, msg *messagepipeline.Message, cause error) error
}

// minPayloadBytes is the size of the smallest JSON object, "{}".
const minPayloadBytes = 2

// Config holds the identity and sizing of a Service.
type Config struct {
	Namespace     string
	DeviceID      string
	Pipeline      messagepipeline.KeyedStreamingServiceConfig
	ShadowTimeout time.Duration
	// MaxPayloadBytes drops larger payloads before parsing. Zero means no limit.
	MaxPayloadBytes int
}

// Dependencies are the collaborators a Service is assembled from. Consumer
// and Publisher are normally the same transport. Every other field is
// optional.
type Dependencies struct {
	Consumer    messagepipeline.MessageConsumer
	Publisher   transport.Publisher
	Sinks       []fanout.Sink
	History     HistoryStore
	Series      SeriesQuery
	AlertLog    AlertHistory
	ShadowStore shadow.Store
	AlertStore  alerting.Store
	DeadLetter  DeadLetterSink
	Metrics     *metrics.Metrics
}

type startable interface {
	Start(ctx context.Context)
}

type stoppable interface {
	Stop(ctx context.Context) error
}

// Service is one ingestion core instance.
type Service struct {
	deviceID   string
	topics     types.Topics
	state      *cache.StateCache
	fanout     *fanout.Fanout
	sinks      []fanout.Sink
	callbacks  *callbacks.Registry
	commands   *command.Publisher
	shadow     *shadow.Reconciler
	alerts     *alerting.Emitter
	history    HistoryStore
	series     SeriesQuery
	alertLog   AlertHistory
	deadLetter DeadLetterSink
	pipeline   *messagepipeline.KeyedStreamingService
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// NewService assembles a Service. Nothing is connected until Start.
func NewService(cfg Config, deps Dependencies, logger zerolog.Logger) (*Service, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if deps.Consumer == nil {
		return nil, fmt.Errorf("message consumer cannot be nil")
	}
	if deps.Publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	shadowStore := deps.ShadowStore
	if shadowStore == nil {
		shadowStore = shadow.NewMemoryStore()
	}

	topics := types.NewTopics(cfg.Namespace)
	s := &Service{
		deviceID:   cfg.DeviceID,
		topics:     topics,
		state:      cache.NewStateCache(),
		fanout:     fanout.New(deps.Sinks, deps.Metrics, logger),
		sinks:      deps.Sinks,
		callbacks:  callbacks.NewRegistry(deps.Metrics, logger),
		commands:   command.NewPublisher(deps.Publisher, topics, cfg.DeviceID, deps.Metrics, logger),
		shadow:     shadow.NewReconciler(shadowStore, cfg.DeviceID, cfg.ShadowTimeout, deps.Metrics, logger),
		alerts:     alerting.NewEmitter(deps.Publisher, deps.AlertStore, topics, cfg.DeviceID, deps.Metrics, logger),
		history:    deps.History,
		series:     deps.Series,
		alertLog:   deps.AlertLog,
		deadLetter: deps.DeadLetter,
		metrics:    deps.Metrics,
		logger:     logger.With().Str("component", "IngestionService").Str("device_id", cfg.DeviceID).Logger(),
		now:        time.Now,
	}

	processor := messagepipeline.WithPayloadValidation(s.process, minPayloadBytes, cfg.MaxPayloadBytes, s.reject, s.logger)
	pipeline, err := messagepipeline.NewKeyedStreamingService(cfg.Pipeline, deps.Consumer, deviceKey, processor, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}
	s.pipeline = pipeline
	return s, nil
}

// deviceKey orders messages per device. Topics that are not device topics
// are ordered among themselves.
func deviceKey(msg *messagepipeline.Message) string {
	if dt, ok := types.ParseDeviceTopic(msg.Topic()); ok {
		return dt.DeviceID
	}
	return msg.Topic()
}

// Start starts the sinks that need it, then the pipeline, which connects the
// transport and subscribes to the device topics.
func (s *Service) Start(ctx context.Context) error {
	s.logger.Info().Strs("sinks", s.fanout.Sinks()).Msg("Starting ingestion service...")
	for _, sink := range s.sinks {
		if st, ok := sink.(startable); ok {
			st.Start(ctx)
		}
	}
	if err := s.pipeline.Start(ctx); err != nil {
		s.stopSinks(ctx)
		return fmt.Errorf("failed to start ingestion pipeline: %w", err)
	}
	s.logger.Info().Msg("Ingestion service started.")
	return nil
}

// Stop stops intake, drains in-flight messages and then stops the sinks.
func (s *Service) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping ingestion service...")
	err := s.pipeline.Stop(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Ingestion pipeline did not drain cleanly.")
	}
	s.stopSinks(ctx)
	s.logger.Info().Msg("Ingestion service stopped.")
	return err
}

func (s *Service) stopSinks(ctx context.Context) {
	for _, sink := range s.sinks {
		if st, ok := sink.(stoppable); ok {
			if err := st.Stop(ctx); err != nil {
				s.logger.Error().Err(err).Str("sink", sink.Name()).Msg("Failed to stop sink.")
			}
		}
	}
}

// process handles one inbound message. It never returns an error: a bad
// payload is dropped and every downstream failure is isolated and logged.
func (s *Service) process(ctx context.Context, msg *messagepipeline.Message) error {
	start := s.now()
	defer func() { s.metrics.ObserveProcessing(s.now().Sub(start)) }()

	topic := msg.Topic()
	dt, _ := types.ParseDeviceTopic(topic)
	s.metrics.MessageReceived(dt.Suffix)

	receivedAt := msg.PublishTime
	if receivedAt.IsZero() {
		receivedAt = start
	}
	reading, err := types.ParseReading(topic, dt.DeviceID, msg.Payload, receivedAt)
	if err != nil {
		s.reject(ctx, msg, err)
		return nil
	}

	if dt.Suffix == types.SuffixSensors {
		s.state.Replace(reading)
	}
	s.fanout.Write(ctx, reading)
	s.callbacks.Dispatch(ctx, topic, reading)
	if dt.Suffix == types.SuffixStatus {
		_ = s.shadow.RecordReported(ctx, reading)
	}

	s.logger.Debug().Str("topic", topic).Str("reading_device", reading.DeviceID).Msg("Message processed.")
	return nil
}

func (s *Service) reject(ctx context.Context, msg *messagepipeline.Message, err error) {
	var parseErr *types.ParseError
	if !errors.As(err, &parseErr) {
		err = &types.ParseError{Topic: msg.Topic(), Err: err}
	}
	s.metrics.ParseError()
	s.logger.Warn().Err(err).Str("topic", msg.Topic()).Str("msg_id", msg.ID).Msg("Dropping unparseable message.")
	if s.deadLetter != nil {
		_ = s.deadLetter.Forward(ctx, msg, err)
	}
}

// GetLatestSensorData returns the last reading deviceID sent on its sensors
// topic. ok is false if none has arrived.
func (s *Service) GetLatestSensorData(deviceID string) (types.Reading, bool) {
	return s.state.Latest(deviceID)
}

// GetHistoricalData returns the configured device's persisted readings from
// the last days days, oldest first.
func (s *Service) GetHistoricalData(ctx context.Context, days int) ([]types.Reading, error) {
	return s.GetHistoricalDataFor(ctx, s.deviceID, days)
}

// GetHistoricalDataFor is GetHistoricalData for any device.
func (s *Service) GetHistoricalDataFor(ctx context.Context, deviceID string, days int) ([]types.Reading, error) {
	if s.history == nil {
		return nil, ErrHistoryUnavailable
	}
	if days <= 0 {
		return nil, fmt.Errorf("days must be positive, got %d", days)
	}
	since := s.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	readings, err := s.history.History(ctx, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", deviceID, err)
	}
	return readings, nil
}

// GetTimeSeriesData returns one measurement of the configured device over
// the last hours hours with its moving average, newest first.
func (s *Service) GetTimeSeriesData(ctx context.Context, measureName string, hours int) ([]types.SeriesSample, error) {
	if s.series == nil {
		return nil, ErrSeriesUnavailable
	}
	if hours <= 0 {
		return nil, fmt.Errorf("hours must be positive, got %d", hours)
	}
	samples, err := s.series.MovingAverage(ctx, s.deviceID, measureName, time.Duration(hours)*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s for %s: %w", measureName, s.deviceID, err)
	}
	return samples, nil
}

// RecentAlerts returns up to limit of the configured device's alerts, newest
// first.
func (s *Service) RecentAlerts(ctx context.Context, limit int) ([]types.Alert, error) {
	if s.alertLog == nil {
		return nil, ErrAlertHistoryUnavailable
	}
	alerts, err := s.alertLog.Recent(ctx, s.deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read alerts for %s: %w", s.deviceID, err)
	}
	return alerts, nil
}

// RegisterCallback adds observer for readings arriving on topic.
func (s *Service) RegisterCallback(topic string, observer callbacks.Observer) *callbacks.Registration {
	return s.callbacks.Register(topic, observer)
}

// Topics returns the topic builder of the service's namespace.
func (s *Service) Topics() types.Topics { return s.topics }

// DeviceID returns the configured device identity.
func (s *Service) DeviceID() string { return s.deviceID }

// Commands returns the command publisher.
func (s *Service) Commands() *command.Publisher { return s.commands }

// Shadow returns the shadow reconciler.
func (s *Service) Shadow() *shadow.Reconciler { return s.shadow }

// Alerts returns the alert emitter.
func (s *Service) Alerts() *alerting.Emitter { return s.alerts }
