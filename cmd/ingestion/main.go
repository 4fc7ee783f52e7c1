// Command ingestion runs the irrigation telemetry ingestion core for one
// device identity: it consumes the device's MQTT topics, persists readings
// and serves health, readiness and metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-irrigation/pkg/bqstore"
	"github.com/illmade-knight/go-irrigation/pkg/cache"
	"github.com/illmade-knight/go-irrigation/pkg/config"
	"github.com/illmade-knight/go-irrigation/pkg/enrichment"
	"github.com/illmade-knight/go-irrigation/pkg/fanout"
	"github.com/illmade-knight/go-irrigation/pkg/icestore"
	"github.com/illmade-knight/go-irrigation/pkg/ingestion"
	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/microservice"
	"github.com/illmade-knight/go-irrigation/pkg/recordstore"
	"github.com/illmade-knight/go-irrigation/pkg/shadow"
	"github.com/illmade-knight/go-irrigation/pkg/transport"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const shutdownTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to an optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr).
		With().Str("service", cfg.ServiceName).Str("device_id", cfg.DeviceID).Logger()

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Ingestion service failed.")
	}
}

func newLogger(level string, pretty bool, out io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// closer collects shutdown steps and runs them in reverse order.
type closer struct {
	steps  []func(ctx context.Context)
	logger zerolog.Logger
}

func (c *closer) add(name string, fn func(ctx context.Context) error) {
	c.steps = append(c.steps, func(ctx context.Context) {
		if err := fn(ctx); err != nil {
			c.logger.Error().Err(err).Str("resource", name).Msg("Error during shutdown.")
		}
	})
}

func (c *closer) run(ctx context.Context) {
	for i := len(c.steps) - 1; i >= 0; i-- {
		c.steps[i](ctx)
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cleanup := &closer{logger: logger}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		cleanup.run(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	mqttTransport, err := transport.NewMqttTransport(cfg.MQTTClientConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to create MQTT transport: %w", err)
	}

	fsClient, err := firestore.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("failed to create Firestore client: %w", err)
	}
	cleanup.add("firestore", func(context.Context) error { return fsClient.Close() })

	deps, err := buildDependencies(ctx, cfg, fsClient, clientOpts, m, cleanup, logger)
	if err != nil {
		return err
	}
	deps.Publisher = mqttTransport
	deps.Consumer = mqttTransport
	if cfg.PubSub.IngestSubscriptionID != "" {
		consumer, err := newBridgeConsumer(ctx, cfg, clientOpts, cleanup, logger)
		if err != nil {
			return err
		}
		if err := mqttTransport.Connect(ctx); err != nil {
			return err
		}
		cleanup.add("mqtt", mqttTransport.Stop)
		deps.Consumer = consumer
	}

	svc, err := ingestion.NewService(ingestion.Config{
		Namespace: cfg.Namespace,
		DeviceID:  cfg.DeviceID,
		Pipeline: messagepipeline.KeyedStreamingServiceConfig{
			NumWorkers:       cfg.Pipeline.NumWorkers,
			WorkerBufferSize: cfg.Pipeline.WorkerBufferSize,
		},
		ShadowTimeout:   cfg.Shadow.Timeout,
		MaxPayloadBytes: cfg.Pipeline.MaxPayloadBytes,
	}, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to create ingestion service: %w", err)
	}

	if cfg.PubSub.RelayTopicID != "" {
		relay, err := newRelay(ctx, cfg, clientOpts, cleanup, logger)
		if err != nil {
			return err
		}
		svc.RegisterCallback(svc.Topics().Device(cfg.DeviceID, types.SuffixSensors), relay.Relay)
	}

	server := microservice.NewBaseServer(logger, cfg.HTTPPort, reg)
	server.SetReadinessCheck(func() error {
		if !mqttTransport.IsConnected() {
			return errors.New("mqtt transport is not connected")
		}
		return nil
	})
	if err := server.Start(); err != nil {
		return err
	}
	cleanup.add("http server", server.Shutdown)

	if err := svc.Start(ctx); err != nil {
		return err
	}
	cleanup.add("ingestion service", svc.Stop)
	logger.Info().Str("http_port", server.GetHTTPPort()).Msg("Ingestion service is running.")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received.")
	case err := <-mqttTransport.ConnectionLost():
		if !cfg.MQTT.AutoReconnect {
			return fmt.Errorf("mqtt connection lost: %w", err)
		}
		logger.Warn().Err(err).Msg("MQTT connection lost, relying on client reconnect.")
		<-ctx.Done()
	}
	return nil
}

// buildDependencies creates the sinks and stores selected by cfg. Everything
// it opens is registered with cleanup.
func buildDependencies(
	ctx context.Context,
	cfg *config.Config,
	fsClient *firestore.Client,
	clientOpts []option.ClientOption,
	m *metrics.Metrics,
	cleanup *closer,
	logger zerolog.Logger,
) (ingestion.Dependencies, error) {
	deps := ingestion.Dependencies{Metrics: m}

	recordCfg := &recordstore.FirestoreConfig{
		ProjectID:          cfg.ProjectID,
		ReadingsCollection: cfg.Firestore.ReadingsCollection,
		AlertsCollection:   cfg.Firestore.AlertsCollection,
		Retention:          cfg.Retention(),
		WriteTimeout:       cfg.Firestore.WriteTimeout,
	}
	readings, err := recordstore.NewReadingStore(recordCfg, fsClient, logger)
	if err != nil {
		return deps, err
	}
	alerts, err := recordstore.NewAlertStore(recordCfg, fsClient, logger)
	if err != nil {
		return deps, err
	}
	deps.History = readings
	deps.AlertStore = alerts
	deps.AlertLog = alerts

	locations, err := newLocationResolver(cfg, fsClient, logger)
	if err != nil {
		return deps, err
	}
	cleanup.add("location resolver", func(context.Context) error { return locations.Close() })

	bqClient, err := bigquery.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return deps, fmt.Errorf("failed to create BigQuery client: %w", err)
	}
	cleanup.add("bigquery", func(context.Context) error { return bqClient.Close() })
	bqCfg := &bqstore.BigQueryDatasetConfig{
		ProjectID: cfg.ProjectID,
		DatasetID: cfg.BigQuery.DatasetID,
		TableID:   cfg.BigQuery.TableID,
	}
	inserter, err := bqstore.NewBigQueryInserter[types.TimeSeriesPoint](ctx, bqClient, bqCfg, logger)
	if err != nil {
		return deps, err
	}
	series, err := bqstore.NewTimeSeriesQuery(bqClient, bqCfg, cfg.BigQuery.MovingAverageWindow, logger)
	if err != nil {
		return deps, err
	}
	deps.Series = series

	deps.Sinks = []fanout.Sink{readings, bqstore.NewTimeSeriesSink(inserter, locations, cfg.Location, logger)}

	if cfg.Archive.BucketName != "" {
		archive, err := newArchiveSink(ctx, cfg, clientOpts, cleanup, logger)
		if err != nil {
			return deps, err
		}
		deps.Sinks = append(deps.Sinks, archive)
	}

	store, err := newShadowStore(ctx, cfg, fsClient, logger)
	if err != nil {
		return deps, err
	}
	cleanup.add("shadow store", func(context.Context) error { return store.Close() })
	deps.ShadowStore = store

	if cfg.PubSub.DeadLetterTopicID != "" {
		dlq, err := newDeadLetter(ctx, cfg, clientOpts, cleanup, logger)
		if err != nil {
			return deps, err
		}
		deps.DeadLetter = dlq
	}
	return deps, nil
}

func newLocationResolver(cfg *config.Config, fsClient *firestore.Client, logger zerolog.Logger) (*enrichment.LocationResolver, error) {
	source, err := cache.NewFirestoreSource[enrichment.DeviceMetadata](&cache.FirestoreConfig{
		ProjectID:      cfg.ProjectID,
		CollectionName: cfg.Firestore.DevicesCollection,
	}, fsClient, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create device metadata source: %w", err)
	}
	fetcher, err := enrichment.NewCachedMetadataFetcher(cache.LRUConfig{
		MaxSize: cfg.Firestore.MetadataCacheSize,
		TTL:     cfg.Firestore.MetadataCacheTTL,
	}, source, logger)
	if err != nil {
		return nil, err
	}
	return enrichment.NewLocationResolver(enrichment.LocationResolverConfig{DefaultLocation: cfg.Location}, fetcher, logger), nil
}

func newShadowStore(ctx context.Context, cfg *config.Config, fsClient *firestore.Client, logger zerolog.Logger) (shadow.Store, error) {
	switch cfg.Shadow.Backend {
	case config.ShadowBackendRedis:
		return shadow.NewRedisStore(ctx, &shadow.RedisConfig{
			Addr:     cfg.Shadow.RedisAddr,
			Password: cfg.Shadow.RedisPassword,
			DB:       cfg.Shadow.RedisDB,
		}, logger)
	case config.ShadowBackendMemory:
		logger.Warn().Msg("Using the in-memory shadow store, shadows are lost on restart.")
		return shadow.NewMemoryStore(), nil
	default:
		return shadow.NewFirestoreStore(fsClient, cfg.Firestore.ShadowsCollection, logger)
	}
}

func newArchiveSink(ctx context.Context, cfg *config.Config, clientOpts []option.ClientOption, cleanup *closer, logger zerolog.Logger) (*icestore.ArchiveSink, error) {
	gcsClient, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	cleanup.add("gcs", func(context.Context) error { return gcsClient.Close() })

	uploader, err := icestore.NewGCSBatchUploader(icestore.NewGCSClientAdapter(gcsClient), icestore.GCSBatchUploaderConfig{
		BucketName:   cfg.Archive.BucketName,
		ObjectPrefix: cfg.Archive.ObjectPrefix,
	}, logger)
	if err != nil {
		return nil, err
	}
	return icestore.NewArchiveSink(icestore.ArchiveConfig{
		BatchSize:     cfg.Archive.BatchSize,
		FlushInterval: cfg.Archive.FlushInterval,
	}, uploader, logger)
}

func newPubsubPublisher(ctx context.Context, cfg *config.Config, topicID string, clientOpts []option.ClientOption, cleanup *closer, logger zerolog.Logger) (*messagepipeline.GoogleSimplePublisher, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	cleanup.add("pubsub "+topicID, func(context.Context) error { return client.Close() })

	publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, messagepipeline.NewGoogleSimplePublisherDefaults(topicID), client, logger)
	if err != nil {
		return nil, err
	}
	cleanup.add("publisher "+topicID, publisher.Stop)
	return publisher, nil
}

func newBridgeConsumer(ctx context.Context, cfg *config.Config, clientOpts []option.ClientOption, cleanup *closer, logger zerolog.Logger) (*messagepipeline.GooglePubsubConsumer, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	cleanup.add("pubsub ingest", func(context.Context) error { return client.Close() })

	consumerCfg := messagepipeline.NewGooglePubsubConsumerDefaults(cfg.PubSub.IngestSubscriptionID)
	consumerCfg.TopicAttribute = cfg.PubSub.TopicAttribute
	return messagepipeline.NewGooglePubsubConsumer(ctx, consumerCfg, client, logger)
}

func newRelay(ctx context.Context, cfg *config.Config, clientOpts []option.ClientOption, cleanup *closer, logger zerolog.Logger) (*messagepipeline.ReadingRelay, error) {
	publisher, err := newPubsubPublisher(ctx, cfg, cfg.PubSub.RelayTopicID, clientOpts, cleanup, logger)
	if err != nil {
		return nil, err
	}
	return messagepipeline.NewReadingRelay(publisher, logger), nil
}

func newDeadLetter(ctx context.Context, cfg *config.Config, clientOpts []option.ClientOption, cleanup *closer, logger zerolog.Logger) (*messagepipeline.DeadLetterPublisher, error) {
	publisher, err := newPubsubPublisher(ctx, cfg, cfg.PubSub.DeadLetterTopicID, clientOpts, cleanup, logger)
	if err != nil {
		return nil, err
	}
	return messagepipeline.NewDeadLetterPublisher(publisher, logger), nil
}
