// Package config assembles the service configuration: defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/microservice"
	"github.com/illmade-knight/go-irrigation/pkg/transport"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"gopkg.in/yaml.v3"
)

// Shadow backends.
const (
	ShadowBackendFirestore = "firestore"
	ShadowBackendRedis     = "redis"
	ShadowBackendMemory    = "memory"
)

// Config is the complete service configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	Namespace string `yaml:"namespace"`
	DeviceID  string `yaml:"device_id"`
	Location  string `yaml:"location"`

	MQTT      transport.MQTTClientConfig `yaml:"mqtt"`
	Pipeline  PipelineConfig             `yaml:"pipeline"`
	Firestore FirestoreConfig            `yaml:"firestore"`
	BigQuery  BigQueryConfig             `yaml:"bigquery"`
	Shadow    ShadowConfig               `yaml:"shadow"`
	PubSub    PubSubConfig               `yaml:"pubsub"`
	Archive   ArchiveConfig              `yaml:"archive"`
}

// PipelineConfig sizes the inbound worker pool.
type PipelineConfig struct {
	NumWorkers       int `yaml:"num_workers"`
	WorkerBufferSize int `yaml:"worker_buffer_size"`
	MaxPayloadBytes  int `yaml:"max_payload_bytes"`
}

// FirestoreConfig names the collections and the reading retention.
type FirestoreConfig struct {
	ReadingsCollection string        `yaml:"readings_collection"`
	AlertsCollection   string        `yaml:"alerts_collection"`
	ShadowsCollection  string        `yaml:"shadows_collection"`
	DevicesCollection  string        `yaml:"devices_collection"`
	RetentionDays      int           `yaml:"retention_days"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	MetadataCacheSize  int           `yaml:"metadata_cache_size"`
	MetadataCacheTTL   time.Duration `yaml:"metadata_cache_ttl"`
}

// BigQueryConfig names the time-series table.
type BigQueryConfig struct {
	DatasetID           string `yaml:"dataset_id"`
	TableID             string `yaml:"table_id"`
	MovingAverageWindow int    `yaml:"moving_average_window"`
}

// ShadowConfig selects and configures the shadow store.
type ShadowConfig struct {
	Backend       string        `yaml:"backend"`
	Timeout       time.Duration `yaml:"timeout"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
}

// PubSubConfig names the optional relay and dead-letter topics and the
// optional bridge subscription. Empty names disable the feature. With an
// ingest subscription, device messages are read from Pub/Sub instead of
// MQTT subscriptions and MQTT is used for publishing only.
type PubSubConfig struct {
	RelayTopicID         string `yaml:"relay_topic_id"`
	DeadLetterTopicID    string `yaml:"dead_letter_topic_id"`
	IngestSubscriptionID string `yaml:"ingest_subscription_id"`
	TopicAttribute       string `yaml:"topic_attribute"`
}

// ArchiveConfig configures the optional GCS archive sink. An empty bucket
// disables it.
type ArchiveConfig struct {
	BucketName    string        `yaml:"bucket_name"`
	ObjectPrefix  string        `yaml:"object_prefix"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel:    "info",
			HTTPPort:    ":8080",
			ServiceName: "irrigation-ingestion",
		},
		Namespace: types.DefaultNamespace,
		Location:  "garden",
		MQTT:      *transport.NewMQTTClientConfigDefaults(),
		Pipeline: PipelineConfig{
			NumWorkers:       4,
			WorkerBufferSize: 100,
			MaxPayloadBytes:  64 * 1024,
		},
		Firestore: FirestoreConfig{
			ReadingsCollection: "sensor_data",
			AlertsCollection:   "irrigation_alerts",
			ShadowsCollection:  "device_shadows",
			DevicesCollection:  "devices",
			RetentionDays:      30,
			WriteTimeout:       10 * time.Second,
			MetadataCacheSize:  256,
			MetadataCacheTTL:   10 * time.Minute,
		},
		BigQuery: BigQueryConfig{
			DatasetID:           "irrigation",
			TableID:             "sensor_readings",
			MovingAverageWindow: 6,
		},
		PubSub: PubSubConfig{
			TopicAttribute: "mqtt_topic",
		},
		Shadow: ShadowConfig{
			Backend: ShadowBackendFirestore,
			Timeout: 10 * time.Second,
		},
		Archive: ArchiveConfig{
			ObjectPrefix:  "readings",
			BatchSize:     100,
			FlushInterval: time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// path is not empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening config file: %w", err)
		}
		defer f.Close()
		if err := cfg.decode(f); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse overlays YAML data onto the defaults without reading the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := cfg.decode(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides the configuration from environment variables.
func (c *Config) ApplyEnv() {
	setString("LOG_LEVEL", &c.LogLevel)
	setBool("LOG_PRETTY", &c.LogPretty)
	setString("HTTP_PORT", &c.HTTPPort)
	setString("GCP_PROJECT_ID", &c.ProjectID)
	setString("GCP_CREDENTIALS_FILE", &c.CredentialsFile)
	setString("IRRIGATION_NAMESPACE", &c.Namespace)
	setString("DEVICE_ID", &c.DeviceID)
	setString("DEVICE_LOCATION", &c.Location)

	transport.ApplyEnv(&c.MQTT)

	setInt("PIPELINE_NUM_WORKERS", &c.Pipeline.NumWorkers)
	setString("FIRESTORE_READINGS_COLLECTION", &c.Firestore.ReadingsCollection)
	setString("FIRESTORE_ALERTS_COLLECTION", &c.Firestore.AlertsCollection)
	setString("FIRESTORE_SHADOWS_COLLECTION", &c.Firestore.ShadowsCollection)
	setString("FIRESTORE_DEVICES_COLLECTION", &c.Firestore.DevicesCollection)
	setInt("READING_RETENTION_DAYS", &c.Firestore.RetentionDays)
	setString("BQ_DATASET_ID", &c.BigQuery.DatasetID)
	setString("BQ_TABLE_ID", &c.BigQuery.TableID)
	setString("SHADOW_BACKEND", &c.Shadow.Backend)
	setString("REDIS_ADDR", &c.Shadow.RedisAddr)
	setString("REDIS_PASSWORD", &c.Shadow.RedisPassword)
	setString("PUBSUB_RELAY_TOPIC_ID", &c.PubSub.RelayTopicID)
	setString("PUBSUB_DEAD_LETTER_TOPIC_ID", &c.PubSub.DeadLetterTopicID)
	setString("PUBSUB_INGEST_SUBSCRIPTION_ID", &c.PubSub.IngestSubscriptionID)
	setString("ARCHIVE_BUCKET", &c.Archive.BucketName)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.DeviceID == "" {
		errs = append(errs, errors.New("device_id is required"))
	}
	if c.MQTT.BrokerURL == "" {
		errs = append(errs, errors.New("mqtt.broker_url is required"))
	}
	if c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	switch c.Shadow.Backend {
	case ShadowBackendFirestore, ShadowBackendMemory:
	case ShadowBackendRedis:
		if c.Shadow.RedisAddr == "" {
			errs = append(errs, errors.New("shadow.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown shadow backend %q", c.Shadow.Backend))
	}
	if c.Firestore.RetentionDays <= 0 {
		errs = append(errs, errors.New("firestore.retention_days must be positive"))
	}
	if c.Pipeline.NumWorkers <= 0 {
		errs = append(errs, errors.New("pipeline.num_workers must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Retention returns the reading record retention.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Firestore.RetentionDays) * 24 * time.Hour
}

// MQTTClientConfig returns the transport configuration with the device
// identity filled in.
func (c *Config) MQTTClientConfig() *transport.MQTTClientConfig {
	mqttCfg := c.MQTT
	mqttCfg.Namespace = c.Namespace
	mqttCfg.DeviceID = c.DeviceID
	return &mqttCfg
}

func setString(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
