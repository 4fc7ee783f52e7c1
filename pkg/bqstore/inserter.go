// Package bqstore writes numeric reading measurements to a BigQuery
// time-series table and queries them back.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Defaults for the time-series table.
const (
	DefaultDatasetID = "irrigation"
	DefaultTableID   = "sensor_readings"
)

// DataBatchInserter inserts a batch of rows into a data store. It keeps the
// time-series sink independent of BigQuery for testing.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BigQueryDatasetConfig holds configuration for a BigQuery dataset and table.
type BigQueryDatasetConfig struct {
	ProjectID       string
	DatasetID       string
	TableID         string
	CredentialsFile string // Optional: Path to a service account JSON file.
}

// LoadBigQueryInserterConfigFromEnv loads BigQuery configuration from
// environment variables. Dataset and table fall back to the defaults.
func LoadBigQueryInserterConfigFromEnv() (*BigQueryDatasetConfig, error) {
	cfg := &BigQueryDatasetConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		DatasetID:       os.Getenv("BQ_DATASET_ID"),
		TableID:         os.Getenv("BQ_TABLE_ID"),
		CredentialsFile: os.Getenv("GCP_BQ_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID environment variable not set")
	}
	if cfg.DatasetID == "" {
		cfg.DatasetID = DefaultDatasetID
	}
	if cfg.TableID == "" {
		cfg.TableID = DefaultTableID
	}
	return cfg, nil
}

// NewProductionBigQueryClient creates a BigQuery client suitable for production environments.
// It will use Application Default Credentials unless a specific credentials file is provided.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", projectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	logger.Info().Str("project_id", projectID).Msg("BigQuery client created successfully.")
	return client, nil
}

// BigQueryInserter streams rows of type T into one table.
type BigQueryInserter[T any] struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter creates an inserter for the configured table, creating
// the table with a schema inferred from T if it does not exist.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("project_id", client.Project()).
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !isNotFound(err) {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("BigQuery table not found. Attempting to create with inferred schema.")
		var zero T
		schema, inferErr := bigquery.InferSchema(zero)
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer schema for type %T: %w", zero, inferErr)
		}
		meta := &bigquery.TableMetadata{
			Schema:           schema,
			TimePartitioning: partitioningFor(schema),
		}
		if createErr := tableRef.Create(ctx, meta); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
		logger.Info().Msg("BigQuery table created successfully.")
	} else {
		logger.Info().Msg("Successfully connected to existing BigQuery table.")
	}

	return &BigQueryInserter[T]{
		table:    tableRef,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

// InsertBatch streams items to the table. Row-level failures are logged one
// by one and returned wrapped.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	err := i.inserter.Put(ctx, items)
	if err != nil {
		i.logger.Error().Err(err).Int("batch_size", len(items)).Msg("Failed to insert rows into BigQuery.")
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().
					Int("row_index", rowErr.RowIndex).
					Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}

	i.logger.Debug().Int("batch_size", len(items)).Msg("Successfully inserted batch into BigQuery.")
	return nil
}

// Close is a no-op; the BigQuery client's lifecycle is managed externally.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// partitioningFor partitions by day on a "time" column when the schema has one.
func partitioningFor(schema bigquery.Schema) *bigquery.TimePartitioning {
	for _, f := range schema {
		if f.Name == "time" && f.Type == bigquery.TimestampFieldType {
			return &bigquery.TimePartitioning{Type: bigquery.DayPartitioningType, Field: "time"}
		}
	}
	return nil
}
