package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DataUploader writes a batch of archival records to durable storage.
type DataUploader interface {
	UploadBatch(ctx context.Context, items []*ArchivalRecord) error
	Close() error
}

// GCSBatchUploaderConfig holds configuration specific to the GCS uploader.
type GCSBatchUploaderConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSBatchUploader groups records by batch key and writes each group to one
// gzipped JSON-lines object.
type GCSBatchUploader struct {
	client GCSClient
	config GCSBatchUploaderConfig
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// NewGCSBatchUploader creates a new uploader configured for Google Cloud Storage.
func NewGCSBatchUploader(
	gcsClient GCSClient,
	config GCSBatchUploaderConfig,
	logger zerolog.Logger,
) (*GCSBatchUploader, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSBatchUploader{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSBatchUploader").Logger(),
	}, nil
}

// UploadBatch uploads each batch-key group of items in parallel and returns
// the joined errors of the failed groups.
func (u *GCSBatchUploader) UploadBatch(ctx context.Context, items []*ArchivalRecord) error {
	grouped := make(map[string][]*ArchivalRecord)
	for _, item := range items {
		if item != nil && item.BatchKey != "" {
			grouped[item.BatchKey] = append(grouped[item.BatchKey], item)
		}
	}
	if len(grouped) == 0 {
		return nil
	}

	var uploadWg sync.WaitGroup
	errs := make(chan error, len(grouped))
	for key, group := range grouped {
		uploadWg.Add(1)
		u.wg.Add(1)
		go func(batchKey string, records []*ArchivalRecord) {
			defer uploadWg.Done()
			defer u.wg.Done()
			if err := u.uploadGroup(ctx, batchKey, records); err != nil {
				errs <- err
			}
		}(key, group)
	}
	uploadWg.Wait()
	close(errs)

	var all []error
	for err := range errs {
		all = append(all, err)
	}
	return errors.Join(all...)
}

// ObjectName places a group under prefix/batchKey with a unique file name.
func ObjectName(prefix, batchKey string) string {
	return path.Join(prefix, batchKey, fmt.Sprintf("%s.jsonl.gz", uuid.NewString()))
}

func (u *GCSBatchUploader) uploadGroup(ctx context.Context, batchKey string, records []*ArchivalRecord) error {
	objectName := ObjectName(u.config.ObjectPrefix, batchKey)
	gcsWriter := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx, ObjectAttrs{
		ContentType:     "application/x-ndjson",
		ContentEncoding: "gzip",
		Metadata:        map[string]string{"device_id": records[0].DeviceID},
	})

	pr, pw := io.Pipe()
	go func() {
		var err error
		defer func() { _ = pw.CloseWithError(err) }()
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		for _, rec := range records {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("json encoding failed for %s: %w", objectName, err)
				return
			}
		}
		err = gz.Close()
	}()

	written, copyErr := io.Copy(gcsWriter, pr)
	closeErr := gcsWriter.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream data for GCS object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close GCS object writer for %s: %w", objectName, closeErr)
	}

	u.logger.Debug().
		Str("object_name", objectName).
		Int("record_count", len(records)).
		Int64("bytes_written", written).
		Msg("Uploaded archive batch to GCS.")
	return nil
}

// Close waits for uploads in flight.
func (u *GCSBatchUploader) Close() error {
	u.wg.Wait()
	return nil
}
