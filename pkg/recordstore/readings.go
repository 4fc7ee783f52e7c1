// Package recordstore persists readings and alerts as keyed documents in
// Firestore.
package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// SinkName identifies the keyed-record sink in logs and metrics.
const SinkName = "keyed_record"

// DocumentID is the key of a reading record: device id and timestamp.
// Writing the same reading twice overwrites a single document.
func DocumentID(r types.Reading) string {
	return r.DeviceID + "_" + types.FormatTimestamp(r.Timestamp)
}

// NewReadingRecord converts r into its stored form. The record expires
// retention after now.
func NewReadingRecord(r types.Reading, retention time.Duration, now time.Time) (types.ReadingRecord, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return types.ReadingRecord{}, fmt.Errorf("failed to encode reading for %s: %w", r.DeviceID, err)
	}
	return types.ReadingRecord{
		DeviceID:  r.DeviceID,
		Timestamp: types.FormatTimestamp(r.Timestamp),
		Data:      string(data),
		Expiry:    now.UTC().Add(retention),
	}, nil
}

// ReadingFromRecord decodes a stored record back into a Reading.
func ReadingFromRecord(rec types.ReadingRecord) (types.Reading, error) {
	var r types.Reading
	if err := json.Unmarshal([]byte(rec.Data), &r); err != nil {
		return types.Reading{}, fmt.Errorf("failed to decode record %s_%s: %w", rec.DeviceID, rec.Timestamp, err)
	}
	if r.DeviceID == "" {
		r.DeviceID = rec.DeviceID
	}
	if r.Timestamp.IsZero() {
		ts, err := time.Parse(time.RFC3339, rec.Timestamp)
		if err != nil {
			return types.Reading{}, fmt.Errorf("invalid record timestamp %q: %w", rec.Timestamp, err)
		}
		r.Timestamp = ts.UTC()
	}
	return r, nil
}

// ReadingStore is the keyed-record sink. Records are keyed by device id and
// timestamp and carry a retention expiry.
type ReadingStore struct {
	client     *firestore.Client
	collection string
	retention  time.Duration
	timeout    time.Duration
	now        func() time.Time
	logger     zerolog.Logger
}

// NewReadingStore creates a ReadingStore.
func NewReadingStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*ReadingStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.ReadingsCollection == "" {
		return nil, errors.New("readings collection name is required")
	}
	retention := cfg.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ReadingStore{
		client:     client,
		collection: cfg.ReadingsCollection,
		retention:  retention,
		timeout:    timeout,
		now:        time.Now,
		logger:     logger.With().Str("component", "ReadingStore").Str("collection", cfg.ReadingsCollection).Logger(),
	}, nil
}

// Name implements the fanout sink contract.
func (s *ReadingStore) Name() string { return SinkName }

// Write stores r under its device id and timestamp key.
func (s *ReadingStore) Write(ctx context.Context, r types.Reading) error {
	rec, err := NewReadingRecord(r, s.retention, s.now())
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	docID := DocumentID(r)
	if _, err := s.client.Collection(s.collection).Doc(docID).Set(writeCtx, rec); err != nil {
		return fmt.Errorf("failed to write reading %s: %w", docID, err)
	}
	s.logger.Debug().Str("doc_id", docID).Msg("Reading record written.")
	return nil
}

// History returns the device's readings with timestamps at or after since,
// oldest first.
func (s *ReadingStore) History(ctx context.Context, deviceID string, since time.Time) ([]types.Reading, error) {
	iter := s.client.Collection(s.collection).
		Where("device_id", "==", deviceID).
		Where("timestamp", ">=", types.FormatTimestamp(since)).
		OrderBy("timestamp", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.Reading
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query readings for %s: %w", deviceID, err)
		}
		var rec types.ReadingRecord
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("failed to map reading record %s: %w", snap.Ref.ID, err)
		}
		r, err := ReadingFromRecord(rec)
		if err != nil {
			s.logger.Warn().Err(err).Str("doc_id", snap.Ref.ID).Msg("Skipping undecodable reading record.")
			continue
		}
		out = append(out, r)
	}
	return out, nil
}
