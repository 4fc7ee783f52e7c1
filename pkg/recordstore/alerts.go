package recordstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// AlertStore persists alerts keyed by alert id.
type AlertStore struct {
	client     *firestore.Client
	collection string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewAlertStore creates an AlertStore.
func NewAlertStore(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*AlertStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if cfg.AlertsCollection == "" {
		return nil, errors.New("alerts collection name is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlertStore{
		client:     client,
		collection: cfg.AlertsCollection,
		timeout:    timeout,
		logger:     logger.With().Str("component", "AlertStore").Str("collection", cfg.AlertsCollection).Logger(),
	}, nil
}

// Save writes a. Saving the same alert id twice overwrites one document.
func (s *AlertStore) Save(ctx context.Context, a types.Alert) error {
	if a.ID == "" {
		return errors.New("alert id is required")
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.client.Collection(s.collection).Doc(a.ID).Set(writeCtx, a); err != nil {
		return fmt.Errorf("failed to save alert %s: %w", a.ID, err)
	}
	return nil
}

// Recent returns up to limit alerts for deviceID, newest first.
func (s *AlertStore) Recent(ctx context.Context, deviceID string, limit int) ([]types.Alert, error) {
	iter := s.client.Collection(s.collection).
		Where("device_id", "==", deviceID).
		OrderBy("timestamp", firestore.Desc).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var out []types.Alert
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query alerts for %s: %w", deviceID, err)
		}
		var a types.Alert
		if err := snap.DataTo(&a); err != nil {
			return nil, fmt.Errorf("failed to map alert %s: %w", snap.Ref.ID, err)
		}
		out = append(out, a)
	}
}
