package cache

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for a Firestore-backed source.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreSource reads documents of one collection by id and maps them onto V.
// It is the source of truth behind the metadata caches.
type FirestoreSource[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a FirestoreSource for cfg.CollectionName.
func NewFirestoreSource[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Fetch retrieves the document with id key. A missing document returns an
// error wrapping ErrNotFound.
func (s *FirestoreSource[V]) Fetch(ctx context.Context, key string) (V, error) {
	var zero V
	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("key", key).Msg("Document not found in Firestore.")
			return zero, fmt.Errorf("document %s: %w", key, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var value V
	if err := docSnap.DataTo(&value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	return value, nil
}

// Close is a no-op; the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource[V]) Close() error {
	return nil
}
