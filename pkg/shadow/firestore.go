package shadow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultFirestoreCollection holds one shadow document per device.
const DefaultFirestoreCollection = "device_shadows"

// FirestoreStore keeps shadows in a Firestore collection and merges updates
// inside a transaction.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     zerolog.Logger
}

// NewFirestoreStore creates a FirestoreStore on collection.
func NewFirestoreStore(client *firestore.Client, collection string, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, errors.New("firestore client cannot be nil")
	}
	if collection == "" {
		collection = DefaultFirestoreCollection
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger.With().Str("component", "FirestoreShadowStore").Str("collection", collection).Logger(),
	}, nil
}

func (s *FirestoreStore) Get(ctx context.Context, deviceID string) (types.ShadowDocument, error) {
	snap, err := s.client.Collection(s.collection).Doc(deviceID).Get(ctx)
	return s.decode(deviceID, snap, err)
}

func (s *FirestoreStore) Apply(ctx context.Context, deviceID string, patch types.ShadowState) (types.ShadowDocument, error) {
	ref := s.client.Collection(s.collection).Doc(deviceID)
	var out types.ShadowDocument
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		doc, err := s.decode(deviceID, snap, err)
		if err != nil {
			return err
		}
		out = applyPatch(doc, patch, time.Now())
		return tx.Set(ref, out)
	})
	if err != nil {
		return types.ShadowDocument{}, fmt.Errorf("shadow update for %s: %w", deviceID, err)
	}
	return out, nil
}

func (s *FirestoreStore) decode(deviceID string, snap *firestore.DocumentSnapshot, err error) (types.ShadowDocument, error) {
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("device_id", deviceID).Msg("No shadow document yet.")
			return types.ShadowDocument{}, nil
		}
		return types.ShadowDocument{}, fmt.Errorf("shadow get for %s: %w", deviceID, err)
	}
	var doc types.ShadowDocument
	if err := snap.DataTo(&doc); err != nil {
		return types.ShadowDocument{}, fmt.Errorf("shadow decode for %s: %w", deviceID, err)
	}
	return doc, nil
}

// Close is a no-op; the Firestore client's lifecycle is managed externally.
func (s *FirestoreStore) Close() error { return nil }
