// Package shadow keeps the desired/reported state document of each device.
package shadow

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/types"
)

// Store persists shadow documents keyed by device id.
type Store interface {
	// Get returns the device's document. A device without a document gets an
	// empty one and no error.
	Get(ctx context.Context, deviceID string) (types.ShadowDocument, error)
	// Apply merges patch into the stored document atomically, bumps its
	// version and returns the result.
	Apply(ctx context.Context, deviceID string, patch types.ShadowState) (types.ShadowDocument, error)
	Close() error
}

// applyPatch is the merge every Store performs inside its atomic section.
func applyPatch(doc types.ShadowDocument, patch types.ShadowState, now time.Time) types.ShadowDocument {
	if patch.Desired != nil {
		doc.State.Desired = types.MergeState(doc.State.Desired, patch.Desired)
	}
	if patch.Reported != nil {
		doc.State.Reported = types.MergeState(doc.State.Reported, patch.Reported)
	}
	doc.Version++
	doc.UpdatedAt = now.UTC()
	return doc
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]types.ShadowDocument
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]types.ShadowDocument), now: time.Now}
}

func (s *MemoryStore) Get(_ context.Context, deviceID string) (types.ShadowDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[deviceID], nil
}

func (s *MemoryStore) Apply(_ context.Context, deviceID string, patch types.ShadowState) (types.ShadowDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := applyPatch(s.docs[deviceID], patch, s.now())
	s.docs[deviceID] = doc
	return doc, nil
}

func (s *MemoryStore) Close() error { return nil }
