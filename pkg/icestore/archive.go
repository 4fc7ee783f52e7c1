package icestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-irrigation/pkg/types"
)

// ArchivalRecord is one reading as written to an archive object.
type ArchivalRecord struct {
	ID         string          `json:"id"`
	BatchKey   string          `json:"batchKey"`
	DeviceID   string          `json:"deviceId"`
	Reading    json.RawMessage `json:"reading"`
	ArchivedAt time.Time       `json:"archivedAt"`
}

// BatchKey groups archived readings by day and device, e.g. "2026/05/01/pump-1".
func BatchKey(r types.Reading) string {
	ts := r.Timestamp.UTC()
	return fmt.Sprintf("%d/%02d/%02d/%s", ts.Year(), ts.Month(), ts.Day(), r.DeviceID)
}

// NewArchivalRecord wraps r for archiving.
func NewArchivalRecord(r types.Reading, now time.Time) (*ArchivalRecord, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reading for archive: %w", err)
	}
	return &ArchivalRecord{
		ID:         uuid.NewString(),
		BatchKey:   BatchKey(r),
		DeviceID:   r.DeviceID,
		Reading:    doc,
		ArchivedAt: now.UTC(),
	}, nil
}
