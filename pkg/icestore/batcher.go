// Package icestore archives readings to Google Cloud Storage as gzipped
// JSON-lines objects, batched per day and device.
package icestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// SinkName identifies the archive sink in logs and metrics.
const SinkName = "archive"

var (
	// ErrArchiveFull is returned by Write when the archive buffer is full.
	ErrArchiveFull = errors.New("archive buffer full")
	// ErrArchiveStopped is returned by Write after Stop.
	ErrArchiveStopped = errors.New("archive sink stopped")
)

// ArchiveConfig holds configuration for the ArchiveSink.
type ArchiveConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	UploadTimeout time.Duration
	BufferSize    int
}

// ArchiveSink buffers readings and uploads them in batches keyed by day and
// device. A batch is flushed when it reaches BatchSize, when FlushInterval
// elapses and on Stop. Write only enqueues; upload failures are logged.
type ArchiveSink struct {
	cfg      ArchiveConfig
	uploader DataUploader
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	input  chan *ArchivalRecord
	wg     sync.WaitGroup
}

// NewArchiveSink creates an ArchiveSink in front of uploader.
func NewArchiveSink(cfg ArchiveConfig, uploader DataUploader, logger zerolog.Logger) (*ArchiveSink, error) {
	if uploader == nil {
		return nil, errors.New("archive uploader cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Minute
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.BatchSize * 2
	}
	return &ArchiveSink{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger.With().Str("component", "ArchiveSink").Logger(),
		now:      time.Now,
		input:    make(chan *ArchivalRecord, cfg.BufferSize),
	}, nil
}

// Name implements the fanout sink contract.
func (s *ArchiveSink) Name() string { return SinkName }

// Start begins the batching worker.
func (s *ArchiveSink) Start(ctx context.Context) {
	s.logger.Info().
		Int("batch_size", s.cfg.BatchSize).
		Dur("flush_interval", s.cfg.FlushInterval).
		Msg("Starting archive batcher.")
	s.wg.Add(1)
	go s.worker(context.WithoutCancel(ctx))
}

// Write enqueues r for archiving without waiting for the upload.
func (s *ArchiveSink) Write(_ context.Context, r types.Reading) error {
	rec, err := NewArchivalRecord(r, s.now())
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrArchiveStopped
	}
	select {
	case s.input <- rec:
		return nil
	default:
		return ErrArchiveFull
	}
}

// Stop flushes pending batches and closes the uploader.
func (s *ArchiveSink) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.input)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if err := s.uploader.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing archive uploader.")
		}
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Archive sink stopped gracefully.")
		return nil
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for archive sink to stop.")
		return ctx.Err()
	}
}

func (s *ArchiveSink) worker(ctx context.Context) {
	defer s.wg.Done()
	batches := make(map[string][]*ArchivalRecord)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	flushAll := func() {
		for key, batch := range batches {
			s.flush(ctx, batch)
			delete(batches, key)
		}
	}

	for {
		select {
		case rec, ok := <-s.input:
			if !ok {
				flushAll()
				return
			}
			batches[rec.BatchKey] = append(batches[rec.BatchKey], rec)
			if len(batches[rec.BatchKey]) >= s.cfg.BatchSize {
				s.flush(ctx, batches[rec.BatchKey])
				delete(batches, rec.BatchKey)
			}
		case <-ticker.C:
			flushAll()
		}
	}
}

func (s *ArchiveSink) flush(ctx context.Context, batch []*ArchivalRecord) {
	uploadCtx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	if err := s.uploader.UploadBatch(uploadCtx, batch); err != nil {
		s.logger.Error().Err(err).Int("batch_size", len(batch)).Str("batch_key", batch[0].BatchKey).Msg("Failed to upload archive batch.")
		return
	}
	s.logger.Debug().Int("batch_size", len(batch)).Str("batch_key", batch[0].BatchKey).Msg("Archive batch uploaded.")
}
