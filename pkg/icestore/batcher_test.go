package icestore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/icestore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reading(device string, minute int) types.Reading {
	return types.Reading{
		DeviceID:     device,
		Timestamp:    time.Date(2026, 5, 1, 10, minute, 0, 0, time.UTC),
		Measurements: map[string]interface{}{"flow": float64(minute)},
	}
}

func TestNewArchiveSink_NilUploader(t *testing.T) {
	_, err := icestore.NewArchiveSink(icestore.ArchiveConfig{}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestArchiveSink_FlushesOnBatchSize(t *testing.T) {
	uploader := &mockUploader{}
	sink, err := icestore.NewArchiveSink(icestore.ArchiveConfig{BatchSize: 2, FlushInterval: time.Hour}, uploader, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, icestore.SinkName, sink.Name())

	ctx := context.Background()
	sink.Start(ctx)
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })

	require.NoError(t, sink.Write(ctx, reading("pump-1", 1)))
	require.NoError(t, sink.Write(ctx, reading("pump-2", 1)))
	require.NoError(t, sink.Write(ctx, reading("pump-1", 2)))

	require.Eventually(t, func() bool { return len(uploader.Batches()) == 1 }, time.Second, 10*time.Millisecond)
	batch := uploader.Batches()[0]
	require.Len(t, batch, 2)
	assert.Equal(t, "pump-1", batch[0].DeviceID)
	assert.Equal(t, "pump-1", batch[1].DeviceID)
}

func TestArchiveSink_FlushesOnInterval(t *testing.T) {
	uploader := &mockUploader{}
	sink, err := icestore.NewArchiveSink(icestore.ArchiveConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond}, uploader, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	sink.Start(ctx)
	t.Cleanup(func() { _ = sink.Stop(context.Background()) })

	require.NoError(t, sink.Write(ctx, reading("pump-1", 1)))
	require.Eventually(t, func() bool { return len(uploader.Batches()) == 1 }, time.Second, 10*time.Millisecond)
}

func TestArchiveSink_StopFlushesPending(t *testing.T) {
	uploader := &mockUploader{}
	sink, err := icestore.NewArchiveSink(icestore.ArchiveConfig{BatchSize: 100, FlushInterval: time.Hour}, uploader, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	sink.Start(ctx)
	require.NoError(t, sink.Write(ctx, reading("pump-1", 1)))
	require.NoError(t, sink.Write(ctx, reading("pump-2", 1)))

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, sink.Stop(stopCtx))

	assert.Len(t, uploader.Batches(), 2)
	assert.True(t, uploader.Closed())
	assert.ErrorIs(t, sink.Write(ctx, reading("pump-1", 2)), icestore.ErrArchiveStopped)
}

func TestArchiveSink_FullBuffer(t *testing.T) {
	uploader := &mockUploader{}
	sink, err := icestore.NewArchiveSink(icestore.ArchiveConfig{BatchSize: 10, BufferSize: 1}, uploader, zerolog.Nop())
	require.NoError(t, err)

	// Not started: nothing drains the buffer.
	ctx := context.Background()
	require.NoError(t, sink.Write(ctx, reading("pump-1", 1)))
	assert.ErrorIs(t, sink.Write(ctx, reading("pump-1", 2)), icestore.ErrArchiveFull)
}

func TestArchiveSink_UploadErrorsAreSwallowed(t *testing.T) {
	uploader := &mockUploader{err: errors.New("bucket gone")}
	sink, err := icestore.NewArchiveSink(icestore.ArchiveConfig{BatchSize: 1, FlushInterval: time.Hour}, uploader, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	sink.Start(ctx)
	require.NoError(t, sink.Write(ctx, reading("pump-1", 1)))
	require.NoError(t, sink.Write(ctx, reading("pump-1", 2)))
	require.Eventually(t, func() bool { return len(uploader.Batches()) == 2 }, time.Second, 10*time.Millisecond)
	require.NoError(t, sink.Stop(ctx))
}
