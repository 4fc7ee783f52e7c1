package enrichment

import (
	"context"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-irrigation/pkg/cache"
	"github.com/rs/zerolog"
)

// knownOrEmpty turns a missing document into an empty DeviceMetadata so the
// cache in front of it remembers unknown devices too.
type knownOrEmpty struct {
	source cache.Fetcher[string, DeviceMetadata]
	logger zerolog.Logger
}

func (k knownOrEmpty) Fetch(ctx context.Context, deviceID string) (DeviceMetadata, error) {
	meta, err := k.source.Fetch(ctx, deviceID)
	if errors.Is(err, cache.ErrNotFound) {
		k.logger.Debug().Str("device_id", deviceID).Msg("No metadata on record for device.")
		return DeviceMetadata{}, nil
	}
	return meta, err
}

func (k knownOrEmpty) Close() error {
	return k.source.Close()
}

// NewCachedMetadataFetcher puts a bounded LRU cache in front of source.
// Devices missing from source are cached as empty metadata.
func NewCachedMetadataFetcher(
	cfg cache.LRUConfig,
	source cache.Fetcher[string, DeviceMetadata],
	logger zerolog.Logger,
) (cache.Fetcher[string, DeviceMetadata], error) {
	if source == nil {
		return nil, fmt.Errorf("metadata source cannot be nil")
	}
	lru, err := cache.NewInMemoryLRUCache[string, DeviceMetadata](cfg, knownOrEmpty{
		source: source,
		logger: logger.With().Str("component", "MetadataFetcher").Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}
	return lru, nil
}
