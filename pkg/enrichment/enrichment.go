// Package enrichment resolves per-device metadata used to label readings
// before they reach the time-series store.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/cache"
	"github.com/rs/zerolog"
)

// DefaultLocation labels devices that have no location on record.
const DefaultLocation = "garden"

// DeviceMetadata is the stored description of a device.
type DeviceMetadata struct {
	Name     string `firestore:"name" yaml:"name"`
	Location string `firestore:"location" yaml:"location"`
}

// LocationResolver maps a device id onto its location label. Lookups never
// fail: unknown devices and lookup errors resolve to the default location.
type LocationResolver struct {
	fetcher         cache.Fetcher[string, DeviceMetadata]
	defaultLocation string
	timeout         time.Duration
	logger          zerolog.Logger
}

// LocationResolverConfig configures a LocationResolver.
type LocationResolverConfig struct {
	DefaultLocation string
	LookupTimeout   time.Duration
}

// NewLocationResolver creates a resolver on top of fetcher. A nil fetcher
// resolves every device to the default location.
func NewLocationResolver(cfg LocationResolverConfig, fetcher cache.Fetcher[string, DeviceMetadata], logger zerolog.Logger) *LocationResolver {
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = DefaultLocation
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	return &LocationResolver{
		fetcher:         fetcher,
		defaultLocation: cfg.DefaultLocation,
		timeout:         cfg.LookupTimeout,
		logger:          logger.With().Str("component", "LocationResolver").Logger(),
	}
}

// Location returns the location label for deviceID.
func (r *LocationResolver) Location(ctx context.Context, deviceID string) string {
	if r == nil {
		return DefaultLocation
	}
	if r.fetcher == nil {
		return r.defaultLocation
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	meta, err := r.fetcher.Fetch(lookupCtx, deviceID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Device metadata lookup failed, using default location.")
		}
		return r.defaultLocation
	}
	if meta.Location == "" {
		return r.defaultLocation
	}
	return meta.Location
}

// Close closes the underlying fetcher.
func (r *LocationResolver) Close() error {
	if r == nil || r.fetcher == nil {
		return nil
	}
	if err := r.fetcher.Close(); err != nil {
		return fmt.Errorf("error closing metadata fetcher: %w", err)
	}
	return nil
}
