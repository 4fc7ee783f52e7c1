package bqstore

import (
	"context"

	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// SinkName identifies the time-series sink in logs and metrics.
const SinkName = "time_series"

// LocationLookup labels a device with its location dimension.
type LocationLookup interface {
	Location(ctx context.Context, deviceID string) string
}

// TimeSeriesSink writes one point per numeric measurement of a reading.
// Booleans, strings and nested values are not numeric and are skipped.
type TimeSeriesSink struct {
	inserter        DataBatchInserter[types.TimeSeriesPoint]
	locations       LocationLookup
	defaultLocation string
	logger          zerolog.Logger
}

// NewTimeSeriesSink creates a TimeSeriesSink. A nil locations lookup labels
// every point with defaultLocation, which falls back to "garden" when empty.
func NewTimeSeriesSink(inserter DataBatchInserter[types.TimeSeriesPoint], locations LocationLookup, defaultLocation string, logger zerolog.Logger) *TimeSeriesSink {
	if defaultLocation == "" {
		defaultLocation = fallbackLocation
	}
	return &TimeSeriesSink{
		inserter:        inserter,
		locations:       locations,
		defaultLocation: defaultLocation,
		logger:          logger.With().Str("component", "TimeSeriesSink").Logger(),
	}
}

// Name implements the fanout sink contract.
func (s *TimeSeriesSink) Name() string { return SinkName }

// Write inserts the reading's numeric measurements as one batch. A reading
// with no numeric measurement writes nothing.
func (s *TimeSeriesSink) Write(ctx context.Context, r types.Reading) error {
	values := r.NumericMeasurements()
	if len(values) == 0 {
		s.logger.Debug().Str("device_id", r.DeviceID).Msg("Reading has no numeric measurements, nothing to write.")
		return nil
	}
	location := s.defaultLocation
	if s.locations != nil {
		location = s.locations.Location(ctx, r.DeviceID)
	}
	return s.inserter.InsertBatch(ctx, Points(r, location))
}

const fallbackLocation = "garden"

// Points converts the numeric measurements of r into time-series points
// stamped with the reading's timestamp.
func Points(r types.Reading, location string) []*types.TimeSeriesPoint {
	values := r.NumericMeasurements()
	points := make([]*types.TimeSeriesPoint, 0, len(values))
	ts := r.Timestamp.UTC()
	for _, v := range values {
		points = append(points, &types.TimeSeriesPoint{
			MeasureName:  v.Name,
			MeasureValue: v.Value,
			MeasureType:  types.MeasureTypeDouble,
			Time:         ts,
			DeviceID:     r.DeviceID,
			Location:     location,
		})
	}
	return points
}
