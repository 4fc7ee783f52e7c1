package bqstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/bqstore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeSeriesSink_Write(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Numeric measurements become points", func(t *testing.T) {
		inserter := &MockDataBatchInserter[types.TimeSeriesPoint]{}
		sink := bqstore.NewTimeSeriesSink(inserter, staticLocations{"pump-1": "greenhouse"}, "", zerolog.Nop())
		assert.Equal(t, bqstore.SinkName, sink.Name())

		r := types.Reading{
			DeviceID:  "pump-1",
			Timestamp: ts,
			Measurements: map[string]interface{}{
				"soil_moisture": json.Number("42"),
				"temperature":   21.5,
				"watered":       true,
				"status":        "ok",
			},
		}
		require.NoError(t, sink.Write(ctx, r))

		require.Equal(t, 1, inserter.GetCallCount(), "one batch per reading")
		points := inserter.GetReceivedItems()[0]
		require.Len(t, points, 2)

		assert.Equal(t, "soil_moisture", points[0].MeasureName)
		assert.Equal(t, 42.0, points[0].MeasureValue)
		assert.Equal(t, "temperature", points[1].MeasureName)
		assert.Equal(t, 21.5, points[1].MeasureValue)
		for _, p := range points {
			assert.Equal(t, types.MeasureTypeDouble, p.MeasureType)
			assert.Equal(t, "pump-1", p.DeviceID)
			assert.Equal(t, "greenhouse", p.Location)
			assert.Equal(t, ts, p.Time)
		}
	})

	t.Run("No numeric measurements writes nothing", func(t *testing.T) {
		inserter := &MockDataBatchInserter[types.TimeSeriesPoint]{}
		sink := bqstore.NewTimeSeriesSink(inserter, nil, "", zerolog.Nop())

		r := types.Reading{DeviceID: "pump-1", Timestamp: ts, Measurements: map[string]interface{}{"watered": false}}
		require.NoError(t, sink.Write(ctx, r))
		assert.Equal(t, 0, inserter.GetCallCount())
	})

	t.Run("Nil lookup uses the default location", func(t *testing.T) {
		inserter := &MockDataBatchInserter[types.TimeSeriesPoint]{}
		sink := bqstore.NewTimeSeriesSink(inserter, nil, "", zerolog.Nop())

		r := types.Reading{DeviceID: "pump-1", Timestamp: ts, Measurements: map[string]interface{}{"flow": 1}}
		require.NoError(t, sink.Write(ctx, r))
		assert.Equal(t, "garden", inserter.GetReceivedItems()[0][0].Location)
	})

	t.Run("Nil lookup uses the configured location", func(t *testing.T) {
		inserter := &MockDataBatchInserter[types.TimeSeriesPoint]{}
		sink := bqstore.NewTimeSeriesSink(inserter, nil, "orchard", zerolog.Nop())

		r := types.Reading{DeviceID: "pump-1", Timestamp: ts, Measurements: map[string]interface{}{"flow": 1}}
		require.NoError(t, sink.Write(ctx, r))
		assert.Equal(t, "orchard", inserter.GetReceivedItems()[0][0].Location)
	})

	t.Run("Insert errors are returned", func(t *testing.T) {
		inserter := &MockDataBatchInserter[types.TimeSeriesPoint]{
			InsertBatchFn: func(ctx context.Context, items []*types.TimeSeriesPoint) error {
				return errors.New("quota exceeded")
			},
		}
		sink := bqstore.NewTimeSeriesSink(inserter, nil, "", zerolog.Nop())

		r := types.Reading{DeviceID: "pump-1", Timestamp: ts, Measurements: map[string]interface{}{"flow": 1.5}}
		require.ErrorContains(t, sink.Write(ctx, r), "quota exceeded")
	})
}

func TestMovingAverageSQL(t *testing.T) {
	sql := bqstore.MovingAverageSQL("`p.d.t`", 6)
	assert.Contains(t, sql, "ROWS BETWEEN 5 PRECEDING AND CURRENT ROW")
	assert.Contains(t, sql, "FROM `p.d.t`")
	assert.Contains(t, sql, "@device_id")
	assert.Contains(t, sql, "@measure_name")
	assert.Contains(t, sql, "ORDER BY time DESC")
}
