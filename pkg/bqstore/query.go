package bqstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

// DefaultMovingAverageWindow is the number of rows averaged per sample.
const DefaultMovingAverageWindow = 6

// TimeSeriesQuery reads measurements back from the time-series table.
type TimeSeriesQuery struct {
	client *bigquery.Client
	table  string
	window int
	logger zerolog.Logger
}

// NewTimeSeriesQuery creates a query helper for the table in cfg. A window
// below one uses DefaultMovingAverageWindow.
func NewTimeSeriesQuery(client *bigquery.Client, cfg *BigQueryDatasetConfig, window int, logger zerolog.Logger) (*TimeSeriesQuery, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil || cfg.DatasetID == "" || cfg.TableID == "" {
		return nil, errors.New("dataset and table are required")
	}
	if window < 1 {
		window = DefaultMovingAverageWindow
	}
	return &TimeSeriesQuery{
		client: client,
		table:  fmt.Sprintf("`%s.%s.%s`", client.Project(), cfg.DatasetID, cfg.TableID),
		window: window,
		logger: logger.With().Str("component", "TimeSeriesQuery").Logger(),
	}, nil
}

// MovingAverageSQL builds the moving-average query over table. Each row is
// averaged with the window-1 rows before it; results are newest first.
func MovingAverageSQL(table string, window int) string {
	return fmt.Sprintf(`SELECT time, measure_value AS value,
  AVG(measure_value) OVER (ORDER BY time ROWS BETWEEN %d PRECEDING AND CURRENT ROW) AS moving_avg
FROM %s
WHERE device_id = @device_id AND measure_name = @measure_name AND time >= @since
ORDER BY time DESC`, window-1, table)
}

// MovingAverage returns the samples of one measurement of a device recorded
// within the last lookback, newest first.
func (q *TimeSeriesQuery) MovingAverage(ctx context.Context, deviceID, measureName string, lookback time.Duration) ([]types.SeriesSample, error) {
	query := q.client.Query(MovingAverageSQL(q.table, q.window))
	query.Parameters = []bigquery.QueryParameter{
		{Name: "device_id", Value: deviceID},
		{Name: "measure_name", Value: measureName},
		{Name: "since", Value: time.Now().UTC().Add(-lookback)},
	}

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("moving average query for %s/%s: %w", deviceID, measureName, err)
	}

	var out []types.SeriesSample
	for {
		var s types.SeriesSample
		err := it.Next(&s)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading moving average rows: %w", err)
		}
		out = append(out, s)
	}
	q.logger.Debug().Str("device_id", deviceID).Str("measure", measureName).Int("rows", len(out)).Msg("Moving average query complete.")
	return out, nil
}
