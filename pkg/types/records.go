package types

import "time"

// MeasureTypeDouble is the only measure type the time-series sink writes.
const MeasureTypeDouble = "DOUBLE"

// ReadingRecord is the keyed-record form of a Reading, keyed by device id and
// timestamp. Expiry is a retention hint for the store's TTL policy.
type ReadingRecord struct {
	DeviceID  string    `firestore:"device_id"`
	Timestamp string    `firestore:"timestamp"`
	Data      string    `firestore:"data"`
	Expiry    time.Time `firestore:"expiry"`
}

// TimeSeriesPoint is one numeric measurement in the time-series store.
type TimeSeriesPoint struct {
	MeasureName  string    `bigquery:"measure_name"`
	MeasureValue float64   `bigquery:"measure_value"`
	MeasureType  string    `bigquery:"measure_type"`
	Time         time.Time `bigquery:"time"`
	DeviceID     string    `bigquery:"device_id"`
	Location     string    `bigquery:"location"`
}

// SeriesSample is one row of a time-series query with its trailing moving average.
type SeriesSample struct {
	Time      time.Time `bigquery:"time"`
	Value     float64   `bigquery:"value"`
	MovingAvg float64   `bigquery:"moving_avg"`
}
