package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Reserved keys in a flattened reading document.
const (
	FieldDeviceID  = "device_id"
	FieldTimestamp = "timestamp"
)

// Reading is one decoded device measurement snapshot. Measurements holds every
// field of the inbound document except device_id and timestamp; unknown fields
// pass through untouched. A Reading is never modified after construction.
type Reading struct {
	DeviceID     string
	Timestamp    time.Time
	Measurements map[string]interface{}
}

// FormatTimestamp renders t the way every store and topic payload expects it:
// RFC3339 in UTC with second precision. The format sorts lexically by time.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Clone returns a copy whose measurement map can be handed to another owner.
func (r Reading) Clone() Reading {
	out := Reading{DeviceID: r.DeviceID, Timestamp: r.Timestamp}
	if r.Measurements != nil {
		out.Measurements = make(map[string]interface{}, len(r.Measurements))
		for k, v := range r.Measurements {
			out.Measurements[k] = v
		}
	}
	return out
}

// Float returns the named measurement as a float64 if it is numeric.
func (r Reading) Float(name string) (float64, bool) {
	v, ok := r.Measurements[name]
	if !ok {
		return 0, false
	}
	return NumericValue(v)
}

// NumericMeasurements returns the numeric measurements sorted by name.
// Booleans, strings and nested documents are skipped.
func (r Reading) NumericMeasurements() []NamedValue {
	out := make([]NamedValue, 0, len(r.Measurements))
	for name, v := range r.Measurements {
		if f, ok := NumericValue(v); ok {
			out = append(out, NamedValue{Name: name, Value: f})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NamedValue is a single numeric measurement.
type NamedValue struct {
	Name  string
	Value float64
}

// NumericValue reports whether v is a JSON or Go number and converts it.
func NumericValue(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// MarshalJSON flattens the reading into a single document with device_id and
// timestamp alongside the measurements.
func (r Reading) MarshalJSON() ([]byte, error) {
	doc := make(map[string]interface{}, len(r.Measurements)+2)
	for k, v := range r.Measurements {
		doc[k] = v
	}
	doc[FieldDeviceID] = r.DeviceID
	doc[FieldTimestamp] = FormatTimestamp(r.Timestamp)
	return json.Marshal(doc)
}

// UnmarshalJSON is the inverse of MarshalJSON. Numbers are kept as json.Number.
func (r *Reading) UnmarshalJSON(data []byte) error {
	doc, err := decodeDocument(data)
	if err != nil {
		return err
	}
	out := Reading{Measurements: doc}
	if id, ok := doc[FieldDeviceID].(string); ok {
		out.DeviceID = id
	}
	if ts, ok := doc[FieldTimestamp].(string); ok {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return fmt.Errorf("invalid reading timestamp %q: %w", ts, err)
		}
		out.Timestamp = parsed.UTC()
	}
	delete(doc, FieldDeviceID)
	delete(doc, FieldTimestamp)
	*r = out
	return nil
}

func decodeDocument(data []byte) (map[string]interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("payload is not a JSON object")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON object")
	}
	return doc, nil
}

// ParseReading decodes an inbound payload into a Reading.
//
// The device id comes from the topic when the topic carries one, otherwise from
// the payload's device_id field. An RFC3339 string timestamp in the payload is
// honoured; anything else (absent, numeric device uptime, unparseable) is
// replaced by receivedAt. A payload that is not a JSON object, or a reading that
// ends up without a device id, is a ParseError.
func ParseReading(topic, topicDeviceID string, payload []byte, receivedAt time.Time) (Reading, error) {
	doc, err := decodeDocument(payload)
	if err != nil {
		return Reading{}, &ParseError{Topic: topic, Err: err}
	}

	deviceID := topicDeviceID
	if deviceID == "" {
		if id, ok := doc[FieldDeviceID].(string); ok {
			deviceID = id
		}
	}
	if deviceID == "" {
		return Reading{}, &ParseError{Topic: topic, Err: fmt.Errorf("no device id in topic or payload")}
	}

	ts := receivedAt
	if raw, ok := doc[FieldTimestamp].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			ts = parsed
		}
	}
	delete(doc, FieldDeviceID)
	delete(doc, FieldTimestamp)

	return Reading{
		DeviceID:     deviceID,
		Timestamp:    ts.UTC().Truncate(time.Second),
		Measurements: doc,
	}, nil
}
