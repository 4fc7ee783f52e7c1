package types

import (
	"encoding/json"
	"time"
)

// ShadowState is the desired/reported pair of a device shadow.
type ShadowState struct {
	Desired  map[string]interface{} `json:"desired,omitempty" firestore:"desired,omitempty"`
	Reported map[string]interface{} `json:"reported,omitempty" firestore:"reported,omitempty"`
}

// ShadowDocument is the stored shadow of one device. The core writes only the
// desired side; reported is owned by the device.
type ShadowDocument struct {
	State     ShadowState `json:"state" firestore:"state"`
	Version   int64       `json:"version" firestore:"version"`
	UpdatedAt time.Time   `json:"updatedAt" firestore:"updated_at"`
}

// MergeState applies update onto base recursively and returns a new map.
// A nil value in update deletes the key; nested documents are merged key by key.
func MergeState(base, update map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		if v == nil {
			delete(out, k)
			continue
		}
		nested, isMap := v.(map[string]interface{})
		existing, hadMap := out[k].(map[string]interface{})
		if isMap && hadMap {
			out[k] = MergeState(existing, nested)
			continue
		}
		out[k] = v
	}
	return out
}

// NativeNumbers returns a copy of state with every json.Number replaced by an
// int64 when it is integral and a float64 otherwise, descending into nested
// documents and lists. Shadow backends then store numbers as numbers.
func NativeNumbers(state map[string]interface{}) map[string]interface{} {
	if state == nil {
		return nil
	}
	out := make(map[string]interface{}, len(state))
	for k, v := range state {
		out[k] = nativeNumber(v)
	}
	return out
}

func nativeNumber(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}:
		return NativeNumbers(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = nativeNumber(e)
		}
		return out
	default:
		return v
	}
}
