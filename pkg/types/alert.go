package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Severity scopes the alert topic.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// ParseSeverity accepts info, warning and critical. An empty string is info.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case "":
		return SeverityInfo, nil
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("unknown alert severity %q", s)
	}
}

// Alert is an immutable alert record. It is published once and persisted once
// per creation.
type Alert struct {
	ID        string    `firestore:"id"`
	Type      string    `firestore:"type"`
	Message   string    `firestore:"message"`
	Severity  Severity  `firestore:"severity"`
	DeviceID  string    `firestore:"device_id"`
	Timestamp time.Time `firestore:"timestamp"`
}

type alertWire struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
	DeviceID  string   `json:"device_id"`
	Timestamp string   `json:"timestamp"`
}

func (a Alert) MarshalJSON() ([]byte, error) {
	return json.Marshal(alertWire{
		ID:        a.ID,
		Type:      a.Type,
		Message:   a.Message,
		Severity:  a.Severity,
		DeviceID:  a.DeviceID,
		Timestamp: FormatTimestamp(a.Timestamp),
	})
}

func (a *Alert) UnmarshalJSON(data []byte) error {
	var w alertWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return err
	}
	*a = Alert{
		ID:        w.ID,
		Type:      w.Type,
		Message:   w.Message,
		Severity:  w.Severity,
		DeviceID:  w.DeviceID,
		Timestamp: ts,
	}
	return nil
}
