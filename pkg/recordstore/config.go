package recordstore

import (
	"os"
	"strconv"
	"time"
)

// DefaultRetention matches the thirty day expiry put on every reading record.
const DefaultRetention = 30 * 24 * time.Hour

// Default collection names.
const (
	DefaultReadingsCollection = "sensor_data"
	DefaultAlertsCollection   = "irrigation_alerts"
)

// FirestoreConfig holds configuration for the Firestore record stores.
type FirestoreConfig struct {
	ProjectID          string
	ReadingsCollection string
	AlertsCollection   string
	Retention          time.Duration
	WriteTimeout       time.Duration
}

// LoadFirestoreConfigFromEnv loads the store configuration from the
// environment, falling back to the defaults.
func LoadFirestoreConfigFromEnv() *FirestoreConfig {
	cfg := &FirestoreConfig{
		ProjectID:          os.Getenv("GCP_PROJECT_ID"),
		ReadingsCollection: DefaultReadingsCollection,
		AlertsCollection:   DefaultAlertsCollection,
		Retention:          DefaultRetention,
		WriteTimeout:       10 * time.Second,
	}
	if v := os.Getenv("FIRESTORE_READINGS_COLLECTION"); v != "" {
		cfg.ReadingsCollection = v
	}
	if v := os.Getenv("FIRESTORE_ALERTS_COLLECTION"); v != "" {
		cfg.AlertsCollection = v
	}
	if v := os.Getenv("READING_RETENTION_DAYS"); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			cfg.Retention = time.Duration(days) * 24 * time.Hour
		}
	}
	return cfg
}
