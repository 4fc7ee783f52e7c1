//go:build integration

package recordstore_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-irrigation/pkg/recordstore"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirestoreStores_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	const projectID = "test-project"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &recordstore.FirestoreConfig{
		ProjectID:          projectID,
		ReadingsCollection: recordstore.DefaultReadingsCollection,
		AlertsCollection:   recordstore.DefaultAlertsCollection,
	}

	t.Run("Readings", func(t *testing.T) {
		store, err := recordstore.NewReadingStore(cfg, client, zerolog.Nop())
		require.NoError(t, err)

		now := time.Now().UTC().Truncate(time.Second)
		old := types.Reading{DeviceID: "pump-1", Timestamp: now.Add(-10 * 24 * time.Hour), Measurements: map[string]interface{}{"soil_moisture": 10.0}}
		recent := types.Reading{DeviceID: "pump-1", Timestamp: now.Add(-time.Hour), Measurements: map[string]interface{}{"soil_moisture": 20.0}}
		latest := types.Reading{DeviceID: "pump-1", Timestamp: now, Measurements: map[string]interface{}{"soil_moisture": 30.0}}
		other := types.Reading{DeviceID: "pump-2", Timestamp: now, Measurements: map[string]interface{}{"soil_moisture": 99.0}}

		for _, r := range []types.Reading{latest, old, recent, other} {
			require.NoError(t, store.Write(ctx, r))
		}
		// Same key twice is one document.
		require.NoError(t, store.Write(ctx, latest))

		history, err := store.History(ctx, "pump-1", now.Add(-24*time.Hour))
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.True(t, history[0].Timestamp.Equal(recent.Timestamp))
		assert.True(t, history[1].Timestamp.Equal(latest.Timestamp))
		v, ok := history[1].Float("soil_moisture")
		require.True(t, ok)
		assert.Equal(t, 30.0, v)

		snap, err := client.Collection(cfg.ReadingsCollection).Doc(recordstore.DocumentID(latest)).Get(ctx)
		require.NoError(t, err)
		var rec types.ReadingRecord
		require.NoError(t, snap.DataTo(&rec))
		assert.WithinDuration(t, time.Now().Add(recordstore.DefaultRetention), rec.Expiry, time.Minute)
	})

	t.Run("Alerts", func(t *testing.T) {
		store, err := recordstore.NewAlertStore(cfg, client, zerolog.Nop())
		require.NoError(t, err)

		base := time.Now().UTC().Truncate(time.Second)
		first := types.Alert{ID: "a-1", Type: "low_water", Message: "tank low", Severity: types.SeverityWarning, DeviceID: "pump-1", Timestamp: base.Add(-time.Minute)}
		second := types.Alert{ID: "a-2", Type: "leak", Message: "leak detected", Severity: types.SeverityCritical, DeviceID: "pump-1", Timestamp: base}
		require.NoError(t, store.Save(ctx, first))
		require.NoError(t, store.Save(ctx, second))

		alerts, err := store.Recent(ctx, "pump-1", 10)
		require.NoError(t, err)
		require.Len(t, alerts, 2)
		assert.Equal(t, "a-2", alerts[0].ID)
		assert.Equal(t, types.SeverityCritical, alerts[0].Severity)
	})
}
