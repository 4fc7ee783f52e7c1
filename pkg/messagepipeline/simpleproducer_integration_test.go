//go:build integration

package messagepipeline_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadingRelay_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	const (
		projectID = "test-relay-project"
		topicID   = "sensor-readings"
		subID     = "sensor-readings-verifier"
	)

	pubsubEmulatorCfg := emulators.GetDefaultPubsubConfig(projectID, map[string]string{
		topicID: subID,
	})
	emulatorConn := emulators.SetupPubsubEmulator(t, ctx, pubsubEmulatorCfg)

	client, err := pubsub.NewClient(ctx, projectID, emulatorConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, client.Close())
	})

	publisher, err := messagepipeline.NewGoogleSimplePublisher(ctx, messagepipeline.NewGoogleSimplePublisherDefaults(topicID), client, zerolog.Nop())
	require.NoError(t, err)
	relay := messagepipeline.NewReadingRelay(publisher, zerolog.Nop())
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		assert.NoError(t, relay.Stop(stopCtx))
	})

	reading := types.Reading{
		DeviceID:     "pump-1",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Measurements: map[string]interface{}{"moisture": 42.0, "temperature": 21.0},
	}
	require.NoError(t, relay.Relay(ctx, reading))

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 10*time.Second)
	t.Cleanup(receiveCancel)
	var received *pubsub.Message
	err = client.Subscription(subID).Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
		msg.Ack()
		if received == nil {
			received = msg
			receiveCancel()
		}
	})
	require.NoError(t, err)
	require.NotNil(t, received, "did not receive the relayed reading")

	var got types.Reading
	require.NoError(t, got.UnmarshalJSON(received.Data))
	assert.Equal(t, "pump-1", got.DeviceID)
	assert.Equal(t, reading.Timestamp, got.Timestamp)
	assert.Equal(t, "pump-1", received.Attributes[messagepipeline.AttrDeviceID])
}
