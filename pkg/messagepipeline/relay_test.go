package messagepipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishedMessage struct {
	payload    []byte
	attributes map[string]string
}

type mockSimplePublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	stopped   bool
}

func (m *mockSimplePublisher) Publish(_ context.Context, payload []byte, attributes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{payload: payload, attributes: attributes})
	return nil
}

func (m *mockSimplePublisher) Stop(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

func TestReadingRelay_Relay(t *testing.T) {
	// Arrange
	pub := &mockSimplePublisher{}
	relay := messagepipeline.NewReadingRelay(pub, zerolog.Nop())
	reading := types.Reading{
		DeviceID:     "pump-1",
		Timestamp:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Measurements: map[string]interface{}{"moisture": 42.0},
	}

	// Act
	require.NoError(t, relay.Relay(context.Background(), reading))

	// Assert
	require.Len(t, pub.published, 1)
	assert.Equal(t, "pump-1", pub.published[0].attributes[messagepipeline.AttrDeviceID])
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.published[0].payload, &doc))
	assert.Equal(t, "pump-1", doc["device_id"])
	assert.Equal(t, 42.0, doc["moisture"])

	require.NoError(t, relay.Stop(context.Background()))
	assert.True(t, pub.stopped)
}

func TestReadingRelay_PublishFailure(t *testing.T) {
	pub := &mockSimplePublisher{err: errors.New("topic gone")}
	relay := messagepipeline.NewReadingRelay(pub, zerolog.Nop())

	err := relay.Relay(context.Background(), types.Reading{DeviceID: "pump-1", Timestamp: time.Now()})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "topic gone")
}

func TestDeadLetterPublisher_Forward(t *testing.T) {
	// Arrange
	pub := &mockSimplePublisher{}
	dlq := messagepipeline.NewDeadLetterPublisher(pub, zerolog.Nop())
	msg := &messagepipeline.Message{
		MessageData: messagepipeline.MessageData{ID: "7", Payload: []byte("not json")},
		Attributes:  map[string]string{messagepipeline.AttrMqttTopic: "irrigation/pump-1/sensors"},
	}

	// Act
	require.NoError(t, dlq.Forward(context.Background(), msg, errors.New("invalid character")))

	// Assert
	require.Len(t, pub.published, 1)
	assert.Equal(t, []byte("not json"), pub.published[0].payload)
	assert.Equal(t, "irrigation/pump-1/sensors", pub.published[0].attributes[messagepipeline.AttrMqttTopic])
	assert.Equal(t, "invalid character", pub.published[0].attributes[messagepipeline.AttrError])
}

func TestDeadLetterPublisher_ForwardFailure(t *testing.T) {
	pub := &mockSimplePublisher{err: errors.New("unavailable")}
	dlq := messagepipeline.NewDeadLetterPublisher(pub, zerolog.Nop())
	msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "8"}}

	err := dlq.Forward(context.Background(), msg, nil)

	require.Error(t, err)
}
