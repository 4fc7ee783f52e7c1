package messagepipeline_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
)

// MockMessageConsumer is a mock implementation of the MessageConsumer interface.
// It is designed to be used in unit tests to simulate a message source.
type MockMessageConsumer struct {
	msgChan    chan messagepipeline.Message
	doneChan   chan struct{}
	stopOnce   sync.Once
	startErr   error
	mu         sync.Mutex
	startCount int
	stopCount  int
}

// NewMockMessageConsumer creates a new mock consumer with a buffered channel.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &MockMessageConsumer{
		msgChan:  make(chan messagepipeline.Message, bufferSize),
		doneChan: make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan messagepipeline.Message {
	return m.msgChan
}

func (m *MockMessageConsumer) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCount++
	return m.startErr
}

// Stop closes the message and done channels once.
func (m *MockMessageConsumer) Stop(_ context.Context) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopCount++
		m.mu.Unlock()
		close(m.msgChan)
		close(m.doneChan)
	})
	return nil
}

func (m *MockMessageConsumer) Done() <-chan struct{} {
	return m.doneChan
}

// Push injects a message into the mock consumer's channel.
func (m *MockMessageConsumer) Push(msg messagepipeline.Message) {
	m.msgChan <- msg
}

func (m *MockMessageConsumer) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

func (m *MockMessageConsumer) GetStartCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCount
}

func (m *MockMessageConsumer) GetStopCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCount
}

func newTestMessage(id, topic, payload string) messagepipeline.Message {
	return messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:      id,
			Payload: []byte(payload),
		},
		Attributes: map[string]string{messagepipeline.AttrMqttTopic: topic},
	}
}
