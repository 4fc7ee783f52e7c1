package bqstore_test

import (
	"context"
	"sync"
)

// MockDataBatchInserter is a mock implementation of bqstore.DataBatchInserter.
type MockDataBatchInserter[T any] struct {
	mu            sync.Mutex
	receivedItems [][]*T
	callCount     int
	InsertBatchFn func(ctx context.Context, items []*T) error
}

func (m *MockDataBatchInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.receivedItems = append(m.receivedItems, items)
	if m.InsertBatchFn != nil {
		return m.InsertBatchFn(ctx, items)
	}
	return nil
}

func (m *MockDataBatchInserter[T]) Close() error { return nil }

func (m *MockDataBatchInserter[T]) GetReceivedItems() [][]*T {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.receivedItems
}

func (m *MockDataBatchInserter[T]) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

type staticLocations map[string]string

func (s staticLocations) Location(_ context.Context, deviceID string) string {
	if loc, ok := s[deviceID]; ok {
		return loc
	}
	return "garden"
}
