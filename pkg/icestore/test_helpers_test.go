package icestore_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/illmade-knight/go-irrigation/pkg/icestore"
)

type mockGCSWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
	attrs  icestore.ObjectAttrs
}

func (m *mockGCSWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("write on closed writer")
	}
	return m.buf.Write(p)
}

func (m *mockGCSWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("already closed")
	}
	m.closed = true
	return nil
}

func (m *mockGCSWriter) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Bytes()
}

type mockGCSObjectHandle struct {
	writer *mockGCSWriter
}

func (m *mockGCSObjectHandle) NewWriter(_ context.Context, attrs icestore.ObjectAttrs) icestore.GCSWriter {
	if m.writer == nil {
		m.writer = &mockGCSWriter{attrs: attrs}
	}
	return m.writer
}

type mockGCSBucketHandle struct {
	mu      sync.Mutex
	objects map[string]*mockGCSObjectHandle
}

func (m *mockGCSBucketHandle) Object(name string) icestore.GCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string]*mockGCSObjectHandle)
	}
	if _, ok := m.objects[name]; !ok {
		m.objects[name] = &mockGCSObjectHandle{}
	}
	return m.objects[name]
}

func (m *mockGCSBucketHandle) snapshot() map[string]*mockGCSObjectHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*mockGCSObjectHandle, len(m.objects))
	for k, v := range m.objects {
		out[k] = v
	}
	return out
}

type mockGCSClient struct {
	bucket *mockGCSBucketHandle
}

func newMockGCSClient() *mockGCSClient {
	return &mockGCSClient{bucket: &mockGCSBucketHandle{}}
}

func (m *mockGCSClient) Bucket(_ string) icestore.GCSBucketHandle {
	return m.bucket
}

// mockUploader records batches handed to it.
type mockUploader struct {
	mu      sync.Mutex
	batches [][]*icestore.ArchivalRecord
	closed  bool
	err     error
}

func (m *mockUploader) UploadBatch(_ context.Context, items []*icestore.ArchivalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, items)
	return m.err
}

func (m *mockUploader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockUploader) Batches() [][]*icestore.ArchivalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*icestore.ArchivalRecord(nil), m.batches...)
}

func (m *mockUploader) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
