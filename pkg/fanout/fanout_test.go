package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/fanout"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	name    string
	mu      sync.Mutex
	written []types.Reading
	writeFn func(r types.Reading) error
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, r types.Reading) error {
	s.mu.Lock()
	s.written = append(s.written, r)
	s.mu.Unlock()
	if s.writeFn != nil {
		return s.writeFn(r)
	}
	return nil
}

func (s *recordingSink) Written() []types.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Reading(nil), s.written...)
}

func sample() types.Reading {
	return types.Reading{
		DeviceID:     "pump-1",
		Timestamp:    time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		Measurements: map[string]interface{}{"soil_moisture": 40.0},
	}
}

func TestFanout_AllSinksReceiveReading(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	f := fanout.New([]fanout.Sink{a, nil, b}, nil, zerolog.Nop())
	assert.Equal(t, []string{"a", "b"}, f.Sinks())

	errs := f.Write(context.Background(), sample())
	assert.Empty(t, errs)
	require.Len(t, a.Written(), 1)
	require.Len(t, b.Written(), 1)
	assert.Equal(t, "pump-1", a.Written()[0].DeviceID)
}

func TestFanout_FailureIsIsolated(t *testing.T) {
	failing := &recordingSink{name: "time_series", writeFn: func(types.Reading) error {
		return errors.New("table unavailable")
	}}
	healthy := &recordingSink{name: "keyed_record"}
	f := fanout.New([]fanout.Sink{failing, healthy}, nil, zerolog.Nop())

	errs := f.Write(context.Background(), sample())
	require.Len(t, errs, 1)
	var sinkErr *types.SinkError
	require.ErrorAs(t, errs[0], &sinkErr)
	assert.Equal(t, "time_series", sinkErr.Sink)
	assert.Len(t, healthy.Written(), 1)
}

func TestFanout_PanicIsRecovered(t *testing.T) {
	panicking := &recordingSink{name: "archive", writeFn: func(types.Reading) error {
		panic("nil bucket")
	}}
	healthy := &recordingSink{name: "keyed_record"}
	f := fanout.New([]fanout.Sink{panicking, healthy}, nil, zerolog.Nop())

	var errs []error
	require.NotPanics(t, func() { errs = f.Write(context.Background(), sample()) })
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "nil bucket")
	assert.Len(t, healthy.Written(), 1)
}

func TestFanout_SinksRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)
	blocking := func(types.Reading) error {
		started.Done()
		<-release
		return nil
	}
	a := &recordingSink{name: "a", writeFn: blocking}
	b := &recordingSink{name: "b", writeFn: blocking}
	f := fanout.New([]fanout.Sink{a, b}, nil, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		f.Write(context.Background(), sample())
		close(done)
	}()

	// Both sinks must be in flight at the same time.
	started.Wait()
	close(release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fanout did not complete")
	}
}

func TestFanout_SinksGetIndependentCopies(t *testing.T) {
	mutating := &recordingSink{name: "a", writeFn: func(r types.Reading) error {
		r.Measurements["soil_moisture"] = -1.0
		return nil
	}}
	f := fanout.New([]fanout.Sink{mutating}, nil, zerolog.Nop())

	r := sample()
	f.Write(context.Background(), r)
	assert.Equal(t, 40.0, r.Measurements["soil_moisture"])
}

func TestFanout_NoSinks(t *testing.T) {
	f := fanout.New(nil, nil, zerolog.Nop())
	assert.Nil(t, f.Write(context.Background(), sample()))
}
