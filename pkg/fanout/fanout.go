// Package fanout hands every reading to all persistence sinks concurrently.
// A failing or panicking sink is logged and counted; it never affects the
// other sinks or the caller.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// Sink persists readings.
type Sink interface {
	Name() string
	Write(ctx context.Context, r types.Reading) error
}

// Fanout writes each reading to every configured sink.
type Fanout struct {
	sinks   []Sink
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Fanout over sinks. Nil sinks are ignored.
func New(sinks []Sink, m *metrics.Metrics, logger zerolog.Logger) *Fanout {
	kept := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Fanout{
		sinks:   kept,
		metrics: m,
		logger:  logger.With().Str("component", "Fanout").Logger(),
	}
}

// Sinks returns the names of the configured sinks.
func (f *Fanout) Sinks() []string {
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.Name()
	}
	return names
}

// Write runs every sink concurrently on r and waits for all of them. The
// returned errors are informational only, one per failed sink.
func (f *Fanout) Write(ctx context.Context, r types.Reading) []error {
	if len(f.sinks) == 0 {
		return nil
	}

	errs := make([]error, len(f.sinks))
	var wg sync.WaitGroup
	for i, sink := range f.sinks {
		wg.Add(1)
		go func(i int, sink Sink) {
			defer wg.Done()
			errs[i] = f.writeOne(ctx, sink, r)
		}(i, sink)
	}
	wg.Wait()

	var failed []error
	for _, err := range errs {
		if err != nil {
			failed = append(failed, err)
		}
	}
	return failed
}

func (f *Fanout) writeOne(ctx context.Context, sink Sink, r types.Reading) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &types.SinkError{Sink: sink.Name(), Err: fmt.Errorf("panic: %v", p)}
		}
		f.metrics.SinkWrite(sink.Name(), err)
		if err != nil {
			f.logger.Error().Err(err).
				Str("sink", sink.Name()).
				Str("device_id", r.DeviceID).
				Time("reading_time", r.Timestamp).
				Msg("Sink write failed.")
		}
	}()

	if werr := sink.Write(ctx, r.Clone()); werr != nil {
		return &types.SinkError{Sink: sink.Name(), Err: werr}
	}
	return nil
}
