// Package callbacks routes readings to observers registered per topic.
package callbacks

import (
	"context"
	"fmt"
	"sync"

	"github.com/illmade-knight/go-irrigation/pkg/metrics"
	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/rs/zerolog"
)

// Observer is notified of readings on the topic it was registered for. It
// may be called more than once for the same reading and must be idempotent.
type Observer func(ctx context.Context, r types.Reading) error

type entry struct {
	id       uint64
	observer Observer
}

// Registry holds the ordered observer list of every topic.
type Registry struct {
	mu      sync.RWMutex
	topics  map[string][]entry
	nextID  uint64
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// Registration identifies one registered observer.
type Registration struct {
	registry *Registry
	topic    string
	id       uint64
	once     sync.Once
}

// NewRegistry creates an empty Registry.
func NewRegistry(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		topics:  make(map[string][]entry),
		metrics: m,
		logger:  logger.With().Str("component", "CallbackRegistry").Logger(),
	}
}

// Register appends observer to the topic's observer list.
func (r *Registry) Register(topic string, observer Observer) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.topics[topic] = append(r.topics[topic], entry{id: r.nextID, observer: observer})
	return &Registration{registry: r, topic: topic, id: r.nextID}
}

// Unregister removes the observer, keeping the order of the others.
// Calling it more than once is harmless.
func (reg *Registration) Unregister() {
	reg.once.Do(func() {
		reg.registry.remove(reg.topic, reg.id)
	})
}

// Topic returns the topic the observer was registered for.
func (reg *Registration) Topic() string { return reg.topic }

func (r *Registry) remove(topic string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.topics[topic]
	kept := make([]entry, 0, len(current))
	for _, e := range current {
		if e.id != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.topics, topic)
		return
	}
	r.topics[topic] = kept
}

// Count returns the number of observers registered for topic.
func (r *Registry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Dispatch calls every observer of topic in registration order. A failing or
// panicking observer is logged and counted and the next one is still called.
// Registrations made during a dispatch apply from the next dispatch.
func (r *Registry) Dispatch(ctx context.Context, topic string, reading types.Reading) []error {
	r.mu.RLock()
	observers := append([]entry(nil), r.topics[topic]...)
	r.mu.RUnlock()

	var errs []error
	for i, e := range observers {
		if err := r.call(ctx, topic, i, e.observer, reading); err != nil {
			errs = append(errs, err)
			r.metrics.ObserverError(topic)
			r.logger.Error().Err(err).Str("topic", topic).Int("observer", i).Msg("Observer failed.")
		}
	}
	return errs
}

func (r *Registry) call(ctx context.Context, topic string, index int, observer Observer, reading types.Reading) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &types.ObserverError{Topic: topic, Index: index, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	if oerr := observer(ctx, reading.Clone()); oerr != nil {
		return &types.ObserverError{Topic: topic, Index: index, Err: oerr}
	}
	return nil
}
