package ingestion_test

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/messagepipeline"
	"github.com/illmade-knight/go-irrigation/pkg/types"
)

type fakeConsumer struct {
	msgs     chan messagepipeline.Message
	done     chan struct{}
	stopOnce sync.Once
	startErr error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		msgs: make(chan messagepipeline.Message, 100),
		done: make(chan struct{}),
	}
}

func (c *fakeConsumer) Messages() <-chan messagepipeline.Message { return c.msgs }
func (c *fakeConsumer) Start(_ context.Context) error            { return c.startErr }
func (c *fakeConsumer) Done() <-chan struct{}                    { return c.done }

func (c *fakeConsumer) Stop(_ context.Context) error {
	c.stopOnce.Do(func() {
		close(c.msgs)
		close(c.done)
	})
	return nil
}

func (c *fakeConsumer) push(topic, payload string, receivedAt time.Time) {
	c.msgs <- messagepipeline.Message{
		MessageData: messagepipeline.MessageData{
			ID:          topic + "@" + receivedAt.String(),
			Payload:     []byte(payload),
			PublishTime: receivedAt,
		},
		Attributes: map[string]string{messagepipeline.AttrMqttTopic: topic},
	}
}

type published struct {
	topic   string
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, published{topic: topic, payload: payload})
	return p.err
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, s := range p.sent {
		out[i] = s.topic
	}
	return out
}

type recordingSink struct {
	name     string
	mu       sync.Mutex
	readings []types.Reading
	err      error
	panics   bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, r types.Reading) error {
	if s.panics {
		panic("sink exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

func (s *recordingSink) all() []types.Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Reading(nil), s.readings...)
}

type recordingInserter struct {
	mu      sync.Mutex
	batches [][]*types.TimeSeriesPoint
}

func (i *recordingInserter) InsertBatch(_ context.Context, items []*types.TimeSeriesPoint) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.batches = append(i.batches, items)
	return nil
}

func (i *recordingInserter) Close() error { return nil }

func (i *recordingInserter) snapshot() [][]*types.TimeSeriesPoint {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([][]*types.TimeSeriesPoint(nil), i.batches...)
}

type alertStore struct {
	mu     sync.Mutex
	alerts []types.Alert
	err    error
}

func (s *alertStore) Save(_ context.Context, a types.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return s.err
}

type historyStore struct {
	deviceID string
	since    time.Time
	readings []types.Reading
	err      error
}

func (h *historyStore) History(_ context.Context, deviceID string, since time.Time) ([]types.Reading, error) {
	h.deviceID = deviceID
	h.since = since
	return h.readings, h.err
}

type deadLetters struct {
	mu     sync.Mutex
	topics []string
}

func (d *deadLetters) Forward(_ context.Context, msg *messagepipeline.Message, _ error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.topics = append(d.topics, msg.Topic())
	return nil
}

func (d *deadLetters) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.topics)
}

type seriesQuery struct {
	deviceID string
	measure  string
	lookback time.Duration
	samples  []types.SeriesSample
}

func (q *seriesQuery) MovingAverage(_ context.Context, deviceID, measureName string, lookback time.Duration) ([]types.SeriesSample, error) {
	q.deviceID = deviceID
	q.measure = measureName
	q.lookback = lookback
	return q.samples, nil
}

type alertLog struct {
	limit  int
	alerts []types.Alert
}

func (a *alertLog) Recent(_ context.Context, _ string, limit int) ([]types.Alert, error) {
	a.limit = limit
	return a.alerts, nil
}

type slowSink struct {
	recordingSink
	delay time.Duration
}

func (s *slowSink) Write(ctx context.Context, r types.Reading) error {
	time.Sleep(s.delay)
	return s.recordingSink.Write(ctx, r)
}
