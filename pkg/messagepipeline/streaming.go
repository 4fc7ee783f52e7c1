package messagepipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog"
)

// KeyedStreamingService consumes messages and processes them on a fixed pool of
// workers. Every message is routed to the worker owning its key, so messages
// sharing a key are processed one at a time in arrival order while different
// keys proceed in parallel.
type KeyedStreamingService struct {
	numWorkers int
	bufferSize int
	consumer   MessageConsumer
	key        KeyExtractor
	processor  MessageProcessor
	logger     zerolog.Logger

	lanes        []chan Message
	dispatchDone chan struct{}
	wg           sync.WaitGroup
}

// KeyedStreamingServiceConfig holds configuration for a KeyedStreamingService.
type KeyedStreamingServiceConfig struct {
	NumWorkers int
	// WorkerBufferSize bounds each worker's queue. A full queue blocks the
	// dispatcher, which in turn applies backpressure to the consumer.
	WorkerBufferSize int
}

// NewKeyedStreamingService creates a new KeyedStreamingService.
func NewKeyedStreamingService(
	cfg KeyedStreamingServiceConfig,
	consumer MessageConsumer,
	key KeyExtractor,
	processor MessageProcessor,
	logger zerolog.Logger,
) (*KeyedStreamingService, error) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 4
	}
	if cfg.WorkerBufferSize <= 0 {
		cfg.WorkerBufferSize = 100
	}
	if consumer == nil {
		return nil, fmt.Errorf("consumer cannot be nil")
	}
	if key == nil {
		return nil, fmt.Errorf("key extractor cannot be nil")
	}
	if processor == nil {
		return nil, fmt.Errorf("processor cannot be nil")
	}

	return &KeyedStreamingService{
		numWorkers: cfg.NumWorkers,
		bufferSize: cfg.WorkerBufferSize,
		consumer:   consumer,
		key:        key,
		processor:  processor,
		logger:     logger.With().Str("service", "KeyedStreamingService").Logger(),
	}, nil
}

// Start launches the workers and the dispatch loop, then starts the consumer.
// Cancelling ctx does not end processing: every message the consumer has
// delivered runs to completion, and the pipeline drains only through Stop.
func (s *KeyedStreamingService) Start(ctx context.Context) error {
	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting keyed streaming service...")

	s.lanes = make([]chan Message, s.numWorkers)
	s.wg.Add(s.numWorkers)
	for i := range s.lanes {
		s.lanes[i] = make(chan Message, s.bufferSize)
		go s.worker(context.WithoutCancel(ctx), i, s.lanes[i])
	}

	if err := s.consumer.Start(ctx); err != nil {
		for _, lane := range s.lanes {
			close(lane)
		}
		s.wg.Wait()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.dispatchDone = make(chan struct{})
	go s.dispatch()

	s.logger.Info().Msg("Keyed streaming service started successfully.")
	return nil
}

// Stop stops the consumer, lets the workers drain their queues, and waits for
// them within the deadline of ctx.
func (s *KeyedStreamingService) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping keyed streaming service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		if s.dispatchDone != nil {
			<-s.dispatchDone
		}
		s.wg.Wait()
		close(workerDone)
	}()

	select {
	case <-workerDone:
		s.logger.Info().Msg("All processing workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for processing workers to finish.")
		return ctx.Err()
	}

	s.logger.Info().Msg("Keyed streaming service stopped.")
	return nil
}

// LaneFor returns the index of the worker that owns key.
func LaneFor(key string, numWorkers int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(numWorkers))
}

// dispatch moves messages from the consumer onto the owning worker's queue.
// It runs until the consumer channel closes, which Stop guarantees, so every
// message the consumer accepted reaches a worker. It closes every queue on exit.
func (s *KeyedStreamingService) dispatch() {
	defer close(s.dispatchDone)
	defer func() {
		for _, lane := range s.lanes {
			close(lane)
		}
	}()

	for msg := range s.consumer.Messages() {
		s.lanes[LaneFor(s.key(&msg), s.numWorkers)] <- msg
	}
	s.logger.Info().Msg("Consumer channel closed, dispatch loop exiting.")
}

// worker processes its queue until the queue is closed and empty.
func (s *KeyedStreamingService) worker(ctx context.Context, workerID int, lane <-chan Message) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")
	for msg := range lane {
		s.process(ctx, msg, workerID)
	}
	s.logger.Debug().Int("worker_id", workerID).Msg("Worker queue closed, worker exiting.")
}

func (s *KeyedStreamingService) process(ctx context.Context, msg Message, workerID int) {
	if err := s.processor(ctx, &msg); err != nil {
		s.logger.Error().Err(err).Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Processor failed to handle message, Nacking.")
		msg.nack()
		return
	}
	s.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Message processed successfully, Acking.")
	msg.ack()
}
