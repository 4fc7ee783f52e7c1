package messagepipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// SimplePublisher defines a direct, non-batching publisher. The ingestion core
// uses it to relay readings and to dead-letter unparseable payloads.
type SimplePublisher interface {
	Publish(ctx context.Context, payload []byte, attributes map[string]string) error
	// Stop flushes any pending messages and accepts a context for timeout control.
	Stop(ctx context.Context) error
}

// GoogleSimplePublisherConfig holds configuration for a GoogleSimplePublisher.
type GoogleSimplePublisherConfig struct {
	TopicID              string
	TopicExistsTimeout   time.Duration
	PublishResultTimeout time.Duration
}

// NewGoogleSimplePublisherDefaults returns a config for topicID with sensible
// timeouts. PUBSUB_PUBLISH_RESULT_TIMEOUT overrides the result timeout.
func NewGoogleSimplePublisherDefaults(topicID string) *GoogleSimplePublisherConfig {
	cfg := &GoogleSimplePublisherConfig{
		TopicID:              topicID,
		TopicExistsTimeout:   15 * time.Second,
		PublishResultTimeout: 30 * time.Second,
	}
	if rt := os.Getenv("PUBSUB_PUBLISH_RESULT_TIMEOUT"); rt != "" {
		if val, err := time.ParseDuration(rt); err == nil {
			cfg.PublishResultTimeout = val
		}
	}
	return cfg
}

// GoogleSimplePublisher implements a direct-to-Pub/Sub publisher.
type GoogleSimplePublisher struct {
	topic         *pubsub.Topic
	logger        zerolog.Logger
	resultTimeout time.Duration
	pending       sync.WaitGroup
}

// NewGoogleSimplePublisher creates a new simple, non-batching publisher.
// It verifies that the target topic exists before returning.
func NewGoogleSimplePublisher(
	ctx context.Context,
	cfg *GoogleSimplePublisherConfig,
	client *pubsub.Client,
	logger zerolog.Logger,
) (*GoogleSimplePublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(cfg.TopicID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.TopicExistsTimeout)
	defer cancel()
	exists, err := topic.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", cfg.TopicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", cfg.TopicID)
	}

	return &GoogleSimplePublisher{
		topic:         topic,
		logger:        logger.With().Str("component", "GoogleSimplePublisher").Str("topic_id", cfg.TopicID).Logger(),
		resultTimeout: cfg.PublishResultTimeout,
	}, nil
}

// Publish queues a single message. It returns once the message is queued and
// logs the final result of the publish operation asynchronously.
func (p *GoogleSimplePublisher) Publish(ctx context.Context, payload []byte, attributes map[string]string) error {
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: attributes,
	})

	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		// A fresh context so a short-lived publish context does not cancel the wait.
		getCtx, cancel := context.WithTimeout(context.Background(), p.resultTimeout)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			p.logger.Error().Err(err).Msg("Failed to publish message.")
			return
		}
		p.logger.Debug().Str("published_msg_id", msgID).Msg("Message sent successfully.")
	}()

	return nil
}

// Stop flushes pending messages for the topic, respecting the context's timeout.
func (p *GoogleSimplePublisher) Stop(ctx context.Context) error {
	if p.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		p.topic.Stop()
		p.pending.Wait()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
