package messagepipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// GooglePubsubConsumerConfig configures a consumer of device messages that a
// broker bridge forwards into Pub/Sub.
type GooglePubsubConsumerConfig struct {
	SubscriptionID         string
	MaxOutstandingMessages int
	NumGoroutines          int
	// TopicAttribute names the message attribute carrying the original
	// device topic.
	TopicAttribute string
	ExistsTimeout  time.Duration
	StopTimeout    time.Duration
}

// NewGooglePubsubConsumerDefaults returns a config for subID with sensible
// defaults.
func NewGooglePubsubConsumerDefaults(subID string) *GooglePubsubConsumerConfig {
	return &GooglePubsubConsumerConfig{
		SubscriptionID:         subID,
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
		TopicAttribute:         AttrMqttTopic,
		ExistsTimeout:          20 * time.Second,
		StopTimeout:            30 * time.Second,
	}
}

// GooglePubsubConsumer implements MessageConsumer over a Pub/Sub
// subscription. Messages are acked only after the pipeline has processed
// them.
type GooglePubsubConsumer struct {
	subscription       *pubsub.Subscription
	topicAttribute     string
	stopTimeout        time.Duration
	logger             zerolog.Logger
	outputChan         chan Message
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubsubConsumer checks that the subscription exists and prepares a
// consumer for it.
func NewGooglePubsubConsumer(ctx context.Context, cfg *GooglePubsubConsumerConfig, client *pubsub.Client, logger zerolog.Logger) (*GooglePubsubConsumer, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if cfg.TopicAttribute == "" {
		cfg.TopicAttribute = AttrMqttTopic
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	if cfg.ExistsTimeout <= 0 {
		cfg.ExistsTimeout = 20 * time.Second
	}
	sub := client.Subscription(cfg.SubscriptionID)

	existsCtx, cancel := context.WithTimeout(ctx, cfg.ExistsTimeout)
	defer cancel()
	exists, err := sub.Exists(existsCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for subscription %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		return nil, fmt.Errorf("subscription %s does not exist", cfg.SubscriptionID)
	}

	sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines

	return &GooglePubsubConsumer{
		subscription:   sub,
		topicAttribute: cfg.TopicAttribute,
		stopTimeout:    cfg.StopTimeout,
		logger:         logger.With().Str("component", "GooglePubsubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger(),
		outputChan:     make(chan Message, cfg.MaxOutstandingMessages),
		doneChan:       make(chan struct{}),
	}, nil
}

// Messages returns the channel of received messages.
func (c *GooglePubsubConsumer) Messages() <-chan Message { return c.outputChan }

// Done is closed once the receive loop has exited.
func (c *GooglePubsubConsumer) Done() <-chan struct{} { return c.doneChan }

// Start begins receiving in the background.
func (c *GooglePubsubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")
	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel
	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			select {
			case c.outputChan <- c.toMessage(msg):
			case <-receiveCtx.Done():
				msg.Nack()
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error.")
		}
		c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

func (c *GooglePubsubConsumer) toMessage(msg *pubsub.Message) Message {
	payloadCopy := make([]byte, len(msg.Data))
	copy(payloadCopy, msg.Data)

	attrs := make(map[string]string, len(msg.Attributes)+1)
	for k, v := range msg.Attributes {
		attrs[k] = v
	}
	if topic, ok := msg.Attributes[c.topicAttribute]; ok {
		attrs[AttrMqttTopic] = topic
	}
	return Message{
		MessageData: MessageData{
			ID:          msg.ID,
			Payload:     payloadCopy,
			PublishTime: msg.PublishTime,
		},
		Attributes: attrs,
		Ack:        msg.Ack,
		Nack:       msg.Nack,
	}
}

// Stop cancels the receive loop and waits for it within the deadline of ctx.
func (c *GooglePubsubConsumer) Stop(ctx context.Context) error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription == nil {
			close(c.outputChan)
			close(c.doneChan)
			return
		}
		c.cancelSubscription()
		timer := time.NewTimer(c.stopTimeout)
		defer timer.Stop()
		select {
		case <-c.doneChan:
			c.logger.Info().Msg("Pub/Sub consumer stopped.")
		case <-ctx.Done():
			err = ctx.Err()
		case <-timer.C:
			err = fmt.Errorf("timed out waiting for Pub/Sub receive to stop")
		}
	})
	return err
}
