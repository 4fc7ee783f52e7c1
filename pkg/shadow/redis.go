package shadow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/go-irrigation/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// MaxRetries bounds optimistic transaction retries on concurrent updates.
	MaxRetries int
}

// RedisStore keeps each shadow as a JSON value and merges updates in a
// WATCH/MULTI transaction.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxRetries int
	logger     zerolog.Logger
}

// NewRedisStore connects to Redis and pings it before returning.
func NewRedisStore(ctx context.Context, cfg *RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Successfully connected to Redis.")
	return newRedisStore(rdb, cfg, logger), nil
}

func newRedisStore(rdb *redis.Client, cfg *RedisConfig, logger zerolog.Logger) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "shadow:"
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 5
	}
	return &RedisStore{
		client:     rdb,
		prefix:     prefix,
		maxRetries: retries,
		logger:     logger.With().Str("component", "RedisShadowStore").Logger(),
	}
}

func (s *RedisStore) key(deviceID string) string { return s.prefix + deviceID }

func (s *RedisStore) Get(ctx context.Context, deviceID string) (types.ShadowDocument, error) {
	return s.read(ctx, s.client, deviceID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) read(ctx context.Context, c getter, deviceID string) (types.ShadowDocument, error) {
	raw, err := c.Get(ctx, s.key(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return types.ShadowDocument{}, nil
	}
	if err != nil {
		return types.ShadowDocument{}, fmt.Errorf("shadow get for %s: %w", deviceID, err)
	}
	var doc types.ShadowDocument
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return types.ShadowDocument{}, fmt.Errorf("shadow decode for %s: %w", deviceID, err)
	}
	doc.State.Desired = types.NativeNumbers(doc.State.Desired)
	doc.State.Reported = types.NativeNumbers(doc.State.Reported)
	return doc, nil
}

func (s *RedisStore) Apply(ctx context.Context, deviceID string, patch types.ShadowState) (types.ShadowDocument, error) {
	key := s.key(deviceID)
	var out types.ShadowDocument

	txf := func(tx *redis.Tx) error {
		doc, err := s.read(ctx, tx, deviceID)
		if err != nil {
			return err
		}
		out = applyPatch(doc, patch, time.Now())
		encoded, err := json.Marshal(out)
		if err != nil {
			return fmt.Errorf("shadow encode for %s: %w", deviceID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return types.ShadowDocument{}, fmt.Errorf("shadow update for %s: %w", deviceID, err)
		}
		s.logger.Debug().Str("device_id", deviceID).Int("attempt", attempt+1).Msg("Shadow changed during update, retrying.")
	}
	return types.ShadowDocument{}, fmt.Errorf("shadow update for %s: too many concurrent updates", deviceID)
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
