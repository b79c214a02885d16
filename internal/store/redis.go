package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/RoseVZ/Instalily-casestudy/internal/model"
)

const keyPrefix = "conversation:"

// maxMergeRetries bounds optimistic-concurrency retries when another turn
// commits between our read and write.
const maxMergeRetries = 5

// RedisStore persists conversation state in Redis with a sliding TTL.
// Merge runs inside WATCH so concurrent turns on the same thread serialize
// through compare-and-swap instead of last-write-wins.
type RedisStore struct {
	client       *redis.Client
	ttl          time.Duration
	historyLimit int
	now          func() time.Time
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, historyLimit int) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{
		client:       client,
		ttl:          ttl,
		historyLimit: historyLimit,
		now:          time.Now,
	}, nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping reports backend health for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func key(threadID string) string {
	return keyPrefix + threadID
}

// Get returns the live state for a thread.
func (s *RedisStore) Get(ctx context.Context, threadID string) (*model.ConversationState, error) {
	data, err := s.client.Get(ctx, key(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	var state model.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}

	// Redis expiry and the recorded horizon can disagree after clock
	// drift or a TTL reconfiguration; the recorded horizon wins.
	if state.Expired(s.now()) {
		return nil, ErrNotFound
	}

	return &state, nil
}

// Merge applies a read-modify-write update under WATCH.
func (s *RedisStore) Merge(ctx context.Context, threadID string, req MergeRequest) (*model.ConversationState, error) {
	k := key(threadID)
	var merged *model.ConversationState

	txn := func(tx *redis.Tx) error {
		var state model.ConversationState

		data, err := tx.Get(ctx, k).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// New thread.
		case err != nil:
			return fmt.Errorf("failed to load state: %w", err)
		default:
			if err := json.Unmarshal(data, &state); err != nil {
				// Unreadable state is treated as absent rather
				// than wedging the thread forever.
				state = model.ConversationState{}
			}
		}

		now := s.now()
		if state.Expired(now) {
			state = model.ConversationState{}
		}
		apply(&state, threadID, req, s.ttl, s.historyLimit, now)

		encoded, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("failed to encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, encoded, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		merged = &state
		return nil
	}

	for i := 0; i < maxMergeRetries; i++ {
		err := s.client.Watch(ctx, txn, k)
		if err == nil {
			return merged, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("merge contention on thread %s: %w", threadID, redis.TxFailedErr)
}
