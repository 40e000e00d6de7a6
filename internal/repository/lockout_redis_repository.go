package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// ErrLockoutContention is returned when optimistic transactions keep conflicting on a key.
var ErrLockoutContention = errors.New("lockout update contention")

// RedisLockoutRepository shares lockout counters across instances using WATCH/MULTI transactions.
type RedisLockoutRepository struct {
	client      *redis.Client
	prefix      string
	maxAttempts int
	logger      *zap.Logger
}

// NewRedisLockoutRepository constructs a Redis backed store.
func NewRedisLockoutRepository(client *redis.Client, prefix string, maxAttempts int, logger *zap.Logger) *RedisLockoutRepository {
	if prefix == "" {
		prefix = "lockout"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLockoutRepository{client: client, prefix: prefix, maxAttempts: maxAttempts, logger: logger}
}

// Get returns the state for key, or the zero state when absent.
func (r *RedisLockoutRepository) Get(ctx context.Context, key string) (models.LockoutState, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.LockoutState{}, nil
		}
		return models.LockoutState{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return decodeLockoutState(raw, key)
}

// Update applies fn inside an optimistic transaction on key. The key expires after ttl so
// abandoned counters clean themselves up.
func (r *RedisLockoutRepository) Update(ctx context.Context, key string, ttl time.Duration, fn LockoutMutator) (models.LockoutState, error) {
	redisKey := r.redisKey(key)
	var result models.LockoutState

	txf := func(tx *redis.Tx) error {
		state := models.LockoutState{}
		raw, err := tx.Get(ctx, redisKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get %s: %w", key, err)
		default:
			if state, err = decodeLockoutState(raw, key); err != nil {
				return err
			}
		}

		if err := fn(&state); err != nil {
			return err
		}

		var payload []byte
		if state.FailureCount > 0 || state.LockedUntil != nil {
			if payload, err = json.Marshal(state); err != nil {
				return fmt.Errorf("marshal lockout state for %s: %w", key, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if payload == nil {
				pipe.Del(ctx, redisKey)
				return nil
			}
			pipe.Set(ctx, redisKey, payload, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = state
		return nil
	}

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, redisKey)
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return models.LockoutState{}, err
		}
		r.logger.Debug("lockout transaction conflict", zap.String("key", key), zap.Int("attempt", attempt))
	}
	return models.LockoutState{}, fmt.Errorf("%s: %w", key, ErrLockoutContention)
}

func (r *RedisLockoutRepository) redisKey(key string) string {
	return r.prefix + ":" + key
}

func decodeLockoutState(raw []byte, key string) (models.LockoutState, error) {
	var state models.LockoutState
	if err := json.Unmarshal(raw, &state); err != nil {
		return models.LockoutState{}, fmt.Errorf("unmarshal lockout state for %s: %w", key, err)
	}
	return state, nil
}
