package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// Runs against a real Redis when LOCKOUT_TEST_REDIS_ADDR is set.
func newTestRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("LOCKOUT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LOCKOUT_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLockoutKeyPrefix(t *testing.T) {
	repo := NewRedisLockoutRepository(nil, "", 0, nil)
	assert.Equal(t, "lockout:account:a@b.c", repo.redisKey("account:a@b.c"))
	assert.Equal(t, 5, repo.maxAttempts)
}

func TestRedisLockoutConcurrentUpdates(t *testing.T) {
	client := newTestRedis(t)
	repo := NewRedisLockoutRepository(client, "lockout-test-"+uuid.NewString(), 50, nil)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "account:x", time.Minute, increment(now))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	state, err := repo.Get(ctx, "account:x")
	require.NoError(t, err)
	assert.Equal(t, 10, state.FailureCount)

	_, err = repo.Update(ctx, "account:x", time.Minute, func(state *models.LockoutState) error {
		*state = models.LockoutState{}
		return nil
	})
	require.NoError(t, err)
	exists, err := client.Exists(ctx, repo.redisKey("account:x")).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
