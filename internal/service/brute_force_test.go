package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestProtector(clock *fakeClock) (*BruteForceProtector, *repository.MemoryLockoutRepository) {
	store := repository.NewMemoryLockoutRepository()
	p := NewBruteForceProtector(store, BruteForceConfig{
		AccountThreshold: 5,
		IPThreshold:      20,
		Window:           time.Hour,
		BaseLockout:      time.Minute,
		MaxLockout:       30 * time.Minute,
	}, nil, nil)
	p.now = clock.Now
	return p, store
}

func TestLockoutMonotonicity(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		decision, err := p.RecordFailure(ctx, "user@example.com", "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "failure %d", i)
		status, err := p.Status(ctx, "user@example.com", "1.2.3.4")
		require.NoError(t, err)
		assert.Equal(t, models.LockoutWarning, status.Account.Phase)
		assert.Equal(t, i, status.Account.FailureCount)
	}

	decision, err := p.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.LockoutScopeAccount, decision.Scope)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))

	status, err := p.Status(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, models.LockoutLocked, status.Account.Phase)
	require.NotNil(t, status.Account.LockedUntil)
	assert.True(t, status.Account.LockedUntil.After(clock.Now()))
	assert.Equal(t, models.LockoutWarning, status.IP.Phase)

	require.NoError(t, p.RecordSuccess(ctx, "user@example.com", "1.2.3.4"))
	status, err = p.Status(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, models.LockoutClear, status.Account.Phase)
	assert.Zero(t, status.Account.FailureCount)
	assert.Zero(t, status.IP.FailureCount)
}

func TestStatusAsksForCaptchaAfterThreeFailures(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		_, err := p.RecordFailure(ctx, "user@example.com", "1.2.3.4")
		require.NoError(t, err)
	}
	status, err := p.Status(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, status.CaptchaRequired)
	assert.False(t, status.Account.CaptchaRequired)

	_, err = p.RecordFailure(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	status, err = p.Status(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.True(t, status.CaptchaRequired)
	assert.True(t, status.Account.CaptchaRequired)
	assert.True(t, status.IP.CaptchaRequired)
	assert.Equal(t, models.LockoutWarning, status.Account.Phase)

	// A fresh account behind the noisy IP still gets the challenge.
	status, err = p.Status(ctx, "fresh@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, status.Account.CaptchaRequired)
	assert.True(t, status.CaptchaRequired)

	require.NoError(t, p.RecordSuccess(ctx, "user@example.com", "1.2.3.4"))
	status, err = p.Status(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, status.CaptchaRequired)
}

func TestCheckAllowedDeniesWhileLocked(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := p.RecordFailure(ctx, "User@Example.com", "1.2.3.4")
		require.NoError(t, err)
	}

	decision, err := p.CheckAllowed(ctx, "user@example.com", "9.9.9.9")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, time.Minute, decision.RetryAfter)

	clock.Advance(time.Minute)
	decision, err = p.CheckAllowed(ctx, "user@example.com", "9.9.9.9")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestIPScopeIsIndependent(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	var last LockoutDecision
	for i := 0; i < 21; i++ {
		var err error
		last, err = p.RecordFailure(ctx, "", "5.5.5.5")
		require.NoError(t, err)
	}
	assert.False(t, last.Allowed)
	assert.Equal(t, models.LockoutScopeIP, last.Scope)

	decision, err := p.CheckAllowed(ctx, "someone@example.com", "6.6.6.6")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestWindowExpiryResetsCounter(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := p.RecordFailure(ctx, "a@b.c", "")
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Hour)
	_, err := p.RecordFailure(ctx, "a@b.c", "")
	require.NoError(t, err)

	status, err := p.Status(ctx, "a@b.c", "")
	require.NoError(t, err)
	assert.Equal(t, 1, status.Account.FailureCount)
}

func TestExponentialBackoffBounded(t *testing.T) {
	base := time.Minute
	max := 30 * time.Minute
	prev := time.Duration(0)
	for k := 1; k <= 20; k++ {
		d := LockoutDuration(5+k, 5, base, max)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, max)
		prev = d
	}
	assert.Equal(t, time.Minute, LockoutDuration(6, 5, base, max))
	assert.Equal(t, 2*time.Minute, LockoutDuration(7, 5, base, max))
	assert.Equal(t, max, LockoutDuration(100, 5, base, max))
	assert.Zero(t, LockoutDuration(5, 5, base, max))
}

func TestConcurrentFailuresAreNotUndercounted(t *testing.T) {
	clock := newFakeClock()
	p, _ := newTestProtector(clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.RecordFailure(ctx, "victim@example.com", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := p.Status(ctx, "victim@example.com", "")
	require.NoError(t, err)
	assert.Equal(t, 50, status.Account.FailureCount)
	assert.Equal(t, models.LockoutLocked, status.Account.Phase)
}
