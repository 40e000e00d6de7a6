package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
)

type lockoutStore interface {
	Get(ctx context.Context, key string) (models.LockoutState, error)
	Update(ctx context.Context, key string, ttl time.Duration, fn repository.LockoutMutator) (models.LockoutState, error)
}

// BruteForceConfig configures thresholds and lockout growth.
type BruteForceConfig struct {
	AccountThreshold int
	IPThreshold      int
	Window           time.Duration
	BaseLockout      time.Duration
	MaxLockout       time.Duration
	CaptchaAfter     int
}

// LockoutDecision is the outcome of a brute force check.
type LockoutDecision struct {
	Allowed    bool
	RetryAfter time.Duration
	Scope      models.LockoutScope
}

// BruteForceProtector tracks failed credential checks per account and per source IP.
type BruteForceProtector struct {
	store   lockoutStore
	cfg     BruteForceConfig
	metrics *MetricsService
	logger  *zap.Logger
	now     func() time.Time
}

// NewBruteForceProtector constructs the protector.
func NewBruteForceProtector(store lockoutStore, cfg BruteForceConfig, metrics *MetricsService, logger *zap.Logger) *BruteForceProtector {
	if cfg.AccountThreshold <= 0 {
		cfg.AccountThreshold = 5
	}
	if cfg.IPThreshold <= 0 {
		cfg.IPThreshold = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	if cfg.BaseLockout <= 0 {
		cfg.BaseLockout = 15 * time.Minute
	}
	if cfg.CaptchaAfter <= 0 {
		cfg.CaptchaAfter = 3
	}
	if cfg.MaxLockout < cfg.BaseLockout {
		cfg.MaxLockout = cfg.BaseLockout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BruteForceProtector{store: store, cfg: cfg, metrics: metrics, logger: logger, now: time.Now}
}

// CheckAllowed reports whether a credential check may run. It never mutates state.
func (p *BruteForceProtector) CheckAllowed(ctx context.Context, account, ip string) (LockoutDecision, error) {
	now := p.now()
	decision := LockoutDecision{Allowed: true}
	for _, key := range p.keys(account, ip) {
		state, err := p.store.Get(ctx, key.String())
		if err != nil {
			return LockoutDecision{}, fmt.Errorf("load lockout %s: %w", key.Scope, err)
		}
		decision = mergeDecision(decision, key.Scope, state, now)
	}
	return decision, nil
}

// RecordFailure increments both counters and returns the resulting decision, so the
// failure that crosses a threshold already reports the lock.
func (p *BruteForceProtector) RecordFailure(ctx context.Context, account, ip string) (LockoutDecision, error) {
	now := p.now()
	decision := LockoutDecision{Allowed: true}
	for _, key := range p.keys(account, ip) {
		threshold := p.threshold(key.Scope)
		var newlyLocked bool
		state, err := p.store.Update(ctx, key.String(), p.ttl(), func(state *models.LockoutState) error {
			newlyLocked = false
			locked := state.LockedUntil != nil && now.Before(*state.LockedUntil)
			if !locked && state.FailureCount > 0 && now.Sub(state.LastFailureAt) > p.cfg.Window {
				*state = models.LockoutState{}
			}
			if state.FailureCount == 0 {
				state.WindowStartedAt = now
			}
			state.FailureCount++
			state.LastFailureAt = now
			if state.FailureCount > threshold {
				until := now.Add(LockoutDuration(state.FailureCount, threshold, p.cfg.BaseLockout, p.cfg.MaxLockout))
				state.LockedUntil = &until
				newlyLocked = !locked
			}
			return nil
		})
		if err != nil {
			return LockoutDecision{}, fmt.Errorf("record failure %s: %w", key.Scope, err)
		}
		if newlyLocked {
			p.metrics.RecordLockout(string(key.Scope))
			p.logger.Warn("lockout engaged",
				zap.String("scope", string(key.Scope)),
				zap.Int("failures", state.FailureCount),
				zap.Timep("locked_until", state.LockedUntil),
			)
		}
		decision = mergeDecision(decision, key.Scope, state, now)
	}
	return decision, nil
}

// RecordSuccess resets both counters to Clear.
func (p *BruteForceProtector) RecordSuccess(ctx context.Context, account, ip string) error {
	for _, key := range p.keys(account, ip) {
		if _, err := p.store.Update(ctx, key.String(), p.ttl(), func(state *models.LockoutState) error {
			*state = models.LockoutState{}
			return nil
		}); err != nil {
			return fmt.Errorf("reset lockout %s: %w", key.Scope, err)
		}
	}
	return nil
}

// Status reports the state machine position of both counters. CaptchaRequired is set once
// either counter reaches CaptchaAfter failures.
func (p *BruteForceProtector) Status(ctx context.Context, account, ip string) (models.LockoutStatus, error) {
	now := p.now()
	var status models.LockoutStatus
	for _, key := range p.keys(account, ip) {
		state, err := p.store.Get(ctx, key.String())
		if err != nil {
			return models.LockoutStatus{}, fmt.Errorf("load lockout %s: %w", key.Scope, err)
		}
		remaining := p.threshold(key.Scope) - state.FailureCount
		if remaining < 0 {
			remaining = 0
		}
		keyStatus := models.LockoutKeyStatus{
			Key:               key.String(),
			Phase:             state.Phase(now),
			FailureCount:      state.FailureCount,
			RemainingAttempts: remaining,
			CaptchaRequired:   state.FailureCount >= p.cfg.CaptchaAfter,
			LockedUntil:       state.LockedUntil,
		}
		status.CaptchaRequired = status.CaptchaRequired || keyStatus.CaptchaRequired
		if key.Scope == models.LockoutScopeAccount {
			status.Account = keyStatus
		} else {
			status.IP = keyStatus
		}
	}
	return status, nil
}

// LockoutDuration returns base*2^(count-threshold-1) capped at max, or zero below the threshold.
func LockoutDuration(count, threshold int, base, max time.Duration) time.Duration {
	extra := count - threshold - 1
	if extra < 0 {
		return 0
	}
	d := base
	for i := 0; i < extra; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

func (p *BruteForceProtector) keys(account, ip string) []models.LockoutKey {
	keys := make([]models.LockoutKey, 0, 2)
	if account = NormalizeAccountKey(account); account != "" {
		keys = append(keys, models.LockoutKey{Scope: models.LockoutScopeAccount, Value: account})
	}
	if ip = strings.TrimSpace(ip); ip != "" {
		keys = append(keys, models.LockoutKey{Scope: models.LockoutScopeIP, Value: ip})
	}
	return keys
}

func (p *BruteForceProtector) threshold(scope models.LockoutScope) int {
	if scope == models.LockoutScopeIP {
		return p.cfg.IPThreshold
	}
	return p.cfg.AccountThreshold
}

func (p *BruteForceProtector) ttl() time.Duration {
	return p.cfg.Window + p.cfg.MaxLockout
}

// NormalizeAccountKey lowercases and trims an email so lockouts are case-insensitive.
func NormalizeAccountKey(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

func mergeDecision(decision LockoutDecision, scope models.LockoutScope, state models.LockoutState, now time.Time) LockoutDecision {
	if state.LockedUntil == nil || !now.Before(*state.LockedUntil) {
		return decision
	}
	retry := state.LockedUntil.Sub(now)
	if decision.Allowed || retry > decision.RetryAfter {
		decision = LockoutDecision{Allowed: false, RetryAfter: retry, Scope: scope}
	}
	return decision
}
