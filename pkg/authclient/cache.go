package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultBuffer  = 5 * time.Minute
	defaultTimeout = 10 * time.Second
)

// Pair is the token pair issued by the auth API.
type Pair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	SessionID        string    `json:"sessionId"`
}

// Refresher exchanges a refresh token for a new pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken, sessionID string) (*Pair, error)
}

// CacheConfig tunes a TokenCache.
type CacheConfig struct {
	// Buffer treats an access token as expired this long before its real expiry.
	Buffer time.Duration
	// Timeout bounds a single refresh round-trip.
	Timeout time.Duration
	Logger  *zap.Logger
}

// refreshCall is the in-flight refresh shared by every waiter. done is closed once pair or
// err is set.
type refreshCall struct {
	done chan struct{}
	pair *Pair
	err  error
}

func (c *refreshCall) wait(ctx context.Context) (*Pair, error) {
	select {
	case <-c.done:
		return c.pair, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TokenCache holds the current token pair of a client and refreshes it at most once at a time.
type TokenCache struct {
	refresher Refresher
	buffer    time.Duration
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	pair     *Pair
	inflight *refreshCall
}

// NewTokenCache builds a cache around the refresher.
func NewTokenCache(refresher Refresher, cfg CacheConfig) *TokenCache {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &TokenCache{
		refresher: refresher,
		buffer:    cfg.Buffer,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Set stores a pair obtained from login or an earlier refresh.
func (c *TokenCache) Set(pair Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair = &pair
}

// Clear drops the stored pair, for example on logout.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pair = nil
}

// Current returns a copy of the stored pair.
func (c *TokenCache) Current() (Pair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pair == nil {
		return Pair{}, false
	}
	return *c.pair, true
}

// Valid reports whether the access token outlives the safety buffer.
func (c *TokenCache) Valid(pair Pair) bool {
	return pair.AccessToken != "" && pair.AccessExpiresAt.After(c.now().Add(c.buffer))
}

// GetValidToken returns a usable access token, refreshing it first when needed. Concurrent
// callers share one refresh and all observe its outcome.
func (c *TokenCache) GetValidToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.pair != nil && c.Valid(*c.pair) {
		token := c.pair.AccessToken
		c.mu.Unlock()
		return token, nil
	}
	call, err := c.joinLocked()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.await(ctx, call)
}

// ForceRefresh refreshes after the server refused the access token passed in. If another
// caller has already replaced that token, the newer one is returned without a round-trip.
func (c *TokenCache) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	c.mu.Lock()
	if c.pair != nil && c.pair.AccessToken != rejected && c.Valid(*c.pair) {
		token := c.pair.AccessToken
		c.mu.Unlock()
		return token, nil
	}
	call, err := c.joinLocked()
	c.mu.Unlock()
	if err != nil {
		return "", err
	}
	return c.await(ctx, call)
}

func (c *TokenCache) await(ctx context.Context, call *refreshCall) (string, error) {
	pair, err := call.wait(ctx)
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// joinLocked returns the in-flight refresh or starts one. c.mu must be held.
func (c *TokenCache) joinLocked() (*refreshCall, error) {
	if c.inflight != nil {
		return c.inflight, nil
	}
	if c.pair == nil || c.pair.RefreshToken == "" {
		return nil, ErrReauthenticationRequired
	}
	if !c.pair.RefreshExpiresAt.IsZero() && !c.now().Before(c.pair.RefreshExpiresAt) {
		c.pair = nil
		return nil, ErrReauthenticationRequired
	}

	call := &refreshCall{done: make(chan struct{})}
	c.inflight = call
	go c.run(call, *c.pair)
	return call, nil
}

func (c *TokenCache) run(call *refreshCall, stale Pair) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	pair, err := c.refresher.Refresh(ctx, stale.RefreshToken, stale.SessionID)
	if err == nil && pair == nil {
		err = errors.New("authclient: empty refresh response")
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	c.mu.Lock()
	if c.inflight == call {
		c.inflight = nil
	}
	switch {
	case err == nil:
		c.pair = pair
	case IsAuthRejection(err):
		if c.pair != nil && c.pair.RefreshToken == stale.RefreshToken {
			c.pair = nil
		}
		c.logger.Warn("refresh rejected, sign in required", zap.String("session_id", stale.SessionID), zap.Error(err))
		err = fmt.Errorf("%w: %v", ErrReauthenticationRequired, err)
	default:
		c.logger.Warn("token refresh failed", zap.String("session_id", stale.SessionID), zap.Error(err))
	}
	c.mu.Unlock()

	if err != nil {
		pair = nil
	}
	call.pair, call.err = pair, err
	close(call.done)
}
