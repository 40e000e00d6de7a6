package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
)

// memSessionStore mirrors the row-level compare-and-swap of the Postgres repository.
type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	touches  int
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: map[string]models.Session{}}
}

func (m *memSessionStore) Create(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *session
	return nil
}

func (m *memSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	return &session, nil
}

func (m *memSessionStore) GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.sessions {
		if session.RefreshTokenHash == hash {
			s := session
			return &s, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (m *memSessionStore) GetByDeviceID(ctx context.Context, deviceID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, session := range m.sessions {
		if session.DeviceID == deviceID && session.Active(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (m *memSessionStore) ListByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, session := range m.sessions {
		if session.UserID == userID && session.Active(now) {
			out = append(out, session)
		}
	}
	return out, nil
}

func (m *memSessionStore) TouchActivity(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if ok && !session.Revoked && session.LastActivityAt.Before(at) {
		session.LastActivityAt = at
		m.sessions[id] = session
		m.touches++
	}
	return nil
}

func (m *memSessionStore) RotateRefresh(ctx context.Context, id, expectedHash string, rotation models.SessionRotation) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	switch {
	case !ok:
		return nil, repository.ErrSessionNotFound
	case session.Revoked:
		return nil, repository.ErrSessionRevoked
	case session.RefreshTokenHash != expectedHash:
		return nil, repository.ErrStaleRefreshToken
	}
	session.AccessTokenHash = &rotation.AccessTokenHash
	session.RefreshTokenHash = rotation.RefreshTokenHash
	session.AccessExpiresAt = rotation.AccessExpiresAt
	session.RefreshExpiresAt = rotation.RefreshExpiresAt
	session.LastActivityAt = rotation.RotatedAt
	session.Version++
	m.sessions[id] = session
	return &session, nil
}

func (m *memSessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session, ok := m.sessions[id]; ok && !session.Revoked {
		session.Revoked = true
		session.RevokedAt = &at
		m.sessions[id] = session
	}
	return nil
}

func (m *memSessionStore) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, session := range m.sessions {
		if session.UserID == userID && !session.Revoked {
			session.Revoked = true
			session.RevokedAt = &at
			m.sessions[id] = session
			count++
		}
	}
	return count, nil
}

func (m *memSessionStore) get(id string) models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

type stubSecondFactor struct {
	code string
}

func (s stubSecondFactor) Verify(ctx context.Context, userID, code string) (bool, error) {
	return code == s.code, nil
}

// countingCredentials wraps a verifier and counts password checks.
type countingCredentials struct {
	*CredentialService
	mu     sync.Mutex
	checks int
}

func (c *countingCredentials) VerifyPassword(ctx context.Context, email, password string) (*models.User, error) {
	c.mu.Lock()
	c.checks++
	c.mu.Unlock()
	return c.CredentialService.VerifyPassword(ctx, email, password)
}

func (c *countingCredentials) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks
}

type authHarness struct {
	svc      *AuthService
	sessions *memSessionStore
	devices  *mockDeviceRepo
	events   *mockEventRepo
	creds    *countingCredentials
	clock    *fakeClock
}

func newAuthHarness(t *testing.T, secondFactor SecondFactorVerifier) *authHarness {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	users := newMockUserRepo(
		&models.User{ID: "u1", Email: "user@example.com", PasswordHash: string(hash), Role: models.RoleCustomer, Active: true},
		&models.User{ID: "u2", Email: "other@example.com", PasswordHash: string(hash), Role: models.RoleProvider, Active: true},
	)

	clock := newFakeClock()
	sessions := newMemSessionStore()
	deviceRepo := newMockDeviceRepo()
	events := &mockEventRepo{}
	creds := &countingCredentials{CredentialService: NewCredentialService(users, nil, nil)}

	devices := NewDeviceTrustService(deviceRepo, DefaultTrustPolicy(), nil)
	devices.now = clock.Now
	brute, _ := newTestProtector(clock)
	codec := newTestCodec()
	codec.now = clock.Now

	svc := NewAuthService(AuthDependencies{
		Codec:        codec,
		Sessions:     sessions,
		Credentials:  creds,
		Devices:      devices,
		BruteForce:   brute,
		Events:       NewSecurityEventService(events, SecurityEventConfig{}, nil, nil),
		SecondFactor: secondFactor,
	}, nil, nil, AuthConfig{
		AccessTTL: 15 * time.Minute,
		RefreshTTL: map[models.TrustTier]time.Duration{
			models.TrustTierTrusted:   30 * 24 * time.Hour,
			models.TrustTierStandard:  7 * 24 * time.Hour,
			models.TrustTierUntrusted: 24 * time.Hour,
		},
		SecondFactorTiers: []models.TrustTier{models.TrustTierUntrusted},
		OperationTimeout:  5 * time.Second,
		TouchInterval:     time.Minute,
	})
	svc.now = clock.Now

	return &authHarness{svc: svc, sessions: sessions, devices: deviceRepo, events: events, creds: creds, clock: clock}
}

func loginRequest(password string) models.LoginRequest {
	return models.LoginRequest{
		Email:             "user@example.com",
		Password:          password,
		DeviceFingerprint: "fp-1",
		Device:            models.DeviceSignals{Platform: "android", AttestationPassed: true},
		IP:                "1.2.3.4",
		UserAgent:         "test",
	}
}

func TestLoginIssuesSession(t *testing.T) {
	h := newAuthHarness(t, nil)

	pair, err := h.svc.Login(context.Background(), loginRequest("correct-horse"))
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.True(t, pair.AccessExpiresAt.Before(pair.RefreshExpiresAt))

	session := h.sessions.get(pair.SessionID)
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, HashToken(pair.RefreshToken), session.RefreshTokenHash)
	assert.Equal(t, models.TrustTierStandard, session.DeviceTrustTier)
	assert.Len(t, h.events.ofType(models.EventLogin), 1)
}

func TestLoginSixthFailureIsRateLimitedAndSeventhSkipsCredentials(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := h.svc.Login(ctx, loginRequest("wrong"))
		assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials, "attempt %d", i)
	}

	_, err := h.svc.Login(ctx, loginRequest("wrong"))
	require.ErrorIs(t, err, appErrors.ErrRateLimited)
	assert.Greater(t, appErrors.FromError(err).RetryAfterSeconds, 0)
	assert.Equal(t, 6, h.creds.count())

	_, err = h.svc.Login(ctx, loginRequest("correct-horse"))
	require.ErrorIs(t, err, appErrors.ErrRateLimited)
	assert.Equal(t, 6, h.creds.count())
	assert.NotEmpty(t, h.events.ofType(models.EventLoginRateLimited))
	assert.NotEmpty(t, h.events.ofType(models.EventLockout))
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, _ = h.svc.Login(ctx, loginRequest("wrong"))
	}
	_, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	status, err := h.svc.LockoutStatus(ctx, "user@example.com", "1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, models.LockoutClear, status.Account.Phase)
	assert.Zero(t, status.IP.FailureCount)
}

func TestLoginUnknownEmailMatchesWrongPassword(t *testing.T) {
	h := newAuthHarness(t, nil)
	req := loginRequest("wrong")
	_, wrongErr := h.svc.Login(context.Background(), req)
	req.Email = "ghost@example.com"
	_, ghostErr := h.svc.Login(context.Background(), req)

	assert.Equal(t, appErrors.FromError(wrongErr).Message, appErrors.FromError(ghostErr).Message)
	assert.Equal(t, appErrors.FromError(wrongErr).Status, appErrors.FromError(ghostErr).Status)
}

func TestLoginJailbrokenDeviceGetsShortRefresh(t *testing.T) {
	h := newAuthHarness(t, stubSecondFactor{code: "123456"})
	req := loginRequest("correct-horse")
	req.Device = models.DeviceSignals{Platform: "android", Jailbroken: true}

	_, err := h.svc.Login(context.Background(), req)
	require.ErrorIs(t, err, appErrors.ErrSecondFactorRequired)

	req.SecondFactorCode = "123456"
	pair, err := h.svc.Login(context.Background(), req)
	require.NoError(t, err)

	session := h.sessions.get(pair.SessionID)
	assert.Equal(t, models.TrustTierUntrusted, session.DeviceTrustTier)
	assert.Equal(t, 24*time.Hour, pair.RefreshExpiresAt.Sub(h.clock.Now()))
}

func TestLoginUntrustedWithoutVerifierIsDenied(t *testing.T) {
	h := newAuthHarness(t, nil)
	req := loginRequest("correct-horse")
	req.Device = models.DeviceSignals{Jailbroken: true}

	_, err := h.svc.Login(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrDeviceUntrusted)
}

func TestLoginWrongSecondFactorCountsAsFailure(t *testing.T) {
	h := newAuthHarness(t, stubSecondFactor{code: "123456"})
	req := loginRequest("correct-horse")
	req.Device = models.DeviceSignals{Jailbroken: true}
	req.SecondFactorCode = "000000"

	_, err := h.svc.Login(context.Background(), req)
	assert.ErrorIs(t, err, appErrors.ErrInvalidCredentials)

	status, err := h.svc.LockoutStatus(context.Background(), req.Email, req.IP)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Account.FailureCount)
}

func TestLoginTimeout(t *testing.T) {
	h := newAuthHarness(t, nil)
	h.svc.config.OperationTimeout = time.Nanosecond
	h.svc.bruteForce = slowGate{}

	_, err := h.svc.Login(context.Background(), loginRequest("correct-horse"))
	assert.ErrorIs(t, err, appErrors.ErrTimeout)
}

type slowGate struct{ bruteForceGate }

func (slowGate) CheckAllowed(ctx context.Context, account, ip string) (LockoutDecision, error) {
	<-ctx.Done()
	return LockoutDecision{}, ctx.Err()
}

func TestRefreshRotates(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	next, err := h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
	require.NoError(t, err)
	assert.Equal(t, pair.SessionID, next.SessionID)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	session := h.sessions.get(pair.SessionID)
	assert.Equal(t, HashToken(next.RefreshToken), session.RefreshTokenHash)
	assert.Equal(t, int64(2), session.Version)
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
	require.NoError(t, err)

	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
	require.ErrorIs(t, err, appErrors.ErrStaleRefreshToken)

	session := h.sessions.get(pair.SessionID)
	assert.True(t, session.Revoked)
	assert.Equal(t, 1, h.devices.incidentCount())
	assert.Len(t, h.events.ofType(models.EventRefreshReuse), 1)

	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
}

func TestConcurrentRefreshOneWinsOneStale(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	// Pin both callers past the hash lookup so they race on the rotation itself.
	gate := &gatedSessionStore{memSessionStore: h.sessions, arrived: make(chan struct{}, 2), release: make(chan struct{})}
	h.svc.sessions = gate

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
		}(i)
	}
	<-gate.arrived
	<-gate.arrived
	close(gate.release)
	wg.Wait()

	var ok, stale int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case appErrors.FromError(err).Code == appErrors.ErrStaleRefreshToken.Code:
			stale++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, stale)
}

type gatedSessionStore struct {
	*memSessionStore
	arrived chan struct{}
	release chan struct{}
}

func (g *gatedSessionStore) GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	session, err := g.memSessionStore.GetByRefreshHash(ctx, hash)
	g.arrived <- struct{}{}
	<-g.release
	return session, err
}

func TestRefreshRejectsAccessTokenAndMismatchedSession(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.AccessToken, SessionID: pair.SessionID})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)

	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: "other"})
	assert.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

type skewedHashStore struct {
	*memSessionStore
}

func (s skewedHashStore) GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	session, err := s.memSessionStore.GetByRefreshHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	session.RefreshTokenHash = HashToken("someone-else")
	return session, nil
}

func TestRefreshRejectsLookupWithDifferentStoredHash(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	h.svc.sessions = skewedHashStore{memSessionStore: h.sessions}
	_, err = h.svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken, SessionID: pair.SessionID})
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	session := h.sessions.get(pair.SessionID)
	assert.Equal(t, HashToken(pair.RefreshToken), session.RefreshTokenHash)
	assert.Equal(t, int64(1), session.Version)
	assert.False(t, session.Revoked)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)
	req := loginRequest("correct-horse")
	req.DeviceFingerprint = "fp-2"
	second, err := h.svc.Login(ctx, req)
	require.NoError(t, err)

	for _, pair := range []*models.TokenPair{first, second} {
		_, err := h.svc.ResolveAccessToken(ctx, pair.AccessToken)
		require.NoError(t, err)
	}

	require.NoError(t, h.svc.LogoutAll(ctx, "u1", models.RequestMeta{}))
	require.NoError(t, h.svc.LogoutAll(ctx, "u1", models.RequestMeta{}))

	for _, pair := range []*models.TokenPair{first, second} {
		_, err := h.svc.ResolveAccessToken(ctx, pair.AccessToken)
		assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	require.NoError(t, h.svc.Logout(ctx, pair.SessionID, models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, pair.SessionID, models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, "missing", models.RequestMeta{}))
	require.NoError(t, h.svc.Logout(ctx, "abc", models.RequestMeta{}))

	_, err = h.svc.ResolveAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, appErrors.ErrSessionRevoked)
}

func TestRevokeOnSecurityEventFlagsDevices(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	require.NoError(t, h.svc.RevokeOnSecurityEvent(ctx, "u1", "chargeback fraud", models.RequestMeta{}))

	assert.True(t, h.sessions.get(pair.SessionID).Revoked)
	assert.Equal(t, 1, h.devices.incidentCount())
	events := h.events.ofType(models.EventFraudRevocation)
	require.Len(t, events, 1)
	assert.Equal(t, "chargeback fraud", events[0].Detail)
}

func TestRevokeOnSecurityEventKillsOtherSessionsOnFlaggedDevice(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	victim, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	shared := loginRequest("correct-horse")
	shared.Email = "other@example.com"
	sameDevice, err := h.svc.Login(ctx, shared)
	require.NoError(t, err)

	shared.DeviceFingerprint = "fp-elsewhere"
	otherDevice, err := h.svc.Login(ctx, shared)
	require.NoError(t, err)

	require.NoError(t, h.svc.RevokeOnSecurityEvent(ctx, "u1", "account takeover", models.RequestMeta{}))

	assert.True(t, h.sessions.get(victim.SessionID).Revoked)
	assert.True(t, h.sessions.get(sameDevice.SessionID).Revoked)
	assert.False(t, h.sessions.get(otherDevice.SessionID).Revoked)
	assert.Equal(t, 1, h.devices.incidentCount())
}

func TestGetSessionMalformedIDIsNotFound(t *testing.T) {
	h := newAuthHarness(t, nil)

	_, err := h.svc.GetSession(context.Background(), "abc")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestResolveAccessTokenTouchesAtMostOncePerInterval(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	identity, err := h.svc.ResolveAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.Identity{UserID: "u1", Role: models.RoleCustomer, SessionID: pair.SessionID}, *identity)

	h.clock.Advance(10 * time.Second)
	_, err = h.svc.ResolveAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Zero(t, h.sessions.touches)

	h.clock.Advance(time.Minute)
	_, err = h.svc.ResolveAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, 1, h.sessions.touches)
}

func TestListSessionsMarksCurrent(t *testing.T) {
	h := newAuthHarness(t, nil)
	ctx := context.Background()
	pair, err := h.svc.Login(ctx, loginRequest("correct-horse"))
	require.NoError(t, err)

	sessions, err := h.svc.ListSessions(ctx, "u1", pair.SessionID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Current)
}
