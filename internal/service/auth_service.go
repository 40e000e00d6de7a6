package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
	appErrors "github.com/noah-isme/smorting-auth/pkg/errors"
)

type sessionStore interface {
	Create(ctx context.Context, session *models.Session) error
	GetByID(ctx context.Context, id string) (*models.Session, error)
	GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error)
	GetByDeviceID(ctx context.Context, deviceID string, now time.Time) ([]models.Session, error)
	ListByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	TouchActivity(ctx context.Context, id string, at time.Time) error
	RotateRefresh(ctx context.Context, id, expectedHash string, rotation models.SessionRotation) (*models.Session, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)
}

type credentialVerifier interface {
	VerifyPassword(ctx context.Context, email, password string) (*models.User, error)
	FindUser(ctx context.Context, id string) (*models.User, error)
	Register(ctx context.Context, req models.RegisterRequest) (*models.User, error)
}

type deviceEvaluator interface {
	Evaluate(ctx context.Context, fingerprint string, signals models.DeviceSignals) (*models.DeviceRecord, error)
	MarkIncident(ctx context.Context, deviceID string) error
}

type bruteForceGate interface {
	CheckAllowed(ctx context.Context, account, ip string) (LockoutDecision, error)
	RecordFailure(ctx context.Context, account, ip string) (LockoutDecision, error)
	RecordSuccess(ctx context.Context, account, ip string) error
	Status(ctx context.Context, account, ip string) (models.LockoutStatus, error)
}

// SecurityEventSink accepts append-only audit records.
type SecurityEventSink interface {
	Record(ctx context.Context, event models.SecurityEvent)
}

// SecondFactorVerifier checks a step-up code for a user.
type SecondFactorVerifier interface {
	Verify(ctx context.Context, userID, code string) (bool, error)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	AccessTTL         time.Duration
	RefreshTTL        map[models.TrustTier]time.Duration
	SecondFactorTiers []models.TrustTier
	OperationTimeout  time.Duration
	TouchInterval     time.Duration
}

func (c AuthConfig) refreshTTL(tier models.TrustTier) time.Duration {
	if ttl, ok := c.RefreshTTL[tier]; ok && ttl > 0 {
		return ttl
	}
	if ttl, ok := c.RefreshTTL[models.TrustTierUntrusted]; ok && ttl > 0 {
		return ttl
	}
	return 24 * time.Hour
}

func (c AuthConfig) requiresSecondFactor(tier models.TrustTier) bool {
	for _, t := range c.SecondFactorTiers {
		if t == tier {
			return true
		}
	}
	return false
}

// AuthDependencies groups the collaborators of AuthService.
type AuthDependencies struct {
	Codec        *TokenCodec
	Sessions     sessionStore
	Credentials  credentialVerifier
	Devices      deviceEvaluator
	BruteForce   bruteForceGate
	Events       SecurityEventSink
	SecondFactor SecondFactorVerifier
	Metrics      *MetricsService
}

// AuthService orchestrates login, refresh and revocation.
type AuthService struct {
	codec        *TokenCodec
	sessions     sessionStore
	credentials  credentialVerifier
	devices      deviceEvaluator
	bruteForce   bruteForceGate
	events       SecurityEventSink
	secondFactor SecondFactorVerifier
	metrics      *MetricsService
	validator    *validator.Validate
	logger       *zap.Logger
	config       AuthConfig
	now          func() time.Time
}

type noopEventSink struct{}

func (noopEventSink) Record(context.Context, models.SecurityEvent) {}

// NewAuthService constructs an AuthService instance.
func NewAuthService(deps AuthDependencies, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if deps.Events == nil {
		deps.Events = noopEventSink{}
	}
	if config.OperationTimeout <= 0 {
		config.OperationTimeout = 5 * time.Second
	}
	if config.AccessTTL <= 0 {
		config.AccessTTL = 30 * time.Minute
	}
	return &AuthService{
		codec:        deps.Codec,
		sessions:     deps.Sessions,
		credentials:  deps.Credentials,
		devices:      deps.Devices,
		bruteForce:   deps.BruteForce,
		events:       deps.Events,
		secondFactor: deps.SecondFactor,
		metrics:      deps.Metrics,
		validator:    validate,
		logger:       logger,
		config:       config,
		now:          time.Now,
	}
}

// Login authenticates credentials and issues a token pair for a new session.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	account := NormalizeAccountKey(req.Email)
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	decision, err := s.bruteForce.CheckAllowed(ctx, account, req.IP)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to check lockout")
	}
	if !decision.Allowed {
		s.metrics.RecordLogin("rate_limited")
		s.record(ctx, newEvent(models.EventLoginRateLimited, account, meta, false, "scope="+string(decision.Scope)))
		s.logger.Warn("login denied by lockout", zap.String("email", account), zap.String("ip", req.IP), zap.Duration("retry_after", decision.RetryAfter))
		return nil, appErrors.RateLimited(decision.RetryAfter)
	}

	user, err := s.credentials.VerifyPassword(ctx, account, req.Password)
	if err != nil {
		return nil, s.loginFailure(ctx, account, meta, err)
	}
	if err := s.bruteForce.RecordSuccess(ctx, account, req.IP); err != nil {
		s.logger.Warn("failed to reset lockout", zap.String("email", account), zap.Error(err))
	}

	device, err := s.devices.Evaluate(ctx, req.DeviceFingerprint, req.Device)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to evaluate device")
	}
	s.metrics.RecordDeviceTier(string(device.TrustTier))

	if s.config.requiresSecondFactor(device.TrustTier) {
		if err := s.checkSecondFactor(ctx, user, device, req, meta); err != nil {
			return nil, err
		}
	}

	pair, session, err := s.issueSession(ctx, user, device, meta)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin("success")
	event := newEvent(models.EventLogin, account, meta, true, "tier="+string(device.TrustTier))
	event.UserID, event.SessionID, event.DeviceID = strPtr(user.ID), strPtr(session.ID), strPtr(device.ID)
	s.record(ctx, event)
	s.logger.Info("login succeeded", zap.String("user_id", user.ID), zap.String("session_id", session.ID), zap.String("tier", string(device.TrustTier)))
	return pair, nil
}

func (s *AuthService) loginFailure(ctx context.Context, account string, meta models.RequestMeta, err error) error {
	if !errors.Is(err, appErrors.ErrInvalidCredentials) {
		if errors.Is(err, appErrors.ErrInactiveAccount) {
			s.metrics.RecordLogin("inactive")
			s.record(ctx, newEvent(models.EventLoginFailed, account, meta, false, "inactive account"))
			return err
		}
		return s.internal(ctx, err, "failed to verify credentials")
	}

	decision, recErr := s.bruteForce.RecordFailure(ctx, account, meta.IP)
	s.record(ctx, newEvent(models.EventLoginFailed, account, meta, false, "invalid credentials"))
	if recErr != nil {
		s.logger.Error("failed to record login failure", zap.String("email", account), zap.Error(recErr))
		return err
	}
	if !decision.Allowed {
		s.metrics.RecordLogin("locked")
		s.record(ctx, newEvent(models.EventLockout, account, meta, false, "scope="+string(decision.Scope)))
		s.logger.Warn("login locked out", zap.String("email", account), zap.String("ip", meta.IP), zap.String("scope", string(decision.Scope)))
		return appErrors.RateLimited(decision.RetryAfter)
	}
	s.metrics.RecordLogin("invalid_credentials")
	return err
}

func (s *AuthService) checkSecondFactor(ctx context.Context, user *models.User, device *models.DeviceRecord, req models.LoginRequest, meta models.RequestMeta) error {
	event := newEvent(models.EventSecondFactor, NormalizeAccountKey(req.Email), meta, false, "tier="+string(device.TrustTier))
	event.UserID, event.DeviceID = strPtr(user.ID), strPtr(device.ID)

	if s.secondFactor == nil {
		s.metrics.RecordLogin("device_untrusted")
		event.Detail += " verifier=none"
		s.record(ctx, event)
		return appErrors.Clone(appErrors.ErrDeviceUntrusted, "")
	}
	if req.SecondFactorCode == "" {
		s.metrics.RecordLogin("second_factor_required")
		s.record(ctx, event)
		return appErrors.Clone(appErrors.ErrSecondFactorRequired, "")
	}

	ok, err := s.secondFactor.Verify(ctx, user.ID, req.SecondFactorCode)
	if err != nil {
		return s.internal(ctx, err, "failed to verify second factor")
	}
	if !ok {
		event.Detail += " code=invalid"
		s.record(ctx, event)
		return s.loginFailure(ctx, NormalizeAccountKey(req.Email), meta, appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password"))
	}
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User, device *models.DeviceRecord, meta models.RequestMeta) (*models.TokenPair, *models.Session, error) {
	now := s.now().UTC()
	sessionID := uuid.NewString()

	pair, err := s.mintPair(user, sessionID, device.TrustTier)
	if err != nil {
		return nil, nil, err
	}

	accessHash := HashToken(pair.AccessToken)
	session := &models.Session{
		ID:               sessionID,
		UserID:           user.ID,
		DeviceID:         device.ID,
		AccessTokenHash:  &accessHash,
		RefreshTokenHash: HashToken(pair.RefreshToken),
		IssuedAt:         now,
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		LastActivityAt:   now,
		DeviceTrustTier:  device.TrustTier,
		IPAddress:        meta.IP,
		UserAgent:        meta.UserAgent,
		Version:          1,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, nil, s.internal(ctx, err, "failed to persist session")
	}
	return pair, session, nil
}

func (s *AuthService) mintPair(user *models.User, sessionID string, tier models.TrustTier) (*models.TokenPair, error) {
	access, accessExp, err := s.codec.Mint(models.TokenKindAccess, user.ID, sessionID, user.Role, s.config.AccessTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	refresh, refreshExp, err := s.codec.Mint(models.TokenKindRefresh, user.ID, sessionID, user.Role, s.config.refreshTTL(tier))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		SessionID:        sessionID,
	}, nil
}

// Register creates an account.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest, meta models.RequestMeta) (*models.UserInfo, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.credentials.Register(ctx, req)
	if err != nil {
		return nil, s.timeoutOr(ctx, err)
	}
	event := newEvent(models.EventRegister, user.Email, meta, true, "role="+string(user.Role))
	event.UserID = strPtr(user.ID)
	s.record(ctx, event)
	return &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}, nil
}

// Refresh rotates the session's refresh token. A superseded token revokes the whole session.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	claims, err := s.codec.Verify(models.TokenKindRefresh, req.RefreshToken)
	if err != nil || claims.SessionID != req.SessionID {
		return nil, s.refreshFailure(ctx, "", meta, "invalid refresh token", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	}

	presentedHash := HashToken(req.RefreshToken)
	session, err := s.sessions.GetByRefreshHash(ctx, presentedHash)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return nil, s.internal(ctx, err, "failed to load session")
		}
		return nil, s.unmatchedRefresh(ctx, claims, meta)
	}

	now := s.now().UTC()
	switch {
	case !TokenHashEqual(session.RefreshTokenHash, presentedHash):
		return nil, s.refreshFailure(ctx, session.ID, meta, "refresh hash mismatch", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	case session.ID != claims.SessionID || session.UserID != claims.Subject:
		return nil, s.refreshFailure(ctx, session.ID, meta, "session mismatch", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	case session.Revoked:
		return nil, s.refreshFailure(ctx, session.ID, meta, "session revoked", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	case !now.Before(session.RefreshExpiresAt):
		return nil, s.refreshFailure(ctx, session.ID, meta, "session expired", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	}

	user, err := s.credentials.FindUser(ctx, session.UserID)
	if err != nil || user == nil || !user.Active {
		if err != nil && !isNotFound(err) {
			return nil, s.internal(ctx, err, "failed to load user")
		}
		return nil, s.refreshFailure(ctx, session.ID, meta, "user unavailable", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	}

	pair, err := s.mintPair(user, session.ID, session.DeviceTrustTier)
	if err != nil {
		return nil, err
	}

	_, err = s.sessions.RotateRefresh(ctx, session.ID, presentedHash, models.SessionRotation{
		AccessTokenHash:  HashToken(pair.AccessToken),
		RefreshTokenHash: HashToken(pair.RefreshToken),
		AccessExpiresAt:  pair.AccessExpiresAt,
		RefreshExpiresAt: pair.RefreshExpiresAt,
		RotatedAt:        now,
	})
	switch {
	case errors.Is(err, repository.ErrStaleRefreshToken):
		return nil, s.refreshReuse(ctx, session, meta)
	case errors.Is(err, repository.ErrSessionRevoked):
		return nil, s.refreshFailure(ctx, session.ID, meta, "session revoked", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	case errors.Is(err, repository.ErrSessionNotFound):
		return nil, s.refreshFailure(ctx, session.ID, meta, "session missing", appErrors.Clone(appErrors.ErrInvalidToken, ""))
	case err != nil:
		return nil, s.internal(ctx, err, "failed to rotate session")
	}

	s.metrics.RecordRefresh("success")
	event := newEvent(models.EventTokenRefresh, user.Email, meta, true, "")
	event.UserID, event.SessionID, event.DeviceID = strPtr(user.ID), strPtr(session.ID), strPtr(session.DeviceID)
	s.record(ctx, event)
	return pair, nil
}

// unmatchedRefresh handles a validly signed refresh token whose hash is no longer stored.
func (s *AuthService) unmatchedRefresh(ctx context.Context, claims *models.TokenClaims, meta models.RequestMeta) error {
	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return s.refreshFailure(ctx, "", meta, "unknown session", appErrors.Clone(appErrors.ErrInvalidToken, ""))
		}
		return s.internal(ctx, err, "failed to load session")
	}
	if session.Revoked {
		return s.refreshFailure(ctx, session.ID, meta, "session revoked", appErrors.Clone(appErrors.ErrSessionRevoked, ""))
	}
	return s.refreshReuse(ctx, session, meta)
}

// refreshReuse treats a superseded refresh token as theft: the session dies and the device is flagged.
func (s *AuthService) refreshReuse(ctx context.Context, session *models.Session, meta models.RequestMeta) error {
	now := s.now().UTC()
	if err := s.sessions.Revoke(ctx, session.ID, now); err != nil {
		s.logger.Error("failed to revoke session after refresh reuse", zap.String("session_id", session.ID), zap.Error(err))
	}
	if err := s.devices.MarkIncident(ctx, session.DeviceID); err != nil {
		s.logger.Warn("failed to mark device incident", zap.String("device_id", session.DeviceID), zap.Error(err))
	}

	s.metrics.RecordRefreshReuse()
	s.metrics.RecordRefresh("stale")
	event := newEvent(models.EventRefreshReuse, "", meta, false, "superseded refresh token presented")
	event.UserID, event.SessionID, event.DeviceID = strPtr(session.UserID), strPtr(session.ID), strPtr(session.DeviceID)
	s.record(ctx, event)
	s.logger.Warn("refresh token reuse detected, session revoked",
		zap.String("session_id", session.ID),
		zap.String("user_id", session.UserID),
		zap.String("ip", meta.IP),
	)
	return appErrors.Clone(appErrors.ErrStaleRefreshToken, "")
}

func (s *AuthService) refreshFailure(ctx context.Context, sessionID string, meta models.RequestMeta, detail string, err *appErrors.Error) error {
	s.metrics.RecordRefresh(err.Code)
	event := newEvent(models.EventTokenRefreshFailed, "", meta, false, detail)
	event.SessionID = strPtr(sessionID)
	s.record(ctx, event)
	return err
}

// Logout revokes a single session. Revoking twice is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionID string, meta models.RequestMeta) error {
	if !isUUID(sessionID) {
		return nil
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	if err := s.sessions.Revoke(ctx, sessionID, s.now().UTC()); err != nil {
		return s.internal(ctx, err, "failed to revoke session")
	}
	event := newEvent(models.EventLogout, "", meta, true, "")
	event.SessionID = strPtr(sessionID)
	s.record(ctx, event)
	return nil
}

// LogoutAll revokes every session of a user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string, meta models.RequestMeta) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	count, err := s.sessions.RevokeAllForUser(ctx, userID, s.now().UTC())
	if err != nil {
		return s.internal(ctx, err, "failed to revoke sessions")
	}
	event := newEvent(models.EventLogoutAll, "", meta, true, "")
	event.UserID = strPtr(userID)
	event.Detail = "revoked=" + itoa(count)
	s.record(ctx, event)
	return nil
}

// RevokeOnSecurityEvent is called by fraud tooling. It revokes every session of the user,
// flags the devices involved and kills any other live session still bound to those devices.
func (s *AuthService) RevokeOnSecurityEvent(ctx context.Context, userID, reason string, meta models.RequestMeta) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	now := s.now().UTC()
	active, err := s.sessions.ListByUser(ctx, userID, now)
	if err != nil {
		return s.internal(ctx, err, "failed to list sessions")
	}
	if _, err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
		return s.internal(ctx, err, "failed to revoke sessions")
	}
	flagged := make(map[string]struct{}, len(active))
	var collateral int
	for _, session := range active {
		if _, done := flagged[session.DeviceID]; done {
			continue
		}
		flagged[session.DeviceID] = struct{}{}
		if err := s.devices.MarkIncident(ctx, session.DeviceID); err != nil {
			s.logger.Warn("failed to mark device incident", zap.String("device_id", session.DeviceID), zap.Error(err))
		}
		n, err := s.revokeDeviceSessions(ctx, session.DeviceID, now)
		if err != nil {
			return s.internal(ctx, err, "failed to revoke device sessions")
		}
		collateral += n
	}

	event := newEvent(models.EventFraudRevocation, "", meta, true, reason)
	event.UserID = strPtr(userID)
	s.record(ctx, event)
	s.logger.Warn("sessions revoked on security event",
		zap.String("user_id", userID),
		zap.Int("sessions", len(active)),
		zap.Int("device_sessions", collateral),
		zap.String("reason", reason),
	)
	return nil
}

// revokeDeviceSessions revokes the sessions still live on a flagged device and returns how many it revoked.
func (s *AuthService) revokeDeviceSessions(ctx context.Context, deviceID string, now time.Time) (int, error) {
	sessions, err := s.sessions.GetByDeviceID(ctx, deviceID, now)
	if err != nil {
		return 0, err
	}
	for _, session := range sessions {
		if err := s.sessions.Revoke(ctx, session.ID, now); err != nil {
			return 0, err
		}
	}
	return len(sessions), nil
}

// GetSession returns a session by id.
func (s *AuthService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if !isUUID(sessionID) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, s.internal(ctx, err, "failed to load session")
	}
	return session, nil
}

// ListSessions returns the active sessions of a user, marking the caller's own.
func (s *AuthService) ListSessions(ctx context.Context, userID, currentSessionID string) ([]models.SessionInfo, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	sessions, err := s.sessions.ListByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, s.internal(ctx, err, "failed to list sessions")
	}
	infos := make([]models.SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, models.SessionInfo{
			ID:               session.ID,
			DeviceID:         session.DeviceID,
			DeviceTrustTier:  session.DeviceTrustTier,
			IssuedAt:         session.IssuedAt,
			LastActivityAt:   session.LastActivityAt,
			RefreshExpiresAt: session.RefreshExpiresAt,
			IPAddress:        session.IPAddress,
			UserAgent:        session.UserAgent,
			Current:          session.ID == currentSessionID,
		})
	}
	return infos, nil
}

// CurrentUser returns the profile for an identity.
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.UserInfo, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	user, err := s.credentials.FindUser(ctx, userID)
	if err != nil {
		if isNotFound(err) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, s.internal(ctx, err, "failed to load user")
	}
	return &models.UserInfo{ID: user.ID, Email: user.Email, FullName: user.FullName, Role: user.Role}, nil
}

// LockoutStatus reports brute force counters for an account and IP.
func (s *AuthService) LockoutStatus(ctx context.Context, account, ip string) (*models.LockoutStatus, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	status, err := s.bruteForce.Status(ctx, account, ip)
	if err != nil {
		return nil, s.internal(ctx, err, "failed to load lockout status")
	}
	return &status, nil
}

// ResolveAccessToken verifies an access token and loads the identity behind it.
func (s *AuthService) ResolveAccessToken(ctx context.Context, token string) (*models.Identity, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	claims, err := s.codec.Verify(models.TokenKindAccess, token)
	if err != nil {
		message := "invalid token"
		if errors.Is(err, ErrTokenExpired) {
			message = "token expired"
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, message)
	}

	session, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, s.internal(ctx, err, "failed to load session")
	}
	now := s.now().UTC()
	switch {
	case session.UserID != claims.Subject:
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	case session.Revoked:
		return nil, appErrors.Clone(appErrors.ErrSessionRevoked, "")
	case !now.Before(session.RefreshExpiresAt):
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	user, err := s.credentials.FindUser(ctx, claims.Subject)
	if err != nil && !isNotFound(err) {
		return nil, s.internal(ctx, err, "failed to load user")
	}
	if user == nil || !user.Active {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	if now.Sub(session.LastActivityAt) >= s.config.TouchInterval {
		if err := s.sessions.TouchActivity(ctx, session.ID, now); err != nil {
			s.logger.Warn("failed to touch session", zap.String("session_id", session.ID), zap.Error(err))
		}
	}

	return &models.Identity{UserID: user.ID, Role: user.Role, SessionID: session.ID}, nil
}

func (s *AuthService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.config.OperationTimeout)
}

func (s *AuthService) internal(ctx context.Context, err error, message string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("auth operation timed out", zap.String("op", message), zap.Error(err))
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *AuthService) timeoutOr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return appErrors.Wrap(err, appErrors.ErrTimeout.Code, appErrors.ErrTimeout.Status, appErrors.ErrTimeout.Message)
	}
	return err
}

func (s *AuthService) record(ctx context.Context, event models.SecurityEvent) {
	s.events.Record(ctx, event)
}
