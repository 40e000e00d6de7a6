package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smorting-auth/internal/models"
)

type securityAdminMock struct {
	revokedUser   string
	revokedReason string
	account, ip   string
}

func (m *securityAdminMock) RevokeOnSecurityEvent(ctx context.Context, userID, reason string, meta models.RequestMeta) error {
	m.revokedUser = userID
	m.revokedReason = reason
	return nil
}

func (m *securityAdminMock) LockoutStatus(ctx context.Context, account, ip string) (*models.LockoutStatus, error) {
	m.account, m.ip = account, ip
	return &models.LockoutStatus{Account: models.LockoutKeyStatus{Phase: models.LockoutWarning, FailureCount: 3, RemainingAttempts: 2, CaptchaRequired: true}, CaptchaRequired: true}, nil
}

func TestAdminHandlerRevokeUser(t *testing.T) {
	svc := &securityAdminMock{}
	h := NewAdminHandler(svc)

	c, _ := newJSONContext(t, http.MethodPost, "/api/v1/admin/security/revoke", map[string]string{"userId": userOne, "reason": "card fraud"})
	h.RevokeUser(c)

	assert.Equal(t, http.StatusNoContent, c.Writer.Status())
	assert.Equal(t, userOne, svc.revokedUser)
	assert.Equal(t, "card fraud", svc.revokedReason)
}

func TestAdminHandlerRevokeUserRequiresReason(t *testing.T) {
	svc := &securityAdminMock{}
	h := NewAdminHandler(svc)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/admin/security/revoke", map[string]string{"userId": userOne, "reason": "  "})
	h.RevokeUser(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.revokedUser)
}

func TestAdminHandlerRevokeUserRejectsMalformedUserID(t *testing.T) {
	svc := &securityAdminMock{}
	h := NewAdminHandler(svc)

	c, w := newJSONContext(t, http.MethodPost, "/api/v1/admin/security/revoke", map[string]string{"userId": "x", "reason": "card fraud"})
	h.RevokeUser(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, svc.revokedUser)
}

func TestAdminHandlerLockouts(t *testing.T) {
	svc := &securityAdminMock{}
	h := NewAdminHandler(svc)

	c, w := newJSONContext(t, http.MethodGet, "/api/v1/admin/lockouts?account=User@Example.com&ip=1.2.3.4", nil)
	h.Lockouts(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "User@Example.com", svc.account)
	assert.Equal(t, "1.2.3.4", svc.ip)
	assert.Contains(t, w.Body.String(), `"remainingAttempts":2`)
	assert.Contains(t, w.Body.String(), `"captchaRequired":true`)

	c, w = newJSONContext(t, http.MethodGet, "/api/v1/admin/lockouts", nil)
	h.Lockouts(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"postgres": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	})

	c, w := newJSONContext(t, http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{"postgres": func(ctx context.Context) error { return nil }})
	c, w = newJSONContext(t, http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)
}
