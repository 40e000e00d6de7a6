package service

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsServiceCounters(t *testing.T) {
	m := NewMetricsService()

	m.RecordLogin("success")
	m.RecordLogin("success")
	m.RecordLockout("account")
	m.RecordRefreshReuse()
	m.ObserveHTTPRequest(http.MethodPost, "/api/v1/auth/login", 200, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.loginTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockoutTotal.WithLabelValues("account")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refreshReuse))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "auth_login_total")
}

func TestMetricsServiceNilSafe(t *testing.T) {
	var m *MetricsService
	m.RecordLogin("success")
	m.RecordLockout("ip")
	m.ObserveHTTPRequest(http.MethodGet, "/", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
