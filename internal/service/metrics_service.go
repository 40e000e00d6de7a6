package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic and auth decisions.
// All methods are safe to call on a nil receiver.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginTotal      *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	lockoutTotal    *prometheus.CounterVec
	refreshReuse    prometheus.Counter
	deviceTier      *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Refresh attempts by outcome",
	}, []string{"outcome"})

	lockoutTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Lockouts engaged by key scope",
	}, []string{"scope"})

	refreshReuse := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_total",
		Help: "Superseded refresh tokens presented again",
	})

	deviceTier := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_device_evaluations_total",
		Help: "Device trust evaluations by resulting tier",
	}, []string{"tier"})

	eventsDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_security_events_dropped_total",
		Help: "Security events that could not be persisted",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginTotal, refreshTotal, lockoutTotal, refreshReuse, deviceTier, eventsDropped, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginTotal:      loginTotal,
		refreshTotal:    refreshTotal,
		lockoutTotal:    lockoutTotal,
		refreshReuse:    refreshReuse,
		deviceTier:      deviceTier,
		eventsDropped:   eventsDropped,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordLogin counts a login outcome such as "success" or "invalid_credentials".
func (m *MetricsService) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.loginTotal.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a refresh outcome.
func (m *MetricsService) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
}

// RecordLockout counts a lockout engaged for scope.
func (m *MetricsService) RecordLockout(scope string) {
	if m == nil {
		return
	}
	m.lockoutTotal.WithLabelValues(scope).Inc()
}

// RecordRefreshReuse counts a detected refresh token replay.
func (m *MetricsService) RecordRefreshReuse() {
	if m == nil {
		return
	}
	m.refreshReuse.Inc()
}

// RecordDeviceTier counts a device evaluation result.
func (m *MetricsService) RecordDeviceTier(tier string) {
	if m == nil {
		return
	}
	m.deviceTier.WithLabelValues(tier).Inc()
}

// RecordDroppedEvent counts a security event lost after retries.
func (m *MetricsService) RecordDroppedEvent() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}
