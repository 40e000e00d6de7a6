package models

import "time"

// SecurityEventType enumerates the audit records written by the auth core.
type SecurityEventType string

const (
	EventLogin              SecurityEventType = "login"
	EventLoginFailed        SecurityEventType = "login_failed"
	EventLoginRateLimited   SecurityEventType = "login_rate_limited"
	EventLockout            SecurityEventType = "lockout"
	EventSecondFactor       SecurityEventType = "second_factor_required"
	EventRegister           SecurityEventType = "register"
	EventTokenRefresh       SecurityEventType = "token_refresh"
	EventTokenRefreshFailed SecurityEventType = "token_refresh_failed"
	EventRefreshReuse       SecurityEventType = "refresh_token_reuse"
	EventLogout             SecurityEventType = "logout"
	EventLogoutAll          SecurityEventType = "logout_all"
	EventFraudRevocation    SecurityEventType = "fraud_revocation"
)

// SecurityEvent is an append-only audit record.
type SecurityEvent struct {
	ID         string            `db:"id" json:"id"`
	EventType  SecurityEventType `db:"event_type" json:"eventType"`
	AccountKey string            `db:"account_key" json:"accountKey"`
	UserID     *string           `db:"user_id" json:"userId,omitempty"`
	SessionID  *string           `db:"session_id" json:"sessionId,omitempty"`
	DeviceID   *string           `db:"device_id" json:"deviceId,omitempty"`
	IPAddress  string            `db:"ip_address" json:"ipAddress"`
	UserAgent  string            `db:"user_agent" json:"userAgent"`
	Success    bool              `db:"success" json:"success"`
	Detail     string            `db:"detail" json:"detail"`
	RequestID  string            `db:"request_id" json:"requestId,omitempty"`
	Timestamp  time.Time         `db:"timestamp" json:"timestamp"`
}
