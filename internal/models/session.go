package models

import "time"

// Session is the server-side record binding a refresh token lineage to a user and device.
type Session struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"userId"`
	DeviceID         string     `db:"device_id" json:"deviceId"`
	AccessTokenHash  *string    `db:"access_token_hash" json:"-"`
	RefreshTokenHash string     `db:"refresh_token_hash" json:"-"`
	IssuedAt         time.Time  `db:"issued_at" json:"issuedAt"`
	AccessExpiresAt  time.Time  `db:"access_expires_at" json:"accessExpiresAt"`
	RefreshExpiresAt time.Time  `db:"refresh_expires_at" json:"refreshExpiresAt"`
	LastActivityAt   time.Time  `db:"last_activity_at" json:"lastActivityAt"`
	DeviceTrustTier  TrustTier  `db:"device_trust_tier" json:"deviceTrustTier"`
	Revoked          bool       `db:"revoked" json:"revoked"`
	RevokedAt        *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`
	IPAddress        string     `db:"ip_address" json:"ipAddress"`
	UserAgent        string     `db:"user_agent" json:"userAgent"`
	Version          int64      `db:"version" json:"-"`
}

// Active reports whether the session can still authorize requests at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.RefreshExpiresAt)
}

// SessionRotation carries the replacement credentials written by a refresh.
type SessionRotation struct {
	AccessTokenHash  string
	RefreshTokenHash string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	RotatedAt        time.Time
}

// TokenPair is the bearer credential handed to clients. Only hashes are persisted.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	SessionID        string    `json:"sessionId"`
}

// SessionInfo is the client-facing view of a session.
type SessionInfo struct {
	ID               string    `json:"id"`
	DeviceID         string    `json:"deviceId"`
	DeviceTrustTier  TrustTier `json:"deviceTrustTier"`
	IssuedAt         time.Time `json:"issuedAt"`
	LastActivityAt   time.Time `json:"lastActivityAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	IPAddress        string    `json:"ipAddress"`
	UserAgent        string    `json:"userAgent"`
	Current          bool      `json:"current"`
}
