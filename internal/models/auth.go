package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenKind separates access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the JWT payload shared by both token kinds.
type TokenClaims struct {
	SessionID string    `json:"sid"`
	Role      UserRole  `json:"role"`
	Kind      TokenKind `json:"typ"`
	jwt.RegisteredClaims
}

// Identity is what the surrounding application learns about an authenticated request.
type Identity struct {
	UserID    string   `json:"userId"`
	Role      UserRole `json:"role"`
	SessionID string   `json:"sessionId"`
}

// LoginRequest holds credentials and device context for a login attempt.
type LoginRequest struct {
	Email             string        `json:"email" validate:"required,email,max=254"`
	Password          string        `json:"password" validate:"required,max=256"`
	DeviceFingerprint string        `json:"deviceFingerprint" validate:"required,max=256"`
	Device            DeviceSignals `json:"device"`
	SecondFactorCode  string        `json:"secondFactorCode,omitempty" validate:"omitempty,max=16"`
	IP                string        `json:"-"`
	UserAgent         string        `json:"-"`
}

// RegisterRequest creates a new account.
type RegisterRequest struct {
	Email    string   `json:"email" validate:"required,email,max=254"`
	Password string   `json:"password" validate:"required,min=8,max=256"`
	FullName string   `json:"fullName" validate:"required,max=128"`
	Role     UserRole `json:"role" validate:"omitempty,oneof=customer provider"`
}

// RefreshRequest exchanges a refresh token for a new pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
	SessionID    string `json:"sessionId" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest revokes a single session.
type LogoutRequest struct {
	SessionID string `json:"sessionId" validate:"required,uuid"`
}

// LogoutAllRequest revokes every session of a user.
type LogoutAllRequest struct {
	UserID string `json:"userId" validate:"omitempty,uuid"`
}

// RevokeRequest is sent by fraud tooling to kill all sessions of a user.
type RevokeRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
	Reason string `json:"reason" validate:"required,max=512"`
}

// RequestMeta carries the caller context recorded in audit events.
type RequestMeta struct {
	IP        string
	UserAgent string
}
