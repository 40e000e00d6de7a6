package service

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// Token verification failures.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenInvalidSignature = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
)

// TokenCodecConfig carries the independent signing secrets.
type TokenCodecConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
}

// TokenCodec mints and verifies HS256 tokens. It performs no I/O.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	now           func() time.Time
}

// NewTokenCodec constructs a codec.
func NewTokenCodec(cfg TokenCodecConfig) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		now:           time.Now,
	}
}

// Mint signs a token of the given kind for the user and session.
func (c *TokenCodec) Mint(kind models.TokenKind, userID, sessionID string, role models.UserRole, ttl time.Duration) (string, time.Time, error) {
	secret, err := c.secret(kind)
	if err != nil {
		return "", time.Time{}, err
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := models.TokenClaims{
		SessionID: sessionID,
		Role:      role,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, expiry, kind and required claims.
func (c *TokenCodec) Verify(kind models.TokenKind, tokenString string) (*models.TokenClaims, error) {
	secret, err := c.secret(kind)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	claims := &models.TokenClaims{}
	_, err = jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrTokenInvalidSignature
		default:
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		}
	}

	// A token signed for the other purpose must never pass, even under shared secrets.
	if claims.Kind != kind {
		return nil, ErrTokenInvalidSignature
	}
	if claims.Subject == "" || claims.SessionID == "" || claims.Role == "" || claims.IssuedAt == nil {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func (c *TokenCodec) secret(kind models.TokenKind) ([]byte, error) {
	switch kind {
	case models.TokenKindAccess:
		return c.accessSecret, nil
	case models.TokenKindRefresh:
		return c.refreshSecret, nil
	}
	return nil, fmt.Errorf("unknown token kind %q", kind)
}

// HashToken returns the hex SHA-256 digest persisted in place of raw tokens.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenHashEqual compares two token hashes in constant time.
func TokenHashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
