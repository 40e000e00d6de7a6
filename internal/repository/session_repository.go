package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/smorting-auth/internal/models"
)

var (
	// ErrSessionNotFound indicates no session row matched.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStaleRefreshToken indicates the presented refresh hash no longer matches the session row.
	ErrStaleRefreshToken = errors.New("stale refresh token")
	// ErrSessionRevoked indicates the session row is revoked.
	ErrSessionRevoked = errors.New("session revoked")
)

const sessionColumns = `id, user_id, device_id, access_token_hash, refresh_token_hash, issued_at, access_expires_at,
refresh_expires_at, last_activity_at, device_trust_tier, revoked, revoked_at, ip_address, user_agent, version`

// SessionRepository persists sessions in Postgres. Refresh rotation is a row-level compare-and-swap.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session.
func (r *SessionRepository) Create(ctx context.Context, session *models.Session) error {
	const query = `INSERT INTO sessions (id, user_id, device_id, access_token_hash, refresh_token_hash, issued_at, access_expires_at,
refresh_expires_at, last_activity_at, device_trust_tier, revoked, revoked_at, ip_address, user_agent, version)
VALUES (:id, :user_id, :device_id, :access_token_hash, :refresh_token_hash, :issued_at, :access_expires_at,
:refresh_expires_at, :last_activity_at, :device_trust_tier, :revoked, :revoked_at, :ip_address, :user_agent, :version)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetByID returns the session with the given id regardless of state.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) || isInvalidUUID(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// GetByRefreshHash returns the session currently holding the given refresh hash.
func (r *SessionRepository) GetByRefreshHash(ctx context.Context, hash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session by refresh hash: %w", err)
	}
	return &session, nil
}

// GetByDeviceID lists the active sessions bound to a device.
func (r *SessionRepository) GetByDeviceID(ctx context.Context, deviceID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE device_id = $1 AND revoked = FALSE AND refresh_expires_at > $2 ORDER BY issued_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, deviceID, now); err != nil {
		return nil, fmt.Errorf("list sessions by device: %w", err)
	}
	return sessions, nil
}

// ListByUser lists the active sessions of a user.
func (r *SessionRepository) ListByUser(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND revoked = FALSE AND refresh_expires_at > $2 ORDER BY last_activity_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list sessions by user: %w", err)
	}
	return sessions, nil
}

// TouchActivity moves last_activity_at forward. Older timestamps are ignored.
func (r *SessionRepository) TouchActivity(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET last_activity_at = $2 WHERE id = $1 AND revoked = FALSE AND last_activity_at < $2`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RotateRefresh swaps the refresh hash only if the row still holds expectedHash and is not revoked.
// Exactly one of several concurrent callers presenting the same hash succeeds.
func (r *SessionRepository) RotateRefresh(ctx context.Context, id, expectedHash string, rotation models.SessionRotation) (*models.Session, error) {
	query := `UPDATE sessions SET access_token_hash = $3, refresh_token_hash = $4, access_expires_at = $5,
refresh_expires_at = $6, last_activity_at = $7, version = version + 1
WHERE id = $1 AND refresh_token_hash = $2 AND revoked = FALSE
RETURNING ` + sessionColumns
	var session models.Session
	err := r.db.GetContext(ctx, &session, query, id, expectedHash, rotation.AccessTokenHash, rotation.RefreshTokenHash,
		rotation.AccessExpiresAt, rotation.RefreshExpiresAt, rotation.RotatedAt)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rotate refresh: %w", err)
	}

	var revoked bool
	if err := r.db.GetContext(ctx, &revoked, `SELECT revoked FROM sessions WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("inspect session after failed rotation: %w", err)
	}
	if revoked {
		return nil, ErrSessionRevoked
	}
	return nil, ErrStaleRefreshToken
}

// Revoke marks a session revoked. Revoking an already revoked or missing session is not an error.
func (r *SessionRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		if isInvalidUUID(err) {
			return nil
		}
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live session of a user and returns how many were revoked.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	const query = `UPDATE sessions SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	res, err := r.db.ExecContext(ctx, query, userID, at)
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions rows: %w", err)
	}
	return affected, nil
}

// PurgeExpired deletes sessions whose refresh token expired, or that were revoked, before olderThan.
func (r *SessionRepository) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE refresh_expires_at < $1 OR (revoked = TRUE AND revoked_at < $1)`
	res, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge sessions rows: %w", err)
	}
	return affected, nil
}

// isInvalidUUID matches invalid_text_representation, raised when a non-UUID is bound to a uuid column.
func isInvalidUUID(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22P02"
}
