package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// SecurityEventRepository appends audit records. Rows are never updated.
type SecurityEventRepository struct {
	db *sqlx.DB
}

// NewSecurityEventRepository constructs the repository.
func NewSecurityEventRepository(db *sqlx.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

// Append inserts a security event.
func (r *SecurityEventRepository) Append(ctx context.Context, event *models.SecurityEvent) error {
	const query = `INSERT INTO security_events (id, event_type, account_key, user_id, session_id, device_id, ip_address,
user_agent, success, detail, request_id, timestamp)
VALUES (:id, :event_type, :account_key, :user_id, :session_id, :device_id, :ip_address, :user_agent, :success,
:detail, :request_id, :timestamp)`
	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("append security event: %w", err)
	}
	return nil
}
