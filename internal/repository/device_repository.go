package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// ErrDeviceNotFound indicates no device matched the lookup.
var ErrDeviceNotFound = errors.New("device not found")

const deviceColumns = `id, fingerprint, platform, jailbroken, attestation_passed, first_seen_at, last_seen_at,
last_incident_at, trust_score, trust_tier`

// DeviceRepository stores device trust records. Records are upserted by fingerprint and never deleted.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository constructs the repository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// GetByFingerprint returns the device registered under fingerprint.
func (r *DeviceRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.DeviceRecord, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE fingerprint = $1`
	var device models.DeviceRecord
	if err := r.db.GetContext(ctx, &device, query, fingerprint); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &device, nil
}

// Upsert inserts the device or replaces its signals and score, keeping first_seen_at and last_incident_at.
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.DeviceRecord) (*models.DeviceRecord, error) {
	query := `INSERT INTO devices (id, fingerprint, platform, jailbroken, attestation_passed, first_seen_at, last_seen_at,
last_incident_at, trust_score, trust_tier)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (fingerprint) DO UPDATE SET
	platform = EXCLUDED.platform,
	jailbroken = EXCLUDED.jailbroken,
	attestation_passed = EXCLUDED.attestation_passed,
	last_seen_at = EXCLUDED.last_seen_at,
	trust_score = EXCLUDED.trust_score,
	trust_tier = EXCLUDED.trust_tier
RETURNING ` + deviceColumns
	var stored models.DeviceRecord
	if err := r.db.GetContext(ctx, &stored, query, device.ID, device.Fingerprint, device.Platform, device.Jailbroken,
		device.AttestationPassed, device.FirstSeenAt, device.LastSeenAt, device.LastIncidentAt, device.TrustScore,
		device.TrustTier); err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}
	return &stored, nil
}

// MarkIncident records a security incident on the device, resetting its history bonus.
func (r *DeviceRepository) MarkIncident(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE devices SET last_incident_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark device incident: %w", err)
	}
	return nil
}
