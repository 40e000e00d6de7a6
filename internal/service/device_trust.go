package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/smorting-auth/internal/models"
	"github.com/noah-isme/smorting-auth/internal/repository"
)

// TrustPolicy holds the scoring weights and tier thresholds.
type TrustPolicy struct {
	Base              float64
	AttestationWeight float64
	JailbreakWeight   float64
	HistoryWeight     float64
	NewDeviceWeight   float64
	HistorySaturation time.Duration
	TrustedThreshold  float64
	DistrustThreshold float64
}

// DefaultTrustPolicy mirrors the configuration defaults.
func DefaultTrustPolicy() TrustPolicy {
	return TrustPolicy{
		Base:              0.5,
		AttestationWeight: 0.25,
		JailbreakWeight:   0.75,
		HistoryWeight:     0.25,
		NewDeviceWeight:   0.15,
		HistorySaturation: 30 * 24 * time.Hour,
		TrustedThreshold:  0.75,
		DistrustThreshold: 0.3,
	}
}

// TrustSignals is the input of the scoring function.
type TrustSignals struct {
	AttestationPassed bool
	Jailbroken        bool
	NewDevice         bool
	FirstSeenAt       time.Time
	LastIncidentAt    *time.Time
	Now               time.Time
}

// ScoreDevice computes a trust score in [0,1] and its tier.
func ScoreDevice(signals TrustSignals, policy TrustPolicy) (float64, models.TrustTier) {
	score := policy.Base
	score += policy.AttestationWeight * boolTerm(signals.AttestationPassed)
	score -= policy.JailbreakWeight * boolTerm(signals.Jailbroken)
	score += policy.HistoryWeight * historyTerm(signals, policy.HistorySaturation)
	score -= policy.NewDeviceWeight * boolTerm(signals.NewDevice)
	score = clamp01(score)

	switch {
	case score >= policy.TrustedThreshold:
		return score, models.TrustTierTrusted
	case score <= policy.DistrustThreshold:
		return score, models.TrustTierUntrusted
	default:
		return score, models.TrustTierStandard
	}
}

// historyTerm grows linearly with clean history. The clock restarts at the last incident.
func historyTerm(signals TrustSignals, saturation time.Duration) float64 {
	if signals.NewDevice || saturation <= 0 || signals.FirstSeenAt.IsZero() {
		return 0
	}
	since := signals.FirstSeenAt
	if signals.LastIncidentAt != nil && signals.LastIncidentAt.After(since) {
		since = *signals.LastIncidentAt
	}
	return clamp01(float64(signals.Now.Sub(since)) / float64(saturation))
}

func boolTerm(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

type deviceRepository interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.DeviceRecord, error)
	Upsert(ctx context.Context, device *models.DeviceRecord) (*models.DeviceRecord, error)
	MarkIncident(ctx context.Context, id string, at time.Time) error
}

// DeviceTrustService loads, scores and persists device records.
type DeviceTrustService struct {
	repo   deviceRepository
	policy TrustPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewDeviceTrustService constructs the service.
func NewDeviceTrustService(repo deviceRepository, policy TrustPolicy, logger *zap.Logger) *DeviceTrustService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceTrustService{repo: repo, policy: policy, logger: logger, now: time.Now}
}

// Evaluate rescores the device identified by fingerprint, creating it on first contact.
func (s *DeviceTrustService) Evaluate(ctx context.Context, fingerprint string, signals models.DeviceSignals) (*models.DeviceRecord, error) {
	now := s.now().UTC()

	existing, err := s.repo.GetByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, repository.ErrDeviceNotFound) {
		return nil, fmt.Errorf("load device: %w", err)
	}

	device := &models.DeviceRecord{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		FirstSeenAt: now,
	}
	if existing != nil {
		device = existing
	}
	device.Platform = signals.Platform
	device.Jailbroken = signals.Jailbroken
	device.AttestationPassed = signals.AttestationPassed
	device.LastSeenAt = now

	device.TrustScore, device.TrustTier = ScoreDevice(TrustSignals{
		AttestationPassed: signals.AttestationPassed,
		Jailbroken:        signals.Jailbroken,
		NewDevice:         existing == nil,
		FirstSeenAt:       device.FirstSeenAt,
		LastIncidentAt:    device.LastIncidentAt,
		Now:               now,
	}, s.policy)

	stored, err := s.repo.Upsert(ctx, device)
	if err != nil {
		return nil, fmt.Errorf("store device: %w", err)
	}

	s.logger.Debug("device scored",
		zap.String("device_id", stored.ID),
		zap.Float64("score", stored.TrustScore),
		zap.String("tier", string(stored.TrustTier)),
	)
	return stored, nil
}

// MarkIncident records a theft or fraud signal against the device.
func (s *DeviceTrustService) MarkIncident(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return nil
	}
	return s.repo.MarkIncident(ctx, deviceID, s.now().UTC())
}
