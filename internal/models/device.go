package models

import "time"

// TrustTier classifies a device for step-up auth and token lifetime policy.
type TrustTier string

const (
	TrustTierUntrusted TrustTier = "untrusted"
	TrustTierStandard  TrustTier = "standard"
	TrustTierTrusted   TrustTier = "trusted"
)

// DeviceRecord is created on first contact from a fingerprint and rescored on every login.
type DeviceRecord struct {
	ID                string     `db:"id" json:"id"`
	Fingerprint       string     `db:"fingerprint" json:"fingerprint"`
	Platform          string     `db:"platform" json:"platform"`
	Jailbroken        bool       `db:"jailbroken" json:"jailbroken"`
	AttestationPassed bool       `db:"attestation_passed" json:"attestationPassed"`
	FirstSeenAt       time.Time  `db:"first_seen_at" json:"firstSeenAt"`
	LastSeenAt        time.Time  `db:"last_seen_at" json:"lastSeenAt"`
	LastIncidentAt    *time.Time `db:"last_incident_at" json:"lastIncidentAt,omitempty"`
	TrustScore        float64    `db:"trust_score" json:"trustScore"`
	TrustTier         TrustTier  `db:"trust_tier" json:"trustTier"`
}

// DeviceSignals are the platform signals reported by the client at login.
type DeviceSignals struct {
	Platform          string `json:"platform" validate:"omitempty,max=32"`
	Jailbroken        bool   `json:"jailbroken"`
	AttestationPassed bool   `json:"attestationPassed"`
}
