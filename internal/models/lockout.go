package models

import "time"

// LockoutScope distinguishes per-account counters from per-source-IP counters.
type LockoutScope string

const (
	LockoutScopeAccount LockoutScope = "account"
	LockoutScopeIP      LockoutScope = "ip"
)

// LockoutKey identifies one brute force counter.
type LockoutKey struct {
	Scope LockoutScope
	Value string
}

func (k LockoutKey) String() string {
	return string(k.Scope) + ":" + k.Value
}

// LockoutPhase is the externally visible state of a counter.
type LockoutPhase string

const (
	LockoutClear   LockoutPhase = "clear"
	LockoutWarning LockoutPhase = "warning"
	LockoutLocked  LockoutPhase = "locked"
)

// LockoutState is the mutable counter for a single key.
type LockoutState struct {
	FailureCount    int        `json:"failureCount"`
	WindowStartedAt time.Time  `json:"windowStartedAt"`
	LastFailureAt   time.Time  `json:"lastFailureAt"`
	LockedUntil     *time.Time `json:"lockedUntil,omitempty"`
}

// Phase derives the state machine position at now.
func (s *LockoutState) Phase(now time.Time) LockoutPhase {
	if s == nil || s.FailureCount == 0 {
		return LockoutClear
	}
	if s.LockedUntil != nil && now.Before(*s.LockedUntil) {
		return LockoutLocked
	}
	return LockoutWarning
}

// LockoutStatus reports both counters consulted for a login attempt.
type LockoutStatus struct {
	Account         LockoutKeyStatus `json:"account"`
	IP              LockoutKeyStatus `json:"ip"`
	CaptchaRequired bool             `json:"captchaRequired"`
}

// LockoutKeyStatus is the admin view of one counter.
type LockoutKeyStatus struct {
	Key               string       `json:"key"`
	Phase             LockoutPhase `json:"phase"`
	FailureCount      int          `json:"failureCount"`
	RemainingAttempts int          `json:"remainingAttempts"`
	CaptchaRequired   bool         `json:"captchaRequired"`
	LockedUntil       *time.Time   `json:"lockedUntil,omitempty"`
}
