package repository

import (
	"context"
	"sync"
	"time"

	"github.com/noah-isme/smorting-auth/internal/models"
)

// LockoutMutator mutates the state of a single lockout key. It may be invoked more than once per Update.
type LockoutMutator func(state *models.LockoutState) error

// MemoryLockoutRepository keeps lockout counters in process memory with one mutex per key.
type MemoryLockoutRepository struct {
	mu      sync.Mutex
	entries map[string]*lockoutEntry
}

type lockoutEntry struct {
	mu    sync.Mutex
	state models.LockoutState
	gone  bool
}

// NewMemoryLockoutRepository constructs an empty store.
func NewMemoryLockoutRepository() *MemoryLockoutRepository {
	return &MemoryLockoutRepository{entries: make(map[string]*lockoutEntry)}
}

// Get returns the state for key, or the zero state when absent.
func (r *MemoryLockoutRepository) Get(_ context.Context, key string) (models.LockoutState, error) {
	r.mu.Lock()
	entry, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return models.LockoutState{}, nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state, nil
}

// Update applies fn to key atomically. Operations on different keys never contend.
// A state reset to zero failures and no lock is removed from the store. The ttl
// argument is accepted for parity with the Redis store; expiry is handled by Sweep.
func (r *MemoryLockoutRepository) Update(ctx context.Context, key string, _ time.Duration, fn LockoutMutator) (models.LockoutState, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.LockoutState{}, err
		}
		entry := r.entry(key)
		entry.mu.Lock()
		if entry.gone {
			// Swept between lookup and lock; retry against the fresh entry.
			entry.mu.Unlock()
			continue
		}
		next := entry.state
		if err := fn(&next); err != nil {
			entry.mu.Unlock()
			return models.LockoutState{}, err
		}
		entry.state = next
		if next.FailureCount == 0 && next.LockedUntil == nil {
			r.remove(key, entry)
		}
		entry.mu.Unlock()
		return next, nil
	}
}

// Sweep drops counters whose last failure is older than cutoff and whose lock has elapsed.
func (r *MemoryLockoutRepository) Sweep(now, cutoff time.Time) int {
	r.mu.Lock()
	keys := make([]string, 0, len(r.entries))
	for key := range r.entries {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	removed := 0
	for _, key := range keys {
		r.mu.Lock()
		entry, ok := r.entries[key]
		r.mu.Unlock()
		if !ok {
			continue
		}
		entry.mu.Lock()
		locked := entry.state.LockedUntil != nil && now.Before(*entry.state.LockedUntil)
		if !locked && entry.state.LastFailureAt.Before(cutoff) {
			r.remove(key, entry)
			removed++
		}
		entry.mu.Unlock()
	}
	return removed
}

// Len reports the number of tracked keys.
func (r *MemoryLockoutRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *MemoryLockoutRepository) entry(key string) *lockoutEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &lockoutEntry{}
		r.entries[key] = entry
	}
	return entry
}

// remove must be called with entry.mu held.
func (r *MemoryLockoutRepository) remove(key string, entry *lockoutEntry) {
	entry.gone = true
	r.mu.Lock()
	if r.entries[key] == entry {
		delete(r.entries, key)
	}
	r.mu.Unlock()
}
