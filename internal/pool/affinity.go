package pool

import (
	"sync"
	"time"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// affinityEntry binds a user-id to a credential, lazily expired on read.
// Grounded directly on original_source/src/kiro/affinity.rs's
// UserAffinityManager.
type affinityEntry struct {
	credentialID int64
	lastUsed     time.Time
}

// Affinity is the user-id -> credential stickiness map. Entries expire
// after config.DefaultAffinityTTL of inactivity.
type Affinity struct {
	mu      sync.Mutex
	entries map[string]affinityEntry
	ttl     time.Duration
}

func NewAffinity(ttl time.Duration) *Affinity {
	if ttl <= 0 {
		ttl = config.DefaultAffinityTTL
	}
	return &Affinity{entries: map[string]affinityEntry{}, ttl: ttl}
}

// Get returns the bound credential id for userID if the binding has not
// expired, lazily deleting it if it has.
func (a *Affinity) Get(userID string, now time.Time) (int64, bool) {
	if userID == "" {
		return 0, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[userID]
	if !ok {
		return 0, false
	}
	if now.Sub(e.lastUsed) > a.ttl {
		delete(a.entries, userID)
		return 0, false
	}
	return e.credentialID, true
}

// Set binds userID to credentialID, refreshing lastUsed.
func (a *Affinity) Set(userID string, credentialID int64, now time.Time) {
	if userID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[userID] = affinityEntry{credentialID: credentialID, lastUsed: now}
}

// Touch renews an existing binding's lastUsed without changing the
// credential, used on every successful reuse of a sticky credential.
func (a *Affinity) Touch(userID string, now time.Time) {
	if userID == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if e, ok := a.entries[userID]; ok {
		e.lastUsed = now
		a.entries[userID] = e
	}
}

// RemoveByCredential purges every binding pointing at credentialID, called
// when that credential is disabled or deleted.
func (a *Affinity) RemoveByCredential(credentialID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for userID, e := range a.entries {
		if e.credentialID == credentialID {
			delete(a.entries, userID)
		}
	}
}

// Cleanup sweeps expired bindings. Intended to run periodically from a
// background goroutine alongside the pool's other maintenance loops.
func (a *Affinity) Cleanup(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for userID, e := range a.entries {
		if now.Sub(e.lastUsed) > a.ttl {
			delete(a.entries, userID)
		}
	}
}
