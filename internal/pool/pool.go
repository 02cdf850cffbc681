package pool

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// RateLimiter is consulted by selection as an additional selectability
// filter, alongside enabled/circuit state. A credential currently inside
// its backoff window or over its daily cap is treated as unavailable for
// that call. Satisfied by internal/ratelimit.Limiter; kept as an interface
// here so pool does not import ratelimit.
type RateLimiter interface {
	Allowed(credentialID int64, now time.Time) bool
	RecordAttempt(credentialID int64, now time.Time)
	RecordSuccess(credentialID int64)
	RecordFailure(credentialID int64, now time.Time, errBody string)
}

type noopRateLimiter struct{}

func (noopRateLimiter) Allowed(int64, time.Time) bool                  { return true }
func (noopRateLimiter) RecordAttempt(int64, time.Time)                 {}
func (noopRateLimiter) RecordSuccess(int64)                            {}
func (noopRateLimiter) RecordFailure(int64, time.Time, string)         {}

// Pool owns the full credential set behind a single read-write lock, plus
// the sibling balance cache, affinity map, and global circuit, mirroring
// the locking shape spec.md §5 and design note 1 describe.
type Pool struct {
	mu    sync.RWMutex
	byID  map[int64]*Credential
	order []int64 // insertion order, preserved across admin ops

	nextID atomic.Int64

	Balance  *BalanceCache
	Affinity *Affinity
	Circuit  *GlobalCircuit

	mode       atomic.Value // LoadBalancingMode
	roundRobin atomic.Int64

	rateLimiter RateLimiter
	writer      *Writer

	failureCap int
}

// New creates an empty pool. credentialsPath is used by the background
// writer for atomic persistence; pass "" to disable write-back (tests).
func New(credentialsPath string) *Pool {
	p := &Pool{
		byID:        map[int64]*Credential{},
		Balance:     NewBalanceCache(),
		Affinity:    NewAffinity(config.DefaultAffinityTTL),
		Circuit:     NewGlobalCircuit(config.DefaultRecoveryWindow),
		rateLimiter: noopRateLimiter{},
		failureCap:  config.DefaultFailureCap,
	}
	p.mode.Store(ModePriority)
	if credentialsPath != "" {
		p.writer = NewWriter(credentialsPath)
	}
	return p
}

// SetRateLimiter wires a real rate limiter in after construction (it in
// turn may need a reference back to the pool for its own bookkeeping, so
// the two are built independently and linked here to avoid an import
// cycle).
func (p *Pool) SetRateLimiter(rl RateLimiter) {
	if rl == nil {
		rl = noopRateLimiter{}
	}
	p.rateLimiter = rl
}

// LoadFromFile populates the pool from a credentials JSON file, per
// spec.md §6, logging a one-time promotion event for legacy single-object
// files (supplemented feature #3).
func (p *Pool) LoadFromFile(path string) error {
	raws, legacy, err := config.LoadCredentialsFile(path)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, raw := range raws {
		c, err := credentialFromRaw(raw, func() int64 { return p.nextID.Add(1) })
		if err != nil {
			return err
		}
		if c.ID >= p.nextID.Load() {
			p.nextID.Store(c.ID + 1)
		}
		p.byID[c.ID] = c
		p.order = append(p.order, c.ID)
	}

	if legacy {
		log.Info().Int("credentials", len(raws)).Msg("promoted legacy single-object credentials file to array form")
	}
	return nil
}

// SetMode switches between priority and balanced load-balancing.
func (p *Pool) SetMode(mode LoadBalancingMode) {
	p.mode.Store(mode)
}

func (p *Pool) Mode() LoadBalancingMode {
	return p.mode.Load().(LoadBalancingMode)
}

// Acquire runs the selection algorithm described in spec.md §4.1 and
// returns a lease Context for the chosen credential.
func (p *Pool) Acquire(userID string) (Context, error) {
	now := time.Now()

	if p.Circuit.Open(now) {
		return Context{}, ErrNoCredentialAvailable
	}

	p.mu.RLock()
	candidates := make([]snapshot, 0, len(p.byID))
	for _, id := range p.order {
		c, ok := p.byID[id]
		if !ok {
			continue
		}
		if !p.isSelectable(c, now) {
			continue
		}
		candidates = append(candidates, c.takeSnapshot(p.Balance.Get(id, now)))
	}
	p.mu.RUnlock()

	if len(candidates) == 0 {
		return Context{}, ErrNoCredentialAvailable
	}

	// Affinity: tried first if the bound credential survived filtering.
	if boundID, ok := p.Affinity.Get(userID, now); ok {
		for _, s := range candidates {
			if s.id == boundID {
				p.Affinity.Touch(userID, now)
				p.markInFlight(boundID, 1)
				p.rateLimiter.RecordAttempt(boundID, now)
				return p.contextFor(s, now), nil
			}
		}
	}

	chosen, ok := selectFrom(candidates, p.Mode(), &p.roundRobin)
	if !ok {
		return Context{}, ErrNoCredentialAvailable
	}

	p.Affinity.Set(userID, chosen.id, now)
	p.markInFlight(chosen.id, 1)
	p.rateLimiter.RecordAttempt(chosen.id, now)
	return p.contextFor(chosen, now), nil
}

func (p *Pool) contextFor(s snapshot, now time.Time) Context {
	return Context{
		CredentialID: s.id,
		ProfileARN:   s.profileARN,
		Region:       s.region,
		MachineID:    s.machineID,
		AuthFlavor:   s.authFlavor,
		AcquiredAt:   now,
	}
}

func (p *Pool) isSelectable(c *Credential, now time.Time) bool {
	c.mu.Lock()
	enabled := c.Enabled
	c.mu.Unlock()
	if !enabled {
		return false
	}
	if c.DisableReason != DisableNone {
		return false
	}
	return p.rateLimiter.Allowed(c.ID, now)
}

func (p *Pool) markInFlight(id int64, delta int64) {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c != nil {
		c.InFlight.Add(delta)
	}
}

// Release decrements a credential's in-flight counter without touching
// failure/success bookkeeping, for callers that acquired a lease but
// abandoned it before making an upstream call (e.g. the retry engine's own
// per-credential attempt budget, enforced independently of the pool's
// failure-cap).
func (p *Pool) Release(id int64) {
	p.markInFlight(id, -1)
}

// ReportSuccess records a completed call: decrements in-flight, clears
// transient failure count, clears the global circuit, updates counters, and
// schedules a persistence write-back.
func (p *Pool) ReportSuccess(id int64, usageTokens int64, model string) {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return
	}

	c.InFlight.Add(-1)
	c.recordCounters(model, usageTokens, time.Now())

	c.mu.Lock()
	c.FailureCount = 0
	c.LastUsedAt = time.Now()
	c.LastError = ""
	c.mu.Unlock()

	p.Circuit.ReportSuccess()
	p.rateLimiter.RecordSuccess(id)
	p.persistAsync()
}

// ReportFailure records a failed call per the transition table in
// spec.md §4.1.
func (p *Pool) ReportFailure(id int64, kind FailureKind, errMsg string) {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return
	}

	c.InFlight.Add(-1)

	now := time.Now()
	c.mu.Lock()
	c.LastError = errMsg
	switch kind {
	case FailureInsufficientBalance:
		c.Enabled = false
		c.DisableReason = DisableBalance
	case FailureQuotaExceeded:
		c.Enabled = false
		c.DisableReason = DisableQuotaExceeded
	case FailureModelUnavailable:
		c.FailureCount++
		if c.FailureCount >= p.failureCap {
			c.Enabled = false
			c.DisableReason = DisableModelUnavailable
			c.AutoHealAt = now.Add(config.DefaultRecoveryWindow)
		}
	default:
		c.FailureCount++
		if c.FailureCount >= p.failureCap {
			c.Enabled = false
			c.DisableReason = DisableFailureCap
			c.AutoHealAt = now.Add(config.DefaultRecoveryWindow)
		}
	}
	disabled := !c.Enabled
	c.mu.Unlock()

	if kind == FailureModelUnavailable {
		p.Circuit.ReportModelUnavailable(now)
	}
	if disabled {
		p.Affinity.RemoveByCredential(id)
	}
	p.rateLimiter.RecordFailure(id, now, errMsg)
	p.persistAsync()
}

// AutoHeal re-enables credentials whose cooldown has elapsed, per the
// {failure-cap|model-unavailable} -> Enabled transition in spec.md §4.1.
// Intended to run periodically from a background goroutine.
func (p *Pool) AutoHeal(now time.Time) {
	p.mu.RLock()
	ids := make([]int64, 0, len(p.byID))
	for id := range p.byID {
		ids = append(ids, id)
	}
	p.mu.RUnlock()

	healed := false
	for _, id := range ids {
		p.mu.RLock()
		c := p.byID[id]
		p.mu.RUnlock()
		if c == nil {
			continue
		}
		c.mu.Lock()
		if !c.Enabled && c.DisableReason.autoHeals() && !c.AutoHealAt.IsZero() && now.After(c.AutoHealAt) {
			c.Enabled = true
			c.DisableReason = DisableNone
			c.FailureCount = 0
			healed = true
		}
		c.mu.Unlock()
	}
	if healed {
		p.persistAsync()
	}
}

// ---- admin ops ----

// CredentialView is a read-only projection of a credential for the admin
// surface; it never includes the raw refresh token or client secret.
type CredentialView struct {
	ID            int64         `json:"id"`
	Enabled       bool          `json:"enabled"`
	DisableReason DisableReason `json:"disableReason,omitempty"`
	Priority      int           `json:"priority"`
	Region        string        `json:"region,omitempty"`
	AuthFlavor    AuthFlavor    `json:"authFlavor"`
	FailureCount  int           `json:"failureCount"`
	InFlight      int64         `json:"inFlight"`
	LastUsedAt    time.Time     `json:"lastUsedAt,omitempty"`
	LastError     string        `json:"lastError,omitempty"`
	RefreshTokenMasked string   `json:"refreshTokenMasked"`
	Balance       float64       `json:"cachedBalance"`
}

func maskKey(key string) string {
	if key == "" {
		return "(empty)"
	}
	if len(key) < 16 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}

func (p *Pool) viewOf(c *Credential) CredentialView {
	c.mu.Lock()
	v := CredentialView{
		ID:                 c.ID,
		Enabled:            c.Enabled,
		DisableReason:      c.DisableReason,
		Priority:           c.Priority,
		Region:             c.Region,
		AuthFlavor:         c.AuthFlavor,
		FailureCount:       c.FailureCount,
		InFlight:           c.InFlight.Load(),
		LastUsedAt:         c.LastUsedAt,
		LastError:          c.LastError,
		RefreshTokenMasked: maskKey(c.RefreshToken),
	}
	c.mu.Unlock()
	v.Balance = p.Balance.Get(c.ID, time.Now())
	return v
}

// AllSnapshots returns every credential's admin view, in stable insertion
// order, for get-all-snapshots.
func (p *Pool) AllSnapshots() []CredentialView {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]CredentialView, 0, len(p.order))
	for _, id := range p.order {
		if c, ok := p.byID[id]; ok {
			out = append(out, p.viewOf(c))
		}
	}
	return out
}

// CachedBalances returns the full balance cache for get-cached-balances.
func (p *Pool) CachedBalances() map[int64]float64 {
	return p.Balance.All()
}

// SetDisabled implements the admin set-disabled op. Disabling always sets
// reason=manual; enabling clears the reason and failure count.
func (p *Pool) SetDisabled(id int64, disabled bool) error {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return ErrCredentialNotFound
	}
	c.mu.Lock()
	if disabled {
		c.Enabled = false
		c.DisableReason = DisableManual
	} else {
		c.Enabled = true
		c.DisableReason = DisableNone
		c.FailureCount = 0
	}
	c.mu.Unlock()
	if disabled {
		p.Affinity.RemoveByCredential(id)
	}
	p.persistAsync()
	return nil
}

// SetPriority implements the admin set-priority op.
func (p *Pool) SetPriority(id int64, priority int) error {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return ErrCredentialNotFound
	}
	c.mu.Lock()
	c.Priority = priority
	c.mu.Unlock()
	p.persistAsync()
	return nil
}

// ResetFailures implements the admin reset-failures op (reset-and-enable).
func (p *Pool) ResetFailures(id int64) error {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return ErrCredentialNotFound
	}
	c.mu.Lock()
	c.FailureCount = 0
	c.Enabled = true
	c.DisableReason = DisableNone
	c.mu.Unlock()
	p.persistAsync()
	return nil
}

// Add inserts a single new credential built from raw fields.
func (p *Pool) Add(raw config.RawCredential) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, err := credentialFromRaw(raw, func() int64 { return p.nextID.Add(1) })
	if err != nil {
		return 0, err
	}
	if c.ID >= p.nextID.Load() {
		p.nextID.Store(c.ID + 1)
	}
	p.byID[c.ID] = c
	p.order = append(p.order, c.ID)
	p.persistAsyncLocked()
	return c.ID, nil
}

// Delete removes a credential permanently.
func (p *Pool) Delete(id int64) error {
	p.mu.Lock()
	if _, ok := p.byID[id]; !ok {
		p.mu.Unlock()
		return ErrCredentialNotFound
	}
	delete(p.byID, id)
	for i, oid := range p.order {
		if oid == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	p.Balance.Delete(id)
	p.Affinity.RemoveByCredential(id)
	p.persistAsync()
	return nil
}

// refreshTokenPrefix is used to deduplicate imports without ever
// persisting or logging the full refresh token (supplemented feature #2).
func refreshTokenPrefix(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}

// ImportFromTokenJSON imports a batch of raw credentials, skipping any
// whose refresh token hashes to a prefix already present in the pool.
// Returns the number imported and the number skipped as duplicates.
func (p *Pool) ImportFromTokenJSON(raws []config.RawCredential) (imported, skipped int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := make(map[string]bool, len(p.byID))
	for _, id := range p.order {
		c := p.byID[id]
		c.mu.Lock()
		seen[refreshTokenPrefix(c.RefreshToken)] = true
		c.mu.Unlock()
	}

	for _, raw := range raws {
		prefix := refreshTokenPrefix(raw.RefreshToken)
		if seen[prefix] {
			skipped++
			continue
		}
		c, cerr := credentialFromRaw(raw, func() int64 { return p.nextID.Add(1) })
		if cerr != nil {
			return imported, skipped, fmt.Errorf("import: %w", cerr)
		}
		if c.ID >= p.nextID.Load() {
			p.nextID.Store(c.ID + 1)
		}
		p.byID[c.ID] = c
		p.order = append(p.order, c.ID)
		seen[prefix] = true
		imported++
	}

	p.persistAsyncLocked()
	return imported, skipped, nil
}

// PersistNow enqueues a fresh write-back of the current snapshot. Exposed
// for callers (the token manager) that mutate a *Credential's OAuth fields
// directly via its exported methods and need the change flushed to disk.
func (p *Pool) PersistNow() {
	p.persistAsync()
}

// DisableManual disables id with reason=manual and purges its affinity
// bindings, used when its refresh token turns out to be invalid.
func (p *Pool) DisableManual(id int64, errMsg string) {
	p.mu.RLock()
	c := p.byID[id]
	p.mu.RUnlock()
	if c == nil {
		return
	}
	c.MarkDisabledManual(errMsg)
	p.Affinity.RemoveByCredential(id)
	p.persistAsync()
}

// CredentialByID exposes the live *Credential (not a copy) for callers
// outside the package (the retry engine, token manager) that need its
// auth material. Returns ok=false if not found.
func (p *Pool) CredentialByID(id int64) (*Credential, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.byID[id]
	return c, ok
}

// persistAsync enqueues a full snapshot write via the single writer
// goroutine. No-op if persistence is disabled.
func (p *Pool) persistAsync() {
	if p.writer == nil {
		return
	}
	p.writer.Enqueue(p.rawSnapshot())
}

func (p *Pool) persistAsyncLocked() {
	if p.writer == nil {
		return
	}
	raws := p.rawSnapshotLocked()
	p.writer.Enqueue(raws)
}

func (p *Pool) rawSnapshot() []config.RawCredential {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rawSnapshotLocked()
}

func (p *Pool) rawSnapshotLocked() []config.RawCredential {
	out := make([]config.RawCredential, 0, len(p.order))
	for _, id := range p.order {
		if c, ok := p.byID[id]; ok {
			out = append(out, c.toRaw())
		}
	}
	sort.Slice(out, func(i, j int) bool { return *out[i].ID < *out[j].ID })
	return out
}
