// Package ratelimit paces outbound calls to each upstream credential: a
// daily request cap, a randomized minimum spacing between calls, and an
// exponential backoff with suspend-keyword detection that benches a
// credential without counting against its hard failure cap.
//
// Grounded on original_source/src/kiro/rate_limiter.rs, a component the
// distilled spec collapsed into a single credentialRpm config field; see
// SPEC_FULL.md's Supplemented Features.
package ratelimit

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// suspendKeywords are scanned (case-insensitive) out of upstream error
// bodies to detect an account-level suspension distinct from an ordinary
// transient failure.
var suspendKeywords = []string{
	"suspended",
	"banned",
	"quota exceeded",
	"rate limit",
	"too many requests",
	"account disabled",
}

// Config mirrors RateLimitConfig in the original source.
type Config struct {
	DailyMaxRequests int
	MinIntervalMS    int
	MaxIntervalMS    int
	JitterPercent    float64
	BackoffBaseMS    int
	BackoffMaxMS     int
	BackoffMultiplier float64
}

// DefaultConfig returns the pack's default pacing parameters.
func DefaultConfig() Config {
	return Config{
		DailyMaxRequests:  config.DefaultDailyMaxRequests,
		MinIntervalMS:     config.DefaultMinIntervalMS,
		MaxIntervalMS:     config.DefaultMaxIntervalMS,
		JitterPercent:     config.DefaultJitterPercent,
		BackoffBaseMS:     config.DefaultBackoffBaseMS,
		BackoffMaxMS:      config.DefaultBackoffMaxMS,
		BackoffMultiplier: config.DefaultBackoffMultiplier,
	}
}

type credentialState struct {
	dailyCount         int
	countResetAt       time.Time
	lastRequestAt      time.Time
	consecutiveFailures int
	backoffUntil       time.Time
}

// Limiter tracks per-credential pacing state. Satisfies pool.RateLimiter.
type Limiter struct {
	cfg Config

	mu     sync.Mutex
	states map[int64]*credentialState

	rng *rand.Rand
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg,
		states: map[int64]*credentialState{},
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Limiter) stateFor(id int64, now time.Time) *credentialState {
	s, ok := l.states[id]
	if !ok {
		s = &credentialState{countResetAt: now.Add(24 * time.Hour)}
		l.states[id] = s
	}
	if now.After(s.countResetAt) {
		s.dailyCount = 0
		s.countResetAt = now.Add(24 * time.Hour)
	}
	return s
}

// Allowed reports whether credentialID may be selected right now: not
// backing off, not over its daily cap, and past the minimum jittered
// inter-request interval.
func (l *Limiter) Allowed(credentialID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateFor(credentialID, now)

	if !s.backoffUntil.IsZero() && now.Before(s.backoffUntil) {
		return false
	}
	if s.dailyCount >= l.cfg.DailyMaxRequests {
		return false
	}
	if !s.lastRequestAt.IsZero() {
		interval := l.jitteredInterval()
		if now.Sub(s.lastRequestAt) < interval {
			return false
		}
	}
	return true
}

func (l *Limiter) jitteredInterval() time.Duration {
	span := l.cfg.MaxIntervalMS - l.cfg.MinIntervalMS
	base := l.cfg.MinIntervalMS
	if span > 0 {
		base += l.rng.Intn(span + 1)
	}
	jitter := 1.0 + (l.rng.Float64()*2-1)*l.cfg.JitterPercent
	ms := float64(base) * jitter
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// RecordAttempt marks that a call was actually made against credentialID,
// advancing the daily counter and pacing clock. Call this only when
// Allowed returned true and the call was issued.
func (l *Limiter) RecordAttempt(credentialID int64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.stateFor(credentialID, now)
	s.dailyCount++
	s.lastRequestAt = now
}

// RecordSuccess resets consecutive-failure backoff state, per the
// original's "success resets failures" behavior.
func (l *Limiter) RecordSuccess(credentialID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.states[credentialID]; ok {
		s.consecutiveFailures = 0
		s.backoffUntil = time.Time{}
	}
}

// RecordFailure advances the exponential backoff for credentialID. If
// errBody contains a suspend keyword, the backoff jumps straight to its
// maximum, benching the credential without touching the pool's hard
// failure cap.
func (l *Limiter) RecordFailure(credentialID int64, now time.Time, errBody string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.stateFor(credentialID, now)
	s.consecutiveFailures++

	if containsSuspendKeyword(errBody) {
		s.backoffUntil = now.Add(time.Duration(l.cfg.BackoffMaxMS) * time.Millisecond)
		return
	}

	delayMS := float64(l.cfg.BackoffBaseMS)
	for i := 1; i < s.consecutiveFailures; i++ {
		delayMS *= l.cfg.BackoffMultiplier
	}
	if delayMS > float64(l.cfg.BackoffMaxMS) {
		delayMS = float64(l.cfg.BackoffMaxMS)
	}
	s.backoffUntil = now.Add(time.Duration(delayMS) * time.Millisecond)
}

func containsSuspendKeyword(body string) bool {
	lower := strings.ToLower(body)
	for _, kw := range suspendKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// State is a read-only snapshot for admin inspection / tests.
type State struct {
	DailyCount          int
	ConsecutiveFailures int
	BackoffUntil        time.Time
}

// GetState returns a copy of credentialID's pacing state.
func (l *Limiter) GetState(credentialID int64) (State, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.states[credentialID]
	if !ok {
		return State{}, false
	}
	return State{
		DailyCount:          s.dailyCount,
		ConsecutiveFailures: s.consecutiveFailures,
		BackoffUntil:        s.backoffUntil,
	}, true
}

// Reset clears all pacing state for credentialID, used by admin
// reset-failures.
func (l *Limiter) Reset(credentialID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, credentialID)
}
