package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterDailyLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyMaxRequests = 3
	cfg.MinIntervalMS = 0
	cfg.MaxIntervalMS = 0
	l := New(cfg)

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.True(t, l.Allowed(1, now))
		l.RecordAttempt(1, now)
	}
	assert.False(t, l.Allowed(1, now))
}

func TestLimiterBackoff(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	now := time.Now()

	l.RecordFailure(1, now, "internal server error")
	st, ok := l.GetState(1)
	require.True(t, ok)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.True(t, st.BackoffUntil.After(now))
	assert.False(t, l.Allowed(1, now))

	after := st.BackoffUntil.Add(time.Millisecond)
	assert.True(t, l.Allowed(1, after))
}

func TestLimiterSuspendDetection(t *testing.T) {
	cfg := DefaultConfig()
	l := New(cfg)
	now := time.Now()

	l.RecordFailure(1, now, "Your account has been suspended")
	st, ok := l.GetState(1)
	require.True(t, ok)
	expected := now.Add(time.Duration(cfg.BackoffMaxMS) * time.Millisecond)
	assert.WithinDuration(t, expected, st.BackoffUntil, time.Second)
}

func TestLimiterSuccessResetsFailures(t *testing.T) {
	l := New(DefaultConfig())
	now := time.Now()

	l.RecordFailure(1, now, "oops")
	l.RecordFailure(1, now, "oops again")
	st, _ := l.GetState(1)
	assert.Equal(t, 2, st.ConsecutiveFailures)

	l.RecordSuccess(1)
	st, _ = l.GetState(1)
	assert.Equal(t, 0, st.ConsecutiveFailures)
	assert.True(t, st.BackoffUntil.IsZero())
}

func TestLimiterGetState(t *testing.T) {
	l := New(DefaultConfig())
	_, ok := l.GetState(42)
	assert.False(t, ok)

	l.RecordAttempt(42, time.Now())
	st, ok := l.GetState(42)
	require.True(t, ok)
	assert.Equal(t, 1, st.DailyCount)
}

func TestLimiterReset(t *testing.T) {
	l := New(DefaultConfig())
	now := time.Now()
	l.RecordFailure(7, now, "boom")
	l.Reset(7)
	_, ok := l.GetState(7)
	assert.False(t, ok)
}

func TestLimiterDailyCountResetsAfterWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DailyMaxRequests = 1
	l := New(cfg)

	now := time.Now()
	l.RecordAttempt(1, now)
	assert.False(t, l.Allowed(1, now))

	later := now.Add(25 * time.Hour)
	assert.True(t, l.Allowed(1, later))
}
