package pool

import (
	"sync/atomic"
	"time"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// GlobalCircuit is the process-wide trip gate: two MODEL_TEMPORARILY_UNAVAILABLE
// reports open it for recovery_window; a success resets the counter.
// Modeled as atomic integers + an atomic instant per spec.md §5, so it
// never needs the pool's main lock.
type GlobalCircuit struct {
	count     atomic.Int64
	openUntil atomic.Int64 // unix nano; 0 means closed
	window    time.Duration
	threshold int64
}

func NewGlobalCircuit(window time.Duration) *GlobalCircuit {
	if window <= 0 {
		window = config.DefaultRecoveryWindow
	}
	return &GlobalCircuit{window: window, threshold: config.GlobalCircuitThreshold}
}

// Open reports whether the circuit is currently tripped.
func (g *GlobalCircuit) Open(now time.Time) bool {
	until := g.openUntil.Load()
	if until == 0 {
		return false
	}
	if now.UnixNano() >= until {
		// Lazily close; best-effort, a racing Trip may briefly reopen it.
		g.openUntil.CompareAndSwap(until, 0)
		return false
	}
	return true
}

// ReportModelUnavailable increments the trip counter and opens the circuit
// once the threshold is reached.
func (g *GlobalCircuit) ReportModelUnavailable(now time.Time) {
	n := g.count.Add(1)
	if n >= g.threshold {
		g.openUntil.Store(now.Add(g.window).UnixNano())
		g.count.Store(0)
	}
}

// ReportSuccess clears the trip counter on any successful request.
func (g *GlobalCircuit) ReportSuccess() {
	g.count.Store(0)
}
