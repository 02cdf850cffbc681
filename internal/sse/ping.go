package sse

import "time"

// PingScheduler fires fn every interval (PingInterval by default), with the
// first fire one interval after start rather than immediately. It runs on
// its own goroutine, started by StartPingScheduler, for the lifetime of one
// streaming response; callers Stop it once the stream finishes.
type PingScheduler struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// StartPingScheduler begins firing fn on the configured interval. Passing
// interval <= 0 uses PingInterval.
func StartPingScheduler(interval time.Duration, fn func()) *PingScheduler {
	if interval <= 0 {
		interval = PingInterval
	}
	ps := &PingScheduler{ticker: time.NewTicker(interval), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case <-ps.ticker.C:
				fn()
			case <-ps.stop:
				return
			}
		}
	}()
	return ps
}

// Stop halts the scheduler. Safe to call once.
func (ps *PingScheduler) Stop() {
	ps.ticker.Stop()
	close(ps.stop)
}
