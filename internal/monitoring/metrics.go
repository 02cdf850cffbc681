// Package monitoring collects in-process operational counters and builds
// the structured startup event the gateway logs once on boot. For
// production, export Stats() to Prometheus or similar.
package monitoring

import (
	"fmt"
	"sync/atomic"
	"time"
)

// MetricsCollector collects operational counters for the admin stats
// surface.
type MetricsCollector struct {
	startedAt time.Time

	requests      atomic.Int64
	successes     atomic.Int64
	failures      atomic.Int64
	streamsOpened atomic.Int64

	inputTokens  atomic.Int64
	outputTokens atomic.Int64

	credentialRotations atomic.Int64
	credentialDisables  atomic.Int64
	circuitTrips        atomic.Int64
	tokenRefreshes      atomic.Int64
	frameDecodeErrors   atomic.Int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{startedAt: time.Now()}
}

// RecordRequest records one finished request, successful or not.
func (mc *MetricsCollector) RecordRequest(success bool, _ time.Duration) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	} else {
		mc.failures.Add(1)
	}
}

// RecordStreamOpened records a stream that successfully opened against
// upstream, regardless of how it later ends.
func (mc *MetricsCollector) RecordStreamOpened() { mc.streamsOpened.Add(1) }

// RecordUsage records actual token usage from an upstream response.
func (mc *MetricsCollector) RecordUsage(inputTokens, outputTokens int64) {
	mc.inputTokens.Add(inputTokens)
	mc.outputTokens.Add(outputTokens)
}

// RecordCredentialRotation records one retry-engine rotation to the next
// credential.
func (mc *MetricsCollector) RecordCredentialRotation() { mc.credentialRotations.Add(1) }

// RecordCredentialDisable records a credential transitioning to disabled,
// for any reason.
func (mc *MetricsCollector) RecordCredentialDisable() { mc.credentialDisables.Add(1) }

// RecordCircuitTrip records the global circuit breaker opening.
func (mc *MetricsCollector) RecordCircuitTrip() { mc.circuitTrips.Add(1) }

// RecordTokenRefresh records one OAuth token refresh, successful or not.
func (mc *MetricsCollector) RecordTokenRefresh() { mc.tokenRefreshes.Add(1) }

// RecordFrameDecodeError records a malformed AWS Event-Stream frame.
func (mc *MetricsCollector) RecordFrameDecodeError() { mc.frameDecodeErrors.Add(1) }

// StartedAt returns when the metrics collector was created.
func (mc *MetricsCollector) StartedAt() time.Time { return mc.startedAt }

// Stats returns current metrics as a flat map for the admin stats
// endpoint.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":             mc.requests.Load(),
		"successes":            mc.successes.Load(),
		"failures":             mc.failures.Load(),
		"streams_opened":       mc.streamsOpened.Load(),
		"input_tokens":         mc.inputTokens.Load(),
		"output_tokens":        mc.outputTokens.Load(),
		"credential_rotations": mc.credentialRotations.Load(),
		"credential_disables":  mc.credentialDisables.Load(),
		"circuit_trips":        mc.circuitTrips.Load(),
		"token_refreshes":      mc.tokenRefreshes.Load(),
		"frame_decode_errors":  mc.frameDecodeErrors.Load(),
	}
}

// FullStats returns all metrics in a structured format for the admin
// stats endpoint.
func (mc *MetricsCollector) FullStats() StatsResponse {
	uptime := time.Since(mc.startedAt)
	requests := mc.requests.Load()
	successes := mc.successes.Load()

	return StatsResponse{
		Uptime:        formatDuration(uptime),
		UptimeSeconds: int64(uptime.Seconds()),
		StartedAt:     mc.startedAt.Format(time.RFC3339),
		Requests: RequestStats{
			Total:      requests,
			Successful: successes,
			Failed:     requests - successes,
		},
		Tokens: TokenStats{
			InputTokens:  mc.inputTokens.Load(),
			OutputTokens: mc.outputTokens.Load(),
		},
		Pool: PoolStats{
			StreamsOpened:       mc.streamsOpened.Load(),
			CredentialRotations: mc.credentialRotations.Load(),
			CredentialDisables:  mc.credentialDisables.Load(),
			CircuitTrips:        mc.circuitTrips.Load(),
			TokenRefreshes:      mc.tokenRefreshes.Load(),
			FrameDecodeErrors:   mc.frameDecodeErrors.Load(),
		},
	}
}

// StatsResponse is the structured response for the admin stats endpoint.
type StatsResponse struct {
	Uptime        string       `json:"uptime"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartedAt     string       `json:"started_at"`
	Requests      RequestStats `json:"requests"`
	Tokens        TokenStats   `json:"tokens"`
	Pool          PoolStats    `json:"pool"`
}

// RequestStats holds request count metrics.
type RequestStats struct {
	Total      int64 `json:"total"`
	Successful int64 `json:"successful"`
	Failed     int64 `json:"failed"`
}

// TokenStats holds token usage metrics.
type TokenStats struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// PoolStats holds credential pool and upstream metrics.
type PoolStats struct {
	StreamsOpened       int64 `json:"streams_opened"`
	CredentialRotations int64 `json:"credential_rotations"`
	CredentialDisables  int64 `json:"credential_disables"`
	CircuitTrips        int64 `json:"circuit_trips"`
	TokenRefreshes      int64 `json:"token_refreshes"`
	FrameDecodeErrors   int64 `json:"frame_decode_errors"`
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
