// Package config - defaults.go centralizes magic numbers and default values.
//
// DESIGN: All default values that appear in multiple places should be defined here.
// This makes configuration more maintainable and auditable.
package config

import "time"

// =============================================================================
// SERVER DEFAULTS
// =============================================================================

const DefaultHost = "127.0.0.1"
const DefaultPort = 8080
const DefaultRegion = "us-east-1"

// DefaultServerWriteTimeout for HTTP server (safe for streaming).
const DefaultServerWriteTimeout = 10 * time.Minute

// MaxRequestBodySize is the maximum allowed request body (50MB).
const MaxRequestBodySize = 50 * 1024 * 1024

// =============================================================================
// POOL / SELECTION DEFAULTS
// =============================================================================

// DefaultFailureCap is the per-credential failure count that flips a
// credential to disabled(failure-cap).
const DefaultFailureCap = 2

// DefaultRecoveryWindow is how long the global circuit stays open after
// tripping on MODEL_TEMPORARILY_UNAVAILABLE.
const DefaultRecoveryWindow = 5 * time.Minute

// DefaultAffinityTTL is how long a user-id -> credential binding survives
// without being touched.
const DefaultAffinityTTL = 30 * time.Minute

// GlobalCircuitThreshold is the number of MODEL_TEMPORARILY_UNAVAILABLE
// reports required to trip the global circuit.
const GlobalCircuitThreshold = 2

// =============================================================================
// BALANCE CACHE TTL TIERS
// =============================================================================

const BalanceHighFrequencyWindow = 10 * time.Minute
const BalanceHighFrequencyCalls = 20
const BalanceHighFrequencyTTL = 10 * time.Minute
const BalanceLowThreshold = 1.0
const BalanceLowTTL = 24 * time.Hour
const BalanceDefaultTTL = 30 * time.Minute

// =============================================================================
// TOKEN MANAGER DEFAULTS
// =============================================================================

const TokenSafetySkew = 30 * time.Second
const TokenRefreshTimeout = 15 * time.Second

// =============================================================================
// RETRY ENGINE DEFAULTS
// =============================================================================

const MaxAttemptsPerCredential = 2
const MaxAttemptsPerRequest = 3

// =============================================================================
// UPSTREAM TIMEOUTS
// =============================================================================

const UpstreamConnectTimeout = 10 * time.Second
const UpstreamHeadersTimeout = 30 * time.Second
const UpstreamIdleTimeout = 120 * time.Second
const InitialBalanceQuerySpacing = 500 * time.Millisecond

// =============================================================================
// SSE
// =============================================================================

const PingInterval = 25 * time.Second

// =============================================================================
// FRAME DECODER
// =============================================================================

const DefaultMaxFrameLength = 16 * 1024 * 1024

// =============================================================================
// RATE LIMITER DEFAULTS (per credential) — see internal/ratelimit
// =============================================================================

const DefaultDailyMaxRequests = 500
const DefaultMinIntervalMS = 1000
const DefaultMaxIntervalMS = 2000
const DefaultJitterPercent = 0.3
const DefaultBackoffBaseMS = 30_000
const DefaultBackoffMaxMS = 300_000
const DefaultBackoffMultiplier = 1.5

// =============================================================================
// BACKGROUND TOKEN REFRESHER
// =============================================================================

const BackgroundRefreshCheckInterval = 60 * time.Second
const BackgroundRefreshBatchSize = 50
const BackgroundRefreshConcurrency = 10
const BackgroundRefreshBeforeExpiry = 15 * time.Minute

// =============================================================================
// MISC
// =============================================================================

// MaxErrorBodyLogLen limits error response body in logs to prevent bloat.
const MaxErrorBodyLogLen = 500
