package pool

import "errors"

// FailureKind classifies an upstream failure for report_failure, per
// spec.md §4.1/§4.2.
type FailureKind string

const (
	FailureInsufficientBalance FailureKind = "insufficient_balance"
	FailureModelUnavailable    FailureKind = "model_unavailable"
	FailureQuotaExceeded       FailureKind = "quota_exceeded"
	FailureOther               FailureKind = "other"
)

// ErrNoCredentialAvailable is returned by Acquire when the pool is
// exhausted or the global circuit is open.
var ErrNoCredentialAvailable = errors.New("no_credential_available")

// ErrCredentialNotFound is returned by admin ops referencing an unknown id.
var ErrCredentialNotFound = errors.New("credential not found")

// ErrDuplicateCredential describes a refresh token whose prefix matches an
// existing credential's. ImportFromTokenJSON does not return it: it skips such tokens
// and counts them as skipped.
var ErrDuplicateCredential = errors.New("duplicate credential (refresh token prefix already present)")
