package retry

import "github.com/kirogw/kiro-gateway/internal/pool"

// ReportSuccess records a fully completed stream: usage tokens observed,
// model served, against the credential Execute returned.
func (e *Engine) ReportSuccess(a Attempt, usageTokens int64, model string) {
	e.Pool.ReportSuccess(a.Credential.CredentialID, usageTokens, model)
}

// ReportStreamFailure records a mid-stream failure. Per spec.md §4.2,
// retries never replay a stream once bytes have reached the client: this
// only updates credential bookkeeping, it never triggers another attempt.
func (e *Engine) ReportStreamFailure(a Attempt, kind pool.FailureKind, errMsg string) {
	e.Pool.ReportFailure(a.Credential.CredentialID, kind, errMsg)
}
