// Package retry wraps the pool, token manager, and Kiro HTTP client with
// the retry policy of spec.md §4.2: bounded attempts, token-refresh-then-
// rotate, balance-disable-and-rotate, global-circuit-rotate.
package retry

// Kind is the error taxonomy of spec.md §7.
type Kind string

const (
	KindAuth                Kind = "auth"
	KindBadRequest          Kind = "bad_request"
	KindNoCredential        Kind = "no_credential_available"
	KindRefreshAuth         Kind = "refresh_auth"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindModelUnavailable    Kind = "model_unavailable"
	KindUpstreamTransient   Kind = "upstream_transient"
	KindUpstreamFatal       Kind = "upstream_fatal"
	KindDecodeError         Kind = "decode_error"
	KindIOCancelled         Kind = "io_cancelled"
)

// Error is the shape every exported Engine failure takes, so the gateway
// handler can map it to an HTTP status and Anthropic-style error envelope
// without re-inspecting the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}
