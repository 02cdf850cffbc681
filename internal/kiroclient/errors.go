package kiroclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

const maxErrorBodyLen = 500

// TransportError wraps a connect/timeout-level failure (DNS, refused
// connection, context deadline) from the underlying http.Client. Retry
// policy treats this as upstream_transient.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("kiroclient: transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response from Kiro. ModelUnavailable is
// set when the body carries the MODEL_TEMPORARILY_UNAVAILABLE marker Kiro
// uses for capacity errors, so the retry engine can trip the global
// circuit without re-parsing the body itself.
type StatusError struct {
	StatusCode       int
	Body             string
	ModelUnavailable bool
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kiroclient: upstream status %d: %s", e.StatusCode, e.Body)
}

func newStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxErrorBodyLen)
	buf, _ := io.ReadAll(limited)
	body := string(buf)
	return &StatusError{
		StatusCode:       resp.StatusCode,
		Body:             body,
		ModelUnavailable: bytes.Contains(buf, []byte("MODEL_TEMPORARILY_UNAVAILABLE")),
	}
}

func newBodyReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}
