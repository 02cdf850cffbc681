package sse

import (
	"bufio"
	"fmt"
	"io"

	"github.com/kirogw/kiro-gateway/internal/utils"
)

// Writer serializes typed events onto the wire in text/event-stream
// format. It follows the teacher's MarshalNoEscape convention so streamed
// text containing '<', '>' or '&' is never HTML-escaped.
type Writer struct {
	w   *bufio.Writer
	err error
}

// NewWriter wraps dst. The caller is responsible for setting the
// text/event-stream response headers before the first Write.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(dst)}
}

// Send marshals data without HTML escaping and writes one SSE event whose
// event field and JSON payload type both equal name.
func (sw *Writer) Send(name string, data any) error {
	if sw.err != nil {
		return sw.err
	}
	body, err := utils.MarshalNoEscape(data)
	if err != nil {
		sw.err = err
		return err
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, body); err != nil {
		sw.err = err
		return err
	}
	return sw.w.Flush()
}

// Ping writes a bare ping event, the keep-alive Kiro gateways emit on an
// otherwise idle stream.
func (sw *Writer) Ping() error {
	return sw.Send("ping", map[string]string{"type": "ping"})
}

// Flush ensures any buffered bytes reach the underlying writer.
func (sw *Writer) Flush() error {
	if sw.err != nil {
		return sw.err
	}
	return sw.w.Flush()
}
