package sse

import "github.com/kirogw/kiro-gateway/internal/eventstream"

// BufferedTranslator wraps Translator for the /cc/v1/messages endpoint:
// every event is held in memory instead of written immediately, so that
// once the upstream stream completes, input_tokens in message_start can
// be corrected from the observed context-usage frame before anything
// reaches the client. Call Flush to obtain the corrected event list once
// the upstream stream has ended; ping events during the wait are the
// caller's responsibility via a PingScheduler writing straight to the
// wire, since they exist purely to keep the connection alive.
type BufferedTranslator struct {
	inner *Translator
	buf   []Event
}

// NewBufferedTranslator constructs a buffering wrapper around a fresh
// Translator and immediately records its message_start.
func NewBufferedTranslator(messageID, model string, inputTokenEstimate int) *BufferedTranslator {
	b := &BufferedTranslator{inner: NewTranslator(messageID, model, inputTokenEstimate)}
	b.buf = append(b.buf, b.inner.Start())
	return b
}

// Feed translates one frame and appends the resulting events to the
// buffer.
func (b *BufferedTranslator) Feed(f eventstream.Frame) error {
	events, err := b.inner.Feed(f)
	if err != nil {
		return err
	}
	b.buf = append(b.buf, events...)
	return nil
}

// Flush finalizes the stream (emitting the trailing content_block_stop,
// message_delta, message_stop), rewrites the buffered message_start's
// input_tokens from the observed context-usage frame if one arrived, and
// returns the complete ordered event list ready to write to the wire in
// one shot.
func (b *BufferedTranslator) Flush() []Event {
	b.buf = append(b.buf, b.inner.Finish()...)

	if b.inner.usage.seen {
		if len(b.buf) > 0 && b.buf[0].Name == "message_start" {
			if payload, ok := b.buf[0].Data.(messageStartPayload); ok {
				payload.Message.Usage.InputTokens = b.inner.usage.InputTokens
				b.buf[0].Data = payload
			}
		}
	}
	return b.buf
}

// Usage returns the token counts observed from the upstream context-usage
// frame, for callers reporting usage back to the pool after Flush.
func (b *BufferedTranslator) Usage() usageTotals { return b.inner.Usage() }
