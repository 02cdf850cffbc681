package gateway

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/convert"
	"github.com/kirogw/kiro-gateway/internal/eventstream"
	"github.com/kirogw/kiro-gateway/internal/pool"
	"github.com/kirogw/kiro-gateway/internal/retry"
	"github.com/kirogw/kiro-gateway/internal/sse"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

// estimateInputTokens is the cheap character-ratio placeholder seeded into
// message_start before the upstream context-usage frame corrects it; a
// real token-counting service is out of scope per spec.md §1.
func estimateInputTokens(body []byte) int {
	return len(body) / 4
}

// handleMessages serves POST /v1/messages: streaming SSE when the client
// requests stream:true, or a single collapsed Message body otherwise.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := readRequestOrFail(w, r)
	if !ok {
		return
	}

	stream, attempt, err := g.Engine.Execute(r.Context(), req.userID, g.buildBody(req))
	if err != nil {
		g.finishRequest(r.Context(), usage.KindMessages, req, 0, req.model, false, err, start, 0, 0)
		writeError(w, err)
		return
	}
	defer stream.Close()
	g.Metrics.RecordStreamOpened()

	model := convert.MapModel(req.model)
	messageID := "msg_" + uuid.NewString()
	estimate := estimateInputTokens(req.raw)

	if req.stream {
		g.streamMessages(w, r.Context(), stream, attempt, req, model, messageID, estimate, start)
		return
	}
	g.collapseMessages(w, r.Context(), stream, attempt, req, model, messageID, estimate, start)
}

// streamMessages writes translated SSE events directly to the wire as
// frames arrive, per spec.md §4.5.
func (g *Gateway) streamMessages(w http.ResponseWriter, ctx context.Context, body io.ReadCloser, attempt retry.Attempt, req anthropicRequest, model, messageID string, estimate int, start time.Time) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := sse.NewWriter(w)
	flusher, _ := w.(http.Flusher)

	translator := sse.NewTranslator(messageID, model, estimate)
	startEvent := translator.Start()
	_ = sw.Send(startEvent.Name, startEvent.Data)
	if flusher != nil {
		flusher.Flush()
	}

	ping := sse.StartPingScheduler(0, func() {
		_ = sw.Ping()
		if flusher != nil {
			flusher.Flush()
		}
	})
	defer ping.Stop()

	decoder := eventstream.New(0)
	buf := make([]byte, 32*1024)
	var decodeErr error

frames:
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			frames, ferr := decoder.Feed(buf[:n])
			if ferr != nil {
				decodeErr = ferr
				break
			}
			for _, f := range frames {
				events, terr := translator.Feed(f)
				if terr != nil {
					decodeErr = terr
					break frames
				}
				for _, ev := range events {
					_ = sw.Send(ev.Name, ev.Data)
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				decodeErr = rerr
			}
			break
		}
	}

	if decodeErr != nil {
		g.handleStreamFailure(ctx, sw, flusher, attempt, req, model, decodeErr, start)
		return
	}

	for _, ev := range translator.Finish() {
		_ = sw.Send(ev.Name, ev.Data)
	}
	if flusher != nil {
		flusher.Flush()
	}

	totals := translator.Usage()
	g.Engine.ReportSuccess(attempt, int64(totals.TotalTokens()), model)
	g.Metrics.RecordUsage(int64(totals.InputTokens), int64(totals.OutputTokens))
	g.finishRequest(ctx, usage.KindMessages, req, attempt.Credential.CredentialID, model, true, nil, start, int64(totals.InputTokens), int64(totals.OutputTokens))
}

// handleStreamFailure classifies a mid-stream failure, reports it against
// the serving credential (never retried per spec.md §4.2), and terminates
// the SSE stream with an error event.
func (g *Gateway) handleStreamFailure(ctx context.Context, sw *sse.Writer, flusher http.Flusher, attempt retry.Attempt, req anthropicRequest, model string, err error, start time.Time) {
	log.Error().Err(err).Msg("gateway: mid-stream decode failure")
	_ = sw.Send("error", map[string]any{"type": "error", "error": map[string]string{"type": "api_error", "message": "stream decode error"}})
	if flusher != nil {
		flusher.Flush()
	}
	g.Metrics.RecordFrameDecodeError()
	g.Engine.ReportStreamFailure(attempt, pool.FailureOther, err.Error())
	g.finishRequest(ctx, usage.KindMessages, req, attempt.Credential.CredentialID, model, false, err, start, 0, 0)
}

// collapseMessages decodes the full stream, folds it into one Message
// body via internal/convert, and writes it as a single JSON response for
// clients that did not request stream:true.
func (g *Gateway) collapseMessages(w http.ResponseWriter, ctx context.Context, body io.ReadCloser, attempt retry.Attempt, req anthropicRequest, model, messageID string, estimate int, start time.Time) {
	translator := sse.NewTranslator(messageID, model, estimate)
	events := []sse.Event{translator.Start()}

	decoder := eventstream.New(0)
	buf := make([]byte, 32*1024)
	var decodeErr error

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			frames, ferr := decoder.Feed(buf[:n])
			if ferr != nil {
				decodeErr = ferr
				break
			}
			for _, f := range frames {
				evs, terr := translator.Feed(f)
				if terr != nil {
					decodeErr = terr
					break
				}
				events = append(events, evs...)
			}
			if decodeErr != nil {
				break
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				decodeErr = rerr
			}
			break
		}
	}

	if decodeErr != nil {
		g.Metrics.RecordFrameDecodeError()
		g.Engine.ReportStreamFailure(attempt, pool.FailureOther, decodeErr.Error())
		g.finishRequest(ctx, usage.KindMessages, req, attempt.Credential.CredentialID, model, false, decodeErr, start, 0, 0)
		writeErrorEnvelope(w, http.StatusBadGateway, "api_error", "stream decode error")
		return
	}

	events = append(events, translator.Finish()...)
	msg, err := convert.CollapseToMessage(events)
	if err != nil {
		g.finishRequest(ctx, usage.KindMessages, req, attempt.Credential.CredentialID, model, false, err, start, 0, 0)
		writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", "failed to assemble response")
		return
	}

	totals := translator.Usage()
	g.Engine.ReportSuccess(attempt, int64(totals.TotalTokens()), model)
	g.Metrics.RecordUsage(int64(totals.InputTokens), int64(totals.OutputTokens))
	g.finishRequest(ctx, usage.KindMessages, req, attempt.Credential.CredentialID, model, true, nil, start, int64(totals.InputTokens), int64(totals.OutputTokens))

	w.Header().Set("Content-Type", "application/json")
	w.Write(msg)
}
