package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kirogw/kiro-gateway/internal/convert"
	"github.com/kirogw/kiro-gateway/internal/eventstream"
	"github.com/kirogw/kiro-gateway/internal/pool"
	"github.com/kirogw/kiro-gateway/internal/sse"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

// handleBufferedMessages serves POST /cc/v1/messages: the same Anthropic
// event sequence as /v1/messages, but held in memory until the upstream
// stream completes so message_start.usage.input_tokens is already
// corrected before the client sees it, per spec.md §4.5's note on clients
// that can't tolerate a later-corrected estimate.
func (g *Gateway) handleBufferedMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req, ok := readRequestOrFail(w, r)
	if !ok {
		return
	}

	stream, attempt, err := g.Engine.Execute(r.Context(), req.userID, g.buildBody(req))
	if err != nil {
		g.finishRequest(r.Context(), usage.KindBufferedCC, req, 0, req.model, false, err, start, 0, 0)
		writeError(w, err)
		return
	}
	defer stream.Close()
	g.Metrics.RecordStreamOpened()

	model := convert.MapModel(req.model)
	messageID := "msg_" + uuid.NewString()
	estimate := estimateInputTokens(req.raw)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := sse.NewWriter(w)
	flusher, _ := w.(http.Flusher)

	ping := sse.StartPingScheduler(0, func() {
		_ = sw.Ping()
		if flusher != nil {
			flusher.Flush()
		}
	})
	defer ping.Stop()

	translator := sse.NewBufferedTranslator(messageID, model, estimate)
	decoder := eventstream.New(0)
	buf := make([]byte, 32*1024)
	var decodeErr error

	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			frames, ferr := decoder.Feed(buf[:n])
			if ferr != nil {
				decodeErr = ferr
				break
			}
			for _, f := range frames {
				if terr := translator.Feed(f); terr != nil {
					decodeErr = terr
					break
				}
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
	ping.Stop()

	if decodeErr != nil {
		g.Metrics.RecordFrameDecodeError()
		g.Engine.ReportStreamFailure(attempt, pool.FailureOther, decodeErr.Error())
		g.finishRequest(r.Context(), usage.KindBufferedCC, req, attempt.Credential.CredentialID, model, false, decodeErr, start, 0, 0)
		_ = sw.Send("error", map[string]any{"type": "error", "error": map[string]string{"type": "api_error", "message": "stream decode error"}})
		if flusher != nil {
			flusher.Flush()
		}
		return
	}

	events := translator.Flush()
	for _, ev := range events {
		_ = sw.Send(ev.Name, ev.Data)
	}
	if flusher != nil {
		flusher.Flush()
	}

	totals := translator.Usage()
	g.Engine.ReportSuccess(attempt, int64(totals.TotalTokens()), model)
	g.Metrics.RecordUsage(int64(totals.InputTokens), int64(totals.OutputTokens))
	g.finishRequest(r.Context(), usage.KindBufferedCC, req, attempt.Credential.CredentialID, model, true, nil, start, int64(totals.InputTokens), int64(totals.OutputTokens))
}
