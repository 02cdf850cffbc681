package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/retry"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

// readRequestOrFail reads and parses the Anthropic request body, writing
// the appropriate error envelope (400 or 413) and returning ok=false if it
// could not.
func readRequestOrFail(w http.ResponseWriter, r *http.Request) (anthropicRequest, bool) {
	req, err := readAnthropicRequest(r)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeRequestTooLarge(w)
		} else {
			writeBadRequest(w, "failed to read request body")
		}
		return anthropicRequest{}, false
	}
	return req, true
}

// finishRequest writes one row to the audit log and emits the per-request
// log line all three message-serving handlers share. credentialID is 0
// when the request never acquired one (e.g. no_credential_available).
func (g *Gateway) finishRequest(ctx context.Context, kind usage.Kind, req anthropicRequest, credentialID int64, model string, success bool, err error, start time.Time, inputTokens, outputTokens int64) {
	g.Metrics.RecordRequest(success, time.Since(start))

	errKind := ""
	if err != nil {
		var retryErr *retry.Error
		if errors.As(err, &retryErr) {
			errKind = string(retryErr.Kind)
		} else {
			errKind = "unknown"
		}
	}

	record := usage.Record{
		RequestID:    chimw.GetReqID(ctx),
		CredentialID: credentialID,
		UserID:       maskedUserID(req.userID),
		Model:        model,
		Kind:         kind,
		Success:      success,
		ErrorKind:    errKind,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMS:    time.Since(start).Milliseconds(),
		CreatedAt:    start,
	}
	if werr := g.Usage.RecordRequest(ctx, record); werr != nil {
		log.Error().Err(werr).Msg("gateway: failed to persist usage record")
	}

	logEvent := log.Info()
	if !success {
		logEvent = log.Warn()
	}
	logEvent.
		Str("request_id", record.RequestID).
		Int64("credential_id", credentialID).
		Str("model", model).
		Str("kind", string(kind)).
		Bool("success", success).
		Str("error_kind", errKind).
		Dur("latency", time.Since(start)).
		Msg("gateway: request finished")
}
