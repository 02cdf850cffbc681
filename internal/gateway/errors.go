package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/retry"
)

// errorEnvelope is the Anthropic-style error body spec.md §6/§7 mandates.
type errorEnvelope struct {
	Type  string      `json:"type"`
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// statusFor maps the spec.md §7 error taxonomy to an HTTP status and the
// Anthropic error type string. This is the one boundary that translates
// internal errors to the wire.
func statusFor(kind retry.Kind) (int, string) {
	switch kind {
	case retry.KindAuth:
		return http.StatusUnauthorized, "authentication_error"
	case retry.KindBadRequest:
		return http.StatusBadRequest, "invalid_request_error"
	case retry.KindNoCredential:
		return http.StatusServiceUnavailable, "overloaded_error"
	case retry.KindRefreshAuth:
		return http.StatusServiceUnavailable, "overloaded_error"
	case retry.KindInsufficientBalance:
		return http.StatusServiceUnavailable, "overloaded_error"
	case retry.KindModelUnavailable:
		return http.StatusServiceUnavailable, "overloaded_error"
	case retry.KindUpstreamTransient:
		return http.StatusBadGateway, "api_error"
	case retry.KindUpstreamFatal:
		return http.StatusBadGateway, "api_error"
	case retry.KindDecodeError:
		return http.StatusBadGateway, "api_error"
	case retry.KindIOCancelled:
		return 0, "" // client gone; no response written
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

// writeError writes an Anthropic-style error envelope for err, logging the
// full message server-side while keeping upstream_fatal responses generic
// to the client per spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	var retryErr *retry.Error
	if !errors.As(err, &retryErr) {
		writeErrorEnvelope(w, http.StatusInternalServerError, "api_error", "internal error")
		return
	}

	status, anthropicType := statusFor(retryErr.Kind)
	if status == 0 {
		return // io_cancelled: client already gone
	}

	message := retryErr.Message
	if retryErr.Kind == retry.KindUpstreamFatal {
		message = "upstream request failed"
	}
	log.Error().Err(retryErr).Str("kind", string(retryErr.Kind)).Msg("gateway: request failed")
	writeErrorEnvelope(w, status, anthropicType, message)
}

func writeErrorEnvelope(w http.ResponseWriter, status int, anthropicType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{
		Type: "error",
		Error: errorDetail{
			Type:    anthropicType,
			Message: message,
		},
	})
}

func writeAuthError(w http.ResponseWriter, message string) {
	writeErrorEnvelope(w, http.StatusUnauthorized, "authentication_error", message)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeErrorEnvelope(w, http.StatusBadRequest, "invalid_request_error", message)
}

func writeRequestTooLarge(w http.ResponseWriter) {
	writeErrorEnvelope(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "request body exceeds the 50 MiB limit")
}
