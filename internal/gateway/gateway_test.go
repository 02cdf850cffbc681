package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/eventstream"
	"github.com/kirogw/kiro-gateway/internal/kiroclient"
	"github.com/kirogw/kiro-gateway/internal/monitoring"
	"github.com/kirogw/kiro-gateway/internal/oauth"
	"github.com/kirogw/kiro-gateway/internal/pool"
	"github.com/kirogw/kiro-gateway/internal/ratelimit"
	"github.com/kirogw/kiro-gateway/internal/retry"
	"github.com/kirogw/kiro-gateway/internal/usage"
)

// fakeStreamer answers every Stream call with a fixed, pre-encoded upstream
// body, mirroring internal/retry's own test fake.
type fakeStreamer struct {
	body []byte
	err  error
}

func (f *fakeStreamer) Stream(_ context.Context, _ kiroclient.StreamRequest) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(strings.NewReader(string(f.body))), nil
}

type freshRefresher struct {
	calls atomic.Int64
}

func (r *freshRefresher) Refresh(_ context.Context, _ pool.OAuthInfo) (oauth.Result, error) {
	r.calls.Add(1)
	return oauth.Result{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func testGateway(t *testing.T, body []byte) (*Gateway, *pool.Pool) {
	t.Helper()
	p := pool.New("")
	id, err := p.Add(config.RawCredential{
		RefreshToken: "rt-a",
		AuthMethod:   "social",
		ExpiresAt:    time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	require.NoError(t, err)
	c, ok := p.CredentialByID(id)
	require.True(t, ok)
	c.ApplyRefresh("tok", time.Now().Add(time.Hour), "", "")

	mgr := oauth.New(p, &freshRefresher{}, nil)
	engine := retry.New(p, mgr, &fakeStreamer{body: body})
	store, err := usage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{APIKey: "test-key", AdminAPIKey: "admin-key"}
	g := New(cfg, p, engine, nil, store, monitoring.NewMetricsCollector(), ratelimit.New(ratelimit.DefaultConfig()))
	return g, p
}

// encodeFrames serializes a sequence of eventstream frames into one
// upstream response body, matching what kiroclient.Stream returns.
func encodeFrames(t *testing.T, frames []eventstream.Frame) []byte {
	t.Helper()
	var out []byte
	for _, f := range frames {
		b, err := eventstream.Encode(f)
		require.NoError(t, err)
		out = append(out, b...)
	}
	return out
}

func textDeltaFrame(text string) eventstream.Frame {
	return eventstream.Frame{
		Headers: map[string]eventstream.HeaderValue{
			":event-type": {Type: eventstream.HeaderString, String: "text-delta"},
		},
		Payload: []byte(`{"delta":"` + text + `"}`),
	}
}

func completionFrame(reason string) eventstream.Frame {
	return eventstream.Frame{
		Headers: map[string]eventstream.HeaderValue{
			":event-type": {Type: eventstream.HeaderString, String: "completion"},
		},
		Payload: []byte(`{"stop_reason":"` + reason + `"}`),
	}
}

func contextUsageFrame(in, out int) eventstream.Frame {
	return eventstream.Frame{
		Headers: map[string]eventstream.HeaderValue{
			":event-type": {Type: eventstream.HeaderString, String: "context-usage"},
		},
		Payload: []byte(fmt.Sprintf(`{"input_tokens":%d,"output_tokens":%d}`, in, out)),
	}
}

func TestHandleHealthz(t *testing.T) {
	g, _ := testGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}

func TestClientAuthMiddlewareRejectsMissingKey(t *testing.T) {
	g, _ := testGateway(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "authentication_error")
}

func TestHandleModelsListsServedModels(t *testing.T) {
	g, _ := testGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("x-api-key", "test-key")
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "claude-sonnet-4.5")
}

func TestHandleCountTokensCountsSystemAndMessages(t *testing.T) {
	g, _ := testGateway(t, nil)
	body := `{"model":"claude-sonnet-4-5","system":"be terse","messages":[{"role":"user","content":"hello there"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages/count_tokens", strings.NewReader(body))
	req.Header.Set("x-api-key", "test-key")
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "input_tokens")
	require.NotContains(t, w.Body.String(), `"input_tokens":0`)
}

func TestHandleMessagesNonStreamingCollapsesEvents(t *testing.T) {
	body := encodeFrames(t, []eventstream.Frame{
		textDeltaFrame("Hello, "),
		textDeltaFrame("world."),
		contextUsageFrame(12, 4),
		completionFrame("end_turn"),
	})
	g, _ := testGateway(t, body)

	reqBody := `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	req.Header.Set("x-api-key", "test-key")
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Hello, world.")
	require.Contains(t, w.Body.String(), `"input_tokens":12`)
}

func TestHandleMessagesStreamingEmitsSSE(t *testing.T) {
	body := encodeFrames(t, []eventstream.Frame{
		textDeltaFrame("hi"),
		completionFrame("end_turn"),
	})
	g, _ := testGateway(t, body)

	reqBody := `{"model":"claude-sonnet-4-5","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(reqBody))
	req.Header.Set("x-api-key", "test-key")
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	require.Contains(t, w.Body.String(), "event: message_start")
	require.Contains(t, w.Body.String(), "event: message_stop")
}

func TestAdminCredentialsRoundTrip(t *testing.T) {
	g, p := testGateway(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/credentials", nil)
	req.Header.Set("X-Admin-Key", "admin-key")
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.AllSnapshots(), 1)
}

func TestAdminRouteRejectsMissingAdminKey(t *testing.T) {
	g, _ := testGateway(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	w := httptest.NewRecorder()
	g.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
