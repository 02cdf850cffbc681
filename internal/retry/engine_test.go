package retry

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/kiroclient"
	"github.com/kirogw/kiro-gateway/internal/oauth"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

func rawCredentialFor(token string) config.RawCredential {
	return config.RawCredential{
		RefreshToken: "rt-" + token,
		AuthMethod:   "social",
		ExpiresAt:    time.Now().Add(time.Hour).Format(time.RFC3339),
	}
}

// fakeStreamer answers Stream calls from a per-credential script, keyed by
// the access token (each test credential gets a distinct fresh token so
// the fake can tell callers apart without the engine exposing credential
// IDs to its Streamer).
type fakeStreamer struct {
	mu    sync.Mutex
	calls []string
	// script maps an access token to a queue of results consumed in order;
	// once a token's queue is empty the call succeeds.
	script map[string][]streamResult
}

type streamResult struct {
	err error
}

func (f *fakeStreamer) Stream(_ context.Context, req kiroclient.StreamRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.AccessToken)

	q := f.script[req.AccessToken]
	if len(q) > 0 {
		r := q[0]
		f.script[req.AccessToken] = q[1:]
		if r.err != nil {
			return nil, r.err
		}
	}
	return io.NopCloser(strings.NewReader("ok")), nil
}

// freshRefresher issues a unique already-expired-never access token per
// credential so EnsureFresh/ForceRefresh never actually need to be called
// in most tests: newCredential pre-seeds an unexpired token directly.
type freshRefresher struct {
	calls atomic.Int64
	token string
	err   error
}

func (r *freshRefresher) Refresh(_ context.Context, _ pool.OAuthInfo) (oauth.Result, error) {
	r.calls.Add(1)
	if r.err != nil {
		return oauth.Result{}, r.err
	}
	return oauth.Result{AccessToken: r.token, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newCredential(t *testing.T, p *pool.Pool, token string) int64 {
	t.Helper()
	id, err := p.Add(rawCredentialFor(token))
	require.NoError(t, err)
	c, ok := p.CredentialByID(id)
	require.True(t, ok)
	c.ApplyRefresh(token, time.Now().Add(time.Hour), "", "")
	return id
}

func noopBuild(_ string) ([]byte, error) { return []byte(`{}`), nil }

func TestExecuteRoundRobinsAcrossEqualPriorityCredentials(t *testing.T) {
	p := pool.New("")
	idA := newCredential(t, p, "tok-a")
	idB := newCredential(t, p, "tok-b")

	streamer := &fakeStreamer{script: map[string][]streamResult{}}
	mgr := oauth.New(p, &freshRefresher{}, nil)
	eng := New(p, mgr, streamer)

	var got []int64
	for i := 0; i < 4; i++ {
		// Use an empty userID (no affinity binding) so affinity stickiness does not
		// mask the underlying round-robin rotation across equal priority.
		stream, attempt, err := eng.Execute(context.Background(), "", noopBuild)
		require.NoError(t, err)
		got = append(got, attempt.Credential.CredentialID)
		eng.ReportSuccess(attempt, 10, "claude-sonnet-4.5")
		stream.Close()
	}

	assert.Equal(t, []int64{idA, idB, idA, idB}, got)
}

func TestExecuteRotatesAwayFromInsufficientBalance(t *testing.T) {
	p := pool.New("")
	idA := newCredential(t, p, "tok-a")
	idB := newCredential(t, p, "tok-b")

	streamer := &fakeStreamer{script: map[string][]streamResult{
		"tok-a": {{err: &kiroclient.StatusError{StatusCode: 402, Body: "insufficient_balance"}}},
	}}
	mgr := oauth.New(p, &freshRefresher{}, nil)
	eng := New(p, mgr, streamer)

	stream, attempt, err := eng.Execute(context.Background(), "", noopBuild)
	require.NoError(t, err)
	assert.Equal(t, idB, attempt.Credential.CredentialID)
	eng.ReportSuccess(attempt, 1, "m")
	stream.Close()

	views := p.AllSnapshots()
	for _, v := range views {
		if v.ID == idA {
			assert.False(t, v.Enabled)
			assert.Equal(t, pool.DisableBalance, v.DisableReason)
		}
	}

	for i := 0; i < 2; i++ {
		stream, attempt, err := eng.Execute(context.Background(), "", noopBuild)
		require.NoError(t, err)
		assert.Equal(t, idB, attempt.Credential.CredentialID)
		eng.ReportSuccess(attempt, 1, "m")
		stream.Close()
	}
}

func TestExecuteGlobalCircuitTripsAfterTwoModelUnavailable(t *testing.T) {
	p := pool.New("")
	newCredential(t, p, "tok-a")
	newCredential(t, p, "tok-b")

	unavailable := &kiroclient.StatusError{StatusCode: 503, Body: "MODEL_TEMPORARILY_UNAVAILABLE", ModelUnavailable: true}
	streamer := &fakeStreamer{script: map[string][]streamResult{
		"tok-a": {{err: unavailable}},
		"tok-b": {{err: unavailable}},
	}}
	mgr := oauth.New(p, &freshRefresher{}, nil)
	eng := New(p, mgr, streamer)

	// Both credentials report model_unavailable while rotating within a
	// single Execute call, tripping the global circuit at the threshold of
	// two reports; the call itself surfaces as no_credential_available.
	_, _, err1 := eng.Execute(context.Background(), "", noopBuild)
	require.Error(t, err1)
	var retryErr *Error
	require.True(t, errors.As(err1, &retryErr))
	assert.Equal(t, KindNoCredential, retryErr.Kind)

	callsAfterFirst := len(streamer.calls)

	// The circuit is still open, so a second request fails fast without
	// making any further upstream calls.
	_, _, err2 := eng.Execute(context.Background(), "", noopBuild)
	require.Error(t, err2)
	require.True(t, errors.As(err2, &retryErr))
	assert.Equal(t, KindNoCredential, retryErr.Kind)
	assert.Equal(t, callsAfterFirst, len(streamer.calls))
}

func TestExecuteRetriesSameCredentialOnceOnTokenRejection(t *testing.T) {
	p := pool.New("")
	idA := newCredential(t, p, "tok-a")

	streamer := &fakeStreamer{script: map[string][]streamResult{
		"tok-a":        {{err: &kiroclient.StatusError{StatusCode: 401, Body: "unauthorized"}}},
		"tok-a-forced": {{}},
	}}
	refresher := &forcedTokenRefresher{}
	mgr := oauth.New(p, refresher, nil)
	eng := New(p, mgr, streamer)

	stream, attempt, err := eng.Execute(context.Background(), "", noopBuild)
	require.NoError(t, err)
	assert.Equal(t, idA, attempt.Credential.CredentialID)
	assert.EqualValues(t, 1, refresher.calls.Load())
	stream.Close()

	assert.Equal(t, []string{"tok-a", "tok-a-forced"}, streamer.calls)
}

// forcedTokenRefresher returns the credential's currently cached token on
// an EnsureFresh-style call (it's already unexpired so EnsureFresh will not
// even invoke it) and a distinct "-forced" token on every actual refresh,
// simulating ForceRefresh producing a genuinely new token.
type forcedTokenRefresher struct {
	calls atomic.Int64
}

func (r *forcedTokenRefresher) Refresh(_ context.Context, info pool.OAuthInfo) (oauth.Result, error) {
	r.calls.Add(1)
	return oauth.Result{AccessToken: info.AccessToken + "-forced", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestExecuteRespectsPerRequestAttemptBudget(t *testing.T) {
	p := pool.New("")
	newCredential(t, p, "tok-a")
	newCredential(t, p, "tok-b")

	transient := &kiroclient.TransportError{Err: errors.New("dial tcp: connection refused")}
	streamer := &fakeStreamer{script: map[string][]streamResult{
		"tok-a": {{err: transient}, {err: transient}},
		"tok-b": {{err: transient}, {err: transient}},
	}}
	mgr := oauth.New(p, &freshRefresher{}, nil)
	eng := New(p, mgr, streamer)

	_, _, err := eng.Execute(context.Background(), "", noopBuild)
	require.Error(t, err)
	assert.LessOrEqual(t, len(streamer.calls), 3)
}
