package retry

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/kiroclient"
	"github.com/kirogw/kiro-gateway/internal/oauth"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

// newRotationBackoff builds the short exponential backoff applied between
// credential rotations within one Execute call, so a burst of failing
// attempts doesn't hammer the pool and upstream back to back.
func newRotationBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// BodyBuilder produces the Kiro request body for one attempt, given the
// profileArn of the credential that attempt will use. The retry engine
// calls it once per attempt so a credential rotation's profileArn always
// ends up in the body that actually gets sent.
type BodyBuilder func(profileArn string) ([]byte, error)

// Streamer is the subset of *kiroclient.Client the engine depends on,
// narrowed to an interface so tests can substitute a fake upstream.
type Streamer interface {
	Stream(ctx context.Context, req kiroclient.StreamRequest) (io.ReadCloser, error)
}

// Engine wraps a pool, a token manager, and an upstream client with the
// retry policy of spec.md §4.2.
type Engine struct {
	Pool   *pool.Pool
	Tokens *oauth.Manager
	Client Streamer
}

// New builds an Engine from its three collaborators.
func New(p *pool.Pool, tokens *oauth.Manager, client Streamer) *Engine {
	return &Engine{Pool: p, Tokens: tokens, Client: client}
}

// Attempt describes which credential ultimately served a successful
// Execute call, so the caller (the gateway handler) can report the
// eventual success or mid-stream failure back to the right credential.
type Attempt struct {
	Credential pool.Context
}

// Execute runs the full acquire/refresh/call/rotate loop until a stream
// opens successfully or the attempt budget is exhausted. On success, the
// caller owns the returned stream and MUST call either ReportSuccess or
// ReportStreamFailure exactly once when the stream ends, since retries
// never replay bytes already flushed to the client.
func (e *Engine) Execute(ctx context.Context, userID string, build BodyBuilder) (io.ReadCloser, Attempt, error) {
	credAttempts := map[int64]int{}
	totalAttempts := 0
	var lastErr error
	rotationBackoff := newRotationBackoff()

	for totalAttempts < config.MaxAttemptsPerRequest {
		if totalAttempts > 0 {
			if err := sleepRotationBackoff(ctx, rotationBackoff); err != nil {
				return nil, Attempt{}, newError(KindIOCancelled, "request canceled during rotation", err)
			}
		}

		sctx, err := e.Pool.Acquire(userID)
		if err != nil {
			if lastErr != nil {
				return nil, Attempt{}, newError(KindNoCredential, "no credential available", lastErr)
			}
			return nil, Attempt{}, newError(KindNoCredential, "no credential available", err)
		}

		if credAttempts[sctx.CredentialID] >= config.MaxAttemptsPerCredential {
			e.Pool.Release(sctx.CredentialID)
			return nil, Attempt{}, newError(KindNoCredential, "credential attempt budget exhausted", lastErr)
		}

		stream, failKind, attemptErr := e.tryCredential(ctx, sctx, &credAttempts, &totalAttempts, build)
		if attemptErr == nil {
			return stream, Attempt{Credential: sctx}, nil
		}
		lastErr = attemptErr

		var retryErr *Error
		if errors.As(attemptErr, &retryErr) && retryErr.Kind == KindRefreshAuth {
			e.Pool.DisableManual(sctx.CredentialID, attemptErr.Error())
		} else {
			e.Pool.ReportFailure(sctx.CredentialID, failKind, attemptErr.Error())
		}
		// All failure kinds rotate to the next credential; a tripped global
		// circuit (two model_unavailable reports) makes the next Acquire
		// call itself fail fast with no_credential_available.
	}

	return nil, Attempt{}, newError(KindUpstreamFatal, "retry budget exhausted", lastErr)
}

// tryCredential runs up to MaxAttemptsPerCredential attempts against one
// leased credential: the first token error gets one same-credential retry
// with a forced refresh, and a transient (non-auth) token-refresh error is
// retried on the same credential; any other failure (or a second token
// error) reports up to the caller for rotation immediately.
func (e *Engine) tryCredential(ctx context.Context, sctx pool.Context, credAttempts *map[int64]int, totalAttempts *int, build BodyBuilder) (io.ReadCloser, pool.FailureKind, error) {
	var lastErr error
	for inner := 0; inner < config.MaxAttemptsPerCredential; inner++ {
		(*credAttempts)[sctx.CredentialID]++
		*totalAttempts++

		var token string
		var err error
		if inner == 0 {
			token, err = e.Tokens.EnsureFresh(ctx, sctx.CredentialID)
		} else {
			token, err = e.Tokens.ForceRefresh(ctx, sctx.CredentialID)
		}
		if err != nil {
			lastErr = err
			if isRefreshAuthError(err) {
				return nil, pool.FailureOther, newError(KindRefreshAuth, "refresh token invalid", err)
			}
			continue // transient refresh failure: try again within this credential's budget
		}

		body, err := build(sctx.ProfileARN)
		if err != nil {
			return nil, pool.FailureOther, newError(KindBadRequest, "build upstream request", err)
		}

		stream, err := e.Client.Stream(ctx, kiroclient.StreamRequest{
			Region:      sctx.Region,
			AccessToken: token,
			Body:        body,
		})
		if err == nil {
			return stream, pool.FailureOther, nil
		}

		cls := classify(err)
		lastErr = err
		if cls.kind == KindAuth && inner == 0 {
			log.Debug().Int64("credential_id", sctx.CredentialID).Msg("retry: token rejected upstream, forcing refresh and retrying same credential")
			continue
		}
		return nil, cls.poolFailure, newError(cls.kind, "upstream call failed", err)
	}
	return nil, pool.FailureOther, newError(KindUpstreamTransient, "credential attempts exhausted", lastErr)
}

// sleepRotationBackoff waits out the next backoff interval, or returns
// early with the context's error if it's canceled first.
func sleepRotationBackoff(ctx context.Context, b *backoff.ExponentialBackOff) error {
	delay := b.NextBackOff()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isRefreshAuthError(err error) bool {
	var oauthErr *oauth.Error
	return errors.As(err, &oauthErr) && oauthErr.Kind == oauth.KindAuth
}

type classification struct {
	kind        Kind
	poolFailure pool.FailureKind
}

func classify(err error) classification {
	if errors.Is(err, context.Canceled) {
		return classification{kind: KindIOCancelled, poolFailure: pool.FailureOther}
	}

	var statusErr *kiroclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 401 || statusErr.StatusCode == 403:
			return classification{kind: KindAuth, poolFailure: pool.FailureOther}
		case statusErr.ModelUnavailable:
			return classification{kind: KindModelUnavailable, poolFailure: pool.FailureModelUnavailable}
		case containsFold(statusErr.Body, "quotaexceeded"), containsFold(statusErr.Body, "quota_exceeded"):
			return classification{kind: KindInsufficientBalance, poolFailure: pool.FailureQuotaExceeded}
		case containsFold(statusErr.Body, "insufficient_balance"), containsFold(statusErr.Body, "insufficientbalance"):
			return classification{kind: KindInsufficientBalance, poolFailure: pool.FailureInsufficientBalance}
		case statusErr.StatusCode >= 500:
			return classification{kind: KindUpstreamTransient, poolFailure: pool.FailureOther}
		default:
			return classification{kind: KindUpstreamFatal, poolFailure: pool.FailureOther}
		}
	}

	var transportErr *kiroclient.TransportError
	if errors.As(err, &transportErr) {
		return classification{kind: KindUpstreamTransient, poolFailure: pool.FailureOther}
	}

	return classification{kind: KindUpstreamFatal, poolFailure: pool.FailureOther}
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), needle)
}
