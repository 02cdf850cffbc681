// Package oauth refreshes Kiro access tokens: per-credential single-flight
// deduplication, social/idc endpoint selection, and write-back scheduling.
//
// Grounded on pysugar-oauth-llm-nexus/internal/auth/token/manager.go for the
// cached-token-with-expiry shape, generalized from that file's plain
// mutex+cache (which has no true refresh dedup) to a real singleflight.Group
// keyed by credential id, since spec.md §8 requires N concurrent
// EnsureFresh calls to produce exactly one HTTP refresh.
package oauth

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

// Refresher performs the actual HTTP refresh call for one auth flavor.
// Implemented by refresh_social.go and refresh_idc.go.
type Refresher interface {
	Refresh(ctx context.Context, info pool.OAuthInfo) (Result, error)
}

// Result is the parsed outcome of a refresh call.
type Result struct {
	AccessToken  string
	ExpiresAt    time.Time
	RefreshToken string // optional new refresh token
	ProfileARN   string // optional
}

// Manager ensures a fresh access token per credential, deduplicating
// concurrent refreshes with one singleflight.Group keyed by credential id.
type Manager struct {
	pool *pool.Pool
	sf   singleflight.Group

	social Refresher
	idc    Refresher

	skew    time.Duration
	timeout time.Duration
}

func New(p *pool.Pool, social, idc Refresher) *Manager {
	return &Manager{
		pool:    p,
		social:  social,
		idc:     idc,
		skew:    config.TokenSafetySkew,
		timeout: config.TokenRefreshTimeout,
	}
}

// EnsureFresh returns a valid access token for credentialID, refreshing it
// if it is absent or within the safety skew of expiry. Concurrent callers
// for the same credential share one refresh.
func (m *Manager) EnsureFresh(ctx context.Context, credentialID int64) (string, error) {
	c, ok := m.pool.CredentialByID(credentialID)
	if !ok {
		return "", ErrNoCredential
	}

	info := c.OAuthSnapshot()
	if info.AccessToken != "" && time.Now().Add(m.skew).Before(info.ExpiresAt) {
		return info.AccessToken, nil
	}

	key := fmt.Sprintf("%d", credentialID)
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.refresh(ctx, c, info)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ForceRefresh refreshes credentialID's access token unconditionally,
// bypassing the expiry/skew check EnsureFresh applies. Used by the retry
// engine when Kiro itself rejects the cached token with a 401/403 despite
// it looking unexpired locally. Concurrent ForceRefresh/EnsureFresh calls
// for the same credential still dedupe through the same singleflight key.
func (m *Manager) ForceRefresh(ctx context.Context, credentialID int64) (string, error) {
	c, ok := m.pool.CredentialByID(credentialID)
	if !ok {
		return "", ErrNoCredential
	}
	info := c.OAuthSnapshot()

	key := fmt.Sprintf("%d", credentialID)
	v, err, _ := m.sf.Do(key, func() (any, error) {
		return m.doRefresh(ctx, c, info)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) refresh(parent context.Context, c *pool.Credential, info pool.OAuthInfo) (string, error) {
	// Re-check: another goroutine may have refreshed while we waited to
	// enter singleflight (the Do call itself races the first caller in).
	fresh := c.OAuthSnapshot()
	if fresh.AccessToken != "" && time.Now().Add(m.skew).Before(fresh.ExpiresAt) {
		return fresh.AccessToken, nil
	}
	return m.doRefresh(parent, c, fresh)
}

func (m *Manager) doRefresh(parent context.Context, c *pool.Credential, fresh pool.OAuthInfo) (string, error) {
	ctx, cancel := context.WithTimeout(parent, m.timeout)
	defer cancel()

	refresher := m.refresherFor(fresh.AuthFlavor)
	if refresher == nil {
		return "", &Error{Kind: KindAuth, Err: fmt.Errorf("no refresher for auth flavor %q", fresh.AuthFlavor)}
	}

	result, err := refresher.Refresh(ctx, fresh)
	if err != nil {
		return "", err
	}

	c.ApplyRefresh(result.AccessToken, result.ExpiresAt, result.RefreshToken, result.ProfileARN)
	m.pool.PersistNow()

	log.Debug().Int64("credential_id", c.ID).Time("expires_at", result.ExpiresAt).Msg("oauth: refreshed access token")
	return result.AccessToken, nil
}

func (m *Manager) refresherFor(flavor pool.AuthFlavor) Refresher {
	switch flavor {
	case pool.AuthSocial:
		return m.social
	case pool.AuthIDC:
		return m.idc
	default:
		return nil
	}
}
