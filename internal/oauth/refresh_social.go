package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kirogw/kiro-gateway/internal/pool"
)

// socialRefreshEndpoint is the hard-coded regional endpoint Kiro's social
// (AWS Builder ID via social login) OAuth flow refreshes against, per
// spec.md §4.3 ("social uses a hard-coded regional endpoint").
const socialRefreshEndpoint = "https://prod.us-east-1.auth.desktop.kiro.dev/refreshToken"

// SocialRefresher refreshes credentials whose AuthFlavor is "social".
type SocialRefresher struct {
	Client *http.Client
}

func NewSocialRefresher(client *http.Client) *SocialRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	return &SocialRefresher{Client: client}
}

type socialRefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type socialRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	ExpiresAt    string `json:"expiresAt,omitempty"`
	ProfileARN   string `json:"profileArn,omitempty"`
}

func (r *SocialRefresher) Refresh(ctx context.Context, info pool.OAuthInfo) (Result, error) {
	body, err := json.Marshal(socialRefreshRequest{RefreshToken: info.RefreshToken})
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, socialRefreshEndpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(req)
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Result{}, &Error{Kind: KindAuth, Err: fmt.Errorf("social refresh rejected: %s", data)}
	case resp.StatusCode >= 500:
		return Result{}, &Error{Kind: KindServer, Err: fmt.Errorf("social refresh server error %d: %s", resp.StatusCode, data)}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &Error{Kind: KindTransient, Err: fmt.Errorf("social refresh status %d: %s", resp.StatusCode, data)}
	}

	var parsed socialRefreshResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	expiresAt, err := parseExpiry(parsed.ExpiresAt, parsed.ExpiresIn)
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	return Result{
		AccessToken:  parsed.AccessToken,
		ExpiresAt:    expiresAt,
		RefreshToken: parsed.RefreshToken,
		ProfileARN:   parsed.ProfileARN,
	}, nil
}

func parseExpiry(rfc3339 string, expiresIn int64) (time.Time, error) {
	if rfc3339 != "" {
		t, err := time.Parse(time.RFC3339, rfc3339)
		if err != nil {
			// Malformed expiry is treated as already-expired (spec.md §9(b)).
			return time.Time{}, nil
		}
		return t, nil
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second), nil
	}
	return time.Time{}, nil
}
