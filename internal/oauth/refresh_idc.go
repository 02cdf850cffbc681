package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirogw/kiro-gateway/internal/pool"
)

// IDCRefresher refreshes credentials whose AuthFlavor is "idc" (AWS
// Identity Center / builder-id / IAM, all normalized to idc per
// spec.md §6). Unlike social, the OIDC endpoint depends on the
// credential's own auth-region, falling back to a global default.
type IDCRefresher struct {
	Client        *http.Client
	DefaultRegion string
}

func NewIDCRefresher(client *http.Client, defaultRegion string) *IDCRefresher {
	if client == nil {
		client = http.DefaultClient
	}
	if defaultRegion == "" {
		defaultRegion = "us-east-1"
	}
	return &IDCRefresher{Client: client, DefaultRegion: defaultRegion}
}

func (r *IDCRefresher) endpoint(region string) string {
	if region == "" {
		region = r.DefaultRegion
	}
	return fmt.Sprintf("https://oidc.%s.amazonaws.com/token", region)
}

type idcRefreshRequest struct {
	GrantType    string `json:"grantType"`
	RefreshToken string `json:"refreshToken"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type idcRefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	ProfileARN   string `json:"profileArn,omitempty"`
}

func (r *IDCRefresher) Refresh(ctx context.Context, info pool.OAuthInfo) (Result, error) {
	if info.ClientID == "" || info.ClientSecret == "" {
		return Result{}, &Error{Kind: KindAuth, Err: fmt.Errorf("idc credential missing clientId/clientSecret")}
	}

	body, err := json.Marshal(idcRefreshRequest{
		GrantType:    "refresh_token",
		RefreshToken: info.RefreshToken,
		ClientID:     info.ClientID,
		ClientSecret: info.ClientSecret,
	})
	if err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint(info.Region), bytes.NewReader(body))
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
		return Result{}, &Error{Kind: KindAuth, Err: fmt.Errorf("idc refresh rejected: %s", data)}
	case resp.StatusCode >= 500:
		return Result{}, &Error{Kind: KindServer, Err: fmt.Errorf("idc refresh server error %d: %s", resp.StatusCode, data)}
	case resp.StatusCode != http.StatusOK:
		return Result{}, &Error{Kind: KindTransient, Err: fmt.Errorf("idc refresh status %d: %s", resp.StatusCode, data)}
	}

	var parsed idcRefreshResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, &Error{Kind: KindTransient, Err: err}
	}

	expiresAt, _ := parseExpiry("", parsed.ExpiresIn)
	return Result{
		AccessToken:  parsed.AccessToken,
		ExpiresAt:    expiresAt,
		RefreshToken: parsed.RefreshToken,
		ProfileARN:   parsed.ProfileARN,
	}, nil
}
