// Package pool implements the credential pool: selection, failure
// accounting, the global circuit breaker, balance caching, user affinity,
// and atomic persistence of the on-disk snapshot.
package pool

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"

	"github.com/kirogw/kiro-gateway/internal/config"
)

// AuthFlavor distinguishes the two OAuth refresh flows Kiro credentials use.
type AuthFlavor string

const (
	AuthSocial AuthFlavor = "social"
	AuthIDC    AuthFlavor = "idc"
)

// normalizeAuthFlavor maps the wire aliases ("builder-id", "iam") onto idc,
// per spec.md §6.
func normalizeAuthFlavor(raw string) (AuthFlavor, error) {
	switch strings.ToLower(raw) {
	case "social":
		return AuthSocial, nil
	case "idc", "builder-id", "iam":
		return AuthIDC, nil
	default:
		return "", fmt.Errorf("unknown authMethod %q", raw)
	}
}

// DisableReason is a closed set of reasons a credential can be disabled for.
// quota-exceeded is a supplement beyond the four the distilled spec names,
// grounded on the original token manager's DisableReason enum.
type DisableReason string

const (
	DisableNone             DisableReason = ""
	DisableBalance          DisableReason = "balance"
	DisableFailureCap       DisableReason = "failure-cap"
	DisableModelUnavailable DisableReason = "model-unavailable"
	DisableManual           DisableReason = "manual"
	DisableQuotaExceeded    DisableReason = "quota-exceeded"
)

// autoHeals reports whether a disable reason is eligible for automatic
// re-enable by the auto-heal loop, as opposed to requiring admin action.
func (r DisableReason) autoHeals() bool {
	switch r {
	case DisableFailureCap, DisableModelUnavailable:
		return true
	default:
		return false
	}
}

// Credential is one OAuth identity in the pool. Fields are split into an
// immutable identity/routing section and a mutex-guarded mutable runtime
// section; InFlight is a separate atomic counter so selection's hot path
// never takes the per-credential lock.
type Credential struct {
	ID int64

	mu sync.Mutex

	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
	AuthFlavor   AuthFlavor
	ClientID     string
	ClientSecret string
	ProfileARN   string

	Priority  int
	Region    string
	MachineID string

	Enabled       bool
	FailureCount  int
	SuccessCount  int
	LastUsedAt    time.Time
	LastError     string
	AutoHealAt    time.Time
	DisableReason DisableReason

	// CallCounts/TokenCounts are bucketed "YYYY-MM-DD" -> model -> count.
	CallCounts  map[string]map[string]int64
	TokenCounts map[string]map[string]int64

	InFlight atomic.Int64
}

// Validate enforces the invariants spec.md §3 states on a credential:
// idc requires client id/secret, and a non-empty profileArn must parse as
// an ARN shape.
func (c *Credential) Validate() error {
	if c.AuthFlavor == AuthIDC {
		if c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("credential %d: authMethod idc requires clientId and clientSecret", c.ID)
		}
	}
	if c.ProfileARN != "" {
		if _, err := arn.Parse(c.ProfileARN); err != nil {
			return fmt.Errorf("credential %d: profileArn %q is not a valid ARN: %w", c.ID, c.ProfileARN, err)
		}
	}
	return nil
}

// OAuthInfo is the subset of a credential's fields the token manager needs
// to decide whether a refresh is due and how to perform one. Exported so
// internal/oauth can operate on a *Credential without reaching into its
// unexported lock.
type OAuthInfo struct {
	RefreshToken string
	AccessToken  string
	ExpiresAt    time.Time
	AuthFlavor   AuthFlavor
	ClientID     string
	ClientSecret string
	Region       string
	ProfileARN   string
}

// OAuthSnapshot returns a copy of the credential's OAuth-relevant fields.
func (c *Credential) OAuthSnapshot() OAuthInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return OAuthInfo{
		RefreshToken: c.RefreshToken,
		AccessToken:  c.AccessToken,
		ExpiresAt:    c.ExpiresAt,
		AuthFlavor:   c.AuthFlavor,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Region:       c.Region,
		ProfileARN:   c.ProfileARN,
	}
}

// ApplyRefresh atomically replaces the access-token+expiry unit (and
// optionally the refresh token / profile ARN) after a successful refresh,
// per spec.md §3's "access-token + expiry are a single unit" invariant.
func (c *Credential) ApplyRefresh(accessToken string, expiresAt time.Time, newRefreshToken, profileARN string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessToken = accessToken
	c.ExpiresAt = expiresAt
	if newRefreshToken != "" {
		c.RefreshToken = newRefreshToken
	}
	if profileARN != "" {
		c.ProfileARN = profileARN
	}
}

// MarkDisabledManual disables the credential with reason=manual, used when
// its refresh token turns out to be invalid (spec.md §7 refresh_auth).
func (c *Credential) MarkDisabledManual(errMsg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Enabled = false
	c.DisableReason = DisableManual
	c.LastError = errMsg
}

// snapshot is an immutable copy of a credential's selectable state, taken
// once per selection call under the pool's read lock.
type snapshot struct {
	id            int64
	priority      int
	enabled       bool
	disableReason DisableReason
	inFlight      int64
	balance       float64
	profileARN    string
	region        string
	machineID     string
	authFlavor    AuthFlavor
}

func (c *Credential) takeSnapshot(balance float64) snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot{
		id:            c.ID,
		priority:      c.Priority,
		enabled:       c.Enabled,
		disableReason: c.DisableReason,
		inFlight:      c.InFlight.Load(),
		balance:       balance,
		profileARN:    c.ProfileARN,
		region:        c.Region,
		machineID:     c.MachineID,
		authFlavor:    c.AuthFlavor,
	}
}

// recordCounters bumps the persistent per-day/per-model call and token
// counters under the credential's lock.
func (c *Credential) recordCounters(model string, tokens int64, now time.Time) {
	day := now.UTC().Format("2006-01-02")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.CallCounts == nil {
		c.CallCounts = map[string]map[string]int64{}
	}
	if c.CallCounts[day] == nil {
		c.CallCounts[day] = map[string]int64{}
	}
	c.CallCounts[day][model]++

	if tokens > 0 {
		if c.TokenCounts == nil {
			c.TokenCounts = map[string]map[string]int64{}
		}
		if c.TokenCounts[day] == nil {
			c.TokenCounts[day] = map[string]int64{}
		}
		c.TokenCounts[day][model] += tokens
	}
}

func credentialFromRaw(raw config.RawCredential, nextID func() int64) (*Credential, error) {
	flavor, err := normalizeAuthFlavor(raw.AuthMethod)
	if err != nil {
		return nil, err
	}

	id := nextID()
	if raw.ID != nil {
		id = *raw.ID
	}

	priority := 0
	if raw.Priority != nil {
		priority = *raw.Priority
	}

	var expiresAt time.Time
	if raw.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, raw.ExpiresAt)
		if err != nil {
			// Malformed expiresAt is treated as already-expired (spec.md §9(b)).
			expiresAt = time.Time{}
		} else {
			expiresAt = t
		}
	}

	c := &Credential{
		ID:            id,
		RefreshToken:  raw.RefreshToken,
		AccessToken:   raw.AccessToken,
		ExpiresAt:     expiresAt,
		AuthFlavor:    flavor,
		ClientID:      raw.ClientID,
		ClientSecret:  raw.ClientSecret,
		ProfileARN:    raw.ProfileARN,
		Priority:      priority,
		Region:        raw.Region,
		MachineID:     raw.MachineID,
		Enabled:       !raw.Disabled,
		DisableReason: DisableReason(raw.DisableReason),
		CallCounts:    raw.CallCounts,
		TokenCounts:   raw.TokenCounts,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Credential) toRaw() config.RawCredential {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.ID
	priority := c.Priority
	return config.RawCredential{
		ID:            &id,
		AccessToken:   c.AccessToken,
		RefreshToken:  c.RefreshToken,
		ProfileARN:    c.ProfileARN,
		ExpiresAt:     c.ExpiresAt.Format(time.RFC3339),
		AuthMethod:    string(c.AuthFlavor),
		ClientID:      c.ClientID,
		ClientSecret:  c.ClientSecret,
		Priority:      &priority,
		Region:        c.Region,
		MachineID:     c.MachineID,
		Disabled:      !c.Enabled,
		DisableReason: string(c.DisableReason),
		CallCounts:    c.CallCounts,
		TokenCounts:   c.TokenCounts,
	}
}
