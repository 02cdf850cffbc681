package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirogw/kiro-gateway/internal/config"
)

func newTestCredential(id int64, priority int) *Credential {
	return &Credential{
		ID:         id,
		Priority:   priority,
		Enabled:    true,
		AuthFlavor: AuthSocial,
	}
}

func newTestPool(creds ...*Credential) *Pool {
	p := New("")
	for _, c := range creds {
		p.byID[c.ID] = c
		p.order = append(p.order, c.ID)
		if c.ID >= p.nextID.Load() {
			p.nextID.Store(c.ID + 1)
		}
	}
	return p
}

func TestSelectionDeterminismUnderNoTies(t *testing.T) {
	p := newTestPool(newTestCredential(1, 0), newTestCredential(2, 0), newTestCredential(3, 1))
	p.byID[1].InFlight.Store(2)
	p.byID[2].InFlight.Store(1)
	p.Balance.Set(1, 5, time.Now())
	p.Balance.Set(2, 9, time.Now())

	ctx1, err := p.Acquire("")
	require.NoError(t, err)
	p.ReportSuccess(ctx1.CredentialID, 0, "m")

	ctx2, err := p.Acquire("")
	require.NoError(t, err)
	assert.Equal(t, ctx1.CredentialID, ctx2.CredentialID)
}

func TestSelectionFairnessUnderFullTies(t *testing.T) {
	p := newTestPool(newTestCredential(1, 0), newTestCredential(2, 0), newTestCredential(3, 0))

	counts := map[int64]int{}
	const m = 5
	for i := 0; i < m*3; i++ {
		ctx, err := p.Acquire("")
		require.NoError(t, err)
		counts[ctx.CredentialID]++
		p.ReportSuccess(ctx.CredentialID, 0, "m")
	}

	assert.Equal(t, m, counts[1])
	assert.Equal(t, m, counts[2])
	assert.Equal(t, m, counts[3])
}

func TestAffinityStickiness(t *testing.T) {
	p := newTestPool(newTestCredential(1, 0), newTestCredential(2, 0))

	ctx1, err := p.Acquire("user-a")
	require.NoError(t, err)
	p.ReportSuccess(ctx1.CredentialID, 0, "m")

	ctx2, err := p.Acquire("user-a")
	require.NoError(t, err)
	assert.Equal(t, ctx1.CredentialID, ctx2.CredentialID)
	p.ReportSuccess(ctx2.CredentialID, 0, "m")

	require.NoError(t, p.SetDisabled(ctx1.CredentialID, true))

	ctx3, err := p.Acquire("user-a")
	require.NoError(t, err)
	assert.NotEqual(t, ctx1.CredentialID, ctx3.CredentialID)
}

func TestReportFailureInsufficientBalanceDisables(t *testing.T) {
	p := newTestPool(newTestCredential(1, 0), newTestCredential(2, 0))

	ctx, err := p.Acquire("")
	require.NoError(t, err)
	p.ReportFailure(ctx.CredentialID, FailureInsufficientBalance, "insufficient balance")

	c, ok := p.CredentialByID(ctx.CredentialID)
	require.True(t, ok)
	c.mu.Lock()
	assert.False(t, c.Enabled)
	assert.Equal(t, DisableBalance, c.DisableReason)
	c.mu.Unlock()
}

func TestReportFailureModelUnavailableTripsGlobalCircuit(t *testing.T) {
	p := newTestPool(newTestCredential(1, 0), newTestCredential(2, 0))

	ctx1, _ := p.Acquire("")
	p.ReportFailure(ctx1.CredentialID, FailureModelUnavailable, "MODEL_TEMPORARILY_UNAVAILABLE")
	ctx2, _ := p.Acquire("")
	p.ReportFailure(ctx2.CredentialID, FailureModelUnavailable, "MODEL_TEMPORARILY_UNAVAILABLE")

	_, err := p.Acquire("")
	assert.ErrorIs(t, err, ErrNoCredentialAvailable)
}

func TestNoCredentialAvailableWhenPoolEmpty(t *testing.T) {
	p := newTestPool()
	_, err := p.Acquire("")
	assert.ErrorIs(t, err, ErrNoCredentialAvailable)
}

func TestImportFromTokenJSONDedupesByRefreshTokenPrefix(t *testing.T) {
	p := newTestPool()
	c := newTestCredential(1, 0)
	c.RefreshToken = "refresh-token-abc"
	p.byID[1] = c
	p.order = []int64{1}
	p.nextID.Store(2)

	imported, skipped, err := p.ImportFromTokenJSON([]config.RawCredential{
		{RefreshToken: "refresh-token-abc", AuthMethod: "social"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 1, skipped)
}
