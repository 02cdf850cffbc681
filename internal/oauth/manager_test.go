package oauth

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirogw/kiro-gateway/internal/config"
	"github.com/kirogw/kiro-gateway/internal/pool"
)

type countingRefresher struct {
	calls atomic.Int64
	delay time.Duration
}

func (r *countingRefresher) Refresh(ctx context.Context, info pool.OAuthInfo) (Result, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	return Result{AccessToken: "new-token", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newPoolWithExpiredCredential(t *testing.T) (*pool.Pool, int64) {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/creds.json"
	raw := `[{"refreshToken":"rt-1","authMethod":"social","expiresAt":"2000-01-01T00:00:00Z"}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	p := pool.New("")
	require.NoError(t, p.LoadFromFile(path))
	snaps := p.AllSnapshots()
	require.Len(t, snaps, 1)
	return p, snaps[0].ID
}

func TestTokenRefreshSingleFlight(t *testing.T) {
	p, id := newPoolWithExpiredCredential(t)
	social := &countingRefresher{delay: 20 * time.Millisecond}
	m := New(p, social, nil)

	const n = 10
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.EnsureFresh(context.Background(), id)
			require.NoError(t, err)
			results[i] = tok
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, social.calls.Load())
	for _, tok := range results {
		assert.Equal(t, "new-token", tok)
	}
}

func TestEnsureFreshSkipsRefreshWhenTokenValid(t *testing.T) {
	p := pool.New("")
	id, err := p.Add(rawCredential("rt-2", time.Now().Add(time.Hour)))
	require.NoError(t, err)

	c, ok := p.CredentialByID(id)
	require.True(t, ok)
	c.ApplyRefresh("already-fresh", time.Now().Add(time.Hour), "", "")

	social := &countingRefresher{}
	m := New(p, social, nil)

	tok, err := m.EnsureFresh(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "already-fresh", tok)
	assert.EqualValues(t, 0, social.calls.Load())
}

func rawCredential(refreshToken string, expiresAt time.Time) config.RawCredential {
	return config.RawCredential{
		RefreshToken: refreshToken,
		AuthMethod:   "social",
		ExpiresAt:    expiresAt.Format(time.RFC3339),
	}
}
