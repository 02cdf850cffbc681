package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndTotalsAggregateByModel(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordRequest(ctx, Record{
		RequestID: "r1", CredentialID: 1, Model: "claude-sonnet-4.5", Kind: KindMessages,
		Success: true, InputTokens: 100, OutputTokens: 50, CreatedAt: now,
	}))
	require.NoError(t, s.RecordRequest(ctx, Record{
		RequestID: "r2", CredentialID: 2, Model: "claude-sonnet-4.5", Kind: KindMessages,
		Success: false, ErrorKind: "upstream_transient", CreatedAt: now,
	}))
	require.NoError(t, s.RecordRequest(ctx, Record{
		RequestID: "r3", CredentialID: 1, Model: "claude-haiku-4.5", Kind: KindMessages,
		Success: true, InputTokens: 10, OutputTokens: 5, CreatedAt: now,
	}))

	totals, err := s.Totals(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, totals, 2)

	byModel := map[string]ModelTotals{}
	for _, t := range totals {
		byModel[t.Model] = t
	}
	assert.EqualValues(t, 2, byModel["claude-sonnet-4.5"].Requests)
	assert.EqualValues(t, 1, byModel["claude-sonnet-4.5"].Failures)
	assert.EqualValues(t, 100, byModel["claude-sonnet-4.5"].InputTokens)
	assert.EqualValues(t, 1, byModel["claude-haiku-4.5"].Requests)
	assert.EqualValues(t, 0, byModel["claude-haiku-4.5"].Failures)

	// Requests before the window are excluded.
	totals, err = s.Totals(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestByCredentialAggregatesFailures(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "r1", CredentialID: 5, Success: true, CreatedAt: now}))
	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "r2", CredentialID: 5, Success: false, ErrorKind: "auth", CreatedAt: now}))
	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "r3", CredentialID: 6, Success: true, CreatedAt: now}))

	totals, err := s.ByCredential(ctx, now.Add(-time.Minute))
	require.NoError(t, err)

	byCred := map[int64]CredentialTotals{}
	for _, t := range totals {
		byCred[t.CredentialID] = t
	}
	assert.EqualValues(t, 2, byCred[5].Requests)
	assert.EqualValues(t, 1, byCred[5].Failures)
	assert.EqualValues(t, 1, byCred[6].Requests)
	assert.EqualValues(t, 0, byCred[6].Failures)
}

func TestRecentFailuresReturnsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "old", CredentialID: 1, Success: false, ErrorKind: "auth", CreatedAt: now}))
	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "mid", CredentialID: 1, Success: true, CreatedAt: now}))
	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "new", CredentialID: 1, Success: false, ErrorKind: "upstream_fatal", CreatedAt: now}))

	failures, err := s.RecentFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "new", failures[0].RequestID)
	assert.Equal(t, "old", failures[1].RequestID)
}

func TestResetClearsLog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordRequest(ctx, Record{RequestID: "r1", CredentialID: 1, Success: true, CreatedAt: time.Now()}))
	require.NoError(t, s.Reset(ctx))

	totals, err := s.Totals(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, totals)
}
