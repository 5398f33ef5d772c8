package decisionlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInsertAssignsTraceID(t *testing.T) {
	s := newTestStore(t)

	traceID, err := s.Insert(context.Background(), RunRecord{
		Symbol:         "btcusdc",
		Model:          "test-model",
		PriceTimestamp: 1000,
		Action:         "BUY",
	})
	require.NoError(t, err)
	require.NotEmpty(t, traceID)

	rec, err := s.Get(context.Background(), traceID)
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDC", rec.Symbol, "symbol is normalized on write")
	assert.Equal(t, "buy", rec.Action)
	assert.Equal(t, int64(1000), rec.PriceTimestamp)
	assert.NotZero(t, rec.Timestamp)
}

func TestListFiltersAndPaginates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Insert(ctx, RunRecord{
			Symbol:    "BTCUSDC",
			Action:    "hold",
			Timestamp: int64(1000 + i),
		})
		require.NoError(t, err)
	}
	_, err := s.Insert(ctx, RunRecord{Symbol: "ETHUSDC", Action: "buy", Timestamp: 2000})
	require.NoError(t, err)

	all, err := s.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 6)
	assert.Equal(t, int64(2000), all[0].Timestamp, "newest first")

	btc, err := s.List(ctx, Query{Symbol: "btcusdc"})
	require.NoError(t, err)
	assert.Len(t, btc, 5)

	buys, err := s.List(ctx, Query{Action: "BUY"})
	require.NoError(t, err)
	require.Len(t, buys, 1)
	assert.Equal(t, "ETHUSDC", buys[0].Symbol)

	page, err := s.List(ctx, Query{Symbol: "BTCUSDC", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1002), page[0].Timestamp)

	total, err := s.Count(ctx, Query{Symbol: "BTCUSDC"})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestSymbols(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, sym := range []string{"ETHUSDC", "BTCUSDC", "BTCUSDC"} {
		_, err := s.Insert(ctx, RunRecord{Symbol: sym})
		require.NoError(t, err)
	}
	symbols, err := s.Symbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"BTCUSDC", "ETHUSDC"}, symbols)
}

func TestSkippedRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	traceID, err := s.Insert(ctx, RunRecord{Symbol: "BTCUSDC", Skipped: true, TurnsUsed: 0})
	require.NoError(t, err)

	rec, err := s.Get(ctx, traceID)
	require.NoError(t, err)
	assert.True(t, rec.Skipped)
	assert.Empty(t, rec.Action)
}

func TestGetUnknownTraceFails(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "no-such-trace")
	assert.Error(t, err)
}
