package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Load(filepath.Join(t.TempDir(), "trading_state.json"))
	require.NoError(t, err)
	return s
}

func decisionAt(ts int64) Decision {
	return Decision{
		Symbol:          "BTC_USDC",
		Action:          ActionBuy,
		Amount:          0.01,
		Confidence:      75,
		Explanation:     "momentum building",
		PriceAtDecision: 50000,
		PriceTimestamp:  ts,
	}
}

func TestHasDecisionForTimestamp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.AddDecision(decisionAt(1000)))

	assert.True(t, s.HasDecisionForTimestamp("BTC_USDC", 1000))
	assert.True(t, s.HasDecisionForTimestamp("btc_usdc", 1000), "symbol lookup is case-insensitive")
	assert.False(t, s.HasDecisionForTimestamp("BTC_USDC", 2000))
	assert.False(t, s.HasDecisionForTimestamp("ETH_USDC", 1000))
	assert.False(t, s.HasDecisionForTimestamp("BTC_USDC", 0), "zero timestamp never matches")
}

func TestPendingMarkerBlocksTimestamp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkPending("BTC_USDC", 5000))
	assert.True(t, s.HasDecisionForTimestamp("BTC_USDC", 5000))

	require.NoError(t, s.ClearPending("BTC_USDC"))
	assert.False(t, s.HasDecisionForTimestamp("BTC_USDC", 5000))
}

func TestAddDecisionClearsPending(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.MarkPending("BTC_USDC", 1000))
	require.NoError(t, s.AddDecision(decisionAt(1000)))

	hist, ok := s.History("BTC_USDC")
	require.True(t, ok)
	assert.Equal(t, 1, hist.TotalDecisions)
	// still blocked, now by the decision itself
	assert.True(t, s.HasDecisionForTimestamp("BTC_USDC", 1000))
}

func TestLifetimeCountersSurviveWindowEviction(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 40; i++ {
		d := decisionAt(int64(1000 + i))
		if i%2 == 0 {
			d.Action = ActionHold
			d.Amount = 0
		}
		require.NoError(t, s.AddDecision(d))
	}
	hist, ok := s.History("BTC_USDC")
	require.True(t, ok)
	assert.Len(t, hist.Decisions, 30)
	assert.Equal(t, 40, hist.TotalDecisions)
	assert.Equal(t, 20, hist.BuyCount)
	assert.Equal(t, 20, hist.HoldCount)
}

func TestStatePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	s, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, s.AddDecision(decisionAt(1000)))
	_, err = s.IncrementRun()
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, reloaded.HasDecisionForTimestamp("BTC_USDC", 1000))
	assert.Equal(t, 1, reloaded.TotalRuns())
}

func TestMalformedStateFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalRuns())
	assert.False(t, s.HasDecisionForTimestamp("BTC_USDC", 1000))
}

func TestAddDecisionRejectsUnknownAction(t *testing.T) {
	s := newTestStore(t)
	d := decisionAt(1000)
	d.Action = Action("yolo")
	assert.Error(t, s.AddDecision(d))
}

func TestContextSummary(t *testing.T) {
	s := newTestStore(t)
	summary := s.ContextSummary("BTC_USDC")
	assert.Contains(t, summary, "No previous decisions")

	d := decisionAt(1000)
	d.Timestamp = time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddDecision(d))

	summary = s.ContextSummary("BTC_USDC")
	assert.Contains(t, summary, "TRADING HISTORY FOR BTC_USDC")
	assert.Contains(t, summary, "Total decisions: 1 (buys: 1, sells: 0, holds: 0)")
	assert.Contains(t, summary, "Last decision: BUY 0.01 @ $50000.00 (confidence 75%)")
	assert.Contains(t, summary, "Reason: momentum building")
}
