package bot

import (
	"context"
	"path/filepath"
	"testing"

	"botmarley/internal/gateway/binance"
	"botmarley/internal/gateway/provider"
	"botmarley/internal/ledger"
	"botmarley/internal/state"
	"botmarley/internal/trade"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) (*ToolHandler, *state.Store, *ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()
	store, err := state.Load(filepath.Join(dir, "trading_state.json"))
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(dir, "transactions.jsonl"))
	require.NoError(t, err)
	executor := &trade.Executor{
		Prices:    stubPrices{price: 50000},
		Ledger:    l,
		Validator: &trade.Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2},
		Interval:  "5m",
	}
	h, err := NewToolHandler(executor, store, []string{"BTC_USDC", "ETH_USDC"})
	require.NoError(t, err)
	return h, store, l
}

func call(name, args string) provider.ToolCall {
	return provider.ToolCall{
		ID:       "call_x",
		Type:     "function",
		Function: provider.FunctionCall{Name: name, Arguments: args},
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	h, _, _ := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(), call("transfer", `{}`), 1000)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "unknown tool")
	assert.Nil(t, decision)
}

func TestDispatchRejectsMalformedJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(), call(ToolBuy, `{"pair":`), 1000)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "not valid JSON")
	assert.Nil(t, decision)
}

func TestDispatchSchemaValidation(t *testing.T) {
	h, _, l := newTestHandler(t)
	cases := []string{
		`{"pair":"BTC_USDC","confidence":80,"explanation":"x"}`,                 // missing amount
		`{"pair":"BTC_USDC","amount":0,"confidence":80,"explanation":"x"}`,     // amount not > 0
		`{"pair":"BTC_USDC","amount":0.1,"confidence":150,"explanation":"x"}`,  // confidence > 100
		`{"pair":"BTC_USDC","amount":0.1,"confidence":80,"explanation":""}`,    // empty explanation
		`{"pair":"BTC_USDC","amount":"a lot","confidence":80,"explanation":"x"}`, // wrong type
	}
	for _, args := range cases {
		outcome, decision := h.Dispatch(context.Background(), call(ToolBuy, args), 1000)
		assert.False(t, outcome.OK, args)
		assert.Nil(t, decision, args)
	}
	_, ok := l.Position("BTC")
	assert.False(t, ok, "no rejected call may reach the ledger")
}

func TestDispatchAcceptsConfiguredPairNotation(t *testing.T) {
	// 生产路径里白名单是交易所符号（BTCUSDC），而 schema 示例教模型
	// 使用 BTC_USDC 写法，两种写法都必须命中白名单
	dir := t.TempDir()
	store, err := state.Load(filepath.Join(dir, "trading_state.json"))
	require.NoError(t, err)
	l, err := ledger.Open(filepath.Join(dir, "transactions.jsonl"))
	require.NoError(t, err)
	executor := &trade.Executor{
		Prices:    stubPrices{price: 50000},
		Ledger:    l,
		Validator: &trade.Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2},
		Interval:  "5m",
	}
	h, err := NewToolHandler(executor, store, []string{binance.NormalizePair("BTC_USDC")})
	require.NoError(t, err)

	outcome, decision := h.Dispatch(context.Background(),
		call(ToolHold, `{"pair":"BTC_USDC","confidence":55,"explanation":"sideways"}`), 4000)
	require.True(t, outcome.OK, outcome.Message)
	require.NotNil(t, decision)
	assert.Equal(t, "BTCUSDC", decision.Symbol)
	assert.True(t, store.HasDecisionForTimestamp("BTCUSDC", 4000))
}

func TestDispatchRejectsUnlistedPair(t *testing.T) {
	h, _, _ := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(),
		call(ToolBuy, `{"pair":"DOGE_USDC","amount":0.0001,"confidence":80,"explanation":"moon"}`), 1000)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "not in the allowed list")
	assert.Nil(t, decision)
}

func TestDispatchBuyRecordsDecisionAndLedger(t *testing.T) {
	h, store, l := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(),
		call(ToolBuy, `{"pair":"BTC_USDC","amount":0.0004,"confidence":85,"explanation":"support held"}`), 1000)
	require.True(t, outcome.OK, outcome.Message)
	require.NotNil(t, decision)
	assert.Equal(t, state.ActionBuy, decision.Action)
	assert.Equal(t, 85, decision.Confidence)
	assert.InDelta(t, 50000, decision.PriceAtDecision, 1e-9)

	assert.True(t, store.HasDecisionForTimestamp("BTCUSDC", 1000))
	pos, ok := l.Position("BTC")
	require.True(t, ok)
	assert.InDelta(t, 0.0004, pos.TotalAmount, 1e-12)
}

func TestDispatchHoldRecordsDecisionWithoutTrade(t *testing.T) {
	h, store, l := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(),
		call(ToolHold, `{"pair":"ETH_USDC","confidence":60,"explanation":"choppy range"}`), 2000)
	require.True(t, outcome.OK, outcome.Message)
	require.NotNil(t, decision)
	assert.Equal(t, state.ActionHold, decision.Action)
	assert.Zero(t, decision.Amount)

	assert.True(t, store.HasDecisionForTimestamp("ETHUSDC", 2000))
	assert.Empty(t, l.Positions())
}

func TestDispatchRestrictionClearsPending(t *testing.T) {
	h, store, _ := newTestHandler(t)
	outcome, decision := h.Dispatch(context.Background(),
		call(ToolBuy, `{"pair":"BTC_USDC","amount":0.001,"confidence":85,"explanation":"big bet"}`), 3000)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "trade rejected")
	assert.Nil(t, decision)
	assert.False(t, store.HasDecisionForTimestamp("BTCUSDC", 3000),
		"pending marker must be cleared after a rejected trade")
}

func TestDefinitionsExposeThreeTools(t *testing.T) {
	h, _, _ := newTestHandler(t)
	defs := h.Definitions()
	require.Len(t, defs, 3)
	names := []string{defs[0].Function.Name, defs[1].Function.Name, defs[2].Function.Name}
	assert.ElementsMatch(t, []string{"buy", "sell", "hold"}, names)
}
