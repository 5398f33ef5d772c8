package app

import (
	"errors"
	"testing"

	"botmarley/internal/bot"
	"botmarley/internal/gateway/provider"
	"botmarley/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRunRecordAttributesDecisionSymbol(t *testing.T) {
	// 分析 BTCUSDC 时模型对 ETHUSDC 落了决策，留痕必须归属 ETHUSDC
	result := &bot.RunResult{
		Symbol:    "BTCUSDC",
		TurnsUsed: 3,
		FinalText: "rotating into ETH",
		Decision: &state.Decision{
			Symbol:          "ETHUSDC",
			Action:          state.ActionBuy,
			Amount:          0.01,
			Confidence:      70,
			Explanation:     "relative strength",
			PriceAtDecision: 3000,
			PriceTimestamp:  5000,
		},
	}

	rec := buildRunRecord("BTCUSDC", "test-model", 5000, result, nil)
	assert.Equal(t, "ETHUSDC", rec.Symbol)
	assert.Equal(t, "buy", rec.Action)
	assert.Equal(t, 0.01, rec.Amount)
	assert.Equal(t, 70, rec.Confidence)
	assert.Equal(t, int64(5000), rec.PriceTimestamp)
	assert.Equal(t, "test-model", rec.Model)
}

func TestBuildRunRecordWithoutDecision(t *testing.T) {
	result := &bot.RunResult{
		Symbol:    "BTCUSDC",
		TurnsUsed: 5,
		FinalText: "still undecided",
		Transcript: []provider.Message{
			provider.SystemMessage("sys"),
			provider.UserMessage("ctx"),
		},
	}

	rec := buildRunRecord("BTCUSDC", "test-model", 7000, result, errors.New("turn 5 timed out"))
	assert.Equal(t, "BTCUSDC", rec.Symbol, "no decision keeps the analyzed pair")
	assert.Empty(t, rec.Action)
	assert.Equal(t, 5, rec.TurnsUsed)
	assert.Equal(t, "turn 5 timed out", rec.Error)
	require.NotEmpty(t, rec.TranscriptJSON)
	assert.Contains(t, rec.TranscriptJSON, `"sys"`)
}
