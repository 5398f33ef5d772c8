package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"botmarley/internal/gateway/provider"
	"botmarley/internal/logger"
	"botmarley/internal/state"
)

const (
	defaultMaxTurns    = 30
	defaultTurnTimeout = 3 * time.Minute
)

// ChatStreamer 一轮流式补全（provider.Client 满足该接口）。
type ChatStreamer interface {
	ChatStream(ctx context.Context, messages []provider.Message, tools []provider.Tool) (*provider.Completion, error)
}

// RunResult 单交易对一次决策循环的结果。Decision 为 nil 表示耗尽
// 轮次仍未决策（合法结果）或本轮被幂等跳过。
type RunResult struct {
	Symbol     string
	Decision   *state.Decision
	Skipped    bool
	TurnsUsed  int
	FinalText  string
	Transcript []provider.Message
}

// Engine 轮次受限的会话式决策循环。
type Engine struct {
	Provider    ChatStreamer
	Tools       *ToolHandler
	State       *state.Store
	Model       string
	MaxTurns    int
	TurnTimeout time.Duration
}

// RunSymbol drives the conversation for one symbol against the candle that
// closed at priceTimestamp. The idempotency guard runs first: if a decision
// for that candle already exists the loop is skipped entirely.
func (e *Engine) RunSymbol(ctx context.Context, symbol string, priceTimestamp int64, systemPrompt, analysis string) (*RunResult, error) {
	maxTurns := e.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}
	turnTimeout := e.TurnTimeout
	if turnTimeout <= 0 {
		turnTimeout = defaultTurnTimeout
	}

	if e.State.HasDecisionForTimestamp(symbol, priceTimestamp) {
		logger.Infof("%s: decision already recorded for candle close %d, skipping", symbol, priceTimestamp)
		return &RunResult{Symbol: symbol, Skipped: true}, nil
	}

	transcript := []provider.Message{
		provider.SystemMessage(systemPrompt),
		provider.UserMessage(analysis),
	}
	logger.LogLLMRequest(e.Model, symbol, systemPrompt, analysis, "")

	result := &RunResult{Symbol: symbol}
	for turn := 1; turn <= maxTurns; turn++ {
		if ctx.Err() != nil {
			result.Transcript = transcript
			return result, ctx.Err()
		}
		if turn == maxTurns {
			transcript = append(transcript, provider.UserMessage(
				"This is your final turn. You must decide now: call buy, sell or hold for the pair."))
		}

		turnCtx, cancel := context.WithTimeout(ctx, turnTimeout)
		completion, err := e.Provider.ChatStream(turnCtx, transcript, e.Tools.Definitions())
		cancel()
		result.TurnsUsed = turn
		if err != nil {
			if ctx.Err() != nil {
				result.Transcript = transcript
				return result, ctx.Err()
			}
			// 单轮失败（含超时）消耗该轮，循环继续
			if errors.Is(err, context.DeadlineExceeded) {
				logger.Warnf("%s turn %d/%d timed out after %s", symbol, turn, maxTurns, turnTimeout)
			} else {
				logger.Warnf("%s turn %d/%d failed: %v", symbol, turn, maxTurns, err)
			}
			continue
		}

		assistant := provider.Message{
			Role:      provider.RoleAssistant,
			Content:   completion.Content,
			ToolCalls: completion.ToolCalls,
		}
		transcript = append(transcript, assistant)
		logger.LogLLMResponse(e.Model, symbol, completion.Content, renderToolCalls(completion.ToolCalls))
		if completion.Content != "" {
			result.FinalText = completion.Content
		}

		if len(completion.ToolCalls) == 0 {
			if turn < maxTurns {
				remaining := maxTurns - turn
				transcript = append(transcript, provider.UserMessage(fmt.Sprintf(
					"No decision recorded yet. Continue your analysis; %d turns remaining.", remaining)))
			}
			continue
		}

		decided := e.dispatchCalls(ctx, symbol, priceTimestamp, completion.ToolCalls, &transcript, result)
		if decided {
			result.Transcript = transcript
			return result, nil
		}
		if turn < maxTurns {
			remaining := maxTurns - turn
			transcript = append(transcript, provider.UserMessage(fmt.Sprintf(
				"No decision recorded yet. Review the tool results above and try again; %d turns remaining.", remaining)))
		}
	}

	logger.Warnf("%s: turn budget exhausted without a decision", symbol)
	result.Transcript = transcript
	return result, nil
}

// dispatchCalls answers every tool call in the turn. After the first
// successful decision the remaining calls are refused without execution, so
// one turn can never record two decisions for the same candle.
func (e *Engine) dispatchCalls(ctx context.Context, symbol string, priceTimestamp int64, calls []provider.ToolCall, transcript *[]provider.Message, result *RunResult) bool {
	decided := false
	for _, call := range calls {
		var outcome ToolOutcome
		var decision *state.Decision
		if decided {
			outcome = ToolOutcome{Message: "decision already recorded for this candle"}
		} else {
			outcome, decision = e.Tools.Dispatch(ctx, call, priceTimestamp)
		}
		*transcript = append(*transcript, provider.ToolMessage(call.ID, outcome.JSON()))
		if decision != nil {
			result.Decision = decision
			decided = true
			logger.Infof("%s: %s decision recorded (confidence %d%%)", symbol, decision.Action, decision.Confidence)
		} else if !outcome.OK {
			logger.Debugf("%s tool %s: %s", symbol, call.Function.Name, outcome.Message)
		}
	}
	return decided
}

func renderToolCalls(calls []provider.ToolCall) string {
	if len(calls) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range calls {
		args := c.Function.Arguments
		var compact bytes.Buffer
		if err := json.Compact(&compact, []byte(args)); err == nil {
			args = compact.String()
		}
		fmt.Fprintf(&b, "%s(%s)\n", c.Function.Name, args)
	}
	return strings.TrimRight(b.String(), "\n")
}
