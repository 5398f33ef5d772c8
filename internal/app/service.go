package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"botmarley/internal/bot"
	"botmarley/internal/logger"
	"botmarley/internal/market"
	"botmarley/internal/pkg/text"
	"botmarley/internal/state"
	"botmarley/internal/store/decisionlog"
)

// runCycle 一次完整决策轮：补齐历史数据 → 逐交易对跑会话循环 →
// 落决策日志 → 组合估值快照。单个交易对失败不影响其余。
func (a *App) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	started := a.nowFn()

	a.collector.CollectAll(ctx, a.pairs)
	for _, pair := range a.pairs {
		a.cache.Invalidate(pair, "")
	}

	runNumber, err := a.state.IncrementRun()
	if err != nil {
		logger.Warnf("increment run counter: %v", err)
	}
	logger.Infof("=== decision run #%d pairs=%v interval=%s ===", runNumber, a.pairs, a.cfg.Trading.Interval)

	systemPrompt := a.prompts.SystemPrompt()
	analysis := a.contextBuilder.Build(ctx, a.engine.MaxTurns)

	for _, pair := range a.pairs {
		if ctx.Err() != nil {
			return
		}
		a.runPair(ctx, pair, systemPrompt, analysis)
	}

	if _, err := a.tracker.Capture(ctx, runNumber); err != nil {
		logger.Warnf("portfolio snapshot failed: %v", err)
	}
	logger.Infof("run #%d finished in %s", runNumber, time.Since(started).Truncate(time.Millisecond))
}

func (a *App) runPair(ctx context.Context, pair, systemPrompt, analysis string) {
	candles, err := a.cache.Klines(ctx, pair, a.cfg.Trading.Interval, 2)
	if err != nil {
		logger.Errorf("%s: fetch candles failed, skipping: %v", pair, err)
		return
	}
	priceTimestamp := market.LastClosedCloseTime(candles, a.nowFn().UTC().UnixMilli())
	if priceTimestamp == 0 {
		logger.Warnf("%s: no closed candle available, skipping", pair)
		return
	}

	result, runErr := a.engine.RunSymbol(ctx, pair, priceTimestamp, systemPrompt, analysis)
	if result == nil {
		if runErr != nil {
			logger.Errorf("%s: decision run failed: %v", pair, runErr)
		}
		return
	}
	if d := result.Decision; d != nil {
		logger.InfoBlock(renderDecisionBlock(pair, result.TurnsUsed, d))
	}

	rec := buildRunRecord(pair, a.engine.Model, priceTimestamp, result, runErr)
	rec.SystemPrompt = systemPrompt
	rec.UserPrompt = analysis
	if _, err := a.runs.Insert(ctx, rec); err != nil {
		logger.Warnf("%s: persist run record failed: %v", pair, err)
	}
}

// buildRunRecord 把一次会话结果转成留痕记录。模型可能对分析目标之外的
// 白名单交易对落决策，此时记录归属到实际决策的交易对。
func buildRunRecord(pair, model string, priceTimestamp int64, result *bot.RunResult, runErr error) decisionlog.RunRecord {
	rec := decisionlog.RunRecord{
		Symbol:         pair,
		Model:          model,
		PriceTimestamp: priceTimestamp,
		TurnsUsed:      result.TurnsUsed,
		Skipped:        result.Skipped,
		FinalText:      result.FinalText,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if d := result.Decision; d != nil {
		if d.Symbol != "" {
			rec.Symbol = d.Symbol
		}
		rec.Action = string(d.Action)
		rec.Amount = d.Amount
		rec.Confidence = d.Confidence
		rec.Explanation = d.Explanation
		rec.PriceAtDecision = d.PriceAtDecision
	}
	if len(result.Transcript) > 0 {
		if raw, err := json.Marshal(result.Transcript); err == nil {
			rec.TranscriptJSON = string(raw)
		}
	}
	return rec
}

func renderDecisionBlock(pair string, turnsUsed int, d *state.Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s 决策: %s (turns=%d)\n", pair, strings.ToUpper(string(d.Action)), turnsUsed)
	if d.Amount > 0 {
		fmt.Fprintf(&b, "  数量: %g\n", d.Amount)
	}
	if d.PriceAtDecision > 0 {
		fmt.Fprintf(&b, "  价格: $%.2f\n", d.PriceAtDecision)
	}
	fmt.Fprintf(&b, "  信心: %d%%\n", d.Confidence)
	if reason := strings.TrimSpace(d.Explanation); reason != "" {
		fmt.Fprintf(&b, "  理由: %s", text.Truncate(reason, 200))
	}
	return strings.TrimRight(b.String(), "\n")
}
