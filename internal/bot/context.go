package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"botmarley/internal/gateway/binance"
	"botmarley/internal/ledger"
	"botmarley/internal/logger"
	"botmarley/internal/market"
	"botmarley/internal/state"
)

const (
	contextCandleCount = 100
	recentTxCount      = 10
)

// AccountSource 账户上下文来源（余额 + 挂单）。
type AccountSource interface {
	HasCredentials() bool
	AccountBalances(ctx context.Context) ([]binance.AssetBalance, error)
	OpenOrders(ctx context.Context, symbol string) ([]binance.OpenOrder, error)
}

// ContextBuilder 为每轮决策组装初始用户消息：账户、持仓、历史、
// 以及每个交易对的行情与指标。
type ContextBuilder struct {
	Cache     *market.Cache
	State     *state.Store
	Ledger    *ledger.Ledger
	Account   AccountSource
	FearGreed *market.FearGreedService
	Interval  string
	Pairs     []string
}

// Build renders the analysis message for a run with turnsRemaining turns.
func (b *ContextBuilder) Build(ctx context.Context, turnsRemaining int) string {
	var sb strings.Builder
	sb.WriteString("=== MULTI-PAIR TRADING ANALYSIS ===\n")
	fmt.Fprintf(&sb, "Time: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "Turns remaining: %d\n\n", turnsRemaining)

	sb.WriteString(b.accountBlock(ctx))
	sb.WriteString("\n\n")
	sb.WriteString(b.positionsBlock())
	sb.WriteString("\n\n")
	sb.WriteString(b.transactionsBlock())
	sb.WriteString("\n\n")
	if block := b.sentimentBlock(ctx); block != "" {
		sb.WriteString(block)
		sb.WriteString("\n\n")
	}

	for _, pair := range b.Pairs {
		sb.WriteString(b.pairBlock(ctx, pair))
		sb.WriteString("\n\n")
	}

	sb.WriteString("TRADING INSTRUCTIONS:\n")
	sb.WriteString("Analyse the data above. When you are ready, call exactly one of the tools\n")
	sb.WriteString("(buy, sell, hold) for the pair you want to act on. Each tool call requires a\n")
	sb.WriteString("confidence (0-100) and an explanation. You may reason across multiple turns,\n")
	sb.WriteString("but a decision must be recorded before your turns run out.")
	return sb.String()
}

func (b *ContextBuilder) accountBlock(ctx context.Context) string {
	if b.Account == nil || !b.Account.HasCredentials() {
		return "ACCOUNT SUMMARY:\nExchange account not configured; trading operates in paper mode."
	}
	var sb strings.Builder
	sb.WriteString("ACCOUNT SUMMARY:\n")
	balances, err := b.Account.AccountBalances(ctx)
	if err != nil {
		logger.Warnf("account balances unavailable: %v", err)
		sb.WriteString("Balances temporarily unavailable.\n")
	} else if len(balances) == 0 {
		sb.WriteString("No balances.\n")
	} else {
		for _, bal := range balances {
			fmt.Fprintf(&sb, "- %s: free %g, locked %g\n", bal.Asset, bal.Free, bal.Locked)
		}
	}
	orders, err := b.Account.OpenOrders(ctx, "")
	if err != nil {
		logger.Warnf("open orders unavailable: %v", err)
	} else {
		fmt.Fprintf(&sb, "Open orders: %d", len(orders))
		for _, o := range orders {
			fmt.Fprintf(&sb, "\n- %s %s %g @ %g", o.Symbol, o.Side, o.Quantity, o.Price)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) positionsBlock() string {
	positions := b.Ledger.Positions()
	if len(positions) == 0 {
		return "POSITIONS:\nNo open positions."
	}
	var sb strings.Builder
	sb.WriteString("POSITIONS:\n")
	for asset, pos := range positions {
		fmt.Fprintf(&sb, "- %s: %g @ avg $%.2f (invested $%.2f)\n",
			asset, pos.TotalAmount, pos.AverageBuyPrice, pos.TotalInvestedUSD)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) transactionsBlock() string {
	txs, err := b.Ledger.RecentTransactions(recentTxCount)
	if err != nil {
		logger.Warnf("recent transactions unavailable: %v", err)
		return "RECENT TRANSACTIONS:\nUnavailable."
	}
	if len(txs) == 0 {
		return "RECENT TRANSACTIONS:\nNone."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "RECENT TRANSACTIONS (last %d):\n", len(txs))
	for _, tx := range txs {
		fmt.Fprintf(&sb, "- %s %s %s %g %s @ $%.2f", tx.Date, tx.Time, tx.Type, tx.Amount, tx.Asset, tx.PricePerUnit)
		if tx.Type == ledger.TypeSell {
			fmt.Fprintf(&sb, " (profit $%.2f)", tx.ProfitUSD)
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (b *ContextBuilder) sentimentBlock(ctx context.Context) string {
	if b.FearGreed == nil {
		return ""
	}
	b.FearGreed.RefreshIfStale(ctx)
	data, ok := b.FearGreed.Get()
	if !ok {
		return ""
	}
	return fmt.Sprintf("MARKET SENTIMENT:\nFear & Greed index: %d (%s)", data.Value, data.Classification)
}

func (b *ContextBuilder) pairBlock(ctx context.Context, pair string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== %s ===\n", pair)

	candles, err := b.Cache.Klines(ctx, pair, b.Interval, contextCandleCount)
	if err != nil || len(candles) == 0 {
		logger.Warnf("market data for %s unavailable: %v", pair, err)
		sb.WriteString("Market data temporarily unavailable.\n")
		sb.WriteString(b.State.ContextSummary(pair))
		return strings.TrimRight(sb.String(), "\n")
	}
	latest := candles[len(candles)-1]
	fmt.Fprintf(&sb, "Current price: $%s (candle close %s)\n",
		trimFloat(latest.Close), time.UnixMilli(latest.CloseTime).UTC().Format(time.RFC3339))

	if ind, err := market.ComputeIndicators(candles); err == nil {
		sb.WriteString("INDICATORS:\n")
		sb.WriteString(ind.Render())
		sb.WriteString("\n")
	} else {
		logger.Debugf("indicators for %s: %v", pair, err)
	}

	sb.WriteString("RECENT CANDLES:\n")
	sb.WriteString(market.BuildCandleCSV(market.TailCandles(candles, 30), market.CandleCSVOptions{
		PricePrecision: market.PrecisionAuto,
		Interval:       b.Interval,
	}))
	sb.WriteString("\n")
	sb.WriteString(b.State.ContextSummary(pair))
	return strings.TrimRight(sb.String(), "\n")
}

func trimFloat(v float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.4f", v), "0"), ".")
}
