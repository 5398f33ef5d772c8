package portfolio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"botmarley/internal/ledger"
	"botmarley/internal/logger"
)

// AssetValue 快照中单一资产的估值行。
type AssetValue struct {
	Asset      string  `json:"asset"`
	Amount     float64 `json:"amount"`
	PriceUSD   float64 `json:"price_usd"`
	ValueUSD   float64 `json:"value_usd"`
	Percentage float64 `json:"percentage"`
}

// Snapshot 一次运行后的组合估值，追加写入 JSONL。
type Snapshot struct {
	Timestamp     time.Time    `json:"timestamp"`
	RunNumber     int          `json:"run_number"`
	BTCPriceUSD   float64      `json:"btc_price_usd,omitempty"`
	TotalValueUSD float64      `json:"total_value_usd"`
	TotalValueBTC float64      `json:"total_value_btc,omitempty"`
	Assets        []AssetValue `json:"assets"`
}

// PriceSource 估值用的价格来源。
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol, interval string) (float64, error)
}

// Tracker 在每轮决策后对账本持仓做市值快照。
type Tracker struct {
	mu       sync.Mutex
	path     string
	ledger   *ledger.Ledger
	prices   PriceSource
	quote    string
	interval string
	nowFn    func() time.Time
}

func NewTracker(path string, l *ledger.Ledger, prices PriceSource, quoteAsset, interval string) *Tracker {
	return &Tracker{
		path:     path,
		ledger:   l,
		prices:   prices,
		quote:    strings.ToUpper(strings.TrimSpace(quoteAsset)),
		interval: interval,
		nowFn:    time.Now,
	}
}

// Capture values every open position at live prices and appends the snapshot.
// Assets whose price lookup fails are valued at their cost basis and logged.
func (t *Tracker) Capture(ctx context.Context, runNumber int) (Snapshot, error) {
	positions := t.ledger.Positions()

	assets := make([]AssetValue, 0, len(positions))
	total := 0.0
	names := make([]string, 0, len(positions))
	for asset := range positions {
		names = append(names, asset)
	}
	sort.Strings(names)
	for _, asset := range names {
		pos := positions[asset]
		price, err := t.prices.LatestPrice(ctx, asset+t.quote, t.interval)
		if err != nil || price <= 0 {
			logger.Warnf("portfolio: no live price for %s, using cost basis: %v", asset, err)
			price = pos.AverageBuyPrice
		}
		value := pos.TotalAmount * price
		assets = append(assets, AssetValue{
			Asset:    asset,
			Amount:   pos.TotalAmount,
			PriceUSD: price,
			ValueUSD: value,
		})
		total += value
	}
	for i := range assets {
		if total > 0 {
			assets[i].Percentage = assets[i].ValueUSD / total * 100
		}
	}

	snap := Snapshot{
		Timestamp:     t.nowFn().UTC(),
		RunNumber:     runNumber,
		TotalValueUSD: total,
		Assets:        assets,
	}
	if btcPrice, err := t.prices.LatestPrice(ctx, "BTC"+t.quote, t.interval); err == nil && btcPrice > 0 {
		snap.BTCPriceUSD = btcPrice
		snap.TotalValueBTC = total / btcPrice
	}

	if err := t.append(snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (t *Tracker) append(snap Snapshot) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open portfolio log: %w", err)
	}
	defer f.Close()
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append snapshot: %w", err)
	}
	return nil
}

// LoadSnapshots reads all persisted snapshots, oldest first. Unreadable
// lines are skipped.
func LoadSnapshots(path string) ([]Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open portfolio log: %w", err)
	}
	defer f.Close()

	var out []Snapshot
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(raw), &snap); err != nil {
			continue
		}
		out = append(out, snap)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read portfolio log: %w", err)
	}
	return out, nil
}

// RenderSummary formats the snapshot as the portfolio block used in prompts.
func (s Snapshot) RenderSummary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PORTFOLIO (run #%d, %s)\n", s.RunNumber, s.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Total value: $%.2f", s.TotalValueUSD)
	if s.TotalValueBTC > 0 {
		fmt.Fprintf(&b, " (%.6f BTC)", s.TotalValueBTC)
	}
	b.WriteString("\n")
	if len(s.Assets) == 0 {
		b.WriteString("No open positions.")
		return b.String()
	}
	for _, a := range s.Assets {
		fmt.Fprintf(&b, "- %s: %g @ $%.2f = $%.2f (%.1f%%)\n", a.Asset, a.Amount, a.PriceUSD, a.ValueUSD, a.Percentage)
	}
	return strings.TrimRight(b.String(), "\n")
}
