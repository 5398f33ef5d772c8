package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"botmarley/internal/logger"
)

const (
	TypeBuy  = "BUY"
	TypeSell = "SELL"

	// 低于该数量的仓位视为清空
	positionEpsilon = 1e-8
)

// Transaction 成交流水的一行，追加写入 JSONL 日志。
// 日志是唯一事实来源，内存仓位永远可以由它重放得到。
type Transaction struct {
	Date          string  `json:"date"`
	Time          string  `json:"time"`
	Asset         string  `json:"asset"`
	Pair          string  `json:"pair"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	PricePerUnit  float64 `json:"price_per_unit"`
	AmountUSD     float64 `json:"amount_usd"`
	ProfitUSD     float64 `json:"profit_usd,omitempty"`
	ProfitPercent float64 `json:"profit_percent,omitempty"`
	// 本笔之后的持仓数量与市值
	TotalAsset         float64 `json:"total_asset"`
	TotalAssetWorthUSD float64 `json:"total_asset_worth_usd"`
}

// Position 某一资产的加权平均成本仓位。
type Position struct {
	TotalAmount      float64 `json:"total_amount"`
	AverageBuyPrice  float64 `json:"average_buy_price"`
	TotalInvestedUSD float64 `json:"total_invested_usd"`
}

// Ledger 持仓账本。所有修改都走 "读仓位 → 计算 → 追加日志 → 更新内存"
// 的串行路径。
type Ledger struct {
	mu        sync.Mutex
	path      string
	positions map[string]Position
	nowFn     func() time.Time
}

// Open replays the transaction log at path and returns the rebuilt ledger.
// A missing log starts empty.
func Open(path string) (*Ledger, error) {
	l := &Ledger{
		path:      path,
		positions: make(map[string]Position),
		nowFn:     time.Now,
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var tx Transaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			logger.Warnf("transaction log line %d unreadable, skipped: %v", line, err)
			continue
		}
		l.replay(tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transaction log: %w", err)
	}
	return l, nil
}

func (l *Ledger) replay(tx Transaction) {
	switch tx.Type {
	case TypeBuy:
		l.applyBuy(tx.Asset, tx.Amount, tx.PricePerUnit)
	case TypeSell:
		l.applySell(tx.Asset, tx.Amount, tx.PricePerUnit)
	default:
		logger.Warnf("transaction log has unknown type %q for %s, skipped", tx.Type, tx.Asset)
	}
}

// Position returns the current position for an asset.
func (l *Ledger) Position(asset string) (Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.positions[normalizeAsset(asset)]
	return p, ok
}

// Positions returns a copy of all open positions.
func (l *Ledger) Positions() map[string]Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Position, len(l.positions))
	for k, v := range l.positions {
		out[k] = v
	}
	return out
}

// RecordBuy 记录一笔买入：先算新均价，再追加日志，最后落内存。
func (l *Ledger) RecordBuy(asset, pair string, amount, price float64) (Transaction, error) {
	if amount <= 0 || price <= 0 {
		return Transaction{}, fmt.Errorf("buy requires positive amount and price, got amount=%v price=%v", amount, price)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeAsset(asset)
	next := l.previewBuy(key, amount, price)
	tx := l.newTransaction(key, pair, TypeBuy, amount, price)
	tx.TotalAsset = next.TotalAmount
	tx.TotalAssetWorthUSD = next.TotalAmount * price
	if err := l.appendLocked(tx); err != nil {
		return Transaction{}, err
	}
	l.applyBuy(key, amount, price)
	return tx, nil
}

// RecordSell 记录一笔卖出并返回已实现盈亏。无持仓时按保本处理。
func (l *Ledger) RecordSell(asset, pair string, amount, price float64) (Transaction, error) {
	if amount <= 0 || price <= 0 {
		return Transaction{}, fmt.Errorf("sell requires positive amount and price, got amount=%v price=%v", amount, price)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := normalizeAsset(asset)
	pos := l.positions[key]
	avg := pos.AverageBuyPrice
	if pos.TotalAmount <= 0 {
		// Sells without a recorded position happen when trading started
		// outside this process; treat as break-even.
		avg = price
	}
	profit := (price - avg) * amount

	tx := l.newTransaction(key, pair, TypeSell, amount, price)
	tx.ProfitUSD = profit
	if cost := avg * amount; cost > 0 {
		tx.ProfitPercent = profit / cost * 100
	}
	remaining := pos.TotalAmount - amount
	if remaining < positionEpsilon {
		remaining = 0
	}
	tx.TotalAsset = remaining
	tx.TotalAssetWorthUSD = remaining * price
	if err := l.appendLocked(tx); err != nil {
		return Transaction{}, err
	}
	l.applySell(key, amount, price)
	return tx, nil
}

func (l *Ledger) previewBuy(key string, amount, price float64) Position {
	pos := l.positions[key]
	return Position{
		TotalAmount:      pos.TotalAmount + amount,
		TotalInvestedUSD: pos.TotalInvestedUSD + amount*price,
	}
}

func (l *Ledger) applyBuy(key string, amount, price float64) {
	pos := l.positions[key]
	newAmount := pos.TotalAmount + amount
	newInvested := pos.TotalInvestedUSD + amount*price
	l.positions[key] = Position{
		TotalAmount:      newAmount,
		AverageBuyPrice:  newInvested / newAmount,
		TotalInvestedUSD: newInvested,
	}
}

func (l *Ledger) applySell(key string, amount, price float64) {
	pos, ok := l.positions[key]
	if !ok || pos.TotalAmount <= 0 {
		return
	}
	sold := amount
	if sold > pos.TotalAmount {
		sold = pos.TotalAmount
	}
	fraction := sold / pos.TotalAmount
	pos.TotalAmount -= sold
	pos.TotalInvestedUSD -= pos.TotalInvestedUSD * fraction
	if pos.TotalAmount < positionEpsilon {
		delete(l.positions, key)
		return
	}
	pos.AverageBuyPrice = pos.TotalInvestedUSD / pos.TotalAmount
	l.positions[key] = pos
}

func (l *Ledger) newTransaction(asset, pair, typ string, amount, price float64) Transaction {
	now := l.nowFn().UTC()
	return Transaction{
		Date:         now.Format("2006-01-02"),
		Time:         now.Format("15:04:05"),
		Asset:        asset,
		Pair:         strings.ToUpper(strings.TrimSpace(pair)),
		Type:         typ,
		Amount:       amount,
		PricePerUnit: price,
		AmountUSD:    amount * price,
	}
}

func (l *Ledger) appendLocked(tx Transaction) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transaction log: %w", err)
	}
	defer f.Close()
	raw, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	if _, err := f.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

// RecentTransactions returns up to n newest transactions from the log,
// oldest first.
func (l *Ledger) RecentTransactions(n int) ([]Transaction, error) {
	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transaction log: %w", err)
	}
	defer f.Close()

	var all []Transaction
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var tx Transaction
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			continue
		}
		all = append(all, tx)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transaction log: %w", err)
	}
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all, nil
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
