package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"botmarley/internal/logger"
	"botmarley/internal/pkg/text"
)

// Action 决策动作的封闭枚举。
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// 每个交易对保留的决策窗口；计数器是终身累计，不随窗口淘汰回退。
const maxRetainedDecisions = 30

// Decision 一次已确认的交易决策。PriceTimestamp 是触发这次决策的
// K 线收盘时间，同一 (symbol, price_timestamp) 至多存在一条。
type Decision struct {
	Symbol          string    `json:"symbol"`
	Action          Action    `json:"action"`
	Amount          float64   `json:"amount,omitempty"`
	Confidence      int       `json:"confidence"`
	Explanation     string    `json:"explanation"`
	Timestamp       time.Time `json:"timestamp"`
	PriceAtDecision float64   `json:"price_at_decision,omitempty"`
	PriceTimestamp  int64     `json:"price_timestamp,omitempty"`
}

// SymbolHistory 单交易对的决策历史与终身计数。
type SymbolHistory struct {
	Decisions      []Decision `json:"decisions"`
	LastDecision   *Decision  `json:"last_decision,omitempty"`
	TotalDecisions int        `json:"total_decisions"`
	BuyCount       int        `json:"buy_count"`
	SellCount      int        `json:"sell_count"`
	HoldCount      int        `json:"hold_count"`
}

// TradingState 全局决策状态文档，整体序列化到单个 JSON 文件。
type TradingState struct {
	Symbols     map[string]*SymbolHistory `json:"symbols"`
	TotalRuns   int                       `json:"total_runs"`
	LastUpdated time.Time                 `json:"last_updated"`
	// 写前标记：已提交执行但尚未落决策的 (symbol → price_timestamp)，
	// 崩溃恢复时据此拒绝对同一根 K 线重复执行。
	Pending map[string]int64 `json:"pending,omitempty"`
}

// Store 串行化 TradingState 的读写。每次修改都立即持久化。
type Store struct {
	mu    sync.Mutex
	path  string
	state TradingState
	nowFn func() time.Time
}

// Load reads the state document at path. A missing or malformed file starts
// a fresh state; malformed content is logged, never fatal.
func Load(path string) (*Store, error) {
	s := &Store{
		path: path,
		state: TradingState{
			Symbols: make(map[string]*SymbolHistory),
			Pending: make(map[string]int64),
		},
		nowFn: time.Now,
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read trading state: %w", err)
	}
	var loaded TradingState
	if err := json.Unmarshal(raw, &loaded); err != nil {
		logger.Warnf("trading state %s unreadable, starting fresh: %v", path, err)
		return s, nil
	}
	if loaded.Symbols == nil {
		loaded.Symbols = make(map[string]*SymbolHistory)
	}
	if loaded.Pending == nil {
		loaded.Pending = make(map[string]int64)
	}
	s.state = loaded
	return s, nil
}

// HasDecisionForTimestamp reports whether a decision (or a pending execution
// marker) already exists for the symbol at the candle close time.
func (s *Store) HasDecisionForTimestamp(symbol string, priceTimestamp int64) bool {
	if priceTimestamp == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalizeSymbol(symbol)
	if ts, ok := s.state.Pending[key]; ok && ts == priceTimestamp {
		return true
	}
	hist, ok := s.state.Symbols[key]
	if !ok {
		return false
	}
	for _, d := range hist.Decisions {
		if d.PriceTimestamp == priceTimestamp {
			return true
		}
	}
	return false
}

// MarkPending persists an execution intent before the order is submitted.
func (s *Store) MarkPending(symbol string, priceTimestamp int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Pending[normalizeSymbol(symbol)] = priceTimestamp
	s.state.LastUpdated = s.nowFn().UTC()
	return s.persistLocked()
}

// ClearPending removes the intent marker without recording a decision, for
// executions that failed validation or upstream submission.
func (s *Store) ClearPending(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.Pending, normalizeSymbol(symbol))
	s.state.LastUpdated = s.nowFn().UTC()
	return s.persistLocked()
}

// AddDecision appends a confirmed decision, bumps lifetime counters, trims
// the retained window and persists. It also clears any pending marker for
// the symbol.
func (s *Store) AddDecision(d Decision) error {
	if !d.Action.Valid() {
		return fmt.Errorf("invalid action %q", d.Action)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeSymbol(d.Symbol)
	d.Symbol = key
	if d.Timestamp.IsZero() {
		d.Timestamp = s.nowFn().UTC()
	}
	hist, ok := s.state.Symbols[key]
	if !ok {
		hist = &SymbolHistory{}
		s.state.Symbols[key] = hist
	}
	hist.Decisions = append(hist.Decisions, d)
	if len(hist.Decisions) > maxRetainedDecisions {
		hist.Decisions = hist.Decisions[len(hist.Decisions)-maxRetainedDecisions:]
	}
	hist.LastDecision = &hist.Decisions[len(hist.Decisions)-1]
	hist.TotalDecisions++
	switch d.Action {
	case ActionBuy:
		hist.BuyCount++
	case ActionSell:
		hist.SellCount++
	case ActionHold:
		hist.HoldCount++
	}
	delete(s.state.Pending, key)
	s.state.LastUpdated = s.nowFn().UTC()
	return s.persistLocked()
}

// IncrementRun bumps the global run counter and persists.
func (s *Store) IncrementRun() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.TotalRuns++
	s.state.LastUpdated = s.nowFn().UTC()
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return s.state.TotalRuns, nil
}

// TotalRuns returns the persisted run counter.
func (s *Store) TotalRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.TotalRuns
}

// History returns a copy of the symbol's history.
func (s *Store) History(symbol string) (SymbolHistory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	hist, ok := s.state.Symbols[normalizeSymbol(symbol)]
	if !ok {
		return SymbolHistory{}, false
	}
	out := *hist
	out.Decisions = append([]Decision(nil), hist.Decisions...)
	if len(out.Decisions) > 0 {
		out.LastDecision = &out.Decisions[len(out.Decisions)-1]
	}
	return out, true
}

// ContextSummary renders the stable per-symbol history block embedded in
// model prompts.
func (s *Store) ContextSummary(symbol string) string {
	key := normalizeSymbol(symbol)
	hist, ok := s.History(key)
	if !ok || hist.TotalDecisions == 0 {
		return fmt.Sprintf("TRADING HISTORY FOR %s:\nNo previous decisions recorded.", key)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "TRADING HISTORY FOR %s:\n", key)
	fmt.Fprintf(&b, "Total decisions: %d (buys: %d, sells: %d, holds: %d)\n",
		hist.TotalDecisions, hist.BuyCount, hist.SellCount, hist.HoldCount)
	if last := hist.LastDecision; last != nil {
		fmt.Fprintf(&b, "Last decision: %s", strings.ToUpper(string(last.Action)))
		if last.Amount > 0 {
			fmt.Fprintf(&b, " %g", last.Amount)
		}
		if last.PriceAtDecision > 0 {
			fmt.Fprintf(&b, " @ $%.2f", last.PriceAtDecision)
		}
		fmt.Fprintf(&b, " (confidence %d%%) at %s\n", last.Confidence, last.Timestamp.UTC().Format(time.RFC3339))
		if reason := strings.TrimSpace(last.Explanation); reason != "" {
			fmt.Fprintf(&b, "  Reason: %s\n", text.Truncate(reason, 280))
		}
	}
	recent := hist.Decisions
	if len(recent) > 3 {
		recent = recent[len(recent)-3:]
	}
	b.WriteString("Recent decisions:\n")
	for i := len(recent) - 1; i >= 0; i-- {
		d := recent[i]
		fmt.Fprintf(&b, "- [%s] %s", d.Timestamp.UTC().Format("2006-01-02 15:04"), strings.ToUpper(string(d.Action)))
		if d.Amount > 0 {
			fmt.Fprintf(&b, " %g", d.Amount)
		}
		if d.PriceAtDecision > 0 {
			fmt.Fprintf(&b, " @ $%.2f", d.PriceAtDecision)
		}
		fmt.Fprintf(&b, " (%d%%)\n", d.Confidence)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	raw, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trading state: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write trading state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync trading state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace trading state: %w", err)
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
