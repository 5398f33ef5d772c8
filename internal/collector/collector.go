package collector

import (
	"context"
	"fmt"
	"time"

	"botmarley/internal/logger"
	"botmarley/internal/market"
	"botmarley/internal/store/klinefile"

	"golang.org/x/time/rate"
)

const (
	defaultPageLimit   = 1000
	defaultSymbolDelay = 200 * time.Millisecond
	// 每秒最多 10 页请求，避免触发交易所限频
	defaultPageRate = rate.Limit(10)
)

type Config struct {
	Interval string
	// 数据集为空时的回补起点；零值表示只拉最近一页
	BackfillStart time.Time
	PageLimit     int
	SymbolDelay   time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.PageLimit <= 0 || out.PageLimit > defaultPageLimit {
		out.PageLimit = defaultPageLimit
	}
	if out.SymbolDelay <= 0 {
		out.SymbolDelay = defaultSymbolDelay
	}
	return out
}

// Collector 增量采集：从上次持久化的收盘时间继续翻页拉取，合并去重后
// 原子重写数据集。
type Collector struct {
	source  market.Source
	store   *klinefile.Store
	cfg     Config
	limiter *rate.Limiter
	nowFn   func() time.Time
}

func New(source market.Source, store *klinefile.Store, cfg Config) *Collector {
	final := cfg.withDefaults()
	return &Collector{
		source:  source,
		store:   store,
		cfg:     final,
		limiter: rate.NewLimiter(defaultPageRate, 1),
		nowFn:   time.Now,
	}
}

// CollectSymbol brings one symbol's dataset up to date and returns the number
// of candles appended.
func (c *Collector) CollectSymbol(ctx context.Context, symbol string) (int, error) {
	existing, err := c.store.Load(symbol)
	if err != nil {
		return 0, fmt.Errorf("load dataset: %w", err)
	}

	var cursor int64
	if last := market.LastCloseTime(existing); last > 0 {
		cursor = last + 1
	} else if !c.cfg.BackfillStart.IsZero() {
		cursor = c.cfg.BackfillStart.UTC().UnixMilli()
	}

	fetched, err := c.fetchFrom(ctx, symbol, cursor)
	if err != nil {
		return 0, err
	}
	fetched = dropUnclosed(fetched, c.nowFn().UTC().UnixMilli())
	if len(fetched) == 0 {
		return 0, nil
	}

	merged := market.MergeCandles(existing, fetched)
	added := len(merged) - len(existing)
	if added <= 0 {
		return 0, nil
	}
	if err := c.store.Save(symbol, merged); err != nil {
		return 0, fmt.Errorf("save dataset: %w", err)
	}
	return added, nil
}

func (c *Collector) fetchFrom(ctx context.Context, symbol string, cursor int64) ([]market.Candle, error) {
	var out []market.Candle
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.source.Klines(ctx, symbol, c.cfg.Interval, cursor, 0, c.cfg.PageLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch page: %w", err)
		}
		out = append(out, page...)
		if len(page) < c.cfg.PageLimit {
			return out, nil
		}
		next := page[len(page)-1].CloseTime + 1
		if next <= cursor {
			// 游标没有前进，终止翻页避免死循环
			return out, nil
		}
		cursor = next
	}
}

// CollectAll updates every symbol sequentially. One symbol's failure is
// logged and skipped so the others still advance.
func (c *Collector) CollectAll(ctx context.Context, symbols []string) {
	for i, symbol := range symbols {
		if ctx.Err() != nil {
			return
		}
		added, err := c.CollectSymbol(ctx, symbol)
		if err != nil {
			logger.Errorf("collect %s failed, skipped: %v", symbol, err)
		} else if added > 0 {
			logger.Infof("collect %s: +%d candles", symbol, added)
		} else {
			logger.Debugf("collect %s: up to date", symbol)
		}
		if i < len(symbols)-1 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.SymbolDelay):
			}
		}
	}
}

// dropUnclosed removes candles whose close time is still in the future; the
// exchange returns the forming candle on open-ended queries.
func dropUnclosed(candles []market.Candle, nowMillis int64) []market.Candle {
	out := candles[:0]
	for _, c := range candles {
		if c.CloseTime <= nowMillis {
			out = append(out, c)
		}
	}
	return out
}
