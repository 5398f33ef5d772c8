package market

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = 60 * time.Second

// Cache 在 Source 之上提供按 (symbol, interval, limit) 维度的 TTL 缓存，
// 避免同一轮决策内对行情接口的重复请求。
type Cache struct {
	source Source
	ttl    time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group

	nowFn func() time.Time
}

type cacheEntry struct {
	candles   []Candle
	fetchedAt time.Time
}

func NewCache(source Source, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{
		source:  source,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		nowFn:   time.Now,
	}
}

// Klines returns cached candles when fresh, otherwise fetches through the
// underlying source. Concurrent misses for the same key share one upstream
// call.
func (c *Cache) Klines(ctx context.Context, symbol, interval string, limit int) ([]Candle, error) {
	key := cacheKey(symbol, interval, limit)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.nowFn().Sub(entry.fetchedAt) < c.ttl {
		return entry.candles, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.nowFn().Sub(entry.fetchedAt) < c.ttl {
			return entry.candles, nil
		}
		candles, err := c.source.Klines(ctx, symbol, interval, 0, 0, limit)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{candles: candles, fetchedAt: c.nowFn()}
		c.mu.Unlock()
		return candles, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Candle), nil
}

// LatestPrice 取最近一根 K 线的收盘价作为当前价格。
func (c *Cache) LatestPrice(ctx context.Context, symbol, interval string) (float64, error) {
	candles, err := c.Klines(ctx, symbol, interval, 2)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, fmt.Errorf("no candles for %s", symbol)
	}
	return candles[len(candles)-1].Close, nil
}

// Invalidate drops one cached key; empty interval drops every entry for the
// symbol.
func (c *Cache) Invalidate(symbol, interval string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if interval == "" {
		prefix := strings.ToUpper(strings.TrimSpace(symbol)) + ":"
		for k := range c.entries {
			if strings.HasPrefix(k, prefix) {
				delete(c.entries, k)
			}
		}
		return
	}
	for limitKey := range c.entries {
		if strings.HasPrefix(limitKey, cacheKeyPrefix(symbol, interval)) {
			delete(c.entries, limitKey)
		}
	}
}

func cacheKey(symbol, interval string, limit int) string {
	return cacheKeyPrefix(symbol, interval) + strconv.Itoa(limit)
}

func cacheKeyPrefix(symbol, interval string) string {
	return strings.ToUpper(strings.TrimSpace(symbol)) + ":" + strings.ToLower(strings.TrimSpace(interval)) + ":"
}
