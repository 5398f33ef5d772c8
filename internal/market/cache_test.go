package market

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	calls   atomic.Int64
	candles []Candle
	err     error
}

func (s *countingSource) Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]Candle, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.candles, nil
}

func (s *countingSource) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func TestCacheServesFromCacheWithinTTL(t *testing.T) {
	src := &countingSource{candles: []Candle{mkCandle(1000, 50)}}
	cache := NewCache(src, time.Minute)

	for i := 0; i < 5; i++ {
		candles, err := cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
		require.NoError(t, err)
		require.Len(t, candles, 1)
	}
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	src := &countingSource{candles: []Candle{mkCandle(1000, 50)}}
	cache := NewCache(src, time.Minute)
	now := time.Now()
	cache.nowFn = func() time.Time { return now }

	_, err := cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestCacheKeyIncludesLimitAndInterval(t *testing.T) {
	src := &countingSource{candles: []Candle{mkCandle(1000, 50)}}
	cache := NewCache(src, time.Minute)

	_, _ = cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
	_, _ = cache.Klines(context.Background(), "BTCUSDC", "5m", 200)
	_, _ = cache.Klines(context.Background(), "BTCUSDC", "1h", 100)
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestCacheLatestPrice(t *testing.T) {
	src := &countingSource{candles: []Candle{mkCandle(1000, 50), mkCandle(2000, 51.5)}}
	cache := NewCache(src, time.Minute)

	price, err := cache.LatestPrice(context.Background(), "BTCUSDC", "5m")
	require.NoError(t, err)
	assert.Equal(t, 51.5, price)
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingSource{candles: []Candle{mkCandle(1000, 50)}}
	cache := NewCache(src, time.Hour)

	_, _ = cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
	cache.Invalidate("BTCUSDC", "")
	_, _ = cache.Klines(context.Background(), "BTCUSDC", "5m", 100)
	assert.Equal(t, int64(2), src.calls.Load())
}
