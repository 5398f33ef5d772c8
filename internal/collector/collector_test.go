package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"botmarley/internal/market"
	"botmarley/internal/store/klinefile"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveMinutes = int64(5 * 60 * 1000)

// pagedSource serves a fixed candle series in pages, honoring startTime and
// limit the way the exchange does.
type pagedSource struct {
	candles []market.Candle
	calls   []int64
	err     error
}

func (s *pagedSource) Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	s.calls = append(s.calls, startTime)
	if s.err != nil {
		return nil, s.err
	}
	var out []market.Candle
	for _, c := range s.candles {
		if startTime > 0 && c.OpenTime < startTime {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *pagedSource) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}

func series(start int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := start + int64(i)*fiveMinutes
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + fiveMinutes - 1,
			Open:      100, High: 101, Low: 99, Close: 100.5, Volume: 1,
		}
	}
	return out
}

func newTestCollector(t *testing.T, src market.Source, cfg Config) (*Collector, *klinefile.Store) {
	t.Helper()
	store := klinefile.New(t.TempDir(), "5m")
	cfg.Interval = "5m"
	cfg.SymbolDelay = time.Millisecond
	c := New(src, store, cfg)
	return c, store
}

func TestCollectFromEmptyWithBackfill(t *testing.T) {
	base := int64(1_700_000_000_000)
	src := &pagedSource{candles: series(base, 25)}
	c, store := newTestCollector(t, src, Config{
		BackfillStart: time.UnixMilli(base).UTC(),
		PageLimit:     10,
	})
	c.nowFn = func() time.Time { return time.UnixMilli(base + 1000*fiveMinutes) }

	added, err := c.CollectSymbol(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 25, added)
	// pages of 10,10,5 — short page stops pagination
	assert.Len(t, src.calls, 3)
	assert.Equal(t, base, src.calls[0])

	persisted, err := store.Load("BTCUSDC")
	require.NoError(t, err)
	assert.Len(t, persisted, 25)
}

func TestCollectResumesAfterLastClose(t *testing.T) {
	base := int64(1_700_000_000_000)
	all := series(base, 30)
	src := &pagedSource{candles: all}
	c, store := newTestCollector(t, src, Config{PageLimit: 100})
	c.nowFn = func() time.Time { return time.UnixMilli(base + 1000*fiveMinutes) }

	require.NoError(t, store.Save("BTCUSDC", all[:20]))
	added, err := c.CollectSymbol(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 10, added)
	assert.Equal(t, all[19].CloseTime+1, src.calls[0], "cursor starts just past the last persisted close")
}

func TestCollectUpToDateIsNoop(t *testing.T) {
	base := int64(1_700_000_000_000)
	all := series(base, 10)
	src := &pagedSource{candles: all}
	c, store := newTestCollector(t, src, Config{PageLimit: 100})
	c.nowFn = func() time.Time { return time.UnixMilli(base + 1000*fiveMinutes) }

	require.NoError(t, store.Save("BTCUSDC", all))
	added, err := c.CollectSymbol(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestCollectDropsFormingCandle(t *testing.T) {
	base := int64(1_700_000_000_000)
	all := series(base, 10)
	src := &pagedSource{candles: all}
	c, store := newTestCollector(t, src, Config{PageLimit: 100})
	// clock sits inside the last candle
	c.nowFn = func() time.Time { return time.UnixMilli(all[9].OpenTime + 1000) }

	added, err := c.CollectSymbol(context.Background(), "BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, 9, added)

	persisted, err := store.Load("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, all[8].CloseTime, market.LastCloseTime(persisted))
}

func TestCollectAllIsolatesFailures(t *testing.T) {
	base := int64(1_700_000_000_000)
	good := &pagedSource{candles: series(base, 5)}
	c, store := newTestCollector(t, &flakySource{inner: good, failFor: "BADUSDC"}, Config{PageLimit: 100})
	c.nowFn = func() time.Time { return time.UnixMilli(base + 1000*fiveMinutes) }

	c.CollectAll(context.Background(), []string{"BADUSDC", "BTCUSDC"})

	persisted, err := store.Load("BTCUSDC")
	require.NoError(t, err)
	assert.Len(t, persisted, 5, "healthy symbol still collected after a failing one")
}

type flakySource struct {
	inner   market.Source
	failFor string
}

func (f *flakySource) Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	if symbol == f.failFor {
		return nil, errors.New("upstream 5xx")
	}
	return f.inner.Klines(ctx, symbol, interval, startTime, endTime, limit)
}

func (f *flakySource) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return 0, nil
}
