package market

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkCandle(openTime int64, closePrice float64) Candle {
	return Candle{
		OpenTime:  openTime,
		CloseTime: openTime + 299_999,
		Open:      closePrice - 1,
		High:      closePrice + 2,
		Low:       closePrice - 2,
		Close:     closePrice,
		Volume:    10,
	}
}

func TestMergeCandlesKeepsFirstOnDuplicate(t *testing.T) {
	existing := []Candle{mkCandle(1000, 50), mkCandle(2000, 51)}
	fetched := []Candle{mkCandle(2000, 999), mkCandle(3000, 52)}

	merged := MergeCandles(existing, fetched)
	require.Len(t, merged, 3)
	assert.Equal(t, 51.0, merged[1].Close, "persisted candle wins over refetched duplicate")
	assert.Equal(t, int64(3000), merged[2].OpenTime)
}

func TestMergeCandlesSortsByOpenTime(t *testing.T) {
	existing := []Candle{mkCandle(3000, 52)}
	fetched := []Candle{mkCandle(1000, 50), mkCandle(2000, 51)}

	merged := MergeCandles(existing, fetched)
	require.Len(t, merged, 3)
	for i := 1; i < len(merged); i++ {
		assert.Greater(t, merged[i].OpenTime, merged[i-1].OpenTime)
	}
}

func TestMergeCandlesEmptyFetch(t *testing.T) {
	existing := []Candle{mkCandle(2000, 51), mkCandle(1000, 50)}
	merged := MergeCandles(existing, nil)
	require.Len(t, merged, 2)
	assert.Equal(t, int64(1000), merged[0].OpenTime)
}

func TestLastCloseTime(t *testing.T) {
	assert.Equal(t, int64(0), LastCloseTime(nil))
	candles := []Candle{mkCandle(1000, 50), mkCandle(2000, 51)}
	assert.Equal(t, int64(2000+299_999), LastCloseTime(candles))
}

func TestLastClosedCloseTime(t *testing.T) {
	candles := []Candle{mkCandle(1000, 50), mkCandle(2000, 51)}
	lastClose := candles[1].CloseTime

	assert.Equal(t, lastClose, LastClosedCloseTime(candles, lastClose))
	assert.Equal(t, candles[0].CloseTime, LastClosedCloseTime(candles, lastClose-1), "forming candle is skipped")
	assert.Equal(t, int64(0), LastClosedCloseTime(candles, 0))
	assert.Equal(t, int64(0), LastClosedCloseTime(nil, lastClose))
}

func TestTailCandles(t *testing.T) {
	candles := []Candle{mkCandle(1000, 50), mkCandle(2000, 51), mkCandle(3000, 52)}
	assert.Len(t, TailCandles(candles, 2), 2)
	assert.Equal(t, int64(2000), TailCandles(candles, 2)[0].OpenTime)
	assert.Len(t, TailCandles(candles, 10), 3)
}
