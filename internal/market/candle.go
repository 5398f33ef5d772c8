package market

import "sort"

// Candle 单根 K 线。CloseTime 是权威时间戳：排序、增量游标与
// 决策幂等键都以收盘时间为准。
type Candle struct {
	OpenTime           int64   `json:"open_time"`
	CloseTime          int64   `json:"close_time"`
	Open               float64 `json:"open"`
	High               float64 `json:"high"`
	Low                float64 `json:"low"`
	Close              float64 `json:"close"`
	Volume             float64 `json:"volume"`
	QuoteAssetVolume   float64 `json:"quote_asset_volume"`
	Trades             int64   `json:"trades"`
	TakerBuyBaseVolume float64 `json:"taker_buy_base_volume"`
	TakerBuyQuoteVolume float64 `json:"taker_buy_quote_volume"`
}

// MergeCandles combines existing and fetched candles into one sequence with
// strictly increasing open times. Duplicate open times keep the first
// occurrence, so candles already persisted win over refetched ones.
func MergeCandles(existing, fetched []Candle) []Candle {
	if len(fetched) == 0 {
		return sortCandles(existing)
	}
	seen := make(map[int64]struct{}, len(existing)+len(fetched))
	out := make([]Candle, 0, len(existing)+len(fetched))
	for _, c := range existing {
		if _, dup := seen[c.OpenTime]; dup {
			continue
		}
		seen[c.OpenTime] = struct{}{}
		out = append(out, c)
	}
	for _, c := range fetched {
		if _, dup := seen[c.OpenTime]; dup {
			continue
		}
		seen[c.OpenTime] = struct{}{}
		out = append(out, c)
	}
	return sortCandles(out)
}

func sortCandles(candles []Candle) []Candle {
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].OpenTime < candles[j].OpenTime
	})
	return candles
}

// LastCloseTime returns the close time of the newest candle, or 0 when the
// dataset is empty.
func LastCloseTime(candles []Candle) int64 {
	if len(candles) == 0 {
		return 0
	}
	return candles[len(candles)-1].CloseTime
}

// LastClosedCloseTime returns the close time of the newest candle that has
// already closed at nowMillis. Open-ended kline queries include the forming
// candle, which must not become an idempotency key.
func LastClosedCloseTime(candles []Candle, nowMillis int64) int64 {
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].CloseTime <= nowMillis {
			return candles[i].CloseTime
		}
	}
	return 0
}

// TailCandles returns the last n candles without copying.
func TailCandles(candles []Candle, n int) []Candle {
	if n <= 0 || len(candles) <= n {
		return candles
	}
	return candles[len(candles)-n:]
}
