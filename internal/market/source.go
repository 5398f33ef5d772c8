package market

import "context"

// Source 市场数据来源（现货行情）。
type Source interface {
	// Klines fetches candles for one symbol. startTime/endTime are
	// millisecond bounds; zero means unbounded on that side.
	Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]Candle, error)
	// TickerPrice returns the latest traded price.
	TickerPrice(ctx context.Context, symbol string) (float64, error)
}
