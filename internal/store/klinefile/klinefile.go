package klinefile

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"botmarley/internal/market"
)

var csvHeader = []string{
	"open_time", "close_time", "open", "high", "low", "close",
	"volume", "quote_asset_volume", "trades",
	"taker_buy_base_volume", "taker_buy_quote_volume",
}

// Store 把每个交易对的 K 线序列落盘为 data/<SYMBOL>_<interval>.csv。
// 写入走临时文件 + rename，读取方永远看到完整数据集。
type Store struct {
	dir      string
	interval string
}

func New(dir, interval string) *Store {
	return &Store{dir: dir, interval: strings.ToLower(strings.TrimSpace(interval))}
}

// Path returns the dataset file for one symbol.
func (s *Store) Path(symbol string) string {
	name := fmt.Sprintf("%s_%s.csv", strings.ToUpper(strings.TrimSpace(symbol)), s.interval)
	return filepath.Join(s.dir, name)
}

// Load reads the persisted dataset. A missing file is an empty dataset, not
// an error.
func (s *Store) Load(symbol string) ([]market.Candle, error) {
	f, err := os.Open(s.Path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open dataset %s: %w", symbol, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", symbol, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	// skip header
	records = records[1:]
	candles := make([]market.Candle, 0, len(records))
	for i, rec := range records {
		c, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("dataset %s row %d: %w", symbol, i+2, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// Save atomically replaces the dataset with the given candles.
func (s *Store) Save(symbol string, candles []market.Candle) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	target := s.Path(symbol)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(target)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp dataset: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		cleanup()
		return fmt.Errorf("write header: %w", err)
	}
	for _, c := range candles {
		if err := w.Write(formatRecord(c)); err != nil {
			cleanup()
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp dataset: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace dataset %s: %w", symbol, err)
	}
	return nil
}

// LastCloseTime returns the newest persisted close time, or 0 for an empty
// dataset.
func (s *Store) LastCloseTime(symbol string) (int64, error) {
	candles, err := s.Load(symbol)
	if err != nil {
		return 0, err
	}
	return market.LastCloseTime(candles), nil
}

func parseRecord(rec []string) (market.Candle, error) {
	var c market.Candle
	var err error
	if c.OpenTime, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return c, fmt.Errorf("open_time: %w", err)
	}
	if c.CloseTime, err = strconv.ParseInt(rec[1], 10, 64); err != nil {
		return c, fmt.Errorf("close_time: %w", err)
	}
	floats := []struct {
		idx int
		dst *float64
	}{
		{2, &c.Open}, {3, &c.High}, {4, &c.Low}, {5, &c.Close},
		{6, &c.Volume}, {7, &c.QuoteAssetVolume},
		{9, &c.TakerBuyBaseVolume}, {10, &c.TakerBuyQuoteVolume},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(rec[f.idx], 64); err != nil {
			return c, fmt.Errorf("%s: %w", csvHeader[f.idx], err)
		}
	}
	if c.Trades, err = strconv.ParseInt(rec[8], 10, 64); err != nil {
		return c, fmt.Errorf("trades: %w", err)
	}
	return c, nil
}

func formatRecord(c market.Candle) []string {
	return []string{
		strconv.FormatInt(c.OpenTime, 10),
		strconv.FormatInt(c.CloseTime, 10),
		formatFloat(c.Open),
		formatFloat(c.High),
		formatFloat(c.Low),
		formatFloat(c.Close),
		formatFloat(c.Volume),
		formatFloat(c.QuoteAssetVolume),
		strconv.FormatInt(c.Trades, 10),
		formatFloat(c.TakerBuyBaseVolume),
		formatFloat(c.TakerBuyQuoteVolume),
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
