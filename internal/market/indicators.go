package market

import (
	"fmt"
	"strings"

	talib "github.com/markcheno/go-talib"
)

const minIndicatorCandles = 35

// IndicatorSet 由最近 K 线计算出的一组常用技术指标，全部取序列末值。
type IndicatorSet struct {
	RSI14      float64
	MFI14      float64
	SMA20      float64
	EMA12      float64
	EMA26      float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
}

// ComputeIndicators derives IndicatorSet from the candle sequence. Requires
// enough history for the slowest lookback (MACD 26+9).
func ComputeIndicators(candles []Candle) (IndicatorSet, error) {
	if len(candles) < minIndicatorCandles {
		return IndicatorSet{}, fmt.Errorf("need at least %d candles, got %d", minIndicatorCandles, len(candles))
	}
	n := len(candles)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	volume := make([]float64, n)
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		volume[i] = c.Volume
	}

	rsi := talib.Rsi(closes, 14)
	mfi := talib.Mfi(high, low, closes, volume, 14)
	sma := talib.Sma(closes, 20)
	ema12 := talib.Ema(closes, 12)
	ema26 := talib.Ema(closes, 26)
	bbUpper, bbMiddle, bbLower := talib.BBands(closes, 20, 2, 2, talib.SMA)
	macd, signal, hist := talib.Macd(closes, 12, 26, 9)

	last := n - 1
	return IndicatorSet{
		RSI14:      rsi[last],
		MFI14:      mfi[last],
		SMA20:      sma[last],
		EMA12:      ema12[last],
		EMA26:      ema26[last],
		BBUpper:    bbUpper[last],
		BBMiddle:   bbMiddle[last],
		BBLower:    bbLower[last],
		MACD:       macd[last],
		MACDSignal: signal[last],
		MACDHist:   hist[last],
	}, nil
}

// Render formats the set as the compact block embedded in model prompts.
func (s IndicatorSet) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "RSI(14)=%.2f MFI(14)=%.2f\n", s.RSI14, s.MFI14)
	fmt.Fprintf(&b, "SMA(20)=%.4f EMA(12)=%.4f EMA(26)=%.4f\n", s.SMA20, s.EMA12, s.EMA26)
	fmt.Fprintf(&b, "BB(20,2) upper=%.4f middle=%.4f lower=%.4f\n", s.BBUpper, s.BBMiddle, s.BBLower)
	fmt.Fprintf(&b, "MACD(12,26,9)=%.4f signal=%.4f hist=%.4f", s.MACD, s.MACDSignal, s.MACDHist)
	return b.String()
}
