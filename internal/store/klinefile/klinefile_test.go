package klinefile

import (
	"os"
	"path/filepath"
	"testing"

	"botmarley/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleCandles() []market.Candle {
	return []market.Candle{
		{
			OpenTime: 1_700_000_000_000, CloseTime: 1_700_000_299_999,
			Open: 50000.1, High: 50100, Low: 49900.5, Close: 50050,
			Volume: 12.5, QuoteAssetVolume: 625625.0, Trades: 321,
			TakerBuyBaseVolume: 6.1, TakerBuyQuoteVolume: 305305.0,
		},
		{
			OpenTime: 1_700_000_300_000, CloseTime: 1_700_000_599_999,
			Open: 50050, High: 50200, Low: 50000, Close: 50150,
			Volume: 9.75, QuoteAssetVolume: 488962.5, Trades: 250,
			TakerBuyBaseVolume: 4.2, TakerBuyQuoteVolume: 210630.0,
		},
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	store := New(t.TempDir(), "5m")
	candles := sampleCandles()

	require.NoError(t, store.Save("BTCUSDC", candles))
	loaded, err := store.Load("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, candles, loaded)
}

func TestLoadMissingFileReturnsEmpty(t *testing.T) {
	store := New(t.TempDir(), "5m")
	candles, err := store.Load("ETHUSDC")
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestSaveReplacesExistingDataset(t *testing.T) {
	store := New(t.TempDir(), "5m")
	candles := sampleCandles()

	require.NoError(t, store.Save("BTCUSDC", candles[:1]))
	require.NoError(t, store.Save("BTCUSDC", candles))

	loaded, err := store.Load("BTCUSDC")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	// no temp leftovers after the rename
	entries, err := os.ReadDir(filepath.Dir(store.Path("BTCUSDC")))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLastCloseTime(t *testing.T) {
	store := New(t.TempDir(), "5m")

	last, err := store.LastCloseTime("BTCUSDC")
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, store.Save("BTCUSDC", sampleCandles()))
	last, err = store.LastCloseTime("BTCUSDC")
	require.NoError(t, err)
	assert.Equal(t, int64(1_700_000_599_999), last)
}

func TestPathUsesUpperSymbolAndInterval(t *testing.T) {
	store := New("/data", "5m")
	assert.Equal(t, "/data/BTCUSDC_5m.csv", store.Path(" btcusdc "))
}

func TestLoadRejectsCorruptRow(t *testing.T) {
	dir := t.TempDir()
	store := New(dir, "5m")
	require.NoError(t, store.Save("BTCUSDC", sampleCandles()))

	raw, err := os.ReadFile(store.Path("BTCUSDC"))
	require.NoError(t, err)
	corrupted := append(raw, []byte("x,y,z,1,2,3,4,5,6,7,8\n")...)
	require.NoError(t, os.WriteFile(store.Path("BTCUSDC"), corrupted, 0o644))

	_, err = store.Load("BTCUSDC")
	assert.Error(t, err)
}
