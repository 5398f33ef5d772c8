package binance

import "strings"

// NormalizePair converts configured pair notation ("BTC_USDC", "btc/usdc")
// to the exchange symbol ("BTCUSDC").
func NormalizePair(pair string) string {
	s := strings.ToUpper(strings.TrimSpace(pair))
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}

// SplitPair extracts base and quote assets from configured pair notation.
// Separator-less symbols fall back to a known-quote suffix scan.
func SplitPair(pair string) (base, quote string) {
	s := strings.ToUpper(strings.TrimSpace(pair))
	for _, sep := range []string{"_", "/", "-"} {
		if i := strings.Index(s, sep); i > 0 {
			return s[:i], s[i+len(sep):]
		}
	}
	for _, q := range []string{"USDC", "USDT", "FDUSD", "BUSD", "BTC", "ETH", "BNB"} {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	return s, ""
}

// BaseAsset returns the traded asset of a pair ("BTC" for "BTC_USDC").
func BaseAsset(pair string) string {
	base, _ := SplitPair(pair)
	return base
}

// QuoteAsset returns the pricing asset of a pair ("USDC" for "BTC_USDC").
func QuoteAsset(pair string) string {
	_, quote := SplitPair(pair)
	return quote
}
