package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"botmarley/internal/market"

	binancesdk "github.com/adshao/go-binance/v2"
)

const maxKlineLimit = 1000

// Client 基于 go-binance SDK 的现货网关，实现 market.Source，
// 并提供账户与下单能力。
type Client struct {
	cfg    Config
	client *binancesdk.Client
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	sdk := binancesdk.NewClient(final.APIKey, final.SecretKey)
	sdk.BaseURL = final.RESTBaseURL
	sdk.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Client{cfg: final, client: sdk}
}

// HasCredentials reports whether the client can use signed endpoints.
func (c *Client) HasCredentials() bool {
	return c.cfg.HasCredentials()
}

// Klines implements market.Source. startTime/endTime of zero leave the bound
// open; the exchange caps limit at 1000 per page.
func (c *Client) Klines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]market.Candle, error) {
	symbol = NormalizePair(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	svc := c.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if startTime > 0 {
		svc = svc.StartTime(startTime)
	}
	if endTime > 0 {
		svc = svc.EndTime(endTime)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w", symbol, interval, err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:            kl.OpenTime,
			CloseTime:           kl.CloseTime,
			Open:                parseFloat(kl.Open),
			High:                parseFloat(kl.High),
			Low:                 parseFloat(kl.Low),
			Close:               parseFloat(kl.Close),
			Volume:              parseFloat(kl.Volume),
			QuoteAssetVolume:    parseFloat(kl.QuoteAssetVolume),
			Trades:              kl.TradeNum,
			TakerBuyBaseVolume:  parseFloat(kl.TakerBuyBaseAssetVolume),
			TakerBuyQuoteVolume: parseFloat(kl.TakerBuyQuoteAssetVolume),
		})
	}
	return out, nil
}

// TickerPrice implements market.Source.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	symbol = NormalizePair(symbol)
	prices, err := c.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("ticker price %s: %w", symbol, err)
	}
	for _, p := range prices {
		if p != nil && strings.EqualFold(p.Symbol, symbol) {
			return parseFloat(p.Price), nil
		}
	}
	return 0, fmt.Errorf("ticker price %s: empty response", symbol)
}

// AssetBalance 账户中某资产的可用/冻结余额。
type AssetBalance struct {
	Asset  string
	Free   float64
	Locked float64
}

// AccountBalances returns non-zero spot balances.
func (c *Client) AccountBalances(ctx context.Context) ([]AssetBalance, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("binance credentials not configured")
	}
	acct, err := c.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	out := make([]AssetBalance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		free := parseFloat(b.Free)
		locked := parseFloat(b.Locked)
		if free == 0 && locked == 0 {
			continue
		}
		out = append(out, AssetBalance{Asset: b.Asset, Free: free, Locked: locked})
	}
	return out, nil
}

// OpenOrder 当前挂单的摘要。
type OpenOrder struct {
	Symbol   string
	OrderID  int64
	Side     string
	Type     string
	Price    float64
	Quantity float64
}

// OpenOrders lists the account's open orders; an empty symbol lists all.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("binance credentials not configured")
	}
	svc := c.client.NewListOpenOrdersService()
	if s := NormalizePair(symbol); s != "" {
		svc = svc.Symbol(s)
	}
	orders, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	out := make([]OpenOrder, 0, len(orders))
	for _, o := range orders {
		if o == nil {
			continue
		}
		out = append(out, OpenOrder{
			Symbol:   o.Symbol,
			OrderID:  o.OrderID,
			Side:     string(o.Side),
			Type:     string(o.Type),
			Price:    parseFloat(o.Price),
			Quantity: parseFloat(o.OrigQuantity),
		})
	}
	return out, nil
}

// OrderFill 市价单成交结果。AvgPrice 来自成交明细的数量加权均价。
type OrderFill struct {
	Symbol      string
	OrderID     int64
	ExecutedQty float64
	QuoteSpent  float64
	AvgPrice    float64
}

// MarketBuy places a market buy for the given base-asset quantity.
func (c *Client) MarketBuy(ctx context.Context, symbol string, quantity float64) (*OrderFill, error) {
	return c.marketOrder(ctx, symbol, quantity, binancesdk.SideTypeBuy)
}

// MarketSell places a market sell for the given base-asset quantity.
func (c *Client) MarketSell(ctx context.Context, symbol string, quantity float64) (*OrderFill, error) {
	return c.marketOrder(ctx, symbol, quantity, binancesdk.SideTypeSell)
}

func (c *Client) marketOrder(ctx context.Context, symbol string, quantity float64, side binancesdk.SideType) (*OrderFill, error) {
	if !c.HasCredentials() {
		return nil, fmt.Errorf("binance credentials not configured")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", quantity)
	}
	clean := NormalizePair(symbol)
	resp, err := c.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(binancesdk.OrderTypeMarket).
		Quantity(strconv.FormatFloat(quantity, 'f', -1, 64)).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("market %s %s: %w", strings.ToLower(string(side)), clean, err)
	}
	fill := &OrderFill{
		Symbol:      resp.Symbol,
		OrderID:     resp.OrderID,
		ExecutedQty: parseFloat(resp.ExecutedQuantity),
		QuoteSpent:  parseFloat(resp.CummulativeQuoteQuantity),
	}
	var qtySum, quoteSum float64
	for _, f := range resp.Fills {
		if f == nil {
			continue
		}
		qty := parseFloat(f.Quantity)
		qtySum += qty
		quoteSum += qty * parseFloat(f.Price)
	}
	if qtySum > 0 {
		fill.AvgPrice = quoteSum / qtySum
	} else if fill.ExecutedQty > 0 {
		fill.AvgPrice = fill.QuoteSpent / fill.ExecutedQty
	}
	return fill, nil
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
