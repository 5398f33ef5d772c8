package trade

import (
	"context"
	"fmt"

	"botmarley/internal/gateway/binance"
	"botmarley/internal/ledger"
	"botmarley/internal/logger"
)

// PriceSource 提供实时价格（通常是 market.Cache）。
type PriceSource interface {
	LatestPrice(ctx context.Context, symbol, interval string) (float64, error)
}

// Exchange 下单所需的交易所能力子集。
type Exchange interface {
	HasCredentials() bool
	OpenOrders(ctx context.Context, symbol string) ([]binance.OpenOrder, error)
	MarketBuy(ctx context.Context, symbol string, quantity float64) (*binance.OrderFill, error)
	MarketSell(ctx context.Context, symbol string, quantity float64) (*binance.OrderFill, error)
}

// Result 一次通过校验并已记账的成交。
type Result struct {
	Pair      string
	Asset     string
	Amount    float64
	Price     float64
	ValueUSD  float64
	ProfitUSD float64
	Live      bool
}

// Executor 校验并执行买卖：取实时价 → 风控校验 → （实盘）下单 →
// 账本记账。Exchange 缺失或 DryRun 时以纸面价格成交，记账路径不变。
type Executor struct {
	Prices    PriceSource
	Exchange  Exchange
	Ledger    *ledger.Ledger
	Validator *Validator
	Interval  string
	DryRun    bool
}

func (e *Executor) Buy(ctx context.Context, pair string, amount float64) (*Result, error) {
	price, err := e.Prices.LatestPrice(ctx, pair, e.Interval)
	if err != nil {
		return nil, fmt.Errorf("live price for %s: %w", pair, err)
	}
	open, err := e.openOrderCount(ctx, pair)
	if err != nil {
		return nil, err
	}
	if err := e.Validator.ValidateBuy(amount, price, open); err != nil {
		return nil, err
	}

	fillAmount, fillPrice, live, err := e.submit(ctx, pair, amount, price, true)
	if err != nil {
		return nil, err
	}
	asset := binance.BaseAsset(pair)
	tx, err := e.Ledger.RecordBuy(asset, pair, fillAmount, fillPrice)
	if err != nil {
		return nil, fmt.Errorf("record buy: %w", err)
	}
	return &Result{
		Pair:     tx.Pair,
		Asset:    asset,
		Amount:   fillAmount,
		Price:    fillPrice,
		ValueUSD: tx.AmountUSD,
		Live:     live,
	}, nil
}

func (e *Executor) Sell(ctx context.Context, pair string, amount float64) (*Result, error) {
	price, err := e.Prices.LatestPrice(ctx, pair, e.Interval)
	if err != nil {
		return nil, fmt.Errorf("live price for %s: %w", pair, err)
	}
	open, err := e.openOrderCount(ctx, pair)
	if err != nil {
		return nil, err
	}
	if err := e.Validator.ValidateSell(amount, price, open); err != nil {
		return nil, err
	}

	fillAmount, fillPrice, live, err := e.submit(ctx, pair, amount, price, false)
	if err != nil {
		return nil, err
	}
	asset := binance.BaseAsset(pair)
	tx, err := e.Ledger.RecordSell(asset, pair, fillAmount, fillPrice)
	if err != nil {
		return nil, fmt.Errorf("record sell: %w", err)
	}
	return &Result{
		Pair:      tx.Pair,
		Asset:     asset,
		Amount:    fillAmount,
		Price:     fillPrice,
		ValueUSD:  tx.AmountUSD,
		ProfitUSD: tx.ProfitUSD,
		Live:      live,
	}, nil
}

func (e *Executor) submit(ctx context.Context, pair string, amount, livePrice float64, buy bool) (fillAmount, fillPrice float64, live bool, err error) {
	if e.DryRun || e.Exchange == nil || !e.Exchange.HasCredentials() {
		logger.Debugf("paper fill %s amount=%v price=%v", pair, amount, livePrice)
		return amount, livePrice, false, nil
	}
	var fill *binance.OrderFill
	if buy {
		fill, err = e.Exchange.MarketBuy(ctx, pair, amount)
	} else {
		fill, err = e.Exchange.MarketSell(ctx, pair, amount)
	}
	if err != nil {
		return 0, 0, false, fmt.Errorf("submit order: %w", err)
	}
	fillAmount = amount
	if fill.ExecutedQty > 0 {
		fillAmount = fill.ExecutedQty
	}
	fillPrice = livePrice
	if fill.AvgPrice > 0 {
		fillPrice = fill.AvgPrice
	}
	return fillAmount, fillPrice, true, nil
}

func (e *Executor) openOrderCount(ctx context.Context, pair string) (int, error) {
	if e.Exchange == nil || !e.Exchange.HasCredentials() {
		return 0, nil
	}
	orders, err := e.Exchange.OpenOrders(ctx, pair)
	if err != nil {
		return 0, fmt.Errorf("open orders for %s: %w", pair, err)
	}
	return len(orders), nil
}
