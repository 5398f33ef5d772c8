package trade

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// 卖出限额放宽到买入限额的 1.5 倍，保证可以关掉略超限的仓位。
const sellValueMultiplier = 1.5

// RestrictionError 交易被风控规则拒绝。区别于基础设施错误：
// 拒绝会回写进会话让模型调整，而不是中断本轮。
type RestrictionError struct {
	Reason string
}

func (e *RestrictionError) Error() string {
	return e.Reason
}

// Validator 在下单前执行资金与挂单数量限制。
type Validator struct {
	MaxTradeValueUSD float64
	MaxActiveOrders  int
}

// ValidateBuy checks a buy of amount base units at the live price.
// Comparison happens at cent precision: a trade worth exactly the limit
// passes, one cent over fails.
func (v *Validator) ValidateBuy(amount, price float64, openOrders int) error {
	if err := v.validateCommon(amount, price, openOrders); err != nil {
		return err
	}
	value := tradeValue(amount, price)
	limit := decimal.NewFromFloat(v.MaxTradeValueUSD).Round(2)
	if value.GreaterThan(limit) {
		return &RestrictionError{Reason: fmt.Sprintf(
			"buy value $%s exceeds max trade value $%s", value.StringFixed(2), limit.StringFixed(2))}
	}
	return nil
}

// ValidateSell checks a sell with the widened ceiling.
func (v *Validator) ValidateSell(amount, price float64, openOrders int) error {
	if err := v.validateCommon(amount, price, openOrders); err != nil {
		return err
	}
	value := tradeValue(amount, price)
	limit := decimal.NewFromFloat(v.MaxTradeValueUSD * sellValueMultiplier).Round(2)
	if value.GreaterThan(limit) {
		return &RestrictionError{Reason: fmt.Sprintf(
			"sell value $%s exceeds max sell value $%s", value.StringFixed(2), limit.StringFixed(2))}
	}
	return nil
}

func (v *Validator) validateCommon(amount, price float64, openOrders int) error {
	if amount <= 0 {
		return &RestrictionError{Reason: fmt.Sprintf("amount must be positive, got %v", amount)}
	}
	if price <= 0 {
		return &RestrictionError{Reason: fmt.Sprintf("no valid live price (got %v)", price)}
	}
	if v.MaxActiveOrders > 0 && openOrders >= v.MaxActiveOrders {
		return &RestrictionError{Reason: fmt.Sprintf(
			"open orders %d at or above limit %d", openOrders, v.MaxActiveOrders)}
	}
	return nil
}

func tradeValue(amount, price float64) decimal.Decimal {
	return decimal.NewFromFloat(amount).Mul(decimal.NewFromFloat(price)).Round(2)
}
