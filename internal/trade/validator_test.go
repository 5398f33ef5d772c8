package trade

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuyAtExactLimitPasses(t *testing.T) {
	v := &Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2}
	// 0.0004 * 50000 = $20.00 exactly
	assert.NoError(t, v.ValidateBuy(0.0004, 50000, 0))
}

func TestBuyOneCentOverFails(t *testing.T) {
	v := &Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2}
	// 0.0005 * 50000 = $25.00
	err := v.ValidateBuy(0.0005, 50000, 0)
	require.Error(t, err)

	// $20.01
	err = v.ValidateBuy(0.0004002, 50000, 0)
	require.Error(t, err)
	var restriction *RestrictionError
	assert.True(t, errors.As(err, &restriction))
	assert.Contains(t, restriction.Reason, "max trade value")
}

func TestSellCeilingIsWider(t *testing.T) {
	v := &Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2}
	// $30.00 = exactly 1.5x
	assert.NoError(t, v.ValidateSell(0.0006, 50000, 0))
	// $30.01
	assert.Error(t, v.ValidateSell(0.0006002, 50000, 0))
}

func TestOpenOrderLimit(t *testing.T) {
	v := &Validator{MaxTradeValueUSD: 20, MaxActiveOrders: 2}
	assert.NoError(t, v.ValidateBuy(0.0001, 50000, 1))

	err := v.ValidateBuy(0.0001, 50000, 2)
	require.Error(t, err)
	var restriction *RestrictionError
	assert.True(t, errors.As(err, &restriction))
	assert.Contains(t, restriction.Reason, "open orders")
}

func TestRejectsNonPositiveInputs(t *testing.T) {
	v := &Validator{MaxTradeValueUSD: 20}
	assert.Error(t, v.ValidateBuy(0, 50000, 0))
	assert.Error(t, v.ValidateBuy(-1, 50000, 0))
	assert.Error(t, v.ValidateSell(0.1, 0, 0))
}
