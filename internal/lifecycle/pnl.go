package lifecycle

import (
	"github.com/shopspring/decimal"

	"tradeLifecycle/internal/domain"
)

// pnl computes the signed points result per contract and the dollar result
// net of commission. Decimal arithmetic keeps values like 96.75-100 exact.
func pnl(side domain.Side, entry, exit, quantity, pointValue, commission float64) (points, dollars float64) {
	dir := decimal.NewFromFloat(side.Direction())
	p := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry)).Mul(dir)
	d := p.Mul(decimal.NewFromFloat(pointValue)).
		Mul(decimal.NewFromFloat(quantity)).
		Sub(decimal.NewFromFloat(commission))
	return p.InexactFloat64(), d.InexactFloat64()
}

// slipped returns the fill price of a stop order at level after slippage,
// which always works against the position.
func slipped(side domain.Side, level, slippage float64) float64 {
	dir := decimal.NewFromFloat(side.Direction())
	return decimal.NewFromFloat(level).
		Sub(decimal.NewFromFloat(slippage).Mul(dir)).
		InexactFloat64()
}
