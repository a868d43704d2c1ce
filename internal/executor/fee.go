package executor

import (
	"math/big"

	"github.com/shopspring/decimal"
)

var weiPerGwei = decimal.New(1, 9)

// priorityFee computes the per-gas tip in wei for an expected profit:
// a base tip plus a profit share spread over the gas budget, capped so a
// mispriced estimate cannot bid a pathological fee. Monotone in profit.
func (e *Executor) priorityFee(profit decimal.Decimal) *big.Int {
	tip := decimal.NewFromFloat(e.cfg.BaseTipGwei).Mul(weiPerGwei)

	if profit.Sign() > 0 && e.cfg.GasLimit > 0 {
		share := profit.Shift(18).
			Mul(decimal.NewFromFloat(e.cfg.ProfitShare)).
			Div(decimal.NewFromInt(int64(e.cfg.GasLimit)))
		tip = tip.Add(share)
	}

	feeCap := decimal.NewFromFloat(e.cfg.FeeCapGwei).Mul(weiPerGwei)
	if tip.GreaterThan(feeCap) {
		tip = feeCap
	}
	return tip.Round(0).BigInt()
}
