package executor

import (
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func feeExecutor(t *testing.T) *Executor {
	t.Helper()
	return New(testExecutorConfig(), 1, newFakeSubmitter(), passBuilder{}, nil, zerolog.Nop())
}

func TestPriorityFeeBaseTipOnZeroProfit(t *testing.T) {
	e := feeExecutor(t)

	got := e.priorityFee(decimal.Zero)
	want := big.NewInt(2_000_000_000) // 2 gwei
	if got.Cmp(want) != 0 {
		t.Fatalf("expected base tip %s, got %s", want, got)
	}
}

func TestPriorityFeeMonotoneInProfit(t *testing.T) {
	e := feeExecutor(t)

	prev := e.priorityFee(decimal.Zero)
	for _, profit := range []float64{0.001, 0.01, 0.05, 0.1, 1} {
		tip := e.priorityFee(decimal.NewFromFloat(profit))
		if tip.Cmp(prev) < 0 {
			t.Fatalf("tip decreased at profit %v: %s < %s", profit, tip, prev)
		}
		prev = tip
	}
}

func TestPriorityFeeCapped(t *testing.T) {
	e := feeExecutor(t)

	got := e.priorityFee(decimal.NewFromInt(1000))
	cap := big.NewInt(100_000_000_000) // 100 gwei
	if got.Cmp(cap) != 0 {
		t.Fatalf("expected tip capped at %s, got %s", cap, got)
	}
}

func TestPriorityFeeSharesProfit(t *testing.T) {
	e := feeExecutor(t)

	// 0.01 ETH profit, 50% share over 500k gas:
	// 0.01 * 1e18 * 0.5 / 500000 = 1e10 wei on top of the 2 gwei base.
	got := e.priorityFee(decimal.NewFromFloat(0.01))
	want := big.NewInt(12_000_000_000)
	if got.Cmp(want) != 0 {
		t.Fatalf("expected tip %s, got %s", want, got)
	}
}
