package strategy

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OpportunityType discriminates the two supported opportunity classes.
type OpportunityType string

const (
	// TypeArbitrage marks a cross-venue price discrepancy for the same pair.
	TypeArbitrage OpportunityType = "arbitrage"
	// TypeLiquidation marks an under-collateralized lending position.
	TypeLiquidation OpportunityType = "liquidation"
)

// Feature vector layout. The ordering is a fixed contract shared by the
// feed classifier, the evaluator, and the scoring model.
const (
	FeatPriceDifference = iota
	FeatLiquidityDepth
	FeatSuccessRate
	FeatGasEstimate
	FeatExecutionTime
	FeatVolatility
	FeatVolume24h
	FeatPoolUtilization
	FeatPathComplexity

	FeatureCount
)

// Features is the fixed-width numeric input of the scoring model. Using an
// array rather than a slice makes a length mismatch a compile error.
type Features [FeatureCount]float64

// PathStep is one swap leg of an arbitrage execution path.
type PathStep struct {
	Venue        common.Address
	Pool         common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
}

// LiquidationDetails carries the position data a liquidation call is built from.
type LiquidationDetails struct {
	Protocol     common.Address
	Position     common.Address
	Collateral   common.Address
	Debt         common.Address
	DebtToCover  decimal.Decimal
	HealthFactor decimal.Decimal
	Bonus        decimal.Decimal
}

// Opportunity is a detected, scoreable candidate for profitable action.
// It is immutable once scored except for the Score field attached by the
// evaluator, and is discarded after a single execution attempt.
type Opportunity struct {
	ID              string
	SourceTx        common.Hash
	Type            OpportunityType
	Pair            string
	Features        Features
	EstimatedProfit decimal.Decimal
	PositionSize    decimal.Decimal
	Path            []PathStep
	Liquidation     *LiquidationDetails
	Score           float64
	DetectedAt      time.Time
}

// OpportunityID derives the candidate identity from its source event and type.
func OpportunityID(source common.Hash, typ OpportunityType, pair string) string {
	return fmt.Sprintf("%s/%s/%s", source.Hex(), typ, pair)
}

// ExecutionResult reports the final outcome of one submission attempt.
// It is created by the executor after resolution and never mutated.
type ExecutionResult struct {
	Opportunity Opportunity
	Success     bool
	Profit      decimal.Decimal
	TxHash      common.Hash
	FeePaid     decimal.Decimal
	Reason      string
	Timestamp   time.Time
}
