package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"mev-sentinel/internal/strategy"
)

// TradeResult is a persisted execution outcome.
type TradeResult struct {
	ID              int64
	OpportunityID   string
	OpportunityType string
	Pair            string
	SourceTx        string
	TxHash          string
	Success         bool
	Score           float64
	EstimatedProfit decimal.Decimal
	Profit          decimal.Decimal
	FeePaid         decimal.Decimal
	Reason          string
	ExecutedAt      time.Time
	CreatedAt       time.Time
}

// TradeResultFrom maps an execution result into its persisted form.
func TradeResultFrom(res strategy.ExecutionResult) TradeResult {
	return TradeResult{
		OpportunityID:   res.Opportunity.ID,
		OpportunityType: string(res.Opportunity.Type),
		Pair:            res.Opportunity.Pair,
		SourceTx:        res.Opportunity.SourceTx.Hex(),
		TxHash:          res.TxHash.Hex(),
		Success:         res.Success,
		Score:           res.Opportunity.Score,
		EstimatedProfit: res.Opportunity.EstimatedProfit,
		Profit:          res.Profit,
		FeePaid:         res.FeePaid,
		Reason:          res.Reason,
		ExecutedAt:      res.Timestamp,
	}
}
