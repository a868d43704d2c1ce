package feed

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/strategy"
)

// Estimated settlement latency per swap leg, fed into the feature vector.
const legLatencySeconds = 0.4

// classify inspects a resolved transaction's target contract against the
// venue table. A miss is a normal negative result, not an error.
func (m *Monitor) classify(ctx context.Context, tx *types.Transaction) []strategy.Opportunity {
	to := tx.To()
	if to == nil {
		return nil
	}

	venue, ok := m.opts.Table.Lookup(*to)
	if !ok {
		return nil
	}

	switch venue.Family {
	case config.FamilyDEX:
		return m.arbitrageCandidates(ctx, tx.Hash(), venue)
	case config.FamilyLending:
		return m.liquidationCandidates(ctx, tx.Hash(), venue)
	}
	return nil
}

func (m *Monitor) arbitrageCandidates(ctx context.Context, source common.Hash, venue Venue) []strategy.Opportunity {
	if m.opts.Prices == nil {
		return nil
	}

	var out []strategy.Opportunity
	for _, pair := range venue.Pairs {
		if opp, ok := m.arbitrageForPair(ctx, source, pair); ok {
			out = append(out, opp)
		}
	}
	return out
}

// arbitrageForPair compares prices for one pair across every DEX venue
// quoting it and sizes a two-leg path over the widest spread. Candidates
// under the liquidity or profit bar are dropped silently.
func (m *Monitor) arbitrageForPair(ctx context.Context, source common.Hash, pair string) (strategy.Opportunity, bool) {
	venues := m.opts.Table.DEXVenues(pair)
	if len(venues) < 2 {
		return strategy.Opportunity{}, false
	}

	type venueQuote struct {
		venue Venue
		quote Quote
	}

	quotes := make([]venueQuote, 0, len(venues))
	for _, v := range venues {
		q, err := m.opts.Prices.Quote(ctx, v, pair)
		if err != nil {
			m.logger.Debug().Err(err).Str("venue", v.Name).Str("pair", pair).Msg("quote failed")
			continue
		}
		if q.Price.IsZero() {
			continue
		}
		quotes = append(quotes, venueQuote{venue: v, quote: q})
	}
	if len(quotes) < 2 {
		return strategy.Opportunity{}, false
	}

	buy, sell := quotes[0], quotes[0]
	for _, vq := range quotes[1:] {
		if vq.quote.Price.LessThan(buy.quote.Price) {
			buy = vq
		}
		if vq.quote.Price.GreaterThan(sell.quote.Price) {
			sell = vq
		}
	}

	spreadPct := sell.quote.Price.Sub(buy.quote.Price).Div(buy.quote.Price)
	if spreadPct.Sign() <= 0 {
		return strategy.Opportunity{}, false
	}

	depth := decimal.Min(buy.quote.Liquidity, sell.quote.Liquidity)
	if depth.LessThan(decimal.NewFromFloat(m.opts.Strategy.MinLiquidity)) {
		return strategy.Opportunity{}, false
	}

	size := decimal.Min(depth, decimal.NewFromFloat(m.opts.Strategy.MaxPositionSize))
	if m.opts.Strategy.PriceImpactPct > 0 {
		// Cap the size at a fraction of pool depth so the trade itself
		// does not move the price past the observed spread.
		size = decimal.Min(size, depth.Mul(decimal.NewFromFloat(m.opts.Strategy.PriceImpactPct/100)))
	}
	gasBuffer := decimal.NewFromFloat(m.opts.Strategy.GasBuffer)
	profit := size.Mul(spreadPct).Sub(gasBuffer)
	if profit.LessThan(decimal.NewFromFloat(m.opts.Strategy.MinProfit)) {
		return strategy.Opportunity{}, false
	}

	base, quoteToken, ok := m.opts.Table.PairTokens(pair)
	if !ok {
		return strategy.Opportunity{}, false
	}

	slip := decimal.NewFromFloat(1 - m.opts.Strategy.SlippagePct/100)
	baseAmount := size.Div(buy.quote.Price)
	path := []strategy.PathStep{
		{
			Venue:        buy.venue.Address,
			Pool:         buy.venue.Pools[pair],
			TokenIn:      quoteToken.Address,
			TokenOut:     base.Address,
			AmountIn:     size,
			MinAmountOut: baseAmount.Mul(slip),
		},
		{
			Venue:        sell.venue.Address,
			Pool:         sell.venue.Pools[pair],
			TokenIn:      base.Address,
			TokenOut:     quoteToken.Address,
			AmountIn:     baseAmount,
			MinAmountOut: size.Mul(slip),
		},
	}

	volatility := buy.quote.Volatility
	if sell.quote.Volatility > volatility {
		volatility = sell.quote.Volatility
	}

	features := strategy.Features{}
	features[strategy.FeatPriceDifference] = spreadPct.InexactFloat64()
	features[strategy.FeatLiquidityDepth] = depth.InexactFloat64()
	features[strategy.FeatSuccessRate] = m.opts.SuccessRate()
	features[strategy.FeatGasEstimate] = m.opts.Strategy.GasBuffer
	features[strategy.FeatExecutionTime] = legLatencySeconds * float64(len(path))
	features[strategy.FeatVolatility] = volatility
	features[strategy.FeatVolume24h] = buy.quote.Volume24h + sell.quote.Volume24h
	features[strategy.FeatPoolUtilization] = (buy.quote.Utilization + sell.quote.Utilization) / 2
	features[strategy.FeatPathComplexity] = float64(len(path))

	return strategy.Opportunity{
		ID:              strategy.OpportunityID(source, strategy.TypeArbitrage, pair),
		SourceTx:        source,
		Type:            strategy.TypeArbitrage,
		Pair:            pair,
		Features:        features,
		EstimatedProfit: profit,
		PositionSize:    size,
		Path:            path,
		DetectedAt:      time.Now().UTC(),
	}, true
}

// liquidationCandidates checks every position touched by activity on a
// lending pool against its health threshold.
func (m *Monitor) liquidationCandidates(ctx context.Context, source common.Hash, venue Venue) []strategy.Opportunity {
	if m.opts.Lending == nil {
		return nil
	}

	positions, err := m.opts.Lending.PositionsByPool(ctx, venue.Address)
	if err != nil {
		m.logger.Debug().Err(err).Str("venue", venue.Name).Msg("position lookup failed")
		return nil
	}

	one := decimal.NewFromInt(1)
	gasBuffer := decimal.NewFromFloat(m.opts.Strategy.GasBuffer)
	minProfit := decimal.NewFromFloat(m.opts.Strategy.MinProfit)

	var out []strategy.Opportunity
	for _, pos := range positions {
		if pos.HealthFactor.GreaterThanOrEqual(one) {
			continue
		}

		profit := pos.DebtToCover.Mul(pos.Bonus).Sub(gasBuffer)
		if profit.LessThan(minProfit) {
			continue
		}

		shortfall := one.Sub(pos.HealthFactor)

		features := strategy.Features{}
		features[strategy.FeatPriceDifference] = shortfall.InexactFloat64()
		features[strategy.FeatLiquidityDepth] = pos.DebtToCover.InexactFloat64()
		features[strategy.FeatSuccessRate] = m.opts.SuccessRate()
		features[strategy.FeatGasEstimate] = m.opts.Strategy.GasBuffer
		features[strategy.FeatExecutionTime] = legLatencySeconds
		features[strategy.FeatVolatility] = shortfall.InexactFloat64()
		features[strategy.FeatPathComplexity] = 1

		details := pos
		out = append(out, strategy.Opportunity{
			ID:              strategy.OpportunityID(source, strategy.TypeLiquidation, pos.Account.Hex()),
			SourceTx:        source,
			Type:            strategy.TypeLiquidation,
			Pair:            venue.Name,
			Features:        features,
			EstimatedProfit: profit,
			PositionSize:    pos.DebtToCover,
			Liquidation: &strategy.LiquidationDetails{
				Protocol:     venue.Address,
				Position:     details.Account,
				Collateral:   details.Collateral,
				Debt:         details.Debt,
				DebtToCover:  details.DebtToCover,
				HealthFactor: details.HealthFactor,
				Bonus:        details.Bonus,
			},
			DetectedAt: time.Now().UTC(),
		})
	}
	return out
}
