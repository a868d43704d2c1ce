package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/executor"
	"mev-sentinel/internal/feed"
	"mev-sentinel/internal/strategy"
)

const (
	aavePoolABIJSON = `[{"inputs":[{"internalType":"address","name":"user","type":"address"}],"name":"getUserAccountData","outputs":[{"internalType":"uint256","name":"totalCollateralBase","type":"uint256"},{"internalType":"uint256","name":"totalDebtBase","type":"uint256"},{"internalType":"uint256","name":"availableBorrowsBase","type":"uint256"},{"internalType":"uint256","name":"currentLiquidationThreshold","type":"uint256"},{"internalType":"uint256","name":"ltv","type":"uint256"},{"internalType":"uint256","name":"healthFactor","type":"uint256"}],"stateMutability":"view","type":"function"},{"inputs":[{"internalType":"address","name":"collateralAsset","type":"address"},{"internalType":"address","name":"debtAsset","type":"address"},{"internalType":"address","name":"user","type":"address"},{"internalType":"uint256","name":"debtToCover","type":"uint256"},{"internalType":"bool","name":"receiveAToken","type":"bool"}],"name":"liquidationCall","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

	// Aave caps a single liquidation at half the outstanding debt.
	closeFactor = 0.5
	// Standard liquidation bonus assumed for watched markets.
	liquidationBonus = 0.05
)

var aavePoolABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(aavePoolABIJSON))
	if err != nil {
		panic("failed to parse aave pool ABI: " + err.Error())
	}
	aavePoolABI = parsed
}

// AaveSource reads account health for the configured borrower watchlist of
// a lending venue. Account data comes from the pool contract directly, so
// no off-chain index is needed.
type AaveSource struct {
	eth    *ethclient.Client
	table  *feed.Table
	logger zerolog.Logger
}

// NewAaveSource builds a lending position source backed by on-chain
// account data.
func NewAaveSource(client *Client, table *feed.Table, logger zerolog.Logger) *AaveSource {
	return &AaveSource{
		eth:    client.Eth(),
		table:  table,
		logger: logger.With().Str("component", "aave_source").Logger(),
	}
}

// PositionsByPool reports the current exposure of every watched borrower
// on the venue at the given pool address. Collateral and debt assets are
// taken from the venue's first configured pair.
func (a *AaveSource) PositionsByPool(ctx context.Context, pool common.Address) ([]feed.Position, error) {
	venue, ok := a.table.Lookup(pool)
	if !ok {
		return nil, fmt.Errorf("unknown lending venue %s", pool.Hex())
	}
	if len(venue.Accounts) == 0 || len(venue.Pairs) == 0 {
		return nil, nil
	}

	collateral, debt, ok := a.table.PairTokens(venue.Pairs[0])
	if !ok {
		return nil, fmt.Errorf("unknown tokens for pair %s", venue.Pairs[0])
	}

	bonus := decimal.NewFromFloat(liquidationBonus)
	positions := make([]feed.Position, 0, len(venue.Accounts))
	for _, account := range venue.Accounts {
		totalDebt, health, err := a.accountData(ctx, pool, account)
		if err != nil {
			a.logger.Debug().Err(err).Str("account", account.Hex()).Msg("account data lookup failed")
			continue
		}

		positions = append(positions, feed.Position{
			Account:    account,
			Collateral: collateral.Address,
			Debt:       debt.Address,
			// Base-currency amounts carry 8 decimals on Aave v3.
			DebtToCover:  decimal.NewFromBigInt(totalDebt, -8).Mul(decimal.NewFromFloat(closeFactor)),
			HealthFactor: decimal.NewFromBigInt(health, -18),
			Bonus:        bonus,
		})
	}
	return positions, nil
}

func (a *AaveSource) accountData(ctx context.Context, pool, account common.Address) (totalDebt, healthFactor *big.Int, err error) {
	payload, err := aavePoolABI.Pack("getUserAccountData", account)
	if err != nil {
		return nil, nil, err
	}

	res, err := a.eth.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: payload}, nil)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := aavePoolABI.Unpack("getUserAccountData", res)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 6 {
		return nil, nil, errors.New("unexpected getUserAccountData response")
	}

	totalDebt, okDebt := outputs[1].(*big.Int)
	healthFactor, okHealth := outputs[5].(*big.Int)
	if !okDebt || !okHealth {
		return nil, nil, errors.New("failed to decode getUserAccountData output")
	}
	return totalDebt, healthFactor, nil
}

// AaveLiquidationBuilder encodes liquidationCall against the position's
// pool contract.
type AaveLiquidationBuilder struct{}

// NewAaveLiquidationBuilder builds a liquidation call encoder.
func NewAaveLiquidationBuilder() *AaveLiquidationBuilder {
	return &AaveLiquidationBuilder{}
}

// BuildLiquidation encodes a single liquidationCall repaying the covered
// debt and receiving the underlying collateral.
func (b *AaveLiquidationBuilder) BuildLiquidation(d strategy.LiquidationDetails) ([]executor.Call, error) {
	debtToCover := d.DebtToCover.Shift(8).Round(0).BigInt()

	data, err := aavePoolABI.Pack("liquidationCall", d.Collateral, d.Debt, d.Position, debtToCover, false)
	if err != nil {
		return nil, err
	}

	return []executor.Call{{To: d.Protocol, Data: data, Value: new(big.Int)}}, nil
}

var (
	_ feed.LendingSource          = (*AaveSource)(nil)
	_ executor.LiquidationBuilder = (*AaveLiquidationBuilder)(nil)
)
