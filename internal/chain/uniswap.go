package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

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
	pairV2ABIJSON = `[{"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"reserve0","type":"uint112"},{"internalType":"uint112","name":"reserve1","type":"uint112"},{"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],"stateMutability":"view","type":"function"},{"inputs":[],"name":"token0","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}]`

	routerV2ABIJSON = `[{"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"uint256","name":"amountOutMin","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"},{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"deadline","type":"uint256"}],"name":"swapExactTokensForTokens","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"nonpayable","type":"function"}]`

	swapDeadline = 60 * time.Second
)

var (
	pairV2ABI   abi.ABI
	routerV2ABI abi.ABI
)

func init() {
	var err error
	if pairV2ABI, err = abi.JSON(strings.NewReader(pairV2ABIJSON)); err != nil {
		panic("failed to parse pair ABI: " + err.Error())
	}
	if routerV2ABI, err = abi.JSON(strings.NewReader(routerV2ABIJSON)); err != nil {
		panic("failed to parse router ABI: " + err.Error())
	}
}

// UniswapQuoter reads spot prices and depth straight from v2-style pair
// reserves. Prices are quoted as quote token per base token.
type UniswapQuoter struct {
	eth    *ethclient.Client
	table  *feed.Table
	logger zerolog.Logger
}

// NewUniswapQuoter builds a reserve-based price source.
func NewUniswapQuoter(client *Client, table *feed.Table, logger zerolog.Logger) *UniswapQuoter {
	return &UniswapQuoter{
		eth:    client.Eth(),
		table:  table,
		logger: logger.With().Str("component", "uniswap_quoter").Logger(),
	}
}

// Quote reads pool reserves for the pair on the given venue.
func (q *UniswapQuoter) Quote(ctx context.Context, venue feed.Venue, pair string) (feed.Quote, error) {
	pool, ok := venue.Pools[pair]
	if ok {
		// zero address means the pool was configured but left unset
		ok = pool != (common.Address{})
	}
	if !ok {
		return feed.Quote{}, fmt.Errorf("no pool configured for %s on %s", pair, venue.Name)
	}

	base, quote, ok := q.table.PairTokens(pair)
	if !ok {
		return feed.Quote{}, fmt.Errorf("unknown tokens for pair %s", pair)
	}

	reserve0, reserve1, err := q.reserves(ctx, pool)
	if err != nil {
		return feed.Quote{}, err
	}

	token0, err := q.token0(ctx, pool)
	if err != nil {
		return feed.Quote{}, err
	}

	baseReserve, quoteReserve := reserve0, reserve1
	if token0 != base.Address {
		baseReserve, quoteReserve = reserve1, reserve0
	}

	baseAmount := decimal.NewFromBigInt(baseReserve, -base.Decimals)
	quoteAmount := decimal.NewFromBigInt(quoteReserve, -quote.Decimals)
	if baseAmount.IsZero() {
		return feed.Quote{}, fmt.Errorf("pool %s has no %s reserve", pool.Hex(), pair)
	}

	return feed.Quote{
		Price:     quoteAmount.Div(baseAmount),
		Liquidity: quoteAmount,
	}, nil
}

func (q *UniswapQuoter) reserves(ctx context.Context, pool common.Address) (*big.Int, *big.Int, error) {
	payload, err := pairV2ABI.Pack("getReserves")
	if err != nil {
		return nil, nil, err
	}

	res, err := q.eth.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: payload}, nil)
	if err != nil {
		return nil, nil, err
	}

	outputs, err := pairV2ABI.Unpack("getReserves", res)
	if err != nil {
		return nil, nil, err
	}
	if len(outputs) != 3 {
		return nil, nil, errors.New("unexpected getReserves response")
	}

	reserve0, ok0 := outputs[0].(*big.Int)
	reserve1, ok1 := outputs[1].(*big.Int)
	if !ok0 || !ok1 {
		return nil, nil, errors.New("failed to decode getReserves output")
	}
	return reserve0, reserve1, nil
}

func (q *UniswapQuoter) token0(ctx context.Context, pool common.Address) (common.Address, error) {
	payload, err := pairV2ABI.Pack("token0")
	if err != nil {
		return common.Address{}, err
	}

	res, err := q.eth.CallContract(ctx, ethereum.CallMsg{To: &pool, Data: payload}, nil)
	if err != nil {
		return common.Address{}, err
	}

	outputs, err := pairV2ABI.Unpack("token0", res)
	if err != nil {
		return common.Address{}, err
	}
	if len(outputs) != 1 {
		return common.Address{}, errors.New("unexpected token0 response")
	}

	addr, ok := outputs[0].(common.Address)
	if !ok {
		return common.Address{}, errors.New("failed to decode token0 output")
	}
	return addr, nil
}

// UniswapSwapBuilder encodes v2-style router swaps. Proceeds are sent to
// the bundler contract so the next leg can spend them within the bundle.
type UniswapSwapBuilder struct {
	table     *feed.Table
	recipient common.Address
	now       func() time.Time
}

// NewUniswapSwapBuilder builds a swap encoder that routes proceeds to the
// given recipient.
func NewUniswapSwapBuilder(table *feed.Table, recipient common.Address) *UniswapSwapBuilder {
	return &UniswapSwapBuilder{table: table, recipient: recipient, now: time.Now}
}

// BuildSwap encodes one swapExactTokensForTokens leg against the venue's
// router contract.
func (b *UniswapSwapBuilder) BuildSwap(step strategy.PathStep) (executor.Call, error) {
	tokenIn, ok := b.table.TokenByAddress(step.TokenIn)
	if !ok {
		return executor.Call{}, fmt.Errorf("unknown input token %s", step.TokenIn.Hex())
	}
	tokenOut, ok := b.table.TokenByAddress(step.TokenOut)
	if !ok {
		return executor.Call{}, fmt.Errorf("unknown output token %s", step.TokenOut.Hex())
	}

	amountIn := step.AmountIn.Shift(tokenIn.Decimals).Round(0).BigInt()
	minOut := step.MinAmountOut.Shift(tokenOut.Decimals).Round(0).BigInt()
	deadline := big.NewInt(b.now().Add(swapDeadline).Unix())
	path := []common.Address{step.TokenIn, step.TokenOut}

	data, err := routerV2ABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, b.recipient, deadline)
	if err != nil {
		return executor.Call{}, err
	}

	return executor.Call{To: step.Venue, Data: data, Value: new(big.Int)}, nil
}

var (
	_ feed.PriceSource     = (*UniswapQuoter)(nil)
	_ executor.SwapBuilder = (*UniswapSwapBuilder)(nil)
)
