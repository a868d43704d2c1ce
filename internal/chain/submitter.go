package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/executor"
)

const (
	bundlerABIJSON = `[{"inputs":[{"components":[{"internalType":"address","name":"target","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"bytes","name":"callData","type":"bytes"}],"internalType":"struct Bundler.Call[]","name":"calls","type":"tuple[]"}],"name":"execute","outputs":[],"stateMutability":"payable","type":"function"}]`

	receiptPollInterval = 2 * time.Second
)

var bundlerABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(bundlerABIJSON))
	if err != nil {
		panic("failed to parse bundler ABI: " + err.Error())
	}
	bundlerABI = parsed
}

type bundleCall struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Submitter signs and sends fee-annotated call bundles through the
// configured bundler contract. One atomic transaction carries the whole
// call sequence, so a partial fill never leaves an open position.
type Submitter struct {
	eth      *ethclient.Client
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
	signer   types.Signer
	contract common.Address
	gasLimit uint64
	logger   zerolog.Logger

	nonceMu sync.Mutex
}

// NewSubmitter loads the signing key and binds the submitter to the
// configured bundler contract.
func NewSubmitter(client *Client, cfg config.ChainConfig, gasLimit uint64, logger zerolog.Logger) (*Submitter, error) {
	if cfg.KeyFile == "" {
		return nil, errors.New("chain: no key file configured")
	}
	if cfg.ExecutorContract == "" {
		return nil, errors.New("chain: no executor contract configured")
	}

	key, err := crypto.LoadECDSA(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	chainID := big.NewInt(cfg.ChainID)
	return &Submitter{
		eth:      client.Eth(),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
		signer:   types.LatestSignerForChainID(chainID),
		contract: common.HexToAddress(cfg.ExecutorContract),
		gasLimit: gasLimit,
		logger:   logger.With().Str("component", "submitter").Logger(),
	}, nil
}

// From returns the sending account address.
func (s *Submitter) From() common.Address {
	return s.from
}

// Submit packs the call sequence into one bundler transaction, signs it
// with the given priority fee, and broadcasts it. The nonce mutex keeps
// concurrent submissions from racing for the same pending nonce.
func (s *Submitter) Submit(ctx context.Context, calls []executor.Call, tip *big.Int) (common.Hash, error) {
	if len(calls) == 0 {
		return common.Hash{}, errors.New("chain: empty call sequence")
	}

	bundle := make([]bundleCall, len(calls))
	total := new(big.Int)
	for i, call := range calls {
		value := call.Value
		if value == nil {
			value = new(big.Int)
		}
		bundle[i] = bundleCall{Target: call.To, Value: value, CallData: call.Data}
		total.Add(total, value)
	}

	data, err := bundlerABI.Pack("execute", bundle)
	if err != nil {
		return common.Hash{}, err
	}

	head, err := s.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, err
	}
	if head.BaseFee == nil {
		return common.Hash{}, errors.New("chain: node reports no base fee")
	}
	// Double the base fee headroom so the bundle survives the next blocks.
	feeCap := new(big.Int).Mul(head.BaseFee, big.NewInt(2))
	feeCap.Add(feeCap, tip)

	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()

	nonce, err := s.eth.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := types.SignNewTx(s.key, s.signer, &types.DynamicFeeTx{
		ChainID:   s.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       s.gasLimit,
		To:        &s.contract,
		Value:     total,
		Data:      data,
	})
	if err != nil {
		return common.Hash{}, err
	}

	if err := s.eth.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, err
	}

	s.logger.Debug().
		Str("tx", tx.Hash().Hex()).
		Uint64("nonce", nonce).
		Str("tip_wei", tip.String()).
		Int("calls", len(calls)).
		Msg("bundle submitted")
	return tx.Hash(), nil
}

// Confirm polls for the receipt until the transaction resolves or the
// context deadline passes. The fee actually paid is reported in ETH.
func (s *Submitter) Confirm(ctx context.Context, hash common.Hash) (executor.Receipt, error) {
	ticker := time.NewTicker(receiptPollInterval)
	defer ticker.Stop()

	for {
		rec, err := s.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			feeWei := new(big.Int).Mul(new(big.Int).SetUint64(rec.GasUsed), rec.EffectiveGasPrice)
			return executor.Receipt{
				Success: rec.Status == types.ReceiptStatusSuccessful,
				FeePaid: decimal.NewFromBigInt(feeWei, -18),
			}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return executor.Receipt{}, err
		}

		select {
		case <-ctx.Done():
			return executor.Receipt{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ executor.Submitter = (*Submitter)(nil)
