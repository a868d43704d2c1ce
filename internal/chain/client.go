package chain

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/gethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"mev-sentinel/internal/config"
)

// Client wraps a single node connection and exposes the lookups the feed
// monitor needs. Pending-transaction subscriptions require a websocket
// endpoint; plain JSON-RPC lookups work over either transport.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	geth    *gethclient.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// Dial connects to the node. The websocket URL is preferred when set so the
// returned client can serve subscriptions.
func Dial(ctx context.Context, cfg config.ChainConfig, logger zerolog.Logger) (*Client, error) {
	url := cfg.WSURL
	if url == "" {
		url = cfg.RPCURL
	}
	if url == "" {
		return nil, errors.New("chain: no rpc url configured")
	}

	rc, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		rpc:     rc,
		eth:     ethclient.NewClient(rc),
		geth:    gethclient.New(rc),
		timeout: timeout,
		logger:  logger.With().Str("component", "chain_client").Logger(),
	}, nil
}

// Close tears down the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Eth exposes the typed client for callers that need direct node access.
func (c *Client) Eth() *ethclient.Client {
	return c.eth
}

// SubscribePending subscribes to new pending transaction hashes.
func (c *Client) SubscribePending(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error) {
	return c.geth.SubscribePendingTransactions(ctx, ch)
}

// TransactionByHash fetches full transaction content for one hash.
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.eth.TransactionByHash(ctx, hash)
}

// TransactionsByHash resolves a set of hashes in one batched round trip.
// The result is positional; entries the node does not know stay nil.
func (c *Client) TransactionsByHash(ctx context.Context, hashes []common.Hash) ([]*types.Transaction, error) {
	if len(hashes) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raws := make([]json.RawMessage, len(hashes))
	batch := make([]rpc.BatchElem, len(hashes))
	for i, hash := range hashes {
		batch[i] = rpc.BatchElem{
			Method: "eth_getTransactionByHash",
			Args:   []interface{}{hash},
			Result: &raws[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, err
	}

	txs := make([]*types.Transaction, len(hashes))
	for i := range batch {
		if batch[i].Error != nil {
			c.logger.Debug().Err(batch[i].Error).Str("tx", hashes[i].Hex()).Msg("batch lookup element failed")
			continue
		}
		if len(raws[i]) == 0 || string(raws[i]) == "null" {
			continue
		}
		tx := new(types.Transaction)
		if err := json.Unmarshal(raws[i], tx); err != nil {
			c.logger.Debug().Err(err).Str("tx", hashes[i].Hex()).Msg("failed to decode batched transaction")
			continue
		}
		txs[i] = tx
	}
	return txs, nil
}
