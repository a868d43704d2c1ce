package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/scheduler"
	"mev-sentinel/internal/strategy"
)

// Stream delivers pending transaction hashes as they enter the mempool.
// The sequence may contain duplicates.
type Stream interface {
	SubscribePending(ctx context.Context, ch chan<- common.Hash) (ethereum.Subscription, error)
}

// TxResolver resolves full transaction content by hash. The lookup is
// fallible and retryable; a nil transaction means not yet visible.
type TxResolver interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
}

// BroadQuery is the bulk lookup used by the rescan loop. The result slice
// is positional; a nil entry means the hash could not be resolved.
type BroadQuery interface {
	TransactionsByHash(ctx context.Context, hashes []common.Hash) ([]*types.Transaction, error)
}

// Quote is one venue's view of a trading pair.
type Quote struct {
	Price       decimal.Decimal
	Liquidity   decimal.Decimal
	Volatility  float64
	Volume24h   float64
	Utilization float64
}

// PriceSource quotes a pair on a specific DEX venue.
type PriceSource interface {
	Quote(ctx context.Context, venue Venue, pair string) (Quote, error)
}

// Position is one lending-protocol account exposure.
type Position struct {
	Account      common.Address
	Collateral   common.Address
	Debt         common.Address
	DebtToCover  decimal.Decimal
	HealthFactor decimal.Decimal
	Bonus        decimal.Decimal
}

// LendingSource lists positions touched by activity on a lending pool.
type LendingSource interface {
	PositionsByPool(ctx context.Context, pool common.Address) ([]Position, error)
}

// Options wires the monitor's collaborators.
type Options struct {
	Strategy    config.StrategyConfig
	Monitor     config.MonitorConfig
	Table       *Table
	Stream      Stream
	Resolver    TxResolver
	Broad       BroadQuery
	Prices      PriceSource
	Lending     LendingSource
	SuccessRate func() float64
}

// Monitor watches the pending-transaction stream, deduplicates events,
// classifies them into candidate opportunities, and emits candidate batches.
// A periodic rescan re-examines recently seen hashes that the push path
// could not resolve, as a safety net against subscription gaps.
type Monitor struct {
	opts   Options
	logger zerolog.Logger

	known *knownSet
	out   chan []strategy.Opportunity

	mu         sync.Mutex
	monitoring bool
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewMonitor constructs a feed monitor in the Stopped state.
func NewMonitor(opts Options, logger zerolog.Logger) *Monitor {
	if opts.SuccessRate == nil {
		opts.SuccessRate = func() float64 { return 0.5 }
	}
	limit := opts.Monitor.KnownTxLimit
	if limit <= 0 {
		limit = 1000
	}
	return &Monitor{
		opts:   opts,
		logger: logger.With().Str("component", "feed_monitor").Logger(),
		known:  newKnownSet(limit),
		out:    make(chan []strategy.Opportunity, 64),
	}
}

// Opportunities returns the outbound candidate-batch channel.
func (m *Monitor) Opportunities() <-chan []strategy.Opportunity {
	return m.out
}

// Start opens the pending-transaction subscription and launches the rescan
// loop. Calling Start while already monitoring is a no-op.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.monitoring {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	events := make(chan common.Hash, 256)
	sub, err := m.opts.Stream.SubscribePending(runCtx, events)
	if err != nil {
		cancel()
		return err
	}

	m.monitoring = true
	m.cancel = cancel

	m.wg.Add(2)
	go m.eventLoop(runCtx, events, sub)
	go m.rescanLoop(runCtx)

	m.logger.Info().Msg("feed monitor started")
	return nil
}

// Stop cancels the subscription and the rescan loop, then waits for all
// outstanding handlers to observe the stopped state. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.monitoring {
		m.mu.Unlock()
		return
	}
	m.monitoring = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info().Msg("feed monitor stopped")
}

// Resubscribe backoff bounds after the pending subscription drops.
const (
	resubscribeDelay    = time.Second
	resubscribeDelayMax = 30 * time.Second
)

func (m *Monitor) eventLoop(ctx context.Context, events chan common.Hash, sub ethereum.Subscription) {
	defer m.wg.Done()

	for {
		err := m.consume(ctx, events, sub)
		sub.Unsubscribe()
		if err == nil {
			return
		}
		m.logger.Warn().Err(err).Msg("pending subscription dropped; resubscribing")

		sub = m.resubscribe(ctx, events)
		if sub == nil {
			return
		}
		m.logger.Info().Msg("pending subscription restored")
	}
}

// consume pumps hashes until the context ends (nil) or the subscription
// fails (never nil).
func (m *Monitor) consume(ctx context.Context, events <-chan common.Hash, sub ethereum.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case hash := <-events:
			m.wg.Add(1)
			go func(h common.Hash) {
				defer m.wg.Done()
				m.handleEvent(ctx, h)
			}(hash)
		}
	}
}

// resubscribe reopens the pending-transaction subscription with exponential
// backoff. A nil return means the context ended first.
func (m *Monitor) resubscribe(ctx context.Context, events chan common.Hash) ethereum.Subscription {
	delay := resubscribeDelay
	for {
		if ctx.Err() != nil {
			return nil
		}

		sub, err := m.opts.Stream.SubscribePending(ctx, events)
		if err == nil {
			return sub
		}
		m.logger.Warn().Err(err).Dur("backoff", delay).Msg("resubscribe failed")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if delay < resubscribeDelayMax {
			delay *= 2
		}
	}
}

// handleEvent applies the insert-before-process discipline: the hash is
// claimed in the known set before any work starts, so a duplicate arriving
// concurrently is dropped rather than reprocessed.
func (m *Monitor) handleEvent(ctx context.Context, hash common.Hash) {
	if !m.known.claim(hash) {
		return
	}

	tx, err := m.resolveWithRetry(ctx, hash)
	if err != nil || tx == nil {
		// Leave the hash pending; the rescan loop retries it.
		m.known.release(hash)
		if err != nil {
			m.logger.Debug().Err(err).Str("tx", hash.Hex()).Msg("detail lookup failed; deferred to rescan")
		}
		return
	}

	candidates := m.classify(ctx, tx)
	m.known.markDone(hash)
	m.emit(ctx, candidates)
}

func (m *Monitor) resolveWithRetry(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	retries := m.opts.Monitor.ResolveRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(m.opts.Monitor.ResolveRetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		tx, _, err := m.opts.Resolver.TransactionByHash(ctx, hash)
		if err == nil {
			return tx, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (m *Monitor) rescanLoop(ctx context.Context) {
	defer m.wg.Done()

	loop := scheduler.New(scheduler.Options{
		Name:         "rescan",
		Interval:     m.opts.Monitor.ScanInterval,
		ErrorBackoff: time.Second,
	}, m.logger)

	_ = loop.Run(ctx, m.rescan)
}

// rescan re-evaluates a bounded recent window of hashes the push path could
// not resolve. Each hash is claimed before processing, so a hash handled
// here is never classified a second time by the subscription path.
func (m *Monitor) rescan(ctx context.Context) error {
	hashes := m.known.claimPending(m.opts.Monitor.RescanWindow)
	if len(hashes) == 0 {
		return nil
	}

	txs, err := m.opts.Broad.TransactionsByHash(ctx, hashes)
	if err != nil {
		for _, h := range hashes {
			m.known.release(h)
		}
		return err
	}

	var batch []strategy.Opportunity
	for i, hash := range hashes {
		if i >= len(txs) || txs[i] == nil {
			m.known.release(hash)
			continue
		}
		batch = append(batch, m.classify(ctx, txs[i])...)
		m.known.markDone(hash)
	}

	m.emit(ctx, batch)
	return nil
}

func (m *Monitor) emit(ctx context.Context, candidates []strategy.Opportunity) {
	if len(candidates) == 0 {
		return
	}
	select {
	case <-ctx.Done():
	case m.out <- candidates:
	}
}
