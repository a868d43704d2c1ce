package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/strategy"
)

var (
	// ErrNoBuilder indicates no instruction builder is wired for the opportunity type.
	ErrNoBuilder = errors.New("executor: no builder for opportunity type")
)

// Call is one contract invocation in a submittable sequence.
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}

// Receipt is the resolved outcome of a submitted transaction.
type Receipt struct {
	Success bool
	FeePaid decimal.Decimal
}

// Submitter signs, sends, and confirms a fee-annotated call sequence.
// Confirm blocks until resolution or its context deadline.
type Submitter interface {
	Submit(ctx context.Context, calls []Call, tip *big.Int) (common.Hash, error)
	Confirm(ctx context.Context, hash common.Hash) (Receipt, error)
}

// SwapBuilder encodes one swap leg for a specific DEX family.
type SwapBuilder interface {
	BuildSwap(step strategy.PathStep) (Call, error)
}

// LiquidationBuilder encodes the protocol-specific liquidation call set.
type LiquidationBuilder interface {
	BuildLiquidation(d strategy.LiquidationDetails) ([]Call, error)
}

// Executor builds, submits, and confirms one transaction per opportunity
// under a hard concurrency cap. Being at the cap is deliberate backpressure:
// Execute reports not-admitted rather than an error.
type Executor struct {
	cfg           config.ExecutorConfig
	maxConcurrent int
	submitter     Submitter
	swaps         SwapBuilder
	liquidations  LiquidationBuilder
	logger        zerolog.Logger

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}

	results   chan strategy.ExecutionResult
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs an executor.
func New(cfg config.ExecutorConfig, maxConcurrent int, submitter Submitter, swaps SwapBuilder, liquidations LiquidationBuilder, logger zerolog.Logger) *Executor {
	return &Executor{
		cfg:           cfg,
		maxConcurrent: maxConcurrent,
		submitter:     submitter,
		swaps:         swaps,
		liquidations:  liquidations,
		logger:        logger.With().Str("component", "executor").Logger(),
		inflight:      make(map[string]struct{}, maxConcurrent),
		results:       make(chan strategy.ExecutionResult, maxConcurrent*2),
	}
}

// Results returns the outcome channel. It is closed by Close after every
// in-flight submission has resolved.
func (e *Executor) Results() <-chan strategy.ExecutionResult {
	return e.results
}

// Execute admits the opportunity under the concurrency cap and launches its
// submission. A false return means the cap is reached, the same opportunity
// is already in flight, or the executor is closed; none of these is a fault.
//
// Submissions deliberately run on detached contexts with their own timeouts:
// stopping the engine must not abort an in-flight transaction.
func (e *Executor) Execute(opp strategy.Opportunity) bool {
	if !e.admit(opp.ID) {
		return false
	}

	go e.run(opp)
	return true
}

// InFlight reports the number of active submissions.
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inflight)
}

// Close refuses further admissions, waits for in-flight submissions to
// resolve, and closes the results channel. Execute calls racing Close are
// turned away rather than risking a send on the closed channel.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		e.wg.Wait()
		close(e.results)
	})
}

// admit is the atomic check-then-add over the active-submission set. The
// WaitGroup increment happens under the same lock as the closed flag, so no
// successful admission can trail Close's wait.
func (e *Executor) admit(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	if len(e.inflight) >= e.maxConcurrent {
		return false
	}
	if _, dup := e.inflight[id]; dup {
		return false
	}
	e.inflight[id] = struct{}{}
	e.wg.Add(1)
	return true
}

func (e *Executor) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id)
}

func (e *Executor) run(opp strategy.Opportunity) {
	defer e.wg.Done()
	// The in-flight entry is removed exactly once, whatever the exit path.
	defer e.release(opp.ID)

	res := e.attempt(opp)

	if res.Success {
		e.logger.Info().Str("opportunity", opp.ID).Str("tx", res.TxHash.Hex()).
			Str("profit", res.Profit.String()).Msg("execution confirmed")
	} else {
		e.logger.Warn().Str("opportunity", opp.ID).Str("reason", res.Reason).Msg("execution failed")
	}

	e.results <- res
}

func (e *Executor) attempt(opp strategy.Opportunity) strategy.ExecutionResult {
	calls, err := e.build(opp)
	if err != nil {
		return e.failure(opp, common.Hash{}, decimal.Zero, fmt.Sprintf("build: %v", err))
	}

	tip := e.priorityFee(opp.EstimatedProfit)

	hash, err := e.submitWithRetry(calls, tip)
	if err != nil {
		return e.failure(opp, common.Hash{}, decimal.Zero, fmt.Sprintf("send: %v", err))
	}

	confirmCtx, cancel := context.WithTimeout(context.Background(), e.cfg.ConfirmTimeout)
	defer cancel()

	rec, err := e.submitter.Confirm(confirmCtx, hash)
	if err != nil {
		// Unconfirmed after timeout counts as a failure for accounting;
		// a persisting opportunity will be re-detected on a later cycle.
		return e.failure(opp, hash, decimal.Zero, fmt.Sprintf("confirm: %v", err))
	}
	if !rec.Success {
		return e.failure(opp, hash, rec.FeePaid, "reverted")
	}

	return strategy.ExecutionResult{
		Opportunity: opp,
		Success:     true,
		Profit:      opp.EstimatedProfit,
		TxHash:      hash,
		FeePaid:     rec.FeePaid,
		Timestamp:   time.Now().UTC(),
	}
}

func (e *Executor) submitWithRetry(calls []Call, tip *big.Int) (common.Hash, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SubmitTimeout)
	defer cancel()

	attempts := e.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(e.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return common.Hash{}, lastErr
			case <-timer.C:
			}
		}

		hash, err := e.submitter.Submit(ctx, calls, tip)
		if err == nil {
			return hash, nil
		}
		lastErr = err
	}
	return common.Hash{}, lastErr
}

func (e *Executor) build(opp strategy.Opportunity) ([]Call, error) {
	switch opp.Type {
	case strategy.TypeArbitrage:
		if e.swaps == nil {
			return nil, ErrNoBuilder
		}
		calls := make([]Call, 0, len(opp.Path))
		for _, step := range opp.Path {
			call, err := e.swaps.BuildSwap(step)
			if err != nil {
				return nil, fmt.Errorf("swap leg %s: %w", step.Venue.Hex(), err)
			}
			calls = append(calls, call)
		}
		return calls, nil

	case strategy.TypeLiquidation:
		if e.liquidations == nil || opp.Liquidation == nil {
			return nil, ErrNoBuilder
		}
		return e.liquidations.BuildLiquidation(*opp.Liquidation)

	default:
		return nil, fmt.Errorf("executor: unknown opportunity type %q", opp.Type)
	}
}

func (e *Executor) failure(opp strategy.Opportunity, hash common.Hash, feePaid decimal.Decimal, reason string) strategy.ExecutionResult {
	return strategy.ExecutionResult{
		Opportunity: opp,
		Success:     false,
		Profit:      decimal.Zero,
		TxHash:      hash,
		FeePaid:     feePaid,
		Reason:      reason,
		Timestamp:   time.Now().UTC(),
	}
}
