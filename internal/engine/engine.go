package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/alerting"
	"mev-sentinel/internal/config"
	"mev-sentinel/internal/scheduler"
	"mev-sentinel/internal/storage"
	"mev-sentinel/internal/strategy"
)

// Admission rejection reasons. Rejections are policy outcomes, not errors.
const (
	ReasonLossCeiling      = "daily loss ceiling reached"
	ReasonProfitTooLow     = "profit below minimum threshold"
	ReasonPositionTooLarge = "position size exceeds maximum"
	ReasonCapReached       = "concurrency cap reached"
)

// OpportunitySource feeds candidate batches into the admission pipeline.
type OpportunitySource interface {
	Start(ctx context.Context) error
	Stop()
	Opportunities() <-chan []strategy.Opportunity
}

// Evaluator filters and ranks a candidate batch.
type Evaluator interface {
	EvaluateAndRank(candidates []strategy.Opportunity) []strategy.Opportunity
}

// Executor runs admitted opportunities and reports outcomes.
type Executor interface {
	Execute(opp strategy.Opportunity) bool
	Results() <-chan strategy.ExecutionResult
	Close()
}

// OutcomeRecorder receives every execution result as a training signal.
type OutcomeRecorder interface {
	RecordOutcome(res strategy.ExecutionResult)
}

// Engine wires the feed, evaluator, and executor together, applies the
// admission policy, tracks running statistics, and owns the risk circuit
// breaker and the start/stop lifecycle.
type Engine struct {
	strat    config.StrategyConfig
	risk     config.RiskConfig
	source   OpportunitySource
	eval     Evaluator
	exec     Executor
	recorder OutcomeRecorder
	notifier alerting.Notifier
	store    storage.ResultStore
	logger   zerolog.Logger

	mu         sync.Mutex
	running    bool
	halted     bool
	haltReason string
	cancel     context.CancelFunc
	stats      statsData

	wg sync.WaitGroup
}

// New constructs a stopped engine. notifier and store may be nil.
func New(cfg *config.Config, source OpportunitySource, eval Evaluator, exec Executor, recorder OutcomeRecorder, notifier alerting.Notifier, store storage.ResultStore, logger zerolog.Logger) *Engine {
	return &Engine{
		strat:    cfg.Strategy,
		risk:     cfg.Risk,
		source:   source,
		eval:     eval,
		exec:     exec,
		recorder: recorder,
		notifier: notifier,
		store:    store,
		logger:   logger.With().Str("component", "engine").Logger(),
		stats:    newStatsData(),
	}
}

// Start begins the pipeline. Calling Start while running is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.running = true
	e.halted = false
	e.haltReason = ""
	e.cancel = cancel
	e.stats = newStatsData()
	e.mu.Unlock()

	if err := e.source.Start(runCtx); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		cancel()
		return err
	}

	e.wg.Add(4)
	go e.admissionLoop(runCtx)
	go e.resultsLoop()
	go e.riskLoop(runCtx)
	go e.resetLoop(runCtx)

	e.logger.Info().Msg("engine started")
	return nil
}

// Stop shuts the feed down, waits for in-flight executions to resolve, and
// joins every background loop. Idempotent; late outcomes arriving during
// shutdown are still recorded but can no longer trigger admissions.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	e.source.Stop()
	cancel()
	e.exec.Close()
	e.wg.Wait()

	snap := e.Stats()
	e.logger.Info().
		Int("trades", snap.Trades).
		Str("profit", snap.Profit.String()).
		Str("losses", snap.Losses.String()).
		Msg("engine stopped")
}

func (e *Engine) admissionLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-e.source.Opportunities():
			e.handleBatch(batch)
		}
	}
}

// handleBatch evaluates a candidate batch and admits opportunities in rank
// order. Each admission decision is independent: one rejection does not
// block the next candidate.
func (e *Engine) handleBatch(batch []strategy.Opportunity) {
	if !e.isRunning() {
		return
	}

	ranked := e.eval.EvaluateAndRank(batch)
	for _, opp := range ranked {
		if reason, ok := e.admit(opp); !ok {
			e.logger.Info().Str("opportunity", opp.ID).Str("reason", reason).Msg("admission rejected")
			continue
		}
		if !e.exec.Execute(opp) {
			e.logger.Info().Str("opportunity", opp.ID).Str("reason", ReasonCapReached).Msg("admission rejected")
		}
	}
}

// admit applies the risk policy to one ranked opportunity.
func (e *Engine) admit(opp strategy.Opportunity) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.halted {
		return ReasonLossCeiling, false
	}
	if e.stats.losses.GreaterThanOrEqual(decimal.NewFromFloat(e.risk.MaxDailyLoss)) {
		return ReasonLossCeiling, false
	}
	if opp.EstimatedProfit.LessThan(decimal.NewFromFloat(e.strat.MinProfit)) {
		return ReasonProfitTooLow, false
	}
	if opp.PositionSize.GreaterThan(decimal.NewFromFloat(e.strat.MaxPositionSize)) {
		return ReasonPositionTooLarge, false
	}
	return "", true
}

// resultsLoop drains the executor until its channel closes, so outcomes of
// submissions that were in flight at shutdown are still accounted for.
func (e *Engine) resultsLoop() {
	defer e.wg.Done()
	for res := range e.exec.Results() {
		e.handleResult(res)
	}
}

func (e *Engine) handleResult(res strategy.ExecutionResult) {
	e.mu.Lock()
	if res.Success {
		e.stats.trades++
		e.stats.successes++
		e.stats.profit = e.stats.profit.Add(res.Profit)
	} else {
		e.stats.failures++
		e.stats.losses = e.stats.losses.Add(res.FeePaid)
	}
	e.mu.Unlock()

	if e.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.store.InsertResult(ctx, storage.TradeResultFrom(res)); err != nil {
			e.logger.Error().Err(err).Str("opportunity", res.Opportunity.ID).Msg("failed to persist result")
		}
		cancel()
	}

	e.recorder.RecordOutcome(res)
}

func (e *Engine) riskLoop(ctx context.Context) {
	defer e.wg.Done()
	loop := scheduler.New(scheduler.Options{
		Name:     "risk_check",
		Interval: e.risk.RiskCheckInterval,
	}, e.logger)
	_ = loop.Run(ctx, e.checkRisk)
}

// checkRisk is the hard circuit breaker: once accumulated losses reach the
// daily ceiling the whole session is forced down and the operator notified.
func (e *Engine) checkRisk(ctx context.Context) error {
	e.mu.Lock()
	breached := e.running && !e.halted &&
		e.stats.losses.GreaterThanOrEqual(decimal.NewFromFloat(e.risk.MaxDailyLoss))
	if breached {
		e.halted = true
		e.haltReason = ReasonLossCeiling
	}
	snap := e.snapshotLocked()
	e.mu.Unlock()

	if !breached {
		return nil
	}

	e.logger.Error().Str("losses", snap.Losses.String()).Msg("daily loss ceiling reached; halting session")

	if e.notifier != nil {
		note := alerting.Notification{
			Kind:     alerting.KindRiskHalt,
			Occurred: time.Now().UTC(),
			Trades:   snap.Trades,
			Profit:   snap.Profit,
			Losses:   snap.Losses,
			Ceiling:  decimal.NewFromFloat(e.risk.MaxDailyLoss),
			Message:  "trading halted by daily loss circuit breaker",
		}
		if err := e.notifier.Notify(ctx, note); err != nil {
			e.logger.Error().Err(err).Msg("failed to notify operator of risk halt")
		}
	}

	// Stop joins the loop this tick runs on, so it must run elsewhere.
	go e.Stop()
	return nil
}

func (e *Engine) resetLoop(ctx context.Context) {
	defer e.wg.Done()
	loop := scheduler.New(scheduler.Options{
		Name:     "stats_reset",
		Interval: e.risk.StatsResetPeriod,
	}, e.logger)
	_ = loop.Run(ctx, func(context.Context) error {
		e.resetStats()
		return nil
	})
}

func (e *Engine) isRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running && !e.halted
}
