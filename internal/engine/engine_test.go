package engine

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/alerting"
	"mev-sentinel/internal/config"
	"mev-sentinel/internal/executor"
	"mev-sentinel/internal/strategy"
)

func testEngineConfig() *config.Config {
	return &config.Config{
		Strategy: config.StrategyConfig{
			MinProfit:       0.01,
			MaxPositionSize: 100,
		},
		Risk: config.RiskConfig{
			MaxConcurrent:     3,
			MaxDailyLoss:      0.1,
			RiskCheckInterval: 10 * time.Millisecond,
			StatsResetPeriod:  time.Hour,
		},
	}
}

type fakeSource struct {
	out     chan []strategy.Opportunity
	mu      sync.Mutex
	started bool
	stopped bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{out: make(chan []strategy.Opportunity, 8)}
}

func (f *fakeSource) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeSource) Opportunities() <-chan []strategy.Opportunity {
	return f.out
}

// passEvaluator returns the batch unchanged.
type passEvaluator struct{}

func (passEvaluator) EvaluateAndRank(candidates []strategy.Opportunity) []strategy.Opportunity {
	return candidates
}

// scriptedExecutor resolves every admitted opportunity with a canned result.
type scriptedExecutor struct {
	mu       sync.Mutex
	executed []string
	results  chan strategy.ExecutionResult
	outcome  func(opp strategy.Opportunity) strategy.ExecutionResult
	closed   sync.Once
}

func newScriptedExecutor(outcome func(opp strategy.Opportunity) strategy.ExecutionResult) *scriptedExecutor {
	return &scriptedExecutor{
		results: make(chan strategy.ExecutionResult, 16),
		outcome: outcome,
	}
}

func (f *scriptedExecutor) Execute(opp strategy.Opportunity) bool {
	f.mu.Lock()
	f.executed = append(f.executed, opp.ID)
	f.mu.Unlock()
	f.results <- f.outcome(opp)
	return true
}

func (f *scriptedExecutor) Results() <-chan strategy.ExecutionResult {
	return f.results
}

func (f *scriptedExecutor) Close() {
	f.closed.Do(func() { close(f.results) })
}

func (f *scriptedExecutor) executedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

type countingRecorder struct {
	mu      sync.Mutex
	results []strategy.ExecutionResult
}

func (r *countingRecorder) RecordOutcome(res strategy.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

type captureNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *captureNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func (n *captureNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

func winOutcome(opp strategy.Opportunity) strategy.ExecutionResult {
	return strategy.ExecutionResult{
		Opportunity: opp,
		Success:     true,
		Profit:      opp.EstimatedProfit,
		Timestamp:   time.Now().UTC(),
	}
}

func lossOutcome(fee float64) func(opp strategy.Opportunity) strategy.ExecutionResult {
	return func(opp strategy.Opportunity) strategy.ExecutionResult {
		return strategy.ExecutionResult{
			Opportunity: opp,
			Success:     false,
			FeePaid:     decimal.NewFromFloat(fee),
			Reason:      "reverted",
			Timestamp:   time.Now().UTC(),
		}
	}
}

func opportunity(id string, profit, size float64) strategy.Opportunity {
	return strategy.Opportunity{
		ID:              id,
		Type:            strategy.TypeArbitrage,
		EstimatedProfit: decimal.NewFromFloat(profit),
		PositionSize:    decimal.NewFromFloat(size),
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngineExecutesProfitableBatch(t *testing.T) {
	source := newFakeSource()
	exec := newScriptedExecutor(winOutcome)
	recorder := &countingRecorder{}
	eng := New(testEngineConfig(), source, passEvaluator{}, exec, recorder, nil, nil, zerolog.Nop())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	source.out <- []strategy.Opportunity{
		opportunity("a", 0.05, 10),
		opportunity("b", 0.02, 10),
	}

	eventually(t, func() bool { return recorder.count() == 2 }, "outcomes not recorded")
	eng.Stop()

	snap := eng.Stats()
	if snap.Trades != 2 {
		t.Fatalf("expected 2 trades, got %d", snap.Trades)
	}
	if !snap.Profit.Equal(decimal.NewFromFloat(0.07)) {
		t.Fatalf("expected profit 0.07, got %s", snap.Profit)
	}
	if got := exec.executedIDs(); len(got) != 2 {
		t.Fatalf("expected 2 executions, got %v", got)
	}
}

func TestEngineRejectsByPolicy(t *testing.T) {
	source := newFakeSource()
	exec := newScriptedExecutor(winOutcome)
	recorder := &countingRecorder{}
	eng := New(testEngineConfig(), source, passEvaluator{}, exec, recorder, nil, nil, zerolog.Nop())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	source.out <- []strategy.Opportunity{
		opportunity("thin", 0.001, 10),   // below minimum profit
		opportunity("huge", 0.05, 500),   // above maximum position size
		opportunity("fine", 0.05, 10),    // admitted
	}

	eventually(t, func() bool { return recorder.count() == 1 }, "admitted outcome not recorded")
	eng.Stop()

	got := exec.executedIDs()
	if len(got) != 1 || got[0] != "fine" {
		t.Fatalf("only the compliant opportunity should execute, got %v", got)
	}
}

func TestEngineHaltsOnLossCeiling(t *testing.T) {
	source := newFakeSource()
	exec := newScriptedExecutor(lossOutcome(0.06))
	recorder := &countingRecorder{}
	notifier := &captureNotifier{}
	eng := New(testEngineConfig(), source, passEvaluator{}, exec, recorder, notifier, nil, zerolog.Nop())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Two failures at 0.06 ETH in fees breach the 0.1 ceiling.
	source.out <- []strategy.Opportunity{opportunity("l1", 0.05, 10)}
	eventually(t, func() bool { return recorder.count() == 1 }, "first loss not recorded")
	source.out <- []strategy.Opportunity{opportunity("l2", 0.05, 10)}
	eventually(t, func() bool { return recorder.count() == 2 }, "second loss not recorded")

	eventually(t, func() bool {
		snap := eng.Stats()
		return snap.Halted && !snap.Running
	}, "circuit breaker did not halt the engine")

	if notifier.count() == 0 {
		t.Fatal("operator should be notified of the risk halt")
	}

	snap := eng.Stats()
	if snap.HaltReason != ReasonLossCeiling {
		t.Fatalf("unexpected halt reason %q", snap.HaltReason)
	}
	if !snap.Losses.Equal(decimal.NewFromFloat(0.12)) {
		t.Fatalf("expected losses 0.12, got %s", snap.Losses)
	}
}

func TestEngineLossCeilingBlocksAdmission(t *testing.T) {
	cfg := testEngineConfig()
	// Disable the periodic breaker so the admission-path check is what
	// rejects; the engine stays nominally running.
	cfg.Risk.RiskCheckInterval = time.Hour
	source := newFakeSource()
	exec := newScriptedExecutor(lossOutcome(0.2))
	recorder := &countingRecorder{}
	eng := New(cfg, source, passEvaluator{}, exec, recorder, nil, nil, zerolog.Nop())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	source.out <- []strategy.Opportunity{opportunity("big-loss", 0.05, 10)}
	eventually(t, func() bool { return recorder.count() == 1 }, "loss not recorded")

	source.out <- []strategy.Opportunity{opportunity("after", 0.05, 10)}
	time.Sleep(50 * time.Millisecond)
	eng.Stop()

	got := exec.executedIDs()
	if len(got) != 1 {
		t.Fatalf("no admission may follow a breached ceiling, got %v", got)
	}
}

func TestEngineStartStopIdempotent(t *testing.T) {
	source := newFakeSource()
	exec := newScriptedExecutor(winOutcome)
	eng := New(testEngineConfig(), source, passEvaluator{}, exec, &countingRecorder{}, nil, nil, zerolog.Nop())

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}

	eng.Stop()
	eng.Stop()

	if !source.stopped {
		t.Fatal("source should be stopped")
	}
}

func TestEngineSuccessRate(t *testing.T) {
	source := newFakeSource()

	wins := 0
	exec := newScriptedExecutor(func(opp strategy.Opportunity) strategy.ExecutionResult {
		wins++
		if wins <= 3 {
			return winOutcome(opp)
		}
		return lossOutcome(0.001)(opp)
	})
	recorder := &countingRecorder{}
	cfg := testEngineConfig()
	cfg.Risk.MaxDailyLoss = 100
	eng := New(cfg, source, passEvaluator{}, exec, recorder, nil, nil, zerolog.Nop())

	if got := eng.SuccessRate(); got != 0.5 {
		t.Fatalf("expected default success rate 0.5, got %v", got)
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	source.out <- []strategy.Opportunity{
		opportunity("1", 0.05, 10),
		opportunity("2", 0.05, 10),
		opportunity("3", 0.05, 10),
		opportunity("4", 0.05, 10),
	}
	eventually(t, func() bool { return recorder.count() == 4 }, "outcomes not recorded")
	eng.Stop()

	if got := eng.SuccessRate(); got != 0.75 {
		t.Fatalf("expected success rate 0.75, got %v", got)
	}
}

type instantSubmitter struct{}

func (instantSubmitter) Submit(ctx context.Context, calls []executor.Call, tip *big.Int) (common.Hash, error) {
	return common.BigToHash(big.NewInt(1)), nil
}

func (instantSubmitter) Confirm(ctx context.Context, hash common.Hash) (executor.Receipt, error) {
	return executor.Receipt{Success: true}, nil
}

type emptySwapBuilder struct{}

func (emptySwapBuilder) BuildSwap(step strategy.PathStep) (executor.Call, error) {
	return executor.Call{}, nil
}

// Stop may land between the engine's admission decision and the executor's
// launch of the submission; the executor must refuse the late admission
// rather than fault during shutdown.
func TestStopRacingAdmission(t *testing.T) {
	for i := 0; i < 400; i++ {
		source := newFakeSource()
		exec := executor.New(config.ExecutorConfig{
			MaxRetries:     1,
			SubmitTimeout:  time.Second,
			ConfirmTimeout: time.Second,
			GasLimit:       500000,
			BaseTipGwei:    2,
			ProfitShare:    0.5,
			FeeCapGwei:     100,
		}, 3, instantSubmitter{}, emptySwapBuilder{}, nil, zerolog.Nop())
		eng := New(testEngineConfig(), source, passEvaluator{}, exec, &countingRecorder{}, nil, nil, zerolog.Nop())

		if err := eng.Start(context.Background()); err != nil {
			t.Fatalf("iteration %d: start: %v", i, err)
		}
		source.out <- []strategy.Opportunity{
			opportunity("race-a", 0.05, 10),
			opportunity("race-b", 0.05, 10),
		}
		eng.Stop()
	}
}
