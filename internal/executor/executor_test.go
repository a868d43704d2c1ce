package executor

import (
	"context"
	"errors"
	"math/big"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/strategy"
)

func testExecutorConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
		SubmitTimeout:  5 * time.Second,
		ConfirmTimeout: 5 * time.Second,
		GasLimit:       500000,
		BaseTipGwei:    2,
		ProfitShare:    0.5,
		FeeCapGwei:     100,
	}
}

func testOpportunity(id string, profit float64) strategy.Opportunity {
	return strategy.Opportunity{
		ID:              id,
		Type:            strategy.TypeArbitrage,
		EstimatedProfit: decimal.NewFromFloat(profit),
		Path:            []strategy.PathStep{{}},
	}
}

// fakeSubmitter resolves submissions on demand so tests control how long
// each one stays in flight.
type fakeSubmitter struct {
	mu        sync.Mutex
	submits   int
	gate      chan struct{}
	submitErr error
	receipt   Receipt
	confirmEr error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		gate:    make(chan struct{}),
		receipt: Receipt{Success: true, FeePaid: decimal.NewFromFloat(0.001)},
	}
}

func (f *fakeSubmitter) Submit(ctx context.Context, calls []Call, tip *big.Int) (common.Hash, error) {
	f.mu.Lock()
	f.submits++
	n := f.submits
	err := f.submitErr
	f.mu.Unlock()
	if err != nil {
		return common.Hash{}, err
	}

	select {
	case <-f.gate:
	case <-ctx.Done():
		return common.Hash{}, ctx.Err()
	}
	return common.BigToHash(big.NewInt(int64(n))), nil
}

func (f *fakeSubmitter) Confirm(ctx context.Context, hash common.Hash) (Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.confirmEr != nil {
		return Receipt{}, f.confirmEr
	}
	return f.receipt, nil
}

// passBuilder emits an empty call per path step.
type passBuilder struct{}

func (passBuilder) BuildSwap(step strategy.PathStep) (Call, error) {
	return Call{To: step.Venue}, nil
}

func drainResults(t *testing.T, e *Executor, n int) []strategy.ExecutionResult {
	t.Helper()
	out := make([]strategy.ExecutionResult, 0, n)
	timeout := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case res := <-e.Results():
			out = append(out, res)
		case <-timeout:
			t.Fatalf("timed out waiting for %d results, got %d", n, len(out))
		}
	}
	return out
}

func TestExecuteConcurrencyCap(t *testing.T) {
	sub := newFakeSubmitter()
	e := New(testExecutorConfig(), 2, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("a", 1)) {
		t.Fatal("first admission should succeed")
	}
	if !e.Execute(testOpportunity("b", 1)) {
		t.Fatal("second admission should succeed")
	}
	if e.Execute(testOpportunity("c", 1)) {
		t.Fatal("third admission should be rejected at the cap")
	}
	if got := e.InFlight(); got != 2 {
		t.Fatalf("expected 2 in flight, got %d", got)
	}

	close(sub.gate)
	drainResults(t, e, 2)

	// The slots free up once outcomes resolve.
	deadline := time.Now().Add(time.Second)
	for e.InFlight() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("in-flight slots not released, still %d", e.InFlight())
		}
		time.Sleep(time.Millisecond)
	}

	if !e.Execute(testOpportunity("c", 1)) {
		t.Fatal("admission should succeed again after slots free up")
	}
	drainResults(t, e, 1)
	e.Close()
}

func TestExecuteDuplicateRejected(t *testing.T) {
	sub := newFakeSubmitter()
	e := New(testExecutorConfig(), 4, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("same", 1)) {
		t.Fatal("first admission should succeed")
	}
	if e.Execute(testOpportunity("same", 1)) {
		t.Fatal("duplicate in-flight opportunity must be rejected")
	}

	close(sub.gate)
	drainResults(t, e, 1)
	e.Close()
}

func TestExecuteSuccessResult(t *testing.T) {
	sub := newFakeSubmitter()
	close(sub.gate)
	e := New(testExecutorConfig(), 1, sub, passBuilder{}, nil, zerolog.Nop())

	opp := testOpportunity("win", 0.25)
	if !e.Execute(opp) {
		t.Fatal("admission should succeed")
	}

	res := drainResults(t, e, 1)[0]
	if !res.Success {
		t.Fatalf("expected success, got failure: %s", res.Reason)
	}
	if !res.Profit.Equal(opp.EstimatedProfit) {
		t.Fatalf("expected profit %s, got %s", opp.EstimatedProfit, res.Profit)
	}
	if res.TxHash == (common.Hash{}) {
		t.Fatal("expected a transaction hash on success")
	}
	e.Close()
}

func TestExecuteSubmitFailure(t *testing.T) {
	sub := newFakeSubmitter()
	sub.submitErr = errors.New("nonce too low")
	e := New(testExecutorConfig(), 1, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("lose", 1)) {
		t.Fatal("admission should succeed")
	}

	res := drainResults(t, e, 1)[0]
	if res.Success {
		t.Fatal("expected failure")
	}
	if !res.Profit.IsZero() {
		t.Fatalf("failed execution must report zero profit, got %s", res.Profit)
	}
	if res.Reason == "" {
		t.Fatal("failure must carry a reason")
	}
	e.Close()
}

func TestExecuteRevertedKeepsFee(t *testing.T) {
	sub := newFakeSubmitter()
	close(sub.gate)
	fee := decimal.NewFromFloat(0.002)
	sub.receipt = Receipt{Success: false, FeePaid: fee}
	e := New(testExecutorConfig(), 1, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("revert", 1)) {
		t.Fatal("admission should succeed")
	}

	res := drainResults(t, e, 1)[0]
	if res.Success {
		t.Fatal("reverted execution must be a failure")
	}
	if !res.FeePaid.Equal(fee) {
		t.Fatalf("expected fee %s on revert, got %s", fee, res.FeePaid)
	}
	if !res.Profit.IsZero() {
		t.Fatalf("reverted execution must report zero profit, got %s", res.Profit)
	}
	e.Close()
}

func TestExecuteNoBuilder(t *testing.T) {
	sub := newFakeSubmitter()
	e := New(testExecutorConfig(), 1, sub, nil, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("nb", 1)) {
		t.Fatal("admission should succeed")
	}

	res := drainResults(t, e, 1)[0]
	if res.Success {
		t.Fatal("expected failure without a builder")
	}
	e.Close()
}

func TestCloseClosesResults(t *testing.T) {
	sub := newFakeSubmitter()
	close(sub.gate)
	e := New(testExecutorConfig(), 1, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("last", 1)) {
		t.Fatal("admission should succeed")
	}
	drainResults(t, e, 1)
	e.Close()

	if _, open := <-e.Results(); open {
		t.Fatal("results channel should be closed after Close")
	}
}

func TestExecuteAfterCloseRejected(t *testing.T) {
	sub := newFakeSubmitter()
	e := New(testExecutorConfig(), 2, sub, passBuilder{}, nil, zerolog.Nop())

	if !e.Execute(testOpportunity("inflight", 1)) {
		t.Fatal("admission should succeed")
	}

	closed := make(chan struct{})
	go func() {
		e.Close()
		close(closed)
	}()

	// Close is parked on the blocked submission; a late admission
	// attempt must still be turned away.
	time.Sleep(10 * time.Millisecond)
	if e.Execute(testOpportunity("late", 1)) {
		t.Fatal("admission after Close should be rejected")
	}

	close(sub.gate)
	drainResults(t, e, 1)
	<-closed

	if _, open := <-e.Results(); open {
		t.Fatal("results channel should be closed after Close")
	}
}

func TestExecuteCloseRace(t *testing.T) {
	for i := 0; i < 500; i++ {
		sub := newFakeSubmitter()
		close(sub.gate)
		e := New(testExecutorConfig(), 3, sub, passBuilder{}, nil, zerolog.Nop())

		admitted := make(chan int, 1)
		go func() {
			n := 0
			for j := 0; j < 4; j++ {
				if e.Execute(testOpportunity(strconv.Itoa(j), 1)) {
					n++
				}
			}
			admitted <- n
		}()

		e.Close()

		// Every admission that beat Close must deliver its result
		// before the channel closes; none may arrive after.
		got := 0
		for range e.Results() {
			got++
		}
		if want := <-admitted; got != want {
			t.Fatalf("iteration %d: admitted %d but received %d results", i, want, got)
		}
	}
}
