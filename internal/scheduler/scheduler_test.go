package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestLoopTicksUntilCancelled(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())

	loop := New(Options{Name: "test", Interval: 5 * time.Millisecond}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- loop.Run(ctx, func(context.Context) error {
			ticks.Add(1)
			return nil
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 ticks, got %d", ticks.Load())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLoopSurvivesTickErrors(t *testing.T) {
	var ticks atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loop := New(Options{Name: "test", Interval: time.Millisecond, ErrorBackoff: time.Millisecond}, zerolog.Nop())

	go func() {
		_ = loop.Run(ctx, func(context.Context) error {
			ticks.Add(1)
			return errors.New("boom")
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	for ticks.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("loop should keep ticking through errors, got %d", ticks.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestLoopStartupDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loop := New(Options{Name: "test", Interval: time.Millisecond, StartupDelay: time.Hour}, zerolog.Nop())

	if err := loop.Run(ctx, func(context.Context) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled startup delay should return context.Canceled, got %v", err)
	}
}

func TestNewPanicsOnZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-positive interval")
		}
	}()
	New(Options{Name: "bad"}, zerolog.Nop())
}
