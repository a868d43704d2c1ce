package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every interval.
type TickFunc func(ctx context.Context) error

// Options tune loop behaviour.
type Options struct {
	Name         string
	Interval     time.Duration
	StartupDelay time.Duration
	ErrorBackoff time.Duration
}

// Loop drives a periodic background task. A failing tick is logged and the
// loop continues after a short backoff; only context cancellation stops it.
type Loop struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Loop instance.
func New(opts Options, logger zerolog.Logger) *Loop {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = time.Second
	}
	return &Loop{opts: opts, logger: logger.With().Str("component", "scheduler").Str("loop", opts.Name).Logger()}
}

// Run blocks, invoking the tick function every interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, tick TickFunc) error {
	if l.opts.StartupDelay > 0 {
		if err := sleep(ctx, l.opts.StartupDelay); err != nil {
			return err
		}
	}

	for {
		if err := sleep(ctx, l.opts.Interval); err != nil {
			return err
		}

		if err := tick(ctx); err != nil {
			l.logger.Error().Err(err).Msg("tick execution failed")
			if backoffErr := sleep(ctx, l.opts.ErrorBackoff); backoffErr != nil {
				return backoffErr
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
