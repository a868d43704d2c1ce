package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

type statsData struct {
	trades      int
	successes   int
	failures    int
	profit      decimal.Decimal
	losses      decimal.Decimal
	windowStart time.Time
}

func newStatsData() statsData {
	return statsData{
		profit:      decimal.Zero,
		losses:      decimal.Zero,
		windowStart: time.Now().UTC(),
	}
}

// Stats is a point-in-time snapshot of the engine's counters.
type Stats struct {
	Trades      int
	Profit      decimal.Decimal
	Losses      decimal.Decimal
	WindowStart time.Time
	Runtime     time.Duration
	Running     bool
	Halted      bool
	HaltReason  string
}

// Stats returns a consistent snapshot, safe to call concurrently with every
// mutation path.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Stats {
	return Stats{
		Trades:      e.stats.trades,
		Profit:      e.stats.profit,
		Losses:      e.stats.losses,
		WindowStart: e.stats.windowStart,
		Runtime:     time.Since(e.stats.windowStart),
		Running:     e.running,
		Halted:      e.halted,
		HaltReason:  e.haltReason,
	}
}

// SuccessRate reports the fraction of executed opportunities that
// confirmed successfully in the current window, defaulting to 0.5 before
// any outcome exists. The feed uses it as a model feature.
func (e *Engine) SuccessRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.stats.successes + e.stats.failures
	if total == 0 {
		return 0.5
	}
	return float64(e.stats.successes) / float64(total)
}

// resetStats starts a fresh daily window.
func (e *Engine) resetStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats = newStatsData()
	e.logger.Info().Msg("daily stats reset")
}
