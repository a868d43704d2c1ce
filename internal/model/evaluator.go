package model

import (
	"sort"
	"sync"

	"mev-sentinel/internal/strategy"
)

// Scorer is the read-only scoring contract the evaluator depends on.
type Scorer interface {
	Score(f strategy.Features) float64
}

// Evaluator scores candidate batches and returns them filtered and ranked.
type Evaluator struct {
	scorer   Scorer
	minScore float64
}

// NewEvaluator constructs an evaluator over a scorer with a minimum score bar.
func NewEvaluator(scorer Scorer, minScore float64) *Evaluator {
	return &Evaluator{scorer: scorer, minScore: minScore}
}

// EvaluateAndRank scores every candidate concurrently, drops candidates at or
// below the minimum score, and returns the rest sorted by descending score.
// Ties keep their original arrival order.
func (e *Evaluator) EvaluateAndRank(candidates []strategy.Opportunity) []strategy.Opportunity {
	if len(candidates) == 0 {
		return nil
	}

	scored := make([]strategy.Opportunity, len(candidates))
	var wg sync.WaitGroup
	wg.Add(len(candidates))
	for i, c := range candidates {
		go func(i int, c strategy.Opportunity) {
			defer wg.Done()
			c.Score = e.scorer.Score(c.Features)
			scored[i] = c
		}(i, c)
	}
	wg.Wait()

	kept := scored[:0]
	for _, c := range scored {
		if c.Score > e.minScore {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})
	return kept
}
