package model

import (
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/rs/zerolog"

	"mev-sentinel/internal/config"
	"mev-sentinel/internal/strategy"
)

var (
	// ErrBatchTooSmall indicates the training batch cannot be split for validation.
	ErrBatchTooSmall = errors.New("model: training batch too small")
)

// Sample pairs a feature vector with its observed execution label.
type Sample struct {
	Features strategy.Features
	Label    float64
}

// Model maintains a logistic scorer over the fixed feature vector. Scoring
// reads the parameters as of the start of the call; at most one training
// pass runs at a time and a concurrent request is a no-op.
type Model struct {
	cfg    config.ModelConfig
	logger zerolog.Logger

	paramMu sync.RWMutex
	weights strategy.Features
	bias    float64

	trainMu sync.Mutex

	bufMu  sync.Mutex
	buffer []Sample

	rng *rand.Rand
}

// New constructs a scoring model with zeroed parameters.
func New(cfg config.ModelConfig, logger zerolog.Logger) *Model {
	return &Model{
		cfg:    cfg,
		logger: logger.With().Str("component", "model").Logger(),
		buffer: make([]Sample, 0, cfg.BatchSize),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Score returns the success probability for a feature vector in [0, 1].
// It is a pure read and never blocks on an in-flight training pass.
func (m *Model) Score(f strategy.Features) float64 {
	m.paramMu.RLock()
	w, b := m.weights, m.bias
	m.paramMu.RUnlock()

	z := b
	for i := range f {
		z += w[i] * f[i]
	}
	return sigmoid(z)
}

// Train runs a fixed number of epochs of gradient descent over the batch,
// holding back a validation split. If a training pass is already running
// the call returns immediately without queueing.
func (m *Model) Train(batch []Sample) error {
	if !m.trainMu.TryLock() {
		m.logger.Debug().Msg("training already in progress; skipping")
		return nil
	}
	defer m.trainMu.Unlock()

	train, val, err := m.split(batch)
	if err != nil {
		return err
	}

	m.paramMu.RLock()
	w, b := m.weights, m.bias
	m.paramMu.RUnlock()

	lr := m.cfg.LearningRate
	for epoch := 0; epoch < m.cfg.Epochs; epoch++ {
		m.rng.Shuffle(len(train), func(i, j int) {
			train[i], train[j] = train[j], train[i]
		})
		for _, s := range train {
			z := b
			for i := range s.Features {
				z += w[i] * s.Features[i]
			}
			grad := sigmoid(z) - s.Label
			for i := range s.Features {
				w[i] -= lr * grad * s.Features[i]
			}
			b -= lr * grad
		}
	}

	valLoss := logLoss(w, b, val)

	m.paramMu.Lock()
	m.weights, m.bias = w, b
	m.paramMu.Unlock()

	m.logger.Info().
		Int("train_samples", len(train)).
		Int("val_samples", len(val)).
		Float64("val_loss", valLoss).
		Msg("model retrained")
	return nil
}

// RecordOutcome appends a training sample from an execution result. When the
// buffer reaches the configured batch size it is handed to Train and reset;
// the reset happens even when training fails so the buffer cannot grow
// without bound.
func (m *Model) RecordOutcome(res strategy.ExecutionResult) {
	label := 0.0
	if res.Success {
		label = 1.0
	}

	m.bufMu.Lock()
	m.buffer = append(m.buffer, Sample{Features: res.Opportunity.Features, Label: label})
	if len(m.buffer) < m.cfg.BatchSize {
		m.bufMu.Unlock()
		return
	}
	batch := m.buffer
	m.buffer = make([]Sample, 0, m.cfg.BatchSize)
	m.bufMu.Unlock()

	if err := m.Train(batch); err != nil {
		m.logger.Error().Err(err).Int("batch", len(batch)).Msg("training pass failed; batch discarded")
	}
}

func (m *Model) split(batch []Sample) (train, val []Sample, err error) {
	shuffled := make([]Sample, len(batch))
	copy(shuffled, batch)
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	holdout := int(float64(len(shuffled)) * m.cfg.ValidationSplit)
	if holdout < 1 || len(shuffled)-holdout < 1 {
		return nil, nil, ErrBatchTooSmall
	}
	return shuffled[holdout:], shuffled[:holdout], nil
}

func (m *Model) bufferLen() int {
	m.bufMu.Lock()
	defer m.bufMu.Unlock()
	return len(m.buffer)
}

func logLoss(w strategy.Features, b float64, samples []Sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	const eps = 1e-12
	var sum float64
	for _, s := range samples {
		z := b
		for i := range s.Features {
			z += w[i] * s.Features[i]
		}
		p := sigmoid(z)
		sum -= s.Label*math.Log(p+eps) + (1-s.Label)*math.Log(1-p+eps)
	}
	return sum / float64(len(samples))
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}
