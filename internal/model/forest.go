package model

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Forest is a bagged ensemble of regression trees. Trees train
// concurrently, each from its own bootstrap sample and seed.
type Forest struct {
	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MaxFeatures     int // 0 = nFeatures/3, minimum 1
	Bootstrap       bool
	Seed            int64

	trees     []*RegressionTree
	nFeatures int
	fitted    bool
}

// NewForest creates a forest with nEstimators trees of the given depth.
func NewForest(nEstimators, maxDepth int, seed int64) *Forest {
	return &Forest{
		NEstimators:     nEstimators,
		MaxDepth:        maxDepth,
		MinSamplesSplit: 2,
		Bootstrap:       true,
		Seed:            seed,
	}
}

func (m *Forest) Name() string { return "forest" }

func (m *Forest) Params() map[string]float64 {
	return map[string]float64{
		"n_estimators": float64(m.NEstimators),
		"max_depth":    float64(m.MaxDepth),
	}
}

func (m *Forest) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	if m.NEstimators <= 0 {
		return fmt.Errorf("forest: need at least one tree, got %d", m.NEstimators)
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	maxFeatures := m.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = d / 3
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	n := len(X)
	trees := make([]*RegressionTree, m.NEstimators)
	var wg sync.WaitGroup
	errCh := make(chan error, m.NEstimators)

	for t := 0; t < m.NEstimators; t++ {
		wg.Add(1)
		go func(t int) {
			defer wg.Done()
			// Per-tree source avoids lock contention on a shared rng.
			rng := rand.New(rand.NewSource(seed + int64(t)))

			Xs, ys := X, y
			if m.Bootstrap {
				// Rows are shared slices; sampling copies headers only.
				Xs = make([][]float64, n)
				ys = make([]float64, n)
				for i := 0; i < n; i++ {
					src := rng.Intn(n)
					Xs[i] = X[src]
					ys[i] = y[src]
				}
			}

			tree := NewRegressionTree(m.MaxDepth, m.MinSamplesSplit)
			tree.MaxFeatures = maxFeatures
			tree.Seed = seed + int64(t) + 1
			if err := tree.Fit(Xs, ys); err != nil {
				errCh <- fmt.Errorf("tree %d: %w", t, err)
				return
			}
			trees[t] = tree
		}(t)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}

	m.trees = trees
	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *Forest) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	sum := 0.0
	for _, tree := range m.trees {
		v, err := tree.Predict(x)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(m.trees)), nil
}

func (m *Forest) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

// GBM is gradient boosting over shallow regression trees with a squared
// error loss: each stage fits the current residuals and is added with a
// shrinkage factor.
type GBM struct {
	NEstimators  int
	LearningRate float64
	MaxDepth     int
	Seed         int64

	base      float64
	trees     []*RegressionTree
	nFeatures int
	fitted    bool
}

// NewGBM creates a boosted ensemble with nEstimators stages.
func NewGBM(nEstimators int, learningRate float64, maxDepth int, seed int64) *GBM {
	return &GBM{
		NEstimators:  nEstimators,
		LearningRate: learningRate,
		MaxDepth:     maxDepth,
		Seed:         seed,
	}
}

func (m *GBM) Name() string { return "gbm" }

func (m *GBM) Params() map[string]float64 {
	return map[string]float64{
		"n_estimators":  float64(m.NEstimators),
		"learning_rate": m.LearningRate,
		"max_depth":     float64(m.MaxDepth),
	}
}

func (m *GBM) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	if m.NEstimators <= 0 {
		return fmt.Errorf("gbm: need at least one stage, got %d", m.NEstimators)
	}
	if m.LearningRate <= 0 || m.LearningRate > 1 {
		return fmt.Errorf("gbm: learning rate must be in (0, 1], got %g", m.LearningRate)
	}

	n := len(X)
	m.base = 0
	for _, v := range y {
		m.base += v
	}
	m.base /= float64(n)

	current := make([]float64, n)
	for i := range current {
		current[i] = m.base
	}
	residual := make([]float64, n)

	m.trees = m.trees[:0]
	for stage := 0; stage < m.NEstimators; stage++ {
		for i := range residual {
			residual[i] = y[i] - current[i]
		}

		tree := NewRegressionTree(m.MaxDepth, 2)
		tree.Seed = m.Seed + int64(stage) + 1
		if err := tree.Fit(X, residual); err != nil {
			return fmt.Errorf("gbm stage %d: %w", stage, err)
		}

		update, err := tree.PredictBatch(X)
		if err != nil {
			return fmt.Errorf("gbm stage %d: %w", stage, err)
		}
		for i := range current {
			current[i] += m.LearningRate * update[i]
		}
		m.trees = append(m.trees, tree)
	}

	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *GBM) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	out := m.base
	for _, tree := range m.trees {
		v, err := tree.Predict(x)
		if err != nil {
			return 0, err
		}
		out += m.LearningRate * v
	}
	return out, nil
}

func (m *GBM) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}
