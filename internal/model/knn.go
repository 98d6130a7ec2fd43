package model

import (
	"fmt"
	"math"
	"sort"
)

// KNN predicts the distance-weighted mean target of the k nearest training
// rows under Euclidean distance.
type KNN struct {
	K int

	trainX    [][]float64
	trainY    []float64
	nFeatures int
	fitted    bool
}

// NewKNN creates a k-nearest-neighbors regressor.
func NewKNN(k int) *KNN {
	return &KNN{K: k}
}

func (m *KNN) Name() string { return "knn" }

func (m *KNN) Params() map[string]float64 {
	return map[string]float64{"k": float64(m.K)}
}

func (m *KNN) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	if m.K <= 0 {
		return fmt.Errorf("knn: k must be positive, got %d", m.K)
	}
	if m.K > len(X) {
		m.K = len(X)
	}
	// Rows are retained by reference; the feature table is read-only after
	// construction.
	m.trainX = X
	m.trainY = y
	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *KNN) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}

	type neighbor struct {
		dist   float64
		target float64
	}
	neighbors := make([]neighbor, len(m.trainX))
	for i, row := range m.trainX {
		neighbors[i] = neighbor{dist: euclidean(x, row), target: m.trainY[i]}
	}
	sort.Slice(neighbors, func(a, b int) bool { return neighbors[a].dist < neighbors[b].dist })

	num, den := 0.0, 0.0
	for _, nb := range neighbors[:m.K] {
		w := 1 / (nb.dist + 1e-9)
		num += w * nb.target
		den += w
	}
	return num / den, nil
}

func (m *KNN) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

func euclidean(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
