// Package model provides the regression families the search stage draws
// from, behind a single interface. Every family trains on a row-major
// feature matrix and predicts one value per feature vector.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("model: not fitted")
	// ErrNoData is returned when Fit receives an empty training set.
	ErrNoData = errors.New("model: no training data")
)

// Model is a fitted or fittable regression model.
type Model interface {
	Fit(X [][]float64, y []float64) error
	Predict(x []float64) (float64, error)
	PredictBatch(X [][]float64) ([]float64, error)
	Name() string
	Params() map[string]float64
}

// validateTraining enforces the shared Fit contract: non-empty data, one
// target per row, rectangular feature matrix.
func validateTraining(X [][]float64, y []float64) (nFeatures int, err error) {
	if len(X) == 0 {
		return 0, ErrNoData
	}
	if len(X) != len(y) {
		return 0, fmt.Errorf("model: %d rows but %d targets", len(X), len(y))
	}
	nFeatures = len(X[0])
	if nFeatures == 0 {
		return 0, fmt.Errorf("model: rows have no features")
	}
	for i, row := range X {
		if len(row) != nFeatures {
			return 0, fmt.Errorf("model: row %d has %d features, want %d", i, len(row), nFeatures)
		}
	}
	return nFeatures, nil
}

func checkVector(x []float64, nFeatures int) error {
	if len(x) != nFeatures {
		return fmt.Errorf("model: feature vector has %d values, want %d", len(x), nFeatures)
	}
	return nil
}

// predictBatch implements PredictBatch for families that predict row by row.
func predictBatch(m Model, X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := m.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
