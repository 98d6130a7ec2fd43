package model

import (
	"fmt"
	"math"
)

// Report carries the regression accuracy measures used on validation and
// test blocks.
type Report struct {
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
	MAPE float64 `json:"mape"`
	R2   float64 `json:"r2"`
}

// MAE returns the mean absolute error.
func MAE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		sum += math.Abs(yTrue[i] - yPred[i])
	}
	return sum / float64(len(yTrue))
}

// MSE returns the mean squared error.
func MSE(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		sum += d * d
	}
	return sum / float64(len(yTrue))
}

// RMSE returns the root mean squared error.
func RMSE(yTrue, yPred []float64) float64 {
	return math.Sqrt(MSE(yTrue, yPred))
}

// MAPE returns the mean absolute percentage error over observations with a
// non-zero actual value.
func MAPE(yTrue, yPred []float64) float64 {
	sum, n := 0.0, 0
	for i := range yTrue {
		if yTrue[i] == 0 {
			continue
		}
		sum += math.Abs((yTrue[i] - yPred[i]) / yTrue[i])
		n++
	}
	if n == 0 {
		return 0
	}
	return 100 * sum / float64(n)
}

// R2 returns the coefficient of determination. A constant actual series
// yields 0.
func R2(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	ssRes, ssTot := 0.0, 0.0
	for i := range yTrue {
		d := yTrue[i] - yPred[i]
		ssRes += d * d
		t := yTrue[i] - mean
		ssTot += t * t
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// Evaluate predicts X with m and scores the predictions against y.
func Evaluate(m Model, X [][]float64, y []float64) (*Report, error) {
	if len(X) != len(y) {
		return nil, fmt.Errorf("model: %d rows but %d targets", len(X), len(y))
	}
	pred, err := m.PredictBatch(X)
	if err != nil {
		return nil, fmt.Errorf("evaluate %s: %w", m.Name(), err)
	}
	return &Report{
		MAE:  MAE(y, pred),
		RMSE: RMSE(y, pred),
		MAPE: MAPE(y, pred),
		R2:   R2(y, pred),
	}, nil
}
