package features

import (
	"errors"

	"gonum.org/v1/gonum/stat"
)

// ErrNotFitted is returned when Transform or Inverse is called before Fit.
var ErrNotFitted = errors.New("features: scaler not fitted")

// StandardScaler standardizes the target to zero mean and unit variance.
// Parameters learned by Fit are reused by Inverse to map predictions back to
// the original units.
type StandardScaler struct {
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	fitted bool
}

// Fit learns mean and standard deviation from values.
func (sc *StandardScaler) Fit(values []float64) {
	sc.Mean = stat.Mean(values, nil)
	sc.Std = stat.StdDev(values, nil)
	sc.fitted = true
}

// Transform returns the standardized copy of values. A constant series
// (zero variance) maps to all zeros.
func (sc *StandardScaler) Transform(values []float64) ([]float64, error) {
	if !sc.fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if sc.Std == 0 {
			out[i] = 0
			continue
		}
		out[i] = (v - sc.Mean) / sc.Std
	}
	return out, nil
}

// Inverse maps standardized values back to the original units.
func (sc *StandardScaler) Inverse(values []float64) ([]float64, error) {
	if !sc.fitted {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v*sc.Std + sc.Mean
	}
	return out, nil
}

// Fitted reports whether Fit has run.
func (sc *StandardScaler) Fitted() bool {
	return sc.fitted
}
