package automl

import (
	"errors"
	"fmt"

	"github.com/peakshaver/glassbox/internal/model"
)

// ErrEmptyEnsemble is returned when no members are supplied.
var ErrEmptyEnsemble = errors.New("automl: ensemble needs at least one member")

// Member pairs a fitted model with its combination weight.
type Member struct {
	Model  model.Model
	Weight float64
}

// Ensemble combines the leaderboard's top models as a weighted average.
// Weights are normalized to sum to one at construction.
type Ensemble struct {
	members []Member
}

// NewEnsemble builds an ensemble over members, normalizing their weights.
func NewEnsemble(members []Member) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, ErrEmptyEnsemble
	}
	total := 0.0
	for _, m := range members {
		if m.Model == nil {
			return nil, fmt.Errorf("automl: nil member model")
		}
		if m.Weight < 0 {
			return nil, fmt.Errorf("automl: negative member weight %g", m.Weight)
		}
		total += m.Weight
	}
	if total == 0 {
		return nil, fmt.Errorf("automl: member weights sum to zero")
	}

	normalized := make([]Member, len(members))
	for i, m := range members {
		normalized[i] = Member{Model: m.Model, Weight: m.Weight / total}
	}
	return &Ensemble{members: normalized}, nil
}

func (e *Ensemble) Name() string { return "ensemble" }

func (e *Ensemble) Params() map[string]float64 {
	return map[string]float64{"members": float64(len(e.members))}
}

// Fit refits every member on the given data, keeping the weights.
func (e *Ensemble) Fit(X [][]float64, y []float64) error {
	for i, m := range e.members {
		if err := m.Model.Fit(X, y); err != nil {
			return fmt.Errorf("ensemble member %d (%s): %w", i, m.Model.Name(), err)
		}
	}
	return nil
}

func (e *Ensemble) Predict(x []float64) (float64, error) {
	out := 0.0
	for _, m := range e.members {
		v, err := m.Model.Predict(x)
		if err != nil {
			return 0, fmt.Errorf("ensemble member %s: %w", m.Model.Name(), err)
		}
		out += m.Weight * v
	}
	return out, nil
}

func (e *Ensemble) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		v, err := e.Predict(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Members returns the member count.
func (e *Ensemble) Members() int { return len(e.members) }

// Composition lists member model names with their normalized weights.
func (e *Ensemble) Composition() map[string]float64 {
	out := make(map[string]float64, len(e.members))
	for _, m := range e.members {
		out[m.Model.Name()] += m.Weight
	}
	return out
}
