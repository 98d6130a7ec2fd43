package explain

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/peakshaver/glassbox/pkg/otel"
)

// Contribution attributes part of a single prediction to one feature.
type Contribution struct {
	Feature      string  `json:"feature"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
}

// Attribution decomposes prediction(x) into the baseline plus per-feature
// contributions. For break-down the decomposition is exact; for Shapley it
// is normalized so the contributions sum to prediction minus baseline.
type Attribution struct {
	Method        string         `json:"method"` // "break_down" or "shapley_mc"
	Baseline      float64        `json:"baseline"`
	Prediction    float64        `json:"prediction"`
	Contributions []Contribution `json:"contributions"`
	Samples       int            `json:"samples,omitempty"`
	ComputeTimeMs float64        `json:"compute_time_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// TopFeatures returns the n contributions largest in absolute value.
func (a *Attribution) TopFeatures(n int) []Contribution {
	ranked := make([]Contribution, len(a.Contributions))
	copy(ranked, a.Contributions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Contribution) > math.Abs(ranked[j].Contribution)
	})
	if n > len(ranked) {
		n = len(ranked)
	}
	return ranked[:n]
}

// BreakDown walks features from the baseline toward x in order of their
// individual effect size, recording the prediction delta each switch causes.
// Contributions plus the baseline reproduce prediction(x) exactly.
func (e *Explainer) BreakDown(ctx context.Context, x []float64) (*Attribution, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.breakdown",
		otel.ExplainAttributes("break_down", "", 0)...)
	defer span.End()

	start := time.Now()
	if err := e.checkVector(x); err != nil {
		return nil, err
	}

	d := e.frame.NumFeatures()

	// 1. Order features by single-switch effect magnitude.
	type effect struct {
		idx int
		abs float64
	}
	effects := make([]effect, d)
	probe := make([]float64, d)
	for j := 0; j < d; j++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		copy(probe, e.baseline)
		probe[j] = x[j]
		p, err := e.predict(probe)
		if err != nil {
			return nil, fmt.Errorf("explain: break-down probe %s: %w", e.frame.Names[j], err)
		}
		effects[j] = effect{idx: j, abs: math.Abs(p - e.base)}
	}
	sort.SliceStable(effects, func(a, b int) bool { return effects[a].abs > effects[b].abs })

	// 2. Switch features in that order, attributing each delta.
	current := make([]float64, d)
	copy(current, e.baseline)
	prev := e.base
	contributions := make([]Contribution, d)
	for rank, ef := range effects {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		current[ef.idx] = x[ef.idx]
		p, err := e.predict(current)
		if err != nil {
			return nil, fmt.Errorf("explain: break-down step %s: %w", e.frame.Names[ef.idx], err)
		}
		contributions[rank] = Contribution{
			Feature:      e.frame.Names[ef.idx],
			Value:        x[ef.idx],
			Contribution: p - prev,
		}
		prev = p
	}

	e.countExplanation("break_down")
	return &Attribution{
		Method:        "break_down",
		Baseline:      e.base,
		Prediction:    prev,
		Contributions: contributions,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Shapley estimates Shapley values by Monte-Carlo permutation sampling: each
// sample draws a random feature order and a random background row, walks the
// order flipping features from the row's values to x's, and credits each
// feature its marginal prediction change. Attributions are scaled so their
// sum equals prediction minus baseline.
func (e *Explainer) Shapley(ctx context.Context, x []float64, samples int) (*Attribution, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.shapley",
		otel.ExplainAttributes("shapley_mc", "", samples)...)
	defer span.End()

	start := time.Now()
	if err := e.checkVector(x); err != nil {
		return nil, err
	}
	if samples <= 0 {
		samples = e.cfg.Samples
	}

	prediction, err := e.predict(x)
	if err != nil {
		return nil, fmt.Errorf("explain: shapley prediction: %w", err)
	}

	rng := e.rng(2)
	d := e.frame.NumFeatures()
	n := e.frame.NumRows()
	sums := make([]float64, d)
	order := make([]int, d)
	for i := range order {
		order[i] = i
	}

	walk := make([][]float64, d+1)
	for s := 0; s < samples; s++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}

		rng.Shuffle(d, func(a, b int) { order[a], order[b] = order[b], order[a] })
		z := e.frame.Row(rng.Intn(n))

		// The walk's vectors are known upfront, so predict them in one batch.
		vec := make([]float64, d)
		copy(vec, z)
		for k := 0; k <= d; k++ {
			if k > 0 {
				vec[order[k-1]] = x[order[k-1]]
			}
			step := make([]float64, d)
			copy(step, vec)
			walk[k] = step
		}
		pred, err := e.predictBatch(walk)
		if err != nil {
			return nil, fmt.Errorf("explain: shapley sample %d: %w", s, err)
		}
		for k := 1; k <= d; k++ {
			sums[order[k-1]] += pred[k] - pred[k-1]
		}
	}

	attributions := make([]float64, d)
	for j := range attributions {
		attributions[j] = sums[j] / float64(samples)
	}

	// Rescale onto the baseline gap so the additive identity holds.
	sumAttr := 0.0
	for _, a := range attributions {
		sumAttr += a
	}
	target := prediction - e.base
	if math.Abs(sumAttr) > 1e-9 {
		scale := target / sumAttr
		for j := range attributions {
			attributions[j] *= scale
		}
	}

	contributions := make([]Contribution, d)
	for j := 0; j < d; j++ {
		contributions[j] = Contribution{
			Feature:      e.frame.Names[j],
			Value:        x[j],
			Contribution: attributions[j],
		}
	}

	e.countExplanation("shapley_mc")
	return &Attribution{
		Method:        "shapley_mc",
		Baseline:      e.base,
		Prediction:    prediction,
		Contributions: contributions,
		Samples:       samples,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}
