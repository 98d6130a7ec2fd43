package explain

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/peakshaver/glassbox/pkg/otel"
)

// CeterisParibus is a what-if curve: the prediction for one instance as a
// single feature sweeps its observed range with everything else held fixed.
type CeterisParibus struct {
	Feature       string    `json:"feature"`
	Grid          []float64 `json:"grid"`
	Values        []float64 `json:"values"`
	Anchor        float64   `json:"anchor"` // the instance's own value
	Prediction    float64   `json:"prediction"`
	ComputeTimeMs float64   `json:"compute_time_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// StabilityFeature holds the what-if curves of an instance and its nearest
// background neighbors for one feature, with agreement statistics.
type StabilityFeature struct {
	Feature     string      `json:"feature"`
	Grid        []float64   `json:"grid"`
	Profiles    [][]float64 `json:"profiles"`    // instance first, then neighbors
	Spread      float64     `json:"spread"`      // mean cross-profile stddev over the grid
	Oscillation float64     `json:"oscillation"` // mean total variation per profile
}

// Stability reports how consistently the model treats an instance's
// neighborhood. Tight, parallel profiles mean the local explanation is
// trustworthy; fanned-out or jagged ones mean it is not.
type Stability struct {
	Neighbors     int                `json:"neighbors"`
	Features      []StabilityFeature `json:"features"`
	ComputeTimeMs float64            `json:"compute_time_ms"`
	Timestamp     time.Time          `json:"timestamp"`
}

// CeterisParibus sweeps feature across its background range for the single
// instance x.
func (e *Explainer) CeterisParibus(ctx context.Context, x []float64, feature string, gridSize int) (*CeterisParibus, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.ceteris_paribus",
		otel.ExplainAttributes("ceteris_paribus", feature, gridSize)...)
	defer span.End()

	start := time.Now()
	if err := e.checkVector(x); err != nil {
		return nil, err
	}
	j, err := e.featureIndex(feature)
	if err != nil {
		return nil, err
	}
	if gridSize <= 1 {
		gridSize = 20
	}
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}

	prediction, err := e.predict(x)
	if err != nil {
		return nil, fmt.Errorf("explain: ceteris-paribus prediction: %w", err)
	}

	grid := gridForColumn(e.frame.Columns[j], gridSize)
	values, err := e.profileAlong(x, j, grid)
	if err != nil {
		return nil, err
	}

	e.countExplanation("ceteris_paribus")
	return &CeterisParibus{
		Feature:       feature,
		Grid:          grid,
		Values:        values,
		Anchor:        x[j],
		Prediction:    prediction,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// Stability computes ceteris-paribus profiles for x and its k nearest
// background neighbors across every feature.
func (e *Explainer) Stability(ctx context.Context, x []float64, k, gridSize int) (*Stability, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.stability",
		otel.ExplainAttributes("stability", "", k)...)
	defer span.End()

	start := time.Now()
	if err := e.checkVector(x); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = 5
	}
	if k > e.frame.NumRows() {
		k = e.frame.NumRows()
	}
	if gridSize <= 1 {
		gridSize = 15
	}

	neighbors := e.nearestRows(x, k)
	d := e.frame.NumFeatures()
	out := make([]StabilityFeature, d)

	for j := 0; j < d; j++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}

		grid := gridForColumn(e.frame.Columns[j], gridSize)
		profiles := make([][]float64, 0, k+1)

		values, err := e.profileAlong(x, j, grid)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, values)
		for _, ni := range neighbors {
			values, err := e.profileAlong(e.frame.Row(ni), j, grid)
			if err != nil {
				return nil, err
			}
			profiles = append(profiles, values)
		}

		out[j] = StabilityFeature{
			Feature:     e.frame.Names[j],
			Grid:        grid,
			Profiles:    profiles,
			Spread:      profileSpread(profiles),
			Oscillation: profileOscillation(profiles),
		}
	}

	e.countExplanation("stability")
	return &Stability{
		Neighbors:     k,
		Features:      out,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// profileAlong predicts base with feature j pinned to each grid value.
func (e *Explainer) profileAlong(base []float64, j int, grid []float64) ([]float64, error) {
	d := e.frame.NumFeatures()
	pinned := make([][]float64, len(grid))
	for g, gv := range grid {
		row := make([]float64, d)
		copy(row, base)
		row[j] = gv
		pinned[g] = row
	}
	values, err := e.predictBatch(pinned)
	if err != nil {
		return nil, fmt.Errorf("explain: profile for %s: %w", e.frame.Names[j], err)
	}
	return values, nil
}

// nearestRows returns the indices of the k background rows closest to x in
// standardized euclidean distance.
func (e *Explainer) nearestRows(x []float64, k int) []int {
	stds := columnStds(e.frame)
	n := e.frame.NumRows()
	type scored struct {
		idx  int
		dist float64
	}
	all := make([]scored, n)
	for i := 0; i < n; i++ {
		row := e.frame.Row(i)
		dist := 0.0
		for j := range row {
			u := (row[j] - x[j]) / stds[j]
			dist += u * u
		}
		all[i] = scored{idx: i, dist: dist}
	}
	sort.SliceStable(all, func(a, b int) bool { return all[a].dist < all[b].dist })

	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = all[i].idx
	}
	return out
}

func profileSpread(profiles [][]float64) float64 {
	if len(profiles) < 2 || len(profiles[0]) == 0 {
		return 0
	}
	gridLen := len(profiles[0])
	column := make([]float64, len(profiles))
	sum := 0.0
	for g := 0; g < gridLen; g++ {
		for p := range profiles {
			column[p] = profiles[p][g]
		}
		sum += stat.StdDev(column, nil)
	}
	return sum / float64(gridLen)
}

func profileOscillation(profiles [][]float64) float64 {
	if len(profiles) == 0 {
		return 0
	}
	sum := 0.0
	for _, prof := range profiles {
		tv := 0.0
		for g := 1; g < len(prof); g++ {
			tv += math.Abs(prof[g] - prof[g-1])
		}
		sum += tv
	}
	return sum / float64(len(profiles))
}
