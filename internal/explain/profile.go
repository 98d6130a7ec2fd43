package explain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/peakshaver/glassbox/pkg/otel"
)

// Profile is a global sensitivity curve: mean model response as one feature
// moves across its observed range.
type Profile struct {
	Feature       string    `json:"feature"`
	Method        string    `json:"method"` // "pdp" or "ale"
	Grid          []float64 `json:"grid"`
	Values        []float64 `json:"values"`
	Baseline      float64   `json:"baseline"`
	ComputeTimeMs float64   `json:"compute_time_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// PartialDependence averages predictions over the background with feature
// pinned to each of gridSize evenly spaced values.
func (e *Explainer) PartialDependence(ctx context.Context, feature string, gridSize int) (*Profile, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.pdp",
		otel.ExplainAttributes("pdp", feature, gridSize)...)
	defer span.End()

	start := time.Now()
	j, err := e.featureIndex(feature)
	if err != nil {
		return nil, err
	}
	if gridSize <= 1 {
		gridSize = 20
	}
	grid := gridForColumn(e.frame.Columns[j], gridSize)

	n := e.frame.NumRows()
	d := e.frame.NumFeatures()
	pinned := make([][]float64, n)
	for i := range pinned {
		pinned[i] = make([]float64, d)
	}

	values := make([]float64, len(grid))
	for g, gv := range grid {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		for i := 0; i < n; i++ {
			copy(pinned[i], e.frame.Row(i))
			pinned[i][j] = gv
		}
		pred, err := e.predictBatch(pinned)
		if err != nil {
			return nil, fmt.Errorf("explain: pdp grid point %d: %w", g, err)
		}
		sum := 0.0
		for _, p := range pred {
			sum += p
		}
		values[g] = sum / float64(n)
	}

	e.countExplanation("pdp")
	return &Profile{
		Feature:       feature,
		Method:        "pdp",
		Grid:          grid,
		Values:        values,
		Baseline:      e.base,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// ALE computes accumulated local effects over quantile bins of the feature.
// Within each bin the effect is the mean prediction difference between the
// bin's upper and lower edge, evaluated only on rows that fall in the bin;
// accumulated effects are centered to mean zero over the background.
func (e *Explainer) ALE(ctx context.Context, feature string, bins int) (*Profile, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.ale",
		otel.ExplainAttributes("ale", feature, bins)...)
	defer span.End()

	start := time.Now()
	j, err := e.featureIndex(feature)
	if err != nil {
		return nil, err
	}
	if bins <= 0 {
		bins = 10
	}

	col := e.frame.Columns[j]
	n := len(col)
	sorted := make([]float64, n)
	copy(sorted, col)
	sort.Float64s(sorted)

	// 1. Quantile edges: bins+1 cut points over the sorted column.
	edges := make([]float64, bins+1)
	for k := 0; k <= bins; k++ {
		pos := k * (n - 1) / bins
		edges[k] = sorted[pos]
	}
	if edges[0] == edges[bins] {
		// Constant feature has no local effect.
		e.countExplanation("ale")
		return &Profile{
			Feature:       feature,
			Method:        "ale",
			Grid:          []float64{edges[0]},
			Values:        []float64{0},
			Baseline:      e.base,
			ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
			Timestamp:     time.Now().UTC(),
		}, nil
	}

	// 2. Per-bin local effects from rows inside the bin.
	d := e.frame.NumFeatures()
	effects := make([]float64, bins)
	counts := make([]int, bins)
	for k := 0; k < bins; k++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		lo, hi := edges[k], edges[k+1]
		if hi <= lo {
			continue
		}

		var lower, upper [][]float64
		for i := 0; i < n; i++ {
			v := col[i]
			inBin := v > lo && v <= hi
			if k == 0 {
				inBin = v >= lo && v <= hi
			}
			if !inBin {
				continue
			}
			rowLo := make([]float64, d)
			rowHi := make([]float64, d)
			copy(rowLo, e.frame.Row(i))
			copy(rowHi, rowLo)
			rowLo[j] = lo
			rowHi[j] = hi
			lower = append(lower, rowLo)
			upper = append(upper, rowHi)
		}
		if len(lower) == 0 {
			continue
		}

		predLo, err := e.predictBatch(lower)
		if err != nil {
			return nil, fmt.Errorf("explain: ale bin %d: %w", k, err)
		}
		predHi, err := e.predictBatch(upper)
		if err != nil {
			return nil, fmt.Errorf("explain: ale bin %d: %w", k, err)
		}
		sum := 0.0
		for i := range predLo {
			sum += predHi[i] - predLo[i]
		}
		effects[k] = sum / float64(len(lower))
		counts[k] = len(lower)
	}

	// 3. Accumulate and center by the count-weighted mean.
	accumulated := make([]float64, bins)
	running := 0.0
	for k := 0; k < bins; k++ {
		running += effects[k]
		accumulated[k] = running
	}
	total := 0
	weighted := 0.0
	for k := 0; k < bins; k++ {
		weighted += accumulated[k] * float64(counts[k])
		total += counts[k]
	}
	if total > 0 {
		center := weighted / float64(total)
		for k := range accumulated {
			accumulated[k] -= center
		}
	}

	e.countExplanation("ale")
	return &Profile{
		Feature:       feature,
		Method:        "ale",
		Grid:          edges[1:],
		Values:        accumulated,
		Baseline:      e.base,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}
