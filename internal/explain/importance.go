package explain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/peakshaver/glassbox/internal/model"
	"github.com/peakshaver/glassbox/pkg/otel"
)

// FeatureScore is one row of the permutation-importance table.
type FeatureScore struct {
	Name  string  `json:"name"`
	Drop  float64 `json:"drop"`  // permuted loss minus baseline loss
	Ratio float64 `json:"ratio"` // permuted loss over baseline loss
}

// Importance ranks features by how much shuffling each one degrades the
// model's error on a labeled set.
type Importance struct {
	Features      []FeatureScore `json:"features"` // sorted by Drop, descending
	BaselineLoss  float64        `json:"baseline_loss"`
	Repeats       int            `json:"repeats"`
	ComputeTimeMs float64        `json:"compute_time_ms"`
	Timestamp     time.Time      `json:"timestamp"`
}

// TopFeatures returns the names of the n most important features.
func (im *Importance) TopFeatures(n int) []string {
	if n > len(im.Features) {
		n = len(im.Features)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = im.Features[i].Name
	}
	return names
}

// FeatureImportance computes permutation importance on (X, y): the baseline
// MAE against the mean MAE over repeats independent shuffles of each column.
// Rows of X must match the background frame's feature order.
func (e *Explainer) FeatureImportance(ctx context.Context, X [][]float64, y []float64, repeats int) (*Importance, error) {
	ctx, span := otel.StartSpan(ctx, "explain", "explain.importance",
		otel.ExplainAttributes("permutation_importance", "", repeats)...)
	defer span.End()

	start := time.Now()
	if len(X) == 0 || len(X) != len(y) {
		return nil, fmt.Errorf("explain: importance needs matching X and y, got %d and %d", len(X), len(y))
	}
	if err := e.checkVector(X[0]); err != nil {
		return nil, err
	}
	if repeats <= 0 {
		repeats = 5
	}

	pred, err := e.predictBatch(X)
	if err != nil {
		return nil, fmt.Errorf("explain: baseline pass: %w", err)
	}
	baseLoss := model.MAE(y, pred)

	rng := e.rng(1)
	n := len(X)
	d := e.frame.NumFeatures()
	perturbed := make([][]float64, n)
	for i := range perturbed {
		perturbed[i] = make([]float64, d)
		copy(perturbed[i], X[i])
	}

	scores := make([]FeatureScore, d)
	shuffled := make([]float64, n)
	for j := 0; j < d; j++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}

		sum := 0.0
		for r := 0; r < repeats; r++ {
			for i := range shuffled {
				shuffled[i] = X[i][j]
			}
			rng.Shuffle(n, func(a, b int) {
				shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
			})
			for i := range perturbed {
				perturbed[i][j] = shuffled[i]
			}

			permPred, err := e.predictBatch(perturbed)
			if err != nil {
				return nil, fmt.Errorf("explain: permuted pass for %s: %w", e.frame.Names[j], err)
			}
			sum += model.MAE(y, permPred)
		}
		// Restore the column before moving on.
		for i := range perturbed {
			perturbed[i][j] = X[i][j]
		}

		permLoss := sum / float64(repeats)
		ratio := 1.0
		if baseLoss > 1e-12 {
			ratio = permLoss / baseLoss
		}
		scores[j] = FeatureScore{Name: e.frame.Names[j], Drop: permLoss - baseLoss, Ratio: ratio}
	}

	sort.SliceStable(scores, func(a, b int) bool { return scores[a].Drop > scores[b].Drop })

	e.countExplanation("permutation_importance")
	return &Importance{
		Features:      scores,
		BaselineLoss:  baseLoss,
		Repeats:       repeats,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}
