package explain

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/peakshaver/glassbox/internal/features"
)

// linearPredictor gives every method an analytic ground truth.
type linearPredictor struct {
	intercept float64
	coefs     []float64
}

func (p *linearPredictor) Predict(x []float64) (float64, error) {
	v := p.intercept
	for j, c := range p.coefs {
		v += c * x[j]
	}
	return v, nil
}

func (p *linearPredictor) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i], _ = p.Predict(x)
	}
	return out, nil
}

func backgroundFrame(n int) *features.Frame {
	rng := rand.New(rand.NewSource(11))
	names := []string{"lag_24", "hour", "roll_24"}
	cols := make([][]float64, len(names))
	for j := range cols {
		cols[j] = make([]float64, n)
		for i := range cols[j] {
			cols[j][i] = rng.NormFloat64()
		}
	}
	return &features.Frame{Names: names, Columns: cols, Target: make([]float64, n)}
}

func testExplainer(t *testing.T) (*Explainer, *linearPredictor, *features.Frame) {
	t.Helper()
	frame := backgroundFrame(200)
	pred := &linearPredictor{intercept: 1.5, coefs: []float64{5, 0, 1}}
	exp, err := New(pred, frame, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return exp, pred, frame
}

func frameMean(frame *features.Frame, j int) float64 {
	sum := 0.0
	for _, v := range frame.Columns[j] {
		sum += v
	}
	return sum / float64(len(frame.Columns[j]))
}

func TestNewValidation(t *testing.T) {
	frame := backgroundFrame(10)
	pred := &linearPredictor{coefs: []float64{1, 1, 1}}

	if _, err := New(nil, frame, DefaultConfig(), nil); err == nil {
		t.Error("nil predictor accepted")
	}
	empty := &features.Frame{Names: frame.Names, Columns: [][]float64{{}, {}, {}}}
	if _, err := New(pred, empty, DefaultConfig(), nil); !errors.Is(err, ErrNoBackground) {
		t.Errorf("error = %v, want ErrNoBackground", err)
	}
}

func TestFeatureImportance(t *testing.T) {
	exp, pred, frame := testExplainer(t)
	X := frame.Rows()
	y, _ := pred.PredictBatch(X)

	im, err := exp.FeatureImportance(context.Background(), X, y, 3)
	if err != nil {
		t.Fatalf("FeatureImportance() error = %v", err)
	}

	if im.BaselineLoss > 1e-9 {
		t.Errorf("baseline loss = %v on exact labels, want ~0", im.BaselineLoss)
	}
	if im.Features[0].Name != "lag_24" {
		t.Errorf("top feature = %s, want lag_24", im.Features[0].Name)
	}
	for _, fs := range im.Features {
		if fs.Name == "hour" && fs.Drop > 1e-9 {
			t.Errorf("zero-coefficient feature has drop %v", fs.Drop)
		}
	}
	top := im.TopFeatures(2)
	if len(top) != 2 || top[0] != "lag_24" {
		t.Errorf("TopFeatures(2) = %v", top)
	}

	t.Run("mismatched labels", func(t *testing.T) {
		if _, err := exp.FeatureImportance(context.Background(), X, y[:10], 1); err == nil {
			t.Error("expected error for mismatched X and y")
		}
	})
}

func TestPartialDependence(t *testing.T) {
	exp, _, _ := testExplainer(t)

	prof, err := exp.PartialDependence(context.Background(), "lag_24", 12)
	if err != nil {
		t.Fatalf("PartialDependence() error = %v", err)
	}
	if prof.Method != "pdp" || len(prof.Grid) != 12 || len(prof.Values) != 12 {
		t.Fatalf("profile shape: method=%s grid=%d values=%d", prof.Method, len(prof.Grid), len(prof.Values))
	}

	// A linear model's partial dependence is a line with the feature's slope.
	for g := 1; g < len(prof.Grid); g++ {
		slope := (prof.Values[g] - prof.Values[g-1]) / (prof.Grid[g] - prof.Grid[g-1])
		if math.Abs(slope-5) > 1e-9 {
			t.Errorf("pdp slope at %d = %v, want 5", g, slope)
		}
	}

	if _, err := exp.PartialDependence(context.Background(), "nope", 5); !errors.Is(err, ErrUnknownFeature) {
		t.Errorf("error = %v, want ErrUnknownFeature", err)
	}
}

func TestALE(t *testing.T) {
	exp, _, _ := testExplainer(t)

	prof, err := exp.ALE(context.Background(), "lag_24", 10)
	if err != nil {
		t.Fatalf("ALE() error = %v", err)
	}
	if prof.Method != "ale" || len(prof.Grid) != 10 {
		t.Fatalf("profile shape: method=%s grid=%d", prof.Method, len(prof.Grid))
	}

	// Local effects of a linear model are exact between quantile edges.
	for g := 1; g < len(prof.Grid); g++ {
		gotStep := prof.Values[g] - prof.Values[g-1]
		wantStep := 5 * (prof.Grid[g] - prof.Grid[g-1])
		if math.Abs(gotStep-wantStep) > 1e-9 {
			t.Errorf("ale step at %d = %v, want %v", g, gotStep, wantStep)
		}
	}

	// Centering leaves the count-weighted mean at zero; with near-uniform
	// bin counts the plain mean is close to it.
	mean := 0.0
	for _, v := range prof.Values {
		mean += v
	}
	mean /= float64(len(prof.Values))
	span := 5 * (prof.Grid[len(prof.Grid)-1] - prof.Grid[0])
	if math.Abs(mean) > 0.2*math.Abs(span) {
		t.Errorf("ale values mean = %v, want near zero (span %v)", mean, span)
	}
}

func TestBreakDown(t *testing.T) {
	exp, pred, frame := testExplainer(t)
	x := []float64{1.2, -0.4, 0.9}

	attr, err := exp.BreakDown(context.Background(), x)
	if err != nil {
		t.Fatalf("BreakDown() error = %v", err)
	}
	if attr.Method != "break_down" {
		t.Errorf("method = %s", attr.Method)
	}

	want, _ := pred.Predict(x)
	if math.Abs(attr.Prediction-want) > 1e-9 {
		t.Errorf("prediction = %v, want %v", attr.Prediction, want)
	}

	sum := attr.Baseline
	for _, c := range attr.Contributions {
		sum += c.Contribution
	}
	if math.Abs(sum-attr.Prediction) > 1e-9 {
		t.Errorf("baseline+contributions = %v, prediction = %v", sum, attr.Prediction)
	}

	// Additive model: contribution of feature j is coef_j*(x_j - mean_j)
	// regardless of switch order.
	for _, c := range attr.Contributions {
		j := frame.FeatureIndex(c.Feature)
		wantC := pred.coefs[j] * (x[j] - frameMean(frame, j))
		if math.Abs(c.Contribution-wantC) > 1e-9 {
			t.Errorf("contribution[%s] = %v, want %v", c.Feature, c.Contribution, wantC)
		}
	}

	if err := exp.checkVector([]float64{1}); err == nil {
		t.Error("short vector accepted")
	}
}

func TestShapley(t *testing.T) {
	exp, pred, frame := testExplainer(t)
	x := []float64{1.0, 2.0, -1.0}

	attr, err := exp.Shapley(context.Background(), x, 400)
	if err != nil {
		t.Fatalf("Shapley() error = %v", err)
	}
	if attr.Samples != 400 {
		t.Errorf("samples = %d, want 400", attr.Samples)
	}

	sum := 0.0
	for _, c := range attr.Contributions {
		sum += c.Contribution
	}
	if math.Abs(sum-(attr.Prediction-attr.Baseline)) > 1e-9 {
		t.Errorf("contributions sum = %v, want %v", sum, attr.Prediction-attr.Baseline)
	}

	for _, c := range attr.Contributions {
		j := frame.FeatureIndex(c.Feature)
		wantC := pred.coefs[j] * (x[j] - frameMean(frame, j))
		tol := 0.75
		if pred.coefs[j] == 0 {
			tol = 1e-9
		}
		if math.Abs(c.Contribution-wantC) > tol {
			t.Errorf("shapley[%s] = %v, want %v +- %v", c.Feature, c.Contribution, wantC, tol)
		}
	}

	ranked := attr.TopFeatures(1)
	if len(ranked) != 1 || ranked[0].Feature != "lag_24" {
		t.Errorf("TopFeatures(1) = %v, want lag_24 first", ranked)
	}
}

func TestShapleyDeterministic(t *testing.T) {
	frame := backgroundFrame(100)
	pred := &linearPredictor{intercept: 1, coefs: []float64{2, -1, 0.5}}
	x := []float64{0.3, 0.7, -0.2}

	a1, err := mustExplainer(t, pred, frame).Shapley(context.Background(), x, 50)
	if err != nil {
		t.Fatal(err)
	}
	a2, err := mustExplainer(t, pred, frame).Shapley(context.Background(), x, 50)
	if err != nil {
		t.Fatal(err)
	}
	for j := range a1.Contributions {
		if a1.Contributions[j].Contribution != a2.Contributions[j].Contribution {
			t.Errorf("seeded runs diverge at %s: %v vs %v",
				a1.Contributions[j].Feature, a1.Contributions[j].Contribution, a2.Contributions[j].Contribution)
		}
	}
}

func mustExplainer(t *testing.T, pred Predictor, frame *features.Frame) *Explainer {
	t.Helper()
	exp, err := New(pred, frame, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return exp
}

func TestLIME(t *testing.T) {
	exp, pred, _ := testExplainer(t)
	x := []float64{0.5, -0.5, 1.0}

	sur, err := exp.LIME(context.Background(), x, 400, 0)
	if err != nil {
		t.Fatalf("LIME() error = %v", err)
	}

	// The surrogate of a linear model recovers it.
	for j, c := range sur.Coefficients {
		if math.Abs(c-pred.coefs[j]) > 1e-3 {
			t.Errorf("coefficient[%s] = %v, want %v", sur.Names[j], c, pred.coefs[j])
		}
	}
	want, _ := pred.Predict(x)
	if math.Abs(sur.Intercept-want) > 1e-3 {
		t.Errorf("intercept = %v, want local prediction %v", sur.Intercept, want)
	}
	if sur.R2 < 0.999 {
		t.Errorf("local R2 = %v, want ~1", sur.R2)
	}
	if sur.KernelWidth <= 0 {
		t.Errorf("kernel width = %v", sur.KernelWidth)
	}
}

func TestCeterisParibus(t *testing.T) {
	exp, pred, _ := testExplainer(t)
	x := []float64{0.1, 0.2, 0.3}

	cp, err := exp.CeterisParibus(context.Background(), x, "roll_24", 12)
	if err != nil {
		t.Fatalf("CeterisParibus() error = %v", err)
	}
	if cp.Anchor != x[2] {
		t.Errorf("anchor = %v, want %v", cp.Anchor, x[2])
	}
	for g, gv := range cp.Grid {
		probe := []float64{x[0], x[1], gv}
		want, _ := pred.Predict(probe)
		if math.Abs(cp.Values[g]-want) > 1e-9 {
			t.Errorf("cp value at %v = %v, want %v", gv, cp.Values[g], want)
		}
	}
}

func TestStability(t *testing.T) {
	exp, _, frame := testExplainer(t)
	x := frame.Row(0)

	st, err := exp.Stability(context.Background(), x, 4, 10)
	if err != nil {
		t.Fatalf("Stability() error = %v", err)
	}
	if st.Neighbors != 4 {
		t.Errorf("neighbors = %d, want 4", st.Neighbors)
	}
	if len(st.Features) != frame.NumFeatures() {
		t.Fatalf("features = %d, want %d", len(st.Features), frame.NumFeatures())
	}

	coefs := []float64{5, 0, 1}
	for _, sf := range st.Features {
		if len(sf.Profiles) != 5 {
			t.Errorf("%s: profiles = %d, want 5 (instance + 4 neighbors)", sf.Feature, len(sf.Profiles))
		}
		coef := coefs[frame.FeatureIndex(sf.Feature)]
		span := sf.Grid[len(sf.Grid)-1] - sf.Grid[0]
		wantTV := math.Abs(coef) * span
		if math.Abs(sf.Oscillation-wantTV) > 1e-9 {
			t.Errorf("%s: oscillation = %v, want %v", sf.Feature, sf.Oscillation, wantTV)
		}
		if sf.Spread < 0 {
			t.Errorf("%s: negative spread", sf.Feature)
		}
	}
}

func TestPredictionCache(t *testing.T) {
	exp, _, _ := testExplainer(t)
	x := []float64{0.4, 0.4, 0.4}

	if _, err := exp.BreakDown(context.Background(), x); err != nil {
		t.Fatal(err)
	}
	if _, err := exp.BreakDown(context.Background(), x); err != nil {
		t.Fatal(err)
	}

	stats := exp.CacheStats()
	if stats.Hits == 0 {
		t.Error("repeated break-down produced no cache hits")
	}
	if err := exp.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestCancel(t *testing.T) {
	exp, _, frame := testExplainer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := exp.FeatureImportance(ctx, frame.Rows(), frame.Target, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if _, err := exp.Shapley(ctx, frame.Row(0), 10); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}
