package model

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// linearData generates y = 3 + 2*x0 - x1 over a deterministic grid.
func linearData(n int, seed int64) ([][]float64, []float64) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x0 := rng.Float64() * 10
		x1 := rng.Float64() * 5
		X[i] = []float64{x0, x1}
		y[i] = 3 + 2*x0 - x1
	}
	return X, y
}

func stepData() ([][]float64, []float64) {
	X := [][]float64{{0.1}, {0.2}, {0.3}, {0.4}, {0.6}, {0.7}, {0.8}, {0.9}}
	y := []float64{0, 0, 0, 0, 1, 1, 1, 1}
	return X, y
}

func TestValidateTraining(t *testing.T) {
	tests := []struct {
		name string
		X    [][]float64
		y    []float64
		want error
	}{
		{"empty", nil, nil, ErrNoData},
		{"length mismatch", [][]float64{{1}}, []float64{1, 2}, nil},
		{"ragged rows", [][]float64{{1, 2}, {3}}, []float64{1, 2}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateTraining(tt.X, tt.y)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLinear(t *testing.T) {
	X, y := linearData(50, 1)
	m := NewLinear([]string{"a", "b"})

	if _, err := m.Predict([]float64{1, 2}); !errors.Is(err, ErrNotFitted) {
		t.Fatalf("Predict before Fit: error = %v, want ErrNotFitted", err)
	}
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	intercept, coef := m.Coefficients()
	if math.Abs(intercept-3) > 1e-3 || math.Abs(coef[0]-2) > 1e-3 || math.Abs(coef[1]+1) > 1e-3 {
		t.Errorf("coefficients = %.4f %v, want 3 [2 -1]", intercept, coef)
	}
	if m.TrainingR2() < 0.999 {
		t.Errorf("TrainingR2 = %v, want ~1 on noiseless data", m.TrainingR2())
	}

	got, err := m.Predict([]float64{4, 2})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if want := 3 + 2*4.0 - 2.0; math.Abs(got-want) > 1e-2 {
		t.Errorf("Predict = %v, want %v", got, want)
	}

	if _, err := m.Predict([]float64{1}); err == nil {
		t.Error("Predict with wrong width should fail")
	}
}

func TestRidge(t *testing.T) {
	X, y := linearData(80, 2)

	t.Run("small alpha recovers signal", func(t *testing.T) {
		m := NewRidge(1e-6)
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		_, coef := m.Coefficients()
		if math.Abs(coef[0]-2) > 1e-2 || math.Abs(coef[1]+1) > 1e-2 {
			t.Errorf("coef = %v, want [2 -1]", coef)
		}
	})

	t.Run("huge alpha shrinks to zero", func(t *testing.T) {
		m := NewRidge(1e9)
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		_, coef := m.Coefficients()
		for j, c := range coef {
			if math.Abs(c) > 1e-2 {
				t.Errorf("coef[%d] = %v, want ~0 under heavy penalty", j, c)
			}
		}
	})

	t.Run("negative alpha rejected", func(t *testing.T) {
		m := NewRidge(-1)
		if err := m.Fit(X, y); err == nil {
			t.Error("expected error for negative alpha")
		}
	})
}

func TestLasso(t *testing.T) {
	// One informative feature, one pure-noise feature.
	rng := rand.New(rand.NewSource(3))
	n := 120
	X := make([][]float64, n)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x0 := rng.Float64()*4 - 2
		x1 := rng.Float64()*4 - 2
		X[i] = []float64{x0, x1}
		y[i] = 2 * x0
	}

	m := NewLasso(0.05)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	_, coef := m.Coefficients()
	if math.Abs(coef[0]-2) > 0.3 {
		t.Errorf("coef[0] = %v, want ~2", coef[0])
	}
	if math.Abs(coef[1]) > 0.05 {
		t.Errorf("coef[1] = %v, want ~0 (noise feature suppressed)", coef[1])
	}

	pred, err := m.PredictBatch(X)
	if err != nil {
		t.Fatalf("PredictBatch() error = %v", err)
	}
	if r2 := R2(y, pred); r2 < 0.95 {
		t.Errorf("train R2 = %v, want > 0.95", r2)
	}
}

func TestRegressionTree(t *testing.T) {
	X, y := stepData()
	m := NewRegressionTree(3, 2)
	m.Seed = 7
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	lo, err := m.Predict([]float64{0.25})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	hi, err := m.Predict([]float64{0.75})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if lo != 0 || hi != 1 {
		t.Errorf("step predictions = %v/%v, want 0/1", lo, hi)
	}
	if d := m.Depth(); d < 1 || d > 3 {
		t.Errorf("Depth() = %d, want within [1,3]", d)
	}

	t.Run("pure node stays leaf", func(t *testing.T) {
		m := NewRegressionTree(5, 2)
		constY := []float64{4, 4, 4, 4}
		if err := m.Fit([][]float64{{1}, {2}, {3}, {4}}, constY); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		got, _ := m.Predict([]float64{2.5})
		if got != 4 {
			t.Errorf("Predict = %v, want 4", got)
		}
		if m.Depth() != 0 {
			t.Errorf("Depth() = %d, want 0 for pure data", m.Depth())
		}
	})
}

func TestForest(t *testing.T) {
	X, y := stepData()
	m := NewForest(30, 3, 11)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	lo, _ := m.Predict([]float64{0.25})
	hi, _ := m.Predict([]float64{0.75})
	if lo > 0.3 {
		t.Errorf("Predict(0.25) = %v, want < 0.3", lo)
	}
	if hi < 0.7 {
		t.Errorf("Predict(0.75) = %v, want > 0.7", hi)
	}

	t.Run("deterministic under fixed seed", func(t *testing.T) {
		a := NewForest(10, 3, 42)
		b := NewForest(10, 3, 42)
		if err := a.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		if err := b.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		pa, _ := a.Predict([]float64{0.55})
		pb, _ := b.Predict([]float64{0.55})
		if pa != pb {
			t.Errorf("same seed produced %v and %v", pa, pb)
		}
	})
}

func TestGBM(t *testing.T) {
	X, y := linearData(100, 4)
	m := NewGBM(60, 0.1, 3, 5)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}

	pred, err := m.PredictBatch(X)
	if err != nil {
		t.Fatalf("PredictBatch() error = %v", err)
	}

	// Boosting must clearly beat the mean baseline on training data.
	meanPred := make([]float64, len(y))
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))
	for i := range meanPred {
		meanPred[i] = mean
	}
	if RMSE(y, pred) > 0.5*RMSE(y, meanPred) {
		t.Errorf("gbm RMSE %v vs baseline %v, expected halving", RMSE(y, pred), RMSE(y, meanPred))
	}

	t.Run("bad learning rate", func(t *testing.T) {
		m := NewGBM(10, 0, 2, 1)
		if err := m.Fit(X, y); err == nil {
			t.Error("expected error for zero learning rate")
		}
	})
}

func TestKNN(t *testing.T) {
	X := [][]float64{{0, 0}, {1, 0}, {0, 1}, {5, 5}}
	y := []float64{1, 2, 3, 100}

	m := NewKNN(1)
	if err := m.Fit(X, y); err != nil {
		t.Fatalf("Fit() error = %v", err)
	}
	got, err := m.Predict([]float64{0.1, 0})
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("Predict = %v, want nearest target 1", got)
	}

	t.Run("k clamped to dataset size", func(t *testing.T) {
		m := NewKNN(50)
		if err := m.Fit(X, y); err != nil {
			t.Fatalf("Fit() error = %v", err)
		}
		if m.K != len(X) {
			t.Errorf("K = %d, want clamped to %d", m.K, len(X))
		}
	})
}

func TestMetrics(t *testing.T) {
	yTrue := []float64{100, 200, 300}
	yPred := []float64{110, 190, 330}

	if got := MAE(yTrue, yPred); !floatsEqual(got, (10.0+10+30)/3) {
		t.Errorf("MAE = %v", got)
	}
	if got := RMSE(yTrue, yPred); !floatsEqual(got, math.Sqrt((100.0+100+900)/3)) {
		t.Errorf("RMSE = %v", got)
	}
	wantMAPE := 100 * (10.0/100 + 10.0/200 + 30.0/300) / 3
	if got := MAPE(yTrue, yPred); !floatsEqual(got, wantMAPE) {
		t.Errorf("MAPE = %v, want %v", got, wantMAPE)
	}
	if got := R2(yTrue, yTrue); got != 1 {
		t.Errorf("R2 of perfect fit = %v, want 1", got)
	}

	t.Run("evaluate", func(t *testing.T) {
		X, y := linearData(40, 9)
		m := NewRidge(1e-6)
		if err := m.Fit(X, y); err != nil {
			t.Fatal(err)
		}
		rep, err := Evaluate(m, X, y)
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		if rep.R2 < 0.999 {
			t.Errorf("R2 = %v, want ~1", rep.R2)
		}
		if rep.MAE > 1e-3 {
			t.Errorf("MAE = %v, want ~0", rep.MAE)
		}
	})
}

func floatsEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
