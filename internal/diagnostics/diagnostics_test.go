package diagnostics

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func whiteNoise(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = rng.NormFloat64()
	}
	return out
}

func ar1(n int, phi float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := 1; i < n; i++ {
		out[i] = phi*out[i-1] + rng.NormFloat64()
	}
	return out
}

func TestACF(t *testing.T) {
	t.Run("white noise", func(t *testing.T) {
		acf := ACF(whiteNoise(500, 3), 5)
		if acf == nil {
			t.Fatal("nil acf")
		}
		if acf[0] != 1 {
			t.Errorf("acf[0] = %v, want 1", acf[0])
		}
		for k := 1; k <= 5; k++ {
			if math.Abs(acf[k]) > 0.15 {
				t.Errorf("acf[%d] = %v, want near 0 for white noise", k, acf[k])
			}
		}
	})

	t.Run("autocorrelated", func(t *testing.T) {
		acf := ACF(ar1(500, 0.9, 4), 3)
		if acf[1] < 0.7 {
			t.Errorf("acf[1] = %v, want > 0.7 for phi=0.9", acf[1])
		}
	})

	t.Run("degenerate", func(t *testing.T) {
		if ACF([]float64{1, 1, 1, 1}, 2) != nil {
			t.Error("constant series should give nil")
		}
		if ACF([]float64{1}, 2) != nil {
			t.Error("single observation should give nil")
		}
	})

	t.Run("lag clamp", func(t *testing.T) {
		values := whiteNoise(20, 5)
		if got := len(ACF(values, 100)); got != 20 {
			t.Errorf("clamped acf length = %d, want 20", got)
		}
	})
}

func TestACFWithConfidence(t *testing.T) {
	res := ACFWithConfidence(whiteNoise(400, 6), 10)
	if res == nil {
		t.Fatal("nil result")
	}
	if len(res.Lags) != 11 || len(res.Values) != 11 {
		t.Errorf("lengths = %d/%d, want 11", len(res.Lags), len(res.Values))
	}
	want := 1.96 / math.Sqrt(400)
	if math.Abs(res.ConfBound-want) > 1e-12 {
		t.Errorf("conf bound = %v, want %v", res.ConfBound, want)
	}
}

func TestLjungBox(t *testing.T) {
	t.Run("white noise passes", func(t *testing.T) {
		res, err := LjungBox(whiteNoise(500, 7), 10, 0)
		if err != nil {
			t.Fatalf("LjungBox() error = %v", err)
		}
		if res.PValue < 0.001 {
			t.Errorf("p-value = %v for white noise, want not tiny", res.PValue)
		}
		if res.PValue < 0 || res.PValue > 1 {
			t.Errorf("p-value = %v outside [0,1]", res.PValue)
		}
		if res.DOF != 10 {
			t.Errorf("dof = %d, want 10", res.DOF)
		}
	})

	t.Run("autocorrelated fails", func(t *testing.T) {
		res, err := LjungBox(ar1(500, 0.9, 8), 10, 0)
		if err != nil {
			t.Fatal(err)
		}
		if res.PValue > 0.01 {
			t.Errorf("p-value = %v for AR(1), want < 0.01", res.PValue)
		}
	})

	t.Run("fitdf reduces dof", func(t *testing.T) {
		res, err := LjungBox(whiteNoise(100, 9), 10, 2)
		if err != nil {
			t.Fatal(err)
		}
		if res.DOF != 8 {
			t.Errorf("dof = %d, want 8", res.DOF)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := LjungBox(whiteNoise(5, 1), 3, 0); !errors.Is(err, ErrShortResiduals) {
			t.Errorf("error = %v, want ErrShortResiduals", err)
		}
		if _, err := LjungBox(make([]float64, 50), 10, 0); !errors.Is(err, ErrZeroVariance) {
			t.Errorf("error = %v, want ErrZeroVariance", err)
		}
		if _, err := LjungBox(whiteNoise(50, 2), 0, 0); err == nil {
			t.Error("zero lags accepted")
		}
	})
}

func TestDurbinWatson(t *testing.T) {
	alternating := make([]float64, 100)
	for i := range alternating {
		if i%2 == 0 {
			alternating[i] = 1
		} else {
			alternating[i] = -1
		}
	}
	if dw := DurbinWatson(alternating); dw < 3 {
		t.Errorf("dw = %v for alternating residuals, want > 3", dw)
	}

	smooth := ar1(200, 0.95, 10)
	if dw := DurbinWatson(smooth); dw > 1 {
		t.Errorf("dw = %v for strongly positive autocorrelation, want < 1", dw)
	}

	if dw := DurbinWatson([]float64{0, 0, 0}); dw != 2 {
		t.Errorf("dw = %v for all-zero residuals, want neutral 2", dw)
	}
	if dw := DurbinWatson([]float64{1}); dw != 2 {
		t.Errorf("dw = %v for single residual, want neutral 2", dw)
	}
}

func TestSummarize(t *testing.T) {
	sum, err := Summarize([]float64{-2, -1, 0, 1, 2}, 42)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}

	if sum.N != 5 {
		t.Errorf("N = %d, want 5", sum.N)
	}
	if math.Abs(sum.Mean) > 1e-12 {
		t.Errorf("mean = %v, want 0", sum.Mean)
	}
	if math.Abs(sum.StdDev-math.Sqrt(2.5)) > 1e-12 {
		t.Errorf("stddev = %v, want %v", sum.StdDev, math.Sqrt(2.5))
	}
	if sum.Min != -2 || sum.Max != 2 {
		t.Errorf("range = [%v,%v], want [-2,2]", sum.Min, sum.Max)
	}
	if sum.P25 != -1 || sum.Median != 0 || sum.P75 != 1 {
		t.Errorf("quartiles = %v/%v/%v, want -1/0/1", sum.P25, sum.Median, sum.P75)
	}
	if sum.MeanCILow > sum.Mean || sum.MeanCIHigh < sum.Mean {
		t.Errorf("CI [%v,%v] does not contain mean %v", sum.MeanCILow, sum.MeanCIHigh, sum.Mean)
	}
	if sum.MeanCILow < -2 || sum.MeanCIHigh > 2 {
		t.Errorf("CI [%v,%v] wider than the data range", sum.MeanCILow, sum.MeanCIHigh)
	}

	if _, err := Summarize([]float64{1}, 1); !errors.Is(err, ErrShortResiduals) {
		t.Errorf("error = %v, want ErrShortResiduals", err)
	}
}

func TestSummarizeDeterministic(t *testing.T) {
	residuals := whiteNoise(100, 11)
	a, err := Summarize(residuals, 5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Summarize(residuals, 5)
	if err != nil {
		t.Fatal(err)
	}
	if a.MeanCILow != b.MeanCILow || a.MeanCIHigh != b.MeanCIHigh {
		t.Errorf("seeded bootstrap diverges: [%v,%v] vs [%v,%v]",
			a.MeanCILow, a.MeanCIHigh, b.MeanCILow, b.MeanCIHigh)
	}
}
