package explain

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/peakshaver/glassbox/pkg/otel"
)

// LocalSurrogate is a kernel-weighted linear model fitted to the predictor's
// behavior in a Gaussian neighborhood of one instance. Coefficients are local
// slopes in raw feature units; the intercept is the surrogate's value at the
// instance itself.
type LocalSurrogate struct {
	Names         []string  `json:"names"`
	Coefficients  []float64 `json:"coefficients"`
	Intercept     float64   `json:"intercept"`
	R2            float64   `json:"r2"` // kernel-weighted fit quality
	KernelWidth   float64   `json:"kernel_width"`
	Samples       int       `json:"samples"`
	Prediction    float64   `json:"prediction"`
	ComputeTimeMs float64   `json:"compute_time_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

// LIME perturbs x with per-feature Gaussian noise scaled to the background
// spread, weights each perturbation by an exponential distance kernel and
// fits a ridge surrogate to the model's responses.
func (e *Explainer) LIME(ctx context.Context, x []float64, samples int, kernelWidth float64) (*LocalSurrogate, error) {
	_, span := otel.StartSpan(ctx, "explain", "explain.lime",
		otel.ExplainAttributes("lime", "", samples)...)
	defer span.End()

	start := time.Now()
	if err := e.checkVector(x); err != nil {
		return nil, err
	}
	if samples <= 0 {
		samples = e.cfg.Samples
	}
	d := e.frame.NumFeatures()
	if kernelWidth <= 0 {
		kernelWidth = 0.75 * math.Sqrt(float64(d))
	}

	prediction, err := e.predict(x)
	if err != nil {
		return nil, fmt.Errorf("explain: lime prediction: %w", err)
	}

	// 1. Gaussian perturbations around x, scaled by background spread.
	rng := e.rng(3)
	stds := columnStds(e.frame)
	perturbed := make([][]float64, samples)
	for s := range perturbed {
		row := make([]float64, d)
		for j := 0; j < d; j++ {
			row[j] = x[j] + rng.NormFloat64()*stds[j]
		}
		perturbed[s] = row
	}

	responses, err := e.predictBatch(perturbed)
	if err != nil {
		return nil, fmt.Errorf("explain: lime perturbations: %w", err)
	}

	// 2. Kernel weights from standardized distance to x.
	weights := make([]float64, samples)
	for s, row := range perturbed {
		dist2 := 0.0
		for j := 0; j < d; j++ {
			u := (row[j] - x[j]) / stds[j]
			dist2 += u * u
		}
		weights[s] = math.Exp(-dist2 / (kernelWidth * kernelWidth))
	}

	// 3. Weighted ridge on centered offsets: scale each equation by sqrt(w)
	// and solve the closed form. The intercept column goes unpenalized.
	const lambda = 1e-6
	xa := mat.NewDense(samples, d+1, nil)
	yv := mat.NewVecDense(samples, nil)
	for s := 0; s < samples; s++ {
		sw := math.Sqrt(weights[s])
		xa.Set(s, 0, sw)
		for j := 0; j < d; j++ {
			xa.Set(s, j+1, sw*(perturbed[s][j]-x[j]))
		}
		yv.SetVec(s, sw*responses[s])
	}

	var xtx mat.Dense
	xtx.Mul(xa.T(), xa)
	for j := 1; j <= d; j++ {
		xtx.Set(j, j, xtx.At(j, j)+lambda)
	}
	var xty mat.VecDense
	xty.MulVec(xa.T(), yv)

	var theta mat.VecDense
	if err := theta.SolveVec(&xtx, &xty); err != nil {
		return nil, fmt.Errorf("explain: lime surrogate is singular: %w", err)
	}

	intercept := theta.AtVec(0)
	coefs := make([]float64, d)
	for j := 0; j < d; j++ {
		coefs[j] = theta.AtVec(j + 1)
	}

	// 4. Kernel-weighted R² of the surrogate.
	var wSum, ywSum float64
	for s := 0; s < samples; s++ {
		wSum += weights[s]
		ywSum += weights[s] * responses[s]
	}
	yMean := ywSum / wSum
	var ssRes, ssTot float64
	for s := 0; s < samples; s++ {
		fit := intercept
		for j := 0; j < d; j++ {
			fit += coefs[j] * (perturbed[s][j] - x[j])
		}
		r := responses[s] - fit
		t := responses[s] - yMean
		ssRes += weights[s] * r * r
		ssTot += weights[s] * t * t
	}
	r2 := 0.0
	if ssTot > 1e-12 {
		r2 = 1 - ssRes/ssTot
	}

	names := make([]string, d)
	copy(names, e.frame.Names)

	e.countExplanation("lime")
	return &LocalSurrogate{
		Names:         names,
		Coefficients:  coefs,
		Intercept:     intercept,
		R2:            r2,
		KernelWidth:   kernelWidth,
		Samples:       samples,
		Prediction:    prediction,
		ComputeTimeMs: float64(time.Since(start).Microseconds()) / 1000,
		Timestamp:     time.Now().UTC(),
	}, nil
}
