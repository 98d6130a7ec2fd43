package model

import (
	"fmt"
	"math"

	"github.com/sajari/regression"
	"gonum.org/v1/gonum/mat"
)

// Linear is ordinary least squares fitted through the regression package.
// Coefficients are copied out after Run so prediction needs no live
// regression state.
type Linear struct {
	featureNames []string
	intercept    float64
	coef         []float64
	r2           float64
	nFeatures    int
	fitted       bool
}

// NewLinear creates an OLS model. featureNames label the regressors in the
// fitted formula; missing names fall back to positional labels.
func NewLinear(featureNames []string) *Linear {
	return &Linear{featureNames: featureNames}
}

func (m *Linear) Name() string { return "linear_ols" }

func (m *Linear) Params() map[string]float64 { return map[string]float64{} }

func (m *Linear) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}

	var r regression.Regression
	r.SetObserved("target")
	for j := 0; j < d; j++ {
		name := fmt.Sprintf("x%d", j)
		if j < len(m.featureNames) {
			name = m.featureNames[j]
		}
		r.SetVar(j, name)
	}
	for i := range X {
		r.Train(regression.DataPoint(y[i], X[i]))
	}
	if err := r.Run(); err != nil {
		return fmt.Errorf("linear fit: %w", err)
	}

	coeffs := r.GetCoeffs()
	if len(coeffs) != d+1 {
		return fmt.Errorf("linear fit: got %d coefficients, want %d", len(coeffs), d+1)
	}
	m.intercept = coeffs[0]
	m.coef = append([]float64(nil), coeffs[1:]...)
	m.r2 = r.R2
	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *Linear) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	return m.intercept + dot(m.coef, x), nil
}

func (m *Linear) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

// Coefficients returns the fitted intercept and weights.
func (m *Linear) Coefficients() (float64, []float64) {
	return m.intercept, m.coef
}

// TrainingR2 reports the in-sample fit quality from the solver.
func (m *Linear) TrainingR2() float64 { return m.r2 }

// Ridge is L2-regularized least squares solved in closed form. The
// intercept is left unpenalized.
type Ridge struct {
	Alpha float64

	intercept float64
	coef      []float64
	nFeatures int
	fitted    bool
}

// NewRidge creates a ridge model with penalty alpha.
func NewRidge(alpha float64) *Ridge {
	return &Ridge{Alpha: alpha}
}

func (m *Ridge) Name() string { return "ridge" }

func (m *Ridge) Params() map[string]float64 {
	return map[string]float64{"alpha": m.Alpha}
}

func (m *Ridge) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	if m.Alpha < 0 {
		return fmt.Errorf("ridge: alpha must be non-negative, got %g", m.Alpha)
	}
	n := len(X)

	// Augment with a leading column of ones for the intercept.
	xa := mat.NewDense(n, d+1, nil)
	for i, row := range X {
		xa.Set(i, 0, 1)
		for j, v := range row {
			xa.Set(i, j+1, v)
		}
	}
	yv := mat.NewVecDense(n, append([]float64(nil), y...))

	var xtx mat.Dense
	xtx.Mul(xa.T(), xa)
	for j := 1; j <= d; j++ {
		xtx.Set(j, j, xtx.At(j, j)+m.Alpha)
	}
	var xty mat.VecDense
	xty.MulVec(xa.T(), yv)

	var theta mat.VecDense
	if err := theta.SolveVec(&xtx, &xty); err != nil {
		return fmt.Errorf("ridge solve: %w", err)
	}

	m.intercept = theta.AtVec(0)
	m.coef = make([]float64, d)
	for j := 0; j < d; j++ {
		m.coef[j] = theta.AtVec(j + 1)
	}
	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *Ridge) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	return m.intercept + dot(m.coef, x), nil
}

func (m *Ridge) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

// Coefficients returns the fitted intercept and weights.
func (m *Ridge) Coefficients() (float64, []float64) {
	return m.intercept, m.coef
}

// Lasso is L1-regularized least squares fitted by cyclic coordinate descent
// with soft thresholding. The intercept is refit from the residual mean on
// every sweep and never penalized.
type Lasso struct {
	Lambda  float64
	MaxIter int
	Tol     float64

	intercept float64
	coef      []float64
	nFeatures int
	fitted    bool
}

// NewLasso creates a lasso model with penalty lambda.
func NewLasso(lambda float64) *Lasso {
	return &Lasso{Lambda: lambda, MaxIter: 1000, Tol: 1e-6}
}

func (m *Lasso) Name() string { return "lasso" }

func (m *Lasso) Params() map[string]float64 {
	return map[string]float64{"lambda": m.Lambda}
}

func (m *Lasso) Fit(X [][]float64, y []float64) error {
	d, err := validateTraining(X, y)
	if err != nil {
		return err
	}
	if m.Lambda < 0 {
		return fmt.Errorf("lasso: lambda must be non-negative, got %g", m.Lambda)
	}
	n := len(X)

	// Per-coordinate squared norms; a constant-zero column keeps weight 0.
	z := make([]float64, d)
	for j := 0; j < d; j++ {
		for i := 0; i < n; i++ {
			z[j] += X[i][j] * X[i][j]
		}
	}

	w := make([]float64, d)
	intercept := 0.0
	for _, v := range y {
		intercept += v
	}
	intercept /= float64(n)

	// Residuals maintained incrementally across coordinate updates.
	r := make([]float64, n)
	for i := range y {
		r[i] = y[i] - intercept
	}

	threshold := m.Lambda * float64(n)
	for iter := 0; iter < m.MaxIter; iter++ {
		maxDelta := 0.0
		for j := 0; j < d; j++ {
			if z[j] == 0 {
				continue
			}
			rho := 0.0
			for i := 0; i < n; i++ {
				rho += X[i][j] * (r[i] + w[j]*X[i][j])
			}
			wNew := softThreshold(rho, threshold) / z[j]
			delta := wNew - w[j]
			if delta != 0 {
				for i := 0; i < n; i++ {
					r[i] -= delta * X[i][j]
				}
				w[j] = wNew
			}
			if math.Abs(delta) > maxDelta {
				maxDelta = math.Abs(delta)
			}
		}

		meanR := 0.0
		for _, v := range r {
			meanR += v
		}
		meanR /= float64(n)
		if meanR != 0 {
			intercept += meanR
			for i := range r {
				r[i] -= meanR
			}
		}

		if maxDelta < m.Tol {
			break
		}
	}

	m.intercept = intercept
	m.coef = w
	m.nFeatures = d
	m.fitted = true
	return nil
}

func (m *Lasso) Predict(x []float64) (float64, error) {
	if !m.fitted {
		return 0, ErrNotFitted
	}
	if err := checkVector(x, m.nFeatures); err != nil {
		return 0, err
	}
	return m.intercept + dot(m.coef, x), nil
}

func (m *Lasso) PredictBatch(X [][]float64) ([]float64, error) {
	return predictBatch(m, X)
}

// Coefficients returns the fitted intercept and weights.
func (m *Lasso) Coefficients() (float64, []float64) {
	return m.intercept, m.coef
}

func softThreshold(v, threshold float64) float64 {
	switch {
	case v > threshold:
		return v - threshold
	case v < -threshold:
		return v + threshold
	default:
		return 0
	}
}
