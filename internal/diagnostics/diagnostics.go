// Package diagnostics provides residual checks for the report: sample
// autocorrelation, the Ljung-Box portmanteau test, the Durbin-Watson
// statistic and a bootstrap summary of the residual distribution.
package diagnostics

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrShortResiduals is returned when too few residuals are supplied.
	ErrShortResiduals = errors.New("diagnostics: too few residuals")
	// ErrZeroVariance is returned when the residuals are constant.
	ErrZeroVariance = errors.New("diagnostics: residuals have zero variance")
)

// ACF returns sample autocorrelations for lags 0 through maxLag. Lag zero is
// always 1. Returns nil when the input is constant or shorter than two
// observations.
func ACF(values []float64, maxLag int) []float64 {
	n := len(values)
	if n < 2 {
		return nil
	}
	if maxLag >= n {
		maxLag = n - 1
	}
	if maxLag < 0 {
		return nil
	}

	mean := stat.Mean(values, nil)
	variance := 0.0
	for _, v := range values {
		diff := v - mean
		variance += diff * diff
	}
	if variance == 0 {
		return nil
	}

	acf := make([]float64, maxLag+1)
	for k := 0; k <= maxLag; k++ {
		sum := 0.0
		for i := k; i < n; i++ {
			sum += (values[i] - mean) * (values[i-k] - mean)
		}
		acf[k] = sum / variance
	}
	return acf
}

// ACFResult pairs autocorrelations with their 95% white-noise band for
// plotting.
type ACFResult struct {
	Lags      []int     `json:"lags"`
	Values    []float64 `json:"values"`
	ConfBound float64   `json:"conf_bound"` // +-1.96/sqrt(n)
}

// ACFWithConfidence computes the ACF together with its confidence band.
func ACFWithConfidence(values []float64, maxLag int) *ACFResult {
	acf := ACF(values, maxLag)
	if acf == nil {
		return nil
	}
	lags := make([]int, len(acf))
	for i := range lags {
		lags[i] = i
	}
	return &ACFResult{
		Lags:      lags,
		Values:    acf,
		ConfBound: 1.96 / math.Sqrt(float64(len(values))),
	}
}

// LjungBoxResult holds the portmanteau test outcome. A small p-value rejects
// the hypothesis that the residuals are uncorrelated up to the tested lag.
type LjungBoxResult struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Lags      int     `json:"lags"`
	DOF       int     `json:"dof"`
}

// LjungBox tests residuals for autocorrelation up to lags. fitdf is the
// number of parameters the model estimated; it reduces the degrees of
// freedom.
func LjungBox(values []float64, lags, fitdf int) (*LjungBoxResult, error) {
	n := len(values)
	if n < 10 {
		return nil, fmt.Errorf("%w: need at least 10, got %d", ErrShortResiduals, n)
	}
	if lags < 1 {
		return nil, fmt.Errorf("diagnostics: lags must be positive, got %d", lags)
	}
	if lags >= n {
		lags = n - 1
	}

	acf := ACF(values, lags)
	if acf == nil {
		return nil, ErrZeroVariance
	}

	q := 0.0
	for k := 1; k <= lags; k++ {
		q += (acf[k] * acf[k]) / float64(n-k)
	}
	q *= float64(n * (n + 2))

	dof := lags - fitdf
	if dof < 1 {
		dof = 1
	}

	pValue := 1 - distuv.ChiSquared{K: float64(dof)}.CDF(q)
	return &LjungBoxResult{
		Statistic: q,
		PValue:    pValue,
		Lags:      lags,
		DOF:       dof,
	}, nil
}

// DurbinWatson measures first-order autocorrelation. Values near 2 mean
// none, toward 0 positive, toward 4 negative. Returns 2 when the statistic
// is undefined.
func DurbinWatson(residuals []float64) float64 {
	n := len(residuals)
	if n < 2 {
		return 2
	}
	num := 0.0
	for i := 1; i < n; i++ {
		diff := residuals[i] - residuals[i-1]
		num += diff * diff
	}
	den := 0.0
	for _, r := range residuals {
		den += r * r
	}
	if den == 0 {
		return 2
	}
	return num / den
}

// Summary describes the residual distribution, with a bootstrap confidence
// interval for the mean.
type Summary struct {
	N            int     `json:"n"`
	Mean         float64 `json:"mean"`
	StdDev       float64 `json:"std_dev"`
	Min          float64 `json:"min"`
	P25          float64 `json:"p25"`
	Median       float64 `json:"median"`
	P75          float64 `json:"p75"`
	Max          float64 `json:"max"`
	MeanCILow    float64 `json:"mean_ci_low"`  // 95% bootstrap
	MeanCIHigh   float64 `json:"mean_ci_high"` // 95% bootstrap
	DurbinWatson float64 `json:"durbin_watson"`
}

const bootstrapResamples = 1000

// Summarize computes the residual summary. The seed fixes the bootstrap
// resampling.
func Summarize(residuals []float64, seed int64) (*Summary, error) {
	n := len(residuals)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2, got %d", ErrShortResiduals, n)
	}

	sorted := make([]float64, n)
	copy(sorted, residuals)
	sort.Float64s(sorted)

	mean := stat.Mean(residuals, nil)

	// Bootstrap the mean: resample with replacement, take the percentile
	// interval of the resampled means.
	rng := rand.New(rand.NewSource(seed))
	boots := make([]float64, bootstrapResamples)
	for b := range boots {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += residuals[rng.Intn(n)]
		}
		boots[b] = sum / float64(n)
	}
	sort.Float64s(boots)
	ciLow := stat.Quantile(0.025, stat.Empirical, boots, nil)
	ciHigh := stat.Quantile(0.975, stat.Empirical, boots, nil)

	return &Summary{
		N:            n,
		Mean:         mean,
		StdDev:       stat.StdDev(residuals, nil),
		Min:          sorted[0],
		P25:          stat.Quantile(0.25, stat.Empirical, sorted, nil),
		Median:       stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P75:          stat.Quantile(0.75, stat.Empirical, sorted, nil),
		Max:          sorted[n-1],
		MeanCILow:    ciLow,
		MeanCIHigh:   ciHigh,
		DurbinWatson: DurbinWatson(residuals),
	}, nil
}
