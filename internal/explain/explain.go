// Package explain produces post-hoc explanations for a fitted predictor:
// permutation importance, partial dependence, accumulated local effects,
// additive break-down, Monte-Carlo Shapley values, LIME surrogates,
// ceteris-paribus curves and neighborhood stability profiles. Every
// estimator is sampling-based with a fixed budget and is deterministic
// under a fixed seed. Repeated model calls on identical vectors are served
// from an LRU prediction cache.
package explain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/peakshaver/glassbox/internal/cache"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/metrics"
)

var (
	// ErrNoBackground is returned when the background frame has no rows.
	ErrNoBackground = errors.New("explain: background frame is empty")
	// ErrUnknownFeature is returned when a feature name is not in the frame.
	ErrUnknownFeature = errors.New("explain: unknown feature")
)

// Predictor is the model surface the explainer needs. automl.Ensemble and
// every individual model satisfy it.
type Predictor interface {
	Predict(x []float64) (float64, error)
	PredictBatch(X [][]float64) ([]float64, error)
}

// Config tunes the sampling budgets shared by the estimators.
type Config struct {
	Samples   int           `json:"samples"` // default Monte-Carlo budget per call
	Seed      int64         `json:"seed"`
	CacheSize int           `json:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// DefaultConfig returns budgets sized for interactive use.
func DefaultConfig() Config {
	return Config{
		Samples:   200,
		Seed:      42,
		CacheSize: 4096,
		CacheTTL:  15 * time.Minute,
	}
}

// Explainer binds a predictor to a background frame. The background supplies
// the reference distribution: column means form the baseline vector, column
// ranges form profile grids and rows are drawn as Shapley coalitions.
type Explainer struct {
	pred     Predictor
	frame    *features.Frame
	cfg      Config
	baseline []float64
	base     float64
	cache    *cache.Predictions
	metrics  *metrics.Metrics
}

// New builds an explainer over the background frame. The metrics handle may
// be nil.
func New(pred Predictor, frame *features.Frame, cfg Config, m *metrics.Metrics) (*Explainer, error) {
	if pred == nil {
		return nil, errors.New("explain: nil predictor")
	}
	if frame == nil || frame.NumRows() == 0 {
		return nil, ErrNoBackground
	}
	if cfg.Samples <= 0 {
		cfg.Samples = DefaultConfig().Samples
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultConfig().CacheSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}

	pc, err := cache.NewPredictions(cfg.CacheSize, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("explain: prediction cache: %w", err)
	}

	baseline := columnMeans(frame)
	base, err := pred.Predict(baseline)
	if err != nil {
		return nil, fmt.Errorf("explain: baseline prediction: %w", err)
	}

	return &Explainer{
		pred:     pred,
		frame:    frame,
		cfg:      cfg,
		baseline: baseline,
		base:     base,
		cache:    pc,
		metrics:  m,
	}, nil
}

// Baseline returns the model output on the background column means. Local
// attributions are reported relative to this value.
func (e *Explainer) Baseline() float64 { return e.base }

// FeatureNames returns the background frame's feature names.
func (e *Explainer) FeatureNames() []string { return e.frame.Names }

// CacheStats reports prediction cache counters.
func (e *Explainer) CacheStats() cache.Stats { return e.cache.Stats() }

// Close releases the prediction cache.
func (e *Explainer) Close() error { return e.cache.Close() }

// predict serves a single vector through the LRU.
func (e *Explainer) predict(x []float64) (float64, error) {
	key := cache.Key(x)
	if v, ok := e.cache.Get(key); ok {
		if e.metrics != nil {
			e.metrics.CacheHits.Inc()
		}
		return v, nil
	}
	if e.metrics != nil {
		e.metrics.CacheMisses.Inc()
	}
	v, err := e.pred.Predict(x)
	if err != nil {
		return 0, err
	}
	e.cache.Set(key, v)
	return v, nil
}

// predictBatch bypasses the cache; batch callers generate fresh vectors.
func (e *Explainer) predictBatch(X [][]float64) ([]float64, error) {
	return e.pred.PredictBatch(X)
}

func (e *Explainer) countExplanation(method string) {
	if e.metrics != nil {
		e.metrics.ExplanationsComputed.WithLabelValues(method).Inc()
	}
}

// rng derives a per-method stream so estimators stay independent yet
// reproducible under the shared seed.
func (e *Explainer) rng(salt int64) *rand.Rand {
	return rand.New(rand.NewSource(e.cfg.Seed*2654435761 + salt))
}

func (e *Explainer) featureIndex(name string) (int, error) {
	idx := e.frame.FeatureIndex(name)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFeature, name)
	}
	return idx, nil
}

func (e *Explainer) checkVector(x []float64) error {
	if len(x) != e.frame.NumFeatures() {
		return fmt.Errorf("explain: vector has %d features, background has %d",
			len(x), e.frame.NumFeatures())
	}
	return nil
}

func columnMeans(frame *features.Frame) []float64 {
	means := make([]float64, frame.NumFeatures())
	for j, col := range frame.Columns {
		means[j] = stat.Mean(col, nil)
	}
	return means
}

func columnStds(frame *features.Frame) []float64 {
	stds := make([]float64, frame.NumFeatures())
	for j, col := range frame.Columns {
		stds[j] = stat.StdDev(col, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}
	return stds
}

// gridForColumn spaces size points over the column's observed range. A
// constant column collapses to a single point.
func gridForColumn(col []float64, size int) []float64 {
	if size < 2 {
		size = 2
	}
	lo, hi := col[0], col[0]
	for _, v := range col {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi-lo < 1e-12 {
		return []float64{lo}
	}
	grid := make([]float64, size)
	step := (hi - lo) / float64(size-1)
	for i := range grid {
		grid[i] = lo + float64(i)*step
	}
	grid[size-1] = hi
	return grid
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
