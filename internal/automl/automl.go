// Package automl searches a fixed family grid of regression models under
// time and model-count budgets, ranks candidates on a chronological holdout
// and combines the leaders into a weighted ensemble. Fits execute on the
// compute cluster, which the caller starts beforehand and tears down after.
package automl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/peakshaver/glassbox/internal/compute"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/metrics"
	"github.com/peakshaver/glassbox/internal/model"
	"github.com/peakshaver/glassbox/pkg/otel"
)

// ErrNoModels is returned when no candidate finishes training inside the
// budgets.
var ErrNoModels = errors.New("automl: no candidate finished training")

// Config holds the search budgets and validation policy.
type Config struct {
	MaxModels  int           `json:"max_models"`
	MaxRuntime time.Duration `json:"max_runtime"`
	Holdout    float64       `json:"holdout"`
	TopK       int           `json:"top_k"`
	Seed       int64         `json:"seed"`
}

// DefaultConfig covers a laptop-scale run.
func DefaultConfig() Config {
	return Config{
		MaxModels:  20,
		MaxRuntime: 5 * time.Minute,
		Holdout:    0.2,
		TopK:       3,
		Seed:       42,
	}
}

// Validate rejects unusable budgets.
func (c Config) Validate() error {
	if c.MaxModels < 1 {
		return fmt.Errorf("automl: max models must be at least 1, got %d", c.MaxModels)
	}
	if c.Holdout <= 0 || c.Holdout >= 1 {
		return fmt.Errorf("automl: holdout must be in (0,1), got %g", c.Holdout)
	}
	if c.TopK < 1 {
		return fmt.Errorf("automl: top-k must be at least 1, got %d", c.TopK)
	}
	return nil
}

// LeaderboardEntry is one ranked candidate.
type LeaderboardEntry struct {
	Rank      int                `json:"rank"`
	Model     string             `json:"model"`
	Params    map[string]float64 `json:"params,omitempty"`
	ValMAE    float64            `json:"val_mae"`
	ValRMSE   float64            `json:"val_rmse"`
	ValR2     float64            `json:"val_r2"`
	TrainTime time.Duration      `json:"train_time"`
}

// Result is the outcome of one search.
type Result struct {
	Ensemble    *Ensemble          `json:"-"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Trained     int                `json:"trained"`
	Failed      int                `json:"failed"`
	Elapsed     time.Duration      `json:"elapsed"`
}

// Best returns the leaderboard leader.
func (r *Result) Best() LeaderboardEntry {
	if len(r.Leaderboard) == 0 {
		return LeaderboardEntry{}
	}
	return r.Leaderboard[0]
}

// Candidate names a model constructor drawn from the family grid.
type Candidate struct {
	Name  string
	Build func() model.Model
}

// Engine binds budgets, the compute cluster and observability.
type Engine struct {
	cfg     Config
	cluster *compute.Cluster
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEngine creates a search engine. m may be nil when metrics are not
// collected.
func NewEngine(cfg Config, cluster *compute.Cluster, logger zerolog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{cfg: cfg, cluster: cluster, metrics: m, log: logger}
}

type scored struct {
	model model.Model
	entry LeaderboardEntry
}

// Train runs the budgeted search over frame. The holdout block is a
// chronological split inside the training frame; no candidate ever sees it
// during fitting.
func (e *Engine) Train(ctx context.Context, frame *features.Frame) (*Result, error) {
	ctx, span := otel.StartSpan(ctx, "automl", "automl.train",
		otel.AttrFeatureRows.Int(frame.NumRows()),
		otel.AttrFeatureColumns.Int(frame.NumFeatures()),
	)
	defer span.End()
	start := time.Now()

	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	holdout := int(float64(frame.NumRows()) * e.cfg.Holdout)
	if holdout < 1 {
		holdout = 1
	}
	fitFrame, valFrame, err := frame.Split(holdout)
	if err != nil {
		return nil, fmt.Errorf("automl holdout split: %w", err)
	}
	fitX, fitY := fitFrame.Rows(), fitFrame.Target
	valX, valY := valFrame.Rows(), valFrame.Target

	if e.cfg.MaxRuntime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.MaxRuntime)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		results []scored
		failed  int
		wg      sync.WaitGroup
	)

	submitted := 0
	for _, cand := range candidates(frame.Names, e.cfg.Seed) {
		if submitted >= e.cfg.MaxModels {
			e.log.Debug().Int("submitted", submitted).Msg("model budget reached")
			break
		}
		if ctx.Err() != nil {
			e.log.Debug().Msg("time budget reached before submission")
			break
		}

		cand := cand
		wg.Add(1)
		err := e.cluster.Submit(ctx, func(context.Context) error {
			defer wg.Done()
			jobStart := time.Now()

			m := cand.Build()
			if err := m.Fit(fitX, fitY); err != nil {
				e.recordFailure(cand.Name, err, &mu, &failed)
				return err
			}
			rep, err := model.Evaluate(m, valX, valY)
			if err != nil {
				e.recordFailure(cand.Name, err, &mu, &failed)
				return err
			}

			entry := LeaderboardEntry{
				Model:     cand.Name,
				Params:    m.Params(),
				ValMAE:    rep.MAE,
				ValRMSE:   rep.RMSE,
				ValR2:     rep.R2,
				TrainTime: time.Since(jobStart),
			}
			mu.Lock()
			results = append(results, scored{model: m, entry: entry})
			mu.Unlock()

			if e.metrics != nil {
				e.metrics.ModelsTrained.Inc()
			}
			e.log.Info().
				Str("model", cand.Name).
				Float64("val_mae", rep.MAE).
				Float64("val_r2", rep.R2).
				Dur("train_time", entry.TrainTime).
				Msg("candidate trained")
			return nil
		})
		if err != nil {
			wg.Done()
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, compute.ErrStopped) {
				break
			}
			return nil, fmt.Errorf("automl submit: %w", err)
		}
		submitted++
	}
	wg.Wait()

	if len(results) == 0 {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoModels, ctx.Err())
		}
		return nil, ErrNoModels
	}

	// Rank ascending by validation MAE.
	sort.Slice(results, func(a, b int) bool { return results[a].entry.ValMAE < results[b].entry.ValMAE })
	leaderboard := make([]LeaderboardEntry, len(results))
	for i := range results {
		results[i].entry.Rank = i + 1
		leaderboard[i] = results[i].entry
	}

	topK := e.cfg.TopK
	if topK > len(results) {
		topK = len(results)
	}
	members := make([]Member, topK)
	for i := 0; i < topK; i++ {
		// Performance weighting: better validation error, bigger vote.
		members[i] = Member{
			Model:  results[i].model,
			Weight: 1 / (results[i].entry.ValMAE + 1e-9),
		}
	}
	ensemble, err := NewEnsemble(members)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.BestValidationMAE.Set(leaderboard[0].ValMAE)
		cs := e.cluster.Stats()
		e.metrics.ClusterJobsCompleted.Set(float64(cs.JobsCompleted))
		e.metrics.ClusterJobsFailed.Set(float64(cs.JobsFailed))
		e.metrics.ClusterBusySeconds.Set(cs.BusyTime.Seconds())
	}

	result := &Result{
		Ensemble:    ensemble,
		Leaderboard: leaderboard,
		Trained:     len(results),
		Failed:      failed,
		Elapsed:     time.Since(start),
	}
	span.SetAttributes(otel.ModelAttributes(leaderboard[0].Model, leaderboard[0].ValMAE, leaderboard[0].ValR2)...)
	e.log.Info().
		Str("best", leaderboard[0].Model).
		Float64("best_val_mae", leaderboard[0].ValMAE).
		Int("trained", result.Trained).
		Int("failed", result.Failed).
		Dur("elapsed", result.Elapsed).
		Msg("search complete")
	return result, nil
}

func (e *Engine) recordFailure(name string, err error, mu *sync.Mutex, failed *int) {
	mu.Lock()
	*failed++
	mu.Unlock()
	if e.metrics != nil {
		e.metrics.ModelsFailed.Inc()
	}
	e.log.Warn().Str("model", name).Err(err).Msg("candidate failed")
}

// candidates enumerates the family grid. Seeds derive from the run seed so
// repeated searches over the same frame are reproducible.
func candidates(featureNames []string, seed int64) []Candidate {
	cands := []Candidate{
		{Name: "linear_ols", Build: func() model.Model { return model.NewLinear(featureNames) }},
	}
	for _, alpha := range []float64{0.1, 1, 10} {
		alpha := alpha
		cands = append(cands, Candidate{
			Name:  fmt.Sprintf("ridge_%g", alpha),
			Build: func() model.Model { return model.NewRidge(alpha) },
		})
	}
	for _, lambda := range []float64{0.001, 0.01} {
		lambda := lambda
		cands = append(cands, Candidate{
			Name:  fmt.Sprintf("lasso_%g", lambda),
			Build: func() model.Model { return model.NewLasso(lambda) },
		})
	}
	for _, depth := range []int{4, 6} {
		depth := depth
		cands = append(cands, Candidate{
			Name: fmt.Sprintf("tree_d%d", depth),
			Build: func() model.Model {
				t := model.NewRegressionTree(depth, 4)
				t.Seed = seed + int64(depth)
				return t
			},
		})
	}
	for _, spec := range []struct{ trees, depth int }{{60, 8}, {120, 12}} {
		spec := spec
		cands = append(cands, Candidate{
			Name:  fmt.Sprintf("forest_%dx%d", spec.trees, spec.depth),
			Build: func() model.Model { return model.NewForest(spec.trees, spec.depth, seed+int64(spec.trees)) },
		})
	}
	for _, spec := range []struct {
		stages int
		lr     float64
		depth  int
	}{{100, 0.1, 3}, {200, 0.05, 4}} {
		spec := spec
		cands = append(cands, Candidate{
			Name:  fmt.Sprintf("gbm_%dx%g", spec.stages, spec.lr),
			Build: func() model.Model { return model.NewGBM(spec.stages, spec.lr, spec.depth, seed+int64(spec.stages)) },
		})
	}
	for _, k := range []int{5, 24} {
		k := k
		cands = append(cands, Candidate{
			Name:  fmt.Sprintf("knn_%d", k),
			Build: func() model.Model { return model.NewKNN(k) },
		})
	}
	return cands
}
