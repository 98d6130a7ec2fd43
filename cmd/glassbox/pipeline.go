package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/compute"
	"github.com/peakshaver/glassbox/internal/config"
	"github.com/peakshaver/glassbox/internal/conformal"
	"github.com/peakshaver/glassbox/internal/dataset"
	"github.com/peakshaver/glassbox/internal/diagnostics"
	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/metrics"
	"github.com/peakshaver/glassbox/internal/model"
	"github.com/peakshaver/glassbox/internal/report"
	"github.com/peakshaver/glassbox/internal/store"
)

// runOutput is what the pipeline hands back to the run and serve commands.
// The caller owns Explainer.Close.
type runOutput struct {
	Record    *store.RunRecord
	Written   []string
	Result    *automl.Result
	Explainer *explain.Explainer
}

func loadSeries(cfg *config.Config) (*dataset.Series, error) {
	if cfg.DataPath == "" {
		return nil, fmt.Errorf("no data path configured (GBX_DATA or --data)")
	}
	opts := dataset.DefaultLoadOptions()
	opts.SeriesID = cfg.SeriesID
	if cfg.Frequency != "" {
		opts.Frequency = cfg.Frequency
	}
	s, err := dataset.Load(cfg.DataPath, opts)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(cfg.SnapshotPath, cfg.StoreTTL), nil
	case "redis":
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.StoreTTL)
	case "postgres":
		return store.NewPostgresStore(cfg.PostgresConn, cfg.StoreTTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// runPipeline executes the whole run: load, features, split, search, score,
// explain, diagnose, report. Explanation and diagnostic failures degrade to
// missing report sections instead of killing the run.
func runPipeline(ctx context.Context, cfg *config.Config, logger zerolog.Logger, m *metrics.Metrics) (*runOutput, error) {
	// 1. Load the series
	stage := stageTimer(m)
	series, err := loadSeries(cfg)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	if m != nil {
		m.RowsIngested.Add(float64(series.Len()))
	}
	stage("load")
	logger.Info().Str("series", series.Name).Int("rows", series.Len()).Msg("series loaded")

	rec := store.NewRunRecord(series.Name, series.Fingerprint())
	rec.Horizon = cfg.Horizon
	rec.Features = cfg.Features
	rec.AutoML = cfg.AutoML

	// 2. Feature table
	frame, err := features.Build(series, cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	stage("features")

	// 3. Chronological split: the final horizon hours stay unseen until
	// scoring.
	trainFrame, testFrame, err := frame.Split(cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	logger.Info().
		Int("train_rows", trainFrame.NumRows()).
		Int("test_rows", testFrame.NumRows()).
		Int("features", frame.NumFeatures()).
		Msg("feature table split")

	// 4. Budgeted search on the worker pool
	cluster := compute.NewCluster(compute.Config{Workers: cfg.Workers})
	if err := cluster.Start(ctx); err != nil {
		return nil, fmt.Errorf("start cluster: %w", err)
	}
	defer cluster.Shutdown(context.Background())

	engine := automl.NewEngine(cfg.AutoML, cluster, logger, m)
	result, err := engine.Train(ctx, trainFrame)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	rec.Leaderboard = result.Leaderboard
	rec.BestModel = result.Best().Model
	stage("train")

	// 5. Score the held-out block in original units
	predStd, err := result.Ensemble.PredictBatch(testFrame.Rows())
	if err != nil {
		return nil, fmt.Errorf("score test block: %w", err)
	}
	predicted, err := testFrame.Scaler.Inverse(predStd)
	if err != nil {
		return nil, fmt.Errorf("invert predictions: %w", err)
	}
	actual, err := testFrame.Scaler.Inverse(testFrame.Target)
	if err != nil {
		return nil, fmt.Errorf("invert targets: %w", err)
	}
	rec.TestMetrics = &model.Report{
		MAE:  model.MAE(actual, predicted),
		RMSE: model.RMSE(actual, predicted),
		MAPE: model.MAPE(actual, predicted),
		R2:   model.R2(actual, predicted),
	}
	residuals := make([]float64, len(actual))
	for i := range actual {
		residuals[i] = actual[i] - predicted[i]
	}
	logger.Info().
		Float64("test_mae", rec.TestMetrics.MAE).
		Float64("test_r2", rec.TestMetrics.R2).
		Msg("test block scored")

	in := &report.Input{
		Record:    rec,
		TestTimes: testFrame.Times,
		Actual:    actual,
		Predicted: predicted,
		Result:    result,
	}

	// 6. Conformal interval around the test forecast
	buildIntervals(cfg, trainFrame, result.Ensemble, predicted, in, logger)

	// 7. Explanations against the training background
	exp, err := explain.New(result.Ensemble, trainFrame, cfg.Explain, m)
	if err != nil {
		return nil, fmt.Errorf("build explainer: %w", err)
	}
	buildExplanations(ctx, exp, testFrame, in, logger)
	stage("explain")

	// 8. Residual diagnostics
	buildDiagnostics(residuals, cfg.AutoML.Seed, in, logger)

	// 9. Report artifacts
	builder := report.NewBuilder(filepath.Join(cfg.OutDir, rec.ID), m)
	written, err := builder.Build(ctx, in)
	if err != nil {
		exp.Close()
		return nil, fmt.Errorf("build report: %w", err)
	}
	rec.ArtifactDir = builder.OutDir()
	for _, p := range written {
		rec.Artifacts = append(rec.Artifacts, filepath.Base(p))
	}
	rec.Finish()
	stage("report")
	logger.Info().
		Str("run_id", rec.ID).
		Str("dir", rec.ArtifactDir).
		Int("artifacts", len(written)).
		Msg("run complete")

	return &runOutput{Record: rec, Written: written, Result: result, Explainer: exp}, nil
}

// buildIntervals calibrates a split-conformal band and wraps the test
// forecast in it. The calibration block is the same chronological tail the
// leaderboard was ranked on, so every member fit is out of sample there. A
// failure leaves the report without a band.
func buildIntervals(cfg *config.Config, trainFrame *features.Frame, ens *automl.Ensemble, predicted []float64, in *report.Input, logger zerolog.Logger) {
	holdout := int(float64(trainFrame.NumRows()) * cfg.AutoML.Holdout)
	if holdout < 1 {
		holdout = 1
	}
	_, calib, err := trainFrame.Split(holdout)
	if err != nil {
		logger.Warn().Err(err).Msg("interval calibration split failed")
		return
	}
	predStd, err := ens.PredictBatch(calib.Rows())
	if err != nil {
		logger.Warn().Err(err).Msg("interval calibration predictions failed")
		return
	}
	calibPred, err := calib.Scaler.Inverse(predStd)
	if err != nil {
		logger.Warn().Err(err).Msg("interval calibration inverse failed")
		return
	}
	calibActual, err := calib.Scaler.Inverse(calib.Target)
	if err != nil {
		logger.Warn().Err(err).Msg("interval calibration inverse failed")
		return
	}

	cal, err := conformal.New(cfg.IntervalLevel)
	if err != nil {
		logger.Warn().Err(err).Msg("interval calibrator rejected")
		return
	}
	if err := cal.Calibrate(calibActual, calibPred); err != nil {
		logger.Warn().Err(err).Msg("interval calibration failed")
		return
	}
	band, err := cal.Intervals(predicted)
	if err != nil {
		logger.Warn().Err(err).Msg("interval construction failed")
		return
	}
	in.Band = band
	logger.Info().
		Float64("level", band.Level).
		Float64("half_width", band.HalfWidth).
		Int("calibration_n", band.CalibrationN).
		Msg("forecast interval calibrated")
}

// buildExplanations fills the report input. Individual estimator failures
// are logged and leave their section empty.
func buildExplanations(ctx context.Context, exp *explain.Explainer, testFrame *features.Frame, in *report.Input, logger zerolog.Logger) {
	imp, err := exp.FeatureImportance(ctx, testFrame.Rows(), testFrame.Target, 5)
	if err != nil {
		logger.Warn().Err(err).Msg("importance failed")
	} else {
		in.Importance = imp
	}

	// Profile the two features that move the loss most.
	top := exp.FeatureNames()
	if imp != nil {
		top = imp.TopFeatures(len(top))
	}
	if len(top) > 2 {
		top = top[:2]
	}
	for _, feature := range top {
		if pdp, err := exp.PartialDependence(ctx, feature, 20); err != nil {
			logger.Warn().Err(err).Str("feature", feature).Msg("pdp failed")
		} else {
			in.Profiles = append(in.Profiles, pdp)
		}
		if ale, err := exp.ALE(ctx, feature, 10); err != nil {
			logger.Warn().Err(err).Str("feature", feature).Msg("ale failed")
		} else {
			in.Profiles = append(in.Profiles, ale)
		}
	}

	// Local explanations for the most recent test hour.
	x := testFrame.Row(testFrame.NumRows() - 1)
	if bd, err := exp.BreakDown(ctx, x); err != nil {
		logger.Warn().Err(err).Msg("break-down failed")
	} else {
		in.BreakDown = bd
	}
	if sh, err := exp.Shapley(ctx, x, 0); err != nil {
		logger.Warn().Err(err).Msg("shapley failed")
	} else {
		in.Shapley = sh
	}
	if ls, err := exp.LIME(ctx, x, 0, 0); err != nil {
		logger.Warn().Err(err).Msg("lime failed")
	} else {
		in.Surrogate = ls
	}
	if len(top) > 0 {
		if cp, err := exp.CeterisParibus(ctx, x, top[0], 20); err != nil {
			logger.Warn().Err(err).Str("feature", top[0]).Msg("ceteris-paribus failed")
		} else {
			in.Paribus = append(in.Paribus, cp)
		}
	}
	if st, err := exp.Stability(ctx, x, 5, 15); err != nil {
		logger.Warn().Err(err).Msg("stability failed")
	} else {
		// Keep the report to the profiled features.
		if len(st.Features) > 2 {
			st.Features = st.Features[:2]
		}
		in.Stability = st
	}
}

func buildDiagnostics(residuals []float64, seed int64, in *report.Input, logger zerolog.Logger) {
	summary, err := diagnostics.Summarize(residuals, seed)
	if err != nil {
		logger.Warn().Err(err).Msg("residual summary failed")
	} else {
		in.Residuals = summary
	}

	lags := 10
	if len(residuals)/2 < lags {
		lags = len(residuals) / 2
	}
	lb, err := diagnostics.LjungBox(residuals, lags, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("ljung-box failed")
	} else {
		in.LjungBox = lb
	}

	maxLag := 24
	if len(residuals)-1 < maxLag {
		maxLag = len(residuals) - 1
	}
	if acf := diagnostics.ACFWithConfidence(residuals, maxLag); acf != nil {
		in.ACF = acf
	}
}

// trainOutput is the result of a search without the explanation and report
// stages.
type trainOutput struct {
	Series *dataset.Series
	Frame  *features.Frame // full table
	Train  *features.Frame
	Test   *features.Frame
	Result *automl.Result
}

// trainOnly loads, builds features, splits and runs the budgeted search.
func trainOnly(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*trainOutput, error) {
	series, err := loadSeries(cfg)
	if err != nil {
		return nil, fmt.Errorf("load series: %w", err)
	}
	frame, err := features.Build(series, cfg.Features)
	if err != nil {
		return nil, fmt.Errorf("build features: %w", err)
	}
	trainFrame, testFrame, err := frame.Split(cfg.Horizon)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}

	cluster := compute.NewCluster(compute.Config{Workers: cfg.Workers})
	if err := cluster.Start(ctx); err != nil {
		return nil, fmt.Errorf("start cluster: %w", err)
	}
	defer cluster.Shutdown(context.Background())

	engine := automl.NewEngine(cfg.AutoML, cluster, logger, nil)
	result, err := engine.Train(ctx, trainFrame)
	if err != nil {
		return nil, fmt.Errorf("train: %w", err)
	}
	return &trainOutput{
		Series: series,
		Frame:  frame,
		Train:  trainFrame,
		Test:   testFrame,
		Result: result,
	}, nil
}

// explainRow trains under budget and writes explanation artifacts for one
// row of the feature table as JSON.
func explainRow(ctx context.Context, cfg *config.Config, logger zerolog.Logger, row int) error {
	out, err := trainOnly(ctx, cfg, logger)
	if err != nil {
		return err
	}

	exp, err := explain.New(out.Result.Ensemble, out.Train, cfg.Explain, nil)
	if err != nil {
		return fmt.Errorf("build explainer: %w", err)
	}
	defer exp.Close()

	if row < 0 || row >= out.Frame.NumRows() {
		row = out.Frame.NumRows() - 1
	}
	x := out.Frame.Row(row)

	dir := filepath.Join(cfg.OutDir, "explain")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	writeJSON := func(name string, v any) error {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		return os.WriteFile(filepath.Join(dir, name), data, 0o644)
	}

	imp, err := exp.FeatureImportance(ctx, out.Test.Rows(), out.Test.Target, 5)
	if err != nil {
		return fmt.Errorf("importance: %w", err)
	}
	if err := writeJSON("importance.json", imp); err != nil {
		return err
	}

	bd, err := exp.BreakDown(ctx, x)
	if err != nil {
		return fmt.Errorf("break-down: %w", err)
	}
	if err := writeJSON("breakdown.json", bd); err != nil {
		return err
	}

	sh, err := exp.Shapley(ctx, x, 0)
	if err != nil {
		return fmt.Errorf("shapley: %w", err)
	}
	if err := writeJSON("shapley.json", sh); err != nil {
		return err
	}

	ls, err := exp.LIME(ctx, x, 0, 0)
	if err != nil {
		return fmt.Errorf("lime: %w", err)
	}
	if err := writeJSON("lime.json", ls); err != nil {
		return err
	}

	for _, feature := range imp.TopFeatures(2) {
		pdp, err := exp.PartialDependence(ctx, feature, 20)
		if err != nil {
			return fmt.Errorf("pdp %s: %w", feature, err)
		}
		if err := writeJSON(fmt.Sprintf("pdp_%s.json", feature), pdp); err != nil {
			return err
		}
		ale, err := exp.ALE(ctx, feature, 10)
		if err != nil {
			return fmt.Errorf("ale %s: %w", feature, err)
		}
		if err := writeJSON(fmt.Sprintf("ale_%s.json", feature), ale); err != nil {
			return err
		}
	}

	st, err := exp.Stability(ctx, x, 5, 15)
	if err != nil {
		return fmt.Errorf("stability: %w", err)
	}
	if err := writeJSON("stability.json", st); err != nil {
		return err
	}

	fmt.Printf("=== Explanation for row %d (%s) ===\n", row, out.Frame.Times[row].UTC().Format(time.RFC3339))
	fmt.Printf("Prediction: %.4f (baseline %.4f)\n\n", bd.Prediction, bd.Baseline)
	fmt.Printf("%-16s %12s %12s\n", "Feature", "Value", "Contribution")
	for _, c := range bd.Contributions {
		fmt.Printf("%-16s %12.4f %+12.4f\n", c.Feature, c.Value, c.Contribution)
	}
	fmt.Printf("\nArtifacts in %s\n", dir)
	return nil
}

// writeFeatureCSV dumps the feature table with its time index and
// standardized target, one row per surviving observation.
func writeFeatureCSV(frame *features.Frame, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"time"}, frame.Names...)
	header = append(header, "target")
	if err := w.Write(header); err != nil {
		return err
	}
	row := make([]string, 0, len(header))
	for i := 0; i < frame.NumRows(); i++ {
		row = row[:0]
		row = append(row, frame.Times[i].UTC().Format(time.RFC3339))
		for _, v := range frame.Row(i) {
			row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
		}
		row = append(row, strconv.FormatFloat(frame.Target[i], 'g', -1, 64))
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// stageTimer observes wall time per pipeline stage.
func stageTimer(m *metrics.Metrics) func(stage string) {
	last := time.Now()
	return func(stage string) {
		if m != nil {
			m.StageDuration.WithLabelValues(stage).Observe(time.Since(last).Seconds())
		}
		last = time.Now()
	}
}
