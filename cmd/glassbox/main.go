package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/peakshaver/glassbox/internal/config"
	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/metrics"
	"github.com/peakshaver/glassbox/internal/report"
	"github.com/peakshaver/glassbox/internal/server"
	"github.com/peakshaver/glassbox/pkg/otel"
)

var (
	// Global flags
	configFile string
	outDir     string
	verbose    bool
	dryRun     bool

	// Dataset flags
	dataPath string
	seriesID string
	horizon  int

	// Command-specific state
	runID    string
	rowIndex int
	noTrain  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "glassbox",
		Short: "Budgeted AutoML for hourly demand forecasting with glass-box explanations",
		Long: `glassbox trains a small zoo of forecasting models on an hourly demand
series under a fixed budget, blends the leaders into an ensemble and renders
the result as an explainable report: permutation importance, dependence
profiles, additive break-downs, Shapley values, LIME surrogates and residual
diagnostics.`,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (JSON), overlays the environment")
	rootCmd.PersistentFlags().StringVarP(&outDir, "out", "o", "", "Artifact output directory")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Debug logging")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "Validate inputs and print the plan without training")

	// Subcommands
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(featuresCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(explainCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig builds the effective config: defaults, environment, optional
// JSON file, then flags.
func loadConfig() (*config.Config, error) {
	cfg := config.FromEnv()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if dataPath != "" {
		cfg.DataPath = dataPath
	}
	if seriesID != "" {
		cfg.SeriesID = seriesID
	}
	if horizon > 0 {
		cfg.Horizon = horizon
	}
	if outDir != "" {
		cfg.OutDir = outDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)
}

// setupTracing starts the OTLP exporter when an endpoint is configured and
// returns its shutdown hook.
func setupTracing(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}
	otelCfg := otel.DefaultConfig("glassbox")
	otelCfg.CollectorEndpoint = cfg.OTLPEndpoint
	otelCfg.SamplingRate = cfg.OTLPSampling
	tp, err := otel.InitTracer(ctx, otelCfg)
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
		return func() {}
	}
	return func() {
		if err := otel.Shutdown(context.Background(), tp); err != nil {
			logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}
}

func dataFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dataPath, "data", "", "Demand CSV (id,type,freq,date,value)")
	cmd.Flags().StringVar(&seriesID, "series", "", "Series id to extract (default: first in file)")
	cmd.Flags().IntVar(&horizon, "horizon", 0, "Test block length in hours")
}

func printPlan(cfg *config.Config) {
	fmt.Printf("=== Run Plan ===\n")
	fmt.Printf("Data: %s (series %q, freq %s)\n", cfg.DataPath, cfg.SeriesID, cfg.Frequency)
	fmt.Printf("Horizon: %d hours held out\n", cfg.Horizon)
	fmt.Printf("Features: lag=%d roll=%v fourier=%v\n",
		cfg.Features.Lag, cfg.Features.RollWindows, cfg.Features.FourierPeriods)
	fmt.Printf("Budget: %d models, %s, holdout %.0f%%, top-%d ensemble\n",
		cfg.AutoML.MaxModels, cfg.AutoML.MaxRuntime, cfg.AutoML.Holdout*100, cfg.AutoML.TopK)
	fmt.Printf("Store: %s\n", cfg.StoreBackend)
	fmt.Printf("Artifacts: %s\n", cfg.OutDir)
}

// runCmd executes the full pipeline and persists the run record.
func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Train, explain, diagnose and render one full run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if dryRun {
				printPlan(cfg)
				_, err := loadSeries(cfg)
				if err != nil {
					return fmt.Errorf("plan check: %w", err)
				}
				fmt.Printf("\nDry run: inputs are valid, nothing trained.\n")
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			shutdownTracing := setupTracing(ctx, cfg, logger)
			defer shutdownTracing()

			m := metrics.New()
			out, err := runPipeline(ctx, cfg, logger, m)
			if err != nil {
				return err
			}
			defer out.Explainer.Close()

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()
			if err := st.Put(ctx, out.Record); err != nil {
				m.StoreErrors.Inc()
				logger.Error().Err(err).Msg("persist run record")
			}

			best := out.Result.Best()
			fmt.Printf("=== Run %s ===\n", out.Record.ID)
			fmt.Printf("Series: %s (%d artifacts)\n", out.Record.Series, len(out.Written))
			fmt.Printf("Best model: %s (val MAE %.4f)\n", best.Model, best.ValMAE)
			if tm := out.Record.TestMetrics; tm != nil {
				fmt.Printf("Test block: MAE %.4f, RMSE %.4f, R2 %.4f\n", tm.MAE, tm.RMSE, tm.R2)
			}
			fmt.Printf("\nReport: %s\n", filepath.Join(out.Record.ArtifactDir, "report.html"))
			return nil
		},
	}
	dataFlags(cmd)
	return cmd
}

// featuresCmd emits the feature table as CSV.
func featuresCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Build the feature table and write it as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			series, err := loadSeries(cfg)
			if err != nil {
				return err
			}
			frame, err := features.Build(series, cfg.Features)
			if err != nil {
				return err
			}

			path := filepath.Join(cfg.OutDir, "features.csv")
			if dryRun {
				fmt.Printf("Would write %d rows x %d features to %s\n",
					frame.NumRows(), frame.NumFeatures(), path)
				return nil
			}
			if err := writeFeatureCSV(frame, path); err != nil {
				return fmt.Errorf("write feature csv: %w", err)
			}
			fmt.Printf("Wrote %d rows x %d features to %s\n", frame.NumRows(), frame.NumFeatures(), path)
			return nil
		},
	}
	dataFlags(cmd)
	return cmd
}

// trainCmd runs the budgeted search and prints the leaderboard.
func trainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the budgeted model search and print the leaderboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if dryRun {
				printPlan(cfg)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := trainOnly(ctx, cfg, logger)
			if err != nil {
				return err
			}
			result := out.Result

			fmt.Printf("=== Leaderboard ===\n")
			fmt.Printf("%-4s %-12s %10s %10s %8s %12s\n", "Rank", "Model", "Val MAE", "Val RMSE", "Val R2", "Train")
			for _, e := range result.Leaderboard {
				fmt.Printf("%-4d %-12s %10.4f %10.4f %8.4f %12s\n",
					e.Rank, e.Model, e.ValMAE, e.ValRMSE, e.ValR2, e.TrainTime.Round(time.Millisecond))
			}
			fmt.Printf("\nTrained %d candidates (%d failed) in %s; ensemble of %d.\n",
				result.Trained, result.Failed, result.Elapsed.Round(time.Millisecond),
				result.Ensemble.Members())
			return nil
		},
	}
	dataFlags(cmd)
	return cmd
}

// explainCmd trains under budget and writes explanation JSON artifacts for
// one feature row.
func explainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain one prediction: break-down, Shapley, LIME and profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if dryRun {
				printPlan(cfg)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return explainRow(ctx, cfg, logger, rowIndex)
		},
	}
	dataFlags(cmd)
	cmd.Flags().IntVar(&rowIndex, "row", -1, "Feature row to explain (-1 = most recent)")
	return cmd
}

// reportCmd re-renders a report from a stored run record.
func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Re-render the report for a stored run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()
			rec, err := st.Get(ctx, runID)
			if err != nil {
				return fmt.Errorf("load run %s: %w", runID, err)
			}

			builder := report.NewBuilder(filepath.Join(cfg.OutDir, rec.ID), metrics.New())
			written, err := builder.Build(ctx, &report.Input{Record: rec})
			if err != nil {
				return err
			}
			logger.Info().Str("run_id", rec.ID).Int("artifacts", len(written)).Msg("report rebuilt")
			fmt.Printf("Rebuilt %d artifacts under %s\n", len(written), builder.OutDir())
			fmt.Printf("Note: plots and explanation sections need a live run; this render covers the stored record.\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run record id")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

// serveCmd optionally trains once, then serves runs and explanations.
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve stored runs and on-demand explanations over HTTP",
		Long: `Starts the HTTP server. When a data path is configured and --no-train is
not set, the full pipeline runs first so /v1/explain can answer against the
freshly fitted ensemble.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			shutdownTracing := setupTracing(ctx, cfg, logger)
			defer shutdownTracing()

			m := metrics.New()
			st, err := openStore(cfg)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			var exp *explain.Explainer
			if cfg.DataPath != "" && !noTrain {
				out, err := runPipeline(ctx, cfg, logger, m)
				if err != nil {
					return err
				}
				defer out.Explainer.Close()
				if err := st.Put(ctx, out.Record); err != nil {
					m.StoreErrors.Inc()
					logger.Error().Err(err).Msg("persist run record")
				}
				exp = out.Explainer
				logger.Info().Str("run_id", out.Record.ID).Msg("model loaded for explanation queries")
			} else {
				logger.Info().Msg("serving without a model; /v1/explain answers 503")
			}

			srv := server.New(server.Config{
				Addr:        cfg.Addr(),
				RatePerSec:  cfg.TokenRate,
				MetricsUser: cfg.MetricsUser,
				MetricsPass: cfg.MetricsPass,
			}, st, exp, logger, m)
			return srv.Run(ctx)
		},
	}
	dataFlags(cmd)
	cmd.Flags().BoolVar(&noTrain, "no-train", false, "Skip the startup training run")
	return cmd
}
