package report

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/peakshaver/glassbox/internal/explain"
)

func (b *Builder) buildMarkdown(in *Input) ([]string, error) {
	var paths []string
	for _, f := range []struct {
		name   string
		render func(*Input) string
	}{
		{"leaderboard.md", renderLeaderboard},
		{"explanations.md", renderExplanations},
		{"diagnostics.md", renderDiagnostics},
	} {
		p, err := b.writeFile(f.name, []byte(f.render(in)), 0o644)
		if err != nil {
			return paths, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func renderLeaderboard(in *Input) string {
	var md strings.Builder
	md.WriteString("# Model Leaderboard\n\n")
	md.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	rec := in.Record
	md.WriteString("## Run\n\n")
	md.WriteString("| Field | Value |\n")
	md.WriteString("|-------|-------|\n")
	md.WriteString(fmt.Sprintf("| Run ID | %s |\n", rec.ID))
	md.WriteString(fmt.Sprintf("| Series | %s |\n", rec.Series))
	md.WriteString(fmt.Sprintf("| Fingerprint | %s |\n", rec.Fingerprint))
	md.WriteString(fmt.Sprintf("| Test horizon | %d hours |\n", rec.Horizon))
	md.WriteString(fmt.Sprintf("| Started | %s |\n", rec.StartedAt.UTC().Format(time.RFC3339)))
	md.WriteString("\n")

	if entries := in.leaderboard(); len(entries) > 0 {
		md.WriteString("## Validation Ranking\n\n")
		md.WriteString("| Rank | Model | Val MAE | Val RMSE | Val R2 | Train Time |\n")
		md.WriteString("|------|-------|---------|----------|--------|------------|\n")
		for _, e := range entries {
			md.WriteString(fmt.Sprintf("| %d | %s | %.4f | %.4f | %.4f | %s |\n",
				e.Rank, e.Model, e.ValMAE, e.ValRMSE, e.ValR2, e.TrainTime.Round(time.Millisecond)))
		}
		if in.Result != nil {
			md.WriteString(fmt.Sprintf("\nTrained %d candidates (%d failed) in %s.\n\n",
				in.Result.Trained, in.Result.Failed, in.Result.Elapsed.Round(time.Millisecond)))
		} else {
			md.WriteString("\n")
		}

		if in.Result != nil && in.Result.Ensemble != nil {
			md.WriteString("## Ensemble Composition\n\n")
			md.WriteString("| Member | Weight |\n")
			md.WriteString("|--------|--------|\n")
			comp := in.Result.Ensemble.Composition()
			names := make([]string, 0, len(comp))
			for name := range comp {
				names = append(names, name)
			}
			sort.Slice(names, func(a, c int) bool { return comp[names[a]] > comp[names[c]] })
			for _, name := range names {
				md.WriteString(fmt.Sprintf("| %s | %.4f |\n", name, comp[name]))
			}
			md.WriteString("\nWeights are inverse validation MAE, normalized to sum to one.\n\n")
		}
	}

	if rec.TestMetrics != nil {
		m := rec.TestMetrics
		md.WriteString("## Held-Out Test Block\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| MAE | %.4f |\n", m.MAE))
		md.WriteString(fmt.Sprintf("| RMSE | %.4f |\n", m.RMSE))
		md.WriteString(fmt.Sprintf("| MAPE | %.2f%% |\n", m.MAPE))
		md.WriteString(fmt.Sprintf("| R2 | %.4f |\n", m.R2))
		md.WriteString("\nTest metrics are computed on the original scale after inverting the target transform.\n")
	}

	return md.String()
}

func renderExplanations(in *Input) string {
	var md strings.Builder
	md.WriteString("# Explanations\n\n")
	md.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	if in.Importance != nil {
		md.WriteString("## Permutation Importance\n\n")
		md.WriteString(fmt.Sprintf("Baseline MAE %.4f over %d shuffles per feature.\n\n",
			in.Importance.BaselineLoss, in.Importance.Repeats))
		md.WriteString("| Feature | MAE Increase | Ratio |\n")
		md.WriteString("|---------|--------------|-------|\n")
		for _, fs := range in.Importance.Features {
			md.WriteString(fmt.Sprintf("| %s | %.4f | %.2fx |\n", fs.Name, fs.Drop, fs.Ratio))
		}
		md.WriteString("\n")
	}

	if len(in.Profiles) > 0 {
		md.WriteString("## Global Profiles\n\n")
		md.WriteString("| Feature | Method | Grid Points | Plot |\n")
		md.WriteString("|---------|--------|-------------|------|\n")
		for _, prof := range in.Profiles {
			md.WriteString(fmt.Sprintf("| %s | %s | %d | %s_%s.png |\n",
				prof.Feature, strings.ToUpper(prof.Method), len(prof.Grid), prof.Method, prof.Feature))
		}
		md.WriteString("\n")
	}

	writeAttribution := func(title string, attr *explain.Attribution) {
		md.WriteString("## " + title + "\n\n")
		md.WriteString(fmt.Sprintf("Baseline %.4f, prediction %.4f.\n\n", attr.Baseline, attr.Prediction))
		md.WriteString("| Feature | Value | Contribution |\n")
		md.WriteString("|---------|-------|--------------|\n")
		for _, c := range attr.Contributions {
			md.WriteString(fmt.Sprintf("| %s | %.4f | %+.4f |\n", c.Feature, c.Value, c.Contribution))
		}
		md.WriteString("\n")
	}
	if in.BreakDown != nil {
		writeAttribution("Break-Down", in.BreakDown)
	}
	if in.Shapley != nil {
		writeAttribution(fmt.Sprintf("Shapley (Monte Carlo, %d samples)", in.Shapley.Samples), in.Shapley)
	}

	if in.Surrogate != nil {
		s := in.Surrogate
		md.WriteString("## Local Surrogate\n\n")
		md.WriteString(fmt.Sprintf("Weighted linear fit around the instance: %d perturbations, kernel width %.3f, R2 %.4f.\n\n",
			s.Samples, s.KernelWidth, s.R2))
		md.WriteString("| Feature | Coefficient |\n")
		md.WriteString("|---------|-------------|\n")
		for i, name := range s.Names {
			md.WriteString(fmt.Sprintf("| %s | %+.4f |\n", name, s.Coefficients[i]))
		}
		md.WriteString(fmt.Sprintf("| (intercept) | %+.4f |\n\n", s.Intercept))
	}

	if in.Stability != nil {
		md.WriteString("## Explanation Stability\n\n")
		md.WriteString(fmt.Sprintf("Ceteris-paribus profiles for the instance and its %d nearest background rows.\n\n",
			in.Stability.Neighbors))
		md.WriteString("| Feature | Spread | Oscillation |\n")
		md.WriteString("|---------|--------|-------------|\n")
		for _, sf := range in.Stability.Features {
			md.WriteString(fmt.Sprintf("| %s | %.4f | %.4f |\n", sf.Feature, sf.Spread, sf.Oscillation))
		}
		md.WriteString("\nHigh spread means neighbors disagree with the instance's profile; high oscillation means a wiggly response.\n")
	}

	return md.String()
}

func renderDiagnostics(in *Input) string {
	var md strings.Builder
	md.WriteString("# Residual Diagnostics\n\n")
	md.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339)))

	if in.Residuals != nil {
		r := in.Residuals
		md.WriteString("## Distribution\n\n")
		md.WriteString("| Statistic | Value |\n")
		md.WriteString("|-----------|-------|\n")
		md.WriteString(fmt.Sprintf("| N | %d |\n", r.N))
		md.WriteString(fmt.Sprintf("| Mean | %.4f |\n", r.Mean))
		md.WriteString(fmt.Sprintf("| Std Dev | %.4f |\n", r.StdDev))
		md.WriteString(fmt.Sprintf("| Min | %.4f |\n", r.Min))
		md.WriteString(fmt.Sprintf("| P25 | %.4f |\n", r.P25))
		md.WriteString(fmt.Sprintf("| Median | %.4f |\n", r.Median))
		md.WriteString(fmt.Sprintf("| P75 | %.4f |\n", r.P75))
		md.WriteString(fmt.Sprintf("| Max | %.4f |\n", r.Max))
		md.WriteString(fmt.Sprintf("| Mean 95%% CI | [%.4f, %.4f] (bootstrap) |\n", r.MeanCILow, r.MeanCIHigh))
		md.WriteString(fmt.Sprintf("| Durbin-Watson | %.3f |\n", r.DurbinWatson))
		md.WriteString("\n")
		if r.MeanCILow <= 0 && 0 <= r.MeanCIHigh {
			md.WriteString("The confidence interval for the mean covers zero: no systematic bias detected.\n\n")
		} else {
			md.WriteString("The confidence interval for the mean excludes zero: the model is biased on the test block.\n\n")
		}
	}

	if band := in.Band; band != nil {
		md.WriteString("## Prediction Interval\n\n")
		md.WriteString("| Field | Value |\n")
		md.WriteString("|-------|-------|\n")
		md.WriteString(fmt.Sprintf("| Nominal coverage | %.0f%% |\n", band.Level*100))
		md.WriteString(fmt.Sprintf("| Half-width | %.4f |\n", band.HalfWidth))
		md.WriteString(fmt.Sprintf("| Calibration points | %d |\n", band.CalibrationN))
		if len(in.Actual) == len(band.Lower) {
			if cov, err := band.Coverage(in.Actual); err == nil {
				md.WriteString(fmt.Sprintf("| Empirical coverage | %.1f%% |\n", cov*100))
				md.WriteString("\n")
				if cov+0.05 < band.Level {
					md.WriteString("Coverage fell short of nominal: validation-block errors underestimate test-time errors.\n\n")
				} else {
					md.WriteString("Empirical coverage is consistent with the calibrated level.\n\n")
				}
			}
		} else {
			md.WriteString("\n")
		}
	}

	if in.LjungBox != nil {
		lb := in.LjungBox
		md.WriteString("## Ljung-Box Test\n\n")
		md.WriteString("| Field | Value |\n")
		md.WriteString("|-------|-------|\n")
		md.WriteString(fmt.Sprintf("| Q statistic | %.3f |\n", lb.Statistic))
		md.WriteString(fmt.Sprintf("| p-value | %.4f |\n", lb.PValue))
		md.WriteString(fmt.Sprintf("| Lags | %d |\n", lb.Lags))
		md.WriteString(fmt.Sprintf("| DOF | %d |\n", lb.DOF))
		md.WriteString("\n")
		if lb.PValue < 0.05 {
			md.WriteString("p < 0.05: residuals carry autocorrelation the model failed to absorb.\n\n")
		} else {
			md.WriteString("p >= 0.05: no significant residual autocorrelation at the tested lags.\n\n")
		}
	}

	if in.ACF != nil {
		md.WriteString("## Autocorrelation\n\n")
		exceed := 0
		for k := 1; k < len(in.ACF.Values); k++ {
			if math.Abs(in.ACF.Values[k]) > in.ACF.ConfBound {
				exceed++
			}
		}
		md.WriteString(fmt.Sprintf("%d of %d lags exceed the +-%.3f white-noise band. See acf.png.\n",
			exceed, len(in.ACF.Values)-1, in.ACF.ConfBound))
	}

	return md.String()
}

func (b *Builder) buildSummary(in *Input, written []string) ([]string, error) {
	var md strings.Builder
	md.WriteString("# Run Summary\n\n")
	md.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339)))
	md.WriteString(fmt.Sprintf("Series `%s`, run `%s`.\n\n", in.Record.Series, in.Record.ID))

	md.WriteString("## Key Findings\n\n")
	if entries := in.leaderboard(); len(entries) > 0 {
		best := entries[0]
		md.WriteString(fmt.Sprintf("- Best single model: **%s** (validation MAE %.4f, R2 %.4f)\n",
			best.Model, best.ValMAE, best.ValR2))
		if in.Result != nil && in.Result.Ensemble != nil {
			md.WriteString(fmt.Sprintf("- Deployed ensemble blends the top %d models\n", in.Result.Ensemble.Members()))
		}
	}
	if in.Record.TestMetrics != nil {
		m := in.Record.TestMetrics
		md.WriteString(fmt.Sprintf("- Held-out test block: MAE %.4f, RMSE %.4f, R2 %.4f\n", m.MAE, m.RMSE, m.R2))
	}
	if in.Band != nil && len(in.Actual) == len(in.Band.Lower) {
		if cov, err := in.Band.Coverage(in.Actual); err == nil {
			md.WriteString(fmt.Sprintf("- %.0f%% interval (half-width %.4f) covered %.1f%% of test hours\n",
				in.Band.Level*100, in.Band.HalfWidth, cov*100))
		}
	}
	if in.Importance != nil && len(in.Importance.Features) > 0 {
		top := in.Importance.TopFeatures(3)
		md.WriteString(fmt.Sprintf("- Most influential features: %s\n", strings.Join(top, ", ")))
	}
	if in.LjungBox != nil {
		if in.LjungBox.PValue < 0.05 {
			md.WriteString(fmt.Sprintf("- Ljung-Box p=%.4f: residual autocorrelation remains\n", in.LjungBox.PValue))
		} else {
			md.WriteString(fmt.Sprintf("- Ljung-Box p=%.4f: residuals look like white noise\n", in.LjungBox.PValue))
		}
	}
	md.WriteString("\nSee:\n")
	for _, p := range written {
		md.WriteString(fmt.Sprintf("- %s\n", filepath.Base(p)))
	}

	p, err := b.writeFile("SUMMARY.md", []byte(md.String()), 0o644)
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}
