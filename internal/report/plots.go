package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/diagnostics"
	"github.com/peakshaver/glassbox/internal/explain"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 5 * vg.Inch
)

func (b *Builder) buildPlots(in *Input) ([]string, error) {
	var paths []string
	record := func(p string, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	}

	if len(in.Actual) > 0 && len(in.Actual) == len(in.Predicted) {
		p := b.path("forecast.png")
		if err := record(p, plotForecast(in, p)); err != nil {
			return paths, fmt.Errorf("forecast: %w", err)
		}
	}
	if entries := in.leaderboard(); len(entries) > 0 {
		p := b.path("leaderboard.png")
		if err := record(p, plotLeaderboard(entries, p)); err != nil {
			return paths, fmt.Errorf("leaderboard: %w", err)
		}
	}
	if in.Importance != nil {
		p := b.path("importance.png")
		if err := record(p, plotImportance(in.Importance, p)); err != nil {
			return paths, fmt.Errorf("importance: %w", err)
		}
	}
	for _, prof := range in.Profiles {
		p := b.path(fmt.Sprintf("%s_%s.png", prof.Method, prof.Feature))
		if err := record(p, plotProfile(prof, p)); err != nil {
			return paths, fmt.Errorf("%s %s: %w", prof.Method, prof.Feature, err)
		}
	}
	if in.BreakDown != nil {
		p := b.path("breakdown.png")
		if err := record(p, plotAttribution(in.BreakDown, "Break-down contributions", p)); err != nil {
			return paths, fmt.Errorf("break-down: %w", err)
		}
	}
	if in.Shapley != nil {
		p := b.path("shapley.png")
		if err := record(p, plotAttribution(in.Shapley, "Shapley attributions", p)); err != nil {
			return paths, fmt.Errorf("shapley: %w", err)
		}
	}
	for _, cp := range in.Paribus {
		p := b.path(fmt.Sprintf("cp_%s.png", cp.Feature))
		if err := record(p, plotCeterisParibus(cp, p)); err != nil {
			return paths, fmt.Errorf("ceteris-paribus %s: %w", cp.Feature, err)
		}
	}
	if in.Stability != nil {
		for i := range in.Stability.Features {
			sf := &in.Stability.Features[i]
			p := b.path(fmt.Sprintf("stability_%s.png", sf.Feature))
			if err := record(p, plotStability(sf, p)); err != nil {
				return paths, fmt.Errorf("stability %s: %w", sf.Feature, err)
			}
		}
	}
	if in.ACF != nil {
		p := b.path("acf.png")
		if err := record(p, plotACF(in.ACF, p)); err != nil {
			return paths, fmt.Errorf("acf: %w", err)
		}
	}
	return paths, nil
}

func plotForecast(in *Input, path string) error {
	p := plot.New()
	p.Title.Text = "Forecast vs actual over the test horizon"
	p.X.Label.Text = "hours into test block"
	p.Y.Label.Text = "demand"
	p.Add(plotter.NewGrid())

	hour := func(i int) float64 {
		if len(in.TestTimes) == len(in.Actual) {
			return in.TestTimes[i].Sub(in.TestTimes[0]).Hours()
		}
		return float64(i)
	}

	actual := make(plotter.XYs, len(in.Actual))
	predicted := make(plotter.XYs, len(in.Predicted))
	for i := range in.Actual {
		x := hour(i)
		actual[i].X, actual[i].Y = x, in.Actual[i]
		predicted[i].X, predicted[i].Y = x, in.Predicted[i]
	}

	if err := plotutil.AddLines(p, "actual", actual, "predicted", predicted); err != nil {
		return err
	}

	// Calibrated interval as dashed edges around the forecast.
	if in.Band != nil && len(in.Band.Lower) == len(in.Predicted) {
		for j, side := range [][]float64{in.Band.Lower, in.Band.Upper} {
			xys := make(plotter.XYs, len(side))
			for i := range side {
				xys[i].X, xys[i].Y = hour(i), side[i]
			}
			edge, err := plotter.NewLine(xys)
			if err != nil {
				return err
			}
			edge.Color = plotutil.Color(2)
			edge.Width = vg.Points(0.75)
			edge.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(edge)
			if j == 0 {
				p.Legend.Add(fmt.Sprintf("%.0f%% interval", in.Band.Level*100), edge)
			}
		}
	}
	return p.Save(plotWidth, plotHeight, path)
}

func plotLeaderboard(entries []automl.LeaderboardEntry, path string) error {
	p := plot.New()
	p.Title.Text = "Leaderboard: validation MAE"
	p.Y.Label.Text = "MAE (standardized)"

	values := make(plotter.Values, len(entries))
	names := make([]string, len(entries))
	for i, entry := range entries {
		values[i] = entry.ValMAE
		names[i] = entry.Model
	}

	bars, err := plotter.NewBarChart(values, vg.Points(22))
	if err != nil {
		return err
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)
	p.NominalX(names...)
	return p.Save(plotWidth, plotHeight, path)
}

func plotImportance(im *explain.Importance, path string) error {
	p := plot.New()
	p.Title.Text = "Permutation importance"
	p.Y.Label.Text = "MAE increase when shuffled"

	values := make(plotter.Values, len(im.Features))
	names := make([]string, len(im.Features))
	for i, fs := range im.Features {
		values[i] = fs.Drop
		names[i] = fs.Name
	}

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return err
	}
	bars.Color = plotutil.Color(2)
	p.Add(bars)
	p.NominalX(names...)
	return p.Save(plotWidth, plotHeight, path)
}

func plotProfile(prof *explain.Profile, path string) error {
	p := plot.New()
	switch prof.Method {
	case "ale":
		p.Title.Text = "Accumulated local effects: " + prof.Feature
		p.Y.Label.Text = "accumulated effect"
	default:
		p.Title.Text = "Partial dependence: " + prof.Feature
		p.Y.Label.Text = "mean prediction"
	}
	p.X.Label.Text = prof.Feature
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(prof.Grid))
	for i := range prof.Grid {
		xys[i].X, xys[i].Y = prof.Grid[i], prof.Values[i]
	}
	return addLineAndSave(p, xys, path)
}

// plotAttribution draws local contributions as signed bars in the
// decomposition's own order.
func plotAttribution(attr *explain.Attribution, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "contribution to prediction"

	values := make(plotter.Values, len(attr.Contributions))
	names := make([]string, len(attr.Contributions))
	for i, c := range attr.Contributions {
		values[i] = c.Contribution
		names[i] = c.Feature
	}

	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return err
	}
	bars.Color = plotutil.Color(3)
	p.Add(bars)
	p.NominalX(names...)
	return p.Save(plotWidth, plotHeight, path)
}

func plotCeterisParibus(cp *explain.CeterisParibus, path string) error {
	p := plot.New()
	p.Title.Text = "Ceteris paribus: " + cp.Feature
	p.X.Label.Text = cp.Feature
	p.Y.Label.Text = "prediction"
	p.Add(plotter.NewGrid())

	xys := make(plotter.XYs, len(cp.Grid))
	for i := range cp.Grid {
		xys[i].X, xys[i].Y = cp.Grid[i], cp.Values[i]
	}
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1.5)
	p.Add(line)

	// Mark the instance's own position on the curve.
	anchor, err := plotter.NewScatter(plotter.XYs{{X: cp.Anchor, Y: cp.Prediction}})
	if err != nil {
		return err
	}
	anchor.Radius = vg.Points(4)
	anchor.Color = plotutil.Color(1)
	p.Add(anchor)
	p.Legend.Add("profile", line)
	p.Legend.Add("instance", anchor)

	return p.Save(plotWidth, plotHeight, path)
}

func plotStability(sf *explain.StabilityFeature, path string) error {
	p := plot.New()
	p.Title.Text = "Stability: " + sf.Feature
	p.X.Label.Text = sf.Feature
	p.Y.Label.Text = "prediction"
	p.Add(plotter.NewGrid())

	for i, prof := range sf.Profiles {
		xys := make(plotter.XYs, len(sf.Grid))
		for g := range sf.Grid {
			xys[g].X, xys[g].Y = sf.Grid[g], prof[g]
		}
		line, err := plotter.NewLine(xys)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		if i == 0 {
			line.Width = vg.Points(2.5)
			p.Legend.Add("instance", line)
		} else {
			line.Width = vg.Points(0.75)
		}
		p.Add(line)
	}
	return p.Save(plotWidth, plotHeight, path)
}

func plotACF(res *diagnostics.ACFResult, path string) error {
	p := plot.New()
	p.Title.Text = "Residual autocorrelation"
	p.X.Label.Text = "lag"
	p.Y.Label.Text = "acf"

	values := make(plotter.Values, len(res.Values))
	copy(values, res.Values)
	bars, err := plotter.NewBarChart(values, vg.Points(6))
	if err != nil {
		return err
	}
	bars.Color = plotutil.Color(0)
	p.Add(bars)

	// 95% white-noise band as dashed guides.
	maxLag := float64(len(res.Values) - 1)
	for _, bound := range []float64{res.ConfBound, -res.ConfBound} {
		guide, err := plotter.NewLine(plotter.XYs{{X: 0, Y: bound}, {X: maxLag, Y: bound}})
		if err != nil {
			return err
		}
		guide.Color = plotutil.Color(1)
		guide.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(guide)
	}
	return p.Save(plotWidth, plotHeight, path)
}

func addLineAndSave(p *plot.Plot, xys plotter.XYs, path string) error {
	line, err := plotter.NewLine(xys)
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(1.5)
	p.Add(line)
	return p.Save(plotWidth, plotHeight, path)
}
