// Package report renders a run into on-disk artifacts: PNG plots, markdown
// tables, a self-contained HTML page and matplotlib companion scripts for
// downstream Python consumers.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/conformal"
	"github.com/peakshaver/glassbox/internal/diagnostics"
	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/metrics"
	"github.com/peakshaver/glassbox/internal/store"
	"github.com/peakshaver/glassbox/pkg/otel"
)

// Input bundles everything a report can show. Only Record is required;
// sections with nil inputs are skipped.
type Input struct {
	Record    *store.RunRecord
	TestTimes []time.Time
	Actual    []float64 // test block, original units
	Predicted []float64 // ensemble forecast, original units
	Band      *conformal.Band
	Result    *automl.Result

	Importance *explain.Importance
	Profiles   []*explain.Profile
	BreakDown  *explain.Attribution
	Shapley    *explain.Attribution
	Surrogate  *explain.LocalSurrogate
	Paribus    []*explain.CeterisParibus
	Stability  *explain.Stability

	Residuals *diagnostics.Summary
	LjungBox  *diagnostics.LjungBoxResult
	ACF       *diagnostics.ACFResult
}

// leaderboard prefers the live search result and falls back to the entries
// persisted on the run record, so a report can be re-rendered from the
// store alone.
func (in *Input) leaderboard() []automl.LeaderboardEntry {
	if in.Result != nil && len(in.Result.Leaderboard) > 0 {
		return in.Result.Leaderboard
	}
	if in.Record != nil {
		return in.Record.Leaderboard
	}
	return nil
}

// Builder writes all artifacts for a run under one directory.
type Builder struct {
	outDir  string
	metrics *metrics.Metrics
}

// NewBuilder creates a builder rooted at outDir. The metrics handle may be
// nil.
func NewBuilder(outDir string, m *metrics.Metrics) *Builder {
	return &Builder{outDir: outDir, metrics: m}
}

// OutDir returns the directory artifacts are written to.
func (b *Builder) OutDir() string { return b.outDir }

// Build renders every section the input carries and returns the paths of the
// files written.
func (b *Builder) Build(ctx context.Context, in *Input) ([]string, error) {
	if in == nil || in.Record == nil {
		return nil, fmt.Errorf("report: input needs a run record")
	}
	_, span := otel.StartSpan(ctx, "report", "report.build",
		otel.AttrRunID.String(in.Record.ID),
		otel.AttrReportDir.String(b.outDir))
	defer span.End()

	if err := os.MkdirAll(b.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create output dir: %w", err)
	}

	var written []string
	add := func(paths []string, err error) error {
		if err != nil {
			return err
		}
		written = append(written, paths...)
		return nil
	}

	// 1. Plots
	if err := add(b.buildPlots(in)); err != nil {
		return written, fmt.Errorf("report: plots failed: %w", err)
	}

	// 2. Markdown tables
	if err := add(b.buildMarkdown(in)); err != nil {
		return written, fmt.Errorf("report: markdown failed: %w", err)
	}

	// 3. Summary
	if err := add(b.buildSummary(in, written)); err != nil {
		return written, fmt.Errorf("report: summary failed: %w", err)
	}

	// 4. HTML page embedding the PNGs
	if err := add(b.buildHTML(in, written)); err != nil {
		return written, fmt.Errorf("report: html failed: %w", err)
	}

	// 5. Matplotlib companions
	if err := add(b.buildScripts(in)); err != nil {
		return written, fmt.Errorf("report: scripts failed: %w", err)
	}

	if b.metrics != nil {
		b.metrics.ReportsBuilt.Inc()
	}
	return written, nil
}

func (b *Builder) path(name string) string {
	return filepath.Join(b.outDir, name)
}

func (b *Builder) writeFile(name string, data []byte, perm os.FileMode) (string, error) {
	p := b.path(name)
	if err := os.WriteFile(p, data, perm); err != nil {
		return "", err
	}
	return p, nil
}
