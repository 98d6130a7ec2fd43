// Package features builds the fixed feature table for hourly demand
// modeling: standardized target, lag, centered rolling means, calendar
// signature and paired Fourier terms. The pipeline is deterministic and
// single-pass; the only fitted state is the target scaler.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/peakshaver/glassbox/internal/dataset"
)

// ErrTooShort is returned when no row survives warm-up dropping.
var ErrTooShort = errors.New("features: series too short for configured windows")

// Config holds the pipeline parameters. All transforms are fixed; only the
// lag length, window sizes, Fourier periods and order vary per run.
type Config struct {
	Lag            int        `json:"lag"`
	RollWindows    [2]int     `json:"roll_windows"`
	FourierPeriods [2]float64 `json:"fourier_periods"`
	FourierOrder   int        `json:"fourier_order"`
}

// DefaultConfig covers hourly demand data: one-day lag, daily and weekly
// centered rolling means, daily and weekly Fourier pairs.
func DefaultConfig() Config {
	return Config{
		Lag:            24,
		RollWindows:    [2]int{24, 168},
		FourierPeriods: [2]float64{24, 168},
		FourierOrder:   1,
	}
}

// Validate rejects degenerate parameter values.
func (c Config) Validate() error {
	if c.Lag <= 0 {
		return fmt.Errorf("features: lag must be positive, got %d", c.Lag)
	}
	for _, w := range c.RollWindows {
		if w < 2 {
			return fmt.Errorf("features: rolling window must be at least 2, got %d", w)
		}
	}
	for _, p := range c.FourierPeriods {
		if p <= 0 {
			return fmt.Errorf("features: fourier period must be positive, got %g", p)
		}
	}
	if c.FourierOrder < 1 {
		return fmt.Errorf("features: fourier order must be at least 1, got %d", c.FourierOrder)
	}
	return nil
}

// Build produces the feature table from an hourly series. Rows whose lag or
// rolling values are undefined (pipeline warm-up at the head, centered
// windows at the tail) are dropped; the returned frame contains no NaN.
func Build(s *dataset.Series, cfg Config) (*Frame, error) {
	// 1. Validate inputs
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// 2. Standardize the target
	var scaler StandardScaler
	scaler.Fit(s.Values)
	y, err := scaler.Transform(s.Values)
	if err != nil {
		return nil, err
	}

	// 3. Derived columns over the standardized target and the clock
	names := []string{fmt.Sprintf("lag_%d", cfg.Lag)}
	cols := [][]float64{lagColumn(y, cfg.Lag)}

	for _, w := range cfg.RollWindows {
		names = append(names, fmt.Sprintf("roll_%d", w))
		cols = append(cols, rollingMeanCentered(y, w))
	}

	hour, weekday, ampm := calendarColumns(s.Times)
	names = append(names, "hour", "weekday", "am_pm")
	cols = append(cols, hour, weekday, ampm)

	for _, period := range cfg.FourierPeriods {
		for order := 1; order <= cfg.FourierOrder; order++ {
			sin, cos := fourierPair(s.Times, period, order)
			names = append(names, fourierName("sin", period, order), fourierName("cos", period, order))
			cols = append(cols, sin, cos)
		}
	}

	// 4. Drop rows with undefined values
	keep := make([]int, 0, len(y))
	for i := range y {
		defined := true
		for _, col := range cols {
			if math.IsNaN(col[i]) {
				defined = false
				break
			}
		}
		if defined {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%w: %d observations, lag=%d windows=%v", ErrTooShort, s.Len(), cfg.Lag, cfg.RollWindows)
	}

	frame := &Frame{
		Names:   names,
		Columns: make([][]float64, len(cols)),
		Times:   make([]time.Time, len(keep)),
		Target:  make([]float64, len(keep)),
		Scaler:  scaler,
	}
	for j := range cols {
		frame.Columns[j] = make([]float64, len(keep))
	}
	for i, src := range keep {
		frame.Times[i] = s.Times[src]
		frame.Target[i] = y[src]
		for j, col := range cols {
			frame.Columns[j][i] = col[src]
		}
	}
	return frame, nil
}

// lagColumn shifts y forward by lag steps; the first lag entries are
// undefined.
func lagColumn(y []float64, lag int) []float64 {
	out := make([]float64, len(y))
	for i := range y {
		if i < lag {
			out[i] = math.NaN()
			continue
		}
		out[i] = y[i-lag]
	}
	return out
}

// rollingMeanCentered computes the centered moving average over window
// observations using a prefix sum. Positions where the window would run off
// either end are undefined.
func rollingMeanCentered(y []float64, window int) []float64 {
	n := len(y)
	out := make([]float64, n)
	prefix := make([]float64, n+1)
	for i, v := range y {
		prefix[i+1] = prefix[i] + v
	}
	for i := 0; i < n; i++ {
		start := i - window/2
		end := start + window
		if start < 0 || end > n {
			out[i] = math.NaN()
			continue
		}
		out[i] = (prefix[end] - prefix[start]) / float64(window)
	}
	return out
}

// calendarColumns extracts hour-of-day, weekday (Sunday=0) and an am/pm
// indicator from the timestamps.
func calendarColumns(times []time.Time) (hour, weekday, ampm []float64) {
	hour = make([]float64, len(times))
	weekday = make([]float64, len(times))
	ampm = make([]float64, len(times))
	for i, t := range times {
		hour[i] = float64(t.Hour())
		weekday[i] = float64(t.Weekday())
		if t.Hour() >= 12 {
			ampm[i] = 1
		}
	}
	return hour, weekday, ampm
}

// fourierPair generates the paired sine/cosine terms for one period and
// order. The phase is hours since the zero time, reduced modulo the period
// before multiplication to keep the argument small.
func fourierPair(times []time.Time, period float64, order int) (sin, cos []float64) {
	omega := 2 * math.Pi * float64(order) / period
	sin = make([]float64, len(times))
	cos = make([]float64, len(times))
	for i, t := range times {
		phase := math.Mod(t.Sub(time.Time{}).Hours(), period)
		sin[i] = math.Sin(omega * phase)
		cos[i] = math.Cos(omega * phase)
	}
	return sin, cos
}

func fourierName(fn string, period float64, order int) string {
	name := fmt.Sprintf("%s_%gh", fn, period)
	if order > 1 {
		name += fmt.Sprintf("_%d", order)
	}
	return name
}
