// Package conformal wraps point forecasts in distribution-free prediction
// intervals. Calibration follows the split-conformal recipe: the interval
// half-width is the level*(n+1) order statistic of absolute residuals on a
// held-out block, so nominal coverage holds without any assumption on the
// error distribution.
package conformal

import (
	"fmt"
	"math"
	"sort"
)

// Band is a symmetric prediction interval around a point forecast.
type Band struct {
	Level        float64   `json:"level"`
	HalfWidth    float64   `json:"half_width"`
	CalibrationN int       `json:"calibration_n"`
	Lower        []float64 `json:"lower"`
	Upper        []float64 `json:"upper"`
}

// Calibrator holds the sorted nonconformity scores of a calibration block.
type Calibrator struct {
	level  float64
	scores []float64
}

// New returns a calibrator targeting the given coverage level, for example
// 0.9 for a 90% interval.
func New(level float64) (*Calibrator, error) {
	if level <= 0 || level >= 1 {
		return nil, fmt.Errorf("conformal: level must be in (0,1), got %g", level)
	}
	return &Calibrator{level: level}, nil
}

// Calibrate scores a held-out block. The nonconformity score is the absolute
// residual, so models with wider error tails earn wider intervals. Calling
// Calibrate again replaces the previous scores.
func (c *Calibrator) Calibrate(actual, predicted []float64) error {
	if len(actual) == 0 {
		return fmt.Errorf("conformal: empty calibration block")
	}
	if len(actual) != len(predicted) {
		return fmt.Errorf("conformal: %d actuals against %d predictions", len(actual), len(predicted))
	}
	scores := make([]float64, len(actual))
	for i := range actual {
		if math.IsNaN(actual[i]) || math.IsNaN(predicted[i]) {
			return fmt.Errorf("conformal: NaN in calibration block at index %d", i)
		}
		scores[i] = math.Abs(actual[i] - predicted[i])
	}
	sort.Float64s(scores)
	c.scores = scores
	return nil
}

// Size returns the number of calibration scores held.
func (c *Calibrator) Size() int { return len(c.scores) }

// Quantile returns the calibrated half-width: the level*(n+1) position in
// the sorted scores, linearly interpolated between order statistics. The n+1
// correction keeps coverage valid at small calibration sizes.
func (c *Calibrator) Quantile() (float64, error) {
	n := len(c.scores)
	if n == 0 {
		return 0, fmt.Errorf("conformal: calibrator has no scores")
	}
	pos := c.level * float64(n+1)
	idx := int(math.Floor(pos)) - 1
	frac := pos - math.Floor(pos)
	if idx < 0 {
		return c.scores[0], nil
	}
	if idx >= n-1 {
		return c.scores[n-1], nil
	}
	return c.scores[idx] + frac*(c.scores[idx+1]-c.scores[idx]), nil
}

// Intervals wraps each prediction in the calibrated interval.
func (c *Calibrator) Intervals(predicted []float64) (*Band, error) {
	if len(predicted) == 0 {
		return nil, fmt.Errorf("conformal: no predictions to wrap")
	}
	q, err := c.Quantile()
	if err != nil {
		return nil, err
	}
	b := &Band{
		Level:        c.level,
		HalfWidth:    q,
		CalibrationN: len(c.scores),
		Lower:        make([]float64, len(predicted)),
		Upper:        make([]float64, len(predicted)),
	}
	for i, p := range predicted {
		b.Lower[i] = p - q
		b.Upper[i] = p + q
	}
	return b, nil
}

// Coverage reports the fraction of actuals that fall inside the band.
// Compared against Level it shows whether the calibration still holds on
// fresh data.
func (b *Band) Coverage(actual []float64) (float64, error) {
	if len(actual) != len(b.Lower) {
		return 0, fmt.Errorf("conformal: band spans %d points, got %d actuals", len(b.Lower), len(actual))
	}
	inside := 0
	for i, a := range actual {
		if a >= b.Lower[i] && a <= b.Upper[i] {
			inside++
		}
	}
	return float64(inside) / float64(len(actual)), nil
}
