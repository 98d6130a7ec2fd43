package dataset

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrEmptySeries is returned when an operation needs at least one observation.
	ErrEmptySeries = errors.New("dataset: empty series")
	// ErrShortSeries is returned when a split would leave an empty train block.
	ErrShortSeries = errors.New("dataset: series shorter than requested horizon")
)

// Series is an hourly univariate time series, sorted by timestamp.
type Series struct {
	Name   string
	Times  []time.Time
	Values []float64
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.Values)
}

// Mean returns the arithmetic mean of the values.
func (s *Series) Mean() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range s.Values {
		sum += v
	}
	return sum / float64(len(s.Values))
}

// Slice returns a view over observations [from, to).
func (s *Series) Slice(from, to int) *Series {
	return &Series{
		Name:   s.Name,
		Times:  s.Times[from:to],
		Values: s.Values[from:to],
	}
}

// Validate enforces the integrity contract the downstream pipeline relies on:
// at least one observation, timestamps strictly increasing (which also rules
// out duplicates), and finite values throughout.
func (s *Series) Validate() error {
	if s.Len() == 0 {
		return ErrEmptySeries
	}
	if len(s.Times) != len(s.Values) {
		return fmt.Errorf("dataset: %d timestamps but %d values", len(s.Times), len(s.Values))
	}
	for i := 1; i < len(s.Times); i++ {
		if !s.Times[i].After(s.Times[i-1]) {
			return fmt.Errorf("dataset: timestamps not strictly increasing at row %d (%s then %s)",
				i, s.Times[i-1].Format(time.RFC3339), s.Times[i].Format(time.RFC3339))
		}
	}
	for i, v := range s.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("dataset: non-finite value %v at row %d", v, i)
		}
	}
	return nil
}

// Gaps returns the indices i where Times[i] does not follow Times[i-1] by
// exactly step. An hourly series with DST transitions or missing meter reads
// shows up here; callers decide whether that is fatal.
func (s *Series) Gaps(step time.Duration) []int {
	var gaps []int
	for i := 1; i < len(s.Times); i++ {
		if s.Times[i].Sub(s.Times[i-1]) != step {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// SplitHorizon performs a strict chronological cutover: the last horizon
// observations become the test block and everything before them is train.
// No shuffling.
func SplitHorizon(s *Series, horizon int) (train, test *Series, err error) {
	if horizon <= 0 {
		return nil, nil, fmt.Errorf("dataset: horizon must be positive, got %d", horizon)
	}
	if s.Len() <= horizon {
		return nil, nil, fmt.Errorf("%w: len=%d horizon=%d", ErrShortSeries, s.Len(), horizon)
	}
	cut := s.Len() - horizon
	return s.Slice(0, cut), s.Slice(cut, s.Len()), nil
}

// Fingerprint computes a SHA-256 over all rows for run reproducibility
// records.
func (s *Series) Fingerprint() string {
	hasher := sha256.New()
	fmt.Fprintf(hasher, "%s\n", s.Name)
	for i := range s.Values {
		fmt.Fprintf(hasher, "%d,%.9f\n", s.Times[i].Unix(), s.Values[i])
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
