package features

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/peakshaver/glassbox/internal/dataset"
)

// Frame is the feature table produced once per run and consumed read-only by
// the modeling and explanation stages. Columns are stored column-major;
// Target holds the standardized target aligned with the rows.
type Frame struct {
	Names   []string
	Columns [][]float64
	Times   []time.Time
	Target  []float64
	Scaler  StandardScaler
}

// NumRows returns the number of rows in the table.
func (f *Frame) NumRows() int {
	return len(f.Target)
}

// NumFeatures returns the number of feature columns.
func (f *Frame) NumFeatures() int {
	return len(f.Names)
}

// Row materializes row i as a feature vector.
func (f *Frame) Row(i int) []float64 {
	row := make([]float64, len(f.Columns))
	for j, col := range f.Columns {
		row[j] = col[i]
	}
	return row
}

// Rows materializes the whole table row-major, one slice per observation.
func (f *Frame) Rows() [][]float64 {
	rows := make([][]float64, f.NumRows())
	for i := range rows {
		rows[i] = f.Row(i)
	}
	return rows
}

// Matrix returns the table as a dense rows-by-features matrix.
func (f *Frame) Matrix() *mat.Dense {
	m := mat.NewDense(f.NumRows(), f.NumFeatures(), nil)
	for j, col := range f.Columns {
		for i, v := range col {
			m.Set(i, j, v)
		}
	}
	return m
}

// Column returns the named feature column.
func (f *Frame) Column(name string) ([]float64, bool) {
	for j, n := range f.Names {
		if n == name {
			return f.Columns[j], true
		}
	}
	return nil, false
}

// FeatureIndex returns the position of the named column, or -1.
func (f *Frame) FeatureIndex(name string) int {
	for j, n := range f.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// Split performs the chronological cutover at the row level: the last
// horizon rows form the test block. Mirrors dataset.SplitHorizon.
func (f *Frame) Split(horizon int) (train, test *Frame, err error) {
	if horizon <= 0 {
		return nil, nil, fmt.Errorf("features: horizon must be positive, got %d", horizon)
	}
	if f.NumRows() <= horizon {
		return nil, nil, fmt.Errorf("%w: rows=%d horizon=%d", dataset.ErrShortSeries, f.NumRows(), horizon)
	}
	cut := f.NumRows() - horizon
	return f.slice(0, cut), f.slice(cut, f.NumRows()), nil
}

func (f *Frame) slice(from, to int) *Frame {
	cols := make([][]float64, len(f.Columns))
	for j, col := range f.Columns {
		cols[j] = col[from:to]
	}
	return &Frame{
		Names:   f.Names,
		Columns: cols,
		Times:   f.Times[from:to],
		Target:  f.Target[from:to],
		Scaler:  f.Scaler,
	}
}
