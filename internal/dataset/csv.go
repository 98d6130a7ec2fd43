package dataset

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

// LoadOptions describes the raw CSV layout: which columns carry the series
// identifier, the category/type, the frequency label, the timestamp and the
// value, plus the filter values selecting one hourly series out of the file.
type LoadOptions struct {
	IDColumn    string
	TypeColumn  string
	FreqColumn  string
	TimeColumn  string
	ValueColumn string

	// SeriesID and Frequency filter the frame before extraction. Empty
	// means "keep all rows" for that column.
	SeriesID  string
	Frequency string

	// TimeLayouts are attempted in order for every timestamp cell.
	TimeLayouts []string
}

// DefaultLoadOptions matches the demand export layout: one row per
// observation with id,type,freq,date,value columns.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		IDColumn:    "id",
		TypeColumn:  "type",
		FreqColumn:  "freq",
		TimeColumn:  "date",
		ValueColumn: "value",
		Frequency:   "Hourly",
		TimeLayouts: []string{
			"2006-01-02 15:04:05",
			time.RFC3339,
			"2006-01-02T15:04:05",
			"2006-01-02 15:04",
			"02.01.2006 15:04",
		},
	}
}

// Load reads the CSV at path, filters it down to the requested series and
// frequency, parses timestamps and returns the observations sorted
// chronologically. Values that fail float parsing surface as NaN and are
// rejected by Series.Validate.
func Load(path string, opts LoadOptions) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(f,
		dataframe.HasHeader(true),
		dataframe.WithTypes(map[string]series.Type{
			opts.TimeColumn: series.String,
		}),
	)
	if df.Err != nil {
		return nil, fmt.Errorf("read csv: %w", df.Err)
	}

	for _, col := range []string{opts.TimeColumn, opts.ValueColumn} {
		if !hasColumn(df, col) {
			return nil, fmt.Errorf("dataset: missing column %q (have %v)", col, df.Names())
		}
	}

	if opts.SeriesID != "" && hasColumn(df, opts.IDColumn) {
		df = df.Filter(dataframe.F{Colname: opts.IDColumn, Comparator: series.Eq, Comparando: opts.SeriesID})
	}
	if opts.Frequency != "" && hasColumn(df, opts.FreqColumn) {
		df = df.Filter(dataframe.F{Colname: opts.FreqColumn, Comparator: series.Eq, Comparando: opts.Frequency})
	}
	if df.Err != nil {
		return nil, fmt.Errorf("filter csv: %w", df.Err)
	}
	if df.Nrow() == 0 {
		return nil, fmt.Errorf("%w: no rows match series=%q frequency=%q", ErrEmptySeries, opts.SeriesID, opts.Frequency)
	}

	rawTimes := df.Col(opts.TimeColumn).Records()
	values := df.Col(opts.ValueColumn).Float()

	times := make([]time.Time, len(rawTimes))
	for i, raw := range rawTimes {
		t, err := parseTime(raw, opts.TimeLayouts)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		times[i] = t
	}

	s := &Series{
		Name:   seriesName(df, opts),
		Times:  times,
		Values: values,
	}
	sortByTime(s)
	return s, nil
}

func hasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func parseTime(raw string, layouts []string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("dataset: unparseable timestamp %q", raw)
}

func seriesName(df dataframe.DataFrame, opts LoadOptions) string {
	if opts.SeriesID != "" {
		return opts.SeriesID
	}
	if hasColumn(df, opts.IDColumn) && df.Nrow() > 0 {
		return df.Col(opts.IDColumn).Records()[0]
	}
	return "series"
}

func sortByTime(s *Series) {
	idx := make([]int, len(s.Times))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.Times[idx[a]].Before(s.Times[idx[b]]) })

	times := make([]time.Time, len(idx))
	values := make([]float64, len(idx))
	for i, j := range idx {
		times[i] = s.Times[j]
		values[i] = s.Values[j]
	}
	s.Times = times
	s.Values = values
}
