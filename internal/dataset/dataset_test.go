package dataset

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func hourlySeries(n int) *Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &Series{Name: "load"}
	for i := 0; i < n; i++ {
		s.Times = append(s.Times, start.Add(time.Duration(i)*time.Hour))
		s.Values = append(s.Values, float64(i))
	}
	return s
}

func TestSeriesValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Series)
		wantErr bool
	}{
		{
			name:    "valid hourly series",
			mutate:  func(*Series) {},
			wantErr: false,
		},
		{
			name: "duplicate timestamp",
			mutate: func(s *Series) {
				s.Times[5] = s.Times[4]
			},
			wantErr: true,
		},
		{
			name: "out of order",
			mutate: func(s *Series) {
				s.Times[3], s.Times[7] = s.Times[7], s.Times[3]
			},
			wantErr: true,
		},
		{
			name: "nan value",
			mutate: func(s *Series) {
				s.Values[2] = math.NaN()
			},
			wantErr: true,
		},
		{
			name: "length mismatch",
			mutate: func(s *Series) {
				s.Values = s.Values[:len(s.Values)-1]
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := hourlySeries(24)
			tt.mutate(s)
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("empty series", func(t *testing.T) {
		s := &Series{}
		if err := s.Validate(); !errors.Is(err, ErrEmptySeries) {
			t.Errorf("Validate() error = %v, want ErrEmptySeries", err)
		}
	})
}

func TestSplitHorizon(t *testing.T) {
	s := hourlySeries(200)

	train, test, err := SplitHorizon(s, 48)
	if err != nil {
		t.Fatalf("SplitHorizon() error = %v", err)
	}
	if train.Len() != 152 {
		t.Errorf("train len = %d, want 152", train.Len())
	}
	if test.Len() != 48 {
		t.Errorf("test len = %d, want 48", test.Len())
	}

	// Strict chronological cutover: every train timestamp precedes every
	// test timestamp.
	lastTrain := train.Times[train.Len()-1]
	if !lastTrain.Before(test.Times[0]) {
		t.Errorf("train end %v not before test start %v", lastTrain, test.Times[0])
	}

	if _, _, err := SplitHorizon(s, 200); !errors.Is(err, ErrShortSeries) {
		t.Errorf("SplitHorizon(200) error = %v, want ErrShortSeries", err)
	}
	if _, _, err := SplitHorizon(s, 0); err == nil {
		t.Error("SplitHorizon(0) expected error, got nil")
	}
}

func TestGaps(t *testing.T) {
	s := hourlySeries(24)
	if gaps := s.Gaps(time.Hour); len(gaps) != 0 {
		t.Errorf("Gaps() = %v, want none", gaps)
	}

	// Remove one observation to open a 2h gap before index 10.
	s.Times = append(s.Times[:10], s.Times[11:]...)
	s.Values = append(s.Values[:10], s.Values[11:]...)
	gaps := s.Gaps(time.Hour)
	if len(gaps) != 1 || gaps[0] != 10 {
		t.Errorf("Gaps() = %v, want [10]", gaps)
	}
}

func TestFingerprint(t *testing.T) {
	a := hourlySeries(48)
	b := hourlySeries(48)
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical series produced different fingerprints")
	}
	b.Values[0] += 0.001
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("modified series produced identical fingerprint")
	}
}

func TestLoad(t *testing.T) {
	csv := `id,type,freq,date,value
el_load,demand,Hourly,2024-01-01 02:00:00,120.5
el_load,demand,Hourly,2024-01-01 00:00:00,100.0
el_load,demand,Hourly,2024-01-01 01:00:00,110.25
other,demand,Hourly,2024-01-01 00:00:00,999.0
el_load,demand,Daily,2024-01-01 00:00:00,888.0
`
	path := filepath.Join(t.TempDir(), "demand.csv")
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	opts := DefaultLoadOptions()
	opts.SeriesID = "el_load"
	s, err := Load(path, opts)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 (filtered to el_load/Hourly)", s.Len())
	}
	if err := s.Validate(); err != nil {
		t.Errorf("loaded series failed validation: %v", err)
	}
	// Rows arrive out of order in the file; Load must sort them.
	want := []float64{100.0, 110.25, 120.5}
	for i, w := range want {
		if s.Values[i] != w {
			t.Errorf("Values[%d] = %v, want %v", i, s.Values[i], w)
		}
	}
	if s.Name != "el_load" {
		t.Errorf("Name = %q, want el_load", s.Name)
	}

	t.Run("no matching rows", func(t *testing.T) {
		opts := DefaultLoadOptions()
		opts.SeriesID = "missing"
		if _, err := Load(path, opts); !errors.Is(err, ErrEmptySeries) {
			t.Errorf("Load() error = %v, want ErrEmptySeries", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.csv"), DefaultLoadOptions()); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
