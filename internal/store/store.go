// Package store persists run records. Backends share first-write-wins
// semantics keyed by run id: memory for single-process runs, Redis and
// Postgres for shared deployments.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/peakshaver/glassbox/internal/automl"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/model"
)

// ErrNotFound is returned when no run with the given id is stored.
var ErrNotFound = errors.New("store: run not found")

// RunRecord captures one pipeline run end to end: the dataset identity, the
// configurations that shaped the feature table and the search, and the
// outcome.
type RunRecord struct {
	ID          string                    `json:"id"`
	Series      string                    `json:"series"`
	Fingerprint string                    `json:"fingerprint"`
	Horizon     int                       `json:"horizon"`
	Features    features.Config           `json:"features"`
	AutoML      automl.Config             `json:"automl"`
	Leaderboard []automl.LeaderboardEntry `json:"leaderboard,omitempty"`
	TestMetrics *model.Report             `json:"test_metrics,omitempty"`
	BestModel   string                    `json:"best_model,omitempty"`
	ArtifactDir string                    `json:"artifact_dir,omitempty"`
	Artifacts   []string                  `json:"artifacts,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
}

// NewRunRecord starts a record for the named series.
func NewRunRecord(series, fingerprint string) *RunRecord {
	return &RunRecord{
		ID:          uuid.NewString(),
		Series:      series,
		Fingerprint: fingerprint,
		StartedAt:   time.Now().UTC(),
	}
}

// Finish stamps the completion time.
func (r *RunRecord) Finish() { r.FinishedAt = time.Now().UTC() }

// Store persists run records. Put is first-write-wins: writing an id that
// already exists keeps the stored record and returns nil.
type Store interface {
	Put(ctx context.Context, rec *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	List(ctx context.Context, limit int) ([]*RunRecord, error)
	Close() error
}

// MemoryStore keeps records in a map, optionally snapshotting to a JSON file
// on Close and reloading on startup. A zero TTL disables expiry.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*memEntry
	snapshot string
	ttl      time.Duration
}

type memEntry struct {
	Record    *RunRecord `json:"record"`
	ExpiresAt time.Time  `json:"expires_at"`
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// NewMemoryStore creates the in-memory backend. snapshotPath may be empty.
func NewMemoryStore(snapshotPath string, ttl time.Duration) *MemoryStore {
	ms := &MemoryStore{
		records:  make(map[string]*memEntry),
		snapshot: snapshotPath,
		ttl:      ttl,
	}
	if snapshotPath != "" {
		ms.loadSnapshot()
	}
	return ms
}

func (m *MemoryStore) Put(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("store: record needs an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, exists := m.records[rec.ID]; exists && !e.expired(time.Now()) {
		return nil // first write wins
	}

	var expires time.Time
	if m.ttl > 0 {
		expires = time.Now().Add(m.ttl)
	}
	m.records[rec.ID] = &memEntry{Record: rec, ExpiresAt: expires}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.records[id]
	if !ok || e.expired(time.Now()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.Record, nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	out := make([]*RunRecord, 0, len(m.records))
	for _, e := range m.records {
		if !e.expired(now) {
			out = append(out, e.Record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CleanupExpired drops expired entries and reports how many were removed.
func (m *MemoryStore) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, e := range m.records {
		if e.expired(now) {
			delete(m.records, id)
			removed++
		}
	}
	return removed
}

func (m *MemoryStore) Close() error {
	if m.snapshot != "" {
		return m.saveSnapshot()
	}
	return nil
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var snapshot map[string]*memEntry
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("store: unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, e := range snapshot {
		if !e.expired(now) {
			m.records[id] = e
		}
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	toSave := make(map[string]*memEntry, len(m.records))
	now := time.Now()
	for id, e := range m.records {
		if !e.expired(now) {
			toSave[id] = e
		}
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(toSave, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.snapshot, data, 0o644)
}
