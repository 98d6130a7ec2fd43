package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("", 0)
	defer ms.Close()

	rec := NewRunRecord("load", "abc123")
	rec.BestModel = "ridge"
	if err := ms.Put(ctx, rec); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	dupe := &RunRecord{ID: rec.ID, Series: "load", BestModel: "other", StartedAt: time.Now()}
	if err := ms.Put(ctx, dupe); err != nil {
		t.Fatalf("duplicate Put() error = %v", err)
	}

	got, err := ms.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.BestModel != "ridge" {
		t.Errorf("BestModel = %s, first write should win", got.BestModel)
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	ms := NewMemoryStore("", 0)
	defer ms.Close()

	if _, err := ms.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePutValidation(t *testing.T) {
	ms := NewMemoryStore("", 0)
	defer ms.Close()

	if err := ms.Put(context.Background(), &RunRecord{}); err == nil {
		t.Error("record without id accepted")
	}
	if err := ms.Put(context.Background(), nil); err == nil {
		t.Error("nil record accepted")
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("", 0)
	defer ms.Close()

	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		rec := NewRunRecord("load", "fp")
		rec.StartedAt = base.Add(time.Duration(i) * time.Hour)
		if err := ms.Put(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := ms.List(ctx, 3)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("got %d runs, want 3", len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Errorf("runs not newest-first at %d", i)
		}
	}

	all, err := ms.List(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 5 {
		t.Errorf("unlimited list = %d runs, want 5", len(all))
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore("", 20*time.Millisecond)
	defer ms.Close()

	rec := NewRunRecord("load", "fp")
	if err := ms.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if _, err := ms.Get(ctx, rec.ID); err != nil {
		t.Fatalf("fresh record missing: %v", err)
	}

	time.Sleep(40 * time.Millisecond)
	if _, err := ms.Get(ctx, rec.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired record error = %v, want ErrNotFound", err)
	}
	if removed := ms.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", removed)
	}
}

func TestMemoryStoreSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.json")

	ms := NewMemoryStore(path, 0)
	rec := NewRunRecord("load", "fp")
	rec.BestModel = "gbm_100x0.1"
	if err := ms.Put(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := ms.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}

	reloaded := NewMemoryStore(path, 0)
	defer reloaded.Close()
	got, err := reloaded.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get() after reload error = %v", err)
	}
	if got.BestModel != rec.BestModel {
		t.Errorf("BestModel = %s, want %s", got.BestModel, rec.BestModel)
	}
}

func TestNewRunRecord(t *testing.T) {
	a := NewRunRecord("load", "fp1")
	b := NewRunRecord("load", "fp1")

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids not unique: %q vs %q", a.ID, b.ID)
	}
	if a.StartedAt.IsZero() {
		t.Error("StartedAt not set")
	}
	if !a.FinishedAt.IsZero() {
		t.Error("FinishedAt set before Finish")
	}
	a.Finish()
	if a.FinishedAt.IsZero() {
		t.Error("Finish did not stamp FinishedAt")
	}
}
