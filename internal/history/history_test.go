package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestFeatureLifecycleRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rec, err := db.RecordFeature(ctx, FeatureRecord{
		Name:         "checkout-v2",
		CreatedAt:    created,
		ProjectCount: 2,
		Metadata:     map[string]string{"baseBranch": "main"},
	})
	if err != nil {
		t.Fatalf("RecordFeature failed: %v", err)
	}
	if rec.ID == "" || rec.Status != FeatureActive || rec.Template != "default" {
		t.Fatalf("unexpected defaults: %+v", rec)
	}

	if err := db.SetFeatureStatus(ctx, "checkout-v2", FeatureCompleted, created.Add(time.Hour)); err != nil {
		t.Fatalf("SetFeatureStatus failed: %v", err)
	}
	completed, err := db.Features(ctx, FeatureCompleted)
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if len(completed) != 1 || completed[0].CompletedAt == nil || !completed[0].CompletedAt.Equal(created.Add(time.Hour)) {
		t.Fatalf("unexpected completed features: %+v", completed)
	}
	if completed[0].Metadata["baseBranch"] != "main" {
		t.Fatalf("metadata not round tripped: %+v", completed[0].Metadata)
	}

	if err := db.SetFeatureStatus(ctx, "checkout-v2", FeatureDeleted, created.Add(2*time.Hour)); err != nil {
		t.Fatalf("SetFeatureStatus failed: %v", err)
	}
	// a deleted row stays deleted
	if err := db.SetFeatureStatus(ctx, "checkout-v2", FeatureActive, created.Add(3*time.Hour)); err != nil {
		t.Fatalf("SetFeatureStatus failed: %v", err)
	}
	deleted, err := db.Features(ctx, FeatureDeleted)
	if err != nil {
		t.Fatalf("Features failed: %v", err)
	}
	if len(deleted) != 1 || deleted[0].DeletedAt == nil {
		t.Fatalf("unexpected deleted features: %+v", deleted)
	}
}

func TestActivityQueries(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	entries := []Activity{
		{Type: ActivityCreate, FeatureName: "a", Timestamp: now.Add(-48 * time.Hour)},
		{Type: ActivityWorktree, FeatureName: "a", ProjectName: "web", Timestamp: now.Add(-2 * time.Hour), Details: "created worktree"},
		{Type: ActivityCreate, FeatureName: "b", Timestamp: now.Add(-time.Hour)},
	}
	for _, e := range entries {
		if _, err := db.LogActivity(ctx, e); err != nil {
			t.Fatalf("LogActivity failed: %v", err)
		}
	}

	got, err := db.Activity(ctx, "a", 0)
	if err != nil {
		t.Fatalf("Activity failed: %v", err)
	}
	if len(got) != 2 || got[0].Type != ActivityWorktree || got[0].ProjectName != "web" {
		t.Fatalf("unexpected activity: %+v", got)
	}

	limited, err := db.Activity(ctx, "", 1)
	if err != nil || len(limited) != 1 || limited[0].FeatureName != "b" {
		t.Fatalf("unexpected limited activity: %+v %v", limited, err)
	}

	recent, err := db.RecentActivity(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("RecentActivity failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent entries, got %+v", recent)
	}

	if _, err := db.LogActivity(ctx, Activity{Type: ActivityCreate}); err == nil {
		t.Fatalf("expected error for activity without feature")
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	_, _ = db.RecordFeature(ctx, FeatureRecord{Name: "a", ProjectCount: 2})
	_, _ = db.RecordFeature(ctx, FeatureRecord{Name: "b", ProjectCount: 3})
	_ = db.SetFeatureStatus(ctx, "b", FeatureCompleted, now)
	_, _ = db.LogActivity(ctx, Activity{Type: ActivityCreate, FeatureName: "a", Timestamp: now.Add(-time.Minute)})
	_, _ = db.LogActivity(ctx, Activity{Type: ActivityCreate, FeatureName: "old", Timestamp: now.Add(-72 * time.Hour)})

	s, err := db.Stats(ctx, now)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	want := Stats{TotalFeatures: 2, ActiveFeatures: 1, CompletedFeatures: 1, TotalProjects: 5, RecentActivity: 1}
	if s != want {
		t.Fatalf("Stats = %+v, want %+v", s, want)
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()
	if _, err := db.LogActivity(context.Background(), Activity{Type: ActivityUpdate, FeatureName: "x"}); err != nil {
		t.Fatalf("LogActivity failed: %v", err)
	}
}
