package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gestock/dbgate/internal/migrate"
)

func sampleLog(id, status string) *migrate.Log {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &migrate.Log{
		RunID:      id,
		Status:     status,
		StartedAt:  started,
		FinishedAt: started.Add(42 * time.Second),
		Entries: []migrate.Entry{
			{Tenant: "2025_bu01", Table: "article", Phase: migrate.PhaseSchema, Status: migrate.StatusOK},
			{Tenant: "2025_bu01", Table: "article", Phase: migrate.PhaseData, Status: migrate.StatusOK, RowsAttempted: 3, RowsSucceeded: 3},
			{Tenant: "2025_bu01", Table: "bl", Phase: migrate.PhaseData, Status: migrate.StatusFailed, RowsAttempted: 1, Error: "value out of range"},
		},
	}
}

func TestRecordAndReadBack(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordRun(ctx, sampleLog("run-a", migrate.RunDone)); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	if err := store.RecordRun(ctx, sampleLog("run-b", migrate.RunCancelled)); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	for _, r := range runs {
		if r.Entries != 3 || r.Failed != 1 {
			t.Errorf("run %s: entries=%d failed=%d, want 3/1", r.RunID, r.Entries, r.Failed)
		}
		if r.FinishedAt.Sub(r.StartedAt) != 42*time.Second {
			t.Errorf("run %s: timestamps did not round-trip: %v %v", r.RunID, r.StartedAt, r.FinishedAt)
		}
	}

	entries, err := store.RunEntries(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	if entries[0].Phase != migrate.PhaseSchema || entries[2].Error != "value out of range" {
		t.Fatalf("entry order or content wrong: %+v", entries)
	}
	if entries[1].Tenant != "2025_bu01" || entries[1].RowsSucceeded != 3 {
		t.Fatalf("data entry did not round-trip: %+v", entries[1])
	}
}

func TestDuplicateRunRejected(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.RecordRun(ctx, sampleLog("run-a", migrate.RunDone)); err != nil {
		t.Fatalf("first RecordRun: %v", err)
	}
	if err := store.RecordRun(ctx, sampleLog("run-a", migrate.RunDone)); err == nil {
		t.Fatal("duplicate run id accepted")
	}

	entries, err := store.RunEntries(ctx, "run-a")
	if err != nil {
		t.Fatalf("RunEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("duplicate insert leaked entries: %d", len(entries))
	}
}

func TestRunExistsForEmptyRun(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	empty := sampleLog("run-empty", migrate.RunDone)
	empty.Entries = nil
	if err := store.RecordRun(ctx, empty); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	ok, err := store.RunExists(ctx, "run-empty")
	if err != nil || !ok {
		t.Fatalf("RunExists(run-empty) = %v, %v, want true", ok, err)
	}
	ok, err = store.RunExists(ctx, "never-ran")
	if err != nil || ok {
		t.Fatalf("RunExists(never-ran) = %v, %v, want false", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Entries != 0 {
		t.Fatalf("runs = %+v, want one run with zero entries", runs)
	}
}

func TestRunEntriesUnknownRun(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()

	entries, err := store.RunEntries(context.Background(), "missing")
	if err != nil {
		t.Fatalf("RunEntries: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}
