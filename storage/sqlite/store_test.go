package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/c0deZ3R0/collab-kit/conflict"
	"github.com/c0deZ3R0/collab-kit/resolve"
)

func newTestStore(t *testing.T) *AuditStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "audit.db")
	store, err := New(DefaultConfig(dsn))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testItem(page string) conflict.Item {
	return conflict.NewItem(conflict.ItemContent, page, "hero", "hero.title",
		"local text", "remote text", "u-remote", conflict.Metadata{
			Who:      "u-remote",
			When:     time.Now(),
			What:     "hero.title",
			PageName: page,
		})
}

func TestRecordAndListConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := testItem("home")
	second := testItem("home")
	second.ConflictedAt = first.ConflictedAt.Add(time.Second)
	other := testItem("about")

	for _, item := range []conflict.Item{first, second, other} {
		if err := store.RecordConflict(ctx, item); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := store.ConflictsByPage(ctx, "home", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d conflicts, want 2", len(got))
	}
	if got[0].ID != second.ID {
		t.Error("conflicts not ordered most recent first")
	}
	if got[0].LocalVersion != "local text" || got[0].RemoteVersion != "remote text" {
		t.Errorf("versions did not round-trip: %+v", got[0])
	}
	if got[0].Metadata.Who != "u-remote" {
		t.Errorf("metadata did not round-trip: %+v", got[0].Metadata)
	}
}

func TestRecordResolutionMarksConflictResolved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	item := testItem("home")
	if err := store.RecordConflict(ctx, item); err != nil {
		t.Fatal(err)
	}

	res := resolve.Resolution{
		Strategy:      conflict.StrategyMerge,
		ResolvedValue: "merged text",
		MergeResult:   &resolve.MergeResult{Success: true, MergedValue: "merged text"},
		ResolvedBy:    "u1",
		ResolvedAt:    time.Now(),
		Notes:         "auto",
	}
	if err := store.RecordResolution(ctx, item.ID, res); err != nil {
		t.Fatal(err)
	}

	resolutions, err := store.Resolutions(ctx, item.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(resolutions) != 1 {
		t.Fatalf("got %d resolutions, want 1", len(resolutions))
	}
	got := resolutions[0]
	if got.Strategy != conflict.StrategyMerge || got.ResolvedValue != "merged text" || got.Notes != "auto" {
		t.Errorf("resolution = %+v", got)
	}
	if got.MergeResult == nil || !got.MergeResult.Success {
		t.Errorf("merge result = %+v", got.MergeResult)
	}

	conflicts, err := store.ConflictsByPage(ctx, "home", 10)
	if err != nil {
		t.Fatal(err)
	}
	if conflicts[0].Status != conflict.StatusResolved {
		t.Errorf("status = %q, want resolved", conflicts[0].Status)
	}
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	store := newTestStore(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := store.RecordConflict(context.Background(), testItem("home")); err == nil {
		t.Error("expected error after close")
	}
	if _, err := store.ConflictsByPage(context.Background(), "home", 1); err == nil {
		t.Error("expected error after close")
	}
}
