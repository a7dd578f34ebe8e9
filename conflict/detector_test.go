package conflict

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

// fakeVersionStore is a test double for the version collaborator.
type fakeVersionStore struct {
	info  *VersionInfo
	err   error
	calls int
}

func (f *fakeVersionStore) GetVersion(ctx context.Context, pageName, contentKey string) (*VersionInfo, error) {
	f.calls++
	return f.info, f.err
}

type fakeSessionStore struct {
	sessions []EditSession
	err      error
}

func (f *fakeSessionStore) ActiveSessions(ctx context.Context, pageName, contentKey, excludeSession string) ([]EditSession, error) {
	return f.sessions, f.err
}

type fakeChangeLog struct {
	changes []Change
	err     error
}

func (f *fakeChangeLog) RecentChanges(ctx context.Context, pageName, componentID string, since time.Time) ([]Change, error) {
	return f.changes, f.err
}

func storedVersion(version, userID, checksum string) *VersionInfo {
	return &VersionInfo{
		Version:   version,
		Timestamp: time.Now(),
		UserID:    userID,
		Checksum:  checksum,
	}
}

func TestDetectConflict_NoExistingVersion(t *testing.T) {
	d := NewDetector(&fakeVersionStore{info: nil})
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", "value", "u1", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasConflict {
		t.Error("new content must not conflict")
	}
}

func TestDetectConflict_VersionMismatch(t *testing.T) {
	d := NewDetector(&fakeVersionStore{info: storedVersion("2.0", "u-remote", "")})
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasConflict {
		t.Fatal("expected conflict")
	}
	if res.ConflictType != TypeVersionMismatch {
		t.Errorf("ConflictType = %q", res.ConflictType)
	}
	if res.CurrentVersion != "2.0" || res.ExpectedVersion != "1.0" {
		t.Errorf("versions = %q / %q", res.CurrentVersion, res.ExpectedVersion)
	}
	if res.ConflictedBy != "u-remote" {
		t.Errorf("ConflictedBy = %q", res.ConflictedBy)
	}
}

func TestDetectConflict_MatchingVersionAndChecksum(t *testing.T) {
	value := "Welcome home"
	sum, err := Checksum(value)
	if err != nil {
		t.Fatal(err)
	}
	d := NewDetector(&fakeVersionStore{info: storedVersion("1.0", "u-remote", sum)})
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", value, "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasConflict {
		t.Error("matching version and checksum must not conflict")
	}
}

func TestDetectConflict_ChecksumDrift(t *testing.T) {
	sum, err := Checksum("what the server saw")
	if err != nil {
		t.Fatal(err)
	}
	d := NewDetector(&fakeVersionStore{info: storedVersion("1.0", "u-remote", sum)})
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", "what the client has", "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasConflict || res.ConflictType != TypeConcurrentEdit {
		t.Errorf("result = %+v, want concurrent_edit", res)
	}
}

func TestDetectConflict_ForeignActiveSession(t *testing.T) {
	d := NewDetector(
		&fakeVersionStore{info: storedVersion("1.0", "u-remote", "")},
		WithSessionStore(&fakeSessionStore{sessions: []EditSession{
			{UserID: "u-other", SessionID: "s-other", LastActivity: time.Now()},
		}}),
	)
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", "s-mine")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasConflict || res.ConflictType != TypeConcurrentEdit {
		t.Fatalf("result = %+v, want concurrent_edit", res)
	}
	if res.ConflictedBy != "u-other" {
		t.Errorf("ConflictedBy = %q, want u-other", res.ConflictedBy)
	}
}

func TestDetectConflict_SessionCheckRunsWithoutOwnSession(t *testing.T) {
	// A caller with no session of its own still collides with other
	// active editors; the empty exclusion just filters nobody out.
	d := NewDetector(
		&fakeVersionStore{info: storedVersion("1.0", "u-remote", "")},
		WithSessionStore(&fakeSessionStore{sessions: []EditSession{
			{UserID: "u-other", SessionID: "s-other", LastActivity: time.Now()},
		}}),
	)
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasConflict || res.ConflictType != TypeConcurrentEdit {
		t.Fatalf("result = %+v, want concurrent_edit", res)
	}
	if res.ConflictedBy != "u-other" {
		t.Errorf("ConflictedBy = %q, want u-other", res.ConflictedBy)
	}
}

func TestDetectConflict_SessionLookupFailureIsRethrown(t *testing.T) {
	d := NewDetector(
		&fakeVersionStore{info: storedVersion("1.0", "u-remote", "")},
		WithSessionStore(&fakeSessionStore{err: errors.New("session service down")}),
	)
	_, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", "s-mine")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "conflict detection failed") {
		t.Errorf("error %q missing prefix", err)
	}
}

func TestDetectConflict_VersionLookupFailureMeansNewContent(t *testing.T) {
	// The cache layer swallows fetch errors; the main path sees "no version".
	d := NewDetector(&fakeVersionStore{err: errors.New("store down")})
	res, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.HasConflict {
		t.Error("lookup failure must degrade to no conflict")
	}
}

func TestDetectConflict_CachesVersionLookups(t *testing.T) {
	store := &fakeVersionStore{info: storedVersion("1.0", "u-remote", "")}
	d := NewDetector(store)

	for i := 0; i < 3; i++ {
		if _, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", ""); err != nil {
			t.Fatal(err)
		}
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1 (cached)", store.calls)
	}

	d.ClearCache()
	if _, err := d.DetectConflict(context.Background(), "home", "hero.title", "1.0", nil, "u1", ""); err != nil {
		t.Fatal(err)
	}
	if store.calls != 2 {
		t.Errorf("store calls = %d, want 2 after ClearCache", store.calls)
	}
}

func TestDetectStructuralConflict(t *testing.T) {
	change := StructuralChange{PageName: "home", ComponentID: "hero", ChangeType: "position"}

	tests := []struct {
		name    string
		changes []Change
		err     error
		want    bool
		by      string
		wantErr bool
	}{
		{
			name: "recent foreign change conflicts",
			changes: []Change{
				{UserID: "u-other", Timestamp: time.Now().Add(-5 * time.Second), Type: "position"},
			},
			want: true,
			by:   "u-other",
		},
		{
			name: "own change does not conflict",
			changes: []Change{
				{UserID: "u-me", Timestamp: time.Now().Add(-5 * time.Second), Type: "position"},
			},
			want: false,
		},
		{
			name: "most recent change wins",
			changes: []Change{
				{UserID: "u-other", Timestamp: time.Now().Add(-20 * time.Second), Type: "position"},
				{UserID: "u-me", Timestamp: time.Now().Add(-2 * time.Second), Type: "position"},
			},
			want: false,
		},
		{
			name:    "no recent changes",
			changes: nil,
			want:    false,
		},
		{
			name:    "collaborator failure rethrown",
			err:     errors.New("log unavailable"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(&fakeVersionStore{}, WithChangeLog(&fakeChangeLog{changes: tt.changes, err: tt.err}))
			res, err := d.DetectStructuralConflict(context.Background(), change, "u-me", "s1")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), "structural conflict detection failed") {
					t.Errorf("error %q missing prefix", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.HasConflict != tt.want {
				t.Errorf("HasConflict = %v, want %v", res.HasConflict, tt.want)
			}
			if tt.want {
				if res.ConflictType != TypeStructureConflict {
					t.Errorf("ConflictType = %q", res.ConflictType)
				}
				if res.ConflictedBy != tt.by {
					t.Errorf("ConflictedBy = %q, want %q", res.ConflictedBy, tt.by)
				}
			}
		})
	}
}

func TestHistory_CapMostRecentFirst(t *testing.T) {
	h := NewHistory(2)
	for _, id := range []string{"item0", "item1", "item2", "item3", "item4"} {
		h.Add("component-1", Item{ID: id})
	}
	got := h.Get("component-1")
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	if got[0].ID != "item4" || got[1].ID != "item3" {
		t.Errorf("history = [%s, %s], want [item4, item3]", got[0].ID, got[1].ID)
	}
}

func TestHistory_MarkResolved(t *testing.T) {
	h := NewHistory(10)
	h.Add("c1", Item{ID: "a", Status: StatusPending})
	h.MarkResolved("a")
	got := h.Get("c1")
	if got[0].Status != StatusResolved {
		t.Errorf("status = %q, want resolved", got[0].Status)
	}
}
