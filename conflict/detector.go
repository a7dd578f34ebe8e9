package conflict

import (
	"context"
	"fmt"
	"sort"
	"time"

	kiterr "github.com/c0deZ3R0/collab-kit/errors"
	"github.com/c0deZ3R0/collab-kit/logging"
)

// Detector surfaces version, checksum, session, and structural conflicts.
// Kept as an interface so a stricter consistency model can be substituted
// without touching callers.
type Detector interface {
	// DetectConflict checks an optimistic content edit against the
	// authoritative version store.
	DetectConflict(ctx context.Context, pageName, contentKey, expectedVersion string, currentValue interface{}, userID, sessionID string) (DetectionResult, error)

	// DetectStructuralConflict checks a layout mutation against recent
	// changes to the same component.
	DetectStructuralConflict(ctx context.Context, change StructuralChange, userID, sessionID string) (DetectionResult, error)

	// Classify derives a classification from a conflict item.
	Classify(item Item) Classification

	// AddToHistory records a conflict under a key (componentId).
	AddToHistory(key string, item Item)

	// ConflictHistory returns the recorded conflicts for a key,
	// most recent first.
	ConflictHistory(key string) []Item

	// MarkResolved flips a recorded conflict to resolved without removing
	// it from history.
	MarkResolved(id string)

	// ClearCache drops all cached version lookups.
	ClearCache()
}

type detector struct {
	versions *versionCache
	sessions SessionStore
	changes  ChangeLog
	history  *History
	logger   *logging.Logger

	versionChecking    bool
	checksumValidation bool
	sessionTracking    bool
	conflictTimeout    time.Duration
}

var _ Detector = (*detector)(nil)

// Option configures a Detector.
type Option func(*detector)

// WithSessionStore enables session tracking against the given collaborator.
func WithSessionStore(s SessionStore) Option {
	return func(d *detector) { d.sessions = s }
}

// WithChangeLog sets the recent-structural-changes collaborator.
func WithChangeLog(c ChangeLog) Option {
	return func(d *detector) { d.changes = c }
}

// WithConflictTimeout sets the window within which a foreign structural
// change counts as conflicting.
func WithConflictTimeout(timeout time.Duration) Option {
	return func(d *detector) { d.conflictTimeout = timeout }
}

// WithMaxHistory caps the per-key conflict history length.
func WithMaxHistory(n int) Option {
	return func(d *detector) { d.history = NewHistory(n) }
}

// WithoutVersionChecking disables the version-mismatch check.
func WithoutVersionChecking() Option {
	return func(d *detector) { d.versionChecking = false }
}

// WithoutChecksumValidation disables the same-version content-drift check.
func WithoutChecksumValidation() Option {
	return func(d *detector) { d.checksumValidation = false }
}

// WithoutSessionTracking disables the foreign-session check.
func WithoutSessionTracking() Option {
	return func(d *detector) { d.sessionTracking = false }
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *detector) { d.logger = l }
}

// NewDetector constructs a Detector over the given version store.
// Defaults: version checking, checksum validation, and session tracking all
// enabled; 30s conflict timeout; history capped at 100 per key.
func NewDetector(versions VersionStore, opts ...Option) Detector {
	d := &detector{
		history:            NewHistory(100),
		logger:             logging.Nop(),
		versionChecking:    true,
		checksumValidation: true,
		sessionTracking:    true,
		conflictTimeout:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.WithComponent("conflict")
	d.versions = newVersionCache(versions, d.logger)
	return d
}

func (d *detector) DetectConflict(ctx context.Context, pageName, contentKey, expectedVersion string, currentValue interface{}, userID, sessionID string) (DetectionResult, error) {
	const op = kiterr.Op("detector.DetectConflict")

	current := d.versions.Get(ctx, pageName, contentKey)
	if current == nil {
		// No existing version: new content, nothing to conflict with.
		return DetectionResult{HasConflict: false}, nil
	}

	if d.versionChecking && current.Version != expectedVersion {
		return DetectionResult{
			HasConflict:     true,
			ConflictType:    TypeVersionMismatch,
			CurrentVersion:  current.Version,
			ExpectedVersion: expectedVersion,
			ConflictedBy:    current.UserID,
		}, nil
	}

	if d.checksumValidation && currentValue != nil && current.Checksum != "" {
		sum, err := Checksum(currentValue)
		if err != nil {
			return DetectionResult{}, kiterr.E(op, kiterr.Component("conflict"), kiterr.KindConflict,
				fmt.Errorf("conflict detection failed: %w", err))
		}
		if sum != current.Checksum {
			// Same version, different bytes: someone edited concurrently.
			return DetectionResult{
				HasConflict:     true,
				ConflictType:    TypeConcurrentEdit,
				CurrentVersion:  current.Version,
				ExpectedVersion: expectedVersion,
				ConflictedBy:    current.UserID,
			}, nil
		}
	}

	if d.sessionTracking && d.sessions != nil {
		// An empty sessionID still consults the store; it just excludes
		// no one, so any active session counts as a concurrent editor.
		active, err := d.sessions.ActiveSessions(ctx, pageName, contentKey, sessionID)
		if err != nil {
			return DetectionResult{}, kiterr.E(op, kiterr.Component("conflict"), kiterr.KindConflict,
				fmt.Errorf("conflict detection failed: %w", err))
		}
		if len(active) > 0 {
			return DetectionResult{
				HasConflict:     true,
				ConflictType:    TypeConcurrentEdit,
				CurrentVersion:  current.Version,
				ExpectedVersion: expectedVersion,
				ConflictedBy:    active[0].UserID,
			}, nil
		}
	}

	return DetectionResult{HasConflict: false}, nil
}

func (d *detector) DetectStructuralConflict(ctx context.Context, change StructuralChange, userID, sessionID string) (DetectionResult, error) {
	const op = kiterr.Op("detector.DetectStructuralConflict")

	if d.changes == nil {
		return DetectionResult{HasConflict: false}, nil
	}

	since := time.Now().Add(-d.conflictTimeout)
	recent, err := d.changes.RecentChanges(ctx, change.PageName, change.ComponentID, since)
	if err != nil {
		return DetectionResult{}, kiterr.E(op, kiterr.Component("conflict"), kiterr.KindConflict,
			fmt.Errorf("structural conflict detection failed: %w", err))
	}
	if len(recent) == 0 {
		return DetectionResult{HasConflict: false}, nil
	}

	sort.Slice(recent, func(i, j int) bool {
		return recent[i].Timestamp.After(recent[j].Timestamp)
	})
	latest := recent[0]
	if latest.UserID != userID && time.Since(latest.Timestamp) <= d.conflictTimeout {
		return DetectionResult{
			HasConflict:  true,
			ConflictType: TypeStructureConflict,
			ConflictedBy: latest.UserID,
		}, nil
	}

	return DetectionResult{HasConflict: false}, nil
}

func (d *detector) AddToHistory(key string, item Item) {
	d.history.Add(key, item)
}

func (d *detector) ConflictHistory(key string) []Item {
	return d.history.Get(key)
}

func (d *detector) MarkResolved(id string) {
	d.history.MarkResolved(id)
}

func (d *detector) ClearCache() {
	d.versions.Clear()
}
