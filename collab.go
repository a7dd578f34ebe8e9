// Package collab wires conflict detection, classification, resolution,
// presence, and realtime transport into one engine for collaborative page
// editing. The pieces compose explicitly: nothing in this package is a
// process-wide singleton, and every collaborator is injected at
// construction.
package collab

import (
	"context"

	"github.com/c0deZ3R0/collab-kit/conflict"
	"github.com/c0deZ3R0/collab-kit/resolve"
)

// Identity names the local editor on whose behalf the engine operates.
type Identity struct {
	UserID    string
	UserName  string
	SessionID string
}

// AuditSink persists conflicts and resolutions durably. The sqlite store
// satisfies it.
type AuditSink interface {
	RecordConflict(ctx context.Context, item conflict.Item) error
	RecordResolution(ctx context.Context, conflictID string, res resolve.Resolution) error
}

// AuditPublisher streams conflict audit events to an external broker. The
// Kafka dispatcher satisfies it.
type AuditPublisher interface {
	ConflictDetected(ctx context.Context, item conflict.Item) error
	ConflictResolved(ctx context.Context, item conflict.Item, res resolve.Resolution) error
}

// Report is the outcome of a conflict check. A clean check carries only the
// detection result; a conflicting one adds the item, its classification,
// and, when auto-resolution succeeded, the resolution.
type Report struct {
	Detection      conflict.DetectionResult
	Item           *conflict.Item
	Classification *conflict.Classification
	Resolution     *resolve.Resolution
}

// Resolved reports whether the conflict was auto-resolved.
func (r *Report) Resolved() bool {
	return r.Resolution != nil
}
