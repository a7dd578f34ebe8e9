// Package conflict implements detection and classification of editing
// conflicts between local and remote versions of page content and structure.
// Detection is optimistic: conflicting edits are surfaced, not serialized.
package conflict

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// VersionInfo is the authoritative state of one (page, contentKey) pair,
// fetched from the external version store.
type VersionInfo struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	SessionID string    `json:"sessionId,omitempty"`
	Checksum  string    `json:"checksum,omitempty"`
}

// Type of a detected conflict.
type Type string

const (
	TypeVersionMismatch   Type = "version_mismatch"
	TypeConcurrentEdit    Type = "concurrent_edit"
	TypeStructureConflict Type = "structure_conflict"
)

// DetectionResult is the outcome of a conflict check.
type DetectionResult struct {
	HasConflict     bool   `json:"hasConflict"`
	ConflictType    Type   `json:"conflictType,omitempty"`
	CurrentVersion  string `json:"currentVersion,omitempty"`
	ExpectedVersion string `json:"expectedVersion,omitempty"`
	ConflictedBy    string `json:"conflictedBy,omitempty"`
}

// Metadata is the audit trail attached to every detected conflict.
// IPAddress stays unset: enrichment happens server-side, never client-side.
type Metadata struct {
	Who         string    `json:"who"`
	When        time.Time `json:"when"`
	What        string    `json:"what"`
	ChangeType  string    `json:"changeType"`
	ComponentID string    `json:"componentId,omitempty"`
	ContentKey  string    `json:"contentKey,omitempty"`
	PageName    string    `json:"pageName"`
	SessionID   string    `json:"sessionId,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	IPAddress   string    `json:"ipAddress,omitempty"`
}

// ItemType distinguishes content conflicts from structural ones.
type ItemType string

const (
	ItemContent   ItemType = "content"
	ItemStructure ItemType = "structure"
)

// Status of a conflict item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusResolving Status = "resolving"
	StatusResolved  Status = "resolved"
)

// Item is the unit consumed by the resolution engine. Immutable once
// created; resolution produces a Resolution, not a mutation. LocalVersion
// and RemoteVersion carry the content values of each side.
type Item struct {
	ID            string      `json:"id"`
	Type          ItemType    `json:"type"`
	ComponentID   string      `json:"componentId"`
	ContentKey    string      `json:"contentKey,omitempty"`
	PageName      string      `json:"pageName"`
	LocalVersion  interface{} `json:"localVersion"`
	RemoteVersion interface{} `json:"remoteVersion"`
	ConflictedAt  time.Time   `json:"conflictedAt"`
	ConflictedBy  string      `json:"conflictedBy"`
	Metadata      Metadata    `json:"metadata"`
	Status        Status      `json:"status"`
}

// NewItem builds a pending conflict item with a fresh ID.
func NewItem(typ ItemType, pageName, componentID, contentKey string, local, remote interface{}, conflictedBy string, meta Metadata) Item {
	return Item{
		ID:            uuid.NewString(),
		Type:          typ,
		ComponentID:   componentID,
		ContentKey:    contentKey,
		PageName:      pageName,
		LocalVersion:  local,
		RemoteVersion: remote,
		ConflictedAt:  time.Now(),
		ConflictedBy:  conflictedBy,
		Metadata:      meta,
		Status:        StatusPending,
	}
}

// Severity of a classified conflict.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category of a classified conflict.
type Category string

const (
	CategoryContent    Category = "content"
	CategoryStructure  Category = "structure"
	CategoryPermission Category = "permission"
	CategoryConcurrent Category = "concurrent"
)

// Strategy names a resolution strategy.
type Strategy string

const (
	StrategyAcceptRemote  Strategy = "accept_remote"
	StrategyKeepLocal     Strategy = "keep_local"
	StrategyMerge         Strategy = "merge"
	StrategyThreeWayMerge Strategy = "three_way_merge"
)

// Classification is derived on demand from an Item; it is never persisted.
type Classification struct {
	Severity          Severity `json:"severity"`
	Category          Category `json:"category"`
	AutoResolvable    bool     `json:"autoResolvable"`
	RequiresUserInput bool     `json:"requiresUserInput"`
	SuggestedStrategy Strategy `json:"suggestedStrategy"`
}

// StructuralChange describes a layout mutation to check for conflicts.
type StructuralChange struct {
	PageName    string      `json:"pageName"`
	ComponentID string      `json:"componentId"`
	ChangeType  string      `json:"changeType"` // position, properties, add, delete
	Data        interface{} `json:"data,omitempty"`
}

// EditSession is one active editing session reported by the session
// collaborator.
type EditSession struct {
	UserID       string    `json:"userId"`
	SessionID    string    `json:"sessionId"`
	LastActivity time.Time `json:"lastActivity"`
}

// Change is one recent structural change reported by the change-log
// collaborator.
type Change struct {
	UserID    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
}

// VersionStore fetches authoritative version info. A (nil, nil) return means
// no version exists yet for the pair.
type VersionStore interface {
	GetVersion(ctx context.Context, pageName, contentKey string) (*VersionInfo, error)
}

// SessionStore lists active edit sessions on a (page, contentKey) pair,
// excluding the caller's own session.
type SessionStore interface {
	ActiveSessions(ctx context.Context, pageName, contentKey, excludeSession string) ([]EditSession, error)
}

// ChangeLog lists recent structural changes for a component.
type ChangeLog interface {
	RecentChanges(ctx context.Context, pageName, componentID string, since time.Time) ([]Change, error)
}
