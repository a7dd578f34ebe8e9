// Package event defines the wire envelope for all realtime collaboration
// traffic, along with validation, serialization, and routing.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of realtime event. The set is closed; the
// validator rejects anything else.
type Type string

const (
	TypeContentChange    Type = "content_change"
	TypeComponentAdd     Type = "component_add"
	TypeComponentMove    Type = "component_move"
	TypeComponentDelete  Type = "component_delete"
	TypePageCreate       Type = "page_create"
	TypeNavUpdate        Type = "nav_update"
	TypePresenceUpdate   Type = "presence_update"
	TypeConflictDetected Type = "conflict_detected"
)

// knownTypes is the closed set accepted by the validator.
var knownTypes = map[Type]bool{
	TypeContentChange:    true,
	TypeComponentAdd:     true,
	TypeComponentMove:    true,
	TypeComponentDelete:  true,
	TypePageCreate:       true,
	TypeNavUpdate:        true,
	TypePresenceUpdate:   true,
	TypeConflictDetected: true,
}

// Event is the envelope broadcast over the realtime channel. Data's shape
// depends on Type and is checked by the per-type sanitizers.
type Event struct {
	ID        string                 `json:"id"`
	Type      Type                   `json:"type"`
	PageName  string                 `json:"pageName"`
	UserID    string                 `json:"userId"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	Data      map[string]interface{} `json:"data"`
}

// New builds an envelope with a fresh ID and the current timestamp.
func New(typ Type, pageName, userID, version string, data map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		PageName:  pageName,
		UserID:    userID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Version:   version,
		Data:      data,
	}
}

// Time parses the envelope timestamp. Returns the zero time if it is malformed;
// validated events always parse.
func (e Event) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
