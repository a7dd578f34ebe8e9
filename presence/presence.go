// Package presence tracks which users are online on a page and what they are
// editing, over the realtime transport plus the broker's native presence
// primitives. Both paths converge to one last-write-wins state map per page.
package presence

import (
	"time"
)

// Action is what a present user is currently doing.
type Action string

const (
	ActionEditing Action = "editing"
	ActionIdle    Action = "idle"
)

// Presence is one live record per online user per page. It is overwritten on
// every update, never appended.
type Presence struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	Avatar      string    `json:"avatar,omitempty"`
	ComponentID string    `json:"componentId,omitempty"`
	Action      Action    `json:"action"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Kind describes a presence transition observed by the tracker.
type Kind string

const (
	KindJoined  Kind = "joined"
	KindUpdated Kind = "updated"
	KindLeft    Kind = "left"
)

// Notification is delivered to tracker subscribers on presence transitions.
type Notification struct {
	Kind     Kind
	PageName string
	Presence Presence
}

// Config holds presence timing tunables.
type Config struct {
	HeartbeatInterval time.Duration
	CleanupInterval   time.Duration
	PresenceTimeout   time.Duration
}

// DefaultConfig returns the default presence timings.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		CleanupInterval:   60 * time.Second,
		PresenceTimeout:   120 * time.Second,
	}
}
