package models

import "time"

// Session is a logical AR workspace identified by an opaque id. It owns the
// objects placed in it; deleting the session deletes them.
type Session struct {
	ID             string    `json:"id"`
	Name           string    `json:"name,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	Session
	DisplayName string `json:"display_name"`
	ObjectCount int    `json:"object_count"`
}

// ARObject is a persisted record of a virtual object's pose and metadata
// within a session. Timestamps are owned by the store and never taken from
// client input.
type ARObject struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Position  [3]float64     `json:"position"`
	Rotation  *[4]float64    `json:"rotation,omitempty"`
	Scale     [3]float64     `json:"scale"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// UpsertInput is the client payload for create-or-replace by id. A nil
// Position is rejected; a nil Scale defaults to unit scale.
type UpsertInput struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Position *[3]float64    `json:"position"`
	Rotation *[4]float64    `json:"rotation"`
	Scale    *[3]float64    `json:"scale"`
	Metadata map[string]any `json:"metadata"`
}

// UnitScale is the default scale applied when a payload omits one.
func UnitScale() [3]float64 { return [3]float64{1, 1, 1} }

type EventType string

const (
	EventCreated EventType = "created"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
)

// ChangeEvent describes one committed mutation. Events are ephemeral; they
// exist only for broadcast delivery and are never persisted. UpdatedAt is
// the object's post-write timestamp, which subscribers compare to discard
// stale events for the same object id (last-write-wins).
type ChangeEvent struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"event_type"`
	ObjectID  string    `json:"object_id"`
	Object    *ARObject `json:"object,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionStats is a derived read-only view, recomputed on demand.
type SessionStats struct {
	Count         int            `json:"count"`
	TypeHistogram map[string]int `json:"type_histogram"`
	Oldest        *time.Time     `json:"oldest,omitempty"`
	Newest        *time.Time     `json:"newest,omitempty"`
	ByteSize      int            `json:"byte_size"`
}
