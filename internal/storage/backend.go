// Package storage provides the durable backend for session data. A backend
// is a key-value capability keyed by session id, holding two whole-value
// documents per session: the serialized object collection and the session
// metadata. Writes replace the whole value atomically.
package storage

import "errors"

// ErrNotFound is returned when a session has no backing storage.
var ErrNotFound = errors.New("no backing storage for session")

// Backend stores one objects document and one metadata document per live
// session. WriteObjects and WriteMeta must be atomic whole-value replaces:
// a crash mid-write never leaves a truncated or mixed document.
type Backend interface {
	// ReadObjects returns the serialized object collection, or ErrNotFound.
	ReadObjects(sessionID string) ([]byte, error)
	WriteObjects(sessionID string, data []byte) error

	// ReadMeta returns the serialized session metadata, or ErrNotFound.
	ReadMeta(sessionID string) ([]byte, error)
	WriteMeta(sessionID string, data []byte) error

	// List returns the ids of all live (non-archived) sessions.
	List() ([]string, error)

	// Archive moves the session out of the live set without destroying its
	// data. Returns ErrNotFound if the session is not live.
	Archive(sessionID string) error

	// Delete removes the session and its documents. Idempotent.
	Delete(sessionID string) error

	Close() error
}
