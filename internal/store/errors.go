package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a session or object that does not exist where
	// existence was required. Never silently treated as empty.
	ErrNotFound = errors.New("not found")

	// ErrLockTimeout marks a per-session lock wait that exceeded the
	// configured bound. The operation failed without touching storage.
	ErrLockTimeout = errors.New("session lock wait timed out")
)

// ValidationError rejects a malformed payload before any storage mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CorruptionError marks unreadable backing data. The stored bytes are left
// untouched for operator recovery; the store never resets them to empty.
type CorruptionError struct {
	SessionID string
	Err       error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("session %q: stored data corrupt: %v", e.SessionID, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }
