package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"ar-frame/internal/models"
	"ar-frame/internal/storage"
)

const maxSessionIDLen = 64

// Registry maps session ids to their backing storage and tracks liveness.
// It is an injected dependency, not a package-level singleton, so tests can
// run isolated instances. The metadata map may be read concurrently;
// create/delete serialize on the registry's own lock, independent of the
// per-session object locks.
type Registry struct {
	mu       sync.RWMutex
	createMu sync.Mutex
	backend  storage.Backend
	sessions map[string]models.Session

	now   func() time.Time
	newID func() string
}

func NewRegistry(backend storage.Backend) *Registry {
	return &Registry{
		backend:  backend,
		sessions: make(map[string]models.Session),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock replaces the registry's time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Load populates the live session map from the backend, recovering sessions
// that survive a restart. Corrupt metadata fails the load; it is never
// silently dropped.
func (r *Registry) Load() error {
	ids, err := r.backend.List()
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	for _, id := range ids {
		sess, err := r.readMeta(id)
		if err != nil {
			return err
		}
		r.mu.Lock()
		r.sessions[id] = *sess
		r.mu.Unlock()
	}
	return nil
}

// Create registers a session. A requested id that already exists returns
// the existing session unchanged (idempotent create, objects preserved);
// an empty requested id gets a generated one. The session's backing
// documents are created on first registration.
func (r *Registry) Create(requestedID, name string) (*models.Session, error) {
	if requestedID != "" {
		if err := validateSessionID(requestedID); err != nil {
			return nil, err
		}
	}

	// The exists-check and the backing writes must be one atomic step: two
	// concurrent creates of the same id would otherwise both see "missing"
	// and the loser would reset the objects document of a session that is
	// already in use.
	r.createMu.Lock()
	defer r.createMu.Unlock()

	if requestedID != "" {
		if existing, err := r.Get(requestedID); err == nil {
			if terr := r.Touch(requestedID); terr != nil {
				return nil, terr
			}
			return existing, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	id := requestedID
	if id == "" {
		id = r.newID()
	}
	now := r.now().UTC()
	sess := models.Session{ID: id, Name: name, CreatedAt: now, LastAccessedAt: now}

	if err := r.writeMeta(&sess); err != nil {
		return nil, err
	}
	if err := r.backend.WriteObjects(id, []byte("[]")); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return &sess, nil
}

// Get returns the session or ErrNotFound if it has never been created and
// has no backing storage.
func (r *Registry) Get(id string) (*models.Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return &sess, nil
	}
	loaded, err := r.readMeta(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[id] = *loaded
	r.mu.Unlock()
	return loaded, nil
}

// Touch bumps last_accessed_at to now and writes the metadata through.
// Called on every object store operation.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		loaded, err := r.readMeta(id)
		if err != nil {
			return err
		}
		sess = *loaded
	}
	sess.LastAccessedAt = r.now().UTC()
	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()
	return r.writeMeta(&sess)
}

// List returns a snapshot of all live sessions.
func (r *Registry) List() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Expired returns the live sessions whose last access is before the cutoff.
func (r *Registry) Expired(cutoff time.Time) []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.Session
	for _, s := range r.sessions {
		if s.LastAccessedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// remove forgets the in-memory entry. Backing storage disposal is the
// Store's job (it holds the session lock while doing it).
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) readMeta(id string) (*models.Session, error) {
	raw, err := r.backend.ReadMeta(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, &CorruptionError{SessionID: id, Err: err}
	}
	if sess.ID == "" {
		sess.ID = id
	}
	return &sess, nil
}

func (r *Registry) writeMeta(sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return r.backend.WriteMeta(sess.ID, raw)
}

// Session ids become storage keys (directory names, primary keys), so only
// URL-safe characters are accepted from clients.
func validateSessionID(id string) error {
	if len(id) > maxSessionIDLen {
		return &ValidationError{Field: "session_id", Reason: "too long"}
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return &ValidationError{Field: "session_id", Reason: "must contain only letters, digits, '-' or '_'"}
		}
	}
	return nil
}
