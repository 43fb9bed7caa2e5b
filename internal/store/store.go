// Package store implements the session object store: registry, per-session
// locking, and CRUD over AR objects with atomic read-mutate-write cycles
// against a whole-value storage backend.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"ar-frame/internal/models"
	"ar-frame/internal/storage"
)

// Notifier receives one event per committed mutation. Delivery must not
// block the store.
type Notifier interface {
	Publish(ev models.ChangeEvent)
}

// Store performs durable, session-scoped CRUD over AR objects. Every
// mutation holds the session's exclusive lock for its full
// read-mutate-write cycle, so mutations within one session serialize in
// lock order while different sessions proceed in parallel. Once the lock is
// held the cycle runs to completion; caller cancellation cannot leave a
// partial write.
type Store struct {
	backend  storage.Backend
	reg      *Registry
	locks    *lockTable
	notifier Notifier
	lockWait time.Duration

	now   func() time.Time
	newID func() string
}

// New wires a Store over the backend shared with reg. notifier may be nil.
// lockWait bounds the wait for a session lock; <= 0 waits forever.
func New(backend storage.Backend, reg *Registry, notifier Notifier, lockWait time.Duration) *Store {
	return &Store{
		backend:  backend,
		reg:      reg,
		locks:    newLockTable(),
		notifier: notifier,
		lockWait: lockWait,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetClock replaces the store's time source. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// SetIDGenerator replaces the object id generator. Test hook.
func (s *Store) SetIDGenerator(gen func() string) { s.newID = gen }

// List returns the session's objects in first-insertion order. typeFilter
// narrows by object type; limit > 0 truncates. An empty session yields an
// empty slice, a missing session ErrNotFound.
func (s *Store) List(sessionID, typeFilter string, limit int) ([]models.ARObject, error) {
	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.reg.Touch(sessionID); err != nil {
		return nil, err
	}
	out := make([]models.ARObject, 0, len(objs))
	for _, o := range objs {
		if typeFilter != "" && o.Type != typeFilter {
			continue
		}
		out = append(out, o)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Get returns one object by id, or ErrNotFound.
func (s *Store) Get(sessionID, objectID string) (*models.ARObject, error) {
	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.reg.Touch(sessionID); err != nil {
		return nil, err
	}
	for i := range objs {
		if objs[i].ID == objectID {
			return &objs[i], nil
		}
	}
	return nil, fmt.Errorf("object %q: %w", objectID, ErrNotFound)
}

// Upsert creates or replaces an object by id. An existing id keeps its
// created_at and position in the list and gets a strictly newer updated_at;
// a new id (generated when absent) appends. Validation failures reject the
// payload before storage is touched.
func (s *Store) Upsert(sessionID string, in models.UpsertInput) (*models.ARObject, error) {
	if err := validateInput(&in); err != nil {
		return nil, err
	}
	release, err := s.locks.acquire(sessionID, s.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return nil, err
	}
	// Touch before the commit: once the objects write lands, the operation
	// must report success and publish its event.
	if err := s.reg.Touch(sessionID); err != nil {
		return nil, err
	}

	id := in.ID
	if id == "" {
		id = s.newID()
	}
	now := s.now().UTC()

	idx := -1
	for i := range objs {
		if objs[i].ID == id {
			idx = i
			break
		}
	}

	obj := models.ARObject{
		ID:       id,
		Type:     in.Type,
		Position: *in.Position,
		Rotation: in.Rotation,
		Scale:    models.UnitScale(),
		Metadata: in.Metadata,
	}
	if in.Scale != nil {
		obj.Scale = *in.Scale
	}

	evType := models.EventCreated
	if idx >= 0 {
		prev := objs[idx]
		// updated_at must strictly increase for last-write-wins ordering,
		// even when the clock has not advanced between two writes.
		if !now.After(prev.UpdatedAt) {
			now = prev.UpdatedAt.Add(time.Microsecond)
		}
		obj.CreatedAt = prev.CreatedAt
		obj.UpdatedAt = now
		objs[idx] = obj
		evType = models.EventUpdated
	} else {
		obj.CreatedAt = now
		obj.UpdatedAt = now
		objs = append(objs, obj)
	}

	if err := s.writeObjects(sessionID, objs); err != nil {
		return nil, err
	}
	s.publish(models.ChangeEvent{
		SessionID: sessionID,
		Type:      evType,
		ObjectID:  obj.ID,
		Object:    &obj,
		UpdatedAt: obj.UpdatedAt,
	})
	return &obj, nil
}

// Delete removes one object. The bool reports whether a removal occurred;
// a missing object is not an error.
func (s *Store) Delete(sessionID, objectID string) (bool, error) {
	release, err := s.locks.acquire(sessionID, s.lockWait)
	if err != nil {
		return false, err
	}
	defer release()

	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return false, err
	}
	if err := s.reg.Touch(sessionID); err != nil {
		return false, err
	}
	idx := -1
	for i := range objs {
		if objs[i].ID == objectID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}
	objs = append(objs[:idx], objs[idx+1:]...)
	if err := s.writeObjects(sessionID, objs); err != nil {
		return false, err
	}
	s.publish(models.ChangeEvent{
		SessionID: sessionID,
		Type:      models.EventDeleted,
		ObjectID:  objectID,
		UpdatedAt: s.now().UTC(),
	})
	return true, nil
}

// Clear removes every object in the session and returns how many.
func (s *Store) Clear(sessionID string) (int, error) {
	release, err := s.locks.acquire(sessionID, s.lockWait)
	if err != nil {
		return 0, err
	}
	defer release()

	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return 0, err
	}
	if err := s.reg.Touch(sessionID); err != nil {
		return 0, err
	}
	if err := s.writeObjects(sessionID, nil); err != nil {
		return 0, err
	}
	now := s.now().UTC()
	for _, o := range objs {
		s.publish(models.ChangeEvent{
			SessionID: sessionID,
			Type:      models.EventDeleted,
			ObjectID:  o.ID,
			UpdatedAt: now,
		})
	}
	return len(objs), nil
}

// Stats recomputes the derived view on every call; nothing is cached.
func (s *Store) Stats(sessionID string) (*models.SessionStats, error) {
	objs, byteSize, err := s.readObjects(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.reg.Touch(sessionID); err != nil {
		return nil, err
	}
	stats := &models.SessionStats{
		Count:         len(objs),
		TypeHistogram: make(map[string]int),
		ByteSize:      byteSize,
	}
	for i := range objs {
		stats.TypeHistogram[objs[i].Type]++
		created := objs[i].CreatedAt
		if stats.Oldest == nil || created.Before(*stats.Oldest) {
			c := created
			stats.Oldest = &c
		}
		if stats.Newest == nil || created.After(*stats.Newest) {
			c := created
			stats.Newest = &c
		}
	}
	return stats, nil
}

// Count returns the number of objects without touching the session. Used
// for listing summaries.
func (s *Store) Count(sessionID string) (int, error) {
	objs, _, err := s.readObjects(sessionID)
	if err != nil {
		return 0, err
	}
	return len(objs), nil
}

// DeleteSession removes the session and all its objects, returning the
// object count removed. Deleting a missing session is a no-op reporting
// zero. Holds the session lock so an in-flight mutation completes first.
func (s *Store) DeleteSession(sessionID string) (int, error) {
	release, err := s.locks.acquire(sessionID, s.lockWait)
	if err != nil {
		return 0, err
	}
	defer release()

	count := 0
	objs, _, err := s.readObjects(sessionID)
	switch {
	case err == nil:
		count = len(objs)
	case errors.Is(err, ErrNotFound):
		// fall through to the idempotent backend delete
	default:
		var corrupt *CorruptionError
		if !errors.As(err, &corrupt) {
			return 0, err
		}
		// Corrupt sessions may still be deleted; the count is unknowable.
	}
	if err := s.backend.Delete(sessionID); err != nil {
		return 0, err
	}
	s.reg.remove(sessionID)
	return count, nil
}

// ArchiveSession moves the session's data out of the live set and forgets
// it, under the same lock mutations take. Used by the retention sweeper.
// A session whose stored data is unreadable is left live for operator
// recovery and the CorruptionError is returned.
func (s *Store) ArchiveSession(sessionID string) error {
	release, err := s.locks.acquire(sessionID, s.lockWait)
	if err != nil {
		return err
	}
	defer release()

	if _, _, err := s.readObjects(sessionID); err != nil {
		return err
	}
	if err := s.backend.Archive(sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
		}
		return err
	}
	s.reg.remove(sessionID)
	return nil
}

func (s *Store) readObjects(sessionID string) ([]models.ARObject, int, error) {
	raw, err := s.backend.ReadObjects(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, fmt.Errorf("session %q: %w", sessionID, ErrNotFound)
		}
		return nil, 0, err
	}
	var objs []models.ARObject
	if err := json.Unmarshal(raw, &objs); err != nil {
		return nil, 0, &CorruptionError{SessionID: sessionID, Err: err}
	}
	return objs, len(raw), nil
}

func (s *Store) writeObjects(sessionID string, objs []models.ARObject) error {
	if objs == nil {
		objs = []models.ARObject{}
	}
	raw, err := json.Marshal(objs)
	if err != nil {
		return err
	}
	return s.backend.WriteObjects(sessionID, raw)
}

func (s *Store) publish(ev models.ChangeEvent) {
	if s.notifier == nil {
		return
	}
	ev.Timestamp = s.now().UTC()
	s.notifier.Publish(ev)
}

func validateInput(in *models.UpsertInput) error {
	if in.Type == "" {
		return &ValidationError{Field: "type", Reason: "required"}
	}
	if in.Position == nil {
		return &ValidationError{Field: "position", Reason: "required"}
	}
	for _, v := range in.Position {
		if !finite(v) {
			return &ValidationError{Field: "position", Reason: "components must be finite numbers"}
		}
	}
	if in.Rotation != nil {
		for _, v := range in.Rotation {
			if !finite(v) {
				return &ValidationError{Field: "rotation", Reason: "components must be finite numbers"}
			}
		}
	}
	if in.Scale != nil {
		for _, v := range in.Scale {
			if !finite(v) {
				return &ValidationError{Field: "scale", Reason: "components must be finite numbers"}
			}
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
