package store

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ar-frame/internal/models"
	"ar-frame/internal/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
}

func (r *recorder) Publish(ev models.ChangeEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) all() []models.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ChangeEvent(nil), r.events...)
}

func newTestStore(t *testing.T) (*Store, *Registry, *storage.FS, *fakeClock, *recorder) {
	t.Helper()
	backend, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	clock := newFakeClock()
	rec := &recorder{}
	reg := NewRegistry(backend)
	reg.SetClock(clock.Now)
	st := New(backend, reg, rec, time.Second)
	st.SetClock(clock.Now)
	return st, reg, backend, clock, rec
}

func pos(x, y, z float64) *[3]float64 {
	p := [3]float64{x, y, z}
	return &p
}

func TestUpsertGeneratesIDAndDefaults(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	obj, err := st.Upsert("s1", models.UpsertInput{Type: "cube", Position: pos(0, 1, -2)})
	require.NoError(t, err)
	require.NotEmpty(t, obj.ID)
	require.Equal(t, models.UnitScale(), obj.Scale)
	require.Equal(t, obj.CreatedAt, obj.UpdatedAt)
}

func TestUpsertDeterminism(t *testing.T) {
	st, reg, _, clock, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	first, err := st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 1, -2)})
	require.NoError(t, err)

	prev := first.UpdatedAt
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		obj, err := st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 1, float64(-3 - i))})
		require.NoError(t, err)
		require.Equal(t, first.CreatedAt, obj.CreatedAt, "created_at must never change after first write")
		require.True(t, obj.UpdatedAt.After(prev), "updated_at must strictly increase")
		prev = obj.UpdatedAt
	}

	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, [3]float64{0, 1, -7}, objs[0].Position)
}

func TestUpdatedAtMonotonicWithFrozenClock(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	a, err := st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)
	// Clock does not advance between the two writes.
	b, err := st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(1, 0, 0)})
	require.NoError(t, err)
	require.True(t, b.UpdatedAt.After(a.UpdatedAt))
}

func TestListOrderPreservation(t *testing.T) {
	st, reg, _, clock, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(time.Millisecond)
		_, err := st.Upsert("s1", models.UpsertInput{ID: fmt.Sprintf("o%d", i), Type: "cube", Position: pos(float64(i), 0, 0)})
		require.NoError(t, err)
	}
	// Updating an early object must not move it.
	clock.Advance(time.Millisecond)
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(99, 0, 0)})
	require.NoError(t, err)

	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Len(t, objs, 5)
	for i, o := range objs {
		require.Equal(t, fmt.Sprintf("o%d", i), o.ID)
	}
}

func TestListTypeFilterAndLimit(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		kind := "cube"
		if i%2 == 1 {
			kind = "sphere"
		}
		_, err := st.Upsert("s1", models.UpsertInput{ID: fmt.Sprintf("o%d", i), Type: kind, Position: pos(0, 0, 0)})
		require.NoError(t, err)
	}

	cubes, err := st.List("s1", "cube", 0)
	require.NoError(t, err)
	require.Len(t, cubes, 2)

	limited, err := st.List("s1", "", 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)

	empty, err := st.List("s1", "model", 0)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestConcurrentUpsertsSerialize(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	st.SetClock(time.Now)
	reg.SetClock(time.Now)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	const k = 16
	var wg sync.WaitGroup
	errs := make([]error, k)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = st.Upsert("s1", models.UpsertInput{
				ID:       fmt.Sprintf("o%02d", i),
				Type:     "cube",
				Position: pos(float64(i), 0, 0),
			})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "writer %d", i)
	}

	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Len(t, objs, k, "no writes lost, none duplicated")
	seen := make(map[string]bool)
	for _, o := range objs {
		require.False(t, seen[o.ID])
		seen[o.ID] = true
	}
}

func TestCrossSessionIsolation(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	st.SetClock(time.Now)
	reg.SetClock(time.Now)
	_, err := reg.Create("a", "")
	require.NoError(t, err)
	_, err = reg.Create("b", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, sid := range []string{"a", "b"} {
		wg.Add(1)
		go func(sid string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, err := st.Upsert(sid, models.UpsertInput{
					ID:       fmt.Sprintf("%s-%d", sid, i),
					Type:     "cube",
					Position: pos(0, 0, 0),
				})
				if err != nil {
					t.Errorf("upsert %s: %v", sid, err)
					return
				}
			}
		}(sid)
	}
	wg.Wait()

	for _, sid := range []string{"a", "b"} {
		objs, err := st.List(sid, "", 0)
		require.NoError(t, err)
		require.Len(t, objs, 10)
		for _, o := range objs {
			require.Equal(t, sid, o.ID[:1], "object leaked across sessions")
		}
	}
}

func TestDeleteIdempotence(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 1, -2)})
	require.NoError(t, err)

	removed, err := st.Delete("s1", "o1")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = st.Delete("s1", "o1")
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = st.Delete("s1", "never-existed")
	require.NoError(t, err)
	require.False(t, removed)
}

func TestClearSemantics(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := st.Upsert("s1", models.UpsertInput{ID: fmt.Sprintf("o%d", i), Type: "cube", Position: pos(0, 0, 0)})
		require.NoError(t, err)
	}

	count, err := st.Clear("s1")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Empty(t, objs)

	count, err = st.Clear("s1")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestValidationRejectsBeforeStorage(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	_, err = st.Upsert("s1", models.UpsertInput{ID: "keep", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)

	cases := []models.UpsertInput{
		{Position: pos(0, 0, 0)},                                           // missing type
		{Type: "cube"},                                                     // missing position
		{Type: "cube", Position: pos(math.NaN(), 0, 0)},                    // non-finite position
		{Type: "cube", Position: pos(0, 0, 0), Rotation: &[4]float64{math.Inf(1), 0, 0, 1}},
	}
	for _, in := range cases {
		_, err := st.Upsert("s1", in)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	}

	// Prior state untouched.
	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Len(t, objs, 1)
}

func TestCorruptStoreSurfacedNotReset(t *testing.T) {
	st, reg, backend, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)

	require.NoError(t, backend.WriteObjects("s1", []byte("{not json")))

	_, err = st.List("s1", "", 0)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "s1", ce.SessionID)

	_, err = st.Upsert("s1", models.UpsertInput{ID: "o2", Type: "cube", Position: pos(0, 0, 0)})
	require.ErrorAs(t, err, &ce)

	// The corrupt bytes must still be there, not zeroed.
	raw, err := backend.ReadObjects("s1")
	require.NoError(t, err)
	require.Equal(t, "{not json", string(raw))
}

func TestStats(t *testing.T) {
	st, reg, _, clock, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o2", Type: "sphere", Position: pos(0, 0, 0)})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o3", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)

	stats, err := st.Stats("s1")
	require.NoError(t, err)
	require.Equal(t, 3, stats.Count)
	require.Equal(t, map[string]int{"cube": 2, "sphere": 1}, stats.TypeHistogram)
	require.NotNil(t, stats.Oldest)
	require.NotNil(t, stats.Newest)
	require.True(t, stats.Oldest.Before(*stats.Newest))
	require.Positive(t, stats.ByteSize)
}

func TestEventsPublished(t *testing.T) {
	st, reg, _, clock, rec := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	obj, err := st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(1, 0, 0)})
	require.NoError(t, err)
	_, err = st.Delete("s1", "o1")
	require.NoError(t, err)

	events := rec.all()
	require.Len(t, events, 3)
	require.Equal(t, models.EventCreated, events[0].Type)
	require.Equal(t, models.EventUpdated, events[1].Type)
	require.Equal(t, models.EventDeleted, events[2].Type)
	require.Equal(t, obj.UpdatedAt, events[0].UpdatedAt)
	require.True(t, events[1].UpdatedAt.After(events[0].UpdatedAt))
	require.Nil(t, events[2].Object, "delete carries id only")
	require.Equal(t, "o1", events[2].ObjectID)
}

func TestMissingSessionIsNotFound(t *testing.T) {
	st, _, _, _, _ := newTestStore(t)

	_, err := st.List("ghost", "", 0)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = st.Upsert("ghost", models.UpsertInput{Type: "cube", Position: pos(0, 0, 0)})
	require.ErrorIs(t, err, ErrNotFound)
}

// metaFailBackend fails WriteMeta on demand to drive touch failures.
type metaFailBackend struct {
	storage.Backend
	fail bool
}

func (b *metaFailBackend) WriteMeta(sessionID string, data []byte) error {
	if b.fail {
		return errors.New("meta write failed")
	}
	return b.Backend.WriteMeta(sessionID, data)
}

func TestMutationFailsBeforeCommitNotAfter(t *testing.T) {
	fsb, err := storage.NewFS(t.TempDir())
	require.NoError(t, err)
	backend := &metaFailBackend{Backend: fsb}
	rec := &recorder{}
	reg := NewRegistry(backend)
	st := New(backend, reg, rec, time.Second)

	_, err = reg.Create("s1", "")
	require.NoError(t, err)

	backend.fail = true
	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.Error(t, err)

	// The touch failure aborted before the objects write: nothing was
	// committed, so nothing may be published either. A write that does
	// commit must never be reported as failed.
	backend.fail = false
	objs, err := st.List("s1", "", 0)
	require.NoError(t, err)
	require.Empty(t, objs)
	require.Empty(t, rec.all())

	_, err = st.Upsert("s1", models.UpsertInput{ID: "o1", Type: "cube", Position: pos(0, 0, 0)})
	require.NoError(t, err)
	require.Len(t, rec.all(), 1)
}

func TestSessionLockStableAcrossDeleteRecreate(t *testing.T) {
	st, reg, _, _, _ := newTestStore(t)
	_, err := reg.Create("s1", "")
	require.NoError(t, err)

	before := st.locks.get("s1")
	_, err = st.DeleteSession("s1")
	require.NoError(t, err)
	_, err = reg.Create("s1", "")
	require.NoError(t, err)

	// One lock identity per session id, even across delete and recreate:
	// a waiter queued on the old channel must still exclude new mutators.
	require.True(t, before == st.locks.get("s1"), "lock identity changed across delete/recreate")
}

func TestLockAcquireTimeout(t *testing.T) {
	locks := newLockTable()
	release, err := locks.acquire("s1", 50*time.Millisecond)
	require.NoError(t, err)

	_, err = locks.acquire("s1", 30*time.Millisecond)
	require.ErrorIs(t, err, ErrLockTimeout)

	// A different session never contends.
	release2, err := locks.acquire("s2", 30*time.Millisecond)
	require.NoError(t, err)
	release2()

	release()
	release3, err := locks.acquire("s1", 30*time.Millisecond)
	require.NoError(t, err)
	release3()
}
