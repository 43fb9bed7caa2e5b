// Package sweeper bounds storage growth by archiving sessions that have
// been inactive beyond a threshold.
package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"ar-frame/internal/logging"
	"ar-frame/internal/store"
)

// Sweeper archives idle sessions on a recurring timer. Sweeps are
// single-flight; archival of each session takes the same per-session lock
// mutations take, so a sweep never interferes with an in-flight write.
// A failure on one session is logged and skipped, never aborting the rest
// of the sweep.
type Sweeper struct {
	reg      *store.Registry
	st       *store.Store
	log      *logging.Logger
	interval time.Duration
	maxIdle  time.Duration

	running atomic.Bool
	now     func() time.Time
}

func New(reg *store.Registry, st *store.Store, log *logging.Logger, interval, maxIdle time.Duration) *Sweeper {
	return &Sweeper{
		reg:      reg,
		st:       st,
		log:      log,
		interval: interval,
		maxIdle:  maxIdle,
		now:      time.Now,
	}
}

// SetClock replaces the sweeper's time source. Test hook.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// Run sweeps on a ticker until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce archives every session idle past the threshold and returns how
// many were archived. A sweep already in progress makes this a no-op.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		return 0
	}
	defer s.running.Store(false)

	cutoff := s.now().UTC().Add(-s.maxIdle)
	archived := 0
	for _, sess := range s.reg.Expired(cutoff) {
		if ctx.Err() != nil {
			break
		}
		if err := s.st.ArchiveSession(sess.ID); err != nil {
			s.log.Warnf("archiving session %s failed, skipping: %v", sess.ID, err)
			continue
		}
		archived++
		s.log.Infof("archived idle session %s (last access %s)", sess.ID, sess.LastAccessedAt.Format(time.RFC3339))
	}
	return archived
}
