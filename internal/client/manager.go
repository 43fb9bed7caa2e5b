package client

import (
	"context"
	"sync"
	"time"

	"ar-frame/internal/models"
)

// ConnState is the subscription's connection lifecycle state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
)

// SyncManager keeps one session's event feed alive. The connection
// lifecycle is an explicit state machine (disconnected, connecting,
// connected, backoff) with capped exponential backoff between attempts.
// Incoming events go through last-write-wins filtering: an event older (by
// updated_at) than the newest already seen for the same object id is
// discarded as stale.
type SyncManager struct {
	client    *Client
	sessionID string

	// OnEvent receives every fresh (non-stale) event. Set before Run.
	OnEvent func(models.ChangeEvent)

	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu      sync.Mutex
	state   ConnState
	backoff time.Duration
	latest  map[string]time.Time
}

func NewSyncManager(c *Client, sessionID string) *SyncManager {
	return &SyncManager{
		client:     c,
		sessionID:  sessionID,
		MinBackoff: defaultMinBackoff,
		MaxBackoff: defaultMaxBackoff,
		latest:     make(map[string]time.Time),
	}
}

// State reports the current connection state.
func (m *SyncManager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run maintains the subscription until the context is cancelled.
func (m *SyncManager) Run(ctx context.Context) {
	defer m.setState(StateDisconnected)
	for ctx.Err() == nil {
		m.setState(StateConnecting)
		stream, err := m.client.StreamEvents(ctx, m.sessionID)
		if err != nil {
			if !m.waitBackoff(ctx) {
				return
			}
			continue
		}
		m.setState(StateConnected)
		m.resetBackoff()
		m.consume(ctx, stream)
		stream.Close()
		if !m.waitBackoff(ctx) {
			return
		}
	}
}

func (m *SyncManager) consume(ctx context.Context, stream *EventStream) {
	for ctx.Err() == nil {
		ev, err := stream.Next()
		if err != nil {
			return
		}
		m.Apply(*ev)
	}
}

// Apply runs the event through last-write-wins filtering and forwards it to
// OnEvent when fresh. Returns whether the event was applied.
func (m *SyncManager) Apply(ev models.ChangeEvent) bool {
	m.mu.Lock()
	if ev.ObjectID != "" {
		if newest, ok := m.latest[ev.ObjectID]; ok && ev.UpdatedAt.Before(newest) {
			m.mu.Unlock()
			return false
		}
		// Deletes leave their timestamp behind as a tombstone so a late
		// update for the same id is still recognized as stale.
		m.latest[ev.ObjectID] = ev.UpdatedAt
	}
	cb := m.OnEvent
	m.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
	return true
}

// NextBackoff returns the delay the next reconnect attempt would use and
// advances the schedule: doubling from MinBackoff, capped at MaxBackoff.
func (m *SyncManager) NextBackoff() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.backoff <= 0 {
		m.backoff = m.MinBackoff
	} else {
		m.backoff *= 2
		if m.backoff > m.MaxBackoff {
			m.backoff = m.MaxBackoff
		}
	}
	return m.backoff
}

func (m *SyncManager) waitBackoff(ctx context.Context) bool {
	m.setState(StateBackoff)
	d := m.NextBackoff()
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (m *SyncManager) resetBackoff() {
	m.mu.Lock()
	m.backoff = 0
	m.mu.Unlock()
}

func (m *SyncManager) setState(s ConnState) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}
