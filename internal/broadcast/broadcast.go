// Package broadcast fans committed mutations out to live subscribers of a
// session. Delivery is best-effort: each subscriber has a bounded buffer
// with a drop-oldest overflow policy, so a slow consumer never blocks the
// publisher or its peers. Events are not replayed; a subscriber sees only
// what is published after it subscribes.
package broadcast

import (
	"sync"

	"ar-frame/internal/models"
)

const DefaultBufferSize = 64

type Hub struct {
	mu     sync.RWMutex
	buffer int
	subs   map[string]map[*Subscription]struct{}
	closed bool
}

// Subscription is one live listener on a session's event stream.
type Subscription struct {
	hub       *Hub
	sessionID string
	ch        chan models.ChangeEvent
	dropped   int
	closed    bool
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new independent listener for the session. Multiple
// subscribers each receive every event (broadcast, not consume-once).
func (h *Hub) Subscribe(sessionID string) *Subscription {
	sub := &Subscription{
		hub:       h,
		sessionID: sessionID,
		ch:        make(chan models.ChangeEvent, h.buffer),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
	return sub
}

// Publish delivers the event to every live subscriber of its session
// without blocking. When a subscriber's buffer is full, its oldest pending
// event is dropped to make room; the subscriber recovers by re-listing.
// Publishes are serialized so all subscribers observe the same order.
func (h *Hub) Publish(ev models.ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[ev.SessionID] {
		select {
		case sub.ch <- ev:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
			sub.dropped++
		}
	}
}

// SubscriberCount reports the live subscribers of a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sessionID])
}

// Close terminates every subscription. Further publishes are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, set := range h.subs {
		for sub := range set {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
	}
	h.subs = make(map[string]map[*Subscription]struct{})
}

// Events yields the subscription's ordered event stream. The channel closes
// when the subscription or the hub closes.
func (s *Subscription) Events() <-chan models.ChangeEvent { return s.ch }

// Dropped reports how many events were discarded due to buffer overflow.
func (s *Subscription) Dropped() int {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.dropped
}

// Close detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if set, ok := s.hub.subs[s.sessionID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.sessionID)
		}
	}
	close(s.ch)
}
