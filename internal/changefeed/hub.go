package changefeed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var ErrClosed = errors.New("changefeed: notifier closed")

// Hub is an in-process Notifier. It serves single-instance deployments
// and tests.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*hubSubscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*hubSubscription]struct{})}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs {
		if s.scope.Matches(ev) {
			s.deliver(ev)
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, scope Scope) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSubscription{hub: h, scope: scope, ch: make(chan Event, subscriberBuffer)}
	h.subs[s] = struct{}{}
	return s, nil
}

// Close ends every open subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for s := range h.subs {
		s.shut()
		delete(h.subs, s)
	}
	return nil
}

type hubSubscription struct {
	hub   *Hub
	scope Scope

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func (s *hubSubscription) Events() <-chan Event { return s.ch }

func (s *hubSubscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		slog.Warn("changefeed subscriber lagging, event dropped", "table", ev.Table, "game_id", ev.GameID)
	}
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	delete(s.hub.subs, s)
	s.hub.mu.Unlock()
	s.shut()
	return nil
}

func (s *hubSubscription) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
