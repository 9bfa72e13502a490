package changefeed

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

// pgListener is the part of *pq.Listener the notifier uses.
type pgListener interface {
	Listen(channel string) error
	Unlisten(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// PGNotifier carries events over postgres NOTIFY/LISTEN. Every event is
// sent on the table channel and on the game channel. All subscriptions
// share one listener connection, opened on first use.
type PGNotifier struct {
	db          *sql.DB
	newListener func() pgListener

	// listenMu orders LISTEN and UNLISTEN with the channel refcounts
	listenMu sync.Mutex
	listener pgListener
	channels map[string]int

	mu     sync.Mutex
	subs   map[*pgSubscription]struct{}
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewPGNotifier(db *sql.DB, dsn string) *PGNotifier {
	return &PGNotifier{
		db: db,
		newListener: func() pgListener {
			return pq.NewListener(dsn, 10*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
				if err != nil {
					slog.Warn("postgres listener event", "event", ev, "error", err)
				}
			})
		},
		channels: make(map[string]int),
		subs:     make(map[*pgSubscription]struct{}),
		done:     make(chan struct{}),
	}
}

func (n *PGNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, ch := range []string{Scope{Table: ev.Table}.Channel(), Scope{Table: ev.Table, GameID: ev.GameID}.Channel()} {
		if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, ch, string(payload)); err != nil {
			return fmt.Errorf("notify %s: %w", ch, err)
		}
	}
	return nil
}

func (n *PGNotifier) Subscribe(_ context.Context, scope Scope) (Subscription, error) {
	ch := scope.Channel()

	n.listenMu.Lock()
	defer n.listenMu.Unlock()
	if n.isClosed() {
		return nil, ErrClosed
	}

	if n.listener == nil {
		n.listener = n.newListener()
		n.wg.Add(1)
		go n.dispatch(n.listener.NotificationChannel())
	}
	if n.channels[ch] == 0 {
		if err := n.listener.Listen(ch); err != nil {
			return nil, fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	n.channels[ch]++

	s := &pgSubscription{owner: n, scope: scope, out: make(chan Event, subscriberBuffer)}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrClosed
	}
	n.subs[s] = struct{}{}
	return s, nil
}

func (n *PGNotifier) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// dispatch fans notifications from the shared listener out to the
// subscriptions on that channel.
func (n *PGNotifier) dispatch(notes <-chan *pq.Notification) {
	defer n.wg.Done()
	for {
		select {
		case <-n.done:
			return
		case note, ok := <-notes:
			if !ok {
				return
			}
			// nil after a reconnect; missed notifications are not replayed
			if note == nil {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(note.Extra), &ev); err != nil {
				slog.Warn("malformed change payload", "channel", note.Channel, "error", err)
				continue
			}
			n.deliver(note.Channel, ev)
		}
	}
}

func (n *PGNotifier) deliver(channel string, ev Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s := range n.subs {
		// each event arrives on two channels; take it from our own only
		if s.scope.Channel() != channel || !s.scope.Matches(ev) {
			continue
		}
		select {
		case s.out <- ev:
		default:
			slog.Warn("changefeed subscriber lagging, event dropped", "table", ev.Table, "game_id", ev.GameID)
		}
	}
}

func (n *PGNotifier) release(ch string) error {
	n.listenMu.Lock()
	defer n.listenMu.Unlock()
	if n.channels[ch] == 0 {
		return nil
	}
	if n.channels[ch]--; n.channels[ch] > 0 {
		return nil
	}
	delete(n.channels, ch)
	if err := n.listener.Unlisten(ch); err != nil {
		return fmt.Errorf("unlisten %s: %w", ch, err)
	}
	return nil
}

func (n *PGNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.done)
	for s := range n.subs {
		s.closed = true
		close(s.out)
	}
	n.subs = make(map[*pgSubscription]struct{})
	n.mu.Unlock()

	n.listenMu.Lock()
	listener := n.listener
	n.listener = nil
	n.channels = make(map[string]int)
	n.listenMu.Unlock()

	var err error
	if listener != nil {
		err = listener.Close()
	}
	n.wg.Wait()
	return err
}

type pgSubscription struct {
	owner  *PGNotifier
	scope  Scope
	out    chan Event
	closed bool
}

func (s *pgSubscription) Events() <-chan Event { return s.out }

func (s *pgSubscription) Close() error {
	n := s.owner
	n.mu.Lock()
	if s.closed {
		n.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.out)
	delete(n.subs, s)
	n.mu.Unlock()

	return n.release(s.scope.Channel())
}
