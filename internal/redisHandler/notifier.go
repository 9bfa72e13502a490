package redishandler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/saxenaaman628/balance-game/internal/changefeed"
)

// Notifier carries change events over redis PUBLISH/SUBSCRIBE so every
// server instance sees every write.
type Notifier struct {
	rdb *redis.Client

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb, subs: make(map[*subscription]struct{})}
}

// Publish sends ev on both the table channel and the game channel in one
// round trip.
func (n *Notifier) Publish(ctx context.Context, ev changefeed.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := n.rdb.Pipeline()
	pipe.Publish(ctx, changefeed.Scope{Table: ev.Table}.Channel(), payload)
	pipe.Publish(ctx, changefeed.Scope{Table: ev.Table, GameID: ev.GameID}.Channel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe returns once redis has confirmed the subscription, so a
// publish issued afterwards is never missed.
func (n *Notifier) Subscribe(ctx context.Context, scope changefeed.Scope) (changefeed.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, changefeed.ErrClosed
	}

	ps := n.rdb.Subscribe(ctx, scope.Channel())
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", scope.Channel(), err)
	}

	s := &subscription{
		owner: n,
		ps:    ps,
		out:   make(chan changefeed.Event, 64),
		done:  make(chan struct{}),
	}
	n.subs[s] = struct{}{}
	s.wg.Add(1)
	go s.loop(scope)
	return s, nil
}

func (n *Notifier) Close() error {
	n.mu.Lock()
	n.closed = true
	subs := make([]*subscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type subscription struct {
	owner *Notifier
	ps    *redis.PubSub
	out   chan changefeed.Event
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func (s *subscription) Events() <-chan changefeed.Event { return s.out }

func (s *subscription) loop(scope changefeed.Scope) {
	defer s.wg.Done()
	defer close(s.out)

	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			var ev changefeed.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("malformed change payload", "channel", msg.Channel, "error", err)
				continue
			}
			if !scope.Matches(ev) {
				continue
			}
			select {
			case s.out <- ev:
			case <-s.done:
				return
			default:
				slog.Warn("changefeed subscriber lagging, event dropped", "table", ev.Table, "game_id", ev.GameID)
			}
		}
	}
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()

		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
	return err
}
