// Package reconcile keeps displayed tallies in step with the change feed.
//
// A View subscribes to vote changes for one game or for all games. Each
// change re-reads the game's tally and merges it into the displayed
// record, leaving every other field alone. Reads may overlap; each one
// takes a sequence number when it starts and a result older than what is
// already displayed is discarded.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/models"
)

var (
	ErrStarted = errors.New("reconcile: view already started")
	ErrStopped = errors.New("reconcile: view stopped")
)

type State int32

const (
	Unsubscribed State = iota
	Subscribing
	Subscribed
	Reconciling
)

func (s State) String() string {
	switch s {
	case Subscribing:
		return "subscribing"
	case Subscribed:
		return "subscribed"
	case Reconciling:
		return "reconciling"
	}
	return "unsubscribed"
}

type Tallier interface {
	GetTally(ctx context.Context, gameID string) models.Tally
}

type Option func(*View)

// OnReconcile is called once for every merged tally. Callbacks must not
// call Stop.
func OnReconcile(fn func(gameID string, t models.Tally)) Option {
	return func(v *View) { v.onReconcile = fn }
}

// OnChange is called for events on tables other than votes.
func OnChange(fn func(ev changefeed.Event)) Option {
	return func(v *View) { v.onChange = fn }
}

type record struct {
	game    models.GameWithStats
	version uint64
}

type View struct {
	sub     changefeed.Subscriber
	tallier Tallier

	onReconcile func(string, models.Tally)
	onChange    func(changefeed.Event)

	mu       sync.Mutex
	state    State
	stopped  bool
	inflight int
	records  map[string]*record
	// untracked games keep a record only while reads are in flight
	untracked map[string]*record
	pending   map[string]int
	feed      changefeed.Subscription
	cancel    context.CancelFunc
	loopDone  chan struct{}

	// held for reading while a callback runs; Stop takes it to wait them out
	cbMu sync.RWMutex
	seq  atomic.Uint64
}

func New(sub changefeed.Subscriber, tallier Tallier, opts ...Option) *View {
	v := &View{
		sub:       sub,
		tallier:   tallier,
		records:   make(map[string]*record),
		untracked: make(map[string]*record),
		pending:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Track adds games to the displayed set, replacing earlier copies.
func (v *View) Track(games ...models.GameWithStats) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, g := range games {
		v.records[g.ID] = &record{game: g, version: v.seq.Load()}
	}
}

// Snapshot returns the displayed record of a game.
func (v *View) Snapshot(gameID string) (models.GameWithStats, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.records[gameID]
	if !ok {
		return models.GameWithStats{}, false
	}
	return rec.game, true
}

// Start subscribes to scope and begins reconciling. A view starts once.
func (v *View) Start(ctx context.Context, scope changefeed.Scope) error {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return ErrStopped
	}
	if v.state != Unsubscribed {
		v.mu.Unlock()
		return ErrStarted
	}
	v.state = Subscribing
	v.mu.Unlock()

	feed, err := v.sub.Subscribe(ctx, scope)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.state = Unsubscribed
		return err
	}
	if v.stopped {
		feed.Close()
		return ErrStopped
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	v.feed = feed
	v.cancel = cancel
	v.loopDone = make(chan struct{})
	v.state = Subscribed
	go v.loop(loopCtx, feed, v.loopDone)
	return nil
}

func (v *View) loop(ctx context.Context, feed changefeed.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range feed.Events() {
		if ev.Table != changefeed.TableVotes {
			v.emit(func() {
				if v.onChange != nil {
					v.onChange(ev)
				}
			})
			continue
		}
		go v.Reconcile(ctx, ev.GameID)
	}
}

// Reconcile re-reads a game's tally and merges it into the displayed
// record. It reports whether the result was merged; results that arrive
// after a newer read, or after Stop, are dropped.
func (v *View) Reconcile(ctx context.Context, gameID string) (models.Tally, bool) {
	v.mu.Lock()
	if v.state != Subscribed && v.state != Reconciling {
		v.mu.Unlock()
		return models.Tally{}, false
	}
	v.inflight++
	v.pending[gameID]++
	v.state = Reconciling
	v.mu.Unlock()

	seq := v.seq.Add(1)
	tally := v.tallier.GetTally(ctx, gameID)

	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return tally, false
	}
	v.inflight--
	if v.inflight == 0 {
		v.state = Subscribed
	}
	rec, ok := v.records[gameID]
	if !ok {
		if rec, ok = v.untracked[gameID]; !ok {
			rec = &record{game: models.GameWithStats{Game: models.Game{ID: gameID}}}
			v.untracked[gameID] = rec
		}
	}
	if v.pending[gameID]--; v.pending[gameID] == 0 {
		delete(v.pending, gameID)
		delete(v.untracked, gameID)
	}
	if seq < rec.version {
		current := rec.game.Tally
		v.mu.Unlock()
		return current, false
	}
	rec.game.Tally = tally
	rec.version = seq
	v.mu.Unlock()

	v.emit(func() {
		if v.onReconcile != nil {
			v.onReconcile(gameID, tally)
		}
	})
	return tally, true
}

func (v *View) emit(fn func()) {
	v.cbMu.RLock()
	defer v.cbMu.RUnlock()
	v.mu.Lock()
	stopped := v.stopped
	v.mu.Unlock()
	if !stopped {
		fn()
	}
}

// Stop closes the subscription. No callback runs once Stop returns, and
// reads still in flight are discarded when they finish.
func (v *View) Stop() error {
	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return nil
	}
	v.stopped = true
	v.state = Unsubscribed
	feed, cancel, done := v.feed, v.cancel, v.loopDone
	v.feed = nil
	v.mu.Unlock()

	// wait out callbacks already running
	v.cbMu.Lock()
	v.cbMu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if feed != nil {
		err = feed.Close()
		<-done
	}
	return err
}
