// Package changefeed delivers row-change events for watched tables.
//
// A Notifier fans events out to subscribers scoped to a table and,
// optionally, one game. Publishing is fire-and-forget; a subscriber that
// falls behind loses events rather than slowing the writer.
package changefeed

import (
	"context"
	"time"
)

// Watched tables
const (
	TableVotes    = "votes"
	TableComments = "comments"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
	EventUpsert EventType = "UPSERT"
)

type Event struct {
	Table  string    `json:"table"`
	Type   EventType `json:"type"`
	GameID string    `json:"game_id"`
	At     time.Time `json:"at"`
}

// Scope selects the events a subscription receives. An empty GameID
// matches every game of the table.
type Scope struct {
	Table  string
	GameID string
}

func (s Scope) Matches(ev Event) bool {
	if s.Table != ev.Table {
		return false
	}
	return s.GameID == "" || s.GameID == ev.GameID
}

// Channel is the pub/sub channel name for the scope, shared by the
// redis and postgres backends.
func (s Scope) Channel() string {
	if s.GameID == "" {
		return "changes:" + s.Table
	}
	return "changes:" + s.Table + ":" + s.GameID
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, scope Scope) (Subscription, error)
}

type Notifier interface {
	Publisher
	Subscriber
	Close() error
}

// Subscription is a live stream of events. After Close returns the
// Events channel is closed and nothing more is delivered.
type Subscription interface {
	Events() <-chan Event
	Close() error
}

// subscriberBuffer bounds how far a subscriber may lag before events drop.
const subscriberBuffer = 64
