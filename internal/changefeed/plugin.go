package changefeed

import (
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// keyed is implemented by rows that belong to a game.
type keyed interface {
	ChangeKey() string
}

// Plugin publishes an Event after every successful create, update or
// delete on a watched table. Writes must go through a model value that
// carries its game id (db.Model(&row), db.Create(&row), db.Delete(&row)).
// Events are published after gorm commits its own transaction. Writes
// inside an explicit db.Transaction still publish before that commits.
type Plugin struct {
	pub    Publisher
	tables map[string]bool
	now    func() time.Time
}

func NewPlugin(pub Publisher, tables ...string) *Plugin {
	p := &Plugin{pub: pub, tables: make(map[string]bool, len(tables)), now: time.Now}
	for _, t := range tables {
		p.tables[t] = true
	}
	return p
}

func (p *Plugin) Name() string { return "changefeed" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	const committed = "gorm:commit_or_rollback_transaction"
	cb := db.Callback()
	if err := cb.Create().After(committed).Register("changefeed:after_create", p.after(EventInsert)); err != nil {
		return err
	}
	if err := cb.Update().After(committed).Register("changefeed:after_update", p.after(EventUpdate)); err != nil {
		return err
	}
	return cb.Delete().After(committed).Register("changefeed:after_delete", p.after(EventDelete))
}

func (p *Plugin) after(typ EventType) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil || db.RowsAffected == 0 || !p.tables[db.Statement.Table] {
			return
		}
		row, ok := db.Statement.Model.(keyed)
		if !ok || row.ChangeKey() == "" {
			return
		}

		kind := typ
		if kind == EventInsert {
			if _, upsert := db.Statement.Clauses["ON CONFLICT"]; upsert {
				kind = EventUpsert
			}
		}

		ev := Event{Table: db.Statement.Table, Type: kind, GameID: row.ChangeKey(), At: p.now()}
		if err := p.pub.Publish(db.Statement.Context, ev); err != nil {
			slog.Warn("failed to publish change", "table", ev.Table, "game_id", ev.GameID, "error", err)
		}
	}
}
