package controller

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/models"
	"github.com/saxenaaman628/balance-game/internal/reconcile"
	"github.com/saxenaaman628/balance-game/internal/session"
	"github.com/saxenaaman628/balance-game/internal/store"
)

const (
	eventTally    = "tally"
	eventComments = "comments"
	eventPing     = "ping"

	streamBuffer = 32
)

type sseMessage struct {
	event string
	data  any
}

// EventHandler streams live tallies over server-sent events.
type EventHandler struct {
	store     *store.Store
	sessions  *session.Manager
	keepAlive time.Duration
}

func NewEventHandler(s *store.Store, m *session.Manager, keepAlive time.Duration) *EventHandler {
	if keepAlive <= 0 {
		keepAlive = 25 * time.Second
	}
	return &EventHandler{store: s, sessions: m, keepAlive: keepAlive}
}

// GameEvents streams one game: its current tally first, then a tally
// event after every vote and a comments event after every comment
// change.
func (h *EventHandler) GameEvents(c *gin.Context) {
	ctx := c.Request.Context()
	gameID := c.Param("id")

	// subscribe before the first read so no vote falls between the two
	out := make(chan sseMessage, streamBuffer)
	votes, comments, err := h.open(ctx, gameID, out)
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.sessions.CloseView(votes)
	defer h.sessions.CloseView(comments)

	game, err := h.store.GetGame(ctx, gameID)
	if err != nil {
		respondError(c, err)
		return
	}
	votes.Track(*game)

	h.stream(c, out, sseMessage{event: eventTally, data: tallyResponse(game.ID, game.Tally)})
}

// AllEvents streams tally and comment changes for every game.
func (h *EventHandler) AllEvents(c *gin.Context) {
	ctx := c.Request.Context()
	out := make(chan sseMessage, streamBuffer)
	votes, comments, err := h.open(ctx, "", out)
	if err != nil {
		respondError(c, err)
		return
	}
	defer h.sessions.CloseView(votes)
	defer h.sessions.CloseView(comments)

	h.stream(c, out, sseMessage{event: eventPing, data: time.Now().Unix()})
}

func (h *EventHandler) open(ctx context.Context, gameID string, out chan<- sseMessage) (*reconcile.View, *reconcile.View, error) {
	push := func(m sseMessage) {
		select {
		case out <- m:
		default:
			slog.Warn("event stream lagging, message dropped", "event", m.event)
		}
	}

	votes, err := h.sessions.OpenView(ctx, changefeed.Scope{Table: changefeed.TableVotes, GameID: gameID}, h.store,
		reconcile.OnReconcile(func(id string, t models.Tally) {
			push(sseMessage{event: eventTally, data: tallyResponse(id, t)})
		}))
	if err != nil {
		return nil, nil, err
	}
	comments, err := h.sessions.OpenView(ctx, changefeed.Scope{Table: changefeed.TableComments, GameID: gameID}, h.store,
		reconcile.OnChange(func(ev changefeed.Event) {
			push(sseMessage{event: eventComments, data: ev})
		}))
	if err != nil {
		h.sessions.CloseView(votes)
		return nil, nil, err
	}
	return votes, comments, nil
}

func (h *EventHandler) stream(c *gin.Context, out <-chan sseMessage, first sseMessage) {
	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(first.event, first.data)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.sessions.Done():
			return false
		case m := <-out:
			c.SSEvent(m.event, m.data)
			return true
		case <-ticker.C:
			c.SSEvent(eventPing, time.Now().Unix())
			return true
		}
	})
}
