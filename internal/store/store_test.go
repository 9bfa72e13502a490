package store

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/saxenaaman628/balance-game/config"
	"github.com/saxenaaman628/balance-game/internal/changefeed"
	"github.com/saxenaaman628/balance-game/internal/database"
	"github.com/saxenaaman628/balance-game/internal/models"
)

// setupStore opens a private in-memory database with the changefeed
// plugin wired to a hub.
func setupStore(t *testing.T) (*Store, *gorm.DB, *changefeed.Hub) {
	t.Helper()
	hub := changefeed.NewHub()
	t.Cleanup(func() { hub.Close() })

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := database.Open(config.DatabaseSQLite, dsn,
		changefeed.NewPlugin(hub, changefeed.TableVotes, changefeed.TableComments))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return New(db), db, hub
}

// seedGame creates an owner account and a game, returning the game id.
func seedGame(t *testing.T, s *Store, owner, title, a, b string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpsertUser(ctx, owner, nil, nil); err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	game, err := s.CreateGame(ctx, NewGame{UserID: owner, Title: title, ChoiceA: a, ChoiceB: b})
	if err != nil {
		t.Fatalf("Failed to create game: %v", err)
	}
	return game.ID
}

func countVotes(t *testing.T, db *gorm.DB, gameID, userID string) int64 {
	t.Helper()
	var n int64
	q := db.Model(&models.Vote{}).Where("game_id = ?", gameID)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("Failed to count votes: %v", err)
	}
	return n
}
