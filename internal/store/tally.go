package store

import (
	"context"
	"log/slog"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/models"
)

type choiceCount struct {
	GameID string
	Choice models.Choice
	N      int64
}

// GetTally counts the votes of one game. It never fails: a read error is
// logged and a zero tally returned so views keep rendering.
func (s *Store) GetTally(ctx context.Context, gameID string) models.Tally {
	var rows []choiceCount
	err := s.db.WithContext(ctx).
		Model(&models.Vote{}).
		Select("choice, count(*) AS n").
		Where("game_id = ?", gameID).
		Group("choice").
		Scan(&rows).Error
	if err != nil {
		slog.Error("failed to read tally", "game_id", gameID, "error", err)
		return models.Tally{}
	}

	var t models.Tally
	for _, r := range rows {
		t.Add(r.Choice, r.N)
	}
	return t
}

// Tallies counts the votes of several games in one grouped query. Games
// without votes get a zero tally.
func (s *Store) Tallies(ctx context.Context, gameIDs []string) (map[string]models.Tally, error) {
	out := make(map[string]models.Tally, len(gameIDs))
	if len(gameIDs) == 0 {
		return out, nil
	}

	var rows []choiceCount
	err := s.db.WithContext(ctx).
		Model(&models.Vote{}).
		Select("game_id, choice, count(*) AS n").
		Where("game_id IN ?", gameIDs).
		Group("game_id, choice").
		Scan(&rows).Error
	if err != nil {
		return out, apperr.Translate("store.Tallies", err)
	}

	for _, r := range rows {
		t := out[r.GameID]
		t.Add(r.Choice, r.N)
		out[r.GameID] = t
	}
	return out, nil
}
