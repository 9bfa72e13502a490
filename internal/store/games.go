package store

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"gorm.io/gorm"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/models"
)

type SortOption string

const (
	SortLatest  SortOption = "latest"
	SortPopular SortOption = "popular"
)

// ParseSort defaults to SortLatest for anything unrecognised.
func ParseSort(s string) SortOption {
	if SortOption(s) == SortPopular {
		return SortPopular
	}
	return SortLatest
}

type NewGame struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title" validate:"required,max=100"`
	ChoiceA string `json:"choice_a" validate:"required,max=50"`
	ChoiceB string `json:"choice_b" validate:"required,max=50"`
}

// CreateGame stores a game owned by in.UserID. Titles and choices are
// trimmed before validation.
func (s *Store) CreateGame(ctx context.Context, in NewGame) (*models.Game, error) {
	const op = "store.CreateGame"
	if in.UserID == "" {
		return nil, apperr.Unauthorized(op)
	}
	in.Title = strings.TrimSpace(in.Title)
	in.ChoiceA = strings.TrimSpace(in.ChoiceA)
	in.ChoiceB = strings.TrimSpace(in.ChoiceB)
	if err := s.check(op, in); err != nil {
		return nil, err
	}

	game := models.Game{
		ID:      s.newID(),
		UserID:  in.UserID,
		Title:   in.Title,
		ChoiceA: in.ChoiceA,
		ChoiceB: in.ChoiceB,
	}
	if err := s.db.WithContext(ctx).Create(&game).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	return &game, nil
}

// SetImageURLs backfills image URLs after upload. Nil arguments leave the
// column untouched.
func (s *Store) SetImageURLs(ctx context.Context, gameID string, imageA, imageB *string) (*models.Game, error) {
	const op = "store.SetImageURLs"
	updates := map[string]any{}
	if imageA != nil {
		updates["image_a_url"] = *imageA
	}
	if imageB != nil {
		updates["image_b_url"] = *imageB
	}

	var game models.Game
	if err := s.db.WithContext(ctx).First(&game, "id = ?", gameID).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	if len(updates) == 0 {
		return &game, nil
	}
	if err := s.db.WithContext(ctx).Model(&game).Updates(updates).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	return &game, nil
}

// GetGame loads one game with its author, tally and comment count.
func (s *Store) GetGame(ctx context.Context, id string) (*models.GameWithStats, error) {
	const op = "store.GetGame"
	var game models.Game
	if err := s.db.WithContext(ctx).Preload("User").First(&game, "id = ?", id).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}

	var comments int64
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("game_id = ?", id).Count(&comments).Error; err != nil {
		slog.Error("failed to count comments", "game_id", id, "error", err)
	}

	return &models.GameWithStats{
		Game:         game,
		Tally:        s.GetTally(ctx, id),
		CommentCount: comments,
	}, nil
}

// AddView counts one detail view of a game.
func (s *Store) AddView(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).
		UpdateColumn("view_count", gorm.Expr("view_count + 1"))
	if res.Error != nil {
		return apperr.Translate("store.AddView", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("store.AddView", "game")
	}
	return nil
}

// ListGames returns every game newest first, or by total votes for
// SortPopular.
func (s *Store) ListGames(ctx context.Context, order SortOption) ([]models.GameWithStats, error) {
	var games []models.Game
	err := s.db.WithContext(ctx).Preload("User").Order("created_at DESC").Find(&games).Error
	if err != nil {
		return nil, apperr.Translate("store.ListGames", err)
	}
	out := s.withStats(ctx, games)
	if order == SortPopular {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Total > out[j].Total })
	}
	return out, nil
}

// ListGamesByUser returns the games a user created, newest first.
func (s *Store) ListGamesByUser(ctx context.Context, userID string) ([]models.GameWithStats, error) {
	var games []models.Game
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&games).Error
	if err != nil {
		return nil, apperr.Translate("store.ListGamesByUser", err)
	}
	return s.withStats(ctx, games), nil
}

func (s *Store) withStats(ctx context.Context, games []models.Game) []models.GameWithStats {
	ids := make([]string, len(games))
	for i, g := range games {
		ids[i] = g.ID
	}

	tallies, err := s.Tallies(ctx, ids)
	if err != nil {
		slog.Error("failed to read tallies", "games", len(ids), "error", err)
	}
	comments, err := s.commentCounts(ctx, ids)
	if err != nil {
		slog.Error("failed to count comments", "games", len(ids), "error", err)
	}

	out := make([]models.GameWithStats, len(games))
	for i, g := range games {
		out[i] = models.GameWithStats{Game: g, Tally: tallies[g.ID], CommentCount: comments[g.ID]}
	}
	return out
}

func (s *Store) commentCounts(ctx context.Context, gameIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(gameIDs))
	if len(gameIDs) == 0 {
		return out, nil
	}
	var rows []choiceCount
	err := s.db.WithContext(ctx).
		Model(&models.Comment{}).
		Select("game_id, count(*) AS n").
		Where("game_id IN ?", gameIDs).
		Group("game_id").
		Scan(&rows).Error
	if err != nil {
		return out, err
	}
	for _, r := range rows {
		out[r.GameID] = r.N
	}
	return out, nil
}
