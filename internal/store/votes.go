package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/models"
)

type voteInput struct {
	GameID string        `json:"game_id" validate:"required"`
	UserID string        `json:"identity" validate:"required"`
	Choice models.Choice `json:"choice" validate:"required,oneof=A B"`
}

// Vote records identity's choice on a game, replacing any earlier choice.
// Insert and update are one statement: the (game_id, user_id) unique index
// resolves concurrent votes from the same identity, and the last write wins.
// A game that does not exist fails on the foreign key.
func (s *Store) Vote(ctx context.Context, gameID string, choice models.Choice, userID string) error {
	const op = "store.Vote"
	if err := s.check(op, voteInput{GameID: gameID, UserID: userID, Choice: choice}); err != nil {
		return err
	}

	vote := models.Vote{ID: s.newID(), GameID: gameID, UserID: userID, Choice: choice}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "game_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"choice", "updated_at"}),
	}).Create(&vote).Error
	if err != nil {
		return apperr.Translate(op, err)
	}
	return nil
}

// UserVote returns the identity's current choice on a game. ok is false
// when the identity has not voted.
func (s *Store) UserVote(ctx context.Context, gameID, userID string) (choice models.Choice, ok bool, err error) {
	var vote models.Vote
	err = s.db.WithContext(ctx).
		Select("choice").
		Where("game_id = ? AND user_id = ?", gameID, userID).
		Take(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Translate("store.UserVote", err)
	}
	return vote.Choice, true, nil
}
