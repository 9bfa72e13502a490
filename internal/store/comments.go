package store

import (
	"context"
	"strings"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/models"
)

type commentInput struct {
	Content string `json:"content" validate:"required,max=500"`
}

// ListComments returns a game's comments newest first, with authors.
func (s *Store) ListComments(ctx context.Context, gameID string) ([]models.Comment, error) {
	comments := []models.Comment{}
	err := s.db.WithContext(ctx).
		Preload("User").
		Where("game_id = ?", gameID).
		Order("created_at DESC").
		Find(&comments).Error
	if err != nil {
		return nil, apperr.Translate("store.ListComments", err)
	}
	return comments, nil
}

func (s *Store) CreateComment(ctx context.Context, gameID, userID, content string) (*models.Comment, error) {
	const op = "store.CreateComment"
	if userID == "" {
		return nil, apperr.Unauthorized(op)
	}
	content = strings.TrimSpace(content)
	if err := s.check(op, commentInput{Content: content}); err != nil {
		return nil, err
	}

	comment := models.Comment{ID: s.newID(), GameID: gameID, UserID: userID, Content: content}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	return s.loadComment(ctx, op, comment.ID)
}

// UpdateComment changes the text of a comment. Only its author may.
func (s *Store) UpdateComment(ctx context.Context, id, userID, content string) (*models.Comment, error) {
	const op = "store.UpdateComment"
	if userID == "" {
		return nil, apperr.Unauthorized(op)
	}
	content = strings.TrimSpace(content)
	if err := s.check(op, commentInput{Content: content}); err != nil {
		return nil, err
	}

	comment, err := s.ownComment(ctx, op, id, userID)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(comment).Where("user_id = ?", userID).Update("content", content)
	if res.Error != nil {
		return nil, apperr.Translate(op, res.Error)
	}
	return s.loadComment(ctx, op, id)
}

// DeleteComment removes a comment. Only its author may.
func (s *Store) DeleteComment(ctx context.Context, id, userID string) error {
	const op = "store.DeleteComment"
	if userID == "" {
		return apperr.Unauthorized(op)
	}
	comment, err := s.ownComment(ctx, op, id, userID)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Delete(comment).Error; err != nil {
		return apperr.Translate(op, err)
	}
	return nil
}

func (s *Store) ownComment(ctx context.Context, op, id, userID string) (*models.Comment, error) {
	var comment models.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	if comment.UserID != userID {
		return nil, apperr.Forbidden(op, "comment belongs to another user")
	}
	return &comment, nil
}

func (s *Store) loadComment(ctx context.Context, op, id string) (*models.Comment, error) {
	var comment models.Comment
	if err := s.db.WithContext(ctx).Preload("User").First(&comment, "id = ?", id).Error; err != nil {
		return nil, apperr.Translate(op, err)
	}
	return &comment, nil
}
