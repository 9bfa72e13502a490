package store

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm/clause"

	"github.com/saxenaaman628/balance-game/internal/apperr"
	"github.com/saxenaaman628/balance-game/internal/identity"
	"github.com/saxenaaman628/balance-game/internal/models"
)

type usernameInput struct {
	Username string `json:"username" validate:"required,min=2,max=20"`
}

// UpsertUser creates the account row on first sign-in and refreshes the
// email and avatar afterwards.
func (s *Store) UpsertUser(ctx context.Context, id string, email, avatarURL *string) (*models.User, error) {
	const op = "store.UpsertUser"
	if id == "" {
		return nil, apperr.Validation(op, "user id is required")
	}
	if strings.HasPrefix(id, identity.AnonPrefix) {
		return nil, apperr.Validation(op, "user id uses the anonymous namespace")
	}
	user := models.User{ID: id, Email: email, AvatarURL: avatarURL}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"email", "avatar_url", "updated_at"}),
	}).Create(&user).Error
	if err != nil {
		return nil, apperr.Translate(op, err)
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, apperr.Translate("store.GetUser", err)
	}
	return &user, nil
}

// SetUsername sets a unique display name of 2 to 20 characters.
func (s *Store) SetUsername(ctx context.Context, id, username string) (*models.User, error) {
	const op = "store.SetUsername"
	if id == "" {
		return nil, apperr.Unauthorized(op)
	}
	username = strings.TrimSpace(username)
	if err := s.check(op, usernameInput{Username: username}); err != nil {
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&models.User{ID: id}).Update("username", username)
	if res.Error != nil {
		err := apperr.Translate(op, res.Error)
		if apperr.Is(err, apperr.KindConflict) {
			return nil, apperr.E(apperr.KindConflict, op, errDuplicateUsername)
		}
		return nil, err
	}
	if res.RowsAffected == 0 {
		return nil, apperr.NotFound(op, "user")
	}
	return s.GetUser(ctx, id)
}

var errDuplicateUsername = errors.New("duplicate: username already taken")
