package models

import "time"

// Vote is one identity's choice on a game. (GameID, UserID) is unique.
// UserID is either an account id or an anonymous token, so it carries no
// foreign key.
type Vote struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	GameID    string    `json:"game_id" gorm:"not null;uniqueIndex:idx_votes_game_user"`
	Game      *Game     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	UserID    string    `json:"user_id" gorm:"not null;uniqueIndex:idx_votes_game_user"`
	Choice    Choice    `json:"choice" gorm:"type:varchar(1);not null;check:choice IN ('A','B')"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeKey returns the game a vote row belongs to.
func (v *Vote) ChangeKey() string { return v.GameID }
