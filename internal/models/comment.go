package models

import "time"

type Comment struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	GameID    string    `json:"game_id" gorm:"not null;index"`
	Game      *Game     `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	UserID    string    `json:"user_id" gorm:"not null"`
	User      *User     `json:"user,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Content   string    `json:"content" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChangeKey returns the game a comment row belongs to.
func (c *Comment) ChangeKey() string { return c.GameID }
