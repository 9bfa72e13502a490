package models

import (
	"strings"
	"time"
)

type Choice string

const (
	ChoiceA Choice = "A"
	ChoiceB Choice = "B"
)

// ParseChoice accepts "a"/"A" and "b"/"B".
func ParseChoice(s string) (Choice, bool) {
	switch {
	case strings.EqualFold(s, string(ChoiceA)):
		return ChoiceA, true
	case strings.EqualFold(s, string(ChoiceB)):
		return ChoiceB, true
	}
	return "", false
}

func (c Choice) Valid() bool {
	return c == ChoiceA || c == ChoiceB
}

// Game is a two-choice poll.
type Game struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"not null;index"`
	User      *User     `json:"user,omitempty" gorm:"constraint:OnDelete:CASCADE"`
	Title     string    `json:"title" gorm:"not null"`
	ChoiceA   string    `json:"choice_a" gorm:"not null"`
	ChoiceB   string    `json:"choice_b" gorm:"not null"`
	ImageAURL *string   `json:"image_a_url"`
	ImageBURL *string   `json:"image_b_url"`
	ViewCount int64     `json:"view_count" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GameWithStats is a game as shown in list and detail views.
type GameWithStats struct {
	Game
	Tally
	CommentCount int64 `json:"comment_count"`
}
