package models

import "time"

// User is an authenticated account. Anonymous voters have no row here.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey"`
	Email     *string   `json:"email,omitempty"`
	Username  *string   `json:"username" gorm:"uniqueIndex"`
	AvatarURL *string   `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
