package users

import (
	"strings"
	"time"
)

// Profile is a registered climber. The password hash never leaves the service.
type Profile struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Username     string    `gorm:"column:username;size:190;not null" json:"username"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	IsAdmin      bool      `gorm:"column:is_admin;not null;default:false" json:"is_admin"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing user profiles.
func (Profile) TableName() string {
	return "profiles"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
