package models

import (
	"strings"
	"time"
)

// User is a local account bound to one Bilibili account (QR login).
type User struct {
	ID           int64      `gorm:"primary_key;AUTO_INCREMENT" json:"id"`
	BiliUserID   string     `gorm:"column:bili_user_id;not null;unique_index" json:"bili_user_id"`
	BiliUsername string     `gorm:"column:bili_username;default:''" json:"bili_username"`
	AvatarURL    string     `gorm:"column:avatar_url;default:''" json:"avatar_url"`
	Cookies      string     `gorm:"type:text" json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    *time.Time `json:"created_at"`
	UpdatedAt    *time.Time `json:"updated_at"`
}

// HasSession reports whether platform cookies are stored for the user.
func (user User) HasSession() bool {
	return strings.TrimSpace(user.Cookies) != ""
}
