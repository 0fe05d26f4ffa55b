package model

import "time"

// User is an application account.
type User struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username      string     `gorm:"uniqueIndex;size:32;not null" json:"username"`
	Name          string     `gorm:"size:64" json:"name"`
	PasswordHash  string     `gorm:"size:64;not null" json:"-"`
	ProfilePicURL string     `gorm:"size:255" json:"profile_pic_url"`
	Status        int        `gorm:"default:1" json:"status"` // 0=banned 1=normal
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	LastLoginIP   string     `gorm:"size:45" json:"-"`
}
