package model

import "time"

// Goal is one user-owned goal that progress is logged against.
type Goal struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64     `gorm:"index:idx_goal_user;not null" json:"user_id"`
	Title       string    `gorm:"size:80;not null" json:"title"`
	Description string    `gorm:"size:255" json:"description"`
	Color       string    `gorm:"size:16" json:"color"`
	Cadence     string    `gorm:"size:16;default:'daily'" json:"cadence"` // daily | weekly
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GoalLog is one photographic progress entry. Photo bytes live in
// object storage; PhotoKey names the object.
type GoalLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	GoalID    int64     `gorm:"index:idx_goallog_goal;not null" json:"goal_id"`
	UserID    int64     `gorm:"index:idx_goallog_user;not null" json:"user_id"`
	PhotoKey  string    `gorm:"size:128;not null" json:"photo_key"`
	Caption   string    `gorm:"size:255" json:"caption"`
	CreatedAt time.Time `gorm:"index:idx_goallog_created;autoCreateTime" json:"created_at"`
}
