package models

import "time"

// ProjectStat caches project-wide aggregates. Fully recomputable from check-ins.
type ProjectStat struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	ProjectID     uint      `gorm:"not null;uniqueIndex" json:"project_id"`
	TotalCheckIns int64     `gorm:"default:0" json:"total_checkins"`
	ActiveUsers   int64     `gorm:"default:0" json:"active_users"`
	HighestStreak int       `gorm:"default:0" json:"highest_streak"`
	LastUpdated   time.Time `json:"last_updated"`
}

// UserProjectStat caches one member's streak in one project.
type UserProjectStat struct {
	ID              uint       `gorm:"primaryKey" json:"-"`
	UserID          uint       `gorm:"not null;uniqueIndex:idx_stat_user_project" json:"user_id"`
	ProjectID       uint       `gorm:"not null;uniqueIndex:idx_stat_user_project;index" json:"project_id"`
	TotalCheckIns   int64      `gorm:"default:0" json:"total_checkins"`
	CurrentStreak   int        `gorm:"default:0" json:"current_streak"`
	HighestStreak   int        `gorm:"default:0" json:"highest_streak"`
	LastCheckInDate *time.Time `gorm:"type:date" json:"last_checkin_date"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
