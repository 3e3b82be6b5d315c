package models

import "time"

// PendingObjectDeletion records an object-store key whose removal failed and
// must be retried by the background cleaner.
type PendingObjectDeletion struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ObjectKey     string    `gorm:"size:512;not null" json:"object_key"`
	Attempts      int       `gorm:"default:0" json:"attempts"`
	LastError     string    `gorm:"size:512" json:"last_error"`
	NextAttemptAt time.Time `gorm:"index" json:"next_attempt_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
