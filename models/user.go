package models

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User is an account holder. Passwords are stored as bcrypt hashes only.
type User struct {
	ID           uint                                `gorm:"primaryKey" json:"id"`
	Username     string                              `gorm:"size:64;not null;uniqueIndex" json:"username"`
	Email        string                              `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string                              `gorm:"size:255" json:"-"`
	RegisterIP   string                              `gorm:"size:45" json:"-"`
	Preferences  datatypes.JSONType[UserPreferences] `json:"preferences"`
	CreatedAt    time.Time                           `json:"created_at"`
	UpdatedAt    time.Time                           `json:"updated_at"`
}

// UserPreferences is the typed per-user settings document.
type UserPreferences struct {
	NotifyFriendCheckIns bool   `json:"notify_friend_checkins"`
	TelegramChatID       string `json:"telegram_chat_id,omitempty"`
	DefaultProjectID     *uint  `json:"default_project_id,omitempty"`
}

var telegramChatIDPattern = regexp.MustCompile(`^(-?[0-9]{1,20}|@[A-Za-z0-9_]{5,32})$`)

var (
	ErrInvalidChatID = errors.New("telegram chat id must be numeric or an @channel name")
)

// Normalize trims free-form fields in place.
func (p *UserPreferences) Normalize() {
	p.TelegramChatID = strings.TrimSpace(p.TelegramChatID)
	if p.DefaultProjectID != nil && *p.DefaultProjectID == 0 {
		p.DefaultProjectID = nil
	}
}

// Validate checks field formats. Membership of DefaultProjectID needs the
// database and is checked by the caller.
func (p UserPreferences) Validate() error {
	if p.TelegramChatID != "" && !telegramChatIDPattern.MatchString(p.TelegramChatID) {
		return ErrInvalidChatID
	}
	return nil
}

// CanReceiveCheckInAlerts reports whether friend check-in alerts may be pushed.
func (p UserPreferences) CanReceiveCheckInAlerts() bool {
	return p.NotifyFriendCheckIns && p.TelegramChatID != "" && p.Validate() == nil
}

// Prefs returns the decoded preferences.
func (u *User) Prefs() UserPreferences {
	return u.Preferences.Data()
}

// BeforeCreate hook ensures timestamps are set even when not provided.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
