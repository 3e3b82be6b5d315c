package models

import "time"

// FrequencyMode limits how often a member may check in.
type FrequencyMode string

const (
	FrequencyDaily     FrequencyMode = "daily"
	FrequencyUnlimited FrequencyMode = "unlimited"
)

// Valid reports whether f is a known frequency mode.
func (f FrequencyMode) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyUnlimited:
		return true
	}
	return false
}

// VisibilityMode controls how new members get in.
type VisibilityMode string

const (
	// VisibilityPrivate projects reject every join attempt.
	VisibilityPrivate VisibilityMode = "private"
	// VisibilityInvitation projects accept creator invitations and approved join requests.
	VisibilityInvitation VisibilityMode = "invitation"
)

func (v VisibilityMode) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityInvitation:
		return true
	}
	return false
}

// MemberRole is the role a user holds inside a project.
type MemberRole string

const (
	RoleCreator MemberRole = "creator"
	RoleAdmin   MemberRole = "admin"
	RoleMember  MemberRole = "member"
)

func (r MemberRole) Valid() bool {
	switch r {
	case RoleCreator, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Project is a recurring goal users check in against.
type Project struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	Name        string         `gorm:"size:100;not null" json:"name"`
	Description string         `gorm:"size:500" json:"description"`
	CreatorID   uint           `gorm:"index;not null" json:"creator_id"`
	Frequency   FrequencyMode  `gorm:"size:16;not null;default:daily" json:"frequency"`
	Visibility  VisibilityMode `gorm:"size:16;not null;default:private" json:"visibility"`
	Icon        string         `gorm:"size:32" json:"icon"`
	Color       string         `gorm:"size:7" json:"color"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ProjectMember links a user to a project.
type ProjectMember struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	ProjectID uint       `gorm:"not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uint       `gorm:"not null;uniqueIndex:idx_project_user;index" json:"user_id"`
	Role      MemberRole `gorm:"size:16;not null" json:"role"`
	JoinedAt  time.Time  `json:"joined_at"`
	User      User       `gorm:"foreignKey:UserID" json:"-"`
}
