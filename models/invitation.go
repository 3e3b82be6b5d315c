package models

import "time"

// InvitationStatus is the state of a creator-issued project invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
)

func (s InvitationStatus) Valid() bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationRejected:
		return true
	}
	return false
}

// JoinRequestStatus is the state of a user-issued request to join a project.
type JoinRequestStatus string

const (
	JoinRequestPending  JoinRequestStatus = "pending"
	JoinRequestApproved JoinRequestStatus = "approved"
	JoinRequestRejected JoinRequestStatus = "rejected"
)

func (s JoinRequestStatus) Valid() bool {
	switch s {
	case JoinRequestPending, JoinRequestApproved, JoinRequestRejected:
		return true
	}
	return false
}

// ProjectInvitation is unique per (project, invitee); a terminal row is reused
// when the creator invites the same user again.
type ProjectInvitation struct {
	ID          uint             `gorm:"primaryKey" json:"id"`
	ProjectID   uint             `gorm:"not null;uniqueIndex:idx_invite_project_user" json:"project_id"`
	InviteeID   uint             `gorm:"not null;uniqueIndex:idx_invite_project_user;index" json:"invitee_id"`
	InviterID   uint             `gorm:"not null" json:"inviter_id"`
	Status      InvitationStatus `gorm:"size:16;not null" json:"status"`
	RespondedAt *time.Time       `json:"responded_at"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	Project     Project          `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Inviter     User             `gorm:"foreignKey:InviterID" json:"-"`
}

// ProjectJoinRequest is unique per (project, user).
type ProjectJoinRequest struct {
	ID          uint              `gorm:"primaryKey" json:"id"`
	ProjectID   uint              `gorm:"not null;uniqueIndex:idx_join_project_user" json:"project_id"`
	UserID      uint              `gorm:"not null;uniqueIndex:idx_join_project_user" json:"user_id"`
	Message     string            `gorm:"size:500" json:"message"`
	Status      JoinRequestStatus `gorm:"size:16;not null" json:"status"`
	RespondedAt *time.Time        `json:"responded_at"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	User        User              `gorm:"foreignKey:UserID" json:"-"`
}
