package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
)

// InvitationService handles creator invitations and join-request decisions.
type InvitationService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewInvitationService(db *gorm.DB, now func() time.Time) *InvitationService {
	return &InvitationService{db: db, now: now}
}

// InvitationView is a pending invitation as shown to the invitee.
type InvitationView struct {
	ID          uint      `json:"id"`
	ProjectID   uint      `json:"project_id"`
	ProjectName string    `json:"project_name"`
	InviterID   uint      `json:"inviter_id"`
	InviterName string    `json:"inviter_name"`
	CreatedAt   time.Time `json:"created_at"`
}

// JoinRequestView is a pending join request as shown to the creator.
type JoinRequestView struct {
	ID        uint      `json:"id"`
	UserID    uint      `json:"user_id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Invite lets the creator of an invitation-mode project invite a friend.
// A previous accepted or rejected invitation for the same user is reset.
func (s *InvitationService) Invite(ctx context.Context, projectID, inviterID, inviteeID uint) (*models.ProjectInvitation, error) {
	var inv models.ProjectInvitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		if p.Visibility != models.VisibilityInvitation {
			return ErrProjectPrivate
		}
		if p.CreatorID != inviterID {
			return ErrForbidden
		}
		friends, err := AreFriends(tx, inviterID, inviteeID)
		if err != nil {
			return err
		}
		if !friends {
			return ErrNotFriends
		}
		member, err := IsMember(tx, projectID, inviteeID)
		if err != nil {
			return err
		}
		if member {
			return ErrAlreadyMember
		}

		err = tx.Where("project_id = ? AND invitee_id = ?", projectID, inviteeID).First(&inv).Error
		switch {
		case err == nil:
			if inv.Status == models.InvitationPending {
				return ErrInvitationPending
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			inv = models.ProjectInvitation{ProjectID: projectID, InviteeID: inviteeID}
		default:
			return err
		}
		inv.InviterID = inviterID
		inv.Status = models.InvitationPending
		inv.RespondedAt = nil
		return tx.Save(&inv).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (s *InvitationService) respondInvitation(ctx context.Context, invitationID, actorID uint, status models.InvitationStatus) (*models.ProjectInvitation, error) {
	var inv models.ProjectInvitation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&inv, invitationID).Error; err != nil {
			return notFound(err)
		}
		if inv.InviteeID != actorID {
			return ErrForbidden
		}
		if inv.Status != models.InvitationPending {
			return ErrNotPending
		}
		now := s.now().UTC()
		switch status {
		case models.InvitationAccepted:
			member, err := IsMember(tx, inv.ProjectID, actorID)
			if err != nil {
				return err
			}
			if !member {
				if err := addMember(tx, inv.ProjectID, actorID, models.RoleMember, now); err != nil {
					return err
				}
			}
		case models.InvitationRejected:
		default:
			return invalid("status", "unsupported invitation response")
		}
		inv.Status = status
		inv.RespondedAt = &now
		return tx.Save(&inv).Error
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// AcceptInvitation joins the invitee to the project.
func (s *InvitationService) AcceptInvitation(ctx context.Context, invitationID, actorID uint) (*models.ProjectInvitation, error) {
	return s.respondInvitation(ctx, invitationID, actorID, models.InvitationAccepted)
}

// RejectInvitation declines the invitation.
func (s *InvitationService) RejectInvitation(ctx context.Context, invitationID, actorID uint) (*models.ProjectInvitation, error) {
	return s.respondInvitation(ctx, invitationID, actorID, models.InvitationRejected)
}

// ListInvitations returns userID's pending invitations, newest first.
func (s *InvitationService) ListInvitations(ctx context.Context, userID uint) ([]InvitationView, error) {
	var rows []models.ProjectInvitation
	if err := s.db.WithContext(ctx).
		Preload("Project").Preload("Inviter").
		Where("invitee_id = ? AND status = ?", userID, models.InvitationPending).
		Order("updated_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]InvitationView, 0, len(rows))
	for _, r := range rows {
		out = append(out, InvitationView{
			ID:          r.ID,
			ProjectID:   r.ProjectID,
			ProjectName: r.Project.Name,
			InviterID:   r.InviterID,
			InviterName: r.Inviter.Username,
			CreatedAt:   r.UpdatedAt,
		})
	}
	return out, nil
}

func (s *InvitationService) decideJoinRequest(ctx context.Context, requestID, actorID uint, status models.JoinRequestStatus) (*models.ProjectJoinRequest, error) {
	var req models.ProjectJoinRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&req, requestID).Error; err != nil {
			return notFound(err)
		}
		p, err := loadProject(tx, req.ProjectID)
		if err != nil {
			return err
		}
		if p.CreatorID != actorID {
			return ErrForbidden
		}
		if req.Status != models.JoinRequestPending {
			return ErrNotPending
		}
		now := s.now().UTC()
		switch status {
		case models.JoinRequestApproved:
			member, err := IsMember(tx, req.ProjectID, req.UserID)
			if err != nil {
				return err
			}
			if !member {
				if err := addMember(tx, req.ProjectID, req.UserID, models.RoleMember, now); err != nil {
					return err
				}
			}
		case models.JoinRequestRejected:
		default:
			return invalid("status", "unsupported join request decision")
		}
		req.Status = status
		req.RespondedAt = &now
		return tx.Save(&req).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ApproveJoinRequest admits the requester; creator only.
func (s *InvitationService) ApproveJoinRequest(ctx context.Context, requestID, actorID uint) (*models.ProjectJoinRequest, error) {
	return s.decideJoinRequest(ctx, requestID, actorID, models.JoinRequestApproved)
}

// RejectJoinRequest declines the request; creator only.
func (s *InvitationService) RejectJoinRequest(ctx context.Context, requestID, actorID uint) (*models.ProjectJoinRequest, error) {
	return s.decideJoinRequest(ctx, requestID, actorID, models.JoinRequestRejected)
}

// ListJoinRequests returns a project's pending requests; creator only.
func (s *InvitationService) ListJoinRequests(ctx context.Context, projectID, actorID uint) ([]JoinRequestView, error) {
	db := s.db.WithContext(ctx)
	p, err := loadProject(db, projectID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != actorID {
		return nil, ErrForbidden
	}
	var rows []models.ProjectJoinRequest
	if err := db.Preload("User").
		Where("project_id = ? AND status = ?", projectID, models.JoinRequestPending).
		Order("updated_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]JoinRequestView, 0, len(rows))
	for _, r := range rows {
		out = append(out, JoinRequestView{
			ID:        r.ID,
			UserID:    r.UserID,
			Username:  r.User.Username,
			Message:   r.Message,
			CreatedAt: r.UpdatedAt,
		})
	}
	return out, nil
}
