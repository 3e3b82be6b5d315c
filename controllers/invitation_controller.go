package controllers

import (
	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// InvitationController handles invitation responses and join-request decisions.
type InvitationController struct {
	invitations *services.InvitationService
}

// NewInvitationController creates a new controller instance.
func NewInvitationController(svc *services.Services) *InvitationController {
	return &InvitationController{invitations: svc.Invitations}
}

// ListInvitations returns the caller's pending invitations.
func (i *InvitationController) ListInvitations(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	items, err := i.invitations.ListInvitations(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err, 50070, "failed to list invitations")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// AcceptInvitation makes the invitee a member.
func (i *InvitationController) AcceptInvitation(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	inv, err := i.invitations.AcceptInvitation(ctx.Request.Context(), id, userID)
	if err != nil {
		respondError(ctx, err, 50071, "failed to accept invitation")
		return
	}
	invalidateProjectCache(inv.ProjectID)
	utils.Success(ctx, gin.H{"invitation": inv})
}

// RejectInvitation declines an invitation.
func (i *InvitationController) RejectInvitation(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	inv, err := i.invitations.RejectInvitation(ctx.Request.Context(), id, userID)
	if err != nil {
		respondError(ctx, err, 50072, "failed to reject invitation")
		return
	}
	utils.Success(ctx, gin.H{"invitation": inv})
}

// ApproveJoinRequest admits the requester; creator only.
func (i *InvitationController) ApproveJoinRequest(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	jr, err := i.invitations.ApproveJoinRequest(ctx.Request.Context(), id, userID)
	if err != nil {
		respondError(ctx, err, 50073, "failed to approve join request")
		return
	}
	invalidateProjectCache(jr.ProjectID)
	utils.Success(ctx, gin.H{"join_request": jr})
}

// RejectJoinRequest declines a join request; creator only.
func (i *InvitationController) RejectJoinRequest(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	jr, err := i.invitations.RejectJoinRequest(ctx.Request.Context(), id, userID)
	if err != nil {
		respondError(ctx, err, 50074, "failed to reject join request")
		return
	}
	utils.Success(ctx, gin.H{"join_request": jr})
}
