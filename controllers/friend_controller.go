package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// FriendController exposes the friend-request lifecycle.
type FriendController struct {
	friends *services.FriendService
}

// NewFriendController creates a new controller instance.
func NewFriendController(svc *services.Services) *FriendController {
	return &FriendController{friends: svc.Friends}
}

// ListFriends returns friends plus incoming and outgoing requests.
func (f *FriendController) ListFriends(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	overview, err := f.friends.List(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err, 50060, "failed to list friends")
		return
	}
	utils.Success(ctx, overview)
}

// SendRequest asks another user to become friends.
func (f *FriendController) SendRequest(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40060, "user_id is required")
		return
	}
	rel, err := f.friends.SendRequest(ctx.Request.Context(), userID, req.UserID)
	if err != nil {
		respondError(ctx, err, 50061, "failed to send friend request")
		return
	}
	utils.Created(ctx, gin.H{"request": rel})
}

// AcceptRequest accepts an incoming request.
func (f *FriendController) AcceptRequest(ctx *gin.Context) {
	f.respond(ctx, f.friends.Accept)
}

// RejectRequest declines an incoming request.
func (f *FriendController) RejectRequest(ctx *gin.Context) {
	f.respond(ctx, f.friends.Reject)
}

func (f *FriendController) respond(ctx *gin.Context, action func(ctx context.Context, relID, actorID uint) (*models.FriendRelationship, error)) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	relID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	rel, err := action(ctx.Request.Context(), relID, userID)
	if err != nil {
		respondError(ctx, err, 50062, "failed to update friend request")
		return
	}
	utils.Success(ctx, gin.H{"request": rel})
}

// RemoveFriend ends a friendship.
func (f *FriendController) RemoveFriend(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	otherID, ok := parseID(ctx, "userId")
	if !ok {
		return
	}
	if err := f.friends.Remove(ctx.Request.Context(), userID, otherID); err != nil {
		respondError(ctx, err, 50063, "failed to remove friend")
		return
	}
	utils.Success(ctx, gin.H{"message": "removed"})
}
