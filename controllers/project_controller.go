package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// ProjectController serves project CRUD, membership and invitations.
type ProjectController struct {
	projects    *services.ProjectService
	invitations *services.InvitationService
}

// NewProjectController creates a new controller instance.
func NewProjectController(svc *services.Services) *ProjectController {
	return &ProjectController{projects: svc.Projects, invitations: svc.Invitations}
}

// ListProjects returns the caller's projects with role and personal stats.
func (p *ProjectController) ListProjects(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	items, err := p.projects.ListForUser(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err, 50010, "failed to list projects")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// CreateProject creates a project owned by the caller.
func (p *ProjectController) CreateProject(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var in services.ProjectInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40010, "invalid request payload")
		return
	}
	project, err := p.projects.Create(ctx.Request.Context(), userID, in)
	if err != nil {
		respondError(ctx, err, 50011, "failed to create project")
		return
	}
	utils.Created(ctx, gin.H{"project": project})
}

// GetProject returns one project as seen by the caller.
func (p *ProjectController) GetProject(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	view, err := p.projects.Get(ctx.Request.Context(), userID, projectID)
	if err != nil {
		respondError(ctx, err, 50012, "failed to get project")
		return
	}
	utils.Success(ctx, view)
}

// UpdateProject changes project settings; creator only.
func (p *ProjectController) UpdateProject(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var in services.ProjectInput
	if err := ctx.ShouldBindJSON(&in); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40011, "invalid request payload")
		return
	}
	project, err := p.projects.Update(ctx.Request.Context(), userID, projectID, in)
	if err != nil {
		respondError(ctx, err, 50013, "failed to update project")
		return
	}
	utils.Success(ctx, gin.H{"project": project})
}

// ListMembers returns the member list; members only.
func (p *ProjectController) ListMembers(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	members, err := p.projects.Members(ctx.Request.Context(), userID, projectID)
	if err != nil {
		respondError(ctx, err, 50014, "failed to list members")
		return
	}
	utils.Success(ctx, gin.H{"items": members})
}

// JoinProject files a join request for an invitation-mode project.
func (p *ProjectController) JoinProject(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Message string `json:"message"`
	}
	// the body is optional
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40013, "invalid request payload")
			return
		}
	}

	jr, err := p.projects.Join(ctx.Request.Context(), projectID, userID, req.Message)
	if err != nil {
		respondError(ctx, err, 50015, "failed to join project")
		return
	}
	utils.Created(ctx, gin.H{"join_request": jr})
}

// LeaveProject removes the caller's membership.
func (p *ProjectController) LeaveProject(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	if err := p.projects.Leave(ctx.Request.Context(), projectID, userID); err != nil {
		respondError(ctx, err, 50016, "failed to leave project")
		return
	}
	invalidateProjectCache(projectID)
	utils.Success(ctx, gin.H{"message": "left project"})
}

// InviteFriend invites one of the creator's friends.
func (p *ProjectController) InviteFriend(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40012, "user_id is required")
		return
	}
	inv, err := p.invitations.Invite(ctx.Request.Context(), projectID, userID, req.UserID)
	if err != nil {
		respondError(ctx, err, 50017, "failed to invite user")
		return
	}
	utils.Created(ctx, gin.H{"invitation": inv})
}

// ListJoinRequests shows pending join requests to the creator.
func (p *ProjectController) ListJoinRequests(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	items, err := p.invitations.ListJoinRequests(ctx.Request.Context(), projectID, userID)
	if err != nil {
		respondError(ctx, err, 50018, "failed to list join requests")
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}
