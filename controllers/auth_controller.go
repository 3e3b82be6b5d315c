package controllers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/middleware"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// AuthController handles accounts, sessions and per-user settings.
type AuthController struct {
	users   *services.UserService
	friends *services.FriendService
	guard   *utils.RegistrationGuard
}

// NewAuthController creates a new controller instance. guard may be nil.
func NewAuthController(svc *services.Services, guard *utils.RegistrationGuard) *AuthController {
	return &AuthController{users: svc.Users, friends: svc.Friends, guard: guard}
}

func userResponse(user models.User) gin.H {
	return gin.H{
		"id":          user.ID,
		"username":    user.Username,
		"email":       user.Email,
		"preferences": user.Prefs(),
		"created_at":  user.CreatedAt,
	}
}

func (a *AuthController) issueToken(ctx *gin.Context, status int, user models.User) {
	token, expiresAt, err := utils.GenerateToken(user.ID, user.Username)
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50003, "failed to generate token")
		return
	}
	utils.Respond(ctx, status, 0, "success", gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"user":       userResponse(user),
	})
}

// Register handles local account registration with bcrypt hashing.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
		Confirm  string `json:"confirm"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40001, "invalid request payload")
		return
	}
	if req.Confirm != "" && req.Confirm != req.Password {
		utils.Error(ctx, http.StatusBadRequest, 40002, "passwords do not match")
		return
	}

	ip := ctx.ClientIP()
	if err := a.guard.Allow(ctx.Request.Context(), ip); err != nil {
		switch {
		case errors.Is(err, utils.ErrRegisterBanned):
			utils.Error(ctx, http.StatusTooManyRequests, 42920, err.Error())
		case errors.Is(err, utils.ErrRegisterDaily):
			utils.Error(ctx, http.StatusTooManyRequests, 42921, err.Error())
		default:
			utils.Error(ctx, http.StatusTooManyRequests, 42910, err.Error())
		}
		return
	}

	user, err := a.users.Register(ctx.Request.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	}, ip)
	if err != nil {
		a.guard.RecordFailure(ctx.Request.Context(), ip)
		respondError(ctx, err, 50002, "failed to create user")
		return
	}
	a.guard.RecordSuccess(ctx.Request.Context(), ip)

	a.issueToken(ctx, http.StatusCreated, *user)
}

// Login verifies user credentials and issues a JWT.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40003, "invalid request payload")
		return
	}

	user, err := a.users.Authenticate(ctx.Request.Context(), strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		respondError(ctx, err, 50004, "failed to log in")
		return
	}
	a.issueToken(ctx, http.StatusOK, *user)
}

// Logout invalidates the token by blacklisting it until expiration.
func (a *AuthController) Logout(ctx *gin.Context) {
	token := ctx.GetString(middleware.ContextTokenKey)
	if token == "" {
		utils.Error(ctx, http.StatusUnauthorized, 40107, "invalid authorization header")
		return
	}
	expiresAt := time.Now().Add(24 * time.Hour)
	if v, ok := ctx.Get(middleware.ContextTokenExpiryKey); ok {
		if t, ok := v.(time.Time); ok {
			expiresAt = t
		}
	}
	utils.BlacklistToken(token, expiresAt)
	utils.Success(ctx, gin.H{"message": "logged out"})
}

// Me returns the current authenticated user's information.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	user, err := a.users.Get(ctx.Request.Context(), userID)
	if err != nil {
		respondError(ctx, err, 50005, "failed to load user")
		return
	}
	utils.Success(ctx, userResponse(*user))
}

// UpdatePreferences patches the typed preferences document.
func (a *AuthController) UpdatePreferences(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	var patch services.PreferencesPatch
	if err := ctx.ShouldBindJSON(&patch); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40030, "invalid request payload")
		return
	}
	user, err := a.users.UpdatePreferences(ctx.Request.Context(), userID, patch)
	if err != nil {
		respondError(ctx, err, 50031, "failed to update preferences")
		return
	}
	utils.Success(ctx, userResponse(*user))
}

// SearchUsers finds users by name and shows the caller's relationship to each.
func (a *AuthController) SearchUsers(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	_, limit := parsePagination("1", ctx.Query("limit"))
	matches, err := a.friends.Search(ctx.Request.Context(), userID, ctx.Query("q"), limit)
	if err != nil {
		respondError(ctx, err, 50032, "failed to search users")
		return
	}
	utils.Success(ctx, gin.H{"items": matches})
}
