package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/config"
	"github.com/cppla/dailycheckin/controllers"
	"github.com/cppla/dailycheckin/metrics"
	"github.com/cppla/dailycheckin/middleware"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB, svc *services.Services, guard *utils.RegistrationGuard) *gin.Engine {
	// Load config and set Gin mode from configuration
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Access log goes to its own rolling file when configured, else the app logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err != nil {
		gl = utils.Logger
	}
	r.Use(utils.Ginzap(gl, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(gl, false))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.TimezoneHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
		// browsers refuse credentials with a wildcard origin
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}

	r.Use(cors.New(corsCfg))
	r.Use(middleware.RequestMetrics())
	r.Use(middleware.Timezone())

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authController := controllers.NewAuthController(svc, guard)
	projectController := controllers.NewProjectController(svc)
	checkInController := controllers.NewCheckInController(svc)
	friendController := controllers.NewFriendController(svc)
	invitationController := controllers.NewInvitationController(svc)
	statsController := controllers.NewStatsController(db, svc)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)

	// Public stats endpoint
	api.GET("/stats", statsController.GetStats)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())

	protected.PATCH("/users/me/preferences", authController.UpdatePreferences)
	protected.GET("/users/search", authController.SearchUsers)

	protected.GET("/projects", projectController.ListProjects)
	protected.POST("/projects", projectController.CreateProject)
	protected.GET("/projects/:id", projectController.GetProject)
	protected.PATCH("/projects/:id", projectController.UpdateProject)
	protected.GET("/projects/:id/members", projectController.ListMembers)
	protected.POST("/projects/:id/join", projectController.JoinProject)
	protected.POST("/projects/:id/leave", projectController.LeaveProject)
	protected.POST("/projects/:id/invitations", projectController.InviteFriend)
	protected.GET("/projects/:id/join-requests", projectController.ListJoinRequests)
	protected.GET("/projects/:id/stats", statsController.GetProjectStats)
	protected.POST("/projects/:id/stats/rebuild", statsController.RebuildProjectStats)
	protected.GET("/projects/:id/checkins", checkInController.ListCheckIns)
	protected.POST("/projects/:id/checkins", checkInController.CreateCheckIn)
	protected.GET("/projects/:id/checkins/today", checkInController.TodayStatus)

	protected.GET("/checkins/:id", checkInController.GetCheckIn)
	protected.DELETE("/checkins/:id", checkInController.DeleteCheckIn)
	protected.GET("/checkins/:id/images", checkInController.ListImages)

	protected.GET("/invitations", invitationController.ListInvitations)
	protected.POST("/invitations/:id/accept", invitationController.AcceptInvitation)
	protected.POST("/invitations/:id/reject", invitationController.RejectInvitation)
	protected.POST("/join-requests/:id/approve", invitationController.ApproveJoinRequest)
	protected.POST("/join-requests/:id/reject", invitationController.RejectJoinRequest)

	protected.GET("/friends", friendController.ListFriends)
	protected.POST("/friends/requests", friendController.SendRequest)
	protected.POST("/friends/requests/:id/accept", friendController.AcceptRequest)
	protected.POST("/friends/requests/:id/reject", friendController.RejectRequest)
	protected.DELETE("/friends/:userId", friendController.RemoveFriend)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
