package controllers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/middleware"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

const statsCacheTTL = time.Minute

// StatsController provides site totals and per-project statistics.
type StatsController struct {
	db       *gorm.DB
	projects *services.ProjectService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB, svc *services.Services) *StatsController {
	return &StatsController{db: db, projects: svc.Projects}
}

func projectCachePrefix(projectID uint) string {
	return fmt.Sprintf("cache:project:%d:", projectID)
}

// invalidateProjectCache drops every cached view of a project's stats.
func invalidateProjectCache(projectID uint) {
	utils.InvalidateByPrefix(projectCachePrefix(projectID))
}

type overview struct {
	UserCount     int64  `json:"user_count"`
	ProjectCount  int64  `json:"project_count"`
	CheckInCount  int64  `json:"checkin_count"`
	TodayCheckIns int64  `json:"today_checkin_count"`
	Date          string `json:"date"`
}

// GetStats returns aggregate counts for the whole site.
func (s *StatsController) GetStats(ctx *gin.Context) {
	ref := services.ReferenceDay(time.Now(), middleware.Location(ctx))
	date := ref.Date.Format("2006-01-02")
	cacheKey := "cache:stats:overview:" + middleware.Location(ctx).String() + ":" + date

	var out overview
	if utils.CacheGetJSON(cacheKey, &out) {
		utils.Success(ctx, out)
		return
	}

	out.Date = date
	// Fallback to 0 instead of failing the whole endpoint
	if err := s.db.Model(&models.User{}).Count(&out.UserCount).Error; err != nil {
		out.UserCount = 0
	}
	if err := s.db.Model(&models.Project{}).Count(&out.ProjectCount).Error; err != nil {
		out.ProjectCount = 0
	}
	if err := s.db.Model(&models.CheckIn{}).Count(&out.CheckInCount).Error; err != nil {
		out.CheckInCount = 0
	}
	if err := s.db.Model(&models.CheckIn{}).
		Where("check_time >= ? AND check_time < ?", ref.Start, ref.End).
		Count(&out.TodayCheckIns).Error; err != nil {
		out.TodayCheckIns = 0
	}

	utils.CacheSetJSON(cacheKey, out, statsCacheTTL)
	utils.Success(ctx, out)
}

type projectStats struct {
	Project models.ProjectStat     `json:"project"`
	Mine    models.UserProjectStat `json:"mine"`
}

// GetProjectStats returns the project aggregates and the caller's own row.
func (s *StatsController) GetProjectStats(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	cacheKey := fmt.Sprintf("%suser:%d", projectCachePrefix(projectID), userID)
	var out projectStats
	if utils.CacheGetJSON(cacheKey, &out) {
		utils.Success(ctx, out)
		return
	}

	ps, us, err := s.projects.Stats(ctx.Request.Context(), userID, projectID)
	if err != nil {
		respondError(ctx, err, 50040, "failed to load stats")
		return
	}
	out = projectStats{Project: ps, Mine: us}
	utils.CacheSetJSON(cacheKey, out, statsCacheTTL)
	utils.Success(ctx, out)
}

// RebuildProjectStats recomputes every cached counter from the check-in log.
func (s *StatsController) RebuildProjectStats(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	ps, err := s.projects.RebuildStats(ctx.Request.Context(), userID, projectID)
	if err != nil {
		respondError(ctx, err, 50041, "failed to rebuild stats")
		return
	}
	invalidateProjectCache(projectID)
	utils.Respond(ctx, http.StatusOK, 0, "rebuilt", gin.H{"project": ps})
}
