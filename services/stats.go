package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

const activeWindow = 30 * 24 * time.Hour

// StatsService maintains the cached ProjectStat and UserProjectStat rows.
// Every method takes the transaction it must run in.
type StatsService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStatsService(db *gorm.DB, now func() time.Time) *StatsService {
	return &StatsService{db: db, now: now}
}

func loadUserStat(tx *gorm.DB, userID, projectID uint) (models.UserProjectStat, error) {
	var st models.UserProjectStat
	err := tx.Where("user_id = ? AND project_id = ?", userID, projectID).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserProjectStat{UserID: userID, ProjectID: projectID}, nil
	}
	return st, err
}

// ApplyCheckIn advances the user's streak for a check-in on day. The check-in
// row must already be inserted in tx. A day earlier than the stored last date
// (possible after the caller's timezone moved backwards) triggers a replay.
func (s *StatsService) ApplyCheckIn(tx *gorm.DB, userID, projectID uint, day time.Time) (*models.UserProjectStat, error) {
	st, err := loadUserStat(tx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if st.LastCheckInDate != nil && dayKey(day).Before(dayKey(*st.LastCheckInDate)) {
		return s.RecomputeUser(tx, userID, projectID)
	}

	next := Advance(StreakState{Current: st.CurrentStreak, Highest: st.HighestStreak, Last: st.LastCheckInDate}, day)
	st.TotalCheckIns++
	st.CurrentStreak = next.Current
	st.HighestStreak = next.Highest
	st.LastCheckInDate = next.Last
	if err := tx.Save(&st).Error; err != nil {
		return nil, fmt.Errorf("save user stat: %w", err)
	}
	return &st, nil
}

// RecomputeUser replays the user's remaining check-ins. Idempotent.
func (s *StatsService) RecomputeUser(tx *gorm.DB, userID, projectID uint) (*models.UserProjectStat, error) {
	var days []time.Time
	if err := tx.Model(&models.CheckIn{}).
		Where("user_id = ? AND project_id = ?", userID, projectID).
		Order("check_date ASC").
		Pluck("check_date", &days).Error; err != nil {
		return nil, fmt.Errorf("load check-in history: %w", err)
	}

	st, err := loadUserStat(tx, userID, projectID)
	if err != nil {
		return nil, err
	}
	replayed := Replay(days)
	st.TotalCheckIns = int64(len(days))
	st.CurrentStreak = replayed.Current
	st.HighestStreak = replayed.Highest
	st.LastCheckInDate = replayed.Last
	if err := tx.Save(&st).Error; err != nil {
		return nil, fmt.Errorf("save user stat: %w", err)
	}
	return &st, nil
}

// RecomputeProject refreshes the project-wide aggregates from source rows.
func (s *StatsService) RecomputeProject(tx *gorm.DB, projectID uint) (*models.ProjectStat, error) {
	now := s.now().UTC()

	var total int64
	if err := tx.Model(&models.CheckIn{}).Where("project_id = ?", projectID).Count(&total).Error; err != nil {
		return nil, err
	}

	var active int64
	if err := tx.Model(&models.CheckIn{}).
		Where("project_id = ? AND check_time >= ?", projectID, now.Add(-activeWindow)).
		Distinct("user_id").
		Count(&active).Error; err != nil {
		return nil, err
	}

	var highest int
	if err := tx.Model(&models.UserProjectStat{}).
		Where("project_id = ?", projectID).
		Select("COALESCE(MAX(highest_streak), 0)").
		Scan(&highest).Error; err != nil {
		return nil, err
	}

	var ps models.ProjectStat
	err := tx.Where("project_id = ?", projectID).First(&ps).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	ps.ProjectID = projectID
	ps.TotalCheckIns = total
	ps.ActiveUsers = active
	ps.HighestStreak = highest
	ps.LastUpdated = now
	if err := tx.Save(&ps).Error; err != nil {
		return nil, fmt.Errorf("save project stat: %w", err)
	}
	return &ps, nil
}

// Rebuild recomputes every member's row and the project row from check-ins.
// Safe to run repeatedly.
func (s *StatsService) Rebuild(ctx context.Context, projectID uint) (*models.ProjectStat, error) {
	var out *models.ProjectStat
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var userIDs []uint
		if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Pluck("user_id", &userIDs).Error; err != nil {
			return err
		}
		var authors []uint
		if err := tx.Model(&models.CheckIn{}).Where("project_id = ?", projectID).Distinct().Pluck("user_id", &authors).Error; err != nil {
			return err
		}
		var statUsers []uint
		if err := tx.Model(&models.UserProjectStat{}).Where("project_id = ?", projectID).Pluck("user_id", &statUsers).Error; err != nil {
			return err
		}
		for _, uid := range utils.Unique(append(append(userIDs, authors...), statUsers...)) {
			if _, err := s.RecomputeUser(tx, uid, projectID); err != nil {
				return err
			}
		}
		ps, err := s.RecomputeProject(tx, projectID)
		out = ps
		return err
	})
	return out, err
}

// UserStat returns the stored stats of a member, zero-valued when absent.
func (s *StatsService) UserStat(ctx context.Context, userID, projectID uint) (models.UserProjectStat, error) {
	return loadUserStat(s.db.WithContext(ctx), userID, projectID)
}

// ProjectStat returns the stored project aggregates, zero-valued when absent.
func (s *StatsService) ProjectStat(ctx context.Context, projectID uint) (models.ProjectStat, error) {
	var ps models.ProjectStat
	err := s.db.WithContext(ctx).Where("project_id = ?", projectID).First(&ps).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ProjectStat{ProjectID: projectID}, nil
	}
	return ps, err
}
