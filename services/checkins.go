package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/metrics"
	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

const (
	maxNoteLength     = 1000
	maxLocationLength = 255
)

// CheckInService records and removes check-ins and keeps stats consistent.
type CheckInService struct {
	db         *gorm.DB
	stats      *StatsService
	visibility *VisibilityService
	media      *MediaService
	notifier   *CheckInNotifier
	now        func() time.Time
}

func NewCheckInService(db *gorm.DB, stats *StatsService, visibility *VisibilityService, media *MediaService, notifier *CheckInNotifier, now func() time.Time) *CheckInService {
	return &CheckInService{db: db, stats: stats, visibility: visibility, media: media, notifier: notifier, now: now}
}

// CheckInInput is a new check-in request.
type CheckInInput struct {
	Note     string
	Location string
	Images   []ImageUpload
	// Location of the request, used for the reference day and alert times.
	TZ *time.Location
}

// CheckInResult is the outcome of Create.
type CheckInResult struct {
	CheckIn  models.CheckIn         `json:"check_in"`
	Stats    models.UserProjectStat `json:"stats"`
	Images   []ImageResult          `json:"images,omitempty"`
	Notified int                    `json:"notified"`
}

// CheckInView is a check-in with its author's username.
type CheckInView struct {
	models.CheckIn
	Username string `json:"username"`
}

// TodayStatus tells a member whether today's check-in is done.
type TodayStatus struct {
	Date         string                 `json:"date"`
	CheckedIn    bool                   `json:"checked_in"`
	CheckInCount int64                  `json:"check_in_count"`
	Frequency    models.FrequencyMode   `json:"frequency"`
	Stats        models.UserProjectStat `json:"stats"`
}

// Create records a check-in for userID. Stats are updated in the same
// transaction; images and friend alerts follow after commit and never fail it.
func (s *CheckInService) Create(ctx context.Context, userID, projectID uint, in CheckInInput) (*CheckInResult, error) {
	if s.media != nil {
		if err := s.media.CheckCount(len(in.Images)); err != nil {
			return nil, err
		}
	}
	now := s.now()
	ref := ReferenceDay(now, in.TZ)

	var (
		project models.Project
		ci      models.CheckIn
		stat    *models.UserProjectStat
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		project = *p
		member, err := IsMember(tx, projectID, userID)
		if err != nil {
			return err
		}
		if !member {
			return ErrNotMember
		}

		switch project.Frequency {
		case models.FrequencyDaily:
			var n int64
			if err := tx.Model(&models.CheckIn{}).
				Where("user_id = ? AND project_id = ?", userID, projectID).
				Where("(check_time >= ? AND check_time < ?) OR (check_date >= ? AND check_date < ?)",
					ref.Start, ref.End, ref.Date, ref.Date.AddDate(0, 0, 1)).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return ErrAlreadyCheckedIn
			}
		case models.FrequencyUnlimited:
		default:
			return fmt.Errorf("project %d has unknown frequency %q", projectID, project.Frequency)
		}

		ci = models.CheckIn{
			UserID:    userID,
			ProjectID: projectID,
			CheckDate: ref.Date,
			CheckTime: now.UTC(),
			Note:      utils.SanitizeText(in.Note, maxNoteLength),
			Location:  utils.SanitizeText(in.Location, maxLocationLength),
		}
		if err := tx.Create(&ci).Error; err != nil {
			return fmt.Errorf("insert check-in: %w", err)
		}
		if stat, err = s.stats.ApplyCheckIn(tx, userID, projectID, ref.Date); err != nil {
			return err
		}
		_, err = s.stats.RecomputeProject(tx, projectID)
		return err
	})
	switch {
	case errors.Is(err, ErrAlreadyCheckedIn):
		metrics.CheckIn("duplicate")
		return nil, err
	case err != nil:
		metrics.CheckIn("rejected")
		return nil, err
	}
	metrics.CheckIn("created")

	res := &CheckInResult{CheckIn: ci, Stats: *stat}
	if len(in.Images) > 0 {
		images, err := s.media.Attach(ctx, userID, projectID, ci.ID, in.Images)
		if err != nil {
			utils.Logger.Warn("attach images failed", zap.Uint("check_in_id", ci.ID), zap.Error(err))
		}
		res.Images = images
		for _, r := range images {
			if r.Image != nil {
				res.CheckIn.ImageCount++
			}
		}
	}

	author, err := s.authorName(ctx, userID)
	if err != nil {
		utils.Logger.Warn("load check-in author failed", zap.Uint("user_id", userID), zap.Error(err))
	} else {
		res.Notified = s.notifier.NotifyFriendsOfCheckIn(ctx, author, project, ci, in.TZ)
	}
	return res, nil
}

func (s *CheckInService) authorName(ctx context.Context, userID uint) (string, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Select("id", "username").First(&u, userID).Error; err != nil {
		return "", err
	}
	return u.Username, nil
}

// Get returns a check-in if viewerID may see it.
func (s *CheckInService) Get(ctx context.Context, viewerID, checkInID uint) (*CheckInView, error) {
	var ci models.CheckIn
	if err := s.db.WithContext(ctx).Preload("User").First(&ci, checkInID).Error; err != nil {
		return nil, notFound(err)
	}
	ok, err := s.visibility.CanView(ctx, viewerID, ci.UserID, ci.ProjectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return &CheckInView{CheckIn: ci, Username: ci.User.Username}, nil
}

// Images returns signed URLs for a visible check-in's images.
func (s *CheckInService) Images(ctx context.Context, viewerID, checkInID uint) ([]ImageURL, error) {
	if _, err := s.Get(ctx, viewerID, checkInID); err != nil {
		return nil, err
	}
	var images []models.CheckInImage
	if err := s.db.WithContext(ctx).Where("check_in_id = ?", checkInID).Order("id ASC").Find(&images).Error; err != nil {
		return nil, err
	}
	if len(images) == 0 {
		return []ImageURL{}, nil
	}
	return s.media.SignedURLs(ctx, images)
}

// ListVisible pages through the project's check-ins that viewerID may see,
// newest first.
func (s *CheckInService) ListVisible(ctx context.Context, viewerID, projectID uint, page, pageSize int) ([]CheckInView, int64, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadProject(db, projectID); err != nil {
		return nil, 0, err
	}
	authors, err := s.visibility.VisibleAuthorIDs(ctx, viewerID, projectID)
	if err != nil {
		return nil, 0, err
	}

	q := db.Model(&models.CheckIn{}).Where("project_id = ? AND user_id IN ?", projectID, authors)
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []models.CheckIn
	if err := db.Preload("User").
		Where("project_id = ? AND user_id IN ?", projectID, authors).
		Order("check_time DESC").Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]CheckInView, 0, len(rows))
	for _, r := range rows {
		out = append(out, CheckInView{CheckIn: r, Username: r.User.Username})
	}
	return out, total, nil
}

// Delete removes an owned check-in, replays the owner's streak and
// refreshes the project stats. Object removal happens after commit.
func (s *CheckInService) Delete(ctx context.Context, actorID, checkInID uint) error {
	var keys []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ci models.CheckIn
		if err := tx.First(&ci, checkInID).Error; err != nil {
			return notFound(err)
		}
		if ci.UserID != actorID {
			return ErrForbidden
		}
		var images []models.CheckInImage
		if err := tx.Where("check_in_id = ?", ci.ID).Find(&images).Error; err != nil {
			return err
		}
		for _, img := range images {
			keys = append(keys, img.ObjectKey, img.ThumbnailKey())
		}
		if err := tx.Where("check_in_id = ?", ci.ID).Delete(&models.CheckInImage{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.CheckIn{}, ci.ID).Error; err != nil {
			return err
		}
		if _, err := s.stats.RecomputeUser(tx, ci.UserID, ci.ProjectID); err != nil {
			return err
		}
		_, err := s.stats.RecomputeProject(tx, ci.ProjectID)
		return err
	})
	if err != nil {
		return err
	}
	metrics.CheckIn("deleted")
	if len(keys) > 0 && s.media != nil {
		s.media.DeleteObjects(ctx, keys)
	}
	return nil
}

// Today reports the caller's status for the reference day in loc.
func (s *CheckInService) Today(ctx context.Context, userID, projectID uint, loc *time.Location) (*TodayStatus, error) {
	db := s.db.WithContext(ctx)
	p, err := loadProject(db, projectID)
	if err != nil {
		return nil, err
	}
	member, err := IsMember(db, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, ErrNotMember
	}
	ref := ReferenceDay(s.now(), loc)
	var n int64
	if err := db.Model(&models.CheckIn{}).
		Where("user_id = ? AND project_id = ? AND check_time >= ? AND check_time < ?", userID, projectID, ref.Start, ref.End).
		Count(&n).Error; err != nil {
		return nil, err
	}
	st, err := s.stats.UserStat(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	return &TodayStatus{
		Date:         ref.Date.Format("2006-01-02"),
		CheckedIn:    n > 0,
		CheckInCount: n,
		Frequency:    p.Frequency,
		Stats:        st,
	}, nil
}
