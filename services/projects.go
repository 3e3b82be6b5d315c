package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

const (
	maxProjectName        = 100
	maxProjectDescription = 500
	maxJoinMessage        = 500
)

// ProjectService owns projects and their membership.
type ProjectService struct {
	db    *gorm.DB
	stats *StatsService
	now   func() time.Time
}

func NewProjectService(db *gorm.DB, stats *StatsService, now func() time.Time) *ProjectService {
	return &ProjectService{db: db, stats: stats, now: now}
}

// ProjectInput carries the editable project fields. Nil fields are left
// untouched on update and defaulted on create.
type ProjectInput struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Frequency   *models.FrequencyMode  `json:"frequency"`
	Visibility  *models.VisibilityMode `json:"visibility"`
	Icon        *string                `json:"icon"`
	Color       *string                `json:"color"`
}

// apply validates in and copies it onto p.
func (in ProjectInput) apply(p *models.Project) error {
	if in.Name != nil {
		name := utils.SanitizeText(*in.Name, maxProjectName)
		if name == "" {
			return invalid("name", "name is required")
		}
		p.Name = name
	}
	if in.Description != nil {
		p.Description = utils.SanitizeText(*in.Description, maxProjectDescription)
	}
	if in.Frequency != nil {
		if !in.Frequency.Valid() {
			return invalid("frequency", "frequency must be daily or unlimited")
		}
		p.Frequency = *in.Frequency
	}
	if in.Visibility != nil {
		if !in.Visibility.Valid() {
			return invalid("visibility", "visibility must be private or invitation")
		}
		p.Visibility = *in.Visibility
	}
	if in.Icon != nil {
		p.Icon = utils.SanitizeText(*in.Icon, 32)
	}
	if in.Color != nil {
		c := strings.TrimSpace(*in.Color)
		if c != "" && !colorPattern.MatchString(c) {
			return invalid("color", "color must look like #RRGGBB")
		}
		p.Color = c
	}
	return nil
}

// ProjectView is a project as seen by one user.
type ProjectView struct {
	models.Project
	Role        models.MemberRole       `json:"role,omitempty"`
	IsMember    bool                    `json:"is_member"`
	MemberCount int64                   `json:"member_count"`
	Stats       models.ProjectStat      `json:"stats"`
	MyStats     *models.UserProjectStat `json:"my_stats,omitempty"`
}

// MemberView is one row of a project's member list.
type MemberView struct {
	UserID        uint              `json:"user_id"`
	Username      string            `json:"username"`
	Role          models.MemberRole `json:"role"`
	JoinedAt      time.Time         `json:"joined_at"`
	TotalCheckIns int64             `json:"total_checkins"`
	CurrentStreak int               `json:"current_streak"`
	HighestStreak int               `json:"highest_streak"`
}

func loadProject(db *gorm.DB, projectID uint) (*models.Project, error) {
	var p models.Project
	if err := db.First(&p, projectID).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func memberRole(db *gorm.DB, projectID, userID uint) (models.MemberRole, bool, error) {
	var m models.ProjectMember
	err := db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return m.Role, true, nil
}

// addMember inserts the membership and the member's empty stats row.
func addMember(tx *gorm.DB, projectID, userID uint, role models.MemberRole, at time.Time) error {
	m := models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role, JoinedAt: at.UTC()}
	if err := tx.Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return err
	}
	st := models.UserProjectStat{UserID: userID, ProjectID: projectID}
	return tx.Where("user_id = ? AND project_id = ?", userID, projectID).FirstOrCreate(&st).Error
}

// Create stores a new project with its creator as the first member.
func (s *ProjectService) Create(ctx context.Context, creatorID uint, in ProjectInput) (*models.Project, error) {
	p := models.Project{
		CreatorID:  creatorID,
		Frequency:  models.FrequencyDaily,
		Visibility: models.VisibilityPrivate,
	}
	if in.Name == nil {
		return nil, invalid("name", "name is required")
	}
	if err := in.apply(&p); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&p).Error; err != nil {
			return err
		}
		if err := addMember(tx, p.ID, creatorID, models.RoleCreator, now); err != nil {
			return err
		}
		return tx.Create(&models.ProjectStat{ProjectID: p.ID, LastUpdated: now}).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get returns the project for viewerID. Invitation-mode projects are
// discoverable by non-members so they can ask to join; private ones are not.
func (s *ProjectService) Get(ctx context.Context, viewerID, projectID uint) (*ProjectView, error) {
	db := s.db.WithContext(ctx)
	p, err := loadProject(db, projectID)
	if err != nil {
		return nil, err
	}
	role, member, err := memberRole(db, projectID, viewerID)
	if err != nil {
		return nil, err
	}
	if !member && p.Visibility != models.VisibilityInvitation {
		return nil, ErrNotFound
	}

	view := &ProjectView{Project: *p, Role: role, IsMember: member}
	if err := db.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Count(&view.MemberCount).Error; err != nil {
		return nil, err
	}
	if view.Stats, err = s.stats.ProjectStat(ctx, projectID); err != nil {
		return nil, err
	}
	if member {
		mine, err := s.stats.UserStat(ctx, viewerID, projectID)
		if err != nil {
			return nil, err
		}
		view.MyStats = &mine
	}
	return view, nil
}

// Update edits the project; creator only.
func (s *ProjectService) Update(ctx context.Context, actorID, projectID uint, in ProjectInput) (*models.Project, error) {
	var p *models.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if p, err = loadProject(tx, projectID); err != nil {
			return err
		}
		if p.CreatorID != actorID {
			return ErrForbidden
		}
		if err := in.apply(p); err != nil {
			return err
		}
		return tx.Save(p).Error
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListForUser returns every project userID belongs to, newest membership first.
func (s *ProjectService) ListForUser(ctx context.Context, userID uint) ([]ProjectView, error) {
	db := s.db.WithContext(ctx)
	var memberships []models.ProjectMember
	if err := db.Where("user_id = ?", userID).Order("joined_at DESC").Find(&memberships).Error; err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return []ProjectView{}, nil
	}
	ids := make([]uint, len(memberships))
	for i, m := range memberships {
		ids[i] = m.ProjectID
	}

	var projects []models.Project
	if err := db.Where("id IN ?", ids).Find(&projects).Error; err != nil {
		return nil, err
	}
	byID := make(map[uint]models.Project, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}

	var stats []models.ProjectStat
	if err := db.Where("project_id IN ?", ids).Find(&stats).Error; err != nil {
		return nil, err
	}
	statByID := make(map[uint]models.ProjectStat, len(stats))
	for _, st := range stats {
		statByID[st.ProjectID] = st
	}

	var mine []models.UserProjectStat
	if err := db.Where("user_id = ? AND project_id IN ?", userID, ids).Find(&mine).Error; err != nil {
		return nil, err
	}
	mineByID := make(map[uint]models.UserProjectStat, len(mine))
	for _, st := range mine {
		mineByID[st.ProjectID] = st
	}

	type countRow struct {
		ProjectID uint
		N         int64
	}
	var counts []countRow
	if err := db.Model(&models.ProjectMember{}).
		Select("project_id, COUNT(*) AS n").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	countByID := make(map[uint]int64, len(counts))
	for _, c := range counts {
		countByID[c.ProjectID] = c.N
	}

	out := make([]ProjectView, 0, len(memberships))
	for _, m := range memberships {
		p, ok := byID[m.ProjectID]
		if !ok {
			continue
		}
		st, ok := statByID[p.ID]
		if !ok {
			st = models.ProjectStat{ProjectID: p.ID}
		}
		my, ok := mineByID[p.ID]
		if !ok {
			my = models.UserProjectStat{UserID: userID, ProjectID: p.ID}
		}
		out = append(out, ProjectView{
			Project:     p,
			Role:        m.Role,
			IsMember:    true,
			MemberCount: countByID[p.ID],
			Stats:       st,
			MyStats:     &my,
		})
	}
	return out, nil
}

// Members lists a project's members with their streaks; members only.
func (s *ProjectService) Members(ctx context.Context, viewerID, projectID uint) ([]MemberView, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadProject(db, projectID); err != nil {
		return nil, err
	}
	ok, err := IsMember(db, projectID, viewerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotMember
	}

	var members []models.ProjectMember
	if err := db.Preload("User").Where("project_id = ?", projectID).Order("joined_at ASC").Find(&members).Error; err != nil {
		return nil, err
	}
	var stats []models.UserProjectStat
	if err := db.Where("project_id = ?", projectID).Find(&stats).Error; err != nil {
		return nil, err
	}
	byUser := make(map[uint]models.UserProjectStat, len(stats))
	for _, st := range stats {
		byUser[st.UserID] = st
	}

	out := make([]MemberView, 0, len(members))
	for _, m := range members {
		st := byUser[m.UserID]
		out = append(out, MemberView{
			UserID:        m.UserID,
			Username:      m.User.Username,
			Role:          m.Role,
			JoinedAt:      m.JoinedAt,
			TotalCheckIns: st.TotalCheckIns,
			CurrentStreak: st.CurrentStreak,
			HighestStreak: st.HighestStreak,
		})
	}
	return out, nil
}

// Join is a membership attempt. Private projects refuse it; invitation-mode
// projects record a pending join request for the creator to decide.
func (s *ProjectService) Join(ctx context.Context, projectID, userID uint, message string) (*models.ProjectJoinRequest, error) {
	var req models.ProjectJoinRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		member, err := IsMember(tx, projectID, userID)
		if err != nil {
			return err
		}
		if member {
			return ErrAlreadyMember
		}
		switch p.Visibility {
		case models.VisibilityPrivate:
			return ErrProjectPrivate
		case models.VisibilityInvitation:
		default:
			return ErrProjectPrivate
		}

		err = tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&req).Error
		switch {
		case err == nil:
			if req.Status == models.JoinRequestPending {
				return ErrJoinRequestPending
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			req = models.ProjectJoinRequest{ProjectID: projectID, UserID: userID}
		default:
			return err
		}
		req.Status = models.JoinRequestPending
		req.Message = utils.SanitizeText(message, maxJoinMessage)
		req.RespondedAt = nil
		return tx.Save(&req).Error
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// Leave removes userID's membership. The creator cannot leave; stats rows are kept.
func (s *ProjectService) Leave(ctx context.Context, projectID, userID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := loadProject(tx, projectID)
		if err != nil {
			return err
		}
		if p.CreatorID == userID {
			return ErrCreatorCannotLeave
		}
		res := tx.Where("project_id = ? AND user_id = ?", projectID, userID).Delete(&models.ProjectMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotMember
		}
		if _, err := s.stats.RecomputeProject(tx, projectID); err != nil {
			return err
		}
		return nil
	})
}

// RebuildStats recomputes the project's stats from its check-ins; creator only.
func (s *ProjectService) RebuildStats(ctx context.Context, actorID, projectID uint) (*models.ProjectStat, error) {
	p, err := loadProject(s.db.WithContext(ctx), projectID)
	if err != nil {
		return nil, err
	}
	if p.CreatorID != actorID {
		return nil, ErrForbidden
	}
	return s.stats.Rebuild(ctx, projectID)
}

// Stats returns the project aggregates and the caller's own row; members only.
func (s *ProjectService) Stats(ctx context.Context, viewerID, projectID uint) (models.ProjectStat, models.UserProjectStat, error) {
	db := s.db.WithContext(ctx)
	if _, err := loadProject(db, projectID); err != nil {
		return models.ProjectStat{}, models.UserProjectStat{}, err
	}
	ok, err := IsMember(db, projectID, viewerID)
	if err != nil {
		return models.ProjectStat{}, models.UserProjectStat{}, err
	}
	if !ok {
		return models.ProjectStat{}, models.UserProjectStat{}, ErrNotMember
	}
	ps, err := s.stats.ProjectStat(ctx, projectID)
	if err != nil {
		return ps, models.UserProjectStat{}, err
	}
	us, err := s.stats.UserStat(ctx, viewerID, projectID)
	return ps, us, err
}
