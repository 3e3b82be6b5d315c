// Package services holds the domain logic behind the HTTP controllers.
package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/storage"
)

// Options wire the optional collaborators. Zero values disable the feature:
// no Store means no attachments, no Enqueuer means no friend alerts.
type Options struct {
	Now      func() time.Time
	Store    storage.ObjectStore
	Cache    URLCache
	Enqueuer Enqueuer
	Media    MediaOptions
}

// Services is the set of domain services shared by the controllers.
type Services struct {
	Users       *UserService
	Projects    *ProjectService
	Invitations *InvitationService
	Friends     *FriendService
	CheckIns    *CheckInService
	Stats       *StatsService
	Visibility  *VisibilityService
	Media       *MediaService
	Notifier    *CheckInNotifier
}

func New(db *gorm.DB, opts Options) *Services {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	stats := NewStatsService(db, now)
	visibility := NewVisibilityService(db)
	media := NewMediaService(db, opts.Store, opts.Cache, opts.Media, now)
	var notifier *CheckInNotifier
	if opts.Enqueuer != nil {
		notifier = NewCheckInNotifier(db, opts.Enqueuer)
	}
	return &Services{
		Users:       NewUserService(db),
		Projects:    NewProjectService(db, stats, now),
		Invitations: NewInvitationService(db, now),
		Friends:     NewFriendService(db),
		CheckIns:    NewCheckInService(db, stats, visibility, media, notifier, now),
		Stats:       stats,
		Visibility:  visibility,
		Media:       media,
		Notifier:    notifier,
	}
}
