package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
	"github.com/cppla/dailycheckin/utils"
)

// AreFriends reports whether a and b share an accepted relationship in either direction.
func AreFriends(db *gorm.DB, a, b uint) (bool, error) {
	if a == b {
		return false, nil
	}
	var n int64
	err := db.Model(&models.FriendRelationship{}).
		Where("status = ?", models.FriendAccepted).
		Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a, b, b, a).
		Count(&n).Error
	return n > 0, err
}

// FriendIDs lists the accepted friends of userID.
func FriendIDs(db *gorm.DB, userID uint) ([]uint, error) {
	var rels []models.FriendRelationship
	if err := db.Where("status = ? AND (requester_id = ? OR addressee_id = ?)", models.FriendAccepted, userID, userID).
		Find(&rels).Error; err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(rels))
	for _, r := range rels {
		ids = append(ids, r.Other(userID))
	}
	return utils.Unique(ids), nil
}

// IsMember reports whether userID belongs to projectID.
func IsMember(db *gorm.DB, projectID, userID uint) (bool, error) {
	var n int64
	err := db.Model(&models.ProjectMember{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&n).Error
	return n > 0, err
}

// MemberIDs lists the members of projectID.
func MemberIDs(db *gorm.DB, projectID uint) ([]uint, error) {
	var ids []uint
	err := db.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Pluck("user_id", &ids).Error
	return ids, err
}

// VisibilityService applies the dual privacy rule: another user's check-ins
// are visible only when both users are project members and accepted friends.
type VisibilityService struct {
	db *gorm.DB
}

func NewVisibilityService(db *gorm.DB) *VisibilityService {
	return &VisibilityService{db: db}
}

// CanView reports whether viewer may see owner's check-ins in projectID.
func (v *VisibilityService) CanView(ctx context.Context, viewerID, ownerID, projectID uint) (bool, error) {
	if viewerID == ownerID {
		return true, nil
	}
	db := v.db.WithContext(ctx)
	for _, uid := range []uint{viewerID, ownerID} {
		ok, err := IsMember(db, projectID, uid)
		if err != nil || !ok {
			return false, err
		}
	}
	return AreFriends(db, viewerID, ownerID)
}

// VisibleAuthorIDs is the list-view form of CanView:
// (members ∩ accepted friends of viewer) ∪ {viewer}.
// A viewer outside the project only sees their own check-ins.
func (v *VisibilityService) VisibleAuthorIDs(ctx context.Context, viewerID, projectID uint) ([]uint, error) {
	db := v.db.WithContext(ctx)
	member, err := IsMember(db, projectID, viewerID)
	if err != nil {
		return nil, err
	}
	if !member {
		return []uint{viewerID}, nil
	}
	members, err := MemberIDs(db, projectID)
	if err != nil {
		return nil, err
	}
	friends, err := FriendIDs(db, viewerID)
	if err != nil {
		return nil, err
	}
	return append([]uint{viewerID}, utils.Intersect(members, friends)...), nil
}
