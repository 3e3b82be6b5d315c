package services

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/cppla/dailycheckin/models"
)

// FriendService runs the friend-request lifecycle.
type FriendService struct {
	db *gorm.DB
}

func NewFriendService(db *gorm.DB) *FriendService {
	return &FriendService{db: db}
}

// FriendSummary is a user as seen in friend lists.
type FriendSummary struct {
	RelationshipID uint   `json:"relationship_id"`
	UserID         uint   `json:"user_id"`
	Username       string `json:"username"`
}

// FriendOverview groups the caller's relationships.
type FriendOverview struct {
	Friends  []FriendSummary `json:"friends"`
	Incoming []FriendSummary `json:"incoming"`
	Outgoing []FriendSummary `json:"outgoing"`
}

// UserMatch is a search hit annotated with the caller's relationship to it.
type UserMatch struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	// Relation is "", "friend", "incoming" or "outgoing".
	Relation       string `json:"relation"`
	RelationshipID uint   `json:"relationship_id,omitempty"`
}

func pairScope(a, b uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(requester_id = ? AND addressee_id = ?) OR (requester_id = ? AND addressee_id = ?)", a, b, b, a)
	}
}

// SendRequest creates a pending request from requester to addressee. Any
// pending or accepted row between the pair blocks it; rejected rows are
// cleared so a fresh request can be made.
func (s *FriendService) SendRequest(ctx context.Context, requesterID, addresseeID uint) (*models.FriendRelationship, error) {
	if requesterID == addresseeID {
		return nil, invalid("user_id", "cannot send a friend request to yourself")
	}
	var rel *models.FriendRelationship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.Select("id").First(&target, addresseeID).Error; err != nil {
			return notFound(err)
		}

		var existing []models.FriendRelationship
		if err := tx.Scopes(pairScope(requesterID, addresseeID)).Find(&existing).Error; err != nil {
			return err
		}
		for _, r := range existing {
			switch r.Status {
			case models.FriendPending:
				return ErrRequestPending
			case models.FriendAccepted:
				return ErrAlreadyFriends
			case models.FriendRejected:
				if err := tx.Delete(&models.FriendRelationship{}, r.ID).Error; err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown friend status %q", r.Status)
			}
		}

		rel = &models.FriendRelationship{RequesterID: requesterID, AddresseeID: addresseeID, Status: models.FriendPending}
		if err := tx.Create(rel).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrRequestPending
			}
			return err
		}
		return nil
	})
	return rel, err
}

// respond moves a pending request to status; only the addressee may do it.
func (s *FriendService) respond(ctx context.Context, relID, actorID uint, status models.FriendStatus) (*models.FriendRelationship, error) {
	var rel models.FriendRelationship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rel, relID).Error; err != nil {
			return notFound(err)
		}
		if rel.AddresseeID != actorID {
			return ErrForbidden
		}
		if rel.Status != models.FriendPending {
			return ErrNotPending
		}
		rel.Status = status
		return tx.Save(&rel).Error
	})
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

// Accept turns a pending request into a friendship.
func (s *FriendService) Accept(ctx context.Context, relID, actorID uint) (*models.FriendRelationship, error) {
	return s.respond(ctx, relID, actorID, models.FriendAccepted)
}

// Reject declines a pending request.
func (s *FriendService) Reject(ctx context.Context, relID, actorID uint) (*models.FriendRelationship, error) {
	return s.respond(ctx, relID, actorID, models.FriendRejected)
}

// Remove deletes an accepted friendship; either party may do it.
func (s *FriendService) Remove(ctx context.Context, actorID, otherID uint) error {
	res := s.db.WithContext(ctx).
		Scopes(pairScope(actorID, otherID)).
		Where("status = ?", models.FriendAccepted).
		Delete(&models.FriendRelationship{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFriends
	}
	return nil
}

// AreFriends is the symmetric accepted-friendship test.
func (s *FriendService) AreFriends(ctx context.Context, a, b uint) (bool, error) {
	return AreFriends(s.db.WithContext(ctx), a, b)
}

// List returns the caller's friends and pending requests in both directions.
func (s *FriendService) List(ctx context.Context, userID uint) (*FriendOverview, error) {
	var rels []models.FriendRelationship
	if err := s.db.WithContext(ctx).
		Preload("Requester").Preload("Addressee").
		Where("(requester_id = ? OR addressee_id = ?) AND status IN ?", userID, userID,
			[]models.FriendStatus{models.FriendPending, models.FriendAccepted}).
		Order("updated_at DESC").
		Find(&rels).Error; err != nil {
		return nil, err
	}

	out := &FriendOverview{Friends: []FriendSummary{}, Incoming: []FriendSummary{}, Outgoing: []FriendSummary{}}
	for _, r := range rels {
		other := r.Requester
		if r.RequesterID == userID {
			other = r.Addressee
		}
		sum := FriendSummary{RelationshipID: r.ID, UserID: other.ID, Username: other.Username}
		switch {
		case r.Status == models.FriendAccepted:
			out.Friends = append(out.Friends, sum)
		case r.AddresseeID == userID:
			out.Incoming = append(out.Incoming, sum)
		default:
			out.Outgoing = append(out.Outgoing, sum)
		}
	}
	return out, nil
}

// Search finds users by username substring, excluding the caller.
func (s *FriendService) Search(ctx context.Context, userID uint, query string, limit int) ([]UserMatch, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < 2 {
		return nil, invalid("q", "search needs at least 2 characters")
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}
	escaped := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(query)

	db := s.db.WithContext(ctx)
	var users []models.User
	if err := db.Select("id", "username").
		Where("id <> ? AND username LIKE ? ESCAPE '!'", userID, "%"+escaped+"%").
		Order("username ASC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return []UserMatch{}, nil
	}

	ids := make([]uint, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	var rels []models.FriendRelationship
	if err := db.Where("status IN ?", []models.FriendStatus{models.FriendPending, models.FriendAccepted}).
		Where("(requester_id = ? AND addressee_id IN ?) OR (addressee_id = ? AND requester_id IN ?)", userID, ids, userID, ids).
		Find(&rels).Error; err != nil {
		return nil, err
	}
	byOther := make(map[uint]models.FriendRelationship, len(rels))
	for _, r := range rels {
		byOther[r.Other(userID)] = r
	}

	out := make([]UserMatch, 0, len(users))
	for _, u := range users {
		m := UserMatch{ID: u.ID, Username: u.Username}
		if r, ok := byOther[u.ID]; ok {
			m.RelationshipID = r.ID
			switch {
			case r.Status == models.FriendAccepted:
				m.Relation = "friend"
			case r.AddresseeID == userID:
				m.Relation = "incoming"
			default:
				m.Relation = "outgoing"
			}
		}
		out = append(out, m)
	}
	return out, nil
}
