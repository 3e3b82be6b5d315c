package models

import "time"

// FriendStatus is the lifecycle state of a friend request.
type FriendStatus string

const (
	FriendPending  FriendStatus = "pending"
	FriendAccepted FriendStatus = "accepted"
	FriendRejected FriendStatus = "rejected"
)

func (s FriendStatus) Valid() bool {
	switch s {
	case FriendPending, FriendAccepted, FriendRejected:
		return true
	}
	return false
}

// FriendRelationship is an ordered (requester, addressee) pair. Friendship
// itself is symmetric and must be looked up in both orderings.
type FriendRelationship struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	RequesterID uint         `gorm:"not null;uniqueIndex:idx_friend_pair" json:"requester_id"`
	AddresseeID uint         `gorm:"not null;uniqueIndex:idx_friend_pair;index" json:"addressee_id"`
	Status      FriendStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Requester   User         `gorm:"foreignKey:RequesterID" json:"-"`
	Addressee   User         `gorm:"foreignKey:AddresseeID" json:"-"`
}

// Other returns the counterpart of userID in the relationship.
func (f FriendRelationship) Other(userID uint) uint {
	if f.RequesterID == userID {
		return f.AddresseeID
	}
	return f.RequesterID
}
