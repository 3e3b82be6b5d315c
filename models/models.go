package models

// All lists every persisted model, in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Project{},
		&ProjectMember{},
		&CheckIn{},
		&CheckInImage{},
		&ProjectStat{},
		&UserProjectStat{},
		&FriendRelationship{},
		&ProjectInvitation{},
		&ProjectJoinRequest{},
		&PendingObjectDeletion{},
	}
}
