package model

import "time"

// FriendshipStatus is the stored status of one directed friendship row.
type FriendshipStatus string

const (
	FriendshipPending  FriendshipStatus = "pending"
	FriendshipAccepted FriendshipStatus = "accepted"
	FriendshipDeclined FriendshipStatus = "declined"
)

// Friendship is one directed edge of the friend graph: UserID is the
// requester, FriendID the addressee. A logical friendship between two
// users is represented by up to two rows, one per direction; accepting
// a request writes both rows as accepted in a single transaction.
type Friendship struct {
	ID        int64            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    int64            `gorm:"index:idx_friendship_pair;not null" json:"user_id"`
	FriendID  int64            `gorm:"index:idx_friendship_pair;not null" json:"friend_id"`
	Status    FriendshipStatus `gorm:"size:16;default:'pending'" json:"status"`
	CreatedAt time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}
