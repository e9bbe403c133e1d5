package models

import "time"

// Follow is a directed edge: FollowerID follows FollowedID.
// The composite primary key keeps at most one edge per ordered pair.
type Follow struct {
	FollowerID uint      `gorm:"primaryKey;autoIncrement:false" json:"follower_id"`
	FollowedID uint      `gorm:"primaryKey;autoIncrement:false;index" json:"followed_id"`
	CreatedAt  time.Time `json:"timestamp"`
	Follower   User      `gorm:"foreignKey:FollowerID" json:"-"`
	Followed   User      `gorm:"foreignKey:FollowedID" json:"-"`
}
