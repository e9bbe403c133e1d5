package services

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/aiblog/models"
)

// FollowService maintains the directed follow graph between users.
type FollowService struct {
	db *gorm.DB
}

func NewFollowService(db *gorm.DB) *FollowService {
	return &FollowService{db: db}
}

// Follow adds the edge follower -> followed; an existing edge is left untouched.
func (s *FollowService) Follow(ctx context.Context, followerID, followedID uint) error {
	if followerID == followedID {
		return ErrSelfFollow
	}
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.User{}).Where("id IN ?", []uint{followerID, followedID}).Count(&n).Error; err != nil {
		return err
	}
	if n != 2 {
		return ErrNotFound
	}
	edge := models.Follow{FollowerID: followerID, FollowedID: followedID}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&edge).Error; err != nil {
		return fmt.Errorf("follow %d -> %d: %w", followerID, followedID, err)
	}
	return nil
}

// Unfollow removes the edge when present.
func (s *FollowService) Unfollow(ctx context.Context, followerID, followedID uint) error {
	return s.db.WithContext(ctx).
		Where("follower_id = ? AND followed_id = ?", followerID, followedID).
		Delete(&models.Follow{}).Error
}

// IsFollowing reports whether a follows b.
func (s *FollowService) IsFollowing(ctx context.Context, a, b uint) bool {
	var n int64
	s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND followed_id = ?", a, b).Count(&n)
	return n > 0
}

// IsFollowedBy reports whether b follows a.
func (s *FollowService) IsFollowedBy(ctx context.Context, a, b uint) bool {
	return s.IsFollowing(ctx, b, a)
}

// FollowerCount is the number of users following userID.
func (s *FollowService) FollowerCount(ctx context.Context, userID uint) int64 {
	var n int64
	s.db.WithContext(ctx).Model(&models.Follow{}).Where("followed_id = ?", userID).Count(&n)
	return n
}

// FollowingCount is the number of users userID follows.
func (s *FollowService) FollowingCount(ctx context.Context, userID uint) int64 {
	var n int64
	s.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&n)
	return n
}

// Followers lists edges pointing at userID, newest first, with Follower loaded.
func (s *FollowService) Followers(ctx context.Context, userID uint, page, perPage int) (Page[models.Follow], error) {
	q := s.db.WithContext(ctx).Model(&models.Follow{}).Preload("Follower").
		Where("followed_id = ?", userID).Order("created_at DESC")
	return paginate[models.Follow](q, page, perPage)
}

// Followings lists edges leaving userID, newest first, with Followed loaded.
func (s *FollowService) Followings(ctx context.Context, userID uint, page, perPage int) (Page[models.Follow], error) {
	q := s.db.WithContext(ctx).Model(&models.Follow{}).Preload("Followed").
		Where("follower_id = ?", userID).Order("created_at DESC")
	return paginate[models.Follow](q, page, perPage)
}

// FollowingPosts is the timeline of userID: posts by everyone they follow, newest first.
func (s *FollowService) FollowingPosts(ctx context.Context, userID uint, page, perPage int) (Page[models.Post], error) {
	q := s.db.WithContext(ctx).Model(&models.Post{}).
		Joins("JOIN follows ON follows.followed_id = posts.user_id").
		Where("follows.follower_id = ?", userID).
		Preload("User").Preload("Tags").
		Order("posts.publish_date DESC, posts.id DESC")
	return paginate[models.Post](q, page, perPage)
}
