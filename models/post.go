package models

import (
	"strings"
	"time"
)

// Post represents a blog entry written by a user.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Text        string    `gorm:"type:text;not null" json:"text"`
	PublishDate time.Time `gorm:"index;not null" json:"publish_date"`
	User        User      `json:"-"`
	Tags        []Tag     `gorm:"many2many:posts_tags;" json:"tags"`
	Comments    []Comment `json:"-"`
}

// Tag labels posts. TitleKey is the normalised title; it is unique.
type Tag struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Title    string `gorm:"size:255;not null" json:"title"`
	TitleKey string `gorm:"size:255;not null;uniqueIndex:idx_tags_title_key" json:"-"`
}

// TagKey folds case and collapses whitespace so equivalent titles share one tag.
func TagKey(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
