package models

import "time"

// Comment represents a reply to a post.
type Comment struct {
	ID     uint      `gorm:"primaryKey" json:"id"`
	PostID uint      `gorm:"index;not null" json:"post_id"`
	UserID uint      `gorm:"index;not null" json:"user_id"`
	Name   string    `gorm:"size:255;not null" json:"name"`
	Text   string    `gorm:"type:text;not null" json:"text"`
	Date   time.Time `gorm:"index;not null" json:"date"`
	User   User      `json:"-"`
	Post   Post      `json:"-"`
}
