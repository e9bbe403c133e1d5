package models

// Built-in role names.
const (
	RoleAdmin   = "admin"
	RolePoster  = "poster"
	RoleDefault = "default"
)

// Role is a named permission bucket granted to users through roles_users.
type Role struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:80;not null;uniqueIndex" json:"name"`
	Description string `gorm:"size:255" json:"description"`
}
