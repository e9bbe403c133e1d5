package services

import "github.com/cppla/aiblog/models"

// Permission is a predicate over the acting user. A nil user is anonymous.
type Permission func(u *models.User) bool

// RoleRequired is satisfied when the actor holds the named role.
func RoleRequired(name string) Permission {
	return func(u *models.User) bool { return HasRole(u, name) }
}

// Any is satisfied when at least one of perms is.
func Any(perms ...Permission) Permission {
	return func(u *models.User) bool {
		for _, p := range perms {
			if p(u) {
				return true
			}
		}
		return false
	}
}

// HasRole reports whether u holds the named role.
func HasRole(u *models.User, name string) bool {
	return u != nil && u.HasRole(name)
}

// IsAdmin reports whether u holds the admin role.
func IsAdmin(u *models.User) bool {
	return HasRole(u, models.RoleAdmin)
}

// OwnerOrAdmin allows the owning user or any admin.
func OwnerOrAdmin(u *models.User, ownerID uint) bool {
	return Any(
		func(u *models.User) bool { return u != nil && u.ID == ownerID },
		IsAdmin,
	)(u)
}

// CanWrite allows posters and admins.
func CanWrite(u *models.User) bool {
	return Any(RoleRequired(models.RolePoster), IsAdmin)(u)
}

// Authorize maps a denied permission to ErrUnauthorized for anonymous actors and ErrForbidden otherwise.
func Authorize(u *models.User, allowed bool) error {
	switch {
	case allowed:
		return nil
	case u == nil:
		return ErrUnauthorized
	default:
		return ErrForbidden
	}
}
