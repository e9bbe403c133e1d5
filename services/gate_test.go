package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cppla/aiblog/models"
)

func userWith(id uint, roles ...string) *models.User {
	u := &models.User{ID: id}
	for _, r := range roles {
		u.Roles = append(u.Roles, models.Role{Name: r})
	}
	return u
}

func TestGate(t *testing.T) {
	admin := userWith(1, models.RoleAdmin)
	poster := userWith(2, models.RoleDefault, models.RolePoster)
	reader := userWith(3, models.RoleDefault)

	assert.True(t, CanWrite(admin))
	assert.True(t, CanWrite(poster))
	assert.False(t, CanWrite(reader))
	assert.False(t, CanWrite(nil))

	assert.True(t, OwnerOrAdmin(poster, 2))
	assert.False(t, OwnerOrAdmin(poster, 3))
	assert.True(t, OwnerOrAdmin(admin, 3))
	assert.False(t, OwnerOrAdmin(nil, 0))

	either := Any(RoleRequired("editor"), RoleRequired(models.RoleDefault))
	assert.True(t, either(reader))
	assert.False(t, either(admin))
	assert.False(t, Any()(admin))
}

func TestAuthorize(t *testing.T) {
	assert.NoError(t, Authorize(nil, true))
	assert.ErrorIs(t, Authorize(nil, false), ErrUnauthorized)
	assert.ErrorIs(t, Authorize(userWith(1), false), ErrForbidden)
}
