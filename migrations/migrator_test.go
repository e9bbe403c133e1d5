package migrations

import (
	"context"
	"errors"
	"testing"

	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/aiblog/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestUpCreatesSchema(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, zap.NewNop())
	ctx := context.Background()

	ran, err := m.Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_initial", "0002_user_profile", "0003_seed_roles", "0004_tag_title_key"}, ran)

	for _, table := range []string{"users", "roles", "roles_users", "follows", "posts", "tags", "posts_tags", "comments"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	assert.True(t, db.Migrator().HasColumn(&models.User{}, "LastSeen"))

	var roles int64
	db.Model(&models.Role{}).Count(&roles)
	assert.Equal(t, int64(3), roles)

	// the current models can read and write the migrated schema
	u := models.User{Username: "john", Email: "john@example.com", Roles: []models.Role{}}
	require.NoError(t, db.Create(&u).Error)
	require.NoError(t, db.Create(&models.Follow{FollowerID: u.ID, FollowedID: u.ID}).Error)
	require.NoError(t, db.Create(&models.Tag{Title: "Go", TitleKey: "go"}).Error)
	assert.Error(t, db.Create(&models.Tag{Title: "GO", TitleKey: "go"}).Error, "title keys are unique")

	ran, err = m.Up(ctx)
	require.NoError(t, err)
	assert.Empty(t, ran, "second run is a no-op")
}

func TestDownAndStatus(t *testing.T) {
	db := setupTestDB(t)
	m := New(db, zap.NewNop())
	ctx := context.Background()

	_, err := m.Up(ctx)
	require.NoError(t, err)

	reverted, err := m.Down(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"0004_tag_title_key", "0003_seed_roles", "0002_user_profile"}, reverted)
	assert.False(t, db.Migrator().HasColumn("users", "last_seen"))
	assert.False(t, db.Migrator().HasColumn("tags", "title_key"))
	assert.True(t, db.Migrator().HasTable("users"))

	status, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 4)
	assert.True(t, status[0].Applied)
	assert.False(t, status[1].Applied)
	assert.False(t, status[2].Applied)
	assert.False(t, status[3].Applied)

	_, err = m.Down(ctx, 5)
	require.NoError(t, err)
	assert.False(t, db.Migrator().HasTable("users"))
}

func TestFailedMigrationRollsBack(t *testing.T) {
	db := setupTestDB(t)
	boom := errors.New("boom")
	m := New(db, zap.NewNop(),
		&gormigrate.Migration{ID: "a", Migrate: func(tx *gorm.DB) error { return tx.Exec("CREATE TABLE a (id integer)").Error }},
		&gormigrate.Migration{ID: "b", Migrate: func(tx *gorm.DB) error {
			if err := tx.Exec("CREATE TABLE b (id integer)").Error; err != nil {
				return err
			}
			return boom
		}},
	)

	ran, err := m.Up(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, ran)
	assert.True(t, db.Migrator().HasTable("a"))
	assert.False(t, db.Migrator().HasTable("b"))

	status, err := m.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status[0].Applied)
	assert.False(t, status[1].Applied)
}

func TestTagTitleKeyMergesDuplicates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	_, err := New(db, zap.NewNop(), All()[:3]...).Up(ctx)
	require.NoError(t, err)

	require.NoError(t, db.Exec("INSERT INTO tags (id, title) VALUES (1, 'Ärger'), (2, 'ärger'), (3, 'go  lang')").Error)
	require.NoError(t, db.Exec("INSERT INTO posts_tags (post_id, tag_id) VALUES (1, 1), (2, 2), (1, 2), (3, 3)").Error)

	ran, err := New(db, zap.NewNop()).Up(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0004_tag_title_key"}, ran)

	var tags []models.Tag
	require.NoError(t, db.Order("id").Find(&tags).Error)
	require.Len(t, tags, 2)
	assert.Equal(t, "ärger", tags[0].TitleKey)
	assert.Equal(t, "Ärger", tags[0].Title)
	assert.Equal(t, "go lang", tags[1].TitleKey)

	var posts []uint
	require.NoError(t, db.Table("posts_tags").Where("tag_id = ?", 1).Order("post_id").Pluck("post_id", &posts).Error)
	assert.Equal(t, []uint{1, 2}, posts)
	var orphans int64
	require.NoError(t, db.Table("posts_tags").Where("tag_id = ?", 2).Count(&orphans).Error)
	assert.Zero(t, orphans)
}
