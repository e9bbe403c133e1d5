package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fixture struct {
	db       *gorm.DB
	now      time.Time
	tokens   *TokenService
	cache    *utils.Cache
	accounts *AccountService
	follows  *FollowService
	content  *ContentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: setupTestDB(t), now: time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.tokens = NewTokenService("test-secret").WithClock(clock)
	f.cache = newTestCache()
	f.accounts = NewAccountService(f.db, f.tokens, f.cache, zap.NewNop(), AccountOptions{AdminUsernames: []string{"boss"}})
	f.follows = NewFollowService(f.db)
	f.content = NewContentService(f.db, f.cache, zap.NewNop(), ContentOptions{}).WithClock(clock)
	return f
}

func newTestCache() *utils.Cache {
	return utils.NewCache(nil, zap.NewNop())
}

func (f *fixture) user(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), RegisterInput{
		Username: name,
		Email:    name + "@example.com",
		Password: "cat",
	})
	require.NoError(t, err)
	return u
}
