package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/utils"
)

type MiddlewareTestSuite struct {
	suite.Suite
	db       *gorm.DB
	accounts *services.AccountService
	john     *models.User
	susan    *models.User
	boss     *models.User
}

func (s *MiddlewareTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	s.Require().NoError(err)
	sqlDB, err := db.DB()
	s.Require().NoError(err)
	sqlDB.SetMaxOpenConns(1)
	s.Require().NoError(db.AutoMigrate(models.All()...))
	s.db = db

	log := zap.NewNop()
	s.accounts = services.NewAccountService(db, services.NewTokenService("test-secret"), utils.NewCache(nil, log), log,
		services.AccountOptions{AdminUsernames: []string{"boss"}})
	s.john = s.register("john", true)
	s.susan = s.register("susan", false)
	s.boss = s.register("boss", true)
}

func (s *MiddlewareTestSuite) TearDownTest() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *MiddlewareTestSuite) register(name string, confirmed bool) *models.User {
	ctx := context.Background()
	u, err := s.accounts.Register(ctx, services.RegisterInput{Username: name, Email: name + "@example.com", Password: "cat"})
	s.Require().NoError(err)
	if confirmed {
		token, err := s.accounts.GenerateConfirmationToken(u, 0)
		s.Require().NoError(err)
		s.Require().True(s.accounts.Confirm(ctx, u, token))
	}
	return u
}

// apiRouter echoes who the request was authenticated as.
func (s *MiddlewareTestSuite) apiRouter() *gin.Engine {
	r := gin.New()
	r.Use(APIAuth(s.accounts))
	who := func(ctx *gin.Context) {
		name := ""
		if u := CurrentUser(ctx); u != nil {
			name = u.Username
		}
		ctx.JSON(http.StatusOK, gin.H{"user": name, "token_used": TokenUsed(ctx)})
	}
	r.GET("/who", who)
	r.POST("/write", APIWriteRequired(), who)
	return r
}

func (s *MiddlewareTestSuite) call(r *gin.Engine, method, path string, prepare func(*http.Request)) (int, map[string]any) {
	req := httptest.NewRequest(method, path, nil)
	if prepare != nil {
		prepare(req)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w.Code, body
}

func (s *MiddlewareTestSuite) TestAPIAuthAnonymous() {
	r := s.apiRouter()

	code, body := s.call(r, http.MethodGet, "/who", nil)
	s.Equal(http.StatusOK, code)
	s.Equal("", body["user"])

	code, body = s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.SetBasicAuth("", "") })
	s.Equal(http.StatusOK, code)
	s.Equal("", body["user"])

	code, body = s.call(r, http.MethodPost, "/write", nil)
	s.Equal(http.StatusUnauthorized, code)
	s.Equal("401 - unauthorized", body["error"])
}

func (s *MiddlewareTestSuite) TestAPIAuthPassword() {
	r := s.apiRouter()

	code, body := s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.SetBasicAuth("john@example.com", "cat") })
	s.Equal(http.StatusOK, code)
	s.Equal("john", body["user"])
	s.Equal(false, body["token_used"])

	code, body = s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.SetBasicAuth("john", "dog") })
	s.Equal(http.StatusUnauthorized, code)
	s.Equal("Invalid credentials", body["message"])

	code, body = s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.Header.Set("Authorization", "Basic !!!") })
	s.Equal(http.StatusUnauthorized, code)
}

func (s *MiddlewareTestSuite) TestAPIAuthToken() {
	r := s.apiRouter()
	token, err := s.accounts.GenerateAuthToken(s.john)
	s.Require().NoError(err)

	code, body := s.call(r, http.MethodPost, "/write", func(req *http.Request) { req.SetBasicAuth(token, "") })
	s.Equal(http.StatusOK, code)
	s.Equal("john", body["user"])
	s.Equal(true, body["token_used"])

	code, body = s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) })
	s.Equal(http.StatusOK, code)
	s.Equal(true, body["token_used"])

	code, _ = s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.Header.Set("Authorization", "Bearer bad-token") })
	s.Equal(http.StatusUnauthorized, code)
}

func (s *MiddlewareTestSuite) TestAPIAuthUnconfirmed() {
	r := s.apiRouter()
	code, body := s.call(r, http.MethodGet, "/who", func(req *http.Request) { req.SetBasicAuth("susan", "cat") })
	s.Equal(http.StatusForbidden, code)
	s.Equal("Unconfirmed account", body["message"])
}

// asUser builds a router where every request runs as u.
func asUser(u *models.User, guard gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(func(ctx *gin.Context) {
		if u != nil {
			ctx.Set(ContextUserKey, u)
		}
		ctx.Next()
	})
	r.GET("/", guard, func(ctx *gin.Context) { utils.Success(ctx, nil) })
	return r
}

func (s *MiddlewareTestSuite) TestRequireRole() {
	admin := RequireRole(models.RoleAdmin)
	code, _ := s.call(asUser(nil, admin), http.MethodGet, "/", nil)
	s.Equal(http.StatusUnauthorized, code)
	code, body := s.call(asUser(s.john, admin), http.MethodGet, "/", nil)
	s.Equal(http.StatusForbidden, code)
	s.EqualValues(40301, body["code"])
	code, _ = s.call(asUser(s.boss, admin), http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, code)

	code, _ = s.call(asUser(s.john, RequireRole(models.RoleAdmin, models.RolePoster)), http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, code)
}

func (s *MiddlewareTestSuite) TestConfirmedAndLoginRequired() {
	code, _ := s.call(asUser(nil, LoginRequired()), http.MethodGet, "/", nil)
	s.Equal(http.StatusUnauthorized, code)
	code, _ = s.call(asUser(s.susan, LoginRequired()), http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, code)

	code, body := s.call(asUser(s.susan, ConfirmedRequired()), http.MethodGet, "/", nil)
	s.Equal(http.StatusForbidden, code)
	s.EqualValues(40302, body["code"])
	code, _ = s.call(asUser(s.john, ConfirmedRequired()), http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, code)
}

func (s *MiddlewareTestSuite) TestRateLimit() {
	r := asUser(nil, RateLimitMiddleware(2))
	code, _ := s.call(r, http.MethodGet, "/", nil)
	s.Equal(http.StatusOK, code)
	code, body := s.call(r, http.MethodGet, "/", nil)
	s.Equal(http.StatusTooManyRequests, code)
	s.EqualValues(42901, body["code"])

	code, _ = s.call(r, http.MethodGet, "/", func(req *http.Request) { req.RemoteAddr = "10.0.0.9:1234" })
	s.Equal(http.StatusOK, code, "limits are per client address")
}

func TestMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(MiddlewareTestSuite))
}
