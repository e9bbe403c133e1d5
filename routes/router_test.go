package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/tasks"
	"github.com/cppla/aiblog/utils"
)

type enqueued struct {
	name string
	args any
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []enqueued
}

func (q *recordingQueue) Enqueue(_ context.Context, name string, args any) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, enqueued{name: name, args: args})
	return "task-" + name, nil
}

func (q *recordingQueue) emails() []tasks.EmailArgs {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []tasks.EmailArgs
	for _, t := range q.tasks {
		if e, ok := t.args.(tasks.EmailArgs); ok {
			out = append(out, e)
		}
	}
	return out
}

type testServer struct {
	router   *gin.Engine
	db       *gorm.DB
	accounts *services.AccountService
	content  *services.ContentService
	follows  *services.FollowService
	events   *services.IdentityEvents
	queue    *recordingQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() { _ = sqlDB.Close() })

	cfg := config.AppConfig{
		SecretKey:            "test-secret",
		SessionSecret:        "test-session-secret",
		AdminUsernames:       []string{"boss"},
		AllowedOrigins:       []string{"*"},
		GinMode:              "test",
		PostsPerPage:         10,
		CommentsPerPage:      10,
		FollowersPerPage:     10,
		TopPostsNum:          5,
		TopTagsNum:           5,
		RateLimitPerMinute:   1000,
		SessionMaxAgeSeconds: 3600,
	}
	log := zap.NewNop()
	cache := utils.NewCache(nil, log)
	tokens := services.NewTokenService(cfg.SecretKey)
	s := &testServer{
		db:       db,
		accounts: services.NewAccountService(db, tokens, cache, log, services.AccountOptions{AdminUsernames: cfg.AdminUsernames}),
		content:  services.NewContentService(db, cache, log, services.ContentOptions{TopPosts: 5, TopTags: 5}),
		follows:  services.NewFollowService(db),
		events:   services.NewIdentityEvents(),
		queue:    &recordingQueue{},
	}
	s.router = SetupRouter(Deps{
		Config:   cfg,
		Log:      log,
		Cache:    cache,
		Accounts: s.accounts,
		Content:  s.content,
		Follows:  s.follows,
		Events:   s.events,
		Tasks:    s.queue,
	})
	return s
}

func (s *testServer) user(t *testing.T, name string, confirmed bool) *models.User {
	t.Helper()
	u, err := s.accounts.Register(context.Background(), services.RegisterInput{
		Username: name, Email: name + "@example.com", Password: "cat",
	})
	require.NoError(t, err)
	if confirmed {
		token, err := s.accounts.GenerateConfirmationToken(u, 0)
		require.NoError(t, err)
		require.True(t, s.accounts.Confirm(context.Background(), u, token))
	}
	return u
}

type reqOpt func(*http.Request)

func basic(user, pass string) reqOpt {
	return func(r *http.Request) { r.SetBasicAuth(user, pass) }
}

func bearer(token string) reqOpt {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookies(cookies []*http.Cookie) reqOpt {
	return func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	}
}

func (s *testServer) do(method, path string, body any, opts ...reqOpt) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, o := range opts {
		o(req)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestAPI404Envelope(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/api/v1.0/wrong/url", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, "404 - not found", body["error"])

	w = s.do(http.MethodGet, "/api/v1.0/posts/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "404 - not found", decode(t, w)["error"])
}

func TestAPINoAuthAndAnonymous(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1.0/posts", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1.0/posts", nil, basic("", "")).Code)

	w := s.do(http.MethodPost, "/api/v1.0/posts", gin.H{"title": "t", "text": "b"}, basic("", ""))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIBadAuth(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)

	w := s.do(http.MethodGet, "/api/v1.0/posts", nil, basic("john", "dog"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "401 - unauthorized", decode(t, w)["error"])
}

func TestAPIBadToken(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1.0/posts", nil, basic("bad-token", "")).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1.0/posts", nil, bearer("bad-token")).Code)
}

func TestAPITokenFlow(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)

	w := s.do(http.MethodGet, "/api/v1.0/token", nil, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.EqualValues(t, 600, body["expiration"])

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1.0/posts", nil, basic(token, "")).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/v1.0/posts", nil, bearer(token)).Code)

	// a token cannot mint another token
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1.0/token", nil, basic(token, "")).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/v1.0/token", nil).Code)
}

func TestAPIUnconfirmedAccount(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", false)

	w := s.do(http.MethodGet, "/api/v1.0/posts", nil, basic("john", "cat"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Unconfirmed account", decode(t, w)["message"])
}

func TestAPIPosts(t *testing.T) {
	s := newTestServer(t)
	john := s.user(t, "john", true)

	w := s.do(http.MethodPost, "/api/v1.0/posts", gin.H{"title": "empty", "text": ""}, basic("john", "cat"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/api/v1.0/posts",
		gin.H{"title": "First post", "text": "body of the *blog* post", "tags": []string{"Go", "web"}},
		basic("john", "cat"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	location := w.Header().Get("Location")
	require.NotEmpty(t, location)

	loc, err := url.Parse(location)
	require.NoError(t, err)
	w = s.do(http.MethodGet, loc.Path, nil, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	post := decode(t, w)
	assert.Equal(t, location, post["url"])
	assert.Equal(t, "First post", post["title"])
	assert.Equal(t, "body of the *blog* post", post["text"])
	assert.Equal(t, "<p>body of the <em>blog</em> post</p>\n", post["body_html"])
	assert.Equal(t, "john", post["author"])
	assert.ElementsMatch(t, []any{"Go", "web"}, post["tags"])

	w = s.do(http.MethodGet, "/api/v1.0/users/"+itoa(john.ID)+"/posts", nil, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 1, list["count"])
	assert.Nil(t, list["prev"])
	assert.Nil(t, list["next"])
	assert.Len(t, list["posts"], 1)

	w = s.do(http.MethodGet, "/api/v1.0/users/"+itoa(john.ID)+"/timeline", nil, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	timeline := decode(t, w)
	assert.EqualValues(t, 0, timeline["count"])
	assert.Empty(t, timeline["posts"])

	w = s.do(http.MethodPut, loc.Path, gin.H{"text": "updated body"}, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode(t, w)
	assert.Equal(t, "updated body", updated["text"])
	assert.Equal(t, "First post", updated["title"])
}

func TestAPIPostOwnerOrAdmin(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	s.user(t, "susan", true)
	s.user(t, "boss", true)

	w := s.do(http.MethodPost, "/api/v1.0/posts", gin.H{"title": "mine", "text": "text"}, basic("john", "cat"))
	require.Equal(t, http.StatusCreated, w.Code)
	loc, _ := url.Parse(w.Header().Get("Location"))

	w = s.do(http.MethodPut, loc.Path, gin.H{"title": "hijacked"}, basic("susan", "cat"))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "403 - forbidden", decode(t, w)["error"])

	w = s.do(http.MethodPut, loc.Path, gin.H{"title": "moderated"}, basic("boss", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "moderated", decode(t, w)["title"])

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, loc.Path, nil, basic("susan", "cat")).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, loc.Path, nil, basic("john", "cat")).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, loc.Path, nil).Code)
}

func TestAPIComments(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	s.user(t, "susan", true)

	w := s.do(http.MethodPost, "/api/v1.0/posts", gin.H{"title": "post", "text": "body"}, basic("susan", "cat"))
	require.Equal(t, http.StatusCreated, w.Code)
	post := decode(t, w)
	loc, _ := url.Parse(post["comments_url"].(string))

	w = s.do(http.MethodPost, loc.Path, gin.H{"text": ""}, basic("john", "cat"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, loc.Path, gin.H{"text": "Good [post](http://example.com)!"}, basic("john", "cat"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	comment := decode(t, w)
	assert.Equal(t, "john", comment["name"])
	assert.Equal(t, post["url"], comment["post_url"])
	assert.Contains(t, comment["body_html"], `<a href="http://example.com"`)
	commentLoc, _ := url.Parse(w.Header().Get("Location"))

	w = s.do(http.MethodPost, loc.Path, gin.H{"name": "Sue", "text": "thanks"}, basic("susan", "cat"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, loc.Path, nil, basic("john", "cat"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/v1.0/comments", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/v1.0/posts/"+itoa(uint(post["id"].(float64))), nil)
	assert.EqualValues(t, 2, decode(t, w)["comment_count"])

	assert.Equal(t, http.StatusForbidden, s.do(http.MethodDelete, commentLoc.Path, nil, basic("susan", "cat")).Code)
	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, commentLoc.Path, nil, basic("john", "cat")).Code)
}

func TestAPIPagination(t *testing.T) {
	s := newTestServer(t)
	john := s.user(t, "john", true)
	for i := 0; i < 12; i++ {
		_, err := s.content.CreatePost(context.Background(), john, services.PostInput{Title: "p" + itoa(uint(i)), Text: "x"})
		require.NoError(t, err)
	}

	w := s.do(http.MethodGet, "/api/v1.0/posts?per_page=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	first := decode(t, w)
	assert.EqualValues(t, 12, first["count"])
	assert.Nil(t, first["prev"])
	assert.Len(t, first["posts"], 5)
	next, _ := first["next"].(string)
	require.NotEmpty(t, next)
	assert.Contains(t, next, "page=2")

	nextURL, _ := url.Parse(next)
	w = s.do(http.MethodGet, nextURL.RequestURI(), nil)
	second := decode(t, w)
	assert.NotNil(t, second["prev"])
	assert.NotNil(t, second["next"])
}

func TestAPIUserFollowers(t *testing.T) {
	s := newTestServer(t)
	john := s.user(t, "john", true)
	susan := s.user(t, "susan", true)
	require.NoError(t, s.follows.Follow(context.Background(), john.ID, susan.ID))

	w := s.do(http.MethodGet, "/api/v1.0/users/"+itoa(susan.ID)+"/followers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	first := body["followers"].([]any)[0].(map[string]any)
	assert.Equal(t, "john", first["username"])

	w = s.do(http.MethodGet, "/api/v1.0/users/"+itoa(john.ID)+"/following", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/v1.0/users/"+itoa(susan.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	user := decode(t, w)
	assert.Equal(t, "susan", user["username"])
	assert.EqualValues(t, 0, user["post_count"])
	assert.Contains(t, user["avatar_url"], "gravatar.com/avatar/")
}

func webLogin(t *testing.T, s *testServer, login string) []*http.Cookie {
	t.Helper()
	w := s.do(http.MethodPost, "/auth/login", gin.H{"login": login, "password": "cat"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies
}

func TestWebRegisterConfirmFlow(t *testing.T) {
	s := newTestServer(t)
	var seen []services.IdentityChange
	s.events.Subscribe(func(_ context.Context, c services.IdentityChange) { seen = append(seen, c) })

	w := s.do(http.MethodPost, "/auth/register", gin.H{
		"username": "john", "email": "John@Example.com", "password": "cat", "password2": "dog",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "password2")

	w = s.do(http.MethodPost, "/auth/register", gin.H{
		"username": "john", "email": "John@Example.com", "password": "cat", "password2": "cat",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	emails := s.queue.emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "john@example.com", emails[0].To)
	_, rest, found := strings.Cut(emails[0].Body, "/auth/confirm/")
	require.True(t, found)
	token, _, _ := strings.Cut(rest, "\n")

	cookies := webLogin(t, s, "john@example.com")
	require.Len(t, seen, 1)
	assert.Equal(t, services.IdentityLoggedIn, seen[0].Kind)
	assert.Equal(t, "password", seen[0].Via)

	// unconfirmed users cannot publish
	w = s.do(http.MethodPost, "/post", gin.H{"title": "t", "text": "b"}, withCookies(cookies))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/auth/confirm/"+token, nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u, err := s.accounts.GetByUsername(context.Background(), "john")
	require.NoError(t, err)
	assert.True(t, u.Confirmed)

	w = s.do(http.MethodPost, "/post", gin.H{"title": "t", "text": "b", "tags": []string{"Go"}}, withCookies(cookies))
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodPost, "/auth/logout", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, seen, 2)
	assert.Equal(t, services.IdentityLoggedOut, seen[1].Kind)
}

func TestWebLoginRejectsBadPassword(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)

	w := s.do(http.MethodPost, "/auth/login", gin.H{"login": "john", "password": "dog"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/auth/me", nil).Code)
}

func TestWebFollowAndTimeline(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	susan := s.user(t, "susan", true)
	_, err := s.content.CreatePost(context.Background(), susan, services.PostInput{Title: "hello", Text: "world"})
	require.NoError(t, err)
	cookies := webLogin(t, s, "john")

	w := s.do(http.MethodPost, "/follow/john", nil, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/follow/susan", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/user/susan", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	profile := decode(t, w)["data"].(map[string]any)["user"].(map[string]any)
	assert.EqualValues(t, 1, profile["followers"])
	assert.Equal(t, true, profile["is_following"])

	w = s.do(http.MethodGet, "/timeline", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.Len(t, data["items"], 1)

	w = s.do(http.MethodPost, "/unfollow/susan", nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, s.follows.IsFollowing(context.Background(), 1, susan.ID))
}

func TestWebAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	s.user(t, "boss", true)

	johnCookies := webLogin(t, s, "john")
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/digest", nil, withCookies(johnCookies)).Code)

	bossCookies := webLogin(t, s, "boss")
	w := s.do(http.MethodPost, "/digest", nil, withCookies(bossCookies))
	assert.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodDelete, "/admin/users/john", nil, withCookies(bossCookies))
	require.Equal(t, http.StatusOK, w.Code)
	_, err := s.accounts.GetByUsername(context.Background(), "john")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestHealthAndWeb404(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil).Code)

	w := s.do(http.MethodGet, "/no/such/page", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.EqualValues(t, 40400, decode(t, w)["code"])
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}

func tokenFrom(t *testing.T, body, marker string) string {
	t.Helper()
	_, rest, found := strings.Cut(body, marker)
	require.True(t, found, body)
	token, _, _ := strings.Cut(rest, "\n")
	return token
}

func TestWebPasswordReset(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "susan", true)

	w := s.do(http.MethodPost, "/auth/reset", gin.H{"email": "nobody@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, s.queue.emails())

	w = s.do(http.MethodPost, "/auth/reset", gin.H{"email": "susan@example.com"})
	require.Equal(t, http.StatusOK, w.Code)
	emails := s.queue.emails()
	require.Len(t, emails, 1)
	token := tokenFrom(t, emails[0].Body, "/auth/reset/")

	reset := gin.H{"password": "dog", "password2": "dog"}
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/auth/reset/"+token, reset).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/auth/reset/"+token, reset).Code, "tokens are single use")

	w = s.do(http.MethodPost, "/auth/login", gin.H{"login": "susan", "password": "dog"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebChangeEmail(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	s.user(t, "susan", true)
	cookies := webLogin(t, s, "john")

	w := s.do(http.MethodPost, "/auth/change-email", gin.H{"email": "susan@example.com", "password": "cat"}, withCookies(cookies))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/auth/change-email", gin.H{"email": "john@new.example.com", "password": "dog"}, withCookies(cookies))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/auth/change-email", gin.H{"email": "john@new.example.com", "password": "cat"}, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code)
	emails := s.queue.emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "john@new.example.com", emails[0].To)

	w = s.do(http.MethodGet, "/auth/change-email/"+tokenFrom(t, emails[0].Body, "/auth/change-email/"), nil, withCookies(cookies))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	u, err := s.accounts.GetByUsername(context.Background(), "john")
	require.NoError(t, err)
	assert.Equal(t, "john@new.example.com", u.Email)
}

func TestWebOAuthGuards(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/auth/oauth/github/login", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/auth/oauth/github/callback?code=x&state=forged", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.EqualValues(t, 40015, decode(t, w)["code"])
}

func TestWebCaptcha(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/auth/captcha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.NotEmpty(t, data["captcha_id"])
	assert.Contains(t, data["image"], "data:image/png;base64,")
}

func TestWebTagPageNonASCII(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)
	cookies := webLogin(t, s, "john")

	w := s.do(http.MethodPost, "/post", gin.H{"title": "t", "text": "b", "tags": []string{"Écriture"}}, withCookies(cookies))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = s.do(http.MethodPost, "/post", gin.H{"title": "u", "text": "c", "tags": []string{"écriture"}}, withCookies(cookies))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/tag/"+url.PathEscape("Écriture"), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var n int64
	require.NoError(t, s.db.Model(&models.Tag{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

func TestAPITrailingSlash(t *testing.T) {
	s := newTestServer(t)
	s.user(t, "john", true)

	w := s.do(http.MethodPost, "/api/v1.0/posts/", gin.H{"title": "t", "text": "body"}, basic("john", "cat"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(http.MethodGet, "/api/v1.0/posts/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = s.do(http.MethodGet, "/api/v1.0/comments/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
