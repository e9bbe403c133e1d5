package routes

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/controllers"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/tasks"
	"github.com/cppla/aiblog/utils"
)

const sessionName = "aiblog_session"

// Deps are the long lived services shared by every handler.
type Deps struct {
	Config   config.AppConfig
	Log      *zap.Logger
	Cache    *utils.Cache
	Accounts *services.AccountService
	Content  *services.ContentService
	Follows  *services.FollowService
	Events   *services.IdentityEvents
	Tasks    tasks.Enqueuer
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(d Deps) *gin.Engine {
	cfg := d.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
	useJSONFieldNames()

	r := gin.New()
	access := d.Log
	if cfg.GinPath != "" {
		// access log goes to its own rolling file
		access = zap.New(zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(utils.NewRollingFileLogger(cfg.GinPath, cfg)),
			zap.InfoLevel,
		))
	}
	r.Use(utils.Ginzap(access))
	r.Use(utils.RecoveryWithZap(d.Log))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Location"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	registerAPI(r, d)
	registerWeb(r, d)

	r.NoRoute(func(ctx *gin.Context) {
		if strings.HasPrefix(ctx.Request.URL.Path, "/api/") {
			utils.APIError(ctx, http.StatusNotFound, "resource not found")
			return
		}
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}

func registerAPI(r *gin.Engine, d Deps) {
	cfg := d.Config
	tokenController := controllers.NewAPIAuthController(d.Accounts)
	postController := controllers.NewAPIPostController(d.Content, cfg.ExternalURL, cfg.PostsPerPage)
	commentController := controllers.NewAPICommentController(d.Content, cfg.ExternalURL, cfg.CommentsPerPage)
	userController := controllers.NewAPIUserController(d.Accounts, d.Content, d.Follows, cfg.ExternalURL, cfg.PostsPerPage)

	api := r.Group("/api/v1.0")
	api.Use(middleware.APIAuth(d.Accounts), middleware.LastSeen(d.Accounts, d.Log))
	write := middleware.APIWriteRequired()
	// every resource answers with and without a trailing slash; no redirects
	route := func(method, path string, handlers ...gin.HandlerFunc) {
		api.Handle(method, path, handlers...)
		api.Handle(method, path+"/", handlers...)
	}

	route(http.MethodGet, "/token", tokenController.Token)

	route(http.MethodGet, "/posts", postController.List)
	route(http.MethodPost, "/posts", write, postController.Create)
	route(http.MethodGet, "/posts/:id", postController.Get)
	route(http.MethodPut, "/posts/:id", write, postController.Update)
	route(http.MethodDelete, "/posts/:id", write, postController.Delete)
	route(http.MethodGet, "/posts/:id/comments", commentController.ListForPost)
	route(http.MethodPost, "/posts/:id/comments", write, commentController.Create)

	route(http.MethodGet, "/comments", commentController.List)
	route(http.MethodGet, "/comments/:id", commentController.Get)
	route(http.MethodDelete, "/comments/:id", write, commentController.Delete)

	route(http.MethodGet, "/users/:id", userController.Get)
	route(http.MethodGet, "/users/:id/posts", userController.Posts)
	route(http.MethodGet, "/users/:id/timeline", userController.Timeline)
	route(http.MethodGet, "/users/:id/followers", userController.Followers)
	route(http.MethodGet, "/users/:id/following", userController.Following)
}

func registerWeb(r *gin.Engine, d Deps) {
	cfg := d.Config
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   cfg.SessionMaxAgeSeconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	authController := controllers.NewAuthController(controllers.AuthDeps{
		Config:   cfg,
		Accounts: d.Accounts,
		Events:   d.Events,
		Tasks:    d.Tasks,
		Captcha:  utils.NewCaptcha(d.Cache),
		States:   utils.NewStateStore(d.Cache),
		Log:      d.Log,
	})
	blogController := controllers.NewBlogController(controllers.BlogDeps{
		Config:   cfg,
		Accounts: d.Accounts,
		Content:  d.Content,
		Follows:  d.Follows,
		Tasks:    d.Tasks,
		Log:      d.Log,
	})

	web := r.Group("")
	web.Use(sessions.Sessions(sessionName, store), middleware.SessionUser(d.Accounts), middleware.LastSeen(d.Accounts, d.Log))
	login := middleware.LoginRequired()
	confirmed := middleware.ConfirmedRequired()
	admin := middleware.RequireRole(models.RoleAdmin)

	authGroup := web.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware(cfg.RateLimitPerMinute))
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", login, authController.Logout)
	authGroup.GET("/me", login, authController.Me)
	authGroup.GET("/unconfirmed", login, authController.Unconfirmed)
	authGroup.GET("/confirm/:token", login, authController.Confirm)
	authGroup.POST("/confirm", login, authController.ResendConfirmation)
	authGroup.POST("/change-password", login, authController.ChangePassword)
	authGroup.POST("/reset", authController.RequestReset)
	authGroup.POST("/reset/:token", authController.ResetPassword)
	authGroup.POST("/change-email", login, authController.RequestEmailChange)
	authGroup.GET("/change-email/:token", login, authController.ChangeEmail)
	authGroup.GET("/captcha", authController.IssueCaptcha)
	authGroup.GET("/oauth/:provider/login", authController.OAuthRedirect)
	authGroup.GET("/oauth/:provider/callback", authController.OAuthCallback)

	web.GET("/", blogController.Home)
	web.GET("/all", login, blogController.ShowAll)
	web.GET("/followed", login, blogController.ShowFollowed)
	web.GET("/timeline", login, blogController.Timeline)

	web.POST("/post", confirmed, blogController.NewPost)
	web.GET("/post/:id", blogController.Post)
	web.PUT("/post/:id", confirmed, blogController.EditPost)
	web.DELETE("/post/:id", confirmed, blogController.DeletePost)
	web.POST("/post/:id/comments", confirmed, blogController.Comment)
	web.DELETE("/comment/:id", confirmed, blogController.DeleteComment)
	web.GET("/tag/:title", blogController.Tag)

	web.GET("/user/:username", blogController.User)
	web.PUT("/profile", login, blogController.EditProfile)
	web.POST("/follow/:username", confirmed, blogController.Follow)
	web.POST("/unfollow/:username", confirmed, blogController.Unfollow)
	web.GET("/followers/:username", blogController.Followers)
	web.GET("/followed-by/:username", blogController.FollowedBy)

	web.GET("/digest", blogController.Digest)
	web.POST("/digest", admin, blogController.SendDigest)
	web.POST("/admin/users/:username/roles", admin, blogController.AssignRole)
	web.DELETE("/admin/users/:username", admin, blogController.DeleteUser)
}

// useJSONFieldNames makes validation errors report json field names.
func useJSONFieldNames() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
}
