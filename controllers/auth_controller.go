package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"

	"github.com/cppla/aiblog/config"
	"github.com/cppla/aiblog/middleware"
	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/services"
	"github.com/cppla/aiblog/tasks"
	"github.com/cppla/aiblog/utils"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.]*$`)

// AuthDeps groups what AuthController needs.
type AuthDeps struct {
	Config   config.AppConfig
	Accounts *services.AccountService
	Events   *services.IdentityEvents
	Tasks    tasks.Enqueuer
	Captcha  *utils.Captcha
	States   *utils.StateStore
	Log      *zap.Logger
}

// AuthController handles browser account flows backed by the cookie session.
type AuthController struct {
	AuthDeps
}

func NewAuthController(deps AuthDeps) *AuthController {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &AuthController{AuthDeps: deps}
}

type registerRequest struct {
	Username      string `json:"username" binding:"required,max=64"`
	Email         string `json:"email" binding:"required,email,max=255"`
	Password      string `json:"password" binding:"required,max=128"`
	Password2     string `json:"password2" binding:"required,eqfield=Password"`
	CaptchaID     string `json:"captcha_id"`
	CaptchaAnswer string `json:"captcha_answer"`
}

// Register opens an unconfirmed account and mails the confirmation link.
func (a *AuthController) Register(ctx *gin.Context) {
	var req registerRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40001, "invalid request payload", fieldErrors(err))
		return
	}
	if !usernamePattern.MatchString(req.Username) {
		utils.Respond(ctx, http.StatusBadRequest, 40001, "invalid request payload", map[string]string{
			"username": "usernames must have only letters, numbers, dots or underscores",
		})
		return
	}
	if a.Config.RegisterCaptchaEnabled && !a.Captcha.Verify(req.CaptchaID, req.CaptchaAnswer) {
		utils.Error(ctx, http.StatusBadRequest, 40002, "invalid captcha")
		return
	}

	user, err := a.Accounts.Register(ctx.Request.Context(), services.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	a.sendConfirmation(ctx, user)
	utils.Success(ctx, gin.H{
		"message": "A confirmation email has been sent to you by email.",
		"user":    sessionUserJSON(*user),
	})
}

func (a *AuthController) sendConfirmation(ctx *gin.Context, user *models.User) {
	token, err := a.Accounts.GenerateConfirmationToken(user, a.Accounts.ConfirmTTL())
	if err != nil {
		a.Log.Error("confirmation token", zap.Uint("user_id", user.ID), zap.Error(err))
		return
	}
	link := siteURL(ctx, a.Config.ExternalURL, "/auth/confirm/"+token)
	a.mail(ctx, user.Email, "Confirm Your Account", fmt.Sprintf(
		"Dear %s,\n\nWelcome to the blog!\n\nTo confirm your account please open:\n\n%s\n\nThe link expires in %s.\n",
		user.Username, link, a.Accounts.ConfirmTTL()))
}

func (a *AuthController) mail(ctx *gin.Context, to, subject, body string) {
	if _, err := tasks.Email(ctx.Request.Context(), a.Tasks, to, subject, body); err != nil {
		a.Log.Error("enqueue email", zap.String("subject", subject), zap.Error(err))
	}
}

type loginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
	Remember bool   `json:"remember"`
}

// Login verifies credentials by username or email and starts a session.
func (a *AuthController) Login(ctx *gin.Context) {
	var req loginRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40003, "invalid request payload", fieldErrors(err))
		return
	}
	user, err := a.Accounts.Authenticate(ctx.Request.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			utils.Error(ctx, http.StatusUnauthorized, 40106, "invalid username or password")
			return
		}
		webFail(ctx, err)
		return
	}
	if err := a.startSession(ctx, user, req.Remember, "password"); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"user": sessionUserJSON(*user)})
}

func (a *AuthController) startSession(ctx *gin.Context, user *models.User, remember bool, via string) error {
	session := sessions.Default(ctx)
	session.Clear()
	session.Set(middleware.SessionUserIDKey, user.ID)
	if !remember {
		// browser-session cookie
		session.Options(sessions.Options{Path: "/", MaxAge: 0, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	}
	if err := session.Save(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.Events.Emit(ctx.Request.Context(), services.IdentityChange{Kind: services.IdentityLoggedIn, User: user, Via: via})
	return nil
}

// Logout ends the session.
func (a *AuthController) Logout(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	session := sessions.Default(ctx)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		webFail(ctx, err)
		return
	}
	a.Events.Emit(ctx.Request.Context(), services.IdentityChange{Kind: services.IdentityLoggedOut, User: user, Via: "session"})
	utils.Success(ctx, gin.H{"message": "You have been logged out."})
}

// Me returns the logged in account.
func (a *AuthController) Me(ctx *gin.Context) {
	utils.Success(ctx, gin.H{"user": sessionUserJSON(*middleware.CurrentUser(ctx))})
}

// Unconfirmed tells a logged in but unconfirmed user what to do next.
func (a *AuthController) Unconfirmed(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if user.Confirmed {
		utils.Success(ctx, gin.H{"confirmed": true})
		return
	}
	utils.Success(ctx, gin.H{
		"confirmed": false,
		"message":   "You have not confirmed your account yet. Check your inbox or request a new link.",
	})
}

// Confirm redeems a confirmation token for the logged in user.
func (a *AuthController) Confirm(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if user.Confirmed {
		utils.Success(ctx, gin.H{"message": "Your account is already confirmed."})
		return
	}
	if !a.Accounts.Confirm(ctx.Request.Context(), user, ctx.Param("token")) {
		utils.Error(ctx, http.StatusBadRequest, 40010, "The confirmation link is invalid or has expired.")
		return
	}
	utils.Success(ctx, gin.H{"message": "You have confirmed your account. Thanks!"})
}

// ResendConfirmation mails a fresh confirmation link.
func (a *AuthController) ResendConfirmation(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if user.Confirmed {
		utils.Success(ctx, gin.H{"message": "Your account is already confirmed."})
		return
	}
	a.sendConfirmation(ctx, user)
	utils.Success(ctx, gin.H{"message": "A new confirmation email has been sent to you by email."})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	Password    string `json:"password" binding:"required,max=128"`
	Password2   string `json:"password2" binding:"required,eqfield=Password"`
}

// ChangePassword replaces the password after checking the old one.
func (a *AuthController) ChangePassword(ctx *gin.Context) {
	var req changePasswordRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40004, "invalid request payload", fieldErrors(err))
		return
	}
	err := a.Accounts.ChangePassword(ctx.Request.Context(), middleware.CurrentUser(ctx), req.OldPassword, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid password")
		return
	}
	if err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "Your password has been updated."})
}

type resetRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// RequestReset mails a reset link when the address belongs to an account.
// The response is the same either way.
func (a *AuthController) RequestReset(ctx *gin.Context) {
	if middleware.CurrentUser(ctx) != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, "already logged in")
		return
	}
	var req resetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40007, "invalid request payload", fieldErrors(err))
		return
	}
	user, err := a.Accounts.GetByEmail(ctx.Request.Context(), req.Email)
	if err == nil {
		token, err := a.Accounts.GenerateResetToken(user, a.Accounts.ConfirmTTL())
		if err == nil {
			link := siteURL(ctx, a.Config.ExternalURL, "/auth/reset/"+token)
			a.mail(ctx, user.Email, "Reset Your Password", fmt.Sprintf(
				"Dear %s,\n\nTo reset your password open:\n\n%s\n\nIf you have not requested a password reset simply ignore this message.\n",
				user.Username, link))
		} else {
			a.Log.Error("reset token", zap.Uint("user_id", user.ID), zap.Error(err))
		}
	} else if !errors.Is(err, services.ErrNotFound) {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"message": "An email with instructions to reset your password has been sent to you."})
}

type passwordResetRequest struct {
	Password  string `json:"password" binding:"required,max=128"`
	Password2 string `json:"password2" binding:"required,eqfield=Password"`
}

// ResetPassword redeems a reset token.
func (a *AuthController) ResetPassword(ctx *gin.Context) {
	if middleware.CurrentUser(ctx) != nil {
		utils.Error(ctx, http.StatusBadRequest, 40006, "already logged in")
		return
	}
	var req passwordResetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40008, "invalid request payload", fieldErrors(err))
		return
	}
	if !a.Accounts.ResetPassword(ctx.Request.Context(), ctx.Param("token"), req.Password) {
		utils.Error(ctx, http.StatusBadRequest, 40011, "The reset link is invalid or has expired.")
		return
	}
	utils.Success(ctx, gin.H{"message": "Your password has been updated."})
}

type changeEmailRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required"`
}

// RequestEmailChange mails a confirmation link to the new address.
func (a *AuthController) RequestEmailChange(ctx *gin.Context) {
	var req changeEmailRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Respond(ctx, http.StatusBadRequest, 40009, "invalid request payload", fieldErrors(err))
		return
	}
	user := middleware.CurrentUser(ctx)
	if !a.Accounts.CheckPassword(user, req.Password) {
		utils.Error(ctx, http.StatusBadRequest, 40005, "invalid password")
		return
	}
	newEmail := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := a.Accounts.GetByEmail(ctx.Request.Context(), newEmail); err == nil {
		utils.Error(ctx, http.StatusConflict, 40902, "email already registered")
		return
	}
	token, err := a.Accounts.GenerateEmailChangeToken(user, newEmail, a.Accounts.ConfirmTTL())
	if err != nil {
		webFail(ctx, err)
		return
	}
	link := siteURL(ctx, a.Config.ExternalURL, "/auth/change-email/"+token)
	a.mail(ctx, newEmail, "Confirm your email address", fmt.Sprintf(
		"Dear %s,\n\nTo confirm your new email address open:\n\n%s\n", user.Username, link))
	utils.Success(ctx, gin.H{"message": "An email with instructions to confirm your new email address has been sent to you."})
}

// ChangeEmail redeems an email change token for the logged in user.
func (a *AuthController) ChangeEmail(ctx *gin.Context) {
	user := middleware.CurrentUser(ctx)
	if !a.Accounts.ChangeEmail(ctx.Request.Context(), user, ctx.Param("token")) {
		utils.Error(ctx, http.StatusBadRequest, 40012, "Invalid request.")
		return
	}
	utils.Success(ctx, gin.H{"message": "Your email address has been updated.", "email": user.Email})
}

// IssueCaptcha returns a registration captcha image.
func (a *AuthController) IssueCaptcha(ctx *gin.Context) {
	id, image, err := a.Captcha.Generate()
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50001, "failed to generate captcha")
		return
	}
	utils.Success(ctx, gin.H{"captcha_id": id, "image": image})
}

// OAuthRedirect returns the provider authorization URL with a one-time state.
func (a *AuthController) OAuthRedirect(ctx *gin.Context) {
	provider := ctx.Param("provider")
	cfg, err := a.oauthConfig(ctx, provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40013, err.Error())
		return
	}
	state := a.States.New(ctx.Request.Context())
	utils.Success(ctx, gin.H{"authorization_url": cfg.AuthCodeURL(state), "state": state})
}

// OAuthCallback exchanges the code, links or creates the account and starts a session.
func (a *AuthController) OAuthCallback(ctx *gin.Context) {
	provider := ctx.Param("provider")
	code, state := ctx.Query("code"), ctx.Query("state")
	if code == "" || state == "" {
		utils.Error(ctx, http.StatusBadRequest, 40014, "missing code or state")
		return
	}
	if !a.States.Consume(ctx.Request.Context(), state) {
		utils.Error(ctx, http.StatusBadRequest, 40015, "invalid or expired state")
		return
	}
	cfg, err := a.oauthConfig(ctx, provider)
	if err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40013, err.Error())
		return
	}
	tok, err := cfg.Exchange(ctx.Request.Context(), code)
	if err != nil {
		a.Log.Warn("oauth exchange", zap.String("provider", provider), zap.Error(err))
		utils.Error(ctx, http.StatusBadRequest, 40016, "failed to exchange code")
		return
	}
	profile, err := fetchOAuthProfile(ctx.Request.Context(), provider, cfg, tok)
	if err != nil {
		a.Log.Warn("oauth profile", zap.String("provider", provider), zap.Error(err))
		utils.Error(ctx, http.StatusBadGateway, 50201, "failed to load provider profile")
		return
	}
	user, err := a.Accounts.FindOrCreateOAuthUser(ctx.Request.Context(), services.OAuthIdentity{
		Provider:      provider,
		ProviderID:    profile.ID,
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Username:      profile.Username,
	})
	if err != nil {
		webFail(ctx, err)
		return
	}
	if err := a.startSession(ctx, user, true, provider); err != nil {
		webFail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"user": sessionUserJSON(*user)})
}

func (a *AuthController) oauthConfig(ctx *gin.Context, provider string) (*oauth2.Config, error) {
	redirect := siteURL(ctx, a.Config.ExternalURL, "/auth/oauth/"+provider+"/callback")
	switch provider {
	case "github":
		if a.Config.GitHubClientID == "" || a.Config.GitHubClientSecret == "" {
			return nil, fmt.Errorf("github oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     a.Config.GitHubClientID,
			ClientSecret: a.Config.GitHubClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		}, nil
	case "google":
		if a.Config.GoogleClientID == "" || a.Config.GoogleClientSecret == "" {
			return nil, fmt.Errorf("google oauth not configured")
		}
		return &oauth2.Config{
			ClientID:     a.Config.GoogleClientID,
			ClientSecret: a.Config.GoogleClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     google.Endpoint,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

type oauthProfile struct {
	ID            string
	Username      string
	Email         string
	EmailVerified bool
}

var (
	githubAPIBase     = "https://api.github.com"
	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

// fetchOAuthProfile loads the provider account. Email is only reported as verified
// when the provider says so.
func fetchOAuthProfile(ctx context.Context, provider string, cfg *oauth2.Config, tok *oauth2.Token) (*oauthProfile, error) {
	client := cfg.Client(ctx, tok)
	switch provider {
	case "github":
		var user struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
		}
		if err := getJSON(client, githubAPIBase+"/user", &user); err != nil {
			return nil, err
		}
		profile := &oauthProfile{ID: fmt.Sprintf("%d", user.ID), Username: user.Login}
		// the public /user email is not necessarily verified
		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		if err := getJSON(client, githubAPIBase+"/user/emails", &emails); err == nil {
			for _, e := range emails {
				if e.Primary && e.Verified {
					profile.Email, profile.EmailVerified = e.Email, true
					break
				}
			}
		}
		return profile, nil
	case "google":
		var user struct {
			ID            string `json:"id"`
			Email         string `json:"email"`
			VerifiedEmail bool   `json:"verified_email"`
			Name          string `json:"name"`
		}
		if err := getJSON(client, googleUserinfoURL, &user); err != nil {
			return nil, err
		}
		username := user.Email
		if i := strings.IndexByte(username, '@'); i > 0 {
			username = username[:i]
		}
		return &oauthProfile{ID: user.ID, Username: username, Email: user.Email, EmailVerified: user.VerifiedEmail}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func getJSON(client *http.Client, url string, v any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
