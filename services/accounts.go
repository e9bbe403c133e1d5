package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/aiblog/models"
	"github.com/cppla/aiblog/utils"
)

// AccountOptions carries the tunables of AccountService.
type AccountOptions struct {
	AdminUsernames []string
	ConfirmTTL     time.Duration
	AuthTTL        time.Duration
	AuthCacheTTL   time.Duration
}

// AccountService owns credentials, tokens and profile data of users.
type AccountService struct {
	db     *gorm.DB
	tokens *TokenService
	cache  *utils.Cache
	log    *zap.Logger
	opts   AccountOptions
	admins map[string]bool
}

func NewAccountService(db *gorm.DB, tokens *TokenService, cache *utils.Cache, log *zap.Logger, opts AccountOptions) *AccountService {
	if opts.ConfirmTTL <= 0 {
		opts.ConfirmTTL = time.Hour
	}
	if opts.AuthTTL <= 0 {
		opts.AuthTTL = 10 * time.Minute
	}
	if opts.AuthCacheTTL <= 0 {
		opts.AuthCacheTTL = time.Minute
	}
	admins := map[string]bool{}
	for _, name := range opts.AdminUsernames {
		admins[strings.ToLower(name)] = true
	}
	return &AccountService{db: db, tokens: tokens, cache: cache, log: log, opts: opts, admins: admins}
}

// ConfirmTTL is the default lifetime of confirmation, reset and email-change tokens.
func (s *AccountService) ConfirmTTL() time.Duration { return s.opts.ConfirmTTL }

// AuthTTL is the lifetime of API bearer tokens.
func (s *AccountService) AuthTTL() time.Duration { return s.opts.AuthTTL }

// RegisterInput is the data needed to open an account.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an unconfirmed user and grants the default roles.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: username, email and password are required", ErrInvalidInput)
	}

	user := &models.User{Username: in.Username, Email: in.Email, AvatarHash: utils.AvatarHash(in.Email)}
	if err := s.SetPassword(user, in.Password); err != nil {
		return nil, err
	}

	roles := []string{models.RoleDefault, models.RolePoster}
	if s.admins[strings.ToLower(in.Username)] {
		roles = []string{models.RoleAdmin}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.ensureAvailable(tx, 0, in.Username, in.Email); err != nil {
			return err
		}
		granted, err := ensureRoles(tx, roles...)
		if err != nil {
			return err
		}
		user.Roles = granted
		return tx.Create(user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", in.Username, err)
	}
	s.log.Info("user registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

func (s *AccountService) ensureAvailable(tx *gorm.DB, selfID uint, username, email string) error {
	var n int64
	if username != "" {
		if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", username, selfID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrUsernameTaken
		}
	}
	if email != "" {
		if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, selfID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrEmailTaken
		}
	}
	return nil
}

// ensureRoles loads the named roles, creating missing ones.
func ensureRoles(tx *gorm.DB, names ...string) ([]models.Role, error) {
	roles := make([]models.Role, 0, len(names))
	for _, name := range names {
		role := models.Role{Name: name}
		if err := tx.Where(models.Role{Name: name}).FirstOrCreate(&role).Error; err != nil {
			return nil, fmt.Errorf("role %s: %w", name, err)
		}
		roles = append(roles, role)
	}
	return roles, nil
}

// Authenticate looks the user up by username or email and checks the password.
func (s *AccountService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").
		Where("username = ? OR email = ?", login, strings.ToLower(login)).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.CheckPassword(&user, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// SetPassword stores a salted hash on u; the caller persists it.
func (s *AccountService) SetPassword(u *models.User, plain string) error {
	hash, err := utils.HashPassword(plain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	u.PasswordHash = hash
	return nil
}

// CheckPassword verifies plain against the stored hash.
func (s *AccountService) CheckPassword(u *models.User, plain string) bool {
	return u != nil && utils.CheckPassword(u.PasswordHash, plain)
}

// ChangePassword replaces the password after verifying the old one.
func (s *AccountService) ChangePassword(ctx context.Context, u *models.User, oldPassword, newPassword string) error {
	if !s.CheckPassword(u, oldPassword) {
		return ErrInvalidCredentials
	}
	if err := s.SetPassword(u, newPassword); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Model(u).Update("password_hash", u.PasswordHash).Error
}

// GenerateConfirmationToken signs u's id under the confirm claim.
func (s *AccountService) GenerateConfirmationToken(u *models.User, ttl time.Duration) (string, error) {
	return s.tokens.Issue(ClaimConfirm, u.ID, nil, s.ttlOr(ttl))
}

// Confirm flips u to confirmed when token was issued for u and has not expired.
func (s *AccountService) Confirm(ctx context.Context, u *models.User, token string) bool {
	id, _, ok := s.tokens.Parse(token, ClaimConfirm)
	if !ok || u == nil || id != u.ID {
		return false
	}
	if u.Confirmed {
		return true
	}
	if err := s.db.WithContext(ctx).Model(u).Update("confirmed", true).Error; err != nil {
		s.log.Warn("confirm failed", zap.Uint("user_id", u.ID), zap.Error(err))
		return false
	}
	u.Confirmed = true
	return true
}

// GenerateResetToken signs u's id and current email under the reset claim.
func (s *AccountService) GenerateResetToken(u *models.User, ttl time.Duration) (string, error) {
	return s.tokens.Issue(ClaimReset, u.ID, map[string]any{"email": u.Email}, s.ttlOr(ttl))
}

// ResetPassword sets a new password for the account the token names.
// The token is rejected once used or when the account's email changed since issue.
func (s *AccountService) ResetPassword(ctx context.Context, token, newPassword string) bool {
	id, claims, ok := s.tokens.Parse(token, ClaimReset)
	if !ok || newPassword == "" {
		return false
	}
	user, err := s.GetByID(ctx, id)
	if err != nil || !strings.EqualFold(stringClaim(claims, "email"), user.Email) {
		return false
	}
	if err := s.SetPassword(user, newPassword); err != nil {
		return false
	}
	if !s.consume(ctx, token, claims) {
		return false
	}
	if err := s.db.WithContext(ctx).Model(user).Update("password_hash", user.PasswordHash).Error; err != nil {
		s.log.Warn("reset password failed", zap.Uint("user_id", user.ID), zap.Error(err))
		return false
	}
	return true
}

// GenerateEmailChangeToken signs u's id and the requested address.
func (s *AccountService) GenerateEmailChangeToken(u *models.User, newEmail string, ttl time.Duration) (string, error) {
	newEmail = strings.ToLower(strings.TrimSpace(newEmail))
	if newEmail == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	return s.tokens.Issue(ClaimChangeEmail, u.ID, map[string]any{"new_email": newEmail}, s.ttlOr(ttl))
}

// ChangeEmail moves u to the address inside token unless another account took it meanwhile.
func (s *AccountService) ChangeEmail(ctx context.Context, u *models.User, token string) bool {
	id, claims, ok := s.tokens.Parse(token, ClaimChangeEmail)
	if !ok || u == nil || id != u.ID {
		return false
	}
	newEmail := stringClaim(claims, "new_email")
	if newEmail == "" {
		return false
	}
	if err := s.ensureAvailable(s.db.WithContext(ctx), u.ID, "", newEmail); err != nil {
		return false
	}
	if !s.consume(ctx, token, claims) {
		return false
	}
	hash := utils.AvatarHash(newEmail)
	err := s.db.WithContext(ctx).Model(u).Updates(map[string]any{"email": newEmail, "avatar_hash": hash}).Error
	if err != nil {
		s.log.Warn("change email failed", zap.Uint("user_id", u.ID), zap.Error(err))
		return false
	}
	u.Email, u.AvatarHash = newEmail, hash
	return true
}

// consume marks a single-use token as spent until it would have expired anyway.
func (s *AccountService) consume(ctx context.Context, token string, claims map[string]any) bool {
	ttl := ExpiresAt(claims).Sub(s.tokens.Now())
	if ttl <= 0 {
		return false
	}
	return s.cache.SetNX(ctx, "token:used:"+tokenDigest(token), []byte("1"), ttl+time.Second)
}

// GenerateAuthToken issues an API bearer token.
func (s *AccountService) GenerateAuthToken(u *models.User) (string, error) {
	return s.tokens.Issue(ClaimAuth, u.ID, nil, s.opts.AuthTTL)
}

// VerifyAuthToken returns the user a bearer token was issued to, or nil.
// Verified tokens are remembered briefly so repeated requests skip signature checks.
func (s *AccountService) VerifyAuthToken(ctx context.Context, token string) *models.User {
	if token == "" {
		return nil
	}
	key := authCacheKey(token)
	if b, ok := s.cache.Get(ctx, key); ok {
		if id, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			if user, err := s.GetByID(ctx, uint(id)); err == nil {
				return user
			}
		}
		return nil
	}

	id, claims, ok := s.tokens.Parse(token, ClaimAuth)
	if !ok {
		return nil
	}
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil
	}
	ttl := s.opts.AuthCacheTTL
	if remaining := ExpiresAt(claims).Sub(s.tokens.Now()); remaining < ttl {
		ttl = remaining
	}
	if ttl > 0 {
		s.cache.Set(ctx, key, []byte(strconv.FormatUint(uint64(id), 10)), ttl)
	}
	return user
}

func tokenDigest(token string) string {
	return strconv.FormatUint(xxhash.Sum64String(token), 16)
}

func authCacheKey(token string) string {
	return "auth:token:" + tokenDigest(token)
}

func (s *AccountService) ttlOr(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return s.opts.ConfirmTTL
	}
	return ttl
}

// ProfileInput holds editable profile fields.
type ProfileInput struct {
	Name     string
	Location string
	AboutMe  string
}

// UpdateProfile saves the editable profile fields of u.
func (s *AccountService) UpdateProfile(ctx context.Context, u *models.User, in ProfileInput) error {
	in.Name = utils.StripTags(in.Name)
	in.Location = utils.StripTags(in.Location)
	in.AboutMe = strings.TrimSpace(in.AboutMe)
	err := s.db.WithContext(ctx).Model(u).Updates(map[string]any{
		"name":     in.Name,
		"location": in.Location,
		"about_me": in.AboutMe,
	}).Error
	if err != nil {
		return err
	}
	u.Name, u.Location, u.AboutMe = in.Name, in.Location, in.AboutMe
	return nil
}

// Ping records that the user was active now.
func (s *AccountService) Ping(ctx context.Context, userID uint) error {
	return s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("last_seen", s.tokens.Now()).Error
}

// OAuthIdentity is what a third-party provider tells us about a user.
type OAuthIdentity struct {
	Provider      string
	ProviderID    string
	Email         string
	EmailVerified bool
	Username      string
}

// FindOrCreateOAuthUser links a provider identity to an account, creating a confirmed one when needed.
// Only an email the provider has verified may link to an existing account.
func (s *AccountService) FindOrCreateOAuthUser(ctx context.Context, id OAuthIdentity) (*models.User, error) {
	if id.Provider == "" || id.ProviderID == "" {
		return nil, fmt.Errorf("%w: provider identity is incomplete", ErrInvalidInput)
	}
	id.Email = strings.ToLower(strings.TrimSpace(id.Email))
	if !id.EmailVerified {
		id.Email = ""
	}
	db := s.db.WithContext(ctx)

	var user models.User
	err := db.Preload("Roles").Where("provider = ? AND provider_id = ?", id.Provider, id.ProviderID).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if id.Email != "" {
		err = db.Preload("Roles").Where("email = ?", id.Email).First(&user).Error
		if err == nil {
			updates := map[string]any{"provider": id.Provider, "provider_id": id.ProviderID, "confirmed": true}
			if err := db.Model(&user).Updates(updates).Error; err != nil {
				return nil, err
			}
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	base := strings.TrimSpace(id.Username)
	if base == "" {
		base = id.Provider + "_" + id.ProviderID
	}
	email := id.Email
	if email == "" {
		email = fmt.Sprintf("%s+%s@users.noreply.local", id.Provider, id.ProviderID)
	}
	user = models.User{
		Email:      email,
		Confirmed:  true,
		Provider:   id.Provider,
		ProviderID: id.ProviderID,
		AvatarHash: utils.AvatarHash(email),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		name := base
		for i := 1; ; i++ {
			if err := s.ensureAvailable(tx, 0, name, ""); err == nil {
				break
			} else if !errors.Is(err, ErrUsernameTaken) {
				return err
			}
			name = fmt.Sprintf("%s%d", base, i)
		}
		user.Username = name
		roles, err := ensureRoles(tx, models.RoleDefault, models.RolePoster)
		if err != nil {
			return err
		}
		user.Roles = roles
		return tx.Create(&user).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create %s user: %w", id.Provider, err)
	}
	return &user, nil
}

// GetByID loads a user with roles.
func (s *AccountService) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").First(&user, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetByUsername loads a user with roles.
func (s *AccountService) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").Where("username = ?", username).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetByEmail loads a user with roles.
func (s *AccountService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Preload("Roles").
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// AssignRole grants the named role to u.
func (s *AccountService) AssignRole(ctx context.Context, u *models.User, name string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roles, err := ensureRoles(tx, name)
		if err != nil {
			return err
		}
		if err := tx.Model(u).Association("Roles").Append(&roles[0]); err != nil {
			return err
		}
		return nil
	})
}

// DeleteUser removes a user together with follow edges, posts, comments and role links.
func (s *AccountService) DeleteUser(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, id).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("follower_id = ? OR followed_id = ?", id, id).Delete(&models.Follow{}).Error; err != nil {
			return err
		}
		postIDs := tx.Model(&models.Post{}).Select("id").Where("user_id = ?", id)
		if err := tx.Where("post_id IN (?) OR user_id = ?", postIDs, id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM posts_tags WHERE post_id IN (?)", postIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM roles_users WHERE user_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
