package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via env files or the environment.
type AppConfig struct {
	AppPort        string
	SecretKey      string
	SessionSecret  string
	ExternalURL    string
	AllowedOrigins []string
	AdminUsernames []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver    string
	DatabaseURI string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	// Redis for caching and token bookkeeping; empty host keeps everything in memory
	RedisHost     string
	RedisPort     int
	RedisDB       int
	RedisPassword string
	// SMTP
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      bool
	// NSQ task transport; empty NSQDAddr runs tasks in-process
	NSQDAddr       string
	NSQLookupdAddr string
	TaskTopic      string
	TaskChannel    string
	// Task retry policy and digest schedule
	TaskMaxRetries    int
	TaskRetryDelaySec int
	DigestEnabled     bool
	DigestRecipients  []string
	// Token lifetimes in seconds
	ConfirmTokenTTLSec   int
	AuthTokenTTLSec      int
	AuthTokenCacheSec    int
	SessionMaxAgeSeconds int
	// Pagination
	PostsPerPage     int
	CommentsPerPage  int
	FollowersPerPage int
	TopPostsNum      int
	TopTagsNum       int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Rate limiting and registration
	RateLimitPerMinute     int
	RegisterCaptchaEnabled bool
	// OAuth providers
	GitHubClientID     string
	GitHubClientSecret string
	GoogleClientID     string
	GoogleClientSecret string
}

// ErrMissingSecret is returned by Load when no signing secret is configured.
var ErrMissingSecret = errors.New("SECRET_KEY must be set")

// Load builds the configuration. Precedence: .env -> JSON file -> defaults -> environment overrides.
// A missing .env or JSON file is not an error.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig

	_ = godotenv.Load()

	if path != "" {
		if err := loadJSONConfig(path, &cfg); err != nil {
			return cfg, fmt.Errorf("read %s: %w", path, err)
		}
	}

	applyDefaults(&cfg)

	if err := applyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}

	if cfg.SecretKey == "" {
		return cfg, ErrMissingSecret
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = cfg.SecretKey
	}
	return cfg, nil
}

type section map[string]any

func (s section) str(key string) string {
	if v, ok := s[key].(string); ok {
		return v
	}
	return ""
}

func (s section) num(key string) int {
	switch t := s[key].(type) {
	case float64:
		return int(t)
	case json.Number:
		i, _ := t.Int64()
		return int(i)
	}
	return 0
}

func (s section) flag(key string) (bool, bool) {
	b, ok := s[key].(bool)
	return b, ok
}

func (s section) list(key string) []string {
	arr, ok := s[key].([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, it := range arr {
		if v, ok := it.(string); ok {
			res = append(res, v)
		}
	}
	return res
}

func sub(raw map[string]any, name string) section {
	if m, ok := raw[name].(map[string]any); ok {
		return section(m)
	}
	return section{}
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setBool(dst *bool, s section, key string) {
	if b, ok := s.flag(key); ok {
		*dst = b
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = v
	}
}

// loadJSONConfig reads the grouped JSON file into out. A missing file is ignored; invalid JSON is returned.
func loadJSONConfig(path string, out *AppConfig) error {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var raw map[string]any
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return err
	}

	app := sub(raw, "app")
	setStr(&out.AppPort, app.str("AppPort"))
	setStr(&out.SecretKey, app.str("SecretKey"))
	setStr(&out.SessionSecret, app.str("SessionSecret"))
	setStr(&out.ExternalURL, app.str("ExternalURL"))
	setStr(&out.GinMode, app.str("GinMode"))
	setStr(&out.GinPath, app.str("GinPath"))
	setList(&out.AllowedOrigins, app.list("AllowedOrigins"))
	setList(&out.AdminUsernames, app.list("AdminUsernames"))

	dbs := sub(raw, "database")
	setStr(&out.DBDriver, dbs.str("Driver"))
	setStr(&out.DatabaseURI, dbs.str("DatabaseURI"))
	setStr(&out.DBHost, dbs.str("DBHost"))
	setStr(&out.DBPort, dbs.str("DBPort"))
	setStr(&out.DBUser, dbs.str("DBUser"))
	setStr(&out.DBPassword, dbs.str("DBPassword"))
	setStr(&out.DBName, dbs.str("DBName"))

	rds := sub(raw, "redis")
	setStr(&out.RedisHost, rds.str("RedisHost"))
	setInt(&out.RedisPort, rds.num("RedisPort"))
	setInt(&out.RedisDB, rds.num("RedisDB"))
	setStr(&out.RedisPassword, rds.str("RedisPassword"))

	sm := sub(raw, "smtp")
	setStr(&out.SMTPHost, sm.str("SMTPHost"))
	setInt(&out.SMTPPort, sm.num("SMTPPort"))
	setStr(&out.SMTPUsername, sm.str("SMTPUsername"))
	setStr(&out.SMTPPassword, sm.str("SMTPPassword"))
	setStr(&out.SMTPFrom, sm.str("SMTPFrom"))
	setStr(&out.SMTPFromName, sm.str("SMTPFromName"))
	setBool(&out.SMTPTLS, sm, "SMTPTLS")

	nq := sub(raw, "nsq")
	setStr(&out.NSQDAddr, nq.str("NSQDAddr"))
	setStr(&out.NSQLookupdAddr, nq.str("NSQLookupdAddr"))
	setStr(&out.TaskTopic, nq.str("Topic"))
	setStr(&out.TaskChannel, nq.str("Channel"))

	tk := sub(raw, "tasks")
	setInt(&out.TaskMaxRetries, tk.num("MaxRetries"))
	setInt(&out.TaskRetryDelaySec, tk.num("RetryDelaySec"))
	setBool(&out.DigestEnabled, tk, "DigestEnabled")
	setList(&out.DigestRecipients, tk.list("DigestRecipients"))

	tok := sub(raw, "tokens")
	setInt(&out.ConfirmTokenTTLSec, tok.num("ConfirmTTLSec"))
	setInt(&out.AuthTokenTTLSec, tok.num("AuthTTLSec"))
	setInt(&out.AuthTokenCacheSec, tok.num("AuthCacheSec"))
	setInt(&out.SessionMaxAgeSeconds, tok.num("SessionMaxAgeSec"))

	pg := sub(raw, "pagination")
	setInt(&out.PostsPerPage, pg.num("PostsPerPage"))
	setInt(&out.CommentsPerPage, pg.num("CommentsPerPage"))
	setInt(&out.FollowersPerPage, pg.num("FollowersPerPage"))
	setInt(&out.TopPostsNum, pg.num("TopPostsNum"))
	setInt(&out.TopTagsNum, pg.num("TopTagsNum"))

	lg := sub(raw, "log")
	setStr(&out.LogLevel, lg.str("Level"))
	setStr(&out.LogPath, lg.str("Path"))
	setInt(&out.LogMaxSizeMB, lg.num("MaxSizeMB"))
	setInt(&out.LogMaxBackups, lg.num("MaxBackups"))
	setInt(&out.LogMaxAgeDays, lg.num("MaxAgeDays"))
	setBool(&out.LogCompress, lg, "Compress")

	rg := sub(raw, "register")
	setInt(&out.RateLimitPerMinute, rg.num("RateLimitPerMinute"))
	setBool(&out.RegisterCaptchaEnabled, rg, "CaptchaEnabled")

	oa := sub(raw, "oauth")
	setStr(&out.GitHubClientID, oa.str("GitHubClientID"))
	setStr(&out.GitHubClientSecret, oa.str("GitHubClientSecret"))
	setStr(&out.GoogleClientID, oa.str("GoogleClientID"))
	setStr(&out.GoogleClientSecret, oa.str("GoogleClientSecret"))

	return nil
}

// applyDefaults sets sane defaults for zero-value fields.
func applyDefaults(c *AppConfig) {
	if c.AppPort == "" {
		c.AppPort = "8080"
	}
	if c.ExternalURL == "" {
		c.ExternalURL = "http://localhost:" + c.AppPort
	}
	if c.GinMode == "" {
		c.GinMode = "release"
	}
	if c.GinPath == "" {
		c.GinPath = "logs/go_gin.log"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.DBDriver == "" {
		c.DBDriver = "mysql"
	}
	if c.DBHost == "" {
		c.DBHost = "127.0.0.1"
	}
	if c.DBPort == "" {
		c.DBPort = "3306"
	}
	if c.DBUser == "" {
		c.DBUser = "root"
	}
	if c.DBName == "" {
		c.DBName = "aiblog"
	}
	if c.RedisPort == 0 {
		c.RedisPort = 6379
	}
	if c.SMTPPort == 0 {
		c.SMTPPort = 587
	}
	if c.TaskTopic == "" {
		c.TaskTopic = "aiblog_tasks"
	}
	if c.TaskChannel == "" {
		c.TaskChannel = "worker"
	}
	if c.TaskMaxRetries == 0 {
		c.TaskMaxRetries = 3
	}
	if c.TaskRetryDelaySec == 0 {
		c.TaskRetryDelaySec = 60
	}
	if c.ConfirmTokenTTLSec == 0 {
		c.ConfirmTokenTTLSec = 3600
	}
	if c.AuthTokenTTLSec == 0 {
		c.AuthTokenTTLSec = 600
	}
	if c.AuthTokenCacheSec == 0 {
		c.AuthTokenCacheSec = 60
	}
	if c.SessionMaxAgeSeconds == 0 {
		c.SessionMaxAgeSeconds = 86400 * 7
	}
	if c.PostsPerPage == 0 {
		c.PostsPerPage = 10
	}
	if c.CommentsPerPage == 0 {
		c.CommentsPerPage = 10
	}
	if c.FollowersPerPage == 0 {
		c.FollowersPerPage = 20
	}
	if c.TopPostsNum == 0 {
		c.TopPostsNum = 5
	}
	if c.TopTagsNum == 0 {
		c.TopTagsNum = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = 3
	}
	if c.LogMaxAgeDays == 0 {
		c.LogMaxAgeDays = 7
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 60
	}
}

// applyEnvOverrides maps known environment variables onto config values when present.
func applyEnvOverrides(c *AppConfig) error {
	strs := map[string]*string{
		"APP_PORT":             &c.AppPort,
		"SECRET_KEY":           &c.SecretKey,
		"SESSION_SECRET":       &c.SessionSecret,
		"EXTERNAL_URL":         &c.ExternalURL,
		"GIN_MODE":             &c.GinMode,
		"GIN_PATH":             &c.GinPath,
		"DB_DRIVER":            &c.DBDriver,
		"DATABASE_URI":         &c.DatabaseURI,
		"DB_HOST":              &c.DBHost,
		"DB_PORT":              &c.DBPort,
		"DB_USER":              &c.DBUser,
		"DB_PASSWORD":          &c.DBPassword,
		"DB_NAME":              &c.DBName,
		"REDIS_HOST":           &c.RedisHost,
		"REDIS_PASSWORD":       &c.RedisPassword,
		"SMTP_HOST":            &c.SMTPHost,
		"SMTP_USERNAME":        &c.SMTPUsername,
		"SMTP_PASSWORD":        &c.SMTPPassword,
		"SMTP_FROM":            &c.SMTPFrom,
		"SMTP_FROM_NAME":       &c.SMTPFromName,
		"NSQD_ADDR":            &c.NSQDAddr,
		"NSQLOOKUPD_ADDR":      &c.NSQLookupdAddr,
		"TASK_TOPIC":           &c.TaskTopic,
		"TASK_CHANNEL":         &c.TaskChannel,
		"LOG_LEVEL":            &c.LogLevel,
		"LOG_PATH":             &c.LogPath,
		"GITHUB_CLIENT_ID":     &c.GitHubClientID,
		"GITHUB_CLIENT_SECRET": &c.GitHubClientSecret,
		"GOOGLE_CLIENT_ID":     &c.GoogleClientID,
		"GOOGLE_CLIENT_SECRET": &c.GoogleClientSecret,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"REDIS_PORT":             &c.RedisPort,
		"REDIS_DB":               &c.RedisDB,
		"SMTP_PORT":              &c.SMTPPort,
		"TASK_MAX_RETRIES":       &c.TaskMaxRetries,
		"TASK_RETRY_DELAY_SEC":   &c.TaskRetryDelaySec,
		"CONFIRM_TOKEN_TTL_SEC":  &c.ConfirmTokenTTLSec,
		"AUTH_TOKEN_TTL_SEC":     &c.AuthTokenTTLSec,
		"AUTH_TOKEN_CACHE_SEC":   &c.AuthTokenCacheSec,
		"POSTS_PER_PAGE":         &c.PostsPerPage,
		"COMMENTS_PER_PAGE":      &c.CommentsPerPage,
		"FOLLOWERS_PER_PAGE":     &c.FollowersPerPage,
		"LOG_MAX_SIZE_MB":        &c.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":        &c.LogMaxBackups,
		"LOG_MAX_AGE_DAYS":       &c.LogMaxAgeDays,
		"RATE_LIMIT_PER_MINUTE":  &c.RateLimitPerMinute,
		"SESSION_MAX_AGE_SEC":    &c.SessionMaxAgeSeconds,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %w", key, err)
		}
		*dst = i
	}

	bools := map[string]*bool{
		"SMTP_TLS":                 &c.SMTPTLS,
		"LOG_COMPRESS":             &c.LogCompress,
		"DIGEST_ENABLED":           &c.DigestEnabled,
		"REGISTER_CAPTCHA_ENABLED": &c.RegisterCaptchaEnabled,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true"
		}
	}

	lists := map[string]*[]string{
		"CORS_ALLOWED_ORIGINS": &c.AllowedOrigins,
		"ADMIN_USERNAMES":      &c.AdminUsernames,
		"DIGEST_RECIPIENTS":    &c.DigestRecipients,
	}
	for key, dst := range lists {
		if v := os.Getenv(key); v != "" {
			*dst = splitAndTrim(v)
		}
	}
	return nil
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
