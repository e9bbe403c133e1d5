package utils

import (
	"context"
	"time"

	"github.com/mojocn/base64Captcha"
)

// cacheCaptchaStore implements base64Captcha.Store on top of Cache so answers survive across instances.
type cacheCaptchaStore struct {
	cache *Cache
	ttl   time.Duration
}

func (s *cacheCaptchaStore) key(id string) string {
	return "captcha:" + id
}

func (s *cacheCaptchaStore) Set(id string, value string) error {
	s.cache.Set(context.Background(), s.key(id), []byte(value), s.ttl)
	return nil
}

func (s *cacheCaptchaStore) Get(id string, clear bool) string {
	ctx := context.Background()
	b, ok := s.cache.Get(ctx, s.key(id))
	if !ok {
		return ""
	}
	if clear {
		s.cache.Delete(ctx, s.key(id))
	}
	return string(b)
}

func (s *cacheCaptchaStore) Verify(id, answer string, clear bool) bool {
	v := s.Get(id, clear)
	return v != "" && v == answer
}

// Captcha issues digit captchas for the registration form.
type Captcha struct {
	store base64Captcha.Store
}

func NewCaptcha(cache *Cache) *Captcha {
	return &Captcha{store: &cacheCaptchaStore{cache: cache, ttl: 10 * time.Minute}}
}

// Generate creates a captcha and returns (id, dataURI) for the client to display.
func (c *Captcha) Generate() (string, string, error) {
	driver := base64Captcha.NewDriverDigit(40, 120, 5, 0.7, 80)
	id, b64, _, err := base64Captcha.NewCaptcha(driver, c.store).Generate()
	return id, b64, err
}

// Verify checks the answer and consumes the captcha.
func (c *Captcha) Verify(id, answer string) bool {
	if id == "" || answer == "" {
		return false
	}
	return c.store.Verify(id, answer, true)
}
