package services

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim keys identifying what a token authorises.
const (
	ClaimConfirm     = "confirm"
	ClaimReset       = "reset"
	ClaimChangeEmail = "change_email"
	ClaimAuth        = "id"
)

// TokenService signs and verifies time-limited HS256 tokens.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

func NewTokenService(secret string) *TokenService {
	return &TokenService{secret: []byte(secret), now: time.Now}
}

// WithClock replaces the clock used for issuing and validating tokens.
func (s *TokenService) WithClock(now func() time.Time) *TokenService {
	s.now = now
	return s
}

// Now returns the service clock's current time.
func (s *TokenService) Now() time.Time {
	return s.now()
}

// Issue signs a token carrying subject under key plus any extra claims, valid for ttl.
func (s *TokenService) Issue(key string, subject uint, extra map[string]any, ttl time.Duration) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		key:   subject,
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(ttl)),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Parse verifies signature and expiry and returns the subject stored under key.
// Any failure yields ok == false.
func (s *TokenService) Parse(token, key string) (subject uint, claims jwt.MapClaims, ok bool) {
	if token == "" {
		return 0, nil, false
	}
	claims = jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid {
		return 0, nil, false
	}
	raw, found := claims[key].(float64)
	if !found || raw <= 0 || raw != float64(uint(raw)) {
		return 0, nil, false
	}
	return uint(raw), claims, true
}

// ExpiresAt returns the expiry of a previously parsed token.
func ExpiresAt(claims jwt.MapClaims) time.Time {
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
