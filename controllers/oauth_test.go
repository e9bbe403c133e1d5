package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func withProviderAPI(t *testing.T, routes map[string]any) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	prevGitHub, prevGoogle := githubAPIBase, googleUserinfoURL
	githubAPIBase, googleUserinfoURL = srv.URL, srv.URL+"/userinfo"
	t.Cleanup(func() { githubAPIBase, googleUserinfoURL = prevGitHub, prevGoogle })
}

var accessToken = &oauth2.Token{AccessToken: "access", TokenType: "Bearer"}

func TestGoogleProfileUnverifiedEmail(t *testing.T) {
	withProviderAPI(t, map[string]any{
		"/userinfo": gin.H{"id": "g-1", "email": "susan@example.com", "verified_email": false},
	})
	p, err := fetchOAuthProfile(context.Background(), "google", &oauth2.Config{}, accessToken)
	require.NoError(t, err)
	assert.Equal(t, "g-1", p.ID)
	assert.Equal(t, "susan", p.Username)
	assert.False(t, p.EmailVerified)
}

func TestGoogleProfileVerifiedEmail(t *testing.T) {
	withProviderAPI(t, map[string]any{
		"/userinfo": gin.H{"id": "g-2", "email": "john@example.com", "verified_email": true},
	})
	p, err := fetchOAuthProfile(context.Background(), "google", &oauth2.Config{}, accessToken)
	require.NoError(t, err)
	assert.Equal(t, "john@example.com", p.Email)
	assert.True(t, p.EmailVerified)
}

func TestGitHubProfileUsesPrimaryVerifiedEmail(t *testing.T) {
	withProviderAPI(t, map[string]any{
		"/user": gin.H{"id": 7, "login": "octo", "email": "public@example.com"},
		"/user/emails": []gin.H{
			{"email": "public@example.com", "primary": false, "verified": false},
			{"email": "octo@example.com", "primary": true, "verified": true},
		},
	})
	p, err := fetchOAuthProfile(context.Background(), "github", &oauth2.Config{}, accessToken)
	require.NoError(t, err)
	assert.Equal(t, "7", p.ID)
	assert.Equal(t, "octo", p.Username)
	assert.Equal(t, "octo@example.com", p.Email)
	assert.True(t, p.EmailVerified)
}

func TestGitHubProfileIgnoresUnverifiedPublicEmail(t *testing.T) {
	withProviderAPI(t, map[string]any{
		"/user":        gin.H{"id": 8, "login": "mallory", "email": "susan@example.com"},
		"/user/emails": []gin.H{{"email": "susan@example.com", "primary": true, "verified": false}},
	})
	p, err := fetchOAuthProfile(context.Background(), "github", &oauth2.Config{}, accessToken)
	require.NoError(t, err)
	assert.Empty(t, p.Email)
	assert.False(t, p.EmailVerified)
}
