package services

import (
	"context"
	"sync"
	"time"

	"github.com/cppla/aiblog/models"
)

// IdentityEventKind names an identity transition.
type IdentityEventKind string

const (
	IdentityLoggedIn  IdentityEventKind = "login"
	IdentityLoggedOut IdentityEventKind = "logout"
)

// IdentityChange describes one login or logout.
type IdentityChange struct {
	Kind IdentityEventKind
	User *models.User
	// Via is the authentication channel, e.g. "password", "github".
	Via string
	At  time.Time
}

// IdentityObserver is notified synchronously on every identity change.
type IdentityObserver func(ctx context.Context, change IdentityChange)

// IdentityEvents is an ordered observer list.
type IdentityEvents struct {
	mu        sync.RWMutex
	observers []IdentityObserver
}

func NewIdentityEvents() *IdentityEvents {
	return &IdentityEvents{}
}

// Subscribe appends o; observers run in subscription order.
func (e *IdentityEvents) Subscribe(o IdentityObserver) {
	e.mu.Lock()
	e.observers = append(e.observers, o)
	e.mu.Unlock()
}

// Emit calls every observer before returning.
func (e *IdentityEvents) Emit(ctx context.Context, change IdentityChange) {
	if change.At.IsZero() {
		change.At = time.Now()
	}
	e.mu.RLock()
	observers := append([]IdentityObserver(nil), e.observers...)
	e.mu.RUnlock()
	for _, o := range observers {
		o(ctx, change)
	}
}

// LastSeenObserver refreshes the user's last-seen timestamp on login.
func LastSeenObserver(accounts *AccountService) IdentityObserver {
	return func(ctx context.Context, change IdentityChange) {
		if change.Kind == IdentityLoggedIn && change.User != nil {
			_ = accounts.Ping(ctx, change.User.ID)
		}
	}
}
