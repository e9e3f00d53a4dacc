// Package auth manages user accounts and bearer-token sessions backed
// by an external identity provider.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrMissingCredentials is returned when email or password is empty.
// No provider call is made in that case.
var ErrMissingCredentials = errors.New("email and password are required")

// ProviderError carries the identity provider's error message verbatim,
// for example EMAIL_EXISTS or INVALID_LOGIN_CREDENTIALS.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}

// DisplayMessage formats an authentication error for presentation.
// Provider messages are shown verbatim, upper-cased.
func DisplayMessage(err error) string {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return strings.ToUpper(provErr.Message)
	}
	return strings.ToUpper(err.Error())
}

// User identifies an authenticated account.
type User struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// Provider performs credential operations against an identity backend.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*User, error)
	SignIn(ctx context.Context, email, password string) (*User, error)
}

// Manager tracks authenticated sessions and notifies subscribers of
// auth state changes. Each successful sign-in or sign-up yields an
// opaque bearer token that maps to the signed-in user.
type Manager struct {
	provider Provider

	mu       sync.Mutex
	sessions map[string]*User
	subs     []func(*User)
}

// NewManager creates a Manager backed by the given provider.
func NewManager(provider Provider) *Manager {
	return &Manager{
		provider: provider,
		sessions: make(map[string]*User),
	}
}

// Subscribe registers a callback invoked on every auth state change.
// The callback fires immediately with nil, reflecting the signed-out
// state at registration time. Sign-in fires with the user, sign-out
// fires with nil.
func (m *Manager) Subscribe(fn func(*User)) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
	fn(nil)
}

// SignUp creates a new account and starts a session for it.
func (m *Manager) SignUp(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	user, err := m.provider.SignUp(ctx, email, password)
	if err != nil {
		return "", err
	}
	log.Info().Str("uid", user.UID).Msg("Account created")
	return m.startSession(user), nil
}

// SignIn verifies credentials and starts a session. Session state is
// unchanged when the provider rejects the credentials.
func (m *Manager) SignIn(ctx context.Context, email, password string) (string, error) {
	if email == "" || password == "" {
		return "", ErrMissingCredentials
	}
	user, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return "", err
	}
	log.Info().Str("uid", user.UID).Msg("User signed in")
	return m.startSession(user), nil
}

// SignOut ends the session for the given token. Unknown tokens are
// ignored, so sign-out always succeeds.
func (m *Manager) SignOut(token string) {
	m.mu.Lock()
	user, ok := m.sessions[token]
	if ok {
		delete(m.sessions, token)
	}
	subs := m.copySubsLocked()
	m.mu.Unlock()

	if !ok {
		return
	}
	log.Info().Str("uid", user.UID).Msg("User signed out")
	for _, fn := range subs {
		fn(nil)
	}
}

// UserFor resolves a bearer token to its user, or nil when the token
// is unknown.
func (m *Manager) UserFor(token string) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[token]
}

func (m *Manager) startSession(user *User) string {
	token := uuid.NewString()
	m.mu.Lock()
	m.sessions[token] = user
	subs := m.copySubsLocked()
	m.mu.Unlock()

	for _, fn := range subs {
		fn(user)
	}
	return token
}

// copySubsLocked snapshots the subscriber list so callbacks run outside
// the lock. Callers must hold mu.
func (m *Manager) copySubsLocked() []func(*User) {
	subs := make([]func(*User), len(m.subs))
	copy(subs, m.subs)
	return subs
}
