// Package session ties the browser session cookie to the server-side session
// record and keeps the broker access token fresh.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/ebo-bff/internal/authgenie"
	"github.com/dgellow/ebo-bff/internal/cookie"
	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/log"
	"github.com/dgellow/ebo-bff/internal/storage"
	"github.com/google/uuid"
)

// RefreshSkew is how far ahead of expiry an access token is treated as stale.
const RefreshSkew = 30 * time.Second

// ErrUnauthenticated means the session holds no usable credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Broker is the subset of the identity broker the session layer needs.
type Broker interface {
	ExchangeIDToken(ctx context.Context, idToken, metadataJSON string) (*authgenie.TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*authgenie.TokenResponse, error)
}

// Loaded is a session record together with its id.
type Loaded struct {
	ID      string
	Session *storage.Session
	// IsNew is set when the id was minted for this request and the browser
	// does not yet hold the cookie.
	IsNew bool
}

// Manager loads, persists and refreshes sessions.
type Manager struct {
	store      storage.SessionStore
	broker     Broker
	cookieName string
	now        func() time.Time
	newID      func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithCookieName overrides the session cookie name.
func WithCookieName(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.cookieName = name
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides session id generation.
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// NewManager creates a session manager.
func NewManager(store storage.SessionStore, broker Broker, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		broker:     broker,
		cookieName: cookie.DefaultSessionCookie,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CookieName returns the session cookie name.
func (m *Manager) CookieName() string {
	return m.cookieName
}

// LoadOrCreate returns the session for the request's cookie. Without a
// cookie a fresh id is minted. A missing record is created and persisted.
func (m *Manager) LoadOrCreate(ctx context.Context, r *http.Request) (*Loaded, error) {
	id, ok := cookie.GetSession(r, m.cookieName)
	isNew := false
	if !ok {
		id = m.newID()
		isNew = true
	}

	sess, err := m.store.GetSession(ctx, id)
	if err == nil {
		return &Loaded{ID: id, Session: sess, IsNew: isNew}, nil
	}
	if !errors.Is(err, storage.ErrSessionNotFound) {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess = storage.NewSession(m.now())
	if err := m.store.PutSession(ctx, id, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &Loaded{ID: id, Session: sess, IsNew: isNew}, nil
}

// LoadIfExists returns the session for the request's cookie, or nil when
// there is no cookie or no stored record. It never creates a record.
func (m *Manager) LoadIfExists(ctx context.Context, r *http.Request) (*Loaded, error) {
	id, ok := cookie.GetSession(r, m.cookieName)
	if !ok {
		return nil, nil
	}
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return &Loaded{ID: id, Session: sess}, nil
}

// Save replaces the stored record for id.
func (m *Manager) Save(ctx context.Context, id string, s *storage.Session) error {
	if err := m.store.PutSession(ctx, id, s); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// Delete erases the record for id. Deleting a missing record succeeds.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SetCookie issues the session cookie when the id was minted for this request.
func (m *Manager) SetCookie(w http.ResponseWriter, l *Loaded) {
	if l != nil && l.IsNew {
		cookie.SetSession(w, m.cookieName, l.ID)
	}
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	cookie.ClearSession(w, m.cookieName)
}

// EnsureAccessToken returns a usable access token for s. When the token was
// refreshed, updated holds the new record for the caller to persist; it is
// nil otherwise. ErrUnauthenticated is returned when s has no fresh access
// token and no refresh token.
func (m *Manager) EnsureAccessToken(ctx context.Context, s *storage.Session) (token string, updated *storage.Session, err error) {
	now := m.now()

	if s.AccessToken != "" && s.AccessTokenExpiresAt > 0 && s.AccessTokenExpiry().After(now.Add(RefreshSkew)) {
		return s.AccessToken, nil, nil
	}
	if s.RefreshToken == "" {
		return "", nil, ErrUnauthenticated
	}

	tok, err := m.broker.Refresh(ctx, s.RefreshToken)
	if err != nil {
		return "", nil, err
	}

	updated = s.Clone()
	updated.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.AccessTokenExpiresAt = now.Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli()
	if tok.Sub != "" {
		updated.Subject = tok.Sub
	}

	log.LogDebugWithFieldsCtx(ctx, "session", "Access token refreshed", map[string]any{
		"provider":  updated.Provider,
		"expiresIn": tok.ExpiresIn,
	})
	return updated.AccessToken, updated, nil
}

// ApplyLogin folds a broker token response from a completed sign-in into s.
// The refresh token is replaced, not merged, and the provider ID token is
// never stored.
func (m *Manager) ApplyLogin(s *storage.Session, provider idp.Name, tok *authgenie.TokenResponse) {
	s.Provider = string(provider)
	s.AccessToken = tok.AccessToken
	s.RefreshToken = tok.RefreshToken
	s.AccessTokenExpiresAt = m.now().Add(time.Duration(tok.ExpiresIn) * time.Second).UnixMilli()
	if tok.Sub != "" {
		s.Subject = tok.Sub
	}
}

// CompleteLogin persists a successful sign-in on the request's session and
// sets the session cookie if needed.
func (m *Manager) CompleteLogin(ctx context.Context, w http.ResponseWriter, r *http.Request, provider idp.Name, tok *authgenie.TokenResponse) error {
	loaded, err := m.LoadOrCreate(ctx, r)
	if err != nil {
		return err
	}
	m.ApplyLogin(loaded.Session, provider, tok)
	if err := m.Save(ctx, loaded.ID, loaded.Session); err != nil {
		return err
	}
	m.SetCookie(w, loaded)

	log.LogInfoWithFieldsCtx(ctx, "session", "Sign-in completed", map[string]any{
		"provider": provider,
		"new":      loaded.IsNew,
	})
	return nil
}

// Authorize resolves the bearer token for a protected request: it loads or
// creates the session, refreshes the access token if needed, persists any
// refresh and sets the session cookie for new sessions.
func (m *Manager) Authorize(ctx context.Context, w http.ResponseWriter, r *http.Request) (string, error) {
	loaded, err := m.LoadOrCreate(ctx, r)
	if err != nil {
		return "", err
	}
	m.SetCookie(w, loaded)

	token, updated, err := m.EnsureAccessToken(ctx, loaded.Session)
	if err != nil {
		return "", err
	}
	if updated != nil {
		if err := m.Save(ctx, loaded.ID, updated); err != nil {
			return "", err
		}
	}
	return token, nil
}
