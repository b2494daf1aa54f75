package storage

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned when no record exists for a session id.
var ErrSessionNotFound = errors.New("session not found")

// Session is the server-side record keyed by the opaque session cookie.
// Timestamps are epoch milliseconds so the JSON shape stays stable across
// backends and the remote store contract.
type Session struct {
	Provider             string `json:"provider,omitempty"`
	AccessToken          string `json:"accessToken,omitempty"`
	RefreshToken         string `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt int64  `json:"accessTokenExpiresAt,omitempty"`
	Subject              string `json:"subject,omitempty"`
	CreatedAt            int64  `json:"createdAt"`
}

// NewSession returns an empty record stamped with now.
func NewSession(now time.Time) *Session {
	return &Session{CreatedAt: now.UnixMilli()}
}

// HasTokens reports whether the session carries an access or refresh token.
func (s *Session) HasTokens() bool {
	return s != nil && (s.AccessToken != "" || s.RefreshToken != "")
}

// AccessTokenExpiry returns the access token expiry, or the zero time if unknown.
func (s *Session) AccessTokenExpiry() time.Time {
	if s.AccessTokenExpiresAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(s.AccessTokenExpiresAt)
}

// Clone returns a copy safe to mutate independently of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// SessionStore persists session records by id.
//
// GetSession returns ErrSessionNotFound when nothing is stored under id.
// PutSession overwrites unconditionally; concurrent writers race and the
// last one wins. DeleteSession is idempotent.
type SessionStore interface {
	GetSession(ctx context.Context, id string) (*Session, error)
	PutSession(ctx context.Context, id string, s *Session) error
	DeleteSession(ctx context.Context, id string) error

	// CleanupExpiredSessions removes records not written within the
	// store's TTL and returns how many were removed.
	CleanupExpiredSessions(ctx context.Context) (int, error)
}
