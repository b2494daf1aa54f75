package cookie

import (
	"net/http"

	"github.com/dgellow/ebo-bff/internal/envutil"
	"github.com/dgellow/ebo-bff/internal/log"
)

// Cookie names used by the BFF. The session cookie name is configurable and
// defaults to DefaultSessionCookie.
const (
	DefaultSessionCookie = "bff_session"
	TransactionCookie    = "__Host-ebo_oauth"
)

// SetSession sets the session cookie. It carries no Max-Age, so it lives
// for the browser session while the server-side record outlives it.
func SetSession(w http.ResponseWriter, name, sessionID string) {
	secure := envutil.SecureCookies()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})

	log.LogTraceWithFields("cookie", "Session cookie set", map[string]any{
		"name":     name,
		"secure":   secure,
		"sameSite": "Lax",
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, clearing(name, envutil.SecureCookies()))
}

func clearing(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

// ClearSession removes the session cookie
func ClearSession(w http.ResponseWriter, name string) {
	Clear(w, name)
	log.LogTraceWithFields("cookie", "Session cookie cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetSession retrieves the session cookie value. An empty value counts as
// absent.
func GetSession(r *http.Request, name string) (string, bool) {
	value, err := Get(r, name)
	if err != nil || value == "" {
		return "", false
	}
	return value, true
}
