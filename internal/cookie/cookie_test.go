package cookie

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetSession(t *testing.T) {
	w := httptest.NewRecorder()
	SetSession(w, DefaultSessionCookie, "0b8e2f0c-1d7a-4a4b-9d55-8f1f1c5d2e3a")

	cookies := w.Result().Cookies()
	if assert.Len(t, cookies, 1) {
		c := cookies[0]
		assert.Equal(t, DefaultSessionCookie, c.Name)
		assert.Equal(t, "0b8e2f0c-1d7a-4a4b-9d55-8f1f1c5d2e3a", c.Value)
		assert.Equal(t, "/", c.Path)
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
		// Browser-session cookie: no Max-Age or Expires
		assert.Zero(t, c.MaxAge)
		assert.True(t, c.Expires.IsZero())
	}
}

func TestSetSession_SecureOutsideDev(t *testing.T) {
	t.Setenv("EBO_BFF_ENV", "production")
	w := httptest.NewRecorder()
	SetSession(w, "sid", "abc")
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Secure")

	t.Setenv("EBO_BFF_ENV", "development")
	w = httptest.NewRecorder()
	SetSession(w, "sid", "abc")
	assert.NotContains(t, w.Header().Get("Set-Cookie"), "Secure")
}

func TestClearSession(t *testing.T) {
	w := httptest.NewRecorder()
	ClearSession(w, "sid")

	header := w.Header().Get("Set-Cookie")
	assert.Contains(t, header, "sid=;")
	assert.Contains(t, header, "Max-Age=0")
}

func TestGetSession(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		wantID string
		wantOK bool
	}{
		{name: "present", cookie: &http.Cookie{Name: "sid", Value: "abc"}, wantID: "abc", wantOK: true},
		{name: "absent"},
		{name: "empty value", cookie: &http.Cookie{Name: "sid", Value: ""}},
		{name: "other cookie", cookie: &http.Cookie{Name: "other", Value: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.cookie != nil {
				r.AddCookie(tt.cookie)
			}
			id, ok := GetSession(r, "sid")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
