package urlutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReturnTo(t *testing.T) {
	const base = "https://app.example.com"

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", "/"},
		{"root", "/", "/"},
		{"path with query", "/trip.html?tripId=t1", "/trip.html?tripId=t1"},
		{"fragment dropped", "/trip.html?tripId=t1#rsvp", "/trip.html?tripId=t1"},
		{"same origin absolute", "https://app.example.com/upcoming?x=1", "/upcoming?x=1"},
		{"same origin explicit default port", "https://app.example.com:443/a", "/a"},
		{"same origin no path", "https://app.example.com", "/"},
		{"host case insensitive", "https://APP.example.com/a", "/a"},
		{"relative", "trip.html?tripId=t1", "/trip.html?tripId=t1"},
		{"cross origin", "https://evil.example.com/steal", "/"},
		{"scheme mismatch", "http://app.example.com/a", "/"},
		{"port mismatch", "https://app.example.com:8443/a", "/"},
		{"protocol relative", "//evil.example.com/x", "/"},
		{"backslash protocol relative", `/\evil.example.com/x`, "/"},
		{"double backslash", `\\evil.example.com`, "/"},
		{"javascript scheme", "javascript:alert(1)", "/"},
		{"same origin double slash path", "https://app.example.com//evil.example.com/x", "/evil.example.com/x"},
		{"dot segments", "/a/../b", "/b"},
		{"unparseable", "http://[::1", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeReturnTo(base, tt.raw)
			assert.Equal(t, tt.want, got)
			assert.True(t, strings.HasPrefix(got, "/"))
			assert.False(t, strings.HasPrefix(got, "//"))
		})
	}
}

func TestSanitizeReturnTo_BaseWithPath(t *testing.T) {
	assert.Equal(t, "/app/trip.html", SanitizeReturnTo("https://app.example.com/app/", "trip.html"))
	assert.Equal(t, "/other", SanitizeReturnTo("https://app.example.com/app/", "/other"))
}

func TestSanitizeReturnTo_InvalidBase(t *testing.T) {
	assert.Equal(t, "/", SanitizeReturnTo("not a url", "/a"))
}
