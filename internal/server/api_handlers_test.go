package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgellow/ebo-bff/internal/authgenie"
	"github.com/dgellow/ebo-bff/internal/cookie"
	"github.com/dgellow/ebo-bff/internal/planner"
	"github.com/dgellow/ebo-bff/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func apiRequest(method, target, body string, cookies ...*http.Cookie) *http.Request {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func TestSessionHandler(t *testing.T) {
	tests := []struct {
		name     string
		session  *storage.Session
		cookie   bool
		expected bool
	}{
		{name: "no cookie", expected: false},
		{name: "cookie without record", cookie: true, expected: false},
		{name: "record without tokens", cookie: true, session: &storage.Session{CreatedAt: 1}, expected: false},
		{name: "access token only", cookie: true, session: &storage.Session{AccessToken: "at"}, expected: true},
		{name: "refresh token only", cookie: true, session: &storage.Session{RefreshToken: "rt"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := apiRequest(http.MethodGet, "/api/session", "")
			if tt.session != nil {
				env.putSession(t, "sess-1", tt.session)
			}
			if tt.cookie {
				req.AddCookie(&http.Cookie{Name: cookie.DefaultSessionCookie, Value: "sess-1"})
			}
			before := env.store.Len()

			rr := env.do(req)

			require.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
			if tt.expected {
				assert.JSONEq(t, `{"authenticated":true}`, rr.Body.String())
			} else {
				assert.JSONEq(t, `{"authenticated":false}`, rr.Body.String())
			}
			assert.Equal(t, before, env.store.Len(), "must never create a session")
			assert.Empty(t, rr.Result().Cookies())
		})
	}
}

func TestSessionHandler_StoreErrorFailsClosed(t *testing.T) {
	env := newTestEnv(t)
	env.handler = NewRouter(RouterConfig{
		BaseURL:  testBaseURL,
		Sessions: newManagerForStore(&failingStore{SessionStore: env.store, getErr: errors.New("store down")}, env),
		Broker:   env.broker,
	})

	rr := env.do(apiRequest(http.MethodGet, "/api/session", "", &http.Cookie{Name: cookie.DefaultSessionCookie, Value: "sess-1"}))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rr.Body.String())
}

func TestPlannerRoutes_NotConfigured(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{"/api/members/me", "/api/pages/upcoming-trips", "/api/widgets/my-rsvp?tripId=t1"} {
		rr := env.do(apiRequest(http.MethodGet, target, ""))
		assert.Equal(t, http.StatusNotFound, rr.Code, target)
	}
}

func TestMembersMeHandler(t *testing.T) {
	t.Run("streams the upstream response", func(t *testing.T) {
		var gotToken string
		stub := &plannerStub{membersMe: func(token string) (*http.Response, error) {
			gotToken = token
			return &http.Response{
				StatusCode: http.StatusOK,
				Header: http.Header{
					"Content-Type":      []string{"application/json"},
					"Connection":        []string{"keep-alive"},
					"Transfer-Encoding": []string{"chunked"},
					"X-Planner-Version": []string{"7"},
				},
				Body: io.NopCloser(strings.NewReader(`{"memberId":"m1"}`)),
			}, nil
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/members/me", "", env.signedIn(t)))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "at-1", gotToken)
		assert.Equal(t, `{"memberId":"m1"}`, rr.Body.String())
		assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
		assert.Equal(t, "7", rr.Header().Get("X-Planner-Version"))
		assert.Empty(t, rr.Header().Get("Connection"))
		assert.Empty(t, rr.Header().Get("Transfer-Encoding"))
	})

	t.Run("passes upstream errors through", func(t *testing.T) {
		stub := &plannerStub{membersMe: func(string) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusForbidden,
				Header:     http.Header{"Content-Type": []string{"application/json"}},
				Body:       io.NopCloser(strings.NewReader(`{"error":"forbidden"}`)),
			}, nil
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/members/me", "", env.signedIn(t)))

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.JSONEq(t, `{"error":"forbidden"}`, rr.Body.String())
	})

	t.Run("unauthenticated", func(t *testing.T) {
		stub := &plannerStub{membersMe: func(string) (*http.Response, error) {
			t.Fatal("planner must not be called")
			return nil, nil
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/members/me", ""))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.JSONEq(t, `{"error":{"code":"UNAUTHORIZED","message":"Not authenticated."}}`, rr.Body.String())
		assert.NotNil(t, findCookie(rr.Result().Cookies(), cookie.DefaultSessionCookie), "a fresh session is still issued")
	})

	t.Run("planner unreachable", func(t *testing.T) {
		stub := &plannerStub{membersMe: func(string) (*http.Response, error) {
			return nil, errors.New("dial tcp: connection refused")
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/members/me", "", env.signedIn(t)))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.NotContains(t, rr.Body.String(), "dial tcp")
	})
}

func TestAuthorize_RefreshesExpiredToken(t *testing.T) {
	var gotToken string
	stub := &plannerStub{membersMe: func(token string) (*http.Response, error) {
		gotToken = token
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("{}"))}, nil
	}}
	env := newTestEnv(t, withPlanner(stub))
	sessionCookie := env.putSession(t, "sess-1", &storage.Session{
		Provider:             "google",
		AccessToken:          "stale",
		RefreshToken:         "r",
		AccessTokenExpiresAt: env.now.Add(10 * time.Second).UnixMilli(),
		Subject:              "member-1",
	})
	env.broker.On("Refresh", mock.Anything, "r").Return(&authgenie.TokenResponse{
		AccessToken: "fresh",
		ExpiresIn:   3600,
	}, nil).Once()

	rr := env.do(apiRequest(http.MethodGet, "/api/members/me", "", sessionCookie))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "fresh", gotToken)

	stored, err := env.store.GetSession(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "r", stored.RefreshToken)
	assert.Equal(t, "member-1", stored.Subject)
	assert.Equal(t, env.now.Add(time.Hour).UnixMilli(), stored.AccessTokenExpiresAt)
}

func TestAuthorize_RefreshFailureIsInternal(t *testing.T) {
	stub := &plannerStub{page: func(string) (*planner.UpcomingTripsPage, error) {
		t.Fatal("planner must not be called")
		return nil, nil
	}}
	env := newTestEnv(t, withPlanner(stub))
	sessionCookie := env.putSession(t, "sess-1", &storage.Session{RefreshToken: "r"})
	env.broker.On("Refresh", mock.Anything, "r").
		Return(nil, &authgenie.Error{Op: "refresh", Status: 400, Code: "invalid_grant"}).Once()

	rr := env.do(apiRequest(http.MethodGet, "/api/pages/upcoming-trips", "", sessionCookie))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":{"code":"INTERNAL","message":"Internal error"}}`, rr.Body.String())
}

func samplePage(rsvp planner.RSVPResponse) *planner.UpcomingTripsPage {
	return &planner.UpcomingTripsPage{Trips: []planner.UpcomingTrip{{
		TripID:         "t1",
		Name:           strPtr("Lisbon"),
		StartDate:      strPtr("2026-05-01"),
		Status:         planner.TripPublished,
		MyRSVPResponse: rsvp,
	}}}
}

func TestUpcomingTripsHandler(t *testing.T) {
	t.Run("returns the page model", func(t *testing.T) {
		stub := &plannerStub{page: func(token string) (*planner.UpcomingTripsPage, error) {
			assert.Equal(t, "at-1", token)
			return samplePage(planner.RSVPYes), nil
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/pages/upcoming-trips", "", env.signedIn(t)))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"trips":[{"tripId":"t1","name":"Lisbon","startDate":"2026-05-01","endDate":null,"status":"PUBLISHED","myRsvpResponse":"YES"}]}`, rr.Body.String())
	})

	t.Run("planner failure", func(t *testing.T) {
		stub := &plannerStub{page: func(string) (*planner.UpcomingTripsPage, error) {
			return nil, &planner.StatusError{Op: "list trips", Status: http.StatusServiceUnavailable}
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodGet, "/api/pages/upcoming-trips", "", env.signedIn(t)))

		assert.Equal(t, http.StatusBadGateway, rr.Code)
		assert.JSONEq(t, `{"error":{"code":"UPSTREAM_ERROR","message":"Failed to build upcoming trips page."}}`, rr.Body.String())
	})
}

func TestPutUpcomingTripRSVPHandler(t *testing.T) {
	t.Run("records and rebuilds the page", func(t *testing.T) {
		var gotTrip, gotKey string
		var gotResponse planner.RSVPResponse
		stub := &plannerStub{
			setRSVP: func(token, tripID string, r planner.RSVPResponse, key string) error {
				gotTrip, gotResponse, gotKey = tripID, r, key
				return nil
			},
			page: func(string) (*planner.UpcomingTripsPage, error) {
				return samplePage(planner.RSVPNo), nil
			},
		}
		env := newTestEnv(t, withPlanner(stub))
		req := apiRequest(http.MethodPut, "/api/pages/upcoming-trips/t1/rsvp", `{"response":"NO"}`, env.signedIn(t))
		req.Header.Set("Idempotency-Key", "idem-1")

		rr := env.do(req)

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "t1", gotTrip)
		assert.Equal(t, planner.RSVPNo, gotResponse)
		assert.Equal(t, "idem-1", gotKey)
		assert.Contains(t, rr.Body.String(), `"myRsvpResponse":"NO"`)
	})

	t.Run("generates an idempotency key", func(t *testing.T) {
		var gotKey string
		stub := &plannerStub{
			setRSVP: func(_, _ string, _ planner.RSVPResponse, key string) error {
				gotKey = key
				return nil
			},
			page: func(string) (*planner.UpcomingTripsPage, error) { return samplePage(planner.RSVPYes), nil },
		}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodPut, "/api/pages/upcoming-trips/t1/rsvp", `{"response":"YES"}`, env.signedIn(t)))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.Len(t, gotKey, 36)
	})

	t.Run("invalid body", func(t *testing.T) {
		stub := &plannerStub{setRSVP: func(string, string, planner.RSVPResponse, string) error {
			t.Fatal("planner must not be called")
			return nil
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodPut, "/api/pages/upcoming-trips/t1/rsvp", `{"response":"MAYBE"}`, env.signedIn(t)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":{"code":"BAD_REQUEST","message":"Invalid RSVP request."}}`, rr.Body.String())
	})

	t.Run("upstream status passes through", func(t *testing.T) {
		stub := &plannerStub{setRSVP: func(string, string, planner.RSVPResponse, string) error {
			return &planner.StatusError{Op: "set rsvp", Status: http.StatusConflict}
		}}
		env := newTestEnv(t, withPlanner(stub))

		rr := env.do(apiRequest(http.MethodPut, "/api/pages/upcoming-trips/t1/rsvp", `{"response":"YES"}`, env.signedIn(t)))

		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.JSONEq(t, `{"error":{"code":"UPSTREAM_ERROR","message":"Planner error: 409"}}`, rr.Body.String())
	})
}

func TestGetMyRSVPWidgetHandler(t *testing.T) {
	tests := []struct {
		name         string
		result       planner.RSVPResponse
		err          error
		expectStatus int
		expectBody   string
	}{
		{
			name:         "recorded answer",
			result:       planner.RSVPYes,
			expectStatus: http.StatusOK,
			expectBody:   `{"tripId":"t1","myRsvp":"YES"}`,
		},
		{
			name:         "no rsvp yet",
			err:          &planner.StatusError{Op: "get rsvp", Status: http.StatusNotFound},
			expectStatus: http.StatusOK,
			expectBody:   `{"tripId":"t1","myRsvp":"UNSET"}`,
		},
		{
			name:         "planner rejects token",
			err:          &planner.StatusError{Op: "get rsvp", Status: http.StatusUnauthorized},
			expectStatus: http.StatusUnauthorized,
			expectBody:   `{"error":{"code":"UNAUTHORIZED","message":"Not authenticated."}}`,
		},
		{
			name:         "planner error",
			err:          &planner.StatusError{Op: "get rsvp", Status: http.StatusInternalServerError},
			expectStatus: http.StatusBadGateway,
			expectBody:   `{"error":{"code":"UPSTREAM_ERROR","message":"Planner error: 500"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotTrip string
			stub := &plannerStub{getRSVP: func(token, tripID string) (planner.RSVPResponse, error) {
				gotTrip = tripID
				return tt.result, tt.err
			}}
			env := newTestEnv(t, withPlanner(stub))

			rr := env.do(apiRequest(http.MethodGet, "/api/widgets/my-rsvp?tripId=%20t1%20", "", env.signedIn(t)))

			assert.Equal(t, tt.expectStatus, rr.Code)
			assert.JSONEq(t, tt.expectBody, rr.Body.String())
			assert.Equal(t, "t1", gotTrip)
			if tt.expectStatus == http.StatusOK {
				assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestMyRSVPWidget_MissingTripID(t *testing.T) {
	stub := &plannerStub{}
	env := newTestEnv(t, withPlanner(stub))

	for _, method := range []string{http.MethodGet, http.MethodPut} {
		rr := env.do(apiRequest(method, "/api/widgets/my-rsvp?tripId=%20%20", `{"response":"YES"}`))

		assert.Equal(t, http.StatusBadRequest, rr.Code, method)
		assert.JSONEq(t, `{"error":{"code":"BAD_REQUEST","message":"Missing required query param: tripId"}}`, rr.Body.String(), method)
	}
	assert.Zero(t, env.store.Len(), "validation happens before any session work")
}

func TestPutMyRSVPWidgetHandler(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		err          error
		expectStatus int
		expectBody   string
	}{
		{
			name:         "success",
			body:         `{"response":"NO"}`,
			expectStatus: http.StatusOK,
			expectBody:   `{"tripId":"t1","myRsvp":"NO"}`,
		},
		{
			name:         "malformed body",
			body:         `{"response":`,
			expectStatus: http.StatusBadRequest,
			expectBody:   `{"error":{"code":"BAD_REQUEST","message":"Invalid RSVP request."}}`,
		},
		{
			name:         "planner unauthorized",
			body:         `{"response":"YES"}`,
			err:          &planner.StatusError{Status: http.StatusUnauthorized},
			expectStatus: http.StatusUnauthorized,
			expectBody:   `{"error":{"code":"UNAUTHORIZED","message":"Not authenticated."}}`,
		},
		{
			name:         "planner bad request",
			body:         `{"response":"YES"}`,
			err:          &planner.StatusError{Status: http.StatusBadRequest},
			expectStatus: http.StatusBadRequest,
			expectBody:   `{"error":{"code":"BAD_REQUEST","message":"Invalid RSVP request."}}`,
		},
		{
			name:         "planner conflict",
			body:         `{"response":"YES"}`,
			err:          &planner.StatusError{Status: http.StatusConflict},
			expectStatus: http.StatusConflict,
			expectBody:   `{"error":{"code":"CONFLICT","message":"RSVP not allowed."}}`,
		},
		{
			name:         "planner failure",
			body:         `{"response":"YES"}`,
			err:          &planner.StatusError{Status: http.StatusServiceUnavailable},
			expectStatus: http.StatusBadGateway,
			expectBody:   `{"error":{"code":"UPSTREAM_ERROR","message":"Planner error: 503"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &plannerStub{setRSVP: func(_, tripID string, _ planner.RSVPResponse, key string) error {
				assert.Equal(t, "t1", tripID)
				assert.NotEmpty(t, key)
				return tt.err
			}}
			env := newTestEnv(t, withPlanner(stub))

			rr := env.do(apiRequest(http.MethodPut, "/api/widgets/my-rsvp?tripId=t1", tt.body, env.signedIn(t)))

			assert.Equal(t, tt.expectStatus, rr.Code)
			assert.JSONEq(t, tt.expectBody, rr.Body.String())
			assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
		})
	}
}
