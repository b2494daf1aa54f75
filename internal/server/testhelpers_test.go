package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dgellow/ebo-bff/internal/cookie"
	"github.com/dgellow/ebo-bff/internal/idp"
	"github.com/dgellow/ebo-bff/internal/jwks"
	"github.com/dgellow/ebo-bff/internal/planner"
	"github.com/dgellow/ebo-bff/internal/session"
	"github.com/dgellow/ebo-bff/internal/storage"
	"github.com/dgellow/ebo-bff/internal/testutil"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testBaseURL  = "https://bff.example.com"
	testClientID = "google-client-id"
	testIssuer   = "https://accounts.google.com"
	testKeyID    = "k1"
)

// fakeGoogle serves a provider token endpoint and its JWKS.
type fakeGoogle struct {
	key *rsa.PrivateKey

	mu          sync.Mutex
	tokenStatus int
	idToken     string
	lastForm    url.Values

	tokenServer *httptest.Server
	jwksServer  *httptest.Server
}

func newFakeGoogle(t *testing.T) *fakeGoogle {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeGoogle{key: key, tokenStatus: http.StatusOK}

	f.jwksServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &key.PublicKey,
			KeyID:     testKeyID,
			Algorithm: string(jose.RS256),
			Use:       "sig",
		}}})
	}))
	t.Cleanup(f.jwksServer.Close)

	f.tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastForm = r.PostForm

		if f.tokenStatus != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.tokenStatus)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		body := map[string]any{
			"access_token": "google-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if f.idToken != "" {
			body["id_token"] = f.idToken
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(f.tokenServer.Close)

	return f
}

func (f *fakeGoogle) setIDToken(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idToken = raw
}

func (f *fakeGoogle) setTokenStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
}

// signIDToken signs claims with the published key, or with an unpublished
// one under kid when kid differs from testKeyID.
func (f *fakeGoogle) signIDToken(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	key := f.key
	if kid != testKeyID {
		other, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		key = other
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	raw, err := tok.SignedString(key)
	require.NoError(t, err)
	return raw
}

func validClaims(nonce string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testClientID,
		"sub":   "google-user-1",
		"nonce": nonce,
		"email": "member@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func (f *fakeGoogle) provider(t *testing.T) idp.Provider {
	t.Helper()
	spec := idp.GoogleSpec()
	spec.TokenURL = f.tokenServer.URL
	p, err := idp.NewAdapter(spec, idp.Settings{
		ClientID:     testClientID,
		RedirectURI:  testBaseURL + "/auth/google/callback",
		ClientSecret: idp.StaticSecret("google-secret"),
		KeySet:       jwks.NewKeySet(f.jwksServer.URL),
	})
	require.NoError(t, err)
	return p
}

// fakeApple is a provider stub for the form_post callback.
type fakeApple struct {
	idToken string
	nonce   func() string
}

func (a *fakeApple) Name() idp.Name         { return idp.Apple }
func (a *fakeApple) CallbackMethod() string { return http.MethodPost }
func (a *fakeApple) AuthURL(state, nonce string) string {
	return "https://appleid.apple.com/auth/authorize?state=" + state + "&nonce=" + nonce
}
func (a *fakeApple) ExchangeCode(_ context.Context, code string) (string, error) {
	return a.idToken, nil
}
func (a *fakeApple) VerifyIDToken(_ context.Context, raw string) (*idp.IDToken, error) {
	return &idp.IDToken{Subject: "apple-user", Issuer: "https://appleid.apple.com", Nonce: a.nonce()}, nil
}

type testEnv struct {
	store    *storage.MemoryStorage
	broker   *testutil.MockBroker
	sessions *session.Manager
	google   *fakeGoogle
	handler  http.Handler
	now      time.Time
}

type envOption func(*RouterConfig)

func withPlanner(p Planner) envOption {
	return func(c *RouterConfig) { c.Planner = p }
}

func withProviders(reg idp.Registry) envOption {
	return func(c *RouterConfig) { c.Providers = reg }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	env := &testEnv{
		store:  storage.NewMemoryStorage(0),
		broker: &testutil.MockBroker{},
		google: newFakeGoogle(t),
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.sessions = session.NewManager(env.store, env.broker, session.WithClock(func() time.Time { return env.now }))

	cfg := RouterConfig{
		BaseURL:   testBaseURL,
		Providers: idp.Registry{idp.Google: env.google.provider(t)},
		Sessions:  env.sessions,
		Broker:    env.broker,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.handler = NewRouter(cfg)
	t.Cleanup(func() { env.broker.AssertExpectations(t) })
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// putSession stores a session and returns the cookie that selects it.
func (e *testEnv) putSession(t *testing.T, id string, s *storage.Session) *http.Cookie {
	t.Helper()
	require.NoError(t, e.store.PutSession(context.Background(), id, s))
	return &http.Cookie{Name: cookie.DefaultSessionCookie, Value: id}
}

func (e *testEnv) signedIn(t *testing.T) *http.Cookie {
	t.Helper()
	return e.putSession(t, "sess-1", &storage.Session{
		Provider:             "google",
		AccessToken:          "at-1",
		RefreshToken:         "rt-1",
		AccessTokenExpiresAt: e.now.Add(time.Hour).UnixMilli(),
		CreatedAt:            e.now.UnixMilli(),
	})
}

// login runs GET /auth/google/login and returns the transaction it set.
func (e *testEnv) login(t *testing.T, returnTo string) (*cookie.Transaction, *http.Cookie) {
	t.Helper()
	target := "/auth/google/login"
	if returnTo != "" {
		target += "?returnTo=" + url.QueryEscape(returnTo)
	}
	rr := e.do(httptest.NewRequest(http.MethodGet, target, nil))
	require.Equal(t, http.StatusFound, rr.Code)

	c := findCookie(rr.Result().Cookies(), cookie.TransactionCookie)
	require.NotNil(t, c)
	tx, ok := cookie.DecodeTransaction(c.Value)
	require.True(t, ok)
	return tx, c
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func callbackRequest(state, code string, cookies ...*http.Cookie) *http.Request {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if code != "" {
		q.Set("code", code)
	}
	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?"+q.Encode(), nil)
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func formRequest(target string, form url.Values, cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

// plannerStub is a programmable Planner.
type plannerStub struct {
	membersMe func(token string) (*http.Response, error)
	getRSVP   func(token, tripID string) (planner.RSVPResponse, error)
	setRSVP   func(token, tripID string, r planner.RSVPResponse, key string) error
	page      func(token string) (*planner.UpcomingTripsPage, error)
}

func (p *plannerStub) MembersMe(_ context.Context, token string) (*http.Response, error) {
	return p.membersMe(token)
}

func (p *plannerStub) GetMyRSVP(_ context.Context, token, tripID string) (planner.RSVPResponse, error) {
	return p.getRSVP(token, tripID)
}

func (p *plannerStub) SetMyRSVP(_ context.Context, token, tripID string, r planner.RSVPResponse, key string) error {
	return p.setRSVP(token, tripID, r, key)
}

func (p *plannerStub) UpcomingTripsPage(_ context.Context, token string) (*planner.UpcomingTripsPage, error) {
	return p.page(token)
}

// failingStore injects write failures into a working store.
type failingStore struct {
	storage.SessionStore
	getErr    error
	putErr    error
	deleteErr error
}

func (s *failingStore) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.SessionStore.GetSession(ctx, id)
}

func (s *failingStore) PutSession(ctx context.Context, id string, sess *storage.Session) error {
	if s.putErr != nil {
		return s.putErr
	}
	return s.SessionStore.PutSession(ctx, id, sess)
}

func (s *failingStore) DeleteSession(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.SessionStore.DeleteSession(ctx, id)
}

func newManagerForStore(store storage.SessionStore, env *testEnv) *session.Manager {
	return session.NewManager(store, env.broker, session.WithClock(func() time.Time { return env.now }))
}
