package idp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/oauth2"
)

// Name identifies a supported identity provider.
type Name string

const (
	Google Name = "google"
	Apple  Name = "apple"
)

// ParseName returns the provider name for s, if it is supported.
func ParseName(s string) (Name, bool) {
	switch Name(s) {
	case Google, Apple:
		return Name(s), true
	}
	return "", false
}

// DisplayName returns the human-facing provider name used in error messages.
func (n Name) DisplayName() string {
	switch n {
	case Google:
		return "Google"
	case Apple:
		return "Apple"
	}
	return string(n)
}

var (
	// ErrMissingIDToken means the provider's token response had no id_token.
	ErrMissingIDToken = errors.New("provider did not return id_token")

	// ErrInvalidIDToken covers every ID token verification failure: signature,
	// unknown key, issuer, audience and expiry.
	ErrInvalidIDToken = errors.New("invalid ID token")
)

// ExchangeError reports a failed authorization code exchange.
// StatusCode is zero when the provider could not be reached.
type ExchangeError struct {
	Provider   Name
	StatusCode int
	Err        error
}

func (e *ExchangeError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s token exchange failed: %v", e.Provider.DisplayName(), e.Err)
	}
	return fmt.Sprintf("%s token exchange failed: %d", e.Provider.DisplayName(), e.StatusCode)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// IDToken holds the verified claims the callback needs.
type IDToken struct {
	Subject       string
	Issuer        string
	Nonce         string
	Email         string
	EmailVerified bool
}

// Provider abstracts one identity provider's authorization code flow.
type Provider interface {
	// Name returns the provider identifier.
	Name() Name

	// CallbackMethod is the HTTP method the provider uses to deliver the
	// authorization response.
	CallbackMethod() string

	// AuthURL builds the authorization endpoint URL for state and nonce.
	AuthURL(state, nonce string) string

	// ExchangeCode trades an authorization code for the provider's raw ID token.
	ExchangeCode(ctx context.Context, code string) (string, error)

	// VerifyIDToken checks the ID token signature, issuer, audience and
	// expiry, and returns its claims. Nonce comparison is left to the caller.
	VerifyIDToken(ctx context.Context, rawIDToken string) (*IDToken, error)
}

// ClientSecretSource returns the client secret to use for one code exchange.
type ClientSecretSource func() (string, error)

// StaticSecret returns a ClientSecretSource for a fixed secret.
func StaticSecret(secret string) ClientSecretSource {
	return func() (string, error) { return secret, nil }
}

// Spec describes one provider's endpoints and conventions.
type Spec struct {
	Name           Name
	AuthURL        string
	TokenURL       string
	Issuers        []string
	Scopes         []string
	CallbackMethod string
	// ResponseMode is sent as response_mode when set.
	ResponseMode string
}

// Settings are the deployment-specific values for one provider.
type Settings struct {
	ClientID     string
	RedirectURI  string
	ClientSecret ClientSecretSource
	KeySet       oidc.KeySet
	HTTPClient   *http.Client
	Now          func() time.Time
}

var tracer = otel.Tracer("github.com/dgellow/ebo-bff/internal/idp")

const maxTokenResponseBytes = 1 << 20

// Adapter implements Provider for any OIDC provider described by a Spec.
type Adapter struct {
	spec       Spec
	config     oauth2.Config
	secret     ClientSecretSource
	verifier   *oidc.IDTokenVerifier
	httpClient *http.Client
}

var _ Provider = (*Adapter)(nil)

// NewAdapter creates a provider adapter.
func NewAdapter(spec Spec, settings Settings) (*Adapter, error) {
	if settings.ClientID == "" {
		return nil, fmt.Errorf("%s: client id is required", spec.Name)
	}
	if settings.KeySet == nil {
		return nil, fmt.Errorf("%s: key set is required", spec.Name)
	}
	if settings.ClientSecret == nil {
		return nil, fmt.Errorf("%s: client secret source is required", spec.Name)
	}
	if spec.CallbackMethod == "" {
		spec.CallbackMethod = http.MethodGet
	}

	httpClient := settings.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	// Issuers are checked against the full list after verification since
	// Google signs with two issuer spellings.
	verifier := oidc.NewVerifier("", settings.KeySet, &oidc.Config{
		ClientID:             settings.ClientID,
		SkipIssuerCheck:      true,
		SupportedSigningAlgs: []string{oidc.RS256, oidc.ES256},
		Now:                  settings.Now,
	})

	return &Adapter{
		spec: spec,
		config: oauth2.Config{
			ClientID:    settings.ClientID,
			RedirectURL: settings.RedirectURI,
			Scopes:      spec.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   spec.AuthURL,
				TokenURL:  spec.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		secret:     settings.ClientSecret,
		verifier:   verifier,
		httpClient: httpClient,
	}, nil
}

func (a *Adapter) Name() Name {
	return a.spec.Name
}

func (a *Adapter) CallbackMethod() string {
	return a.spec.CallbackMethod
}

func (a *Adapter) AuthURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if a.spec.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", a.spec.ResponseMode))
	}
	return a.config.AuthCodeURL(state, opts...)
}

// tokenResponse is the part of a provider token response the BFF uses. The
// provider access token is discarded; only the ID token is forwarded to the
// broker.
type tokenResponse struct {
	IDToken string `json:"id_token"`
}

// ExchangeCode redeems an authorization code for the provider's ID token.
// The response is decoded directly rather than through oauth2.Config.Exchange,
// which rejects responses without an access_token.
func (a *Adapter) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx, span := tracer.Start(ctx, "idp.exchange_code")
	defer span.End()
	span.SetAttributes(attribute.String("idp.provider", string(a.spec.Name)))

	secret, err := a.secret()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("building %s client secret: %w", a.spec.Name, err)
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {a.config.RedirectURL},
		"client_id":     {a.config.ClientID},
		"client_secret": {secret},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &ExchangeError{Provider: a.spec.Name, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", &ExchangeError{Provider: a.spec.Name, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", &ExchangeError{Provider: a.spec.Name, StatusCode: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetStatus(codes.Error, resp.Status)
		re := &oauth2.RetrieveError{Response: resp, Body: body}
		var oauthErr struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(body, &oauthErr) == nil {
			re.ErrorCode = oauthErr.Error
			re.ErrorDescription = oauthErr.ErrorDescription
		}
		return "", &ExchangeError{Provider: a.spec.Name, StatusCode: resp.StatusCode, Err: re}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil || tok.IDToken == "" {
		span.SetStatus(codes.Error, ErrMissingIDToken.Error())
		return "", ErrMissingIDToken
	}
	return tok.IDToken, nil
}

func (a *Adapter) VerifyIDToken(ctx context.Context, rawIDToken string) (*IDToken, error) {
	ctx, span := tracer.Start(ctx, "idp.verify_id_token")
	defer span.End()
	span.SetAttributes(attribute.String("idp.provider", string(a.spec.Name)))

	tok, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if !slices.Contains(a.spec.Issuers, tok.Issuer) {
		span.SetStatus(codes.Error, "unexpected issuer")
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrInvalidIDToken, tok.Issuer)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified any    `json:"email_verified"`
	}
	if err := tok.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrInvalidIDToken, err)
	}

	return &IDToken{
		Subject:       tok.Subject,
		Issuer:        tok.Issuer,
		Nonce:         tok.Nonce,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified == true || claims.EmailVerified == "true",
	}, nil
}
