// Package authgenie is a client for the AuthGenie identity broker. The broker
// trades a verified provider ID token for first-party access and refresh
// tokens, and later refreshes them.
package authgenie

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	GrantTypeTokenExchange = "urn:ietf:params:oauth:grant-type:token-exchange"
	GrantTypeRefreshToken  = "refresh_token"
	TokenTypeIDToken       = "urn:ietf:params:oauth:token-type:id_token"

	// DefaultTimeout bounds each broker call.
	DefaultTimeout = 30 * time.Second

	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("github.com/dgellow/ebo-bff/internal/authgenie")

// TokenResponse is the broker's token endpoint payload.
type TokenResponse struct {
	AccessToken   string `json:"access_token"`
	TokenType     string `json:"token_type,omitempty"`
	ExpiresIn     int64  `json:"expires_in"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	Scope         string `json:"scope,omitempty"`
	Sub           string `json:"sub,omitempty"`
	TenantID      string `json:"tenant_id,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
}

// Error is returned for non-2xx broker responses.
type Error struct {
	Op          string // "token exchange" or "refresh"
	Status      int
	Code        string
	Description string
}

func (e *Error) Error() string {
	return strings.TrimSpace(fmt.Sprintf("AuthGenie %s failed: %d %s %s", e.Op, e.Status, e.Code, e.Description))
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Config configures a Client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// Audience is sent as "audiences" when non-empty.
	Audience   string
	HTTPClient *http.Client
}

// Client calls the broker's token endpoint. It holds no per-user state.
type Client struct {
	tokenURL     string
	clientID     string
	clientSecret string
	audience     string
	httpClient   *http.Client
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("authgenie base URL is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("authgenie client credentials are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		tokenURL:     strings.TrimRight(base, "/") + "/v1/oauth/token",
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		audience:     cfg.Audience,
		httpClient:   httpClient,
	}, nil
}

// TokenURL returns the resolved token endpoint.
func (c *Client) TokenURL() string {
	return c.tokenURL
}

// ExchangeIDToken trades a verified provider ID token for broker tokens.
// metadataJSON, when non-empty, is forwarded as authgenie_oidc_metadata
// (Apple sends the user's name this way on first sign-in).
func (c *Client) ExchangeIDToken(ctx context.Context, idToken, metadataJSON string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", GrantTypeTokenExchange)
	form.Set("subject_token_type", TokenTypeIDToken)
	form.Set("subject_token", idToken)
	if c.audience != "" {
		form.Add("audiences", c.audience)
	}
	if metadataJSON != "" {
		form.Set("authgenie_oidc_metadata", metadataJSON)
	}
	return c.post(ctx, "token exchange", "authgenie.exchange", form)
}

// Refresh redeems a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", GrantTypeRefreshToken)
	form.Set("refresh_token", refreshToken)
	if c.audience != "" {
		form.Add("audiences", c.audience)
	}
	return c.post(ctx, "refresh", "authgenie.refresh", form)
}

func (c *Client) post(ctx context.Context, op, spanName string, form url.Values) (*TokenResponse, error) {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build AuthGenie request: %w", err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("AuthGenie %s failed: %w", op, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("AuthGenie %s failed: reading response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: op, Status: resp.StatusCode}
		var er errorResponse
		if err := json.Unmarshal(body, &er); err != nil || er.Error == "" {
			e.Code = "unknown_error"
		} else {
			e.Code = er.Error
			e.Description = er.ErrorDescription
		}
		span.SetStatus(codes.Error, e.Code)
		return nil, e
	}

	var tok TokenResponse
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &tok); err != nil {
			return nil, fmt.Errorf("AuthGenie %s failed: invalid response: %w", op, err)
		}
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("AuthGenie %s failed: response missing access_token", op)
	}
	return &tok, nil
}
