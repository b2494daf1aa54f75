package idp

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/dgellow/ebo-bff/internal/config"
	"github.com/dgellow/ebo-bff/internal/jwks"
)

// Registry maps provider names to configured adapters.
type Registry map[Name]Provider

// Lookup returns the provider for a path segment such as "google".
func (r Registry) Lookup(name string) (Provider, bool) {
	n, ok := ParseName(name)
	if !ok {
		return nil, false
	}
	p, ok := r[n]
	return p, ok
}

// CallbackURL returns the redirect URI registered with provider p.
func CallbackURL(baseURL string, p Name) (string, error) {
	return url.JoinPath(baseURL, "auth", string(p), "callback")
}

// NewProviders builds an adapter for every provider enabled in cfg. Key sets
// come from keys so that their refresh is shared and runs in the background.
func NewProviders(cfg config.ProvidersConfig, baseURL string, keys *jwks.Cache, httpClient *http.Client) (Registry, error) {
	reg := make(Registry)

	if g := cfg.Google; g != nil {
		redirect, err := CallbackURL(baseURL, Google)
		if err != nil {
			return nil, fmt.Errorf("google: building redirect URI: %w", err)
		}
		p, err := NewGoogleProvider(g.ClientID, string(g.ClientSecret), redirect, Settings{
			KeySet:     keys.KeySet(GoogleJWKSURL),
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		reg[Google] = p
	}

	if a := cfg.Apple; a != nil {
		redirect, err := CallbackURL(baseURL, Apple)
		if err != nil {
			return nil, fmt.Errorf("apple: building redirect URI: %w", err)
		}
		p, err := NewAppleProvider(AppleCredentials{
			ClientID:      a.ClientID,
			TeamID:        a.TeamID,
			KeyID:         a.KeyID,
			PrivateKeyPEM: string(a.PrivateKey),
		}, redirect, Settings{
			KeySet:     keys.KeySet(AppleJWKSURL),
			HTTPClient: httpClient,
		})
		if err != nil {
			return nil, err
		}
		reg[Apple] = p
	}

	if len(reg) == 0 {
		return nil, fmt.Errorf("no identity providers configured")
	}
	return reg, nil
}
