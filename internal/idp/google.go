package idp

import (
	"net/http"

	"golang.org/x/oauth2/google"
)

// Google endpoints. The token endpoint comes from oauth2/google.
const (
	GoogleAuthURL = "https://accounts.google.com/o/oauth2/v2/auth"
	GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"
)

// GoogleIssuers are the issuer values Google puts in ID tokens.
var GoogleIssuers = []string{"https://accounts.google.com", "accounts.google.com"}

// GoogleSpec returns the Google provider description.
func GoogleSpec() Spec {
	return Spec{
		Name:           Google,
		AuthURL:        GoogleAuthURL,
		TokenURL:       google.Endpoint.TokenURL,
		Issuers:        GoogleIssuers,
		Scopes:         []string{"openid", "email", "profile"},
		CallbackMethod: http.MethodGet,
	}
}

// NewGoogleProvider creates the Google adapter with a static client secret.
func NewGoogleProvider(clientID, clientSecret, redirectURI string, settings Settings) (*Adapter, error) {
	settings.ClientID = clientID
	settings.RedirectURI = redirectURI
	settings.ClientSecret = StaticSecret(clientSecret)
	return NewAdapter(GoogleSpec(), settings)
}
