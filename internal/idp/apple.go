package idp

import (
	"crypto/ecdsa"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Apple endpoints.
const (
	AppleAuthURL  = "https://appleid.apple.com/auth/authorize"
	AppleTokenURL = "https://appleid.apple.com/auth/token"
	AppleJWKSURL  = "https://appleid.apple.com/auth/keys"
	AppleIssuer   = "https://appleid.apple.com"
)

const appleClientSecretLifetime = 5 * time.Minute

// AppleSpec returns the Apple provider description. Apple posts the
// authorization response back as a form.
func AppleSpec() Spec {
	return Spec{
		Name:           Apple,
		AuthURL:        AppleAuthURL,
		TokenURL:       AppleTokenURL,
		Issuers:        []string{AppleIssuer},
		Scopes:         []string{"openid", "email", "name"},
		CallbackMethod: http.MethodPost,
		ResponseMode:   "form_post",
	}
}

// AppleCredentials identify the Sign in with Apple service.
type AppleCredentials struct {
	ClientID      string
	TeamID        string
	KeyID         string
	PrivateKeyPEM string
}

// AppleClientSecret signs client assertions for Apple's token endpoint.
// Apple has no static client secret: each exchange presents a short-lived
// ES256 JWT signed with the team's private key.
type AppleClientSecret struct {
	clientID string
	teamID   string
	keyID    string
	key      *ecdsa.PrivateKey
	now      func() time.Time
}

// NewAppleClientSecret parses the PKCS#8 private key. Literal "\n"
// sequences are accepted in place of newlines since the key usually
// arrives through an environment variable.
func NewAppleClientSecret(creds AppleCredentials, now func() time.Time) (*AppleClientSecret, error) {
	if creds.TeamID == "" || creds.KeyID == "" {
		return nil, fmt.Errorf("apple: team id and key id are required")
	}
	pemData := strings.ReplaceAll(creds.PrivateKeyPEM, `\n`, "\n")
	key, err := jwt.ParseECPrivateKeyFromPEM([]byte(pemData))
	if err != nil {
		return nil, fmt.Errorf("apple: parsing private key: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &AppleClientSecret{
		clientID: creds.ClientID,
		teamID:   creds.TeamID,
		keyID:    creds.KeyID,
		key:      key,
		now:      now,
	}, nil
}

// Sign returns a fresh client assertion.
func (s *AppleClientSecret) Sign() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.teamID,
		"aud": AppleIssuer,
		"sub": s.clientID,
		"iat": now.Unix(),
		"exp": now.Add(appleClientSecretLifetime).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("apple: signing client secret: %w", err)
	}
	return signed, nil
}

// NewAppleProvider creates the Apple adapter using signed client assertions.
func NewAppleProvider(creds AppleCredentials, redirectURI string, settings Settings) (*Adapter, error) {
	secret, err := NewAppleClientSecret(creds, settings.Now)
	if err != nil {
		return nil, err
	}
	settings.ClientID = creds.ClientID
	settings.RedirectURI = redirectURI
	settings.ClientSecret = secret.Sign
	return NewAdapter(AppleSpec(), settings)
}
