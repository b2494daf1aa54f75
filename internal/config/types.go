package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// SessionStorage selects the session store backend
type SessionStorage string

const (
	SessionStorageMemory    SessionStorage = "memory"
	SessionStorageFirestore SessionStorage = "firestore"
	SessionStorageRemote    SessionStorage = "remote"
)

// Defaults applied when a value is absent.
const (
	DefaultSessionCookieName   = "bff_session"
	DefaultFirestoreDatabase   = "(default)"
	DefaultFirestoreCollection = "ebo_bff_sessions"
	DefaultSessionTTL          = 30 * 24 * time.Hour
	DefaultCleanupInterval     = time.Hour
	DefaultJWKSCacheTTL        = time.Hour
	DefaultPlannerTimeout      = 15 * time.Second
	DefaultServiceName         = "ebo-bff"
)

// ServerConfig configures the HTTP listener and the public origin
type ServerConfig struct {
	// BaseURL is this service's public origin. Callback URLs and return-path
	// sanitization are derived from it.
	BaseURL        string   `json:"baseURL"`
	Addr           string   `json:"addr"`
	StaticDir      string   `json:"staticDir,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// LoggingConfig overrides LOG_LEVEL and LOG_FORMAT
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"`
}

// GoogleConfig holds the Google OAuth client
type GoogleConfig struct {
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
}

// AppleConfig holds the Sign in with Apple service identity
type AppleConfig struct {
	ClientID   string `json:"clientId"`
	TeamID     string `json:"teamId"`
	KeyID      string `json:"keyId"`
	PrivateKey Secret `json:"privateKey"`
}

// ProvidersConfig lists the enabled identity providers
type ProvidersConfig struct {
	Google       *GoogleConfig `json:"google,omitempty"`
	Apple        *AppleConfig  `json:"apple,omitempty"`
	JWKSCacheTTL time.Duration `json:"jwksCacheTtl,omitempty"`
}

// AuthGenieConfig configures the identity broker client
type AuthGenieConfig struct {
	BaseURL      string `json:"baseURL"`
	ClientID     string `json:"clientId"`
	ClientSecret Secret `json:"clientSecret"`
	Audience     string `json:"audience,omitempty"`
}

// PlannerConfig configures the upstream trip planner API
type PlannerConfig struct {
	BaseURL string        `json:"baseURL"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// SessionConfig configures the session cookie and store
type SessionConfig struct {
	CookieName string         `json:"cookieName,omitempty"`
	Storage    SessionStorage `json:"storage"`

	// Firestore
	GCPProject          string `json:"gcpProject,omitempty"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection string `json:"firestoreCollection,omitempty"`
	EncryptionKey       Secret `json:"encryptionKey,omitempty"`

	// Remote session service
	StoreURL   string `json:"storeURL,omitempty"`
	StoreToken Secret `json:"storeToken,omitempty"`

	// ServeToken, when set, exposes this instance's store at /sessions/
	// for other instances configured with storage "remote".
	ServeToken Secret `json:"serveToken,omitempty"`

	// TTL is how long an idle session survives before cleanup removes it.
	TTL             time.Duration `json:"ttl,omitempty"`
	CleanupInterval time.Duration `json:"cleanupInterval,omitempty"`
}

// TelemetryConfig configures OpenTelemetry tracing export
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   LoggingConfig   `json:"logging"`
	Providers ProvidersConfig `json:"providers"`
	AuthGenie AuthGenieConfig `json:"authgenie"`
	Planner   PlannerConfig   `json:"planner"`
	Sessions  SessionConfig   `json:"sessions"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// ApplyDefaults fills in unset optional values
func (c *Config) ApplyDefaults() {
	if c.Sessions.CookieName == "" {
		c.Sessions.CookieName = DefaultSessionCookieName
	}
	if c.Sessions.Storage == "" {
		c.Sessions.Storage = SessionStorageMemory
	}
	if c.Sessions.Storage == SessionStorageFirestore {
		if c.Sessions.FirestoreDatabase == "" {
			c.Sessions.FirestoreDatabase = DefaultFirestoreDatabase
		}
		if c.Sessions.FirestoreCollection == "" {
			c.Sessions.FirestoreCollection = DefaultFirestoreCollection
		}
	}
	if c.Sessions.TTL == 0 {
		c.Sessions.TTL = DefaultSessionTTL
	}
	if c.Sessions.CleanupInterval == 0 {
		c.Sessions.CleanupInterval = DefaultCleanupInterval
	}
	if c.Providers.JWKSCacheTTL == 0 {
		c.Providers.JWKSCacheTTL = DefaultJWKSCacheTTL
	}
	if c.Planner.Timeout == 0 {
		c.Planner.Timeout = DefaultPlannerTimeout
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
//
// The explicit JSON syntax is used instead of $VAR substitution so config
// files survive shell handling untouched and a literal "$" in a value is
// never re-expanded.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}
