package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors the environment variables the service was originally
// deployed with.
type envConfig struct {
	BaseURL        string   `env:"BASE_URL"`
	Addr           string   `env:"ADDR" envDefault:":8080"`
	StaticDir      string   `env:"STATIC_DIR"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	AppleClientID     string `env:"APPLE_CLIENT_ID"`
	AppleTeamID       string `env:"APPLE_TEAM_ID"`
	AppleKeyID        string `env:"APPLE_KEY_ID"`
	ApplePrivateKeyP8 string `env:"APPLE_PRIVATE_KEY_P8"`

	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL"`

	AuthGenieBaseURL      string `env:"AUTHGENIE_BASE_URL"`
	AuthGenieClientID     string `env:"AUTHGENIE_CLIENT_ID"`
	AuthGenieClientSecret string `env:"AUTHGENIE_CLIENT_SECRET"`
	AuthGenieAudience     string `env:"AUTHGENIE_AUDIENCE"`

	PlannerBaseURL string        `env:"PLANNER_BASE_URL"`
	PlannerTimeout time.Duration `env:"PLANNER_TIMEOUT"`

	SessionCookieName      string        `env:"SESSION_COOKIE_NAME"`
	SessionStorage         string        `env:"SESSION_STORAGE"`
	GCPProject             string        `env:"GCP_PROJECT"`
	FirestoreDatabase      string        `env:"FIRESTORE_DATABASE"`
	FirestoreCollection    string        `env:"FIRESTORE_COLLECTION"`
	SessionEncryptionKey   string        `env:"SESSION_ENCRYPTION_KEY"`
	SessionStoreURL        string        `env:"SESSION_STORE_URL"`
	SessionStoreToken      string        `env:"SESSION_STORE_TOKEN"`
	SessionServeToken      string        `env:"SESSION_SERVE_TOKEN"`
	SessionTTL             time.Duration `env:"SESSION_TTL"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName  string `env:"OTEL_SERVICE_NAME"`
}

// LoadFromEnv builds the config from environment variables. environ
// overrides the process environment when non-nil.
func LoadFromEnv(environ map[string]string) (Config, error) {
	opts := env.Options{}
	if environ != nil {
		opts.Environment = environ
	}

	ec, err := env.ParseAsWithOptions[envConfig](opts)
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	config := ec.toConfig()
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func (ec envConfig) toConfig() Config {
	config := Config{
		Server: ServerConfig{
			BaseURL:        ec.BaseURL,
			Addr:           ec.Addr,
			StaticDir:      ec.StaticDir,
			AllowedOrigins: ec.AllowedOrigins,
		},
		Logging: LoggingConfig{
			Level:  ec.LogLevel,
			Format: ec.LogFormat,
		},
		Providers: ProvidersConfig{
			JWKSCacheTTL: ec.JWKSCacheTTL,
		},
		AuthGenie: AuthGenieConfig{
			BaseURL:      ec.AuthGenieBaseURL,
			ClientID:     ec.AuthGenieClientID,
			ClientSecret: Secret(ec.AuthGenieClientSecret),
			Audience:     ec.AuthGenieAudience,
		},
		Planner: PlannerConfig{
			BaseURL: ec.PlannerBaseURL,
			Timeout: ec.PlannerTimeout,
		},
		Sessions: SessionConfig{
			CookieName:          ec.SessionCookieName,
			Storage:             SessionStorage(ec.SessionStorage),
			GCPProject:          ec.GCPProject,
			FirestoreDatabase:   ec.FirestoreDatabase,
			FirestoreCollection: ec.FirestoreCollection,
			EncryptionKey:       Secret(ec.SessionEncryptionKey),
			StoreURL:            ec.SessionStoreURL,
			StoreToken:          Secret(ec.SessionStoreToken),
			ServeToken:          Secret(ec.SessionServeToken),
			TTL:                 ec.SessionTTL,
			CleanupInterval:     ec.SessionCleanupInterval,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    ec.OTLPEndpoint,
			ServiceName: ec.ServiceName,
		},
	}

	// A provider is enabled when its client id is present.
	if ec.GoogleClientID != "" {
		config.Providers.Google = &GoogleConfig{
			ClientID:     ec.GoogleClientID,
			ClientSecret: Secret(ec.GoogleClientSecret),
		}
	}
	if ec.AppleClientID != "" {
		config.Providers.Apple = &AppleConfig{
			ClientID:   ec.AppleClientID,
			TeamID:     ec.AppleTeamID,
			KeyID:      ec.AppleKeyID,
			PrivateKey: Secret(ec.ApplePrivateKeyP8),
		}
	}
	return config
}
