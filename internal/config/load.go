package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/dgellow/ebo-bff/internal/log"
)

// ConfigVersion is the config schema version prefix this build accepts.
const ConfigVersion = "v0.0.1"

// secretPaths lists the fields that must be env references in config files.
var secretPaths = [][]string{
	{"providers", "google", "clientSecret"},
	{"providers", "apple", "privateKey"},
	{"authgenie", "clientSecret"},
	{"sessions", "encryptionKey"},
	{"sessions", "storeToken"},
	{"sessions", "serveToken"},
}

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, ConfigVersion) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	config.ApplyDefaults()

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig rejects secrets written inline in the config file
func validateRawConfig(rawConfig map[string]any) error {
	for _, path := range secretPaths {
		value, ok := lookupPath(rawConfig, path)
		if !ok {
			continue
		}
		name := strings.Join(path, ".")
		if _, isString := value.(string); isString {
			return fmt.Errorf("%s must use environment variable reference for security", name)
		}
		if refMap, isMap := value.(map[string]any); isMap {
			if _, hasEnv := refMap["$env"]; !hasEnv {
				return fmt.Errorf("%s must use {\"$env\": \"VAR_NAME\"} format", name)
			}
		}
	}
	return nil
}

func lookupPath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.Server.BaseURL == "" {
		return fmt.Errorf("server.baseURL is required")
	}
	if err := validateAbsoluteURL(config.Server.BaseURL); err != nil {
		return fmt.Errorf("server.baseURL: %w", err)
	}
	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if err := validateProviders(&config.Providers); err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	if err := validateAuthGenie(&config.AuthGenie); err != nil {
		return fmt.Errorf("authgenie: %w", err)
	}
	if config.Planner.BaseURL != "" {
		if err := validateAbsoluteURL(config.Planner.BaseURL); err != nil {
			return fmt.Errorf("planner.baseURL: %w", err)
		}
	} else {
		log.LogWarn("planner.baseURL is not set, planner API routes are disabled")
	}
	if err := validateSessions(&config.Sessions); err != nil {
		return fmt.Errorf("sessions: %w", err)
	}

	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an absolute http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host, got %q", raw)
	}
	return nil
}

func validateProviders(p *ProvidersConfig) error {
	if p.Google == nil && p.Apple == nil {
		return fmt.Errorf("at least one of google or apple must be configured")
	}
	if g := p.Google; g != nil {
		if g.ClientID == "" {
			return fmt.Errorf("google.clientId is required")
		}
		if g.ClientSecret == "" {
			return fmt.Errorf("google.clientSecret is required")
		}
	}
	if a := p.Apple; a != nil {
		if a.ClientID == "" {
			return fmt.Errorf("apple.clientId is required")
		}
		if a.TeamID == "" {
			return fmt.Errorf("apple.teamId is required")
		}
		if a.KeyID == "" {
			return fmt.Errorf("apple.keyId is required")
		}
		if a.PrivateKey == "" {
			return fmt.Errorf("apple.privateKey is required")
		}
	}
	if p.JWKSCacheTTL < 0 {
		return fmt.Errorf("jwksCacheTtl cannot be negative")
	}
	return nil
}

func validateAuthGenie(a *AuthGenieConfig) error {
	if a.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	if err := validateAbsoluteURL(a.BaseURL); err != nil {
		return fmt.Errorf("baseURL: %w", err)
	}
	if a.ClientID == "" {
		return fmt.Errorf("clientId is required")
	}
	if a.ClientSecret == "" {
		return fmt.Errorf("clientSecret is required")
	}
	return nil
}

func validateSessions(s *SessionConfig) error {
	switch s.Storage {
	case SessionStorageMemory, "":
	case SessionStorageFirestore:
		if s.GCPProject == "" {
			return fmt.Errorf("gcpProject is required when using firestore storage")
		}
		if len(s.EncryptionKey) != 32 {
			return fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(s.EncryptionKey))
		}
	case SessionStorageRemote:
		if s.StoreURL == "" {
			return fmt.Errorf("storeURL is required when using remote storage")
		}
		if err := validateAbsoluteURL(s.StoreURL); err != nil {
			return fmt.Errorf("storeURL: %w", err)
		}
	default:
		return fmt.Errorf("unknown storage %q (memory, firestore or remote)", s.Storage)
	}

	if s.TTL < 0 {
		return fmt.Errorf("ttl cannot be negative")
	}
	if s.CleanupInterval < 0 {
		return fmt.Errorf("cleanupInterval cannot be negative")
	}
	if s.TTL > 0 && s.CleanupInterval > s.TTL {
		log.LogWarn("Session cleanup interval is greater than session TTL")
	}
	return nil
}
