package config

import (
	"encoding/json"
	"fmt"
	"time"
)

func parseString(raw json.RawMessage, name string, dst *string) error {
	if raw == nil {
		return nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = value
	return nil
}

func parseSecret(raw json.RawMessage, name string, dst *Secret) error {
	var value string
	if err := parseString(raw, name, &value); err != nil {
		return err
	}
	*dst = Secret(value)
	return nil
}

func parseDuration(raw, name string, dst *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	if d < 0 {
		return fmt.Errorf("%s cannot be negative", name)
	}
	*dst = d
	return nil
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (s *ServerConfig) UnmarshalJSON(data []byte) error {
	type rawServer struct {
		BaseURL        json.RawMessage `json:"baseURL"`
		Addr           json.RawMessage `json:"addr"`
		StaticDir      string          `json:"staticDir"`
		AllowedOrigins []string        `json:"allowedOrigins"`
	}

	var raw rawServer
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.StaticDir = raw.StaticDir
	s.AllowedOrigins = raw.AllowedOrigins

	if err := parseString(raw.BaseURL, "baseURL", &s.BaseURL); err != nil {
		return err
	}
	return parseString(raw.Addr, "addr", &s.Addr)
}

// UnmarshalJSON implements custom unmarshaling for GoogleConfig
func (g *GoogleConfig) UnmarshalJSON(data []byte) error {
	type rawGoogle struct {
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
	}

	var raw rawGoogle
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := parseString(raw.ClientID, "clientId", &g.ClientID); err != nil {
		return err
	}
	return parseSecret(raw.ClientSecret, "clientSecret", &g.ClientSecret)
}

// UnmarshalJSON implements custom unmarshaling for AppleConfig
func (a *AppleConfig) UnmarshalJSON(data []byte) error {
	type rawApple struct {
		ClientID   json.RawMessage `json:"clientId"`
		TeamID     json.RawMessage `json:"teamId"`
		KeyID      json.RawMessage `json:"keyId"`
		PrivateKey json.RawMessage `json:"privateKey"`
	}

	var raw rawApple
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := parseString(raw.ClientID, "clientId", &a.ClientID); err != nil {
		return err
	}
	if err := parseString(raw.TeamID, "teamId", &a.TeamID); err != nil {
		return err
	}
	if err := parseString(raw.KeyID, "keyId", &a.KeyID); err != nil {
		return err
	}
	return parseSecret(raw.PrivateKey, "privateKey", &a.PrivateKey)
}

// UnmarshalJSON implements custom unmarshaling for ProvidersConfig
func (p *ProvidersConfig) UnmarshalJSON(data []byte) error {
	type rawProviders struct {
		Google       *GoogleConfig `json:"google"`
		Apple        *AppleConfig  `json:"apple"`
		JWKSCacheTTL string        `json:"jwksCacheTtl"`
	}

	var raw rawProviders
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	p.Google = raw.Google
	p.Apple = raw.Apple
	return parseDuration(raw.JWKSCacheTTL, "jwksCacheTtl", &p.JWKSCacheTTL)
}

// UnmarshalJSON implements custom unmarshaling for AuthGenieConfig
func (a *AuthGenieConfig) UnmarshalJSON(data []byte) error {
	type rawAuthGenie struct {
		BaseURL      json.RawMessage `json:"baseURL"`
		ClientID     json.RawMessage `json:"clientId"`
		ClientSecret json.RawMessage `json:"clientSecret"`
		Audience     json.RawMessage `json:"audience"`
	}

	var raw rawAuthGenie
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := parseString(raw.BaseURL, "baseURL", &a.BaseURL); err != nil {
		return err
	}
	if err := parseString(raw.ClientID, "clientId", &a.ClientID); err != nil {
		return err
	}
	if err := parseSecret(raw.ClientSecret, "clientSecret", &a.ClientSecret); err != nil {
		return err
	}
	return parseString(raw.Audience, "audience", &a.Audience)
}

// UnmarshalJSON implements custom unmarshaling for PlannerConfig
func (p *PlannerConfig) UnmarshalJSON(data []byte) error {
	type rawPlanner struct {
		BaseURL json.RawMessage `json:"baseURL"`
		Timeout string          `json:"timeout"`
	}

	var raw rawPlanner
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if err := parseString(raw.BaseURL, "baseURL", &p.BaseURL); err != nil {
		return err
	}
	return parseDuration(raw.Timeout, "timeout", &p.Timeout)
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (s *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSessions struct {
		CookieName          string          `json:"cookieName"`
		Storage             SessionStorage  `json:"storage"`
		GCPProject          json.RawMessage `json:"gcpProject"`
		FirestoreDatabase   string          `json:"firestoreDatabase"`
		FirestoreCollection string          `json:"firestoreCollection"`
		EncryptionKey       json.RawMessage `json:"encryptionKey"`
		StoreURL            json.RawMessage `json:"storeURL"`
		StoreToken          json.RawMessage `json:"storeToken"`
		ServeToken          json.RawMessage `json:"serveToken"`
		TTL                 string          `json:"ttl"`
		CleanupInterval     string          `json:"cleanupInterval"`
	}

	var raw rawSessions
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.CookieName = raw.CookieName
	s.Storage = raw.Storage
	s.FirestoreDatabase = raw.FirestoreDatabase
	s.FirestoreCollection = raw.FirestoreCollection

	if err := parseString(raw.GCPProject, "gcpProject", &s.GCPProject); err != nil {
		return err
	}
	if err := parseSecret(raw.EncryptionKey, "encryptionKey", &s.EncryptionKey); err != nil {
		return err
	}
	if err := parseString(raw.StoreURL, "storeURL", &s.StoreURL); err != nil {
		return err
	}
	if err := parseSecret(raw.StoreToken, "storeToken", &s.StoreToken); err != nil {
		return err
	}
	if err := parseSecret(raw.ServeToken, "serveToken", &s.ServeToken); err != nil {
		return err
	}
	if err := parseDuration(raw.TTL, "ttl", &s.TTL); err != nil {
		return err
	}
	return parseDuration(raw.CleanupInterval, "cleanupInterval", &s.CleanupInterval)
}

// UnmarshalJSON implements custom unmarshaling for TelemetryConfig
func (t *TelemetryConfig) UnmarshalJSON(data []byte) error {
	type rawTelemetry struct {
		Endpoint    json.RawMessage `json:"endpoint"`
		ServiceName string          `json:"serviceName"`
	}

	var raw rawTelemetry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	t.ServiceName = raw.ServiceName
	return parseString(raw.Endpoint, "endpoint", &t.Endpoint)
}
