package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var bashStyleRegex = regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", ConfigVersion)
	} else if !strings.HasPrefix(version, ConfigVersion) {
		result.addError("version", "unsupported version '%s' - use '%s'", version, ConfigVersion)
	}

	validateServerStructure(rawConfig, result)
	validateProvidersStructure(rawConfig, result)
	validateAuthGenieStructure(rawConfig, result)
	validateSessionsStructure(rawConfig, result)

	return result, nil
}

func validateServerStructure(rawConfig map[string]any, result *ValidationResult) {
	server, ok := rawConfig["server"].(map[string]any)
	if !ok {
		result.addError("server", "server field is required and must be an object")
		return
	}
	if _, ok := server["baseURL"]; !ok {
		result.addError("server.baseURL", "baseURL is required. Example: \"https://app.example.com\"")
	}
	if _, ok := server["addr"]; !ok {
		result.addError("server.addr", "addr is required. Example: \":8080\" or \"0.0.0.0:8080\"")
	}
}

func validateProvidersStructure(rawConfig map[string]any, result *ValidationResult) {
	providers, ok := rawConfig["providers"].(map[string]any)
	if !ok {
		result.addError("providers", "providers field is required and must be an object")
		return
	}

	google, hasGoogle := providers["google"].(map[string]any)
	apple, hasApple := providers["apple"].(map[string]any)
	if !hasGoogle && !hasApple {
		result.addError("providers", "at least one of google or apple must be configured")
	}

	if hasGoogle {
		requireFields(google, "providers.google", result, "clientId", "clientSecret")
		if secret, ok := google["clientSecret"]; ok {
			validateSecretReference(secret, "clientSecret", "providers.google.clientSecret", result)
		}
	}
	if hasApple {
		requireFields(apple, "providers.apple", result, "clientId", "teamId", "keyId", "privateKey")
		if key, ok := apple["privateKey"]; ok {
			validateSecretReference(key, "privateKey", "providers.apple.privateKey", result)
		}
	}

	if ttl, ok := providers["jwksCacheTtl"].(string); ok {
		if _, err := time.ParseDuration(ttl); err != nil {
			result.addError("providers.jwksCacheTtl", "invalid duration %q", ttl)
		}
	}
}

func validateAuthGenieStructure(rawConfig map[string]any, result *ValidationResult) {
	ag, ok := rawConfig["authgenie"].(map[string]any)
	if !ok {
		result.addError("authgenie", "authgenie field is required and must be an object")
		return
	}
	requireFields(ag, "authgenie", result, "baseURL", "clientId", "clientSecret")
	if secret, ok := ag["clientSecret"]; ok {
		validateSecretReference(secret, "clientSecret", "authgenie.clientSecret", result)
	}
	if _, ok := ag["audience"]; !ok {
		result.addWarning("authgenie.audience", "no audience configured, broker tokens will use the broker's default audience")
	}
}

func validateSessionsStructure(rawConfig map[string]any, result *ValidationResult) {
	sessions, ok := rawConfig["sessions"].(map[string]any)
	if !ok {
		result.addWarning("sessions", "sessions not configured, using in-memory storage. Sessions will not survive restarts")
		return
	}

	storage, _ := sessions["storage"].(string)
	switch SessionStorage(storage) {
	case "", SessionStorageMemory:
		result.addWarning("sessions.storage", "in-memory storage does not survive restarts and is not shared between instances")
	case SessionStorageFirestore:
		requireFields(sessions, "sessions", result, "gcpProject", "encryptionKey")
		if key, ok := sessions["encryptionKey"]; ok {
			validateSecretReference(key, "encryptionKey", "sessions.encryptionKey", result)
		}
	case SessionStorageRemote:
		requireFields(sessions, "sessions", result, "storeURL")
		if token, ok := sessions["storeToken"]; ok {
			validateSecretReference(token, "storeToken", "sessions.storeToken", result)
		}
	default:
		result.addError("sessions.storage", "unknown storage '%s' - use memory, firestore or remote", storage)
	}

	var ttl, cleanup time.Duration
	if s, ok := sessions["ttl"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			result.addError("sessions.ttl", "invalid duration %q", s)
		}
		ttl = d
	}
	if s, ok := sessions["cleanupInterval"].(string); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			result.addError("sessions.cleanupInterval", "invalid duration %q", s)
		}
		cleanup = d
	}
	if ttl > 0 && cleanup > ttl {
		result.addWarning("sessions", "cleanupInterval (%s) is longer than ttl (%s). Idle sessions will outlive their ttl until cleanup runs.", cleanup, ttl)
	}
}

func requireFields(obj map[string]any, path string, result *ValidationResult, fields ...string) {
	for _, f := range fields {
		if _, ok := obj[f]; !ok {
			result.addError(path+"."+f, "%s is required", f)
		}
	}
}

// validateSecretReference checks that a secret is an env var reference
func validateSecretReference(value any, fieldName, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			result.addError(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1])
			return
		}
		result.addError(path, "%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This prevents secrets from being stored in config files", fieldName)
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			result.addError(path, "%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName)
		}
	default:
		result.addError(path, "%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value)
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
