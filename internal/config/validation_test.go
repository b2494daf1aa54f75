package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateFile(t *testing.T) {
	tests := []struct {
		name         string
		config       string
		wantErrors   []string
		wantWarnings []string
	}{
		{
			name: "valid config",
			config: `{
				"version": "v0.0.1",
				"server": {"baseURL": "https://app.example.com", "addr": ":8080"},
				"providers": {"google": {"clientId": "g", "clientSecret": {"$env": "GOOGLE_CLIENT_SECRET"}}},
				"authgenie": {"baseURL": "https://ag.example.com", "clientId": "bff", "clientSecret": {"$env": "AG_SECRET"}, "audience": "planner"},
				"sessions": {"storage": "remote", "storeURL": "https://sessions.internal", "storeToken": {"$env": "STORE_TOKEN"}}
			}`,
		},
		{
			name:       "missing everything",
			config:     `{}`,
			wantErrors: []string{"version", "server", "providers", "authgenie"},
		},
		{
			name: "plain text secret",
			config: `{
				"version": "v0.0.1",
				"server": {"baseURL": "https://app.example.com", "addr": ":8080"},
				"providers": {"apple": {"clientId": "a", "teamId": "t", "keyId": "k", "privateKey": "-----BEGIN"}},
				"authgenie": {"baseURL": "https://ag.example.com", "clientId": "bff", "clientSecret": "$AG_SECRET", "audience": "x"},
				"sessions": {"storage": "remote", "storeURL": "https://s"}
			}`,
			wantErrors:   []string{"providers.apple.privateKey", "authgenie.clientSecret"},
			wantWarnings: []string{"authgenie.clientSecret"},
		},
		{
			name: "firestore requires project and key",
			config: `{
				"version": "v0.0.1",
				"server": {"baseURL": "https://app.example.com", "addr": ":8080"},
				"providers": {"google": {"clientId": "g", "clientSecret": {"$env": "G"}}},
				"authgenie": {"baseURL": "https://ag.example.com", "clientId": "bff", "clientSecret": {"$env": "AG"}, "audience": "x"},
				"sessions": {"storage": "firestore", "ttl": "1h", "cleanupInterval": "2h"}
			}`,
			wantErrors:   []string{"sessions.gcpProject", "sessions.encryptionKey"},
			wantWarnings: []string{"sessions"},
		},
		{
			name: "memory storage warns",
			config: `{
				"version": "v0.0.1",
				"server": {"baseURL": "https://app.example.com", "addr": ":8080"},
				"providers": {"google": {"clientId": "g", "clientSecret": {"$env": "G"}}},
				"authgenie": {"baseURL": "https://ag.example.com", "clientId": "bff", "clientSecret": {"$env": "AG"}, "audience": "x"}
			}`,
			wantWarnings: []string{"sessions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.config), 0644))

			result, err := ValidateFile(path)
			require.NoError(t, err)

			errorPaths := make([]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				errorPaths = append(errorPaths, e.Path)
			}
			warningPaths := make([]string, 0, len(result.Warnings))
			for _, w := range result.Warnings {
				warningPaths = append(warningPaths, w.Path)
			}

			if len(tt.wantErrors) == 0 {
				assert.True(t, result.IsValid(), "unexpected errors: %v", result.Errors)
			}
			for _, p := range tt.wantErrors {
				assert.Contains(t, errorPaths, p)
			}
			for _, p := range tt.wantWarnings {
				assert.Contains(t, warningPaths, p)
			}
		})
	}
}

func TestValidateFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{invalid json`), 0644))

	result, err := ValidateFile(path)
	require.NoError(t, err)
	require.False(t, result.IsValid())
	assert.Contains(t, result.Errors[0].Message, "invalid JSON")
}

func TestValidateFile_MissingFile(t *testing.T) {
	_, err := ValidateFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
