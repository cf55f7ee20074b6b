package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authserver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "http://localhost:8080", cfg.Server.Issuer)
	assert.Equal(t, 1, cfg.Server.TrustedProxyCount)
	assert.True(t, cfg.Server.AuditLogging)
	assert.InDelta(t, 10.0, cfg.Server.RateLimitPerSecond, 0.001)
	assert.Equal(t, 20, cfg.Server.RateLimitBurst)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "5m", cfg.Storage.CleanupPeriod)
	assert.Empty(t, cfg.Clients)
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
server:
  issuer: https://auth.example.com
  accessTokenTtl: 900
  keepAccessTokenOnRefresh: true
storage:
  type: sqlite
  sqlite:
    path: /var/lib/authserver/oauth.db
cors:
  allowedOrigins:
    - https://app.example.com
clients:
  - id: web
    name: Web App
    secret: s3cret
    redirectUris:
      - https://app.example.com/callback
    scopes: [openid, email]
    grantTypes: [authorization_code, refresh_token]
users:
  - id: u1
    username: alice
    password: wonderland
`)

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "https://auth.example.com", cfg.Server.Issuer)
	assert.Equal(t, int64(900), cfg.Server.AccessTokenTTL)
	assert.True(t, cfg.Server.KeepAccessTokenOnRefresh)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/authserver/oauth.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.CORS.AllowedOrigins)

	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "web", cfg.Clients[0].ID)
	assert.Equal(t, []string{"https://app.example.com/callback"}, cfg.Clients[0].RedirectURIs)
	assert.Equal(t, []string{"openid", "email"}, cfg.Clients[0].Scopes)

	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Username)

	// Defaults survive for keys the file does not set
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  issuer: https://file.example.com\n")
	t.Setenv("OAUTH2__SERVER__ISSUER", "https://env.example.com")
	t.Setenv("OAUTH2__STORAGE__VALKEY__KEY_PREFIX", "test:")
	t.Setenv("OAUTH2__LOG__LEVEL", "debug")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Server.Issuer)
	assert.Equal(t, "test:", cfg.Storage.Valkey.KeyPrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown storage", "storage:\n  type: postgres\n", "unknown storage type"},
		{"client without id", "clients:\n  - name: nameless\n", "clients[0]: id is required"},
		{"user without username", "users:\n  - id: u1\n", "users[0]: id and username are required"},
		{"invalid yaml", "server: [unclosed\n", "failed to load config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestTransformEnv(t *testing.T) {
	tests := map[string]string{
		"OAUTH2__LISTEN":                          "listen",
		"OAUTH2__SERVER__ISSUER":                  "server.issuer",
		"OAUTH2__SERVER__TRUSTED_PROXY_COUNT":     "server.trustedProxyCount",
		"OAUTH2__STORAGE__VALKEY__KEY_PREFIX":     "storage.valkey.keyPrefix",
		"OAUTH2__SERVER__ALLOW_INSECURE_HTTP":     "server.allowInsecureHttp",
		"OAUTH2__TRACING__LOG_CLIENT_IPS":         "tracing.logClientIps",
		"OAUTH2__STORAGE__VALKEY__ENCRYPTION_KEY": "storage.valkey.encryptionKey",
	}
	for in, want := range tests {
		assert.Equal(t, want, transformEnv(in), in)
	}
}
