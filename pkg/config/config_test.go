package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/luoliAsyns/Gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
service:
  name: gateway
  id: "1"
asyns:
  base_url: http://asyns.internal:9000
auth:
  secret: test-secret
taobao:
  app_secret: tb-secret
  access_token: tb-token
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sys.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoad_Defaults verifies that a minimal file boots with safe defaults.
func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", "")
	t.Setenv("GATEWAY_REDIS_ADDR", "")

	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "redis", cfg.Dedup.Backend)
	assert.Equal(t, 3600, cfg.Auth.TTLSeconds)
	assert.Equal(t, "http://asyns.internal:9000", cfg.Asyns.BaseURL)
}

// TestLoad_EnvOverrides verifies 12-factor overrides win over the file.
func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("GATEWAY_ADDR", ":9999")
	t.Setenv("GATEWAY_REDIS_ADDR", "redis.prod:6379")
	t.Setenv("GATEWAY_AUTH_SECRET", "env-secret")

	cfg, err := config.Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, "redis.prod:6379", cfg.Redis.Addr)
	assert.Equal(t, "env-secret", cfg.Auth.Secret)
}

func TestLoad_RejectsMissingSecrets(t *testing.T) {
	t.Setenv("GATEWAY_AUTH_SECRET", "")
	t.Setenv("GATEWAY_TAOBAO_APP_SECRET", "")
	t.Setenv("GATEWAY_GOOFISH_APP_SECRET", "")

	_, err := config.Load(writeConfig(t, `
asyns:
  base_url: http://asyns.internal:9000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.secret")
}

func TestLoad_RejectsUnknownDedupBackend(t *testing.T) {
	_, err := config.Load(writeConfig(t, minimalYAML+`
dedup:
  backend: dynamo
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dedup backend")
}

func TestLoad_PostgresBackendNeedsDSN(t *testing.T) {
	t.Setenv("GATEWAY_POSTGRES_DSN", "")
	_, err := config.Load(writeConfig(t, minimalYAML+`
dedup:
  backend: postgres
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")
}
