package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_http":        "www.example:9000",
		"database_dsn":              "vault.db",
		"secret_key":                "my_secret_key",
		"vault_id":                  "family",
		"session_validity_duration": "10m",
		"session_sweep_interval":    30000000000,
		"restore_timeout":           "1m",
		"min_secret_length":         12,
		"rekey_retries":             5,
		"rekey_backoff":             "10ms",
		"s3_root_user":              "user",
		"s3_root_password":          "password",
		"s3_bucket":                 "bucket",
		"s3_region":                 "region",
		"s3_base_endpoint":          "base_endpoint",
		"log_level":                 "debug",
		"log_format":                "text",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrHTTP)
		assert.Equal(t, "vault.db", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, "family", cfg.VaultID)
		assert.Equal(t, 10*time.Minute, cfg.SessionValidityDuration)
		assert.Equal(t, 30*time.Second, cfg.SessionSweepInterval)
		assert.Equal(t, time.Minute, cfg.RestoreTimeout)
		assert.Equal(t, 12, cfg.MinSecretLength)
		assert.Equal(t, 5, cfg.RekeyRetries)
		assert.Equal(t, 10*time.Millisecond, cfg.RekeyBackoff)
		assert.Equal(t, "user", cfg.S3RootUser)
		assert.Equal(t, "password", cfg.S3RootPassword)
		assert.Equal(t, "bucket", cfg.S3Bucket)
		assert.Equal(t, "region", cfg.S3Region)
		assert.Equal(t, "base_endpoint", cfg.S3BaseEndpoint)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "text", cfg.LogFormat)
	})

	t.Run("missing keys keep current values", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{"database_dsn": "other.db"})
		os.Args = []string{"testbin", "-c", partial}

		cfg := defaults()
		parseJson(cfg)

		want := defaults()
		want.DatabaseDSN = "other.db"
		assert.Equal(t, want, cfg)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := defaults()
		parseJson(cfg)
		assert.Equal(t, defaults(), cfg)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "nope.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
