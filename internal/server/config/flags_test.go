package config

import (
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "all flags", args: []string{"cmd",
			"-a", "127.0.0.1:9090", "-d", "db", "-s", "secret", "-t", "5", "-v", "family", "-l", "debug",
			"-u", "user", "-p", "password", "-b", "bucket", "-g", "us-west-1", "-e", "http://endpoint",
		},
			expected: &Config{
				EndpointAddrHTTP:        "127.0.0.1:9090",
				DatabaseDSN:             "db",
				SecretKey:               "secret",
				SessionValidityDuration: 5 * time.Minute,
				VaultID:                 "family",
				LogLevel:                "debug",
				S3RootUser:              "user",
				S3RootPassword:          "password",
				S3Bucket:                "bucket",
				S3Region:                "us-west-1",
				S3BaseEndpoint:          "http://endpoint",
			}},
		{name: "foreign flags ignored", args: []string{"cmd", "-c", "cfg.json", "-x", "1", "-d", "db"},
			expected: &Config{DatabaseDSN: "db"}},
		{name: "bad int", args: []string{"cmd", "-t", "soon"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Empty(t, cmp.Diff(config, tt.expected))
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}

func TestParseFlags_KeepsSubMinuteValidity(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })
	os.Args = []string{"cmd"}

	c := &Config{SessionValidityDuration: 90 * time.Second}
	parseFlags(c)
	assert.Equal(t, 90*time.Second, c.SessionValidityDuration)
}

func TestParseEnv(t *testing.T) {
	t.Setenv("GOPHVAULT_ADDRESS", ":7000")
	t.Setenv("GOPHVAULT_SESSION_VALIDITY", "2h")
	t.Setenv("GOPHVAULT_MIN_SECRET_LENGTH", "10")
	t.Setenv("GOPHVAULT_REKEY_RETRIES", "many")
	t.Setenv("GOPHVAULT_S3_BUCKET", "snaps")

	c := defaults()
	parseEnv(c)

	want := defaults()
	want.EndpointAddrHTTP = ":7000"
	want.SessionValidityDuration = 2 * time.Hour
	want.MinSecretLength = 10
	want.S3Bucket = "snaps"
	assert.Empty(t, cmp.Diff(want, c), "unparseable ints are ignored")
}
