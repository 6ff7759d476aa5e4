// Package config handles configuration for the server and the operator CLI,
// including defaults, JSON overlay, environment and command-line flags.
package config

import (
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

// EnvPrefix prefixes every environment variable read by the config.
const EnvPrefix = "GOPHVAULT_"

// Config holds runtime settings for the gophvault server.
//
// Fields:
//   - EndpointAddrHTTP: bind address for the REST API.
//   - DatabaseDSN: postgres:// URL (pgx) or a SQLite file/URI (modernc).
//   - SecretKey: HMAC secret for signing session JWTs (HS256). Do not use the default in prod.
//   - VaultID: id of the vault row this server gates.
//   - SessionValidityDuration / SessionSweepInterval: session lifetime and sweeper period.
//   - RestoreTimeout: upper bound for a rollback restore before it is declared unrecoverable.
//   - MinSecretLength: shortest accepted master secret.
//   - RekeyRetries / RekeyBackoff: retry budget for each re-key write.
//   - S3*: off-box snapshot archive; an empty bucket disables it.
//   - LogLevel / LogFormat: slog level and handler ("json" or "text").
type Config struct {
	EndpointAddrHTTP        string
	DatabaseDSN             string
	SecretKey               string
	VaultID                 string
	SessionValidityDuration time.Duration
	SessionSweepInterval    time.Duration
	RestoreTimeout          time.Duration
	MinSecretLength         int
	RekeyRetries            int
	RekeyBackoff            time.Duration
	S3RootUser              string
	S3RootPassword          string
	S3Bucket                string
	S3Region                string
	S3BaseEndpoint          string
	LogLevel                string
	LogFormat               string
}

// LoadDefaults populates Config with development defaults.
// NOTE: SecretKey is insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.EndpointAddrHTTP = ":8080"
	c.DatabaseDSN = "gophvault.db"
	c.SecretKey = "secretKey"
	c.VaultID = common.DefaultVaultID
	c.SessionValidityDuration = 30 * time.Minute
	c.SessionSweepInterval = 1 * time.Minute
	c.RestoreTimeout = 30 * time.Second
	c.MinSecretLength = 6
	c.RekeyRetries = 3
	c.RekeyBackoff = 50 * time.Millisecond
	c.S3RootUser = ""
	c.S3RootPassword = ""
	c.S3Bucket = ""
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.LogLevel = "info"
	c.LogFormat = "json"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, the environment and finally command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// LoadEnvConfig applies defaults and the environment only. Tools with
// their own flag parsing use it.
func LoadEnvConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseEnv(cfg)
	return cfg
}
