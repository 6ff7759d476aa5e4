package config

import "github.com/dmitrijs2005/gophvault/internal/flagx"

// parseEnv overlays GOPHVAULT_* variables onto config.
func parseEnv(config *Config) {
	flagx.EnvString(EnvPrefix, "ADDRESS", &config.EndpointAddrHTTP)
	flagx.EnvString(EnvPrefix, "DATABASE_DSN", &config.DatabaseDSN)
	flagx.EnvString(EnvPrefix, "SECRET_KEY", &config.SecretKey)
	flagx.EnvString(EnvPrefix, "VAULT_ID", &config.VaultID)
	flagx.EnvDuration(EnvPrefix, "SESSION_VALIDITY", &config.SessionValidityDuration)
	flagx.EnvDuration(EnvPrefix, "SESSION_SWEEP_INTERVAL", &config.SessionSweepInterval)
	flagx.EnvDuration(EnvPrefix, "RESTORE_TIMEOUT", &config.RestoreTimeout)
	flagx.EnvInt(EnvPrefix, "MIN_SECRET_LENGTH", &config.MinSecretLength)
	flagx.EnvInt(EnvPrefix, "REKEY_RETRIES", &config.RekeyRetries)
	flagx.EnvDuration(EnvPrefix, "REKEY_BACKOFF", &config.RekeyBackoff)
	flagx.EnvString(EnvPrefix, "S3_ROOT_USER", &config.S3RootUser)
	flagx.EnvString(EnvPrefix, "S3_ROOT_PASSWORD", &config.S3RootPassword)
	flagx.EnvString(EnvPrefix, "S3_BUCKET", &config.S3Bucket)
	flagx.EnvString(EnvPrefix, "S3_REGION", &config.S3Region)
	flagx.EnvString(EnvPrefix, "S3_BASE_ENDPOINT", &config.S3BaseEndpoint)
	flagx.EnvString(EnvPrefix, "LOG_LEVEL", &config.LogLevel)
	flagx.EnvString(EnvPrefix, "LOG_FORMAT", &config.LogFormat)
}
