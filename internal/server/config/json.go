package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/flagx"
	"github.com/dmitrijs2005/gophvault/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// either "90s" strings or integer nanoseconds.
type JsonConfig struct {
	EndpointAddrHTTP        string         `json:"endpoint_addr_http"`
	DatabaseDSN             string         `json:"database_dsn"`
	SecretKey               string         `json:"secret_key"`
	VaultID                 string         `json:"vault_id"`
	SessionValidityDuration timex.Duration `json:"session_validity_duration"`
	SessionSweepInterval    timex.Duration `json:"session_sweep_interval"`
	RestoreTimeout          timex.Duration `json:"restore_timeout"`
	MinSecretLength         int            `json:"min_secret_length"`
	RekeyRetries            int            `json:"rekey_retries"`
	RekeyBackoff            timex.Duration `json:"rekey_backoff"`
	S3RootUser              string         `json:"s3_root_user"`
	S3RootPassword          string         `json:"s3_root_password"`
	S3Bucket                string         `json:"s3_bucket"`
	S3Region                string         `json:"s3_region"`
	S3BaseEndpoint          string         `json:"s3_base_endpoint"`
	LogLevel                string         `json:"log_level"`
	LogFormat               string         `json:"log_format"`
}

// parseJson overlays the file named by -c/-config onto config. Keys absent
// from the file keep their current value. An unreadable or invalid file
// panics, as the server cannot start with a config it was told to use.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.VaultID, c.VaultID)
	setDuration(&config.SessionValidityDuration, c.SessionValidityDuration)
	setDuration(&config.SessionSweepInterval, c.SessionSweepInterval)
	setDuration(&config.RestoreTimeout, c.RestoreTimeout)
	setInt(&config.MinSecretLength, c.MinSecretLength)
	setInt(&config.RekeyRetries, c.RekeyRetries)
	setDuration(&config.RekeyBackoff, c.RekeyBackoff)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.LogLevel, c.LogLevel)
	setString(&config.LogFormat, c.LogFormat)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
