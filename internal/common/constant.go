// Package common contains shared constants and sentinel errors used across
// gophvault components.
package common

// AccessTokenHeaderName is the legacy header carrying the access token when
// a client cannot set Authorization.
const AccessTokenHeaderName = "access_token"

// DefaultVaultID identifies the vault served when none is configured.
const DefaultVaultID = "default"
