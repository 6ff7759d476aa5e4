// Package models defines server-side data models persisted in the database.
package models

import "time"

// Vault is the single row gating a vault: the KDF salt and the verifier of
// the key derived from the master secret. The secret itself is never stored.
type Vault struct {
	ID        string
	Salt      []byte
	Verifier  []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a deep copy.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	c := *v
	c.Salt = cloneBytes(v.Salt)
	c.Verifier = cloneBytes(v.Verifier)
	return &c
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
