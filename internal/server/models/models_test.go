package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVaultClone_IsDeep(t *testing.T) {
	v := &Vault{ID: "v", Salt: []byte{1, 2}, Verifier: []byte{3, 4}}
	c := v.Clone()

	v.Salt[0] = 9
	v.Verifier[0] = 9

	assert.Equal(t, []byte{1, 2}, c.Salt)
	assert.Equal(t, []byte{3, 4}, c.Verifier)
	assert.Nil(t, (*Vault)(nil).Clone())
}

func TestCredentialClone_IsDeep(t *testing.T) {
	cr := &Credential{ID: "c", Payload: []byte("sealed"), AuthLogins: AuthLogins{Github: true}}
	c := cr.Clone()

	cr.Payload[0] = 'X'
	cr.AuthLogins.Github = false

	assert.Equal(t, "sealed", string(c.Payload))
	assert.True(t, c.AuthLogins.Github)
	assert.Nil(t, (*Credential)(nil).Clone())

	empty := (&Credential{}).Clone()
	assert.Nil(t, empty.Payload)
}
