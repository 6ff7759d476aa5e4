package snapshotcodec

import (
	"bytes"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *models.Snapshot {
	at := time.Date(2026, 7, 1, 12, 0, 0, 42, time.UTC)
	return &models.Snapshot{
		ID: "s1", VaultID: "default", AttemptID: "a1", Origin: models.SnapshotOriginRotation, CreatedAt: at,
		Vault: &models.Vault{ID: "default", Salt: []byte{1, 2, 3}, Verifier: []byte{4, 5, 6}, CreatedAt: at, UpdatedAt: at},
		Credentials: []*models.Credential{
			{ID: "c1", VaultID: "default", Name: "mail", Payload: []byte{0, 0xff, 7}, AuthLogins: models.AuthLogins{Google: true}, CreatedAt: at, UpdatedAt: at},
			{ID: "c2", VaultID: "default", Name: "old", Deleted: true, CreatedAt: at, UpdatedAt: at},
		},
	}
}

func TestEncodeDecode_PreservesBytes(t *testing.T) {
	in := sample()

	b, err := Encode(in)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, b[:4], "zstd magic")

	out, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestWriteRead_EmptyCredentials(t *testing.T) {
	in := sample()
	in.Credentials = nil

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, in))

	out, err := Read(&buf)
	require.NoError(t, err)
	assert.NotNil(t, out.Credentials)
	assert.Empty(t, out.Credentials)
}

func TestEncode_RejectsEmpty(t *testing.T) {
	_, err := Encode(&models.Snapshot{ID: "x"})
	assert.ErrorIs(t, err, ErrEmptySnapshot)

	_, err = Encode(nil)
	assert.ErrorIs(t, err, ErrEmptySnapshot)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := Decode([]byte("not zstd at all"))
	assert.Error(t, err)
}
