// Package cryptox is the vault's confidentiality primitive: argon2id key
// derivation, the master-key verifier, and AES-256-GCM sealing of credential
// payloads.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/argon2"
)

const (
	KeySize  = 32
	SaltSize = 32
)

var ErrMalformedPayload = errors.New("malformed payload")

// Params are the argon2id cost parameters.
type Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultParams are the production KDF costs.
var DefaultParams = Params{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

func DeriveKey(password []byte, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeySize)
}

// MakeVerifier returns the value stored in place of the master secret.
// It can check a derived key without revealing it.
func MakeVerifier(masterKey []byte) []byte {
	hash := sha256.Sum256(masterKey)
	return hash[:]
}

// CheckVerifier compares in constant time.
func CheckVerifier(stored, candidate []byte) bool {
	return subtle.ConstantTimeCompare(stored, candidate) == 1
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// Seal encrypts plaintext with AES-GCM under key and returns nonce||ciphertext.
// The key must be 16, 24 or 32 bytes.
func Seal(key, plaintext []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal. A wrong key or tampered blob yields an error.
func Open(key, blob []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := aesgcm.NonceSize()
	if len(blob) < ns+aesgcm.Overhead() {
		return nil, ErrMalformedPayload
	}

	return aesgcm.Open(nil, blob[:ns], blob[ns:], nil)
}

// Reseal opens blob under oldKey and seals the plaintext under newKey.
// The intermediate plaintext is wiped before returning.
func Reseal(oldKey, newKey, blob []byte) ([]byte, error) {
	plaintext, err := Open(oldKey, blob)
	if err != nil {
		return nil, err
	}
	defer wipe(plaintext)

	return Seal(newKey, plaintext)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
