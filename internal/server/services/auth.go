// Package services contains server-side business logic: the authentication
// gate, the credential store, the snapshot manager and the rotation
// coordinator of a single vault.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/auth"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/juju/clock"
)

// AuthService gates a vault with its master secret and hands out sessions.
// The plaintext secret only lives for the duration of a call.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	sessions    *auth.Registry
	clock       clock.Clock
	log         logging.Logger

	vaultID         string
	minSecretLength int
	kdf             cryptox.Params

	// serializes first-run setup
	setupMu sync.Mutex
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, sessions *auth.Registry, cfg *config.Config, clk clock.Clock, log logging.Logger) *AuthService {
	return &AuthService{
		db:              db,
		repomanager:     m,
		sessions:        sessions,
		clock:           clk,
		log:             log.With("module", "auth"),
		vaultID:         cfg.VaultID,
		minSecretLength: cfg.MinSecretLength,
		kdf:             cryptox.DefaultParams,
	}
}

// SetKDFParams overrides the argon2id costs. Tests use cheap params.
func (s *AuthService) SetKDFParams(p cryptox.Params) { s.kdf = p }

func (s *AuthService) VaultID() string { return s.vaultID }

// IsInitialized reports whether the vault has a verifier.
func (s *AuthService) IsInitialized(ctx context.Context) (bool, error) {
	_, err := s.repomanager.Vaults(s.db).Get(ctx, s.vaultID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return false, nil
		}
		return false, mapErr(err)
	}
	return true, nil
}

// Setup stores the first verifier. It is allowed exactly once.
func (s *AuthService) Setup(ctx context.Context, secret string) (*auth.Session, error) {
	if err := s.ValidateSecret(secret); err != nil {
		return nil, err
	}

	s.setupMu.Lock()
	defer s.setupMu.Unlock()

	repo := s.repomanager.Vaults(s.db)
	if _, err := repo.Get(ctx, s.vaultID); err == nil {
		return nil, common.ErrAlreadyInitialized
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, mapErr(err)
	}

	salt, err := cryptox.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	key := s.DeriveKey([]byte(secret), salt)
	defer common.WipeByteArray(key)

	now := s.clock.Now().UTC()
	v := &models.Vault{ID: s.vaultID, Salt: salt, Verifier: cryptox.MakeVerifier(key), CreatedAt: now, UpdatedAt: now}
	if err := repo.Create(ctx, v); err != nil {
		// another process may have won the insert
		if _, gerr := repo.Get(ctx, s.vaultID); gerr == nil {
			return nil, common.ErrAlreadyInitialized
		}
		return nil, mapErr(err)
	}

	s.log.Info(ctx, "vault initialized", "vault_id", s.vaultID)
	return s.IssueSession(key)
}

// Login checks secret against the stored verifier in constant time.
func (s *AuthService) Login(ctx context.Context, secret string) (*auth.Session, error) {
	_, key, err := s.VerifySecret(ctx, secret)
	if err != nil {
		if errors.Is(err, common.ErrInvalidCredentials) {
			s.log.Warn(ctx, "login rejected", "vault_id", s.vaultID)
		}
		return nil, err
	}
	defer common.WipeByteArray(key)

	return s.IssueSession(key)
}

// VerifySecret returns the vault row and the key derived from secret when
// secret opens the vault. The caller owns the key and should wipe it.
func (s *AuthService) VerifySecret(ctx context.Context, secret string) (*models.Vault, []byte, error) {
	v, err := s.repomanager.Vaults(s.db).Get(ctx, s.vaultID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, nil, common.ErrNotInitialized
		}
		return nil, nil, mapErr(err)
	}

	key := s.DeriveKey([]byte(secret), v.Salt)
	if !cryptox.CheckVerifier(v.Verifier, cryptox.MakeVerifier(key)) {
		common.WipeByteArray(key)
		return nil, nil, common.ErrInvalidCredentials
	}
	return v, key, nil
}

// Validate never fails; an unusable token yields Valid=false and a reason.
func (s *AuthService) Validate(ctx context.Context, token string) auth.ValidationResult {
	res := s.sessions.Validate(token)
	if res.Valid && res.Subject != s.vaultID {
		return auth.ValidationResult{Reason: auth.ReasonRevoked}
	}
	return res
}

// Authenticate resolves token to a live session of this vault.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*auth.Session, error) {
	sess, err := s.sessions.Lookup(token)
	if err != nil {
		return nil, err
	}
	if sess.Subject != s.vaultID {
		return nil, common.ErrUnauthorized
	}
	return sess, nil
}

// Logout forgets the session behind token. Unknown tokens are ignored.
func (s *AuthService) Logout(ctx context.Context, token string) {
	if res := s.sessions.Validate(token); res.SessionID != "" {
		s.sessions.Revoke(res.SessionID)
	}
}

// SessionKey returns a copy of the vault key unlocked by sess.
func (s *AuthService) SessionKey(sess *auth.Session) ([]byte, error) {
	return s.sessions.Key(sess.ID)
}

func (s *AuthService) IssueSession(key []byte) (*auth.Session, error) {
	sess, err := s.sessions.Issue(s.vaultID, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}
	return sess, nil
}

// RevokeAll ends every session of the vault.
func (s *AuthService) RevokeAll(ctx context.Context) int {
	n := s.sessions.RevokeAll(s.vaultID)
	s.log.Info(ctx, "sessions revoked", "vault_id", s.vaultID, "count", n)
	return n
}

// ValidateSecret enforces the minimum secret length, counted in characters.
func (s *AuthService) ValidateSecret(secret string) error {
	if utf8.RuneCountInString(secret) < s.minSecretLength {
		return fmt.Errorf("%w: secret must be at least %d characters", common.ErrValidation, s.minSecretLength)
	}
	return nil
}

func (s *AuthService) DeriveKey(secret, salt []byte) []byte {
	return cryptox.DeriveKey(secret, salt, s.kdf)
}

// Now is the service clock, in UTC.
func (s *AuthService) Now() time.Time { return s.clock.Now().UTC() }
