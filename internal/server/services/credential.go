package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/vault"
	"github.com/google/uuid"
)

// CredentialInput is the caller-supplied part of a credential.
type CredentialInput struct {
	Name       string            `json:"name"`
	Username   string            `json:"username"`
	Password   string            `json:"password"`
	Email      string            `json:"email"`
	Phone      string            `json:"phone"`
	Website    string            `json:"website"`
	Notes      string            `json:"notes"`
	AuthLogins models.AuthLogins `json:"authLogins"`
}

// CredentialView is what callers get back. Password is only filled by Get.
type CredentialView struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Username    string            `json:"username"`
	Password    string            `json:"password,omitempty"`
	HasPassword bool              `json:"hasPassword"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Website     string            `json:"website"`
	Notes       string            `json:"notes"`
	AuthLogins  models.AuthLogins `json:"authLogins"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

func newView(c *models.Credential) *CredentialView {
	return &CredentialView{
		ID:          c.ID,
		Name:        c.Name,
		Username:    c.Username,
		HasPassword: len(c.Payload) > 0,
		Email:       c.Email,
		Phone:       c.Phone,
		Website:     c.Website,
		Notes:       c.Notes,
		AuthLogins:  c.AuthLogins,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CredentialService is the credential store of one vault. Every call needs
// a live session and passes through the vault guard.
type CredentialService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	auth        *AuthService
	guard       *vault.Guard
	log         logging.Logger
}

func NewCredentialService(db *sql.DB, m repomanager.RepositoryManager, a *AuthService, g *vault.Guard, log logging.Logger) *CredentialService {
	return &CredentialService{
		db:          db,
		repomanager: m,
		auth:        a,
		guard:       g,
		log:         log.With("module", "credentials"),
	}
}

// enter authenticates token, joins the guard's shared side and fetches the
// session key. The returned release must be called.
func (s *CredentialService) enter(ctx context.Context, token string, mutation bool) (key []byte, release func(), err error) {
	sess, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	unlock, err := s.guard.TryRead(mutation)
	if err != nil {
		return nil, nil, err
	}

	// Read the key inside the guard: a rotation that committed meanwhile
	// has revoked the session.
	key, err = s.auth.SessionKey(sess)
	if err != nil {
		unlock()
		return nil, nil, err
	}

	return key, func() {
		common.WipeByteArray(key)
		unlock()
	}, nil
}

func (s *CredentialService) Create(ctx context.Context, token string, in CredentialInput) (*CredentialView, error) {
	if err := validateInput(in, true); err != nil {
		return nil, err
	}

	key, release, err := s.enter(ctx, token, true)
	if err != nil {
		return nil, err
	}
	defer release()

	payload, err := cryptox.Seal(key, []byte(in.Password))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
	}

	now := s.auth.Now()
	c := &models.Credential{
		ID:         uuid.NewString(),
		VaultID:    s.auth.VaultID(),
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
		AuthLogins: in.AuthLogins,
	}
	applyInput(c, in)

	if err := s.repomanager.Credentials(s.db).Create(ctx, c); err != nil {
		return nil, mapErr(err)
	}

	v := newView(c)
	v.Password = in.Password
	return v, nil
}

// Get returns the credential with its password decrypted.
func (s *CredentialService) Get(ctx context.Context, token, id string) (*CredentialView, error) {
	key, release, err := s.enter(ctx, token, false)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}

	v := newView(c)
	if len(c.Payload) > 0 {
		plain, err := cryptox.Open(key, c.Payload)
		if err != nil {
			s.log.Error(ctx, "payload does not open with session key", "credential_id", id)
			return nil, fmt.Errorf("%w: cannot decrypt credential", common.ErrInternal)
		}
		v.Password = string(plain)
		common.WipeByteArray(plain)
	}
	return v, nil
}

// Update rewrites a live credential. An empty Password keeps the stored one.
func (s *CredentialService) Update(ctx context.Context, token, id string, in CredentialInput) (*CredentialView, error) {
	if err := validateInput(in, false); err != nil {
		return nil, err
	}

	key, release, err := s.enter(ctx, token, true)
	if err != nil {
		return nil, err
	}
	defer release()

	c, err := s.live(ctx, id)
	if err != nil {
		return nil, err
	}

	applyInput(c, in)
	c.AuthLogins = in.AuthLogins
	if in.Password != "" {
		payload, err := cryptox.Seal(key, []byte(in.Password))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
		}
		c.Payload = payload
	}
	c.UpdatedAt = s.auth.Now()

	if err := s.repomanager.Credentials(s.db).Update(ctx, c); err != nil {
		return nil, mapErr(err)
	}
	return newView(c), nil
}

// Delete tombstones id. Deleting a tombstone again succeeds.
func (s *CredentialService) Delete(ctx context.Context, token, id string) error {
	_, release, err := s.enter(ctx, token, true)
	if err != nil {
		return err
	}
	defer release()

	repo := s.repomanager.Credentials(s.db)
	c, err := repo.Get(ctx, s.auth.VaultID(), id)
	if err != nil {
		return mapErr(err)
	}
	if c.Deleted {
		return nil
	}

	if err := repo.MarkDeleted(ctx, s.auth.VaultID(), id, s.auth.Now().UnixNano()); err != nil {
		return mapErr(err)
	}
	return nil
}

// List returns live credentials ordered by creation time, then id.
func (s *CredentialService) List(ctx context.Context, token string) ([]*CredentialView, error) {
	_, release, err := s.enter(ctx, token, false)
	if err != nil {
		return nil, err
	}
	defer release()

	creds, err := s.repomanager.Credentials(s.db).List(ctx, s.auth.VaultID(), false)
	if err != nil {
		return nil, mapErr(err)
	}
	return views(creds), nil
}

// Search matches query against name, username, website and notes, ignoring
// case. A blank query is List.
func (s *CredentialService) Search(ctx context.Context, token, query string) ([]*CredentialView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx, token)
	}

	_, release, err := s.enter(ctx, token, false)
	if err != nil {
		return nil, err
	}
	defer release()

	creds, err := s.repomanager.Credentials(s.db).Search(ctx, s.auth.VaultID(), query)
	if err != nil {
		return nil, mapErr(err)
	}
	return views(creds), nil
}

func (s *CredentialService) live(ctx context.Context, id string) (*models.Credential, error) {
	c, err := s.repomanager.Credentials(s.db).Get(ctx, s.auth.VaultID(), id)
	if err != nil {
		return nil, mapErr(err)
	}
	if c.Deleted {
		return nil, common.ErrNotFound
	}
	return c, nil
}

func views(creds []*models.Credential) []*CredentialView {
	out := make([]*CredentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, newView(c))
	}
	return out
}

func applyInput(c *models.Credential, in CredentialInput) {
	c.Name = strings.TrimSpace(in.Name)
	c.Username = in.Username
	c.Email = in.Email
	c.Phone = in.Phone
	c.Website = in.Website
	c.Notes = in.Notes
}

func validateInput(in CredentialInput, create bool) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", common.ErrValidation)
	}
	if create && in.Password == "" {
		return fmt.Errorf("%w: password is required", common.ErrValidation)
	}
	return nil
}
