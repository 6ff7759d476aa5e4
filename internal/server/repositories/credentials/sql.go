// Package credentials stores encrypted credential records.
package credentials

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/timex"
)

const columns = `id, vault_id, name, username, payload, email, phone, website, notes, auth_logins, deleted, created_at, updated_at`

// SQLRepository implements Repository over a dbx.DBTX (*sql.DB or *sql.Tx).
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

func (r *SQLRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `INSERT INTO credentials (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	logins, err := json.Marshal(c.AuthLogins)
	if err != nil {
		return fmt.Errorf("encode auth logins: %w", err)
	}

	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.VaultID, c.Name, c.Username, nullableBytes(c.Payload), c.Email, c.Phone, c.Website, c.Notes,
		string(logins), c.Deleted, c.CreatedAt.UnixNano(), c.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, vaultID, id string) (*models.Credential, error) {
	query := `SELECT ` + columns + ` FROM credentials
		WHERE vault_id = $1 AND id = $2`

	c, err := scanCredential(r.db.QueryRowContext(ctx, query, vaultID, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

// Update rewrites the mutable fields of a live credential.
// Tombstones are not updated and report ErrNotFound.
func (r *SQLRepository) Update(ctx context.Context, c *models.Credential) error {
	query := `UPDATE credentials SET name = $1, username = $2, payload = $3, email = $4, phone = $5,
			website = $6, notes = $7, auth_logins = $8, updated_at = $9
		WHERE vault_id = $10 AND id = $11 AND deleted = $12`

	logins, err := json.Marshal(c.AuthLogins)
	if err != nil {
		return fmt.Errorf("encode auth logins: %w", err)
	}

	res, err := r.db.ExecContext(ctx, query,
		c.Name, c.Username, nullableBytes(c.Payload), c.Email, c.Phone, c.Website, c.Notes, string(logins),
		c.UpdatedAt.UnixNano(), c.VaultID, c.ID, false)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// UpdatePayload swaps only the sealed payload. Re-keying uses it, so
// updated_at is left alone and a repeated call with the same payload is harmless.
func (r *SQLRepository) UpdatePayload(ctx context.Context, vaultID, id string, payload []byte) error {
	query := `UPDATE credentials SET payload = $1 WHERE vault_id = $2 AND id = $3`

	res, err := r.db.ExecContext(ctx, query, nullableBytes(payload), vaultID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// MarkDeleted tombstones a credential and wipes its payload.
func (r *SQLRepository) MarkDeleted(ctx context.Context, vaultID, id string, updatedAt int64) error {
	query := `UPDATE credentials SET deleted = $1, payload = NULL, updated_at = $2
		WHERE vault_id = $3 AND id = $4`

	res, err := r.db.ExecContext(ctx, query, true, updatedAt, vaultID, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return expectOne(res)
}

// List returns credentials ordered by creation time, then id.
func (r *SQLRepository) List(ctx context.Context, vaultID string, includeDeleted bool) ([]*models.Credential, error) {
	if includeDeleted {
		query := `SELECT ` + columns + ` FROM credentials
			WHERE vault_id = $1
			ORDER BY created_at, id`
		return r.query(ctx, query, vaultID)
	}

	query := `SELECT ` + columns + ` FROM credentials
		WHERE vault_id = $1 AND deleted = $2
		ORDER BY created_at, id`
	return r.query(ctx, query, vaultID, false)
}

// Search matches query case-insensitively as a substring of name, username,
// website or notes of live credentials. Folding happens here rather than in
// SQL because SQLite's LOWER only handles ASCII.
func (r *SQLRepository) Search(ctx context.Context, vaultID, query string) ([]*models.Credential, error) {
	live, err := r.List(ctx, vaultID, false)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(query)
	out := make([]*models.Credential, 0, len(live))
	for _, c := range live {
		for _, field := range []string{c.Name, c.Username, c.Website, c.Notes} {
			if strings.Contains(strings.ToLower(field), q) {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

func (r *SQLRepository) DeleteAll(ctx context.Context, vaultID string) error {
	query := `DELETE FROM credentials WHERE vault_id = $1`
	if _, err := r.db.ExecContext(ctx, query, vaultID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) query(ctx context.Context, query string, args ...any) ([]*models.Credential, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select credentials: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Credential, 0)
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		c                = &models.Credential{}
		logins           string
		created, updated int64
	)
	err := s.Scan(&c.ID, &c.VaultID, &c.Name, &c.Username, &c.Payload, &c.Email, &c.Phone,
		&c.Website, &c.Notes, &logins, &c.Deleted, &created, &updated)
	if err != nil {
		return nil, err
	}

	if logins != "" {
		if err := json.Unmarshal([]byte(logins), &c.AuthLogins); err != nil {
			return nil, fmt.Errorf("decode auth logins of %s: %w", c.ID, err)
		}
	}
	c.CreatedAt = timex.UnixNano(created)
	c.UpdatedAt = timex.UnixNano(updated)
	if len(c.Payload) == 0 {
		c.Payload = nil
	}
	return c, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		return nil
	case 0:
		return common.ErrNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
