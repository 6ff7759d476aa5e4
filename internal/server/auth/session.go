package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// Validation failure reasons.
const (
	ReasonMissing   = "missing"
	ReasonMalformed = "malformed"
	ReasonExpired   = "expired"
	ReasonRevoked   = "revoked"
)

// Session is a bearer capability for one vault.
type Session struct {
	ID        string    `json:"-"`
	Subject   string    `json:"-"`
	Token     string    `json:"token"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValidationResult never carries an error; Reason is set when Valid is false.
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Subject   string `json:"subject,omitempty"`
	SessionID string `json:"-"`
	Reason    string `json:"reason,omitempty"`
}

type entry struct {
	session Session
	key     *memguard.Enclave
}

// Registry keeps live sessions and the vault key each one unlocked.
// Keys stay encrypted in memguard enclaves while at rest.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*entry

	secret   []byte
	validity time.Duration
	clock    clock.Clock
}

func NewRegistry(secret []byte, validity time.Duration, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Registry{
		sessions: make(map[string]*entry),
		secret:   secret,
		validity: validity,
		clock:    clk,
	}
}

// Issue creates a session for subject holding a copy of key.
func (r *Registry) Issue(subject string, key []byte) (*Session, error) {
	if len(key) == 0 {
		return nil, errors.New("empty session key")
	}

	now := r.clock.Now().UTC()
	s := Session{
		ID:        uuid.NewString(),
		Subject:   subject,
		IssuedAt:  now,
		ExpiresAt: now.Add(r.validity),
	}

	token, err := GenerateToken(s.ID, s.Subject, r.secret, s.IssuedAt, s.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	s.Token = token

	// NewEnclave wipes its argument.
	buf := make([]byte, len(key))
	copy(buf, key)
	e := &entry{session: s, key: memguard.NewEnclave(buf)}

	r.mu.Lock()
	r.sessions[s.ID] = e
	r.mu.Unlock()

	out := s
	return &out, nil
}

// Validate checks token and reports why it is unusable.
func (r *Registry) Validate(token string) ValidationResult {
	if token == "" {
		return ValidationResult{Reason: ReasonMissing}
	}

	claims, err := ParseToken(token, r.secret, r.clock.Now)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return ValidationResult{Reason: ReasonExpired}
		}
		return ValidationResult{Reason: ReasonMalformed}
	}

	r.mu.Lock()
	e, ok := r.sessions[claims.ID]
	if ok && !r.clock.Now().Before(e.session.ExpiresAt) {
		delete(r.sessions, claims.ID)
		r.mu.Unlock()
		return ValidationResult{Reason: ReasonExpired}
	}
	r.mu.Unlock()

	if !ok || e.session.Subject != claims.Subject {
		return ValidationResult{Reason: ReasonRevoked}
	}

	return ValidationResult{Valid: true, Subject: claims.Subject, SessionID: claims.ID}
}

// Lookup returns the session behind token or an error suitable for callers
// that need an authenticated session.
func (r *Registry) Lookup(token string) (*Session, error) {
	res := r.Validate(token)
	if !res.Valid {
		switch res.Reason {
		case ReasonExpired:
			return nil, common.ErrTokenExpired
		case ReasonMalformed:
			return nil, common.ErrInvalidToken
		default:
			return nil, common.ErrUnauthorized
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[res.SessionID]
	if !ok {
		return nil, common.ErrUnauthorized
	}
	out := e.session
	return &out, nil
}

// Key returns a copy of the vault key held by the session. The caller
// should wipe it when done.
func (r *Registry) Key(sessionID string) ([]byte, error) {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, common.ErrUnauthorized
	}

	lb, err := e.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open session key: %w", err)
	}
	defer lb.Destroy()

	out := make([]byte, lb.Size())
	copy(out, lb.Bytes())
	return out, nil
}

// Revoke forgets one session. Unknown ids are ignored.
func (r *Registry) Revoke(sessionID string) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// RevokeAll forgets every session of subject and returns how many were dropped.
func (r *Registry) RevokeAll(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.sessions {
		if e.session.Subject == subject {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

// Sweep drops expired sessions.
func (r *Registry) Sweep() int {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.sessions {
		if !now.Before(e.session.ExpiresAt) {
			delete(r.sessions, id)
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration, onSweep func(n int)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-r.clock.After(interval):
			n := r.Sweep()
			if onSweep != nil {
				onSweep(n)
			}
		}
	}
}
