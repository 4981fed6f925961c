// Package memory provides an in-process storage.Store. Every operation runs
// under a single mutex, which makes consume and rotate trivially atomic.
// Suitable for tests and single instance deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/lumenweb/grantd/errors"
	"github.com/lumenweb/grantd/storage"
)

// New returns an empty store.
func New() *Store {
	return &Store{
		clients:   map[string]storage.Client{},
		codes:     map[string]storage.AuthorizationCode{},
		tokens:    map[string]*storage.TokenPair{},
		byAccess:  map[string]string{},
		byRefresh: map[string]string{},
	}
}

// Store implements storage.Store.
type Store struct {
	mu        sync.Mutex
	clients   map[string]storage.Client
	codes     map[string]storage.AuthorizationCode
	tokens    map[string]*storage.TokenPair
	byAccess  map[string]string
	byRefresh map[string]string
}

var (
	_ storage.Store  = (*Store)(nil)
	_ storage.Purger = (*Store)(nil)
)

func (s *Store) Client(ctx context.Context, id string) (*storage.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	return &c, nil
}

func (s *Store) PutClient(ctx context.Context, c *storage.Client) error {
	if err := storage.ValidateClient(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.clients[c.ID] = cp
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.clients, id)
	return nil
}

func (s *Store) CreateCode(ctx context.Context, c *storage.AuthorizationCode) error {
	if err := storage.ValidateCode(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.Code]; ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	s.codes[c.Code] = *c
	return nil
}

func (s *Store) ConsumeCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.codes, code)
	return &c, nil
}

func (s *Store) PurgeExpiredCodes(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.codes {
		if c.Expired(now) {
			delete(s.codes, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateToken(ctx context.Context, t *storage.TokenPair) error {
	if err := storage.ValidateToken(t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.ID]; ok {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	if s.tokenInUse(t.AccessToken) || s.tokenInUse(t.RefreshToken) {
		return errors.Mark(storage.ErrAlreadyExists, 0)
	}
	cp := *t
	s.tokens[t.ID] = &cp
	s.byAccess[t.AccessToken] = t.ID
	s.byRefresh[t.RefreshToken] = t.ID
	return nil
}

func (s *Store) RotateToken(ctx context.Context, refreshToken, clientID, newAccess, newRefresh string, expiresAt time.Time) (*storage.TokenPair, error) {
	if newAccess == "" || newRefresh == "" || newAccess == newRefresh {
		return nil, errors.Mark(storage.ErrInvalidRecord, 0).Append("rotation requires two distinct tokens")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byRefresh[refreshToken]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	t := s.tokens[id]
	if t.ClientID != clientID {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	if s.tokenInUse(newAccess) || s.tokenInUse(newRefresh) {
		return nil, errors.Mark(storage.ErrAlreadyExists, 0)
	}

	delete(s.byAccess, t.AccessToken)
	delete(s.byRefresh, t.RefreshToken)
	t.AccessToken = newAccess
	t.RefreshToken = newRefresh
	t.ExpiresAt = expiresAt
	t.UpdatedAt = time.Now()
	s.byAccess[newAccess] = id
	s.byRefresh[newRefresh] = id

	cp := *t
	return &cp, nil
}

func (s *Store) TokenByAccess(ctx context.Context, accessToken string) (*storage.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byAccess[accessToken]
	if !ok {
		return nil, errors.Mark(storage.ErrNotFound, 0)
	}
	cp := *s.tokens[id]
	return &cp, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) tokenInUse(tok string) bool {
	_, a := s.byAccess[tok]
	_, r := s.byRefresh[tok]
	return a || r
}
