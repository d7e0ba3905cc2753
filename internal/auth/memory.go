package auth

import (
	"context"
	"sync"
	"time"
)

// InMemory implements CredentialStore with in-process concurrency safety.
// Used by tests and by deployments that run without Postgres.
type InMemory struct {
	mu         sync.RWMutex
	byID       map[string]*Identity
	byUsername map[string]string // username -> id
	byEmail    map[string]string // email -> id
}

// NewInMemory creates an empty credential store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:       make(map[string]*Identity),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

var _ CredentialStore = (*InMemory)(nil)

func (s *InMemory) Create(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byUsername[id.Username]; taken {
		return ErrDuplicateIdentity
	}
	if _, taken := s.byEmail[id.Email]; taken {
		return ErrDuplicateIdentity
	}
	if id.CreatedAt.IsZero() {
		id.CreatedAt = time.Now().UTC()
	}
	cp := *id
	s.byID[id.ID] = &cp
	s.byUsername[id.Username] = id.ID
	s.byEmail[id.Email] = id.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ident, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ident
	return &cp, nil
}

func (s *InMemory) FindByUsername(ctx context.Context, username string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *InMemory) FindByUsernameOrEmail(ctx context.Context, v string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.byUsername[v]; ok {
		cp := *s.byID[id]
		return &cp, nil
	}
	if id, ok := s.byEmail[v]; ok {
		cp := *s.byID[id]
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *InMemory) List(ctx context.Context) ([]*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Identity, 0, len(s.byID))
	for _, ident := range s.byID {
		cp := *ident
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) SetStatus(ctx context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ident, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	ident.Status = status
	return nil
}
