package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutriguard.org/internal/ids"
)

const defaultMinPasswordLen = 6

// Service authenticates credentials against a CredentialStore and issues
// tokens through a TokenService.
type Service struct {
	store          CredentialStore
	tokens         *TokenService
	minPasswordLen int
	now            func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithMinPasswordLength overrides the registration password minimum.
func WithMinPasswordLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minPasswordLen = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the authenticator.
func NewService(store CredentialStore, tokens *TokenService, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: credential store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token service is required")
	}
	s := &Service{
		store:          store,
		tokens:         tokens,
		minPasswordLen: defaultMinPasswordLen,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Identity  Profile   `json:"user"`
}

// RegisterRequest carries the fields accepted at registration.
type RegisterRequest struct {
	Username string
	Email    string
	Password string
	Role     Role
	Location string
	Phone    string
}

// Login verifies the credentials and returns a fresh session. The caller must
// surface ErrNotFound and ErrBadCredentials identically; the distinction only
// exists for audit logging.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return Session{}, ErrBadCredentials
	}
	ident, err := s.store.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if ident.Status != IdentityStatusActive {
		return Session{}, ErrBadCredentials
	}
	if err := VerifyPassword(ident.PasswordHash, password); err != nil {
		return Session{}, ErrBadCredentials
	}
	return s.startSession(ident)
}

// Register creates a new identity and returns a session for it.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if username == "" {
		return Session{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if email == "" || !strings.Contains(email, "@") {
		return Session{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if !req.Role.Valid() {
		return Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, req.Role)
	}
	if len(req.Password) < s.minPasswordLen {
		return Session{}, ErrWeakPassword
	}
	if _, err := s.store.FindByUsernameOrEmail(ctx, username); err == nil {
		return Session{}, ErrDuplicateIdentity
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}
	if _, err := s.store.FindByUsernameOrEmail(ctx, email); err == nil {
		return Session{}, ErrDuplicateIdentity
	} else if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		return Session{}, err
	}
	ident := &Identity{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         req.Role,
		Location:     strings.TrimSpace(req.Location),
		Phone:        strings.TrimSpace(req.Phone),
		Status:       IdentityStatusActive,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.Create(ctx, ident); err != nil {
		return Session{}, err
	}
	return s.startSession(ident)
}

// Identity loads the full identity for an authenticated subject.
func (s *Service) Identity(ctx context.Context, subjectID string) (*Identity, error) {
	return s.store.FindByID(ctx, subjectID)
}

// ListIdentities returns every identity (admin use only).
func (s *Service) ListIdentities(ctx context.Context) ([]*Identity, error) {
	return s.store.List(ctx)
}

// SetIdentityStatus soft-enables or soft-disables an identity. Disabled
// identities fail login but keep their records.
func (s *Service) SetIdentityStatus(ctx context.Context, id, status string) error {
	if status != IdentityStatusActive && status != IdentityStatusDisabled {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, status)
	}
	return s.store.SetStatus(ctx, id, status)
}

func (s *Service) startSession(ident *Identity) (Session, error) {
	token, expiresAt, err := s.tokens.Issue(ident.ID, ident.Role)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ExpiresAt: expiresAt,
		Identity:  ident.Profile(),
	}, nil
}
