package auth

import "context"

// CredentialStore persists identities. Implementations must return
// ErrNotFound for absent identities and ErrDuplicateIdentity when a unique
// username or email constraint is violated.
type CredentialStore interface {
	Create(ctx context.Context, id *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	// FindByUsername performs a case-sensitive exact match.
	FindByUsername(ctx context.Context, username string) (*Identity, error)
	FindByUsernameOrEmail(ctx context.Context, s string) (*Identity, error)
	List(ctx context.Context) ([]*Identity, error)
	SetStatus(ctx context.Context, id, status string) error
}
