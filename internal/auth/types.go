package auth

import (
	"fmt"
	"strings"
	"time"
)

// Role classifies every registered identity. The set is closed: adding a role
// is a source change, not a data change, so role checks can switch exhaustively.
type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleDonor       Role = "donor"
	RoleBeneficiary Role = "beneficiary"
	RoleAdmin       Role = "admin"
)

// Roles lists every known role in a stable order.
var Roles = []Role{RoleFarmer, RoleDonor, RoleBeneficiary, RoleAdmin}

// ParseRole normalizes and validates a role string received from a client.
func ParseRole(s string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, s)
	}
	return r, nil
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleFarmer, RoleDonor, RoleBeneficiary, RoleAdmin:
		return true
	default:
		return false
	}
}

func (r Role) String() string { return string(r) }

const (
	IdentityStatusActive   = "active"
	IdentityStatusDisabled = "disabled"
)

// Identity is a registered account. The id is immutable; identities are never
// deleted, only switched to the disabled status.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"user_type"`
	Location     string    `json:"location,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the public view of an identity. It never carries the hash.
type Profile struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"user_type"`
}

// Profile strips an identity down to its public fields.
func (id *Identity) Profile() Profile {
	return Profile{
		ID:       id.ID,
		Username: id.Username,
		Email:    id.Email,
		Role:     id.Role,
	}
}
