package auth

import "errors"

var (
	ErrNotFound          = errors.New("auth: identity not found")
	ErrBadCredentials    = errors.New("auth: bad credentials")
	ErrDuplicateIdentity = errors.New("auth: identity already exists")
	ErrWeakPassword      = errors.New("auth: password too short")
	ErrInvalidInput      = errors.New("auth: invalid input")
)
