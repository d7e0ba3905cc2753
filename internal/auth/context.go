package auth

import (
	"context"
	"strings"
)

type identityContextKey struct{}

// ContextWithIdentity attaches verified token claims to the request context.
func ContextWithIdentity(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, identityContextKey{}, &claims)
}

// IdentityFromContext extracts the verified claims, if any.
func IdentityFromContext(ctx context.Context) (Claims, bool) {
	if ctx == nil {
		return Claims{}, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Claims)
	if !ok || v == nil {
		return Claims{}, false
	}
	return *v, true
}

// SubjectFromContext returns the authenticated subject id, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	claims, ok := IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", false
	}
	return claims.Subject, true
}

// HasRole reports whether the context carries an identity with the given role.
func HasRole(ctx context.Context, role Role) bool {
	claims, ok := IdentityFromContext(ctx)
	return ok && Role(claims.Role) == role
}
