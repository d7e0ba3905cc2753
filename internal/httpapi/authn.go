package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nutriguard.org/internal/audit"
	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/obs"
	"nutriguard.org/internal/ratelimit"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/api/register",
	"/api/login",
	"/api/payments/webhook",
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/",
}

// isPublicRequest reports whether the request skips bearer authentication.
// Browsing the marketplace is public; listing on it is not.
func isPublicRequest(r *http.Request) bool {
	path := r.URL.Path
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	if r.Method == http.MethodGet &&
		(path == "/api/food-items" || strings.HasPrefix(path, "/api/food-items/")) {
		return true
	}
	return false
}

// withAuth verifies the bearer token on protected paths and stores the
// verified claims on the context. Rejections name the token error kind.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicRequest(r) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			obs.CountAuthFailure("missing")
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.cfg.Tokens.Verify(token)
		if err != nil {
			kind := tokenErrorKind(err)
			obs.CountAuthFailure(kind)
			writeError(w, r, http.StatusUnauthorized, "token "+kind)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), claims)))
	})
}

func tokenErrorKind(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

// guard enforces the role gate, then both rate-limit scopes, in that order.
// An empty role set admits any authenticated identity.
func (a *API) guard(roles []auth.Role, handler http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.IdentityFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}

		if len(roles) > 0 && !roleAllowed(auth.Role(claims.Role), roles) {
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}

		if a.rejectRateLimited(w, r, a.cfg.OriginLimiter, clientIP(r), "origin") {
			return
		}
		if a.rejectRateLimited(w, r, a.cfg.IdentityLimiter, claims.Subject, "identity") {
			return
		}

		handler(w, r)
	})
}

// limitOrigin applies only the origin-scoped limiter; used on public paths.
func (a *API) limitOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.rejectRateLimited(w, r, a.cfg.OriginLimiter, clientIP(r), "origin") {
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rejectRateLimited writes the 429 response when the limiter refuses the
// key. Either scope's rejection is terminal.
func (a *API) rejectRateLimited(w http.ResponseWriter, r *http.Request, lim *ratelimit.Limiter, key, scope string) bool {
	if lim == nil || key == "" {
		return false
	}
	err := lim.Check(scope + ":" + key)
	if err == nil {
		return false
	}
	var rlErr *ratelimit.Error
	retryAfter := 0
	if errors.As(err, &rlErr) {
		retryAfter = rlErr.Seconds()
	}
	obs.CountRateLimited(scope)
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	payload := map[string]any{
		"error":       "rate limit exceeded",
		"scope":       scope,
		"retry_after": retryAfter,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, http.StatusTooManyRequests, payload)
	return true
}

func roleAllowed(have auth.Role, want []auth.Role) bool {
	for _, role := range want {
		if have == role {
			return true
		}
	}
	return false
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
