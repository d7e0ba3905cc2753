package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"nutriguard.org/internal/auth"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	UserType string `json:"user_type"`
	Location string `json:"location"`
	Phone    string `json:"phone"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	role, err := auth.ParseRole(strings.TrimSpace(req.UserType))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "user_type must be one of farmer, donor, beneficiary, admin")
		return
	}

	session, err := a.cfg.Auth.Register(r.Context(), auth.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
		Location: req.Location,
		Phone:    req.Phone,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.register", map[string]any{
		"user_id":   session.Identity.ID,
		"user_type": string(role),
	})
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	session, err := a.cfg.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.login", map[string]any{
		"user_id": session.Identity.ID,
	})
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleAdminUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	identities, err := a.cfg.Auth.ListIdentities(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users": identities,
		"count": len(identities),
	})
}

type userStatusRequest struct {
	Status string `json:"status"`
}

// handleAdminUserResource covers PATCH /api/admin/users/{id}/status.
func (a *API) handleAdminUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/admin/users/")
	id, found := strings.CutSuffix(path, "/status")
	id = strings.TrimSuffix(id, "/")
	if !found || id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPatch {
		methodNotAllowed(w, r, http.MethodPatch)
		return
	}

	var req userStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Status != auth.IdentityStatusActive && req.Status != auth.IdentityStatusDisabled {
		writeError(w, r, http.StatusBadRequest, "status must be active or disabled")
		return
	}

	if err := a.cfg.Auth.SetIdentityStatus(r.Context(), id, req.Status); err != nil {
		handleAuthError(w, r, err)
		return
	}

	a.audit(r.Context(), "auth.user.status", map[string]any{
		"target_user_id": id,
		"status":         req.Status,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":     id,
		"status": req.Status,
	})
}

// handleAuthError maps auth failures to HTTP. ErrNotFound and
// ErrBadCredentials surface identically so probes cannot enumerate accounts.
func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrNotFound) && strings.HasSuffix(r.URL.Path, "/status"):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, auth.ErrBadCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrDuplicateIdentity):
		writeError(w, r, http.StatusConflict, "username or email already registered")
	case errors.Is(err, auth.ErrWeakPassword):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
