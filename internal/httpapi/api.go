// Package httpapi is the HTTP surface of the platform. Every request flows
// through the same pipeline: authenticate, gate by role, rate-check both
// scopes, then dispatch with the identity on the context.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"nutriguard.org/internal/audit"
	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/market"
	"nutriguard.org/internal/nutrition"
	"nutriguard.org/internal/obs"
	"nutriguard.org/internal/payments"
	"nutriguard.org/internal/ratelimit"
)

// ReadyProbe — readiness check (e.g. database ping).
type ReadyProbe struct {
	Check func(ctx context.Context) error
}

func (rp ReadyProbe) check(ctx context.Context) error {
	if rp.Check == nil {
		return nil
	}
	return rp.Check(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Version string

	Auth   *auth.Service
	Tokens *auth.TokenService

	Analyzer    *nutrition.Analyzer
	Predictor   *nutrition.CropPredictor
	Analyses    nutrition.Store
	Predictions nutrition.PredictionStore

	Market    *market.Service
	Donations *payments.Service

	// OriginLimiter keys on client IP and covers every /api/ route;
	// IdentityLimiter keys on the authenticated subject.
	OriginLimiter   *ratelimit.Limiter
	IdentityLimiter *ratelimit.Limiter

	Ready ReadyProbe
}

// API is the HTTP layer.
type API struct {
	mux *http.ServeMux
	cfg Config
}

func New(cfg Config) *API {
	a := &API{
		mux: http.NewServeMux(),
		cfg: cfg,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// public auth endpoints (origin-limited only)
	a.mux.Handle("/api/register", a.limitOrigin(http.HandlerFunc(a.handleRegister)))
	a.mux.Handle("/api/login", a.limitOrigin(http.HandlerFunc(a.handleLogin)))

	// payment gateway webhook: authenticated by HMAC signature, not bearer
	a.mux.Handle("/api/payments/webhook", a.limitOrigin(http.HandlerFunc(a.handlePaymentWebhook)))

	// protected endpoints
	a.mux.Handle("/api/nutrition/analyze", a.guard(nil, a.handleNutritionAnalyze))
	a.mux.Handle("/api/nutrition/history", a.guard(nil, a.handleNutritionHistory))
	a.mux.Handle("/api/crops/predict", a.guard([]auth.Role{auth.RoleFarmer}, a.handleCropPredict))
	a.mux.Handle("/api/crops/history", a.guard([]auth.Role{auth.RoleFarmer}, a.handleCropHistory))
	a.mux.Handle("/api/donate", a.guard([]auth.Role{auth.RoleDonor}, a.handleDonate))
	a.mux.Handle("/api/donations", a.guard([]auth.Role{auth.RoleDonor}, a.handleDonations))
	a.mux.Handle("/api/dashboard", a.guard(nil, a.handleDashboard))
	a.mux.Handle("/api/admin/users", a.guard([]auth.Role{auth.RoleAdmin}, a.handleAdminUsers))
	a.mux.Handle("/api/admin/users/", a.guard([]auth.Role{auth.RoleAdmin}, a.handleAdminUserResource))

	// marketplace: browsing is public, listing requires a farmer
	a.mux.HandleFunc("/api/food-items", a.handleFoodItemsCollection)
	a.mux.Handle("/api/food-items/", a.limitOrigin(http.HandlerFunc(a.handleFoodItemResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "nutriguard-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.cfg.Ready.check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "nutriguard-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.Logger().Printf(`{"type":"error","msg":"audit log failed","event":%q}`, event)
	}
}

// --- helpers ---

func nowUTC() time.Time { return time.Now().UTC() }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
