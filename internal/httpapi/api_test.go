package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/market"
	"nutriguard.org/internal/nutrition"
	"nutriguard.org/internal/payments"
	"nutriguard.org/internal/ratelimit"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

type apiOptions struct {
	tokenTTL   time.Duration
	rateLimit  int
	rateWindow time.Duration
	clock      func() time.Time
	gatewayURL string // stub IntaSend endpoint; empty keeps the sandbox default
}

func newTestAPI(t *testing.T, opts apiOptions) *apiClient {
	t.Helper()

	if opts.tokenTTL == 0 {
		opts.tokenTTL = time.Hour
	}
	if opts.rateLimit == 0 {
		opts.rateLimit = 1000
	}
	if opts.rateWindow == 0 {
		opts.rateWindow = time.Minute
	}

	tokenOpts := []auth.TokenOption{auth.WithTTL(opts.tokenTTL)}
	limiterOpts := []ratelimit.Option{}
	if opts.clock != nil {
		tokenOpts = append(tokenOpts, auth.WithTokenClock(opts.clock))
		limiterOpts = append(limiterOpts, ratelimit.WithClock(opts.clock))
	}

	tokens, err := auth.NewTokenService([]byte("test-secret-test-secret-test-sec"), tokenOpts...)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	authSvc, err := auth.NewService(auth.NewInMemory(), tokens)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	mem := nutrition.NewInMemory()
	api := New(Config{
		Version:         "test",
		Auth:            authSvc,
		Tokens:          tokens,
		Analyzer:        nutrition.NewAnalyzer("", "", ""),
		Predictor:       nutrition.NewCropPredictor("", "", ""),
		Analyses:        mem,
		Predictions:     mem,
		Market:          market.NewService(market.NewInMemory()),
		Donations: payments.NewService(
			payments.NewClient("pub", testWebhookSecret, "sandbox", payments.WithBaseURL(opts.gatewayURL)),
			payments.NewInMemory()),
		OriginLimiter:   ratelimit.New(opts.rateLimit, opts.rateWindow, limiterOpts...),
		IdentityLimiter: ratelimit.New(opts.rateLimit, opts.rateWindow, limiterOpts...),
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) decode(resp *http.Response, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
}

// registerUser registers an account and returns its bearer token and id.
func (c *apiClient) registerUser(username, userType string) (token, id string) {
	c.t.Helper()
	resp := c.post("/api/register", map[string]any{
		"username":  username,
		"email":     username + "@example.com",
		"password":  "correct horse",
		"user_type": userType,
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	var session struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	c.decode(resp, &session)
	if session.Token == "" {
		c.t.Fatalf("register %s: empty token", username)
	}
	return session.Token, session.User.ID
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// bearerFrom pins a distinct client IP per call so tests can saturate the
// identity scope without tripping the origin limiter.
func bearerFrom(token, ip string) map[string]string {
	return map[string]string{
		"Authorization":   "Bearer " + token,
		"X-Forwarded-For": ip,
	}
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t, apiOptions{})

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRegisterLoginPreservesRole(t *testing.T) {
	c := newTestAPI(t, apiOptions{})

	resp := c.post("/api/register", map[string]any{
		"username":  "wanjiru",
		"email":     "wanjiru@example.com",
		"password":  "correct horse",
		"user_type": "farmer",
		"location":  "Nyeri",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	var registered struct {
		Token string `json:"token"`
		User  struct {
			Role string `json:"user_type"`
		} `json:"user"`
	}
	c.decode(resp, &registered)
	if registered.User.Role != "farmer" {
		t.Fatalf("registered role = %q, want farmer", registered.User.Role)
	}

	resp = c.post("/api/login", map[string]any{
		"username": "wanjiru",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d", resp.StatusCode)
	}
	var loggedIn struct {
		Token string `json:"token"`
		User  struct {
			Role string `json:"user_type"`
		} `json:"user"`
	}
	c.decode(resp, &loggedIn)
	if loggedIn.User.Role != "farmer" {
		t.Fatalf("login role = %q, want farmer", loggedIn.User.Role)
	}
	if loggedIn.Token == "" {
		t.Fatal("login returned no token")
	}
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.registerUser("wanjiru", "farmer")

	type attempt struct{ username, password string }
	attempts := []attempt{
		{"wanjiru", "wrong password"}, // exists, bad password
		{"no_such_user", "whatever"},  // does not exist
	}

	var bodies []string
	for _, at := range attempts {
		resp := c.post("/api/login", map[string]any{
			"username": at.username,
			"password": at.password,
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("login %q: status %d, want 401", at.username, resp.StatusCode)
		}
		var body struct {
			Error string `json:"error"`
		}
		c.decode(resp, &body)
		bodies = append(bodies, body.Error)
	}
	if bodies[0] != bodies[1] {
		t.Fatalf("login failure bodies differ: %q vs %q", bodies[0], bodies[1])
	}
}

func TestDuplicateRegistrationConflicts(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	c.registerUser("wanjiru", "farmer")

	resp := c.post("/api/register", map[string]any{
		"username":  "wanjiru",
		"email":     "other@example.com",
		"password":  "correct horse",
		"user_type": "donor",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	c := newTestAPI(t, apiOptions{})

	resp := c.get("/api/dashboard", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/dashboard", nil, bearerHeader("garbage"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	c.decode(resp, &body)
	if body.Error != "token malformed" {
		t.Fatalf("error = %q, want token malformed", body.Error)
	}
}

func TestExpiredTokenRejectedWithKind(t *testing.T) {
	current := time.Date(2026, time.June, 1, 10, 0, 0, 0, time.UTC)
	c := newTestAPI(t, apiOptions{
		tokenTTL: time.Second,
		clock:    func() time.Time { return current },
	})

	token, _ := c.registerUser("wanjiru", "beneficiary")

	resp := c.get("/api/dashboard", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("fresh token: status %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	current = current.Add(2 * time.Second)

	resp = c.get("/api/dashboard", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: status %d, want 401", resp.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	c.decode(resp, &body)
	if body.Error != "token expired" {
		t.Fatalf("error = %q, want token expired", body.Error)
	}
}

func TestRoleGateForbidsNonFarmers(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	token, _ := c.registerUser("dorothy", "donor")

	resp := c.post("/api/crops/predict", map[string]any{
		"crop_type": "maize",
		"location":  "Nakuru",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIdentityRateLimitExhaustion(t *testing.T) {
	current := time.Date(2026, time.June, 1, 10, 0, 30, 0, time.UTC)
	c := newTestAPI(t, apiOptions{
		rateLimit:  3,
		rateWindow: time.Minute,
		clock:      func() time.Time { return current },
	})

	token, _ := c.registerUser("wanjiru", "beneficiary")

	for i := 0; i < 3; i++ {
		resp := c.get("/api/dashboard", nil, bearerFrom(token, fmt.Sprintf("10.0.1.%d", i+1)))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: status %d, want 200", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.get("/api/dashboard", nil, bearerFrom(token, "10.0.1.99"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("4th request: status %d, want 429", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got == "" {
		t.Fatal("missing Retry-After header")
	}
	var body struct {
		Error      string `json:"error"`
		RetryAfter int    `json:"retry_after"`
	}
	c.decode(resp, &body)
	if body.RetryAfter < 1 || body.RetryAfter > 60 {
		t.Fatalf("retry_after = %d, want within (0, 60]", body.RetryAfter)
	}

	// Next window admits again.
	current = current.Add(time.Minute)
	resp = c.get("/api/dashboard", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next window: status %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRetryAfterReflectsWindowRemainder(t *testing.T) {
	// Window-aligned clock: rejection at t+15s leaves 45s of the window.
	start := time.Unix(0, 0).Add(1000 * time.Minute)
	current := start
	c := newTestAPI(t, apiOptions{
		rateLimit:  1,
		rateWindow: time.Minute,
		clock:      func() time.Time { return current },
	})

	token, _ := c.registerUser("wanjiru", "beneficiary")

	resp := c.get("/api/dashboard", nil, bearerFrom(token, "10.0.2.1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	current = start.Add(15 * time.Second)
	resp = c.get("/api/dashboard", nil, bearerFrom(token, "10.0.2.2"))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", resp.StatusCode)
	}
	var body struct {
		RetryAfter int `json:"retry_after"`
	}
	c.decode(resp, &body)
	if body.RetryAfter != 45 {
		t.Fatalf("retry_after = %d, want 45", body.RetryAfter)
	}
}
