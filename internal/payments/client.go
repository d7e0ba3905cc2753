// Package payments integrates the IntaSend mobile-money gateway for
// donations, with webhook verification and a local donation ledger.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	sandboxBaseURL = "https://sandbox.intasend.com/api/v1"
	liveBaseURL    = "https://payment.intasend.com/api/v1"

	// EnvironmentLive selects the production gateway endpoint; anything
	// else is routed to the sandbox.
	EnvironmentLive = "live"
)

// Status is the lifecycle state of a payment.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// Method is the mobile-money or card rail used for a payment.
type Method string

const (
	MethodMpesa  Method = "mpesa"
	MethodCard   Method = "card"
	MethodBank   Method = "bank"
	MethodAirtel Method = "airtel"
)

var (
	ErrInvalidAmount       = errors.New("payments: amount must be greater than zero")
	ErrMissingPhone        = errors.New("payments: phone number is required")
	ErrMissingEmail        = errors.New("payments: email is required")
	ErrUnsupportedCurrency = errors.New("payments: unsupported currency")
	ErrGatewayUnavailable  = errors.New("payments: gateway unavailable")
	ErrGatewayRejected     = errors.New("payments: gateway rejected request")
)

var supportedCurrencies = map[string]bool{
	"KES": true, "USD": true, "EUR": true, "GBP": true,
}

// PaymentRequest describes a checkout to initiate.
type PaymentRequest struct {
	Amount      float64        `json:"amount"`
	Currency    string         `json:"currency"`
	PhoneNumber string         `json:"phone_number"`
	Email       string         `json:"email"`
	Purpose     string         `json:"purpose"`
	Method      Method         `json:"method"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PaymentResponse is the gateway's view of a transaction.
type PaymentResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        Status `json:"status"`
	PaymentURL    string `json:"payment_url,omitempty"`
	Reference     string `json:"reference,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Client is a thin IntaSend API client.
type Client struct {
	publicKey  string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

// ClientOption customizes Client construction.
type ClientOption func(*Client)

// WithBaseURL overrides the gateway endpoint, used in tests.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithGatewayHTTPClient overrides the HTTP client.
func WithGatewayHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithGatewayClock overrides the time source, used in tests.
func WithGatewayClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a gateway client for the given environment.
func NewClient(publicKey, secretKey, environment string, opts ...ClientOption) *Client {
	base := sandboxBaseURL
	if environment == EnvironmentLive {
		base = liveBaseURL
	}
	c := &Client{
		publicKey:  publicKey,
		secretKey:  secretKey,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-IntaSend-Public-API-Key", c.publicKey)
	req.Header.Set("X-IntaSend-Secret-API-Key", c.secretKey)
}

// newReference generates a unique api_ref like NG_20260301_9F3A2B1C.
func (c *Client) newReference() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("NG_%s_%s", c.now().Format("20060102"), id)
}

func validateRequest(req PaymentRequest) error {
	switch {
	case req.Amount <= 0:
		return ErrInvalidAmount
	case strings.TrimSpace(req.PhoneNumber) == "":
		return ErrMissingPhone
	case strings.TrimSpace(req.Email) == "":
		return ErrMissingEmail
	case !supportedCurrencies[req.Currency]:
		return fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	return nil
}

// formatPhoneNumber normalizes Kenyan MSISDNs to the 254 prefix the
// gateway expects.
func formatPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case strings.HasPrefix(digits, "0"):
		return "254" + digits[1:]
	case strings.HasPrefix(digits, "254"):
		return digits
	default:
		return "254" + digits
	}
}

// InitiatePayment starts a checkout and returns the pending transaction.
func (c *Client) InitiatePayment(ctx context.Context, req PaymentRequest) (PaymentResponse, error) {
	if err := validateRequest(req); err != nil {
		return PaymentResponse{}, err
	}
	if req.Method == "" {
		req.Method = MethodMpesa
	}
	reference := c.newReference()

	payload := map[string]any{
		"amount":       req.Amount,
		"currency":     req.Currency,
		"phone_number": formatPhoneNumber(req.PhoneNumber),
		"email":        req.Email,
		"api_ref":      reference,
		"narrative":    req.Purpose,
		"method":       req.Method,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var out struct {
		ID         string `json:"id"`
		PaymentURL string `json:"payment_url"`
	}
	if err := c.post(ctx, "/checkout/", payload, &out); err != nil {
		return PaymentResponse{}, err
	}
	transactionID := out.ID
	if transactionID == "" {
		transactionID = reference
	}
	return PaymentResponse{
		TransactionID: transactionID,
		Status:        StatusPending,
		PaymentURL:    out.PaymentURL,
		Reference:     reference,
		Message:       "Payment initiated successfully",
	}, nil
}

// CheckStatus fetches the current state of a transaction.
func (c *Client) CheckStatus(ctx context.Context, transactionID string) (PaymentResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/checkout/%s/", c.baseURL, transactionID), nil)
	if err != nil {
		return PaymentResponse{}, err
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return PaymentResponse{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return PaymentResponse{}, fmt.Errorf("%w: status %d", ErrGatewayRejected, resp.StatusCode)
	}

	var out struct {
		State     string `json:"state"`
		APIRef    string `json:"api_ref"`
		Narrative string `json:"narrative"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return PaymentResponse{}, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	return PaymentResponse{
		TransactionID: transactionID,
		Status:        mapGatewayState(out.State),
		Reference:     out.APIRef,
		Message:       out.Narrative,
	}, nil
}

// Refund reverses a completed transaction; amount zero means full refund.
func (c *Client) Refund(ctx context.Context, transactionID string, amount float64) (PaymentResponse, error) {
	payload := map[string]any{"transaction_id": transactionID}
	if amount > 0 {
		payload["amount"] = amount
	}
	var out struct {
		ID        string `json:"id"`
		Reference string `json:"reference"`
	}
	if err := c.post(ctx, "/refund/", payload, &out); err != nil {
		return PaymentResponse{}, err
	}
	if out.ID == "" {
		out.ID = transactionID
	}
	return PaymentResponse{
		TransactionID: out.ID,
		Status:        StatusRefunded,
		Reference:     out.Reference,
		Message:       "Refund processed successfully",
	}, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 hex signature IntaSend
// attaches to webhook deliveries.
func (c *Client) VerifyWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var gwErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&gwErr)
		if gwErr.Message == "" {
			gwErr.Message = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: %s", ErrGatewayRejected, gwErr.Message)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mapGatewayState(state string) Status {
	switch strings.ToUpper(state) {
	case "PENDING":
		return StatusPending
	case "PROCESSING":
		return StatusProcessing
	case "COMPLETE", "COMPLETED":
		return StatusCompleted
	case "FAILED":
		return StatusFailed
	case "CANCELLED":
		return StatusCancelled
	default:
		return StatusPending
	}
}
