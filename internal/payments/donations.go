package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nutriguard.org/internal/ids"
)

var (
	// ErrNotFound reports a donation that does not exist.
	ErrNotFound = errors.New("payments: donation not found")
	// ErrBadSignature reports a webhook whose signature did not verify.
	ErrBadSignature = errors.New("payments: invalid webhook signature")
)

// Donation is one donor contribution tracked through the gateway.
type Donation struct {
	ID            string    `json:"id"`
	DonorID       string    `json:"donor_id"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency"`
	Purpose       string    `json:"purpose"`
	Status        Status    `json:"status"`
	TransactionID string    `json:"transaction_id"`
	Reference     string    `json:"api_ref"`
	PaymentURL    string    `json:"payment_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DonationStore persists donations.
type DonationStore interface {
	CreateDonation(ctx context.Context, d *Donation) error
	FindDonationByReference(ctx context.Context, reference string) (*Donation, error)
	UpdateDonationStatus(ctx context.Context, id string, status Status, at time.Time) error
	ListDonationsByDonor(ctx context.Context, donorID string, limit int) ([]*Donation, error)
	ListDonations(ctx context.Context, limit int) ([]*Donation, error)
}

// DonationRequest is the donor-supplied portion of a donation.
type DonationRequest struct {
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	PhoneNumber string  `json:"phone_number"`
	Email       string  `json:"email"`
	Purpose     string  `json:"purpose"`
}

// Service orchestrates donations: gateway checkout on one side, the
// donation ledger on the other.
type Service struct {
	gateway *Client
	store   DonationStore
	now     func() time.Time
}

// ServiceOption customizes Service construction.
type ServiceOption func(*Service)

// WithServiceClock overrides the time source, used in tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService builds a donation service.
func NewService(gateway *Client, store DonationStore, opts ...ServiceOption) *Service {
	s := &Service{gateway: gateway, store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Donate initiates a gateway checkout and records the pending donation.
func (s *Service) Donate(ctx context.Context, donorID string, req DonationRequest) (*Donation, error) {
	purpose := strings.TrimSpace(req.Purpose)
	if purpose == "" {
		purpose = "general"
	}
	resp, err := s.gateway.InitiatePayment(ctx, PaymentRequest{
		Amount:      req.Amount,
		Currency:    req.Currency,
		PhoneNumber: req.PhoneNumber,
		Email:       req.Email,
		Purpose:     "NutriGuard Donation: " + purpose,
		Method:      MethodMpesa,
		Metadata: map[string]any{
			"donor_id":      donorID,
			"donation_type": "general",
			"platform":      "nutriguard",
		},
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	donation := &Donation{
		ID:            ids.New(),
		DonorID:       donorID,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Purpose:       purpose,
		Status:        resp.Status,
		TransactionID: resp.TransactionID,
		Reference:     resp.Reference,
		PaymentURL:    resp.PaymentURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateDonation(ctx, donation); err != nil {
		return nil, fmt.Errorf("record donation: %w", err)
	}
	return donation, nil
}

// webhookEvent is the gateway's delivery payload.
type webhookEvent struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	APIRef string `json:"api_ref"`
}

// HandleWebhook verifies the delivery signature and applies the state
// transition to the referenced donation.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (*Donation, error) {
	if !s.gateway.VerifyWebhookSignature(payload, signature) {
		return nil, ErrBadSignature
	}
	var event webhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	if event.APIRef == "" {
		return nil, fmt.Errorf("webhook missing api_ref")
	}

	donation, err := s.store.FindDonationByReference(ctx, event.APIRef)
	if err != nil {
		return nil, err
	}
	status := mapGatewayState(event.State)
	now := s.now().UTC()
	if err := s.store.UpdateDonationStatus(ctx, donation.ID, status, now); err != nil {
		return nil, err
	}
	donation.Status = status
	donation.UpdatedAt = now
	return donation, nil
}

// Status proxies a gateway status check for one of the donor's donations.
func (s *Service) Status(ctx context.Context, transactionID string) (PaymentResponse, error) {
	return s.gateway.CheckStatus(ctx, transactionID)
}

// DonationsByDonor lists the donor's donations, most recent first.
func (s *Service) DonationsByDonor(ctx context.Context, donorID string, limit int) ([]*Donation, error) {
	return s.store.ListDonationsByDonor(ctx, donorID, limit)
}

// Totals sums completed donations by currency for dashboard reporting.
func (s *Service) Totals(ctx context.Context) (map[string]float64, error) {
	donations, err := s.store.ListDonations(ctx, 0)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]float64)
	for _, d := range donations {
		if d.Status == StatusCompleted {
			totals[d.Currency] += d.Amount
		}
	}
	return totals, nil
}
