package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestService(t *testing.T) (*Service, *InMemory) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "txn-1",
			"payment_url": "https://pay.example/txn-1",
		})
	}))
	t.Cleanup(srv.Close)

	store := NewInMemory()
	gateway := NewClient("pub", "sec", "sandbox", WithBaseURL(srv.URL))
	return NewService(gateway, store), store
}

func signWebhook(payload []byte) string {
	mac := hmac.New(sha256.New, []byte("sec"))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestDonateRecordsPendingDonation(t *testing.T) {
	svc, store := newTestService(t)

	donation, err := svc.Donate(context.Background(), "donor-1", DonationRequest{
		Amount:      1000,
		Currency:    "KES",
		PhoneNumber: "0712345678",
		Email:       "donor@example.com",
		Purpose:     "drought relief",
	})
	if err != nil {
		t.Fatalf("Donate failed: %v", err)
	}
	if donation.Status != StatusPending {
		t.Fatalf("status = %q, want pending", donation.Status)
	}
	if donation.TransactionID != "txn-1" {
		t.Fatalf("transaction id = %q", donation.TransactionID)
	}

	stored, err := store.FindDonationByReference(context.Background(), donation.Reference)
	if err != nil {
		t.Fatalf("FindDonationByReference failed: %v", err)
	}
	if stored.DonorID != "donor-1" || stored.Amount != 1000 {
		t.Fatalf("stored donation mismatch: %+v", stored)
	}
}

func TestHandleWebhookCompletesDonation(t *testing.T) {
	svc, store := newTestService(t)

	donation, err := svc.Donate(context.Background(), "donor-1", DonationRequest{
		Amount: 500, Currency: "KES", PhoneNumber: "0712345678", Email: "d@e",
	})
	if err != nil {
		t.Fatalf("Donate failed: %v", err)
	}

	payload := []byte(fmt.Sprintf(`{"id":"txn-1","state":"COMPLETE","api_ref":%q}`, donation.Reference))
	updated, err := svc.HandleWebhook(context.Background(), payload, signWebhook(payload))
	if err != nil {
		t.Fatalf("HandleWebhook failed: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("status = %q, want completed", updated.Status)
	}

	stored, err := store.FindDonationByReference(context.Background(), donation.Reference)
	if err != nil {
		t.Fatalf("FindDonationByReference failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %q, want completed", stored.Status)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	svc, _ := newTestService(t)
	payload := []byte(`{"id":"txn-1","state":"COMPLETE","api_ref":"NG_1"}`)
	if _, err := svc.HandleWebhook(context.Background(), payload, "deadbeef"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestHandleWebhookUnknownReference(t *testing.T) {
	svc, _ := newTestService(t)
	payload := []byte(`{"id":"txn-1","state":"COMPLETE","api_ref":"NG_UNKNOWN"}`)
	if _, err := svc.HandleWebhook(context.Background(), payload, signWebhook(payload)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTotalsSumCompletedByCurrency(t *testing.T) {
	store := NewInMemory()
	svc := NewService(NewClient("pub", "sec", "sandbox"), store)
	ctx := context.Background()
	now := time.Now().UTC()

	seed := []*Donation{
		{ID: "d1", DonorID: "a", Amount: 100, Currency: "KES", Status: StatusCompleted, Reference: "r1"},
		{ID: "d2", DonorID: "a", Amount: 250, Currency: "KES", Status: StatusCompleted, Reference: "r2"},
		{ID: "d3", DonorID: "b", Amount: 40, Currency: "USD", Status: StatusCompleted, Reference: "r3"},
		{ID: "d4", DonorID: "b", Amount: 999, Currency: "KES", Status: StatusPending, Reference: "r4"},
	}
	for _, d := range seed {
		d.CreatedAt, d.UpdatedAt = now, now
		if err := store.CreateDonation(ctx, d); err != nil {
			t.Fatalf("CreateDonation failed: %v", err)
		}
	}

	totals, err := svc.Totals(ctx)
	if err != nil {
		t.Fatalf("Totals failed: %v", err)
	}
	if totals["KES"] != 350 {
		t.Fatalf("KES total = %v, want 350 (pending excluded)", totals["KES"])
	}
	if totals["USD"] != 40 {
		t.Fatalf("USD total = %v, want 40", totals["USD"])
	}
}
