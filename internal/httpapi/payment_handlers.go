package httpapi

import (
	"errors"
	"io"
	"net/http"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/payments"
)

func (a *API) handleDonate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	var req payments.DonationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.Currency == "" {
		req.Currency = "KES"
	}
	if req.Email == "" {
		if ident, err := a.cfg.Auth.Identity(r.Context(), subject); err == nil {
			req.Email = ident.Email
		}
	}

	donation, err := a.cfg.Donations.Donate(r.Context(), subject, req)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}

	a.audit(r.Context(), "payments.donate", map[string]any{
		"donation_id": donation.ID,
		"amount":      donation.Amount,
		"currency":    donation.Currency,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Donation initiated successfully",
		"donation_id": donation.ID,
		"payment_url": donation.PaymentURL,
		"status":      donation.Status,
	})
}

func (a *API) handleDonations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	donations, err := a.cfg.Donations.DonationsByDonor(r.Context(), subject, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"donations": donations,
		"count":     len(donations),
	})
}

// handlePaymentWebhook is called by the gateway, not by users; it is
// authenticated by the HMAC signature header instead of a bearer token.
func (a *API) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable payload")
		return
	}
	signature := r.Header.Get("X-IntaSend-Signature")

	donation, err := a.cfg.Donations.HandleWebhook(r.Context(), payload, signature)
	if err != nil {
		handlePaymentError(w, r, err)
		return
	}

	a.audit(r.Context(), "payments.webhook", map[string]any{
		"donation_id": donation.ID,
		"status":      donation.Status,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"donation_id": donation.ID,
		"status":      donation.Status,
	})
}

func handlePaymentError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, payments.ErrInvalidAmount),
		errors.Is(err, payments.ErrMissingPhone),
		errors.Is(err, payments.ErrMissingEmail),
		errors.Is(err, payments.ErrUnsupportedCurrency):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, payments.ErrBadSignature):
		writeError(w, r, http.StatusUnauthorized, "invalid webhook signature")
	case errors.Is(err, payments.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "donation not found")
	case errors.Is(err, payments.ErrGatewayRejected):
		writeError(w, r, http.StatusBadGateway, "payment gateway rejected the request")
	case errors.Is(err, payments.ErrGatewayUnavailable):
		writeError(w, r, http.StatusBadGateway, "payment gateway unavailable")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
