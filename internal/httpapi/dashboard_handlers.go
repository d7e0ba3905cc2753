package httpapi

import (
	"net/http"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/payments"
)

// handleDashboard shapes the payload by the caller's role. The switch is
// exhaustive over the role enum.
func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, _ := auth.IdentityFromContext(r.Context())
	subject := claims.Subject

	ident, err := a.cfg.Auth.Identity(r.Context(), subject)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	payload := map[string]any{
		"user": map[string]any{
			"username":  ident.Username,
			"user_type": ident.Role,
			"location":  ident.Location,
		},
	}

	switch ident.Role {
	case auth.RoleFarmer:
		predictions, err := a.cfg.Predictions.ListPredictionsByFarmer(r.Context(), subject, 5)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		recent := make([]map[string]any, 0, len(predictions))
		for _, p := range predictions {
			recent = append(recent, map[string]any{
				"crop_type":  p.CropType,
				"confidence": p.ConfidenceScore,
				"created_at": p.CreatedAt,
			})
		}
		payload["recent_predictions"] = recent

	case auth.RoleDonor:
		donations, err := a.cfg.Donations.DonationsByDonor(r.Context(), subject, 0)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		var total float64
		for _, d := range donations {
			if d.Status == payments.StatusCompleted {
				total += d.Amount
			}
		}
		payload["total_donated"] = total
		payload["donation_count"] = len(donations)

	case auth.RoleBeneficiary:
		analyses, err := a.cfg.Analyses.ListAnalysesByUser(r.Context(), subject, 5)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		recent := make([]map[string]any, 0, len(analyses))
		for _, rec := range analyses {
			recent = append(recent, map[string]any{
				"meal_description": rec.MealDescription,
				"created_at":       rec.CreatedAt,
			})
		}
		payload["recent_analyses"] = recent

	case auth.RoleAdmin:
		identities, err := a.cfg.Auth.ListIdentities(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		totals, err := a.cfg.Donations.Totals(r.Context())
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		payload["user_count"] = len(identities)
		payload["donation_totals"] = totals
	}

	writeJSON(w, http.StatusOK, payload)
}
