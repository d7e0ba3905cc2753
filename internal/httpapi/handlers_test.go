package httpapi

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

const testWebhookSecret = "test-intasend-secret"

func jsonBody(t *testing.T, v any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

func signWebhook(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// newGatewayStub stands in for the IntaSend checkout API.
func newGatewayStub(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/checkout/" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-IntaSend-Secret-API-Key") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "txn-123",
			"payment_url": "https://pay.example/txn-123",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMarketplaceListingAndBrowse(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	farmerToken, farmerID := c.registerUser("wanjiru", "farmer")

	resp := c.post("/api/food-items", map[string]any{
		"name":         "Maize",
		"category":     "Grains",
		"price_per_kg": 45.0,
		"availability": 800,
	}, bearerHeader(farmerToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d, want 201", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc == "" {
		t.Fatal("missing Location header")
	}
	var item struct {
		ID       string `json:"id"`
		Category string `json:"category"`
		FarmerID string `json:"farmer_id"`
	}
	c.decode(resp, &item)
	if item.Category != "grains" {
		t.Fatalf("category = %q, want normalized grains", item.Category)
	}
	if item.FarmerID != farmerID {
		t.Fatalf("farmer_id = %q, want %q", item.FarmerID, farmerID)
	}

	// Browsing needs no token.
	resp = c.get("/api/food-items", url.Values{"category": {"grains"}}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("browse: status %d", resp.StatusCode)
	}
	var listing struct {
		Items []struct {
			ID string `json:"id"`
		} `json:"items"`
		Count int `json:"count"`
	}
	c.decode(resp, &listing)
	if listing.Count != 1 || listing.Items[0].ID != item.ID {
		t.Fatalf("browse returned %+v, want the listed item", listing)
	}

	resp = c.get("/api/food-items/"+item.ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resource: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/api/food-items/no-such-item", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing item: status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMarketplaceListingRejections(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	donorToken, _ := c.registerUser("dorothy", "donor")
	farmerToken, _ := c.registerUser("wanjiru", "farmer")

	// Only farmers may list produce.
	resp := c.post("/api/food-items", map[string]any{
		"name":         "Beans",
		"category":     "legumes",
		"price_per_kg": 120.0,
		"availability": 300,
	}, bearerHeader(donorToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("donor listing: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/api/food-items", map[string]any{
		"name":         "",
		"category":     "legumes",
		"price_per_kg": 120.0,
		"availability": 300,
	}, bearerHeader(farmerToken))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid listing: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDonationFlowWithWebhook(t *testing.T) {
	gateway := newGatewayStub(t)
	c := newTestAPI(t, apiOptions{gatewayURL: gateway.URL})
	token, _ := c.registerUser("dorothy", "donor")

	resp := c.post("/api/donate", map[string]any{
		"amount":       500,
		"phone_number": "0712345678",
		"purpose":      "school meals",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("donate: status %d, want 200", resp.StatusCode)
	}
	var donated struct {
		DonationID string `json:"donation_id"`
		PaymentURL string `json:"payment_url"`
		Status     string `json:"status"`
	}
	c.decode(resp, &donated)
	if donated.Status != "pending" {
		t.Fatalf("status = %q, want pending", donated.Status)
	}
	if donated.PaymentURL != "https://pay.example/txn-123" {
		t.Fatalf("payment_url = %q", donated.PaymentURL)
	}

	resp = c.get("/api/donations", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list donations: status %d", resp.StatusCode)
	}
	var listing struct {
		Donations []struct {
			ID        string `json:"id"`
			Reference string `json:"api_ref"`
			Status    string `json:"status"`
		} `json:"donations"`
	}
	c.decode(resp, &listing)
	if len(listing.Donations) != 1 {
		t.Fatalf("donation count = %d, want 1", len(listing.Donations))
	}

	event, err := json.Marshal(map[string]any{
		"id":      "txn-123",
		"state":   "COMPLETE",
		"api_ref": listing.Donations[0].Reference,
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	resp = c.post("/api/payments/webhook", json.RawMessage(event), map[string]string{
		"X-IntaSend-Signature": signWebhook(event),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status %d, want 200", resp.StatusCode)
	}
	var settled struct {
		DonationID string `json:"donation_id"`
		Status     string `json:"status"`
	}
	c.decode(resp, &settled)
	if settled.DonationID != listing.Donations[0].ID || settled.Status != "completed" {
		t.Fatalf("webhook result = %+v", settled)
	}

	// The dashboard now counts the settled donation.
	resp = c.get("/api/dashboard", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard: status %d", resp.StatusCode)
	}
	var dash struct {
		TotalDonated  float64 `json:"total_donated"`
		DonationCount int     `json:"donation_count"`
	}
	c.decode(resp, &dash)
	if dash.TotalDonated != 500 || dash.DonationCount != 1 {
		t.Fatalf("dashboard = %+v, want 500 across 1 donation", dash)
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	c := newTestAPI(t, apiOptions{})

	event := []byte(`{"id":"txn-123","state":"COMPLETE","api_ref":"NG_20260601_DEADBEEF"}`)
	resp := c.post("/api/payments/webhook", json.RawMessage(event), map[string]string{
		"X-IntaSend-Signature": "0000",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDonationValidation(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	token, _ := c.registerUser("dorothy", "donor")

	cases := []map[string]any{
		{"amount": 0, "phone_number": "0712345678"},
		{"amount": 100, "phone_number": ""},
		{"amount": 100, "phone_number": "0712345678", "currency": "ZAR"},
	}
	for i, body := range cases {
		resp := c.post("/api/donate", body, bearerHeader(token))
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d: status %d, want 400", i, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestAdminUserManagement(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	adminToken, _ := c.registerUser("grace", "admin")
	_, farmerID := c.registerUser("wanjiru", "farmer")

	resp := c.get("/api/admin/users", nil, bearerHeader(adminToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list users: status %d", resp.StatusCode)
	}
	var listing struct {
		Count int `json:"count"`
	}
	c.decode(resp, &listing)
	if listing.Count != 2 {
		t.Fatalf("count = %d, want 2", listing.Count)
	}

	req, err := http.NewRequest(http.MethodPatch,
		c.baseURL+"/api/admin/users/"+farmerID+"/status",
		jsonBody(t, map[string]any{"status": "disabled"}))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+adminToken)
	patched, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	if patched.StatusCode != http.StatusOK {
		t.Fatalf("patch: status %d, want 200", patched.StatusCode)
	}
	patched.Body.Close()

	// Disabled accounts cannot log in.
	resp = c.post("/api/login", map[string]any{
		"username": "wanjiru",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled login: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAdminRoutesForbidOthers(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	token, _ := c.registerUser("wanjiru", "farmer")

	resp := c.get("/api/admin/users", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestNutritionAnalyzeDegradesWithoutModel(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	token, _ := c.registerUser("wanjiru", "beneficiary")

	resp := c.post("/api/nutrition/analyze", map[string]any{
		"meal_description": "ugali with sukuma wiki",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("analyze: status %d, want 200", resp.StatusCode)
	}
	var analyzed struct {
		ID       string `json:"id"`
		Analysis struct {
			Degraded         bool    `json:"degraded"`
			NutritionalScore float64 `json:"nutritional_score"`
		} `json:"analysis"`
	}
	c.decode(resp, &analyzed)
	if analyzed.ID == "" {
		t.Fatal("missing analysis id")
	}
	if !analyzed.Analysis.Degraded {
		t.Fatal("expected degraded analysis without a model")
	}
	if analyzed.Analysis.NutritionalScore != 5 {
		t.Fatalf("nutritional_score = %v, want neutral 5", analyzed.Analysis.NutritionalScore)
	}

	resp = c.get("/api/nutrition/history", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var history struct {
		Count int `json:"count"`
	}
	c.decode(resp, &history)
	if history.Count != 1 {
		t.Fatalf("history count = %d, want 1", history.Count)
	}

	resp = c.post("/api/nutrition/analyze", map[string]any{
		"meal_description": "   ",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty meal: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCropPredictionRoundTrip(t *testing.T) {
	c := newTestAPI(t, apiOptions{})
	token, _ := c.registerUser("wanjiru", "farmer")

	resp := c.post("/api/crops/predict", map[string]any{
		"crop_type":          "maize",
		"location":           "Nakuru",
		"soil_data":          map[string]any{"ph": 6.5},
		"weather_data":       map[string]any{"expected_rainfall": 800},
		"farm_size_hectares": 2.5,
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("predict: status %d, want 200", resp.StatusCode)
	}
	var predicted struct {
		ID         string `json:"id"`
		Prediction struct {
			YieldPerHectare float64 `json:"yield_per_hectare"`
			TotalProduction float64 `json:"total_production_tons"`
		} `json:"prediction"`
	}
	c.decode(resp, &predicted)
	if predicted.Prediction.YieldPerHectare <= 0 {
		t.Fatalf("yield = %v, want positive", predicted.Prediction.YieldPerHectare)
	}
	if predicted.Prediction.TotalProduction <= 0 {
		t.Fatalf("total production = %v, want positive", predicted.Prediction.TotalProduction)
	}

	resp = c.get("/api/crops/history", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("history: status %d", resp.StatusCode)
	}
	var history struct {
		Count int `json:"count"`
	}
	c.decode(resp, &history)
	if history.Count != 1 {
		t.Fatalf("history count = %d, want 1", history.Count)
	}

	resp = c.post("/api/crops/predict", map[string]any{
		"crop_type": "",
		"location":  "Nakuru",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing crop_type: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDashboardShapesFollowRole(t *testing.T) {
	c := newTestAPI(t, apiOptions{})

	farmerToken, _ := c.registerUser("wanjiru", "farmer")
	beneficiaryToken, _ := c.registerUser("amina", "beneficiary")

	resp := c.get("/api/dashboard", nil, bearerHeader(farmerToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("farmer dashboard: status %d", resp.StatusCode)
	}
	var farmerDash map[string]json.RawMessage
	c.decode(resp, &farmerDash)
	if _, ok := farmerDash["recent_predictions"]; !ok {
		t.Fatal("farmer dashboard missing recent_predictions")
	}
	if _, ok := farmerDash["total_donated"]; ok {
		t.Fatal("farmer dashboard carries donor fields")
	}

	resp = c.get("/api/dashboard", nil, bearerHeader(beneficiaryToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("beneficiary dashboard: status %d", resp.StatusCode)
	}
	var benDash map[string]json.RawMessage
	c.decode(resp, &benDash)
	if _, ok := benDash["recent_analyses"]; !ok {
		t.Fatal("beneficiary dashboard missing recent_analyses")
	}
}
