package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/market"
)

// handleFoodItemsCollection: GET browses (public, origin-limited), POST
// lists produce (farmer only, full pipeline).
func (a *API) handleFoodItemsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.limitOrigin(http.HandlerFunc(a.browseFoodItems)).ServeHTTP(w, r)
	case http.MethodPost:
		a.guard([]auth.Role{auth.RoleFarmer}, a.createFoodItem).ServeHTTP(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) browseFoodItems(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	items, err := a.cfg.Market.Browse(r.Context(), r.URL.Query().Get("category"), limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (a *API) createFoodItem(w http.ResponseWriter, r *http.Request) {
	subject, _ := auth.SubjectFromContext(r.Context())

	var req market.ListingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	item, err := a.cfg.Market.List(r.Context(), subject, req)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}

	a.audit(r.Context(), "market.item.create", map[string]any{
		"item_id":  item.ID,
		"category": item.Category,
	})
	w.Header().Set("Location", "/api/food-items/"+item.ID)
	writeJSON(w, http.StatusCreated, item)
}

func (a *API) handleFoodItemResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/food-items/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	item, err := a.cfg.Market.Item(r.Context(), id)
	if err != nil {
		handleMarketError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func handleMarketError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrInvalidItem):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, market.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "food item not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
