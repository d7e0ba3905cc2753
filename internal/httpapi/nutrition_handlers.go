package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nutriguard.org/internal/auth"
	"nutriguard.org/internal/ids"
	"nutriguard.org/internal/nutrition"
)

type analyzeRequest struct {
	MealDescription string `json:"meal_description"`
}

func (a *API) handleNutritionAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	var req analyzeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	analysis, err := a.cfg.Analyzer.AnalyzeMeal(r.Context(), subject, req.MealDescription)
	if err != nil {
		handleNutritionError(w, r, err)
		return
	}

	rec := &nutrition.Record{
		ID:              ids.New(),
		UserID:          subject,
		MealDescription: strings.TrimSpace(req.MealDescription),
		Analysis:        analysis,
		CreatedAt:       nowUTC(),
	}
	if err := a.cfg.Analyses.CreateAnalysis(r.Context(), rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r.Context(), "nutrition.analyze", map[string]any{
		"analysis_id": rec.ID,
		"degraded":    analysis.Degraded,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       rec.ID,
		"analysis": analysis,
	})
}

func (a *API) handleNutritionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.cfg.Analyses.ListAnalysesByUser(r.Context(), subject, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"analyses": records,
		"count":    len(records),
	})
}

type predictRequest struct {
	CropType         string                `json:"crop_type"`
	Location         string                `json:"location"`
	Soil             nutrition.SoilData    `json:"soil_data"`
	Weather          nutrition.WeatherData `json:"weather_data"`
	FarmSizeHectares float64               `json:"farm_size_hectares"`
}

func (a *API) handleCropPredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	var req predictRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	cropType := strings.ToLower(strings.TrimSpace(req.CropType))
	location := strings.TrimSpace(req.Location)
	if cropType == "" || location == "" {
		writeError(w, r, http.StatusBadRequest, "crop_type and location are required")
		return
	}

	prediction, err := a.cfg.Predictor.PredictYield(r.Context(), cropType, location,
		req.Soil, req.Weather, req.FarmSizeHectares)
	if err != nil {
		handleNutritionError(w, r, err)
		return
	}

	rec := &nutrition.PredictionRecord{
		ID:              ids.New(),
		FarmerID:        subject,
		CropType:        cropType,
		Location:        location,
		Soil:            req.Soil,
		Weather:         req.Weather,
		Prediction:      prediction,
		ConfidenceScore: prediction.ConfidenceScore / 100.0,
		CreatedAt:       nowUTC(),
	}
	if err := a.cfg.Predictions.CreatePrediction(r.Context(), rec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	a.audit(r.Context(), "crops.predict", map[string]any{
		"prediction_id": rec.ID,
		"crop_type":     cropType,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         rec.ID,
		"prediction": prediction,
	})
}

func (a *API) handleCropHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	subject, _ := auth.SubjectFromContext(r.Context())

	limit, err := parseLimit(r.URL.Query().Get("limit"), 20)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	records, err := a.cfg.Predictions.ListPredictionsByFarmer(r.Context(), subject, limit)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"predictions": records,
		"count":       len(records),
	})
}

func handleNutritionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, nutrition.ErrEmptyMeal):
		writeError(w, r, http.StatusBadRequest, "meal_description is required")
	case errors.Is(err, nutrition.ErrQuotaExceeded):
		writeError(w, r, http.StatusTooManyRequests, "hourly analysis quota exhausted")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < 1 || val > 1000 {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}
