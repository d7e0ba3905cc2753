package nutrition

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	cropMaxTokens   = 800
	cropTemperature = 0.3
	// Blend weights between the local agronomic baseline and the model.
	baselineWeight = 0.7
	modelWeight    = 0.3
)

// cropProfile captures the agronomic envelope of a supported crop.
type cropProfile struct {
	phMin, phMax     float64
	rainMin, rainMax float64 // mm per season
	seasonDays       int
	yieldMin         float64 // tons per hectare
	yieldMax         float64
}

var cropProfiles = map[string]cropProfile{
	"maize":        {6.0, 7.0, 500, 1200, 120, 2, 8},
	"rice":         {5.5, 7.0, 1000, 2000, 150, 3, 10},
	"wheat":        {6.0, 7.5, 300, 800, 180, 2, 6},
	"beans":        {6.0, 7.0, 400, 800, 90, 1, 3},
	"sweet_potato": {5.8, 6.2, 600, 1000, 120, 8, 25},
}

// SupportedCrops lists the crops with a local knowledge-base profile.
func SupportedCrops() []string {
	crops := make([]string, 0, len(cropProfiles))
	for name := range cropProfiles {
		crops = append(crops, name)
	}
	sort.Strings(crops)
	return crops
}

// SoilData describes the field's soil conditions.
type SoilData struct {
	Type          string  `json:"type,omitempty"`
	PH            float64 `json:"ph,omitempty"`
	OrganicMatter string  `json:"organic_matter,omitempty"`
}

// WeatherData describes the expected weather over the growing season.
type WeatherData struct {
	ExpectedRainfall float64 `json:"expected_rainfall,omitempty"`
	TemperatureRange string  `json:"temperature_range,omitempty"`
}

// Baseline is the knowledge-base portion of a prediction.
type Baseline struct {
	YieldTonsPerHectare float64 `json:"predicted_yield_tons_per_hectare"`
	Confidence          float64 `json:"confidence"`
	PHSuitability       float64 `json:"ph_suitability"`
	RainfallSuitability float64 `json:"rainfall_suitability"`
	GrowingSeasonDays   int     `json:"growing_season_days"`
}

// agronomistView is the model's contribution, parsed from its JSON reply.
type agronomistView struct {
	YieldPrediction      float64  `json:"ai_yield_prediction"`
	RiskFactors          []string `json:"risk_factors"`
	Recommendations      []string `json:"recommendations"`
	PlantingTime         string   `json:"planting_time"`
	Confidence           float64  `json:"confidence"`
	MarketConsiderations []string `json:"market_considerations"`
}

// Prediction is a combined yield forecast for one farm.
type Prediction struct {
	YieldPerHectare      float64   `json:"yield_per_hectare"`
	TotalProductionTons  float64   `json:"total_production_tons"`
	ConfidenceScore      float64   `json:"confidence_score"`
	FarmSizeHectares     float64   `json:"farm_size_hectares"`
	RiskFactors          []string  `json:"risk_factors"`
	Recommendations      []string  `json:"recommendations"`
	PlantingTime         string    `json:"planting_time"`
	MarketConsiderations []string  `json:"market_considerations"`
	Baseline             Baseline  `json:"baseline_analysis"`
	PredictionDate       time.Time `json:"prediction_date"`
}

// PredictionRecord is a stored crop prediction.
type PredictionRecord struct {
	ID              string      `json:"id"`
	FarmerID        string      `json:"farmer_id"`
	CropType        string      `json:"crop_type"`
	Location        string      `json:"location"`
	Soil            SoilData    `json:"soil_data"`
	Weather         WeatherData `json:"weather_data"`
	Prediction      Prediction  `json:"prediction"`
	ConfidenceScore float64     `json:"confidence_score"`
	CreatedAt       time.Time   `json:"created_at"`
}

// PredictionStore persists crop predictions.
type PredictionStore interface {
	CreatePrediction(ctx context.Context, rec *PredictionRecord) error
	ListPredictionsByFarmer(ctx context.Context, farmerID string, limit int) ([]*PredictionRecord, error)
}

// CropPredictor forecasts yields from a local agronomic baseline blended
// with a model consultation when the model is reachable.
type CropPredictor struct {
	llm *llmClient
	now func() time.Time
}

// PredictorOption customizes CropPredictor construction.
type PredictorOption func(*CropPredictor)

// WithPredictorClock overrides the time source, used in tests.
func WithPredictorClock(now func() time.Time) PredictorOption {
	return func(p *CropPredictor) {
		if now != nil {
			p.now = now
		}
	}
}

// NewCropPredictor builds a CropPredictor sharing the analyzer's model
// configuration. An empty apiKey keeps predictions purely knowledge-based.
func NewCropPredictor(apiKey, baseURL, model string, opts ...PredictorOption) *CropPredictor {
	p := &CropPredictor{
		llm: newLLMClient(apiKey, baseURL, model, nil),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PredictYield forecasts the yield for the crop under the given conditions.
// Unknown crops get a low-confidence generic forecast rather than an error.
func (p *CropPredictor) PredictYield(ctx context.Context, cropType, location string, soil SoilData, weather WeatherData, farmSize float64) (Prediction, error) {
	if farmSize <= 0 {
		farmSize = 1.0
	}
	baseline := baselinePrediction(cropType, soil, weather)
	view := p.consultModel(ctx, cropType, location, soil, weather)
	return combinePredictions(baseline, view, farmSize, p.now()), nil
}

func baselinePrediction(cropType string, soil SoilData, weather WeatherData) Baseline {
	profile, ok := cropProfiles[cropType]
	if !ok {
		return Baseline{
			YieldTonsPerHectare: 2.0,
			Confidence:          30.0,
			PHSuitability:       50.0,
			RainfallSuitability: 50.0,
			GrowingSeasonDays:   120,
		}
	}

	ph := soil.PH
	if ph == 0 {
		ph = 6.5
	}
	rainfall := weather.ExpectedRainfall
	if rainfall == 0 {
		rainfall = 800
	}

	phScore := phSuitability(ph, profile.phMin, profile.phMax)
	rainScore := rainfallSuitability(rainfall, profile.rainMin, profile.rainMax)
	overall := (phScore + rainScore) / 2

	return Baseline{
		YieldTonsPerHectare: round2(profile.yieldMin + (profile.yieldMax-profile.yieldMin)*overall),
		Confidence:          round1(overall * 100),
		PHSuitability:       round1(phScore * 100),
		RainfallSuitability: round1(rainScore * 100),
		GrowingSeasonDays:   profile.seasonDays,
	}
}

// phSuitability scores 1.0 inside the optimal band and decays by half a
// point per pH unit outside it.
func phSuitability(actual, min, max float64) float64 {
	switch {
	case actual >= min && actual <= max:
		return 1.0
	case actual < min:
		return math.Max(0, 1-(min-actual)/2)
	default:
		return math.Max(0, 1-(actual-max)/2)
	}
}

// rainfallSuitability scores 1.0 inside the optimal band, proportionally
// below it, and penalizes excess relative to the band ceiling.
func rainfallSuitability(actual, min, max float64) float64 {
	switch {
	case actual >= min && actual <= max:
		return 1.0
	case actual < min:
		return math.Max(0, actual/min)
	default:
		return math.Max(0, 1-(actual-max)/max)
	}
}

func (p *CropPredictor) consultModel(ctx context.Context, cropType, location string, soil SoilData, weather WeatherData) agronomistView {
	raw, err := p.llm.complete(ctx,
		"You are an expert agricultural AI consultant.",
		cropPrompt(cropType, location, soil, weather), cropMaxTokens, cropTemperature)
	if err != nil {
		return fallbackAgronomistView()
	}
	payload, ok := extractJSON(raw)
	if !ok {
		return fallbackAgronomistView()
	}
	var view agronomistView
	if err := json.Unmarshal([]byte(payload), &view); err != nil {
		return fallbackAgronomistView()
	}
	return view
}

func cropPrompt(cropType, location string, soil SoilData, weather WeatherData) string {
	return fmt.Sprintf(`As an agricultural AI expert, analyze the crop growing conditions for %s in %s.

Soil Conditions:
- Type: %s
- pH: %.1f
- Organic Matter: %s

Weather Conditions:
- Expected Rainfall: %.0f mm
- Temperature Range: %s

Provide a yield prediction (tons per hectare), risk factors, optimization
recommendations, best planting time, and a confidence score (0-100).

Format response as JSON:
{
    "ai_yield_prediction": number,
    "risk_factors": ["list of risks"],
    "recommendations": ["optimization tips"],
    "planting_time": "recommended time",
    "confidence": number,
    "market_considerations": ["market insights"]
}`, cropType, location, soil.Type, soil.PH, soil.OrganicMatter,
		weather.ExpectedRainfall, weather.TemperatureRange)
}

func fallbackAgronomistView() agronomistView {
	return agronomistView{
		RiskFactors:          []string{"Weather uncertainty", "Soil conditions"},
		Recommendations:      []string{"Consult local agricultural extension officer"},
		PlantingTime:         "Follow local seasonal patterns",
		Confidence:           50,
		MarketConsiderations: []string{"Monitor local market prices"},
	}
}

func combinePredictions(baseline Baseline, view agronomistView, farmSize float64, at time.Time) Prediction {
	modelYield := view.YieldPrediction
	if modelYield == 0 {
		modelYield = baseline.YieldTonsPerHectare
	}
	yield := baselineWeight*baseline.YieldTonsPerHectare + modelWeight*modelYield

	confidence := (baseline.Confidence + view.Confidence) / 2

	plantingTime := view.PlantingTime
	if plantingTime == "" {
		plantingTime = "Consult local experts"
	}

	return Prediction{
		YieldPerHectare:      round2(yield),
		TotalProductionTons:  round2(yield * farmSize),
		ConfidenceScore:      round1(confidence),
		FarmSizeHectares:     farmSize,
		RiskFactors:          orEmpty(view.RiskFactors),
		Recommendations:      orEmpty(view.Recommendations),
		PlantingTime:         plantingTime,
		MarketConsiderations: orEmpty(view.MarketConsiderations),
		Baseline:             baseline,
		PredictionDate:       at.UTC(),
	}
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
