package nutrition

import (
	"context"
	"testing"
	"time"
)

func TestBaselinePredictionOptimalConditions(t *testing.T) {
	got := baselinePrediction("maize", SoilData{PH: 6.5}, WeatherData{ExpectedRainfall: 800})
	if got.PHSuitability != 100 {
		t.Fatalf("ph suitability = %v, want 100", got.PHSuitability)
	}
	if got.RainfallSuitability != 100 {
		t.Fatalf("rainfall suitability = %v, want 100", got.RainfallSuitability)
	}
	if got.YieldTonsPerHectare != 8 {
		t.Fatalf("yield = %v, want 8 (top of the maize range)", got.YieldTonsPerHectare)
	}
	if got.Confidence != 100 {
		t.Fatalf("confidence = %v, want 100", got.Confidence)
	}
	if got.GrowingSeasonDays != 120 {
		t.Fatalf("season = %v, want 120", got.GrowingSeasonDays)
	}
}

func TestBaselinePredictionAcidSoil(t *testing.T) {
	// pH 5.0 against maize's 6.0 floor scores 0.5; rainfall stays optimal.
	got := baselinePrediction("maize", SoilData{PH: 5.0}, WeatherData{ExpectedRainfall: 800})
	if got.PHSuitability != 50 {
		t.Fatalf("ph suitability = %v, want 50", got.PHSuitability)
	}
	if got.YieldTonsPerHectare != 6.5 {
		t.Fatalf("yield = %v, want 6.5", got.YieldTonsPerHectare)
	}
	if got.Confidence != 75 {
		t.Fatalf("confidence = %v, want 75", got.Confidence)
	}
}

func TestBaselinePredictionUnknownCrop(t *testing.T) {
	got := baselinePrediction("dragonfruit", SoilData{PH: 6.5}, WeatherData{ExpectedRainfall: 800})
	if got.YieldTonsPerHectare != 2.0 {
		t.Fatalf("yield = %v, want generic 2.0", got.YieldTonsPerHectare)
	}
	if got.Confidence != 30.0 {
		t.Fatalf("confidence = %v, want 30", got.Confidence)
	}
}

func TestRainfallSuitability(t *testing.T) {
	cases := []struct {
		actual, min, max float64
		want             float64
	}{
		{800, 500, 1200, 1.0},
		{250, 500, 1200, 0.5},
		{1800, 500, 1200, 0.5},
		{0, 500, 1200, 0},
		{3000, 500, 1200, 0},
	}
	for _, tc := range cases {
		if got := rainfallSuitability(tc.actual, tc.min, tc.max); got != tc.want {
			t.Fatalf("rainfallSuitability(%v, %v, %v) = %v, want %v",
				tc.actual, tc.min, tc.max, got, tc.want)
		}
	}
}

func TestPredictYieldWithoutModel(t *testing.T) {
	fixed := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	p := NewCropPredictor("", "", "", WithPredictorClock(func() time.Time { return fixed }))

	got, err := p.PredictYield(context.Background(), "maize", "Nakuru",
		SoilData{Type: "loam", PH: 6.5}, WeatherData{ExpectedRainfall: 800}, 2.5)
	if err != nil {
		t.Fatalf("PredictYield failed: %v", err)
	}
	// With no model the blend collapses to the baseline yield.
	if got.YieldPerHectare != 8 {
		t.Fatalf("yield = %v, want 8", got.YieldPerHectare)
	}
	if got.TotalProductionTons != 20 {
		t.Fatalf("total = %v, want 20", got.TotalProductionTons)
	}
	if got.ConfidenceScore != 75 {
		t.Fatalf("confidence = %v, want 75 (avg of 100 baseline and 50 fallback)", got.ConfidenceScore)
	}
	if got.PlantingTime != "Follow local seasonal patterns" {
		t.Fatalf("unexpected planting time %q", got.PlantingTime)
	}
	if !got.PredictionDate.Equal(fixed) {
		t.Fatalf("prediction date = %v, want %v", got.PredictionDate, fixed)
	}
}

func TestPredictYieldBlendsModelReply(t *testing.T) {
	srv, _ := chatStub(t, `{
		"ai_yield_prediction": 4,
		"risk_factors": ["armyworm pressure"],
		"recommendations": ["stagger planting"],
		"planting_time": "mid-March",
		"confidence": 80,
		"market_considerations": ["maize prices peak in August"]
	}`)

	p := NewCropPredictor("test-key", srv.URL, "")
	got, err := p.PredictYield(context.Background(), "maize", "Eldoret",
		SoilData{PH: 6.5}, WeatherData{ExpectedRainfall: 800}, 1)
	if err != nil {
		t.Fatalf("PredictYield failed: %v", err)
	}
	// 0.7*8 (baseline) + 0.3*4 (model) = 6.8
	if got.YieldPerHectare != 6.8 {
		t.Fatalf("yield = %v, want 6.8", got.YieldPerHectare)
	}
	if got.ConfidenceScore != 90 {
		t.Fatalf("confidence = %v, want 90", got.ConfidenceScore)
	}
	if got.PlantingTime != "mid-March" {
		t.Fatalf("planting time = %q, want mid-March", got.PlantingTime)
	}
	if len(got.RiskFactors) != 1 || got.RiskFactors[0] != "armyworm pressure" {
		t.Fatalf("unexpected risk factors %v", got.RiskFactors)
	}
}

func TestSupportedCropsSorted(t *testing.T) {
	crops := SupportedCrops()
	want := []string{"beans", "maize", "rice", "sweet_potato", "wheat"}
	if len(crops) != len(want) {
		t.Fatalf("len = %d, want %d", len(crops), len(want))
	}
	for i := range want {
		if crops[i] != want[i] {
			t.Fatalf("crops[%d] = %q, want %q", i, crops[i], want[i])
		}
	}
}
