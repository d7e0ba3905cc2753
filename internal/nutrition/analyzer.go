// Package nutrition provides meal analysis and crop yield prediction backed
// by an OpenAI-compatible chat model, with a local agronomic baseline so the
// service still answers when the model is unreachable.
package nutrition

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL      = time.Hour
	defaultQuotaPerHour  = 10
	nutritionMaxTokens   = 1000
	nutritionTemperature = 0.2
)

// ErrEmptyMeal reports a blank meal description.
var ErrEmptyMeal = errors.New("nutrition: meal description is required")

// Macronutrients holds the estimated macro breakdown of a meal in grams.
type Macronutrients struct {
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fats          float64 `json:"fats"`
	Fiber         float64 `json:"fiber"`
}

// Analysis is the structured result of a meal analysis.
type Analysis struct {
	Calories          float64           `json:"calories"`
	Macronutrients    Macronutrients    `json:"macronutrients"`
	Micronutrients    map[string]string `json:"micronutrients,omitempty"`
	SodiumMg          float64           `json:"sodium_mg"`
	SugarG            float64           `json:"sugar_g"`
	NutritionalScore  float64           `json:"nutritional_score"`
	Deficiencies      []string          `json:"deficiencies"`
	Recommendations   []string          `json:"recommendations"`
	PortionAssessment string            `json:"portion_assessment,omitempty"`
	HealthBenefits    []string          `json:"health_benefits,omitempty"`
	Concerns          []string          `json:"concerns,omitempty"`
	Degraded          bool              `json:"degraded,omitempty"`
}

// Record is a stored meal analysis.
type Record struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	MealDescription string    `json:"meal_description"`
	Analysis        Analysis  `json:"analysis"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store persists meal analyses.
type Store interface {
	CreateAnalysis(ctx context.Context, rec *Record) error
	ListAnalysesByUser(ctx context.Context, userID string, limit int) ([]*Record, error)
}

type cacheEntry struct {
	analysis Analysis
	expires  time.Time
}

// Analyzer produces meal analyses via the chat model, caching identical meals
// and capping outbound calls per user.
type Analyzer struct {
	llm      *llmClient
	throttle *userThrottle
	ttl      time.Duration
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// AnalyzerOption customizes Analyzer construction.
type AnalyzerOption func(*Analyzer)

// WithAnalyzerClock overrides the time source, used in tests.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// WithCacheTTL overrides how long identical meals are served from cache.
func WithCacheTTL(ttl time.Duration) AnalyzerOption {
	return func(a *Analyzer) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithQuotaPerHour caps model calls per user per hour.
func WithQuotaPerHour(n int) AnalyzerOption {
	return func(a *Analyzer) {
		a.throttle = newUserThrottle(n)
	}
}

// WithHTTPClient overrides the HTTP client used for model calls.
func WithHTTPClient(c *http.Client) AnalyzerOption {
	return func(a *Analyzer) {
		if c != nil {
			a.llm.httpClient = c
		}
	}
}

// NewAnalyzer builds an Analyzer. An empty apiKey disables the model and
// every analysis degrades to the local fallback.
func NewAnalyzer(apiKey, baseURL, model string, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		llm:      newLLMClient(apiKey, baseURL, model, nil),
		throttle: newUserThrottle(defaultQuotaPerHour),
		ttl:      defaultCacheTTL,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeMeal returns a nutrition analysis for the meal. Cache hits do not
// consume quota; model failures degrade to a marked fallback result.
func (a *Analyzer) AnalyzeMeal(ctx context.Context, userID, meal string) (Analysis, error) {
	meal = strings.TrimSpace(meal)
	if meal == "" {
		return Analysis{}, ErrEmptyMeal
	}

	key := cacheKey(meal)
	if cached, ok := a.fromCache(key); ok {
		return cached, nil
	}

	if !a.throttle.allow(userID) {
		return Analysis{}, ErrQuotaExceeded
	}

	raw, err := a.llm.complete(ctx,
		"You are a professional nutritionist AI assistant.",
		nutritionPrompt(meal), nutritionMaxTokens, nutritionTemperature)
	if err != nil {
		return fallbackAnalysis(), nil
	}

	analysis, ok := parseAnalysis(raw)
	if !ok {
		return fallbackAnalysis(), nil
	}
	a.cacheResult(key, analysis)
	return analysis, nil
}

func nutritionPrompt(meal string) string {
	return fmt.Sprintf(`Analyze the nutritional content of this meal: %q

Provide a comprehensive analysis including estimated calories, macronutrients
(protein, carbohydrates, fats, fiber) in grams, key vitamins and minerals,
sodium and sugar content, a nutritional quality score (1-10), potential
deficiencies, health recommendations, and a portion size assessment.

Format your response as JSON with this structure:
{
    "calories": number,
    "macronutrients": {"protein": number, "carbohydrates": number, "fats": number, "fiber": number},
    "micronutrients": {"vitamin_c": "amount", "iron": "amount", "calcium": "amount"},
    "sodium_mg": number,
    "sugar_g": number,
    "nutritional_score": number,
    "deficiencies": ["list of potential deficiencies"],
    "recommendations": ["list of personalized recommendations"],
    "portion_assessment": "assessment of portion size",
    "health_benefits": ["list of health benefits"],
    "concerns": ["list of health concerns if any"]
}`, meal)
}

func parseAnalysis(raw string) (Analysis, bool) {
	payload, ok := extractJSON(raw)
	if !ok {
		return Analysis{}, false
	}
	var analysis Analysis
	if err := json.Unmarshal([]byte(payload), &analysis); err != nil {
		return Analysis{}, false
	}
	if analysis.NutritionalScore == 0 {
		analysis.NutritionalScore = 5
	}
	if analysis.Recommendations == nil {
		analysis.Recommendations = []string{}
	}
	if analysis.Deficiencies == nil {
		analysis.Deficiencies = []string{}
	}
	return analysis, true
}

func fallbackAnalysis() Analysis {
	return Analysis{
		NutritionalScore: 5,
		Deficiencies:     []string{"Unable to analyze"},
		Recommendations:  []string{"Please try again or consult a nutritionist"},
		Degraded:         true,
	}
}

func cacheKey(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h[:])
}

func (a *Analyzer) fromCache(key string) (Analysis, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok {
		return Analysis{}, false
	}
	if a.now().After(entry.expires) {
		delete(a.cache, key)
		return Analysis{}, false
	}
	return entry.analysis, true
}

func (a *Analyzer) cacheResult(key string, analysis Analysis) {
	a.mu.Lock()
	a.cache[key] = cacheEntry{analysis: analysis, expires: a.now().Add(a.ttl)}
	a.mu.Unlock()
}
