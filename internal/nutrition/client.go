package nutrition

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrQuotaExceeded reports that a user exhausted the hourly analysis quota.
var ErrQuotaExceeded = errors.New("nutrition: hourly analysis quota exhausted")

// errModelUnavailable is internal: callers degrade to a fallback result.
var errModelUnavailable = errors.New("nutrition: model unavailable")

// llmClient talks to an OpenAI-compatible chat completions endpoint.
type llmClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func newLLMClient(apiKey, baseURL, model string, httpClient *http.Client) *llmClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = "gpt-3.5-turbo"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &llmClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends one system+user exchange and returns the raw assistant text.
func (c *llmClient) complete(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, error) {
	if c == nil || c.apiKey == "" {
		return "", errModelUnavailable
	}
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errModelUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", errModelUnavailable, resp.StatusCode)
	}
	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: %v", errModelUnavailable, err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion", errModelUnavailable)
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON trims any prose around the first JSON object in a completion.
func extractJSON(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// userThrottle caps outbound model calls per user per hour.
type userThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perHour  int
}

func newUserThrottle(perHour int) *userThrottle {
	if perHour < 1 {
		perHour = 1
	}
	return &userThrottle{
		limiters: make(map[string]*rate.Limiter),
		perHour:  perHour,
	}
}

// allow consumes one slot for the user, refilling at perHour per hour.
func (t *userThrottle) allow(userID string) bool {
	t.mu.Lock()
	lim, ok := t.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Hour/time.Duration(t.perHour)), t.perHour)
		t.limiters[userID] = lim
	}
	t.mu.Unlock()
	return lim.Allow()
}
