package ai

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// AIProvider is the uniform capability set every completion provider
// (Gemini, OpenAI, Anthropic, ...) exposes to the orchestrator.
type AIProvider interface {
	// Generate performs one completion call
	Generate(ctx context.Context, req *GenerateRequest) (*GenerationOutcome, error)

	// Name returns the provider name (e.g., "openai", "gemini")
	Name() string

	// IsAvailable checks if the provider is currently usable
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest carries one generation call's prompts and parameters.
// Zero Temperature/MaxTokens fall back to the provider defaults.
type GenerateRequest struct {
	SystemPrompt string  `json:"system_prompt,omitempty"`
	UserPrompt   string  `json:"user_prompt"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// TokenUsage reports prompt/completion token counts when the provider
// returns them.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// GenerationOutcome is the normalized result of a provider call. Parsed
// holds the JSON-decoded response text when the model returned JSON, or
// {"raw_text": ...} when it did not.
type GenerationOutcome struct {
	Success     bool                   `json:"success"`
	Provider    string                 `json:"provider"`
	Model       string                 `json:"model"`
	Parsed      map[string]interface{} `json:"parsed"`
	RawResponse string                 `json:"raw_response"`
	Usage       TokenUsage             `json:"usage"`
	Duration    time.Duration          `json:"duration"`
}

// TotalTokens returns the combined token count for ledger accounting
func (o *GenerationOutcome) TotalTokens() int {
	return o.Usage.PromptTokens + o.Usage.CompletionTokens
}

// ProviderConfig holds per-provider generation defaults
type ProviderConfig struct {
	APIKey       string
	Model        string
	MaxTokens    int
	Temperature  float64
	Timeout      time.Duration
	RateLimitRPM int
}

// ProviderError represents a typed failure from one provider attempt
type ProviderError struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Message
}

// Common error codes
const (
	ErrorCodeRateLimit       = "rate_limit"
	ErrorCodeInvalidRequest  = "invalid_request"
	ErrorCodeAuthentication  = "authentication"
	ErrorCodeServerError     = "server_error"
	ErrorCodeTimeout         = "timeout"
	ErrorCodeUnavailable     = "unavailable"
	ErrorCodeInvalidResponse = "invalid_response"
)

// parsePayload decodes the model's text as JSON, tolerating markdown code
// fences. Non-JSON text is wrapped rather than rejected.
func parsePayload(raw string) map[string]interface{} {
	text := strings.TrimSpace(raw)
	if fenced := strings.TrimPrefix(text, "```json"); fenced != text {
		text = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	} else if fenced := strings.TrimPrefix(text, "```"); fenced != text {
		text = strings.TrimSuffix(strings.TrimSpace(fenced), "```")
	}
	text = strings.TrimSpace(text)

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return map[string]interface{}{"raw_text": raw}
}
