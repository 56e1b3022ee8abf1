package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

// AnthropicProvider implements AIProvider for Anthropic's messages API
type AnthropicProvider struct {
	config *ProviderConfig
	client *http.Client
	logger *zap.Logger
	tracer trace.Tracer
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config *ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	return &AnthropicProvider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger,
		tracer: otel.Tracer("anthropic-provider"),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable reports whether the provider is configured with a key
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Generate performs one messages call
func (p *AnthropicProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerationOutcome, error) {
	startTime := time.Now()
	ctx, span := p.tracer.Start(ctx, "anthropic.generate")
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.config.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 1024
	}

	anthropicReq := map[string]interface{}{
		"model":      p.config.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": req.UserPrompt},
		},
	}
	if req.SystemPrompt != "" {
		anthropicReq["system"] = req.SystemPrompt
	}
	if req.Temperature > 0 {
		anthropicReq["temperature"] = req.Temperature
	} else if p.config.Temperature > 0 {
		anthropicReq["temperature"] = p.config.Temperature
	}

	reqBody, err := json.Marshal(anthropicReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", anthropicAPIURL, bytes.NewReader(reqBody))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.config.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		code := ErrorCodeUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			code = ErrorCodeTimeout
		}
		return nil, &ProviderError{Provider: p.Name(), Code: code, Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, p.handleHTTPError(resp.StatusCode, body)
	}

	var anthropicResp anthropicResponse
	if err := json.Unmarshal(body, &anthropicResp); err != nil {
		span.RecordError(err)
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "unparseable response body",
		}
	}

	outcome := &GenerationOutcome{
		Success:  true,
		Provider: p.Name(),
		Model:    anthropicResp.Model,
		Duration: time.Since(startTime),
		Usage: TokenUsage{
			PromptTokens:     anthropicResp.Usage.InputTokens,
			CompletionTokens: anthropicResp.Usage.OutputTokens,
		},
	}
	if outcome.Model == "" {
		outcome.Model = p.config.Model
	}
	if len(anthropicResp.Content) > 0 {
		outcome.RawResponse = anthropicResp.Content[0].Text
	}
	if outcome.RawResponse == "" {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "empty completion",
		}
	}
	outcome.Parsed = parsePayload(outcome.RawResponse)

	return outcome, nil
}

func (p *AnthropicProvider) handleHTTPError(statusCode int, body []byte) error {
	var errorResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	_ = json.Unmarshal(body, &errorResp)

	provErr := &ProviderError{
		Provider:  p.Name(),
		Message:   errorResp.Error.Message,
		Retryable: false,
	}

	switch statusCode {
	case http.StatusTooManyRequests:
		provErr.Code = ErrorCodeRateLimit
		provErr.Retryable = true
	case http.StatusUnauthorized, http.StatusForbidden:
		provErr.Code = ErrorCodeAuthentication
	case http.StatusBadRequest:
		provErr.Code = ErrorCodeInvalidRequest
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		provErr.Code = ErrorCodeServerError
		provErr.Retryable = true
	default:
		provErr.Code = ErrorCodeUnavailable
	}

	p.logger.Error("Anthropic API error",
		zap.Int("status_code", statusCode),
		zap.String("error_type", errorResp.Error.Type),
		zap.String("error_message", errorResp.Error.Message),
	)

	return provErr
}

// Anthropic API response structures
type anthropicResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
