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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	openAIAPIURL = "https://api.openai.com/v1/chat/completions"
)

// OpenAIProvider implements AIProvider for OpenAI's chat completion API.
// Every call is bounded by the configured per-call timeout.
type OpenAIProvider struct {
	config  *ProviderConfig
	client  *http.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config *ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	rps := float64(config.RateLimitRPM) / 60.0
	if rps <= 0 {
		rps = 1
	}

	return &OpenAIProvider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		tracer:  otel.Tracer("openai-provider"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// IsAvailable reports whether the provider is configured with a key
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Generate performs one chat completion call
func (p *OpenAIProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerationOutcome, error) {
	startTime := time.Now()
	ctx, span := p.tracer.Start(ctx, "openai.generate", trace.WithAttributes(
		attribute.String("model", p.config.Model),
	))
	defer span.End()

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, &ProviderError{
			Provider:  p.Name(),
			Code:      ErrorCodeRateLimit,
			Message:   "local rate limit exceeded",
			Retryable: true,
		}
	}

	// Explicit per-call deadline on top of the client timeout
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	messages := make([]map[string]string, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.UserPrompt})

	openAIReq := map[string]interface{}{
		"model":    p.config.Model,
		"messages": messages,
	}

	if req.MaxTokens > 0 {
		openAIReq["max_tokens"] = req.MaxTokens
	} else if p.config.MaxTokens > 0 {
		openAIReq["max_tokens"] = p.config.MaxTokens
	}

	if req.Temperature > 0 {
		openAIReq["temperature"] = req.Temperature
	} else if p.config.Temperature > 0 {
		openAIReq["temperature"] = p.config.Temperature
	}

	reqBody, err := json.Marshal(openAIReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", openAIAPIURL, bytes.NewReader(reqBody))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, p.transportError(err)
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

	var openAIResp openAIResponse
	if err := json.Unmarshal(body, &openAIResp); err != nil {
		span.RecordError(err)
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "unparseable response body",
		}
	}

	outcome := p.convertResponse(&openAIResp, time.Since(startTime))
	if outcome.RawResponse == "" {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "empty completion",
		}
	}

	span.SetAttributes(attribute.Int("tokens_used", outcome.TotalTokens()))

	p.logger.Debug("OpenAI completion successful",
		zap.Int("tokens", outcome.TotalTokens()),
		zap.Duration("duration", outcome.Duration),
		zap.String("model", outcome.Model),
	)

	return outcome, nil
}

func (p *OpenAIProvider) convertResponse(resp *openAIResponse, duration time.Duration) *GenerationOutcome {
	outcome := &GenerationOutcome{
		Success:  true,
		Provider: p.Name(),
		Model:    resp.Model,
		Duration: duration,
		Usage: TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if outcome.Model == "" {
		outcome.Model = p.config.Model
	}

	if len(resp.Choices) > 0 {
		outcome.RawResponse = resp.Choices[0].Message.Content
	}
	outcome.Parsed = parsePayload(outcome.RawResponse)

	return outcome
}

func (p *OpenAIProvider) transportError(err error) error {
	code := ErrorCodeUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		code = ErrorCodeTimeout
	}
	return &ProviderError{
		Provider:  p.Name(),
		Code:      code,
		Message:   err.Error(),
		Retryable: true,
	}
}

// handleHTTPError converts HTTP error responses to ProviderError
func (p *OpenAIProvider) handleHTTPError(statusCode int, body []byte) error {
	var errorResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
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

	p.logger.Error("OpenAI API error",
		zap.Int("status_code", statusCode),
		zap.String("error_type", errorResp.Error.Type),
		zap.String("error_message", errorResp.Error.Message),
	)

	return provErr
}

// OpenAI API response structures
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
