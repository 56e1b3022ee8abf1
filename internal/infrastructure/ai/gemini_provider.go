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
	geminiAPIURLTemplate = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"
)

// GeminiProvider implements AIProvider for Google's Gemini API.
// Gemini is text-completion shaped: the system prompt is concatenated
// ahead of the user prompt in a single content part.
type GeminiProvider struct {
	config  *ProviderConfig
	client  *http.Client
	logger  *zap.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(config *ProviderConfig, logger *zap.Logger) *GeminiProvider {
	rps := float64(config.RateLimitRPM) / 60.0
	if rps <= 0 {
		rps = 1
	}

	return &GeminiProvider{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger:  logger,
		tracer:  otel.Tracer("gemini-provider"),
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable reports whether the provider is configured with a key
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	return p.config.APIKey != ""
}

// Generate performs one completion call
func (p *GeminiProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerationOutcome, error) {
	startTime := time.Now()
	ctx, span := p.tracer.Start(ctx, "gemini.generate", trace.WithAttributes(
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

	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.UserPrompt
	}

	geminiReq := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
		"generationConfig": p.generationConfig(req),
	}

	reqBody, err := json.Marshal(geminiReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	apiURL := fmt.Sprintf(geminiAPIURLTemplate, p.config.Model, p.config.APIKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewReader(reqBody))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		span.RecordError(err)
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "unparseable response body",
		}
	}

	outcome := p.convertResponse(&geminiResp, time.Since(startTime))
	if outcome.RawResponse == "" {
		return nil, &ProviderError{
			Provider: p.Name(),
			Code:     ErrorCodeInvalidResponse,
			Message:  "empty completion",
		}
	}

	span.SetAttributes(attribute.Int("tokens_used", outcome.TotalTokens()))

	p.logger.Debug("Gemini completion successful",
		zap.Int("tokens", outcome.TotalTokens()),
		zap.Duration("duration", outcome.Duration),
		zap.String("model", outcome.Model),
	)

	return outcome, nil
}

func (p *GeminiProvider) generationConfig(req *GenerateRequest) map[string]interface{} {
	genConfig := make(map[string]interface{})

	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	} else if p.config.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = p.config.MaxTokens
	}

	if req.Temperature > 0 {
		genConfig["temperature"] = req.Temperature
	} else if p.config.Temperature > 0 {
		genConfig["temperature"] = p.config.Temperature
	}

	return genConfig
}

func (p *GeminiProvider) convertResponse(resp *geminiResponse, duration time.Duration) *GenerationOutcome {
	outcome := &GenerationOutcome{
		Success:  true,
		Provider: p.Name(),
		Model:    p.config.Model,
		Duration: duration,
	}

	if len(resp.Candidates) > 0 && len(resp.Candidates[0].Content.Parts) > 0 {
		outcome.RawResponse = resp.Candidates[0].Content.Parts[0].Text
	}
	outcome.Parsed = parsePayload(outcome.RawResponse)

	if resp.UsageMetadata != nil {
		outcome.Usage = TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	return outcome
}

func (p *GeminiProvider) transportError(err error) error {
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
func (p *GeminiProvider) handleHTTPError(statusCode int, body []byte) error {
	var errorResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
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

	p.logger.Error("Gemini API error",
		zap.Int("status_code", statusCode),
		zap.String("error_status", errorResp.Error.Status),
		zap.String("error_message", errorResp.Error.Message),
	)

	return provErr
}

// Gemini API response structures
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
			Role string `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata,omitempty"`
}
