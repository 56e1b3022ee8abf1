package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// CredentialSource supplies the active plaintext API key for a provider.
// An empty key with nil error means no credential is configured.
type CredentialSource interface {
	ActiveKeyFor(ctx context.Context, provider string) (string, error)
}

// ClientConfig holds generation defaults for every provider variant
type ClientConfig struct {
	GeminiModel       string
	GeminiTemperature float64
	GeminiMaxTokens   int
	OpenAIModel       string
	OpenAITimeout     time.Duration
	AnthropicModel    string
	DefaultTimeout    time.Duration
	RateLimitRPM      int
}

// defaultOrder is the provider chain tried for a generation call
var defaultOrder = []string{"gemini", "openai"}

// Client fronts the provider chain with ordered fallback. Attempts are
// strictly sequential so the primary is used whenever it can serve.
// Providers are built lazily from the credential source and rebuilt after
// Invalidate (admin credential mutations).
type Client struct {
	creds  CredentialSource
	config ClientConfig
	logger *zap.Logger
	tracer trace.Tracer

	mu        sync.Mutex
	providers map[string]AIProvider
	breakers  map[string]*gobreaker.CircuitBreaker
}

// NewClient creates the fallback orchestrator
func NewClient(creds CredentialSource, config ClientConfig, logger *zap.Logger) *Client {
	return &Client{
		creds:     creds,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("ai-client"),
		providers: make(map[string]AIProvider),
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Generate runs one completion through the provider chain. prefer may name
// a provider to move to the front of the chain ("openai" inverts the
// default [gemini, openai] order).
func (c *Client) Generate(ctx context.Context, req *GenerateRequest, prefer string) (*GenerationOutcome, error) {
	ctx, span := c.tracer.Start(ctx, "ai_client.generate", trace.WithAttributes(
		attribute.String("prefer", prefer),
	))
	defer span.End()

	order := c.providerOrder(prefer)

	var causes []string
	for _, name := range order {
		provider, err := c.provider(ctx, name)
		if err != nil {
			causes = append(causes, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		if provider == nil {
			causes = append(causes, fmt.Sprintf("%s: no active credential", name))
			continue
		}

		outcome, err := c.attempt(ctx, name, provider, req)
		if err == nil {
			outcome.Provider = name
			span.SetAttributes(attribute.String("provider_used", name))
			return outcome, nil
		}

		causes = append(causes, fmt.Sprintf("%s: %v", name, err))

		if !shouldFallback(err) {
			c.logger.Warn("Provider failed without fallback",
				zap.String("provider", name),
				zap.Error(err),
			)
			return nil, classify(err)
		}

		c.logger.Warn("Provider failed, trying next",
			zap.String("provider", name),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.Bool("all_providers_failed", true))
	c.logger.Error("All AI providers failed",
		zap.Int("providers_tried", len(order)),
		zap.Strings("causes", causes),
	)

	failed := apperrors.New(apperrors.ErrorTypeAllProvidersFailed, "ALL_PROVIDERS_FAILED",
		"all AI providers failed: "+strings.Join(causes, "; "))
	failed.Retryable = true
	return nil, failed
}

// IsAvailable reports whether at least one provider in the chain has an
// active credential. No provider traffic is issued.
func (c *Client) IsAvailable(ctx context.Context) bool {
	for _, name := range defaultOrder {
		key, err := c.creds.ActiveKeyFor(ctx, name)
		if err == nil && key != "" {
			return true
		}
	}
	return false
}

// Invalidate drops cached providers so the next call re-reads credentials
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = make(map[string]AIProvider)
}

func (c *Client) providerOrder(prefer string) []string {
	order := make([]string, len(defaultOrder))
	copy(order, defaultOrder)

	for i, name := range order {
		if name == prefer && i > 0 {
			order[0], order[i] = order[i], order[0]
			break
		}
	}
	return order
}

func (c *Client) attempt(ctx context.Context, name string, provider AIProvider, req *GenerateRequest) (*GenerationOutcome, error) {
	breaker := c.breaker(name)

	result, err := breaker.Execute(func() (interface{}, error) {
		return provider.Generate(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, &ProviderError{
				Provider:  name,
				Code:      ErrorCodeUnavailable,
				Message:   "circuit breaker open",
				Retryable: true,
			}
		}
		return nil, err
	}

	return result.(*GenerationOutcome), nil
}

// provider lazily builds the named provider from the current credential.
// Returns (nil, nil) when no active credential exists.
func (c *Client) provider(ctx context.Context, name string) (AIProvider, error) {
	c.mu.Lock()
	if p, ok := c.providers[name]; ok {
		c.mu.Unlock()
		return p, nil
	}
	c.mu.Unlock()

	key, err := c.creds.ActiveKeyFor(ctx, name)
	if err != nil {
		return nil, err
	}
	if key == "" {
		return nil, nil
	}

	provider, err := c.build(name, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.providers[name] = provider
	c.mu.Unlock()

	return provider, nil
}

func (c *Client) build(name, key string) (AIProvider, error) {
	timeout := c.config.DefaultTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	switch name {
	case "gemini":
		return NewGeminiProvider(&ProviderConfig{
			APIKey:       key,
			Model:        c.config.GeminiModel,
			Temperature:  c.config.GeminiTemperature,
			MaxTokens:    c.config.GeminiMaxTokens,
			Timeout:      timeout,
			RateLimitRPM: c.config.RateLimitRPM,
		}, c.logger), nil
	case "openai":
		openAITimeout := c.config.OpenAITimeout
		if openAITimeout == 0 {
			openAITimeout = timeout
		}
		return NewOpenAIProvider(&ProviderConfig{
			APIKey:       key,
			Model:        c.config.OpenAIModel,
			Timeout:      openAITimeout,
			RateLimitRPM: c.config.RateLimitRPM,
		}, c.logger), nil
	case "anthropic":
		return NewAnthropicProvider(&ProviderConfig{
			APIKey:  key,
			Model:   c.config.AnthropicModel,
			Timeout: timeout,
		}, c.logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func (c *Client) breaker(name string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b, ok := c.breakers[name]; ok {
		return b
	}

	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai-provider-" + name,
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[name] = b
	return b
}

// shouldFallback reports whether a provider failure moves to the next
// provider in the chain. Malformed requests and responses surface
// immediately; quota, transport, auth, server and timeout failures fall
// through.
func shouldFallback(err error) bool {
	provErr, ok := err.(*ProviderError)
	if !ok {
		return true
	}
	switch provErr.Code {
	case ErrorCodeInvalidRequest, ErrorCodeInvalidResponse:
		return false
	default:
		return true
	}
}

// classify maps a provider error to the application error surface
func classify(err error) error {
	provErr, ok := err.(*ProviderError)
	if !ok {
		return apperrors.Wrap(apperrors.ErrProviderUnavailable, err)
	}
	switch provErr.Code {
	case ErrorCodeRateLimit:
		return apperrors.Wrap(apperrors.ErrRateLimit, provErr)
	case ErrorCodeTimeout:
		return apperrors.Wrap(apperrors.ErrTimeout, provErr)
	case ErrorCodeInvalidResponse:
		return apperrors.Wrap(apperrors.ErrInvalidResponse, provErr)
	case ErrorCodeInvalidRequest:
		return apperrors.Wrap(apperrors.ErrBadInput, provErr)
	default:
		return apperrors.Wrap(apperrors.ErrProviderUnavailable, provErr)
	}
}
