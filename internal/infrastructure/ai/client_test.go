package ai

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

type fakeCredentialSource struct {
	keys map[string]string
}

func (f *fakeCredentialSource) ActiveKeyFor(ctx context.Context, provider string) (string, error) {
	return f.keys[provider], nil
}

type fakeProvider struct {
	name    string
	outcome *GenerationOutcome
	err     error
	calls   int
}

func (f *fakeProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerationOutcome, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func (f *fakeProvider) Name() string                         { return f.name }
func (f *fakeProvider) IsAvailable(ctx context.Context) bool { return true }

func newTestClient(providers map[string]AIProvider) *Client {
	keys := make(map[string]string)
	for name := range providers {
		keys[name] = "test-key-" + name
	}

	c := NewClient(&fakeCredentialSource{keys: keys}, ClientConfig{}, zap.NewNop())
	for name, p := range providers {
		c.providers[name] = p
	}
	return c
}

func TestGenerateUsesPrimary(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", outcome: &GenerationOutcome{
		Success:     true,
		RawResponse: `{"x": 1}`,
		Parsed:      map[string]interface{}{"x": float64(1)},
	}}
	openai := &fakeProvider{name: "openai"}

	c := newTestClient(map[string]AIProvider{"gemini": gemini, "openai": openai})

	outcome, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "")
	require.NoError(t, err)

	assert.Equal(t, "gemini", outcome.Provider)
	assert.Equal(t, float64(1), outcome.Parsed["x"])
	assert.Equal(t, 1, gemini.calls)
	assert.Equal(t, 0, openai.calls, "fallback must not run when the primary succeeds")
}

func TestGenerateFallsBackOnRateLimit(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", err: &ProviderError{
		Provider:  "gemini",
		Code:      ErrorCodeRateLimit,
		Message:   "quota exhausted",
		Retryable: true,
	}}
	openai := &fakeProvider{name: "openai", outcome: &GenerationOutcome{
		Success:     true,
		RawResponse: `{"x": 1}`,
		Parsed:      map[string]interface{}{"x": float64(1)},
	}}

	c := newTestClient(map[string]AIProvider{"gemini": gemini, "openai": openai})

	outcome, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "")
	require.NoError(t, err)

	assert.Equal(t, "openai", outcome.Provider)
	assert.Equal(t, float64(1), outcome.Parsed["x"])
	assert.Equal(t, 1, gemini.calls)
	assert.Equal(t, 1, openai.calls)
}

func TestGeneratePreferInvertsOrder(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", outcome: &GenerationOutcome{Success: true, RawResponse: "a"}}
	openai := &fakeProvider{name: "openai", outcome: &GenerationOutcome{Success: true, RawResponse: "b"}}

	c := newTestClient(map[string]AIProvider{"gemini": gemini, "openai": openai})

	outcome, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "openai")
	require.NoError(t, err)

	assert.Equal(t, "openai", outcome.Provider)
	assert.Equal(t, 0, gemini.calls)
}

func TestGenerateNoFallbackOnInvalidRequest(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", err: &ProviderError{
		Provider: "gemini",
		Code:     ErrorCodeInvalidRequest,
		Message:  "prompt rejected",
	}}
	openai := &fakeProvider{name: "openai", outcome: &GenerationOutcome{Success: true, RawResponse: "b"}}

	c := newTestClient(map[string]AIProvider{"gemini": gemini, "openai": openai})

	_, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "")
	require.Error(t, err)

	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
	assert.Equal(t, 0, openai.calls, "malformed requests must not cascade to the next provider")
}

func TestGenerateAllProvidersFailed(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", err: &ProviderError{
		Provider: "gemini", Code: ErrorCodeServerError, Message: "boom", Retryable: true,
	}}
	openai := &fakeProvider{name: "openai", err: &ProviderError{
		Provider: "openai", Code: ErrorCodeTimeout, Message: "deadline", Retryable: true,
	}}

	c := newTestClient(map[string]AIProvider{"gemini": gemini, "openai": openai})

	_, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "")
	require.Error(t, err)

	assert.Equal(t, apperrors.ErrorTypeAllProvidersFailed, apperrors.GetType(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "gemini")
	assert.Contains(t, err.Error(), "openai")
}

func TestGenerateSkipsProviderWithoutCredential(t *testing.T) {
	openai := &fakeProvider{name: "openai", outcome: &GenerationOutcome{Success: true, RawResponse: "b"}}

	c := NewClient(&fakeCredentialSource{keys: map[string]string{"openai": "k"}}, ClientConfig{}, zap.NewNop())
	c.providers["openai"] = openai

	outcome, err := c.Generate(context.Background(), &GenerateRequest{UserPrompt: "hi"}, "")
	require.NoError(t, err)
	assert.Equal(t, "openai", outcome.Provider)
}

func TestIsAvailable(t *testing.T) {
	c := NewClient(&fakeCredentialSource{keys: map[string]string{}}, ClientConfig{}, zap.NewNop())
	assert.False(t, c.IsAvailable(context.Background()))

	c = NewClient(&fakeCredentialSource{keys: map[string]string{"gemini": "k"}}, ClientConfig{}, zap.NewNop())
	assert.True(t, c.IsAvailable(context.Background()))
}

func TestInvalidateDropsCachedProviders(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", outcome: &GenerationOutcome{Success: true, RawResponse: "a"}}

	c := newTestClient(map[string]AIProvider{"gemini": gemini})
	require.Len(t, c.providers, 1)

	c.Invalidate()
	assert.Empty(t, c.providers)
}

func TestParsePayload(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		parsed := parsePayload(`{"a": 1}`)
		assert.Equal(t, float64(1), parsed["a"])
	})

	t.Run("fenced json", func(t *testing.T) {
		parsed := parsePayload("```json\n{\"a\": 1}\n```")
		assert.Equal(t, float64(1), parsed["a"])
	})

	t.Run("bare fence", func(t *testing.T) {
		parsed := parsePayload("```\n{\"a\": 1}\n```")
		assert.Equal(t, float64(1), parsed["a"])
	})

	t.Run("non-json wraps raw text", func(t *testing.T) {
		parsed := parsePayload("not json at all")
		assert.Equal(t, "not json at all", parsed["raw_text"])
	})
}
