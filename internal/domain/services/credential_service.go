package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/repositories"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/ai"
	"github.com/chrono-hq/chrono_service/pkg/crypto"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// ClientInvalidator lets credential mutations flush the AI client's cached
// providers so the next generation call re-reads the store.
type ClientInvalidator interface {
	Invalidate()
}

// CredentialService is the provider registry: it owns credential CRUD,
// plaintext retrieval for generation calls, and liveness probing. Key
// material is encrypted through the vault before it ever reaches storage.
type CredentialService struct {
	repo     repositories.CredentialRepository
	vault    *crypto.KeyVault
	clients  []ClientInvalidator
	probeCfg ProbeConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// ProbeConfig holds the per-provider models used by liveness tests
type ProbeConfig struct {
	GeminiModel    string
	OpenAIModel    string
	AnthropicModel string
	Timeout        time.Duration
}

// NewCredentialService creates the provider registry
func NewCredentialService(
	repo repositories.CredentialRepository,
	vault *crypto.KeyVault,
	probeCfg ProbeConfig,
	logger *zap.Logger,
) *CredentialService {
	return &CredentialService{
		repo:     repo,
		vault:    vault,
		probeCfg: probeCfg,
		logger:   logger,
		tracer:   otel.Tracer("credential-service"),
	}
}

// RegisterInvalidator wires an AI client to be flushed on credential changes
func (s *CredentialService) RegisterInvalidator(inv ClientInvalidator) {
	s.clients = append(s.clients, inv)
}

// ActiveKeyFor returns the plaintext key of the most recently created
// active credential for a provider, bumping its usage counter. An empty
// key with nil error means no credential is configured.
func (s *CredentialService) ActiveKeyFor(ctx context.Context, provider string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "credential_service.active_key_for", trace.WithAttributes(
		attribute.String("provider", provider),
	))
	defer span.End()

	cred, err := s.repo.GetActiveByProvider(ctx, provider)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if cred == nil {
		return "", nil
	}

	plaintext, err := s.vault.Decrypt(cred.EncryptedKey)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("Failed to decrypt stored credential",
			zap.String("credential_id", cred.ID.String()),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return "", err
	}

	// Usage accounting is best effort; a failed bump must not block the call
	if err := s.repo.IncrementUsage(ctx, cred.ID); err != nil {
		s.logger.Warn("Failed to increment credential usage",
			zap.String("credential_id", cred.ID.String()),
			zap.Error(err),
		)
	}

	return plaintext, nil
}

// Create validates, encrypts and stores a new credential
func (s *CredentialService) Create(ctx context.Context, provider, plaintext, label string, createdBy uuid.UUID) (*entities.ProviderCredential, error) {
	ctx, span := s.tracer.Start(ctx, "credential_service.create", trace.WithAttributes(
		attribute.String("provider", provider),
	))
	defer span.End()

	if !isKnownProvider(provider) {
		return nil, apperrors.BadInput(fmt.Sprintf("unknown provider %q", provider))
	}
	if ok, reason := crypto.ValidateKeyFormat(provider, plaintext); !ok {
		return nil, apperrors.BadInput(reason)
	}

	blob, err := s.vault.Encrypt(plaintext)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	cred := &entities.ProviderCredential{
		ID:           uuid.New(),
		Provider:     provider,
		EncryptedKey: blob,
		Preview:      crypto.Preview(plaintext),
		Label:        label,
		Active:       true,
		CreatedBy:    createdBy,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, cred); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.invalidateClients()

	return scrubbed(cred), nil
}

// Get returns one credential's metadata without key material
func (s *CredentialService) Get(ctx context.Context, id uuid.UUID) (*entities.ProviderCredential, error) {
	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return scrubbed(cred), nil
}

// List returns credential metadata without key material
func (s *CredentialService) List(ctx context.Context, provider string, activeOnly bool) ([]*entities.ProviderCredential, error) {
	creds, err := s.repo.List(ctx, provider, activeOnly)
	if err != nil {
		return nil, err
	}

	out := make([]*entities.ProviderCredential, 0, len(creds))
	for _, cred := range creds {
		out = append(out, scrubbed(cred))
	}
	return out, nil
}

// UpdateInput carries the mutable credential fields. A nil field leaves
// the stored value unchanged; a non-empty Key rotates the stored secret.
type UpdateInput struct {
	Label  *string
	Active *bool
	Key    string
}

// Update mutates label, active flag, or rotates the key
func (s *CredentialService) Update(ctx context.Context, id uuid.UUID, input UpdateInput) (*entities.ProviderCredential, error) {
	ctx, span := s.tracer.Start(ctx, "credential_service.update", trace.WithAttributes(
		attribute.String("credential_id", id.String()),
	))
	defer span.End()

	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Label != nil {
		cred.Label = *input.Label
	}
	if input.Active != nil {
		cred.Active = *input.Active
	}
	if input.Key != "" {
		if ok, reason := crypto.ValidateKeyFormat(cred.Provider, input.Key); !ok {
			return nil, apperrors.BadInput(reason)
		}
		blob, err := s.vault.Encrypt(input.Key)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		cred.EncryptedKey = blob
		cred.Preview = crypto.Preview(input.Key)
	}

	if err := s.repo.Update(ctx, cred); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.invalidateClients()

	return scrubbed(cred), nil
}

// Delete removes a credential permanently
func (s *CredentialService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.invalidateClients()
	return nil
}

// Test performs a provider liveness probe with the stored key: one minimal
// generation call, reporting success and round-trip latency.
func (s *CredentialService) Test(ctx context.Context, id uuid.UUID) (*entities.CredentialTestResult, error) {
	ctx, span := s.tracer.Start(ctx, "credential_service.test", trace.WithAttributes(
		attribute.String("credential_id", id.String()),
	))
	defer span.End()

	cred, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.vault.Decrypt(cred.EncryptedKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	provider, err := s.probeProvider(cred.Provider, plaintext)
	if err != nil {
		return &entities.CredentialTestResult{
			Success:  false,
			Provider: cred.Provider,
			Message:  err.Error(),
		}, nil
	}

	start := time.Now()
	outcome, err := provider.Generate(ctx, &ai.GenerateRequest{
		UserPrompt: "Reply with the single word: ok",
		MaxTokens:  8,
	})
	latency := time.Since(start).Milliseconds()

	if err != nil {
		s.logger.Warn("Credential liveness probe failed",
			zap.String("credential_id", id.String()),
			zap.String("provider", cred.Provider),
			zap.Error(err),
		)
		return &entities.CredentialTestResult{
			Success:   false,
			Provider:  cred.Provider,
			Message:   err.Error(),
			LatencyMs: latency,
		}, nil
	}

	return &entities.CredentialTestResult{
		Success:        true,
		Provider:       cred.Provider,
		Message:        "credential verified",
		LatencyMs:      latency,
		ModelAvailable: outcome.Model != "",
	}, nil
}

func (s *CredentialService) probeProvider(name, key string) (ai.AIProvider, error) {
	timeout := s.probeCfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	switch name {
	case entities.ProviderGemini:
		return ai.NewGeminiProvider(&ai.ProviderConfig{
			APIKey: key, Model: s.probeCfg.GeminiModel, Timeout: timeout, RateLimitRPM: 60,
		}, s.logger), nil
	case entities.ProviderOpenAI:
		return ai.NewOpenAIProvider(&ai.ProviderConfig{
			APIKey: key, Model: s.probeCfg.OpenAIModel, Timeout: timeout, RateLimitRPM: 60,
		}, s.logger), nil
	case entities.ProviderAnthropic:
		return ai.NewAnthropicProvider(&ai.ProviderConfig{
			APIKey: key, Model: s.probeCfg.AnthropicModel, Timeout: timeout,
		}, s.logger), nil
	default:
		return nil, apperrors.BadInput(fmt.Sprintf("liveness probe not supported for provider %q", name))
	}
}

func (s *CredentialService) invalidateClients() {
	for _, inv := range s.clients {
		inv.Invalidate()
	}
}

func isKnownProvider(provider string) bool {
	for _, p := range entities.KnownProviders {
		if p == provider {
			return true
		}
	}
	return false
}

// scrubbed strips key material before a credential leaves the service
func scrubbed(cred *entities.ProviderCredential) *entities.ProviderCredential {
	clone := *cred
	clone.EncryptedKey = ""
	return &clone
}
