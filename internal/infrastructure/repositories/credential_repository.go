package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// CredentialRepository handles encrypted provider credential persistence
type CredentialRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewCredentialRepository creates a new credential repository
func NewCredentialRepository(db *sqlx.DB, logger *zap.Logger) *CredentialRepository {
	return &CredentialRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("credential-repository"),
	}
}

// Create inserts a new encrypted credential
func (r *CredentialRepository) Create(ctx context.Context, cred *entities.ProviderCredential) error {
	ctx, span := r.tracer.Start(ctx, "credential_repo.create", trace.WithAttributes(
		attribute.String("provider", cred.Provider),
	))
	defer span.End()

	query := `
		INSERT INTO ai_provider_credentials (id, provider, encrypted_key, preview, label, active, usage_count, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.Provider,
		cred.EncryptedKey,
		cred.Preview,
		cred.Label,
		cred.Active,
		cred.UsageCount,
		cred.CreatedBy,
		cred.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create credential: %w", err)
	}

	r.logger.Info("Provider credential created",
		zap.String("credential_id", cred.ID.String()),
		zap.String("provider", cred.Provider),
	)

	return nil
}

// GetByID retrieves one credential
func (r *CredentialRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.ProviderCredential, error) {
	ctx, span := r.tracer.Start(ctx, "credential_repo.get", trace.WithAttributes(
		attribute.String("credential_id", id.String()),
	))
	defer span.End()

	query := `
		SELECT id, provider, encrypted_key, preview, label, active, usage_count, last_used_at, created_by, created_at
		FROM ai_provider_credentials
		WHERE id = $1
	`

	var cred entities.ProviderCredential
	err := r.db.GetContext(ctx, &cred, query, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("credential %s", id))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// List returns credentials, optionally filtered by provider and active state
func (r *CredentialRepository) List(ctx context.Context, provider string, activeOnly bool) ([]*entities.ProviderCredential, error) {
	ctx, span := r.tracer.Start(ctx, "credential_repo.list", trace.WithAttributes(
		attribute.String("provider", provider),
		attribute.Bool("active_only", activeOnly),
	))
	defer span.End()

	query := `
		SELECT id, provider, encrypted_key, preview, label, active, usage_count, last_used_at, created_by, created_at
		FROM ai_provider_credentials
		WHERE 1=1
	`

	args := []interface{}{}
	argIndex := 1

	if provider != "" {
		query += fmt.Sprintf(" AND provider = $%d", argIndex)
		args = append(args, provider)
		argIndex++
	}
	if activeOnly {
		query += " AND active = true"
	}

	query += " ORDER BY created_at DESC"

	var creds []*entities.ProviderCredential
	if err := r.db.SelectContext(ctx, &creds, query, args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	return creds, nil
}

// Update rewrites a credential's mutable fields
func (r *CredentialRepository) Update(ctx context.Context, cred *entities.ProviderCredential) error {
	ctx, span := r.tracer.Start(ctx, "credential_repo.update", trace.WithAttributes(
		attribute.String("credential_id", cred.ID.String()),
	))
	defer span.End()

	query := `
		UPDATE ai_provider_credentials
		SET encrypted_key = $1, preview = $2, label = $3, active = $4
		WHERE id = $5
	`

	result, err := r.db.ExecContext(ctx, query,
		cred.EncryptedKey,
		cred.Preview,
		cred.Label,
		cred.Active,
		cred.ID,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound(fmt.Sprintf("credential %s", cred.ID))
	}

	r.logger.Info("Provider credential updated",
		zap.String("credential_id", cred.ID.String()),
		zap.Bool("active", cred.Active),
	)

	return nil
}

// Delete removes a credential permanently
func (r *CredentialRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "credential_repo.delete", trace.WithAttributes(
		attribute.String("credential_id", id.String()),
	))
	defer span.End()

	result, err := r.db.ExecContext(ctx, `DELETE FROM ai_provider_credentials WHERE id = $1`, id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound(fmt.Sprintf("credential %s", id))
	}

	r.logger.Info("Provider credential deleted",
		zap.String("credential_id", id.String()),
	)

	return nil
}

// GetActiveByProvider returns the newest active credential for a provider,
// or nil when none is configured.
func (r *CredentialRepository) GetActiveByProvider(ctx context.Context, provider string) (*entities.ProviderCredential, error) {
	ctx, span := r.tracer.Start(ctx, "credential_repo.get_active", trace.WithAttributes(
		attribute.String("provider", provider),
	))
	defer span.End()

	query := `
		SELECT id, provider, encrypted_key, preview, label, active, usage_count, last_used_at, created_by, created_at
		FROM ai_provider_credentials
		WHERE provider = $1 AND active = true
		ORDER BY created_at DESC
		LIMIT 1
	`

	var cred entities.ProviderCredential
	err := r.db.GetContext(ctx, &cred, query, provider)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get active credential: %w", err)
	}

	return &cred, nil
}

// IncrementUsage bumps the usage counter and stamps last_used_at
func (r *CredentialRepository) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "credential_repo.increment_usage")
	defer span.End()

	query := `
		UPDATE ai_provider_credentials
		SET usage_count = usage_count + 1, last_used_at = NOW()
		WHERE id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to increment credential usage: %w", err)
	}

	return nil
}
