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

// FeatureRepository handles feature setting and user preference persistence
type FeatureRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewFeatureRepository creates a new feature repository
func NewFeatureRepository(db *sqlx.DB, logger *zap.Logger) *FeatureRepository {
	return &FeatureRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("feature-repository"),
	}
}

// GetSetting retrieves the global setting for one feature
func (r *FeatureRepository) GetSetting(ctx context.Context, featureID string) (*entities.FeatureSetting, error) {
	ctx, span := r.tracer.Start(ctx, "feature_repo.get_setting", trace.WithAttributes(
		attribute.String("feature_id", featureID),
	))
	defer span.End()

	query := `
		SELECT feature_id, display_name, description, enabled, requires_credential, provider_hint, config, updated_by, updated_at
		FROM ai_feature_settings
		WHERE feature_id = $1
	`

	var setting entities.FeatureSetting
	err := r.db.GetContext(ctx, &setting, query, featureID)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("feature %s", featureID))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get feature setting: %w", err)
	}

	return &setting, nil
}

// ListSettings returns every feature's global setting
func (r *FeatureRepository) ListSettings(ctx context.Context) ([]*entities.FeatureSetting, error) {
	ctx, span := r.tracer.Start(ctx, "feature_repo.list_settings")
	defer span.End()

	query := `
		SELECT feature_id, display_name, description, enabled, requires_credential, provider_hint, config, updated_by, updated_at
		FROM ai_feature_settings
		ORDER BY feature_id
	`

	var settings []*entities.FeatureSetting
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list feature settings: %w", err)
	}

	return settings, nil
}

// UpdateSetting flips the global switch for one feature
func (r *FeatureRepository) UpdateSetting(ctx context.Context, featureID string, enabled bool, updatedBy uuid.UUID) error {
	ctx, span := r.tracer.Start(ctx, "feature_repo.update_setting", trace.WithAttributes(
		attribute.String("feature_id", featureID),
		attribute.Bool("enabled", enabled),
	))
	defer span.End()

	query := `
		UPDATE ai_feature_settings
		SET enabled = $1, updated_by = $2, updated_at = NOW()
		WHERE feature_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, enabled, updatedBy, featureID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to update feature setting: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound(fmt.Sprintf("feature %s", featureID))
	}

	r.logger.Info("Feature setting updated",
		zap.String("feature_id", featureID),
		zap.Bool("enabled", enabled),
		zap.String("updated_by", updatedBy.String()),
	)

	return nil
}

// GetPreference retrieves one user's preference for a feature, or nil when
// the user never set one.
func (r *FeatureRepository) GetPreference(ctx context.Context, userID uuid.UUID, featureID string) (*entities.UserFeaturePreference, error) {
	ctx, span := r.tracer.Start(ctx, "feature_repo.get_preference", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("feature_id", featureID),
	))
	defer span.End()

	query := `
		SELECT user_id, feature_id, enabled, admin_override, override_by, prior_enabled, updated_at
		FROM ai_user_feature_preferences
		WHERE user_id = $1 AND feature_id = $2
	`

	var pref entities.UserFeaturePreference
	err := r.db.GetContext(ctx, &pref, query, userID, featureID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get feature preference: %w", err)
	}

	return &pref, nil
}

// ListPreferences returns every preference a user has set
func (r *FeatureRepository) ListPreferences(ctx context.Context, userID uuid.UUID) ([]*entities.UserFeaturePreference, error) {
	ctx, span := r.tracer.Start(ctx, "feature_repo.list_preferences", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	query := `
		SELECT user_id, feature_id, enabled, admin_override, override_by, prior_enabled, updated_at
		FROM ai_user_feature_preferences
		WHERE user_id = $1
		ORDER BY feature_id
	`

	var prefs []*entities.UserFeaturePreference
	if err := r.db.SelectContext(ctx, &prefs, query, userID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list feature preferences: %w", err)
	}

	return prefs, nil
}

// UpsertPreference writes a user's preference, replacing any prior row
func (r *FeatureRepository) UpsertPreference(ctx context.Context, pref *entities.UserFeaturePreference) error {
	ctx, span := r.tracer.Start(ctx, "feature_repo.upsert_preference", trace.WithAttributes(
		attribute.String("user_id", pref.UserID.String()),
		attribute.String("feature_id", pref.FeatureID),
	))
	defer span.End()

	query := `
		INSERT INTO ai_user_feature_preferences (user_id, feature_id, enabled, admin_override, override_by, prior_enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (user_id, feature_id)
		DO UPDATE SET enabled = $3, admin_override = $4, override_by = $5, prior_enabled = $6, updated_at = NOW()
	`

	if _, err := r.db.ExecContext(ctx, query,
		pref.UserID,
		pref.FeatureID,
		pref.Enabled,
		pref.AdminOverride,
		pref.OverrideBy,
		pref.PriorEnabled,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert feature preference: %w", err)
	}

	r.logger.Debug("Feature preference upserted",
		zap.String("user_id", pref.UserID.String()),
		zap.String("feature_id", pref.FeatureID),
		zap.Bool("enabled", pref.Enabled),
		zap.Bool("admin_override", pref.AdminOverride),
	)

	return nil
}

// DeletePreference removes a user's preference row entirely
func (r *FeatureRepository) DeletePreference(ctx context.Context, userID uuid.UUID, featureID string) error {
	ctx, span := r.tracer.Start(ctx, "feature_repo.delete_preference", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.String("feature_id", featureID),
	))
	defer span.End()

	query := `
		DELETE FROM ai_user_feature_preferences
		WHERE user_id = $1 AND feature_id = $2
	`

	if _, err := r.db.ExecContext(ctx, query, userID, featureID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete feature preference: %w", err)
	}

	return nil
}
