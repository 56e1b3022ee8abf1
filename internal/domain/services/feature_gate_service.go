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
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// FeatureGateService resolves whether an AI feature is active for a user
// and owns the admin/user toggle mutations. Resolution order: missing
// setting, global switch, credential requirement, admin override, user
// preference, default on.
type FeatureGateService struct {
	features    repositories.FeatureRepository
	credentials repositories.CredentialRepository
	usage       repositories.UsageRepository
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewFeatureGateService creates a new feature gate
func NewFeatureGateService(
	features repositories.FeatureRepository,
	credentials repositories.CredentialRepository,
	usage repositories.UsageRepository,
	logger *zap.Logger,
) *FeatureGateService {
	return &FeatureGateService{
		features:    features,
		credentials: credentials,
		usage:       usage,
		logger:      logger,
		tracer:      otel.Tracer("feature-gate-service"),
	}
}

// IsEnabled reports the effective gate decision for one (feature, user)
func (s *FeatureGateService) IsEnabled(ctx context.Context, featureID string, userID uuid.UUID) bool {
	status, err := s.Status(ctx, featureID, userID)
	if err != nil {
		s.logger.Warn("Feature gate resolution failed, treating as disabled",
			zap.String("feature_id", featureID),
			zap.Error(err),
		)
		return false
	}
	return status.Enabled
}

// Status resolves the full gate decision with its reason
func (s *FeatureGateService) Status(ctx context.Context, featureID string, userID uuid.UUID) (*entities.FeatureStatus, error) {
	ctx, span := s.tracer.Start(ctx, "feature_gate.status", trace.WithAttributes(
		attribute.String("feature_id", featureID),
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	status := &entities.FeatureStatus{FeatureID: featureID}

	setting, err := s.features.GetSetting(ctx, featureID)
	if err != nil {
		if apperrors.GetType(err) == apperrors.ErrorTypeNotFound {
			status.Reason = "not found"
			return status, nil
		}
		span.RecordError(err)
		return nil, err
	}

	status.GlobalEnabled = setting.Enabled
	if !setting.Enabled {
		status.Reason = "disabled by administrator"
		return status, nil
	}

	if setting.RequiresCredential {
		cred, err := s.credentials.GetActiveByProvider(ctx, setting.ProviderHint)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if cred == nil {
			status.Reason = fmt.Sprintf("requires %s key", setting.ProviderHint)
			return status, nil
		}
	}

	pref, err := s.features.GetPreference(ctx, userID, featureID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if pref != nil {
		status.UserEnabled = &pref.Enabled
		if pref.AdminOverride {
			status.Enabled = pref.Enabled
			status.AdminOverride = true
			status.Reason = "admin override"
			return status, nil
		}
		status.Enabled = pref.Enabled
		status.Reason = "user preference"
		return status, nil
	}

	status.Enabled = true
	status.Reason = "enabled (default)"
	return status, nil
}

// ListFeatures returns every feature's global setting
func (s *FeatureGateService) ListFeatures(ctx context.Context) ([]*entities.FeatureSetting, error) {
	return s.features.ListSettings(ctx)
}

// SetGlobal flips a feature's global switch
func (s *FeatureGateService) SetGlobal(ctx context.Context, featureID string, enabled bool, by uuid.UUID) error {
	if !isKnownFeature(featureID) {
		return apperrors.BadInput(fmt.Sprintf("unknown feature %q", featureID))
	}

	if err := s.features.UpdateSetting(ctx, featureID, enabled, by); err != nil {
		return err
	}

	s.logger.Info("Feature global switch changed",
		zap.String("feature_id", featureID),
		zap.Bool("enabled", enabled),
		zap.String("by", by.String()),
	)
	return nil
}

// ListPreferences returns a user's stored preferences
func (s *FeatureGateService) ListPreferences(ctx context.Context, userID uuid.UUID) ([]*entities.UserFeaturePreference, error) {
	return s.features.ListPreferences(ctx, userID)
}

// SetUserPreference records a user's own opt-in/out. Rejected while an
// admin override is in place.
func (s *FeatureGateService) SetUserPreference(ctx context.Context, userID uuid.UUID, featureID string, enabled bool) error {
	if !isKnownFeature(featureID) {
		return apperrors.BadInput(fmt.Sprintf("unknown feature %q", featureID))
	}

	existing, err := s.features.GetPreference(ctx, userID, featureID)
	if err != nil {
		return err
	}
	if existing != nil && existing.AdminOverride {
		return apperrors.Forbidden("preference is locked by an administrator override")
	}

	return s.features.UpsertPreference(ctx, &entities.UserFeaturePreference{
		UserID:    userID,
		FeatureID: featureID,
		Enabled:   enabled,
	})
}

// SetAdminOverride pins a user's feature state, locking self-service.
// Any choice the user made beforehand is stashed so removing the
// override brings it back.
func (s *FeatureGateService) SetAdminOverride(ctx context.Context, userID uuid.UUID, featureID string, enabled bool, adminID uuid.UUID) error {
	if !isKnownFeature(featureID) {
		return apperrors.BadInput(fmt.Sprintf("unknown feature %q", featureID))
	}

	existing, err := s.features.GetPreference(ctx, userID, featureID)
	if err != nil {
		return err
	}

	var prior *bool
	if existing != nil {
		if existing.AdminOverride {
			// Re-overriding keeps the original user choice stashed
			prior = existing.PriorEnabled
		} else {
			prior = &existing.Enabled
		}
	}

	if err := s.features.UpsertPreference(ctx, &entities.UserFeaturePreference{
		UserID:        userID,
		FeatureID:     featureID,
		Enabled:       enabled,
		AdminOverride: true,
		OverrideBy:    &adminID,
		PriorEnabled:  prior,
	}); err != nil {
		return err
	}

	s.logger.Info("Admin override set",
		zap.String("user_id", userID.String()),
		zap.String("feature_id", featureID),
		zap.Bool("enabled", enabled),
		zap.String("admin_id", adminID.String()),
	)
	return nil
}

// RemoveAdminOverride restores user self-service. A preference the user
// held before the override comes back; without one the row is deleted
// and the feature falls back to its default.
func (s *FeatureGateService) RemoveAdminOverride(ctx context.Context, userID uuid.UUID, featureID string) error {
	existing, err := s.features.GetPreference(ctx, userID, featureID)
	if err != nil {
		return err
	}
	if existing == nil || !existing.AdminOverride {
		return apperrors.NotFound(fmt.Sprintf("admin override for %s", featureID))
	}

	if existing.PriorEnabled == nil {
		return s.features.DeletePreference(ctx, userID, featureID)
	}

	return s.features.UpsertPreference(ctx, &entities.UserFeaturePreference{
		UserID:    userID,
		FeatureID: featureID,
		Enabled:   *existing.PriorEnabled,
	})
}

// LogUsage appends one ledger row for a served feature call. Append
// failures are logged, never surfaced: usage accounting must not break
// the feature itself.
func (s *FeatureGateService) LogUsage(ctx context.Context, record *entities.UsageRecord) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.RequestAt.IsZero() {
		record.RequestAt = time.Now().UTC()
	}

	if err := s.usage.Append(ctx, record); err != nil {
		s.logger.Warn("Failed to append usage record",
			zap.String("feature_id", record.FeatureID),
			zap.Error(err),
		)
	}
}

func isKnownFeature(featureID string) bool {
	for _, f := range entities.KnownFeatures {
		if f == featureID {
			return true
		}
	}
	return false
}
