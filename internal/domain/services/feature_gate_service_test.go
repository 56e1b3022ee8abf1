package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

func newGateForTest() (*FeatureGateService, *fakeFeatureRepo, *fakeCredentialRepo) {
	features := newFakeFeatureRepo()
	creds := newFakeCredentialRepo()
	gate := NewFeatureGateService(features, creds, &fakeUsageRepo{}, zap.NewNop())
	return gate, features, creds
}

func TestStatusUnknownFeature(t *testing.T) {
	gate, _, _ := newGateForTest()

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, uuid.New())
	require.NoError(t, err)

	assert.False(t, status.Enabled)
	assert.Equal(t, "not found", status.Reason)
}

func TestStatusGloballyDisabled(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID: entities.FeatureSuggestions,
		Enabled:   false,
	}

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, uuid.New())
	require.NoError(t, err)

	assert.False(t, status.Enabled)
	assert.Equal(t, "disabled by administrator", status.Reason)
}

func TestStatusMissingCredential(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID:          entities.FeatureSuggestions,
		Enabled:            true,
		RequiresCredential: true,
		ProviderHint:       entities.ProviderGemini,
	}

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, uuid.New())
	require.NoError(t, err)

	assert.False(t, status.Enabled)
	assert.Equal(t, "requires gemini key", status.Reason)
}

func TestStatusAdminOverrideWins(t *testing.T) {
	gate, features, creds := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID:          entities.FeatureSuggestions,
		Enabled:            true,
		RequiresCredential: true,
		ProviderHint:       entities.ProviderGemini,
	}
	creds.active[entities.ProviderGemini] = &entities.ProviderCredential{
		ID:       uuid.New(),
		Provider: entities.ProviderGemini,
		Active:   true,
	}

	userID := uuid.New()
	adminID := uuid.New()
	require.NoError(t, gate.SetAdminOverride(context.Background(), userID, entities.FeatureSuggestions, false, adminID))

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, userID)
	require.NoError(t, err)

	assert.False(t, status.Enabled)
	assert.True(t, status.AdminOverride)
	assert.Equal(t, "admin override", status.Reason)

	// The user cannot flip it back while the override stands
	err = gate.SetUserPreference(context.Background(), userID, entities.FeatureSuggestions, true)
	assert.Equal(t, apperrors.ErrorTypeForbidden, apperrors.GetType(err))
}

func TestStatusUserPreference(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID: entities.FeatureSuggestions,
		Enabled:   true,
	}

	userID := uuid.New()
	require.NoError(t, gate.SetUserPreference(context.Background(), userID, entities.FeatureSuggestions, false))

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, userID)
	require.NoError(t, err)

	assert.False(t, status.Enabled)
	assert.False(t, status.AdminOverride)
	assert.Equal(t, "user preference", status.Reason)
}

func TestStatusDefaultEnabled(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID: entities.FeatureSuggestions,
		Enabled:   true,
	}

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, uuid.New())
	require.NoError(t, err)

	assert.True(t, status.Enabled)
	assert.Equal(t, "enabled (default)", status.Reason)
}

func TestRemoveAdminOverride(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID: entities.FeatureSuggestions,
		Enabled:   true,
	}

	userID := uuid.New()

	// Nothing to remove yet
	err := gate.RemoveAdminOverride(context.Background(), userID, entities.FeatureSuggestions)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err))

	// The user never chose, so removal clears the row and the default
	// applies again
	require.NoError(t, gate.SetAdminOverride(context.Background(), userID, entities.FeatureSuggestions, false, uuid.New()))
	require.NoError(t, gate.RemoveAdminOverride(context.Background(), userID, entities.FeatureSuggestions))

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, userID)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.False(t, status.AdminOverride)
	assert.Equal(t, "enabled (default)", status.Reason)

	// Self-service works again after the unlock
	require.NoError(t, gate.SetUserPreference(context.Background(), userID, entities.FeatureSuggestions, false))
}

func TestRemoveAdminOverrideRestoresUserPreference(t *testing.T) {
	gate, features, _ := newGateForTest()
	features.settings[entities.FeatureSuggestions] = &entities.FeatureSetting{
		FeatureID: entities.FeatureSuggestions,
		Enabled:   true,
	}

	userID := uuid.New()
	adminID := uuid.New()

	// The user opts out, an admin forces the feature on
	require.NoError(t, gate.SetUserPreference(context.Background(), userID, entities.FeatureSuggestions, false))
	require.NoError(t, gate.SetAdminOverride(context.Background(), userID, entities.FeatureSuggestions, true, adminID))

	status, err := gate.Status(context.Background(), entities.FeatureSuggestions, userID)
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.True(t, status.AdminOverride)

	// Re-overriding keeps the original user choice stashed
	require.NoError(t, gate.SetAdminOverride(context.Background(), userID, entities.FeatureSuggestions, false, adminID))
	require.NoError(t, gate.SetAdminOverride(context.Background(), userID, entities.FeatureSuggestions, true, adminID))

	// Removal brings the user's opt-out back, not the override value
	require.NoError(t, gate.RemoveAdminOverride(context.Background(), userID, entities.FeatureSuggestions))

	status, err = gate.Status(context.Background(), entities.FeatureSuggestions, userID)
	require.NoError(t, err)
	assert.False(t, status.Enabled)
	assert.False(t, status.AdminOverride)
	assert.Equal(t, "user preference", status.Reason)
}

func TestSetGlobalUnknownFeature(t *testing.T) {
	gate, _, _ := newGateForTest()

	err := gate.SetGlobal(context.Background(), "ai_mystery_feature", true, uuid.New())
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
}
