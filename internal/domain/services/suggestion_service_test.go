package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/ai"
)

func suggestionTestConfig() SuggestionConfig {
	return SuggestionConfig{
		ConfidenceThreshold: 0.5,
		LookbackDays:        14,
		DefaultLimit:        5,
		RequestsPerMinute:   20,
	}
}

func newSuggestionForTest(tracking *fakeTrackingRepo, responseCache *fakeCache, gateway AIGateway) *SuggestionService {
	gate, _, _ := newEnabledGate()
	if gateway == nil {
		gateway = &stubGateway{}
	}
	return NewSuggestionService(tracking, gate, responseCache, gateway, suggestionTestConfig(), zap.NewNop())
}

func TestSuggestRanksFrequentProjectFirst(t *testing.T) {
	tracking := newFakeTrackingRepo()
	userID := uuid.New()

	frequent := &entities.Project{ID: uuid.New(), Name: "Billing Revamp", Active: true}
	rare := &entities.Project{ID: uuid.New(), Name: "Docs Cleanup", Active: true}
	tracking.projects = []*entities.Project{frequent, rare}

	now := time.Now().UTC()
	for i := 1; i <= 6; i++ {
		tracking.entries = append(tracking.entries, entryOn(userID, frequent.ID, now.AddDate(0, 0, -i), 4))
	}
	tracking.entries = append(tracking.entries, entryOn(userID, rare.ID, now.AddDate(0, 0, -7), 2))

	svc := newSuggestionForTest(tracking, newFakeCache(), nil)

	response, err := svc.Suggest(context.Background(), userID, "", 5, false)
	require.NoError(t, err)

	assert.True(t, response.Enabled)
	assert.False(t, response.FromCache)
	require.NotEmpty(t, response.Suggestions)
	assert.Equal(t, frequent.ID, response.Suggestions[0].ProjectID)

	for i := 1; i < len(response.Suggestions); i++ {
		assert.GreaterOrEqual(t,
			response.Suggestions[i-1].Confidence,
			response.Suggestions[i].Confidence,
		)
	}
}

func TestSuggestDisabledFeatureReturnsStructuredResponse(t *testing.T) {
	gate, features, _ := newEnabledGate()
	features.settings[entities.FeatureSuggestions].Enabled = false

	svc := NewSuggestionService(newFakeTrackingRepo(), gate, newFakeCache(), &stubGateway{}, suggestionTestConfig(), zap.NewNop())

	response, err := svc.Suggest(context.Background(), uuid.New(), "", 5, false)
	require.NoError(t, err, "a disabled feature is a structured outcome, not an error")

	assert.False(t, response.Enabled)
	assert.Equal(t, "disabled by administrator", response.Reason)
	assert.Empty(t, response.Suggestions)
}

func TestSuggestRateLimited(t *testing.T) {
	responseCache := newFakeCache()
	responseCache.rateAllowed = false
	responseCache.rateCount = 20

	svc := newSuggestionForTest(newFakeTrackingRepo(), responseCache, nil)

	response, err := svc.Suggest(context.Background(), uuid.New(), "", 5, false)
	require.NoError(t, err)

	assert.False(t, response.Enabled)
	assert.True(t, response.RateLimited)
	assert.Empty(t, response.Suggestions)
}

func TestSuggestServesCachedResponse(t *testing.T) {
	tracking := newFakeTrackingRepo()
	responseCache := newFakeCache()
	userID := uuid.New()

	svc := newSuggestionForTest(tracking, responseCache, nil)

	project := &entities.Project{ID: uuid.New(), Name: "Billing Revamp", Active: true}
	tracking.projects = []*entities.Project{project}
	tracking.entries = append(tracking.entries,
		entryOn(userID, project.ID, time.Now().UTC().AddDate(0, 0, -1), 4),
		entryOn(userID, project.ID, time.Now().UTC().AddDate(0, 0, -2), 4),
	)

	first, err := svc.Suggest(context.Background(), userID, "", 5, false)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := svc.Suggest(context.Background(), userID, "", 5, false)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, len(first.Suggestions), len(second.Suggestions))
}

func TestSuggestAITopUpKeepsOnlyActiveProjects(t *testing.T) {
	tracking := newFakeTrackingRepo()
	userID := uuid.New()
	active := &entities.Project{ID: uuid.New(), Name: "Billing Revamp", Active: true}
	tracking.projects = []*entities.Project{active}

	gateway := &stubGateway{
		available: true,
		outcome: &ai.GenerationOutcome{
			Success:  true,
			Provider: "gemini",
			Parsed: map[string]interface{}{
				"suggestions": []interface{}{
					map[string]interface{}{
						"project_id":   active.ID.String(),
						"project_name": "Billing Revamp",
						"confidence":   0.8,
						"reason":       "recent focus area",
					},
					map[string]interface{}{
						"project_id":   uuid.New().String(),
						"project_name": "Retired Project",
						"confidence":   0.9,
					},
				},
			},
			Usage: ai.TokenUsage{PromptTokens: 120, CompletionTokens: 40},
		},
	}

	svc := newSuggestionForTest(tracking, newFakeCache(), gateway)

	response, err := svc.Suggest(context.Background(), userID, "", 5, true)
	require.NoError(t, err)

	assert.Equal(t, 1, gateway.calls)
	require.Len(t, response.Suggestions, 1)
	assert.Equal(t, active.ID, response.Suggestions[0].ProjectID)
	assert.Equal(t, entities.SuggestionSourceAI, response.Suggestions[0].Source)
}

func TestSuggestAIFailureFallsBackToPatterns(t *testing.T) {
	tracking := newFakeTrackingRepo()
	userID := uuid.New()
	project := &entities.Project{ID: uuid.New(), Name: "Billing Revamp", Active: true}
	tracking.projects = []*entities.Project{project}
	for i := 1; i <= 4; i++ {
		tracking.entries = append(tracking.entries, entryOn(userID, project.ID, time.Now().UTC().AddDate(0, 0, -i), 4))
	}

	gateway := &stubGateway{available: true, err: errProviderDown}

	svc := newSuggestionForTest(tracking, newFakeCache(), gateway)

	response, err := svc.Suggest(context.Background(), userID, "", 5, true)
	require.NoError(t, err, "a failed AI top-up must not fail the request")

	assert.True(t, response.Enabled)
	assert.NotEmpty(t, response.Suggestions)
}
