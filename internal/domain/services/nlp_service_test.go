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
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

func newNLPForTest(tracking *fakeTrackingRepo, gateway AIGateway) *NLPService {
	gate, _, _ := newEnabledGate()
	if gateway == nil {
		gateway = &stubGateway{}
	}
	return NewNLPService(tracking, gate, newFakeCache(), gateway, NLPConfig{
		ConfidenceThreshold: 0.7,
		RequestsPerMinute:   20,
	}, zap.NewNop())
}

func TestParseFullEntry(t *testing.T) {
	tracking := newFakeTrackingRepo()
	alpha := &entities.Project{ID: uuid.New(), Name: "Project Alpha", Active: true}
	tracking.projects = []*entities.Project{
		alpha,
		{ID: uuid.New(), Name: "Website Redesign", Active: true},
	}

	svc := newNLPForTest(tracking, nil)

	result, err := svc.Parse(context.Background(), uuid.New(), "Log 2 hours on Project Alpha yesterday", "UTC", false)
	require.NoError(t, err)

	require.NotNil(t, result.DurationSeconds)
	assert.Equal(t, int64(7200), *result.DurationSeconds)

	require.NotNil(t, result.ProjectID)
	assert.Equal(t, alpha.ID, *result.ProjectID)
	assert.Equal(t, "Project Alpha", result.ProjectName)

	require.NotNil(t, result.StartTime)
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	assert.Equal(t, yesterday.Format("2006-01-02"), result.StartTime.Format("2006-01-02"))
	assert.Equal(t, 0, result.StartTime.Hour())
	require.NotNil(t, result.EndTime)
	assert.Equal(t, 2*time.Hour, result.EndTime.Sub(*result.StartTime))

	assert.GreaterOrEqual(t, result.Confidence, 0.8)
	assert.Equal(t, entities.ConfidenceHigh, result.ConfidenceLevel)
	assert.False(t, result.NeedsClarification)
	assert.Empty(t, result.Description)
}

func TestParseDurationPatterns(t *testing.T) {
	tests := []struct {
		text    string
		seconds int64
	}{
		{"worked 2 hours on stuff", 7200},
		{"3.5 hrs of maintenance", 12600},
		{"90 minutes in standup", 5400},
		{"spent 1:30 debugging", 5400},
		{"2h30m pair programming", 9000},
		{"2h code review", 7200},
		{"2 and a half hours writing docs", 9000},
		{"half an hour of email", 1800},
		{"quarter of an hour triage", 900},
	}

	for _, tc := range tests {
		seconds, token, confidence := parseDuration(tc.text)
		assert.Equal(t, tc.seconds, seconds, "text: %s", tc.text)
		assert.NotEmpty(t, token, "text: %s", tc.text)
		assert.Greater(t, confidence, 0.0, "text: %s", tc.text)
	}
}

func TestParseDayKeywordsAndWeekdays(t *testing.T) {
	// A Wednesday afternoon
	now := time.Date(2026, 8, 19, 15, 0, 0, 0, time.UTC)

	day, token, _ := parseDay("worked today on stuff", "", now)
	assert.Equal(t, "today", token)
	assert.Equal(t, "2026-08-19", day.Format("2006-01-02"))

	day, token, _ = parseDay("logged this yesterday", "", now)
	assert.Equal(t, "yesterday", token)
	assert.Equal(t, "2026-08-18", day.Format("2006-01-02"))

	// Most recent past Monday
	day, token, _ = parseDay("on monday I did reviews", "", now)
	assert.Equal(t, "monday", token)
	assert.Equal(t, "2026-08-17", day.Format("2006-01-02"))

	// The coming Monday
	day, token, _ = parseDay("planning next monday", "", now)
	assert.Equal(t, "next monday", token)
	assert.Equal(t, "2026-08-24", day.Format("2006-01-02"))

	// Same weekday name resolves a full week back
	day, token, _ = parseDay("last wednesday's workshop", "", now)
	assert.Equal(t, "wednesday", token)
	assert.Equal(t, "2026-08-12", day.Format("2006-01-02"))

	// Literal date
	day, token, _ = parseDay("meeting on 2026-08-10", "", now)
	assert.Equal(t, "2026-08-10", token)
	assert.Equal(t, "2026-08-10", day.Format("2006-01-02"))

	// No date at all defaults to today with no token
	day, token, _ = parseDay("reviewed the budget", "", now)
	assert.Empty(t, token)
	assert.Equal(t, "2026-08-19", day.Format("2006-01-02"))
}

func TestParseAsksForClarification(t *testing.T) {
	tracking := newFakeTrackingRepo()
	tracking.projects = []*entities.Project{
		{ID: uuid.New(), Name: "Internal Tooling", Active: true},
	}

	svc := newNLPForTest(tracking, nil)

	result, err := svc.Parse(context.Background(), uuid.New(), "did some miscellaneous work", "UTC", false)
	require.NoError(t, err)

	assert.True(t, result.NeedsClarification)
	assert.Contains(t, result.ClarificationPrompt, "how long")
	assert.Contains(t, result.ClarificationPrompt, "which project")
}

func TestParseAIRefinementBackfills(t *testing.T) {
	tracking := newFakeTrackingRepo()
	alpha := &entities.Project{ID: uuid.New(), Name: "Project Alpha", Active: true}
	tracking.projects = []*entities.Project{alpha}

	gateway := &stubGateway{
		available: true,
		outcome: &ai.GenerationOutcome{
			Success:  true,
			Provider: "gemini",
			Parsed: map[string]interface{}{
				"duration_hours":   2.0,
				"duration_minutes": nil,
				"project_name":     "project alpha",
				"description":      "sprint planning",
				"date":             "2026-08-18",
			},
			Usage: ai.TokenUsage{PromptTokens: 80, CompletionTokens: 30},
		},
	}

	svc := newNLPForTest(tracking, gateway)

	result, err := svc.Parse(context.Background(), uuid.New(), "did some planning stuff", "UTC", true)
	require.NoError(t, err)

	assert.Equal(t, 1, gateway.calls)
	require.NotNil(t, result.DurationSeconds)
	assert.Equal(t, int64(7200), *result.DurationSeconds)
	require.NotNil(t, result.ProjectID)
	assert.Equal(t, alpha.ID, *result.ProjectID)
	require.NotNil(t, result.StartTime)
	assert.Equal(t, "2026-08-18", result.StartTime.Format("2006-01-02"))
}

func TestParseRateLimited(t *testing.T) {
	tracking := newFakeTrackingRepo()
	gate, _, _ := newEnabledGate()
	responseCache := newFakeCache()
	responseCache.rateAllowed = false

	svc := NewNLPService(tracking, gate, responseCache, &stubGateway{}, NLPConfig{RequestsPerMinute: 20}, zap.NewNop())

	_, err := svc.Parse(context.Background(), uuid.New(), "2 hours on something", "UTC", false)
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.GetType(err))
}

func TestConfirmWritesCompletedEntry(t *testing.T) {
	tracking := newFakeTrackingRepo()
	alpha := &entities.Project{ID: uuid.New(), Name: "Project Alpha", Active: true}
	tracking.projects = []*entities.Project{alpha}

	svc := newNLPForTest(tracking, nil)

	duration := int64(7200)
	start := time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)
	userID := uuid.New()

	entry, err := svc.Confirm(context.Background(), userID, &entities.ParseResult{
		ProjectID:       &alpha.ID,
		DurationSeconds: &duration,
		StartTime:       &start,
		Description:     "sprint planning",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, entities.EntryStatusCompleted, entry.Status)
	assert.Equal(t, userID, entry.UserID)
	assert.Equal(t, alpha.ID, entry.ProjectID)
	assert.Equal(t, int64(7200), entry.DurationSeconds)
	assert.Equal(t, start.Add(2*time.Hour), *entry.EndTime)
	require.Len(t, tracking.created, 1)
}

func TestConfirmValidation(t *testing.T) {
	tracking := newFakeTrackingRepo()
	alpha := &entities.Project{ID: uuid.New(), Name: "Project Alpha", Active: true}
	tracking.projects = []*entities.Project{alpha}

	svc := newNLPForTest(tracking, nil)
	userID := uuid.New()

	// No project
	duration := int64(7200)
	_, err := svc.Confirm(context.Background(), userID, &entities.ParseResult{DurationSeconds: &duration}, nil)
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))

	// Neither duration nor start time
	_, err = svc.Confirm(context.Background(), userID, &entities.ParseResult{ProjectID: &alpha.ID}, nil)
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))

	// Too short to be a real entry
	short := int64(30)
	_, err = svc.Confirm(context.Background(), userID, &entities.ParseResult{
		ProjectID:       &alpha.ID,
		DurationSeconds: &short,
	}, nil)
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))

	// Overrides supply the missing project
	_, err = svc.Confirm(context.Background(), userID, &entities.ParseResult{DurationSeconds: &duration}, &ConfirmOverrides{
		ProjectID: &alpha.ID,
	})
	assert.NoError(t, err)
}
