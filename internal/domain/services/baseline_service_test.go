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
)

func TestRecomputeBuildsBaseline(t *testing.T) {
	tracking := newFakeTrackingRepo()
	baselines := newFakeBaselineRepo()
	userID := uuid.New()
	projectID := uuid.New()

	// Ten weekdays of 8 hours each
	now := time.Now().UTC()
	added := 0
	for i := 1; added < 10; i++ {
		day := now.AddDate(0, 0, -i)
		if isWeekend(day) {
			continue
		}
		tracking.entries = append(tracking.entries, entryOn(userID, projectID, day, 8))
		added++
	}

	svc := NewBaselineService(tracking, baselines, 30, zap.NewNop())

	baseline, err := svc.Recompute(context.Background(), userID)
	require.NoError(t, err)

	assert.Equal(t, 10, baseline.SampleDays)
	assert.InDelta(t, 8.0, baseline.AvgDailyHours, 0.01)
	assert.InDelta(t, 0.0, baseline.StdDailyHours, 0.01)
	assert.InDelta(t, 8.0, baseline.TypicalStartHour, 0.01)
	assert.InDelta(t, 16.0, baseline.TypicalEndHour, 0.01)
	assert.InDelta(t, 1.0, baseline.EntriesPerDay, 0.01)
	assert.InDelta(t, 480, baseline.AvgEntryDurationMinutes, 0.1)
	assert.NotEmpty(t, baseline.PreferredWeekdays)

	require.Len(t, baselines.upserted, 1)
	assert.Equal(t, userID, baselines.upserted[0].UserID)
}

func TestRecomputeWithoutHistorySkipsUpsert(t *testing.T) {
	svc := NewBaselineService(newFakeTrackingRepo(), newFakeBaselineRepo(), 30, zap.NewNop())

	baseline, err := svc.Recompute(context.Background(), uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 0, baseline.SampleDays)
}

func TestRecomputeAllSweepsActiveUsers(t *testing.T) {
	tracking := newFakeTrackingRepo()
	baselines := newFakeBaselineRepo()
	projectID := uuid.New()

	first := &entities.User{ID: uuid.New(), IsActive: true}
	second := &entities.User{ID: uuid.New(), IsActive: true}
	tracking.users = []*entities.User{first, second}

	now := time.Now().UTC()
	for i := 1; i <= 5; i++ {
		tracking.entries = append(tracking.entries,
			entryOn(first.ID, projectID, now.AddDate(0, 0, -i), 8),
			entryOn(second.ID, projectID, now.AddDate(0, 0, -i), 6),
		)
	}

	svc := NewBaselineService(tracking, baselines, 30, zap.NewNop())

	updated, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, updated)
	assert.Len(t, baselines.baselines, 2)
}
