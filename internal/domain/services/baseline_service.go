package services

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/repositories"
)

// BaselineService maintains the per-user rolling work-pattern statistics
// the statistical anomaly detector normalizes against. Baselines are
// recomputed daily by the scheduler.
type BaselineService struct {
	tracking   repositories.TrackingRepository
	baselines  repositories.BaselineRepository
	windowDays int
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewBaselineService creates a new baseline service
func NewBaselineService(
	tracking repositories.TrackingRepository,
	baselines repositories.BaselineRepository,
	windowDays int,
	logger *zap.Logger,
) *BaselineService {
	if windowDays <= 0 {
		windowDays = 30
	}
	return &BaselineService{
		tracking:   tracking,
		baselines:  baselines,
		windowDays: windowDays,
		logger:     logger,
		tracer:     otel.Tracer("baseline-service"),
	}
}

// Recompute rebuilds one user's baseline from the trailing window
func (s *BaselineService) Recompute(ctx context.Context, userID uuid.UUID) (*entities.Baseline, error) {
	ctx, span := s.tracer.Start(ctx, "baseline_service.recompute", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	now := time.Now()
	from := now.AddDate(0, 0, -s.windowDays)

	entries, err := s.tracking.CompletedEntries(ctx, userID, from, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	baseline := s.compute(userID, entries, now)
	if baseline.SampleDays == 0 {
		// Nothing to learn from yet; keep whatever baseline exists
		return baseline, nil
	}

	if err := s.baselines.Upsert(ctx, baseline); err != nil {
		span.RecordError(err)
		return nil, err
	}

	return baseline, nil
}

// RecomputeAll rebuilds baselines for every active user. Per-user
// failures are logged and skipped so one bad user does not starve the
// rest of the sweep.
func (s *BaselineService) RecomputeAll(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "baseline_service.recompute_all")
	defer span.End()

	users, err := s.tracking.ActiveUsers(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	updated := 0
	for _, user := range users {
		if _, err := s.Recompute(ctx, user.ID); err != nil {
			s.logger.Warn("Baseline recompute failed",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
			continue
		}
		updated++
	}

	s.logger.Info("Baseline sweep finished",
		zap.Int("users", len(users)),
		zap.Int("updated", updated),
	)

	span.SetAttributes(attribute.Int("updated", updated))
	return updated, nil
}

func (s *BaselineService) compute(userID uuid.UUID, entries []*entities.TimeEntry, now time.Time) *entities.Baseline {
	baseline := &entities.Baseline{
		UserID:     userID,
		ComputedAt: now.UTC(),
	}
	if len(entries) == 0 {
		return baseline
	}

	days := aggregateDays(entries)
	baseline.SampleDays = len(days)

	var (
		hoursSamples []float64
		startSum     float64
		endSum       float64
		entryCount   int
		durationSum  float64
	)
	weekdayCounts := make(map[int]int)

	for _, d := range sortedDays(days) {
		hoursSamples = append(hoursSamples, d.hours)
		startSum += float64(d.earliest.Hour()) + float64(d.earliest.Minute())/60
		endSum += float64(d.latest.Hour()) + float64(d.latest.Minute())/60
		entryCount += d.count
		weekdayCounts[int(d.date.Weekday())]++
	}
	for _, e := range entries {
		durationSum += float64(e.DurationSeconds) / 60
	}

	n := float64(len(hoursSamples))
	baseline.AvgDailyHours = mean(hoursSamples)
	baseline.StdDailyHours = stddev(hoursSamples, baseline.AvgDailyHours)
	baseline.TypicalStartHour = startSum / n
	baseline.TypicalEndHour = endSum / n
	baseline.EntriesPerDay = float64(entryCount) / n
	baseline.AvgEntryDurationMinutes = durationSum / float64(len(entries))

	// Preferred weekdays: those carrying at least half the busiest day's
	// sample count
	maxCount := 0
	for _, c := range weekdayCounts {
		if c > maxCount {
			maxCount = c
		}
	}
	for wd, c := range weekdayCounts {
		if c*2 >= maxCount {
			baseline.PreferredWeekdays = append(baseline.PreferredWeekdays, wd)
		}
	}
	sort.Ints(baseline.PreferredWeekdays)

	return baseline
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

func stddev(samples []float64, avg float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += (v - avg) * (v - avg)
	}
	return math.Sqrt(sum / float64(len(samples)-1))
}
