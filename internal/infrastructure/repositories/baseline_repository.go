package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
)

// BaselineRepository persists per-user work-pattern baselines
type BaselineRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewBaselineRepository creates a new baseline repository
func NewBaselineRepository(db *sqlx.DB, logger *zap.Logger) *BaselineRepository {
	return &BaselineRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("baseline-repository"),
	}
}

// Get returns a user's baseline, or nil when none has been computed yet
func (r *BaselineRepository) Get(ctx context.Context, userID uuid.UUID) (*entities.Baseline, error) {
	ctx, span := r.tracer.Start(ctx, "baseline_repo.get", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	query := `
		SELECT user_id, avg_daily_hours, std_daily_hours, typical_start_hour, typical_end_hour,
		       preferred_weekdays, avg_entry_duration_minutes, entries_per_day, sample_days, computed_at
		FROM ai_user_baselines
		WHERE user_id = $1
	`

	var (
		baseline     entities.Baseline
		weekdaysJSON []byte
	)

	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&baseline.UserID,
		&baseline.AvgDailyHours,
		&baseline.StdDailyHours,
		&baseline.TypicalStartHour,
		&baseline.TypicalEndHour,
		&weekdaysJSON,
		&baseline.AvgEntryDurationMinutes,
		&baseline.EntriesPerDay,
		&baseline.SampleDays,
		&baseline.ComputedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get baseline: %w", err)
	}

	if len(weekdaysJSON) > 0 {
		if err := json.Unmarshal(weekdaysJSON, &baseline.PreferredWeekdays); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to unmarshal preferred weekdays: %w", err)
		}
	}

	return &baseline, nil
}

// Upsert writes a freshly computed baseline, replacing any prior row
func (r *BaselineRepository) Upsert(ctx context.Context, baseline *entities.Baseline) error {
	ctx, span := r.tracer.Start(ctx, "baseline_repo.upsert", trace.WithAttributes(
		attribute.String("user_id", baseline.UserID.String()),
		attribute.Int("sample_days", baseline.SampleDays),
	))
	defer span.End()

	weekdaysJSON, err := json.Marshal(baseline.PreferredWeekdays)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal preferred weekdays: %w", err)
	}

	query := `
		INSERT INTO ai_user_baselines (user_id, avg_daily_hours, std_daily_hours, typical_start_hour, typical_end_hour,
			preferred_weekdays, avg_entry_duration_minutes, entries_per_day, sample_days, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id)
		DO UPDATE SET avg_daily_hours = $2, std_daily_hours = $3, typical_start_hour = $4, typical_end_hour = $5,
			preferred_weekdays = $6, avg_entry_duration_minutes = $7, entries_per_day = $8, sample_days = $9, computed_at = $10
	`

	if _, err := r.db.ExecContext(ctx, query,
		baseline.UserID,
		baseline.AvgDailyHours,
		baseline.StdDailyHours,
		baseline.TypicalStartHour,
		baseline.TypicalEndHour,
		weekdaysJSON,
		baseline.AvgEntryDurationMinutes,
		baseline.EntriesPerDay,
		baseline.SampleDays,
		baseline.ComputedAt,
	); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to upsert baseline: %w", err)
	}

	r.logger.Debug("User baseline upserted",
		zap.String("user_id", baseline.UserID.String()),
		zap.Int("sample_days", baseline.SampleDays),
	)

	return nil
}
