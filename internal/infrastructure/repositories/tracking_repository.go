package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// TrackingRepository is the read-mostly postgres view of time-tracking data
// the AI subsystem consumes. Confirmed NLP entries are the only write path.
type TrackingRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewTrackingRepository creates a new tracking repository
func NewTrackingRepository(db *sqlx.DB, logger *zap.Logger) *TrackingRepository {
	return &TrackingRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("tracking-repository"),
	}
}

// CompletedEntries returns a user's completed entries in [from, to)
func (r *TrackingRepository) CompletedEntries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.completed_entries", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	query := `
		SELECT id, user_id, project_id, task_id, description, start_time, end_time, duration_seconds, status, created_at
		FROM time_entries
		WHERE user_id = $1 AND status = $2 AND start_time >= $3 AND start_time < $4
		ORDER BY start_time
	`

	var entries []*entities.TimeEntry
	if err := r.db.SelectContext(ctx, &entries, query, userID, entities.EntryStatusCompleted, from, to); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query completed entries: %w", err)
	}

	return entries, nil
}

// CreateEntry inserts a time entry (confirmed natural-language entries)
func (r *TrackingRepository) CreateEntry(ctx context.Context, entry *entities.TimeEntry) error {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.create_entry", trace.WithAttributes(
		attribute.String("user_id", entry.UserID.String()),
		attribute.String("project_id", entry.ProjectID.String()),
	))
	defer span.End()

	query := `
		INSERT INTO time_entries (id, user_id, project_id, task_id, description, start_time, end_time, duration_seconds, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.ProjectID,
		entry.TaskID,
		entry.Description,
		entry.StartTime,
		entry.EndTime,
		entry.DurationSeconds,
		entry.Status,
		entry.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create time entry: %w", err)
	}

	r.logger.Info("Time entry created",
		zap.String("entry_id", entry.ID.String()),
		zap.String("user_id", entry.UserID.String()),
		zap.Int64("duration_seconds", entry.DurationSeconds),
	)

	return nil
}

// ActiveProjects returns every active project
func (r *TrackingRepository) ActiveProjects(ctx context.Context) ([]*entities.Project, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.active_projects")
	defer span.End()

	query := `
		SELECT id, name, client_name, active, budget_amount, hourly_rate, start_date, created_at
		FROM projects
		WHERE active = true
		ORDER BY name
	`

	var projects []*entities.Project
	if err := r.db.SelectContext(ctx, &projects, query); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query active projects: %w", err)
	}

	return projects, nil
}

// ProjectByID retrieves one project
func (r *TrackingRepository) ProjectByID(ctx context.Context, id uuid.UUID) (*entities.Project, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.project_by_id", trace.WithAttributes(
		attribute.String("project_id", id.String()),
	))
	defer span.End()

	query := `
		SELECT id, name, client_name, active, budget_amount, hourly_rate, start_date, created_at
		FROM projects
		WHERE id = $1
	`

	var project entities.Project
	err := r.db.GetContext(ctx, &project, query, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("project %s", id))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// TasksForProject returns a project's active tasks
func (r *TrackingRepository) TasksForProject(ctx context.Context, projectID uuid.UUID) ([]*entities.Task, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.tasks_for_project", trace.WithAttributes(
		attribute.String("project_id", projectID.String()),
	))
	defer span.End()

	query := `
		SELECT id, project_id, name, active
		FROM tasks
		WHERE project_id = $1 AND active = true
		ORDER BY name
	`

	var tasks []*entities.Task
	if err := r.db.SelectContext(ctx, &tasks, query, projectID); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	return tasks, nil
}

// ProjectUsage aggregates a project's logged effort for budget forecasting.
// The blended rate falls back to the project hourly rate when entries carry
// no per-user rate.
func (r *TrackingRepository) ProjectUsage(ctx context.Context, projectID uuid.UUID) (*entities.ProjectUsage, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.project_usage", trace.WithAttributes(
		attribute.String("project_id", projectID.String()),
	))
	defer span.End()

	query := `
		SELECT
			$1::uuid AS project_id,
			COALESCE(SUM(te.duration_seconds) / 3600.0, 0) AS total_hours,
			COALESCE(AVG(pr.hourly_rate), 0) AS blended_rate,
			COUNT(DISTINCT te.user_id) AS contributors,
			MIN(te.start_time) AS first_entry_at,
			MAX(te.start_time) AS last_entry_at
		FROM time_entries te
		LEFT JOIN pay_rates pr ON pr.user_id = te.user_id AND pr.active = true
		WHERE te.project_id = $1 AND te.status = $2
	`

	var usage entities.ProjectUsage
	if err := r.db.GetContext(ctx, &usage, query, projectID, entities.EntryStatusCompleted); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate project usage: %w", err)
	}

	return &usage, nil
}

// ProjectEntries returns a project's completed entries in [from, to)
// across all users.
func (r *TrackingRepository) ProjectEntries(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.project_entries", trace.WithAttributes(
		attribute.String("project_id", projectID.String()),
	))
	defer span.End()

	query := `
		SELECT id, user_id, project_id, task_id, description, start_time, end_time, duration_seconds, status, created_at
		FROM time_entries
		WHERE project_id = $1 AND status = $2 AND start_time >= $3 AND start_time < $4
		ORDER BY start_time
	`

	var entries []*entities.TimeEntry
	if err := r.db.SelectContext(ctx, &entries, query, projectID, entities.EntryStatusCompleted, from, to); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query project entries: %w", err)
	}

	return entries, nil
}

// TaskCompletion counts a project's tasks, treating deactivated tasks as
// completed.
func (r *TrackingRepository) TaskCompletion(ctx context.Context, projectID uuid.UUID) (total int, completed int, err error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.task_completion", trace.WithAttributes(
		attribute.String("project_id", projectID.String()),
	))
	defer span.End()

	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE active = false)
		FROM tasks
		WHERE project_id = $1
	`

	if err := r.db.QueryRowContext(ctx, query, projectID).Scan(&total, &completed); err != nil {
		span.RecordError(err)
		return 0, 0, fmt.Errorf("failed to count task completion: %w", err)
	}

	return total, completed, nil
}

// UserByID retrieves one user
func (r *TrackingRepository) UserByID(ctx context.Context, id uuid.UUID) (*entities.User, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.user_by_id", trace.WithAttributes(
		attribute.String("user_id", id.String()),
	))
	defer span.End()

	query := `
		SELECT id, email, first_name, last_name, role, team_id, expected_hours_per_week, is_active, created_at
		FROM users
		WHERE id = $1
	`

	var user entities.User
	err := r.db.GetContext(ctx, &user, query, id)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("user %s", id))
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}

// ActiveUsers returns active users, optionally scoped to one team
func (r *TrackingRepository) ActiveUsers(ctx context.Context, teamID *uuid.UUID) ([]*entities.User, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.active_users")
	defer span.End()

	query := `
		SELECT id, email, first_name, last_name, role, team_id, expected_hours_per_week, is_active, created_at
		FROM users
		WHERE is_active = true
	`

	args := []interface{}{}
	if teamID != nil {
		query += " AND team_id = $1"
		args = append(args, *teamID)
	}

	query += " ORDER BY last_name, first_name"

	var users []*entities.User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}

	return users, nil
}

// RecentPayPeriods returns the newest completed or paid periods of a type,
// most recent first.
func (r *TrackingRepository) RecentPayPeriods(ctx context.Context, periodType string, limit int) ([]*entities.PayPeriod, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.recent_pay_periods", trace.WithAttributes(
		attribute.String("period_type", periodType),
		attribute.Int("limit", limit),
	))
	defer span.End()

	query := `
		SELECT id, period_type, start_date, end_date, status, gross_amount, regular_amount, overtime_amount
		FROM pay_periods
		WHERE period_type = $1 AND status IN ($2, $3)
		ORDER BY end_date DESC
		LIMIT $4
	`

	var periods []*entities.PayPeriod
	if err := r.db.SelectContext(ctx, &periods, query, periodType,
		entities.PeriodStatusCompleted, entities.PeriodStatusPaid, limit); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query pay periods: %w", err)
	}

	return periods, nil
}

// ActivePayRate returns a user's current hourly rate, or nil when unset
func (r *TrackingRepository) ActivePayRate(ctx context.Context, userID uuid.UUID) (*entities.PayRate, error) {
	ctx, span := r.tracer.Start(ctx, "tracking_repo.active_pay_rate", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	query := `
		SELECT id, user_id, hourly_rate, active, effective_from
		FROM pay_rates
		WHERE user_id = $1 AND active = true
		ORDER BY effective_from DESC
		LIMIT 1
	`

	var rate entities.PayRate
	err := r.db.GetContext(ctx, &rate, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to get pay rate: %w", err)
	}

	return &rate, nil
}
