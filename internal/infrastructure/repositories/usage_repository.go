package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
)

// UsageRepository is the append-only AI usage ledger over postgres
type UsageRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewUsageRepository creates a new usage repository
func NewUsageRepository(db *sqlx.DB, logger *zap.Logger) *UsageRepository {
	return &UsageRepository{
		db:     db,
		logger: logger,
		tracer: otel.Tracer("usage-repository"),
	}
}

// Append inserts one ledger row. Rows are never updated or deleted.
func (r *UsageRepository) Append(ctx context.Context, record *entities.UsageRecord) error {
	ctx, span := r.tracer.Start(ctx, "usage_repo.append", trace.WithAttributes(
		attribute.String("feature_id", record.FeatureID),
		attribute.Bool("success", record.Success),
	))
	defer span.End()

	query := `
		INSERT INTO ai_usage_ledger (id, user_id, feature_id, provider, tokens, estimated_cost, request_at, latency_ms, success, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.UserID,
		record.FeatureID,
		record.Provider,
		record.Tokens,
		record.EstimatedCost,
		record.RequestAt,
		record.LatencyMs,
		record.Success,
		record.ErrorMessage,
		record.Metadata,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append usage record: %w", err)
	}

	return nil
}

// Aggregate rolls the ledger up since a cutoff: totals, per-feature and
// per-day breakdowns.
func (r *UsageRepository) Aggregate(ctx context.Context, since time.Time) (*entities.UsageStats, error) {
	ctx, span := r.tracer.Start(ctx, "usage_repo.aggregate", trace.WithAttributes(
		attribute.String("since", since.Format(time.RFC3339)),
	))
	defer span.End()

	stats := &entities.UsageStats{Since: since}

	totalsQuery := `
		SELECT
			COUNT(*) AS total_requests,
			COALESCE(AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END), 0) AS success_rate,
			COALESCE(SUM(tokens), 0) AS total_tokens,
			COALESCE(SUM(estimated_cost), 0) AS total_cost,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM ai_usage_ledger
		WHERE request_at >= $1
	`

	row := r.db.QueryRowContext(ctx, totalsQuery, since)
	if err := row.Scan(
		&stats.TotalRequests,
		&stats.SuccessRate,
		&stats.TotalTokens,
		&stats.TotalCost,
		&stats.AvgLatencyMs,
	); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate usage totals: %w", err)
	}

	featureQuery := `
		SELECT
			feature_id,
			COUNT(*) AS requests,
			COUNT(*) FILTER (WHERE NOT success) AS failures,
			COALESCE(SUM(tokens), 0) AS tokens,
			COALESCE(SUM(estimated_cost), 0) AS estimated_cost,
			COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
		FROM ai_usage_ledger
		WHERE request_at >= $1
		GROUP BY feature_id
		ORDER BY requests DESC
	`

	if err := r.db.SelectContext(ctx, &stats.ByFeature, featureQuery, since); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate usage by feature: %w", err)
	}

	dailyQuery := `
		SELECT
			DATE_TRUNC('day', request_at) AS date,
			COUNT(*) AS requests,
			COALESCE(SUM(tokens), 0) AS tokens,
			COALESCE(SUM(estimated_cost), 0) AS estimated_cost
		FROM ai_usage_ledger
		WHERE request_at >= $1
		GROUP BY DATE_TRUNC('day', request_at)
		ORDER BY date
	`

	if err := r.db.SelectContext(ctx, &stats.Daily, dailyQuery, since); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to aggregate daily usage: %w", err)
	}

	r.logger.Debug("Usage ledger aggregated",
		zap.Int64("total_requests", stats.TotalRequests),
		zap.Int64("total_tokens", stats.TotalTokens),
	)

	return stats, nil
}
