package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/repositories"
)

// Rough per-1k-token blended prices used for ledger cost estimates.
// These are dashboard approximations, not billing figures.
var tokenPricePerThousand = map[string]decimal.Decimal{
	entities.ProviderGemini:    decimal.NewFromFloat(0.000375),
	entities.ProviderOpenAI:    decimal.NewFromFloat(0.000375),
	entities.ProviderAnthropic: decimal.NewFromFloat(0.002),
}

// UsageService serves ledger aggregates to admin dashboards
type UsageService struct {
	usage  repositories.UsageRepository
	logger *zap.Logger
	tracer trace.Tracer
}

// NewUsageService creates a new usage service
func NewUsageService(usage repositories.UsageRepository, logger *zap.Logger) *UsageService {
	return &UsageService{
		usage:  usage,
		logger: logger,
		tracer: otel.Tracer("usage-service"),
	}
}

// Stats aggregates the ledger over the trailing number of days
func (s *UsageService) Stats(ctx context.Context, days int) (*entities.UsageStats, error) {
	ctx, span := s.tracer.Start(ctx, "usage_service.stats", trace.WithAttributes(
		attribute.Int("days", days),
	))
	defer span.End()

	if days <= 0 {
		days = 30
	}

	since := time.Now().UTC().AddDate(0, 0, -days)
	stats, err := s.usage.Aggregate(ctx, since)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return stats, nil
}

// EstimateCost converts a token count to an approximate dollar cost for
// the given provider. Unknown providers estimate at zero.
func EstimateCost(provider string, tokens int) *decimal.Decimal {
	price, ok := tokenPricePerThousand[provider]
	if !ok || tokens <= 0 {
		return nil
	}
	cost := price.Mul(decimal.NewFromInt(int64(tokens))).Div(decimal.NewFromInt(1000))
	return &cost
}
