package services

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/chrono-hq/chrono_service/internal/infrastructure/cache"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// AnomalyConfig tunes the rule and statistical detectors
type AnomalyConfig struct {
	ExtendedDayHours    float64
	ConsecutiveLongDays int
	WeekendHours        float64
	LongDayHours        float64
	MinSamplesForStat   int
	BaselineDays        int
}

// AnomalyService scans time entries for unhealthy work patterns. Rule
// detectors always run; the statistical detector joins in when enough
// baseline history exists.
type AnomalyService struct {
	tracking  repositories.TrackingRepository
	baselines repositories.BaselineRepository
	gate      *FeatureGateService
	cache     ResponseCache
	config    AnomalyConfig
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewAnomalyService creates a new anomaly detector
func NewAnomalyService(
	tracking repositories.TrackingRepository,
	baselines repositories.BaselineRepository,
	gate *FeatureGateService,
	responseCache ResponseCache,
	config AnomalyConfig,
	logger *zap.Logger,
) *AnomalyService {
	return &AnomalyService{
		tracking:  tracking,
		baselines: baselines,
		gate:      gate,
		cache:     responseCache,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("anomaly-service"),
	}
}

// dayStats aggregates one calendar day of entries
type dayStats struct {
	date     time.Time
	hours    float64
	count    int
	earliest time.Time
	latest   time.Time
}

// ScanUser runs every detector over one user's recent entries
func (s *AnomalyService) ScanUser(ctx context.Context, userID uuid.UUID, periodDays int) (*entities.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "anomaly_service.scan_user", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Int("period_days", periodDays),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureAnomalyAlerts, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	if periodDays <= 0 || periodDays > 90 {
		periodDays = 7
	}

	report, err := s.cachedScan(ctx, userID, periodDays)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &userID,
		FeatureID: entities.FeatureAnomalyAlerts,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
		Metadata:  cachedMetadata(report.FromCache),
	})

	span.SetAttributes(attribute.Int("findings", len(report.Findings)))
	return report, nil
}

// cachedScan serves today's report for one user from cache when present,
// scanning and caching otherwise.
func (s *AnomalyService) cachedScan(ctx context.Context, userID uuid.UUID, periodDays int) (*entities.AnomalyReport, error) {
	today := time.Now().Format("2006-01-02")

	var cached entities.AnomalyReport
	if s.cache.GetJSON(ctx, cache.NamespaceAnomalies, &cached, today, userID.String()) {
		cached.FromCache = true
		return &cached, nil
	}

	report, err := s.scan(ctx, userID, periodDays)
	if err != nil {
		return nil, err
	}

	s.cache.SetJSON(ctx, cache.NamespaceAnomalies, report, today, userID.String())
	return report, nil
}

// ScanTeam scans every active user in scope through the per-user cached
// path and returns the combined findings ordered most severe first. The
// aggregate itself is cached per day under the scope.
func (s *AnomalyService) ScanTeam(ctx context.Context, requesterID uuid.UUID, teamID *uuid.UUID, periodDays int) (*entities.AnomalyReport, error) {
	ctx, span := s.tracer.Start(ctx, "anomaly_service.scan_team", trace.WithAttributes(
		attribute.Int("period_days", periodDays),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureAnomalyAlerts, requesterID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	if periodDays <= 0 || periodDays > 90 {
		periodDays = 7
	}

	scope := "all"
	if teamID != nil {
		scope = teamID.String()
	}
	today := time.Now().Format("2006-01-02")

	var cached entities.AnomalyReport
	if s.cache.GetJSON(ctx, cache.NamespaceAnomalies, &cached, today, scope) {
		cached.FromCache = true
		s.gate.LogUsage(ctx, &entities.UsageRecord{
			UserID:    &requesterID,
			FeatureID: entities.FeatureAnomalyAlerts,
			LatencyMs: time.Since(started).Milliseconds(),
			Success:   true,
			Metadata:  cachedMetadata(true),
		})
		return &cached, nil
	}

	users, err := s.tracking.ActiveUsers(ctx, teamID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	report := &entities.AnomalyReport{
		PeriodDays:  periodDays,
		Findings:    []entities.Finding{},
		GeneratedAt: time.Now().UTC(),
	}

	for _, user := range users {
		userReport, err := s.cachedScan(ctx, user.ID, periodDays)
		if err != nil {
			s.logger.Warn("User scan failed during team sweep",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
			continue
		}
		report.Findings = append(report.Findings, userReport.Findings...)
	}

	sort.SliceStable(report.Findings, func(i, j int) bool {
		return report.Findings[i].Severity.Rank() < report.Findings[j].Severity.Rank()
	})

	s.cache.SetJSON(ctx, cache.NamespaceAnomalies, report, today, scope)

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &requesterID,
		FeatureID: entities.FeatureAnomalyAlerts,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
	})

	span.SetAttributes(attribute.Int("findings", len(report.Findings)))
	return report, nil
}

func (s *AnomalyService) scan(ctx context.Context, userID uuid.UUID, periodDays int) (*entities.AnomalyReport, error) {
	now := time.Now()
	from := truncateDay(now.AddDate(0, 0, -periodDays))

	entries, err := s.tracking.CompletedEntries(ctx, userID, from, now)
	if err != nil {
		return nil, err
	}

	days := aggregateDays(entries)
	metrics := s.deriveMetrics(days, from, now)

	findings := s.ruleFindings(userID, entries, days, metrics, now)
	findings = append(findings, s.statisticalFindings(ctx, userID, days, now)...)

	return &entities.AnomalyReport{
		UserID:      &userID,
		PeriodDays:  periodDays,
		Findings:    findings,
		Metrics:     metrics,
		GeneratedAt: now.UTC(),
	}, nil
}

func aggregateDays(entries []*entities.TimeEntry) map[string]*dayStats {
	days := make(map[string]*dayStats)
	for _, e := range entries {
		key := e.StartTime.Format("2006-01-02")
		d, ok := days[key]
		if !ok {
			d = &dayStats{date: truncateDay(e.StartTime), earliest: e.StartTime, latest: e.StartTime}
			days[key] = d
		}
		d.hours += e.Hours()
		d.count++
		if e.StartTime.Before(d.earliest) {
			d.earliest = e.StartTime
		}
		end := e.StartTime
		if e.EndTime != nil {
			end = *e.EndTime
		}
		if end.After(d.latest) {
			d.latest = end
		}
	}
	return days
}

func (s *AnomalyService) deriveMetrics(days map[string]*dayStats, from, to time.Time) *entities.WorkMetrics {
	metrics := &entities.WorkMetrics{}

	ordered := sortedDays(days)
	streak, maxStreak := 0, 0
	var prev time.Time

	for _, d := range ordered {
		metrics.TotalHours += d.hours
		metrics.DaysWorked++
		metrics.EntryCount += d.count
		if d.hours > metrics.MaxHoursDay {
			metrics.MaxHoursDay = d.hours
		}
		if isWeekend(d.date) {
			metrics.WeekendHours += d.hours
		}

		if d.hours >= s.config.LongDayHours {
			// Calendar-day adjacency; clock arithmetic misses the 23h
			// and 25h days around DST changes
			if !prev.IsZero() && prev.AddDate(0, 0, 1).Equal(d.date) {
				streak++
			} else {
				streak = 1
			}
			if streak > maxStreak {
				maxStreak = streak
			}
			prev = d.date
		} else {
			streak = 0
			prev = time.Time{}
		}
	}
	metrics.ConsecutiveLongDays = maxStreak

	if metrics.DaysWorked > 0 {
		metrics.AvgHoursPerDay = metrics.TotalHours / float64(metrics.DaysWorked)
	}

	// Weekdays with under an hour logged. Weekends are not expected work
	// days and are skipped.
	for d := truncateDay(from); d.Before(truncateDay(to)); d = d.AddDate(0, 0, 1) {
		if isWeekend(d) {
			continue
		}
		stats, ok := days[d.Format("2006-01-02")]
		if !ok || stats.hours < 1 {
			metrics.MissingWeekdays = append(metrics.MissingWeekdays, d.Format("2006-01-02"))
		}
	}

	return metrics
}

func (s *AnomalyService) ruleFindings(
	userID uuid.UUID,
	entries []*entities.TimeEntry,
	days map[string]*dayStats,
	metrics *entities.WorkMetrics,
	now time.Time,
) []entities.Finding {
	findings := []entities.Finding{}

	for _, d := range sortedDays(days) {
		if d.hours < s.config.ExtendedDayHours {
			continue
		}
		severity := entities.SeverityWarning
		if d.hours >= 14 {
			severity = entities.SeverityCritical
		}
		findings = append(findings, entities.Finding{
			Type:        entities.FindingExtendedDay,
			Severity:    severity,
			UserID:      userID,
			Description: fmt.Sprintf("%.1f hours logged on %s", d.hours, d.date.Format("2006-01-02")),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"date":  d.date.Format("2006-01-02"),
				"hours": d.hours,
			},
			Recommendation: "Consider splitting long days or verifying the entry is correct.",
		})
	}

	if metrics.ConsecutiveLongDays >= s.config.ConsecutiveLongDays {
		findings = append(findings, entities.Finding{
			Type:        entities.FindingConsecutiveLongDays,
			Severity:    entities.SeverityCritical,
			UserID:      userID,
			Description: fmt.Sprintf("%d consecutive days of %.0f+ hours", metrics.ConsecutiveLongDays, s.config.LongDayHours),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"consecutive_days": metrics.ConsecutiveLongDays,
				"threshold_hours":  s.config.LongDayHours,
			},
			Recommendation: "Sustained long days erode output quality. Plan recovery time.",
		})
	}

	if metrics.WeekendHours >= s.config.WeekendHours {
		severity := entities.SeverityInfo
		if metrics.WeekendHours >= 8 {
			severity = entities.SeverityWarning
		}
		findings = append(findings, entities.Finding{
			Type:        entities.FindingWeekendSpike,
			Severity:    severity,
			UserID:      userID,
			Description: fmt.Sprintf("%.1f hours logged on weekends", metrics.WeekendHours),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"weekend_hours": metrics.WeekendHours,
			},
		})
	}

	if len(metrics.MissingWeekdays) >= 2 {
		shown := metrics.MissingWeekdays
		if len(shown) > 5 {
			shown = shown[:5]
		}
		findings = append(findings, entities.Finding{
			Type:        entities.FindingMissingTime,
			Severity:    entities.SeverityInfo,
			UserID:      userID,
			Description: fmt.Sprintf("%d weekdays with under an hour logged", len(metrics.MissingWeekdays)),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"missing_days": shown,
			},
			Recommendation: "Backfill missing days before the payroll cutoff.",
		})
	}

	// Repeated same-day same-project entries usually mean a double log
	dupCounts := make(map[string]int)
	for _, e := range entries {
		dupCounts[e.StartTime.Format("2006-01-02")+":"+e.ProjectID.String()]++
	}
	for key, count := range dupCounts {
		if count <= 3 {
			continue
		}
		findings = append(findings, entities.Finding{
			Type:        entities.FindingDuplicateEntry,
			Severity:    entities.SeverityInfo,
			UserID:      userID,
			Description: fmt.Sprintf("%d entries for one project on a single day", count),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"key":   key,
				"count": count,
			},
		})
	}

	if burnout := s.burnoutScore(metrics); burnout >= 40 {
		severity := entities.SeverityWarning
		if burnout >= 60 {
			severity = entities.SeverityCritical
		}
		findings = append(findings, entities.Finding{
			Type:        entities.FindingBurnoutRisk,
			Severity:    severity,
			UserID:      userID,
			Description: fmt.Sprintf("Burnout risk score %d/100", burnout),
			DetectedAt:  now.UTC(),
			Details: map[string]interface{}{
				"score":                 burnout,
				"avg_hours_per_day":     metrics.AvgHoursPerDay,
				"consecutive_long_days": metrics.ConsecutiveLongDays,
				"weekend_hours":         metrics.WeekendHours,
			},
			Recommendation: "Review workload distribution with the team lead.",
		})
	}

	return findings
}

// burnoutScore is a weighted composite out of 100
func (s *AnomalyService) burnoutScore(metrics *entities.WorkMetrics) int {
	score := 0
	if metrics.AvgHoursPerDay > 9 {
		score += 20
	}
	if metrics.ConsecutiveLongDays >= 3 {
		score += 30
	}
	if metrics.WeekendHours > 4 {
		score += 15
	}
	if metrics.MaxHoursDay > 12 {
		score += 20
	}
	if metrics.DaysWorked == 7 {
		score += 15
	}
	return score
}

// statisticalFindings scores each day's feature vector against the user's
// baseline. Without enough baseline history it contributes nothing;
// a thin dataset never fails a scan.
func (s *AnomalyService) statisticalFindings(ctx context.Context, userID uuid.UUID, days map[string]*dayStats, now time.Time) []entities.Finding {
	baseline, err := s.baselines.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("Baseline lookup failed, skipping statistical detector",
			zap.String("user_id", userID.String()),
			zap.Error(err),
		)
		return nil
	}
	if baseline == nil || baseline.SampleDays < s.config.MinSamplesForStat {
		return nil
	}
	if baseline.StdDailyHours <= 0 {
		return nil
	}

	var findings []entities.Finding
	for _, d := range sortedDays(days) {
		score := s.outlierScore(baseline, d)
		if score < 2.0 {
			continue
		}

		confidence := math.Min(1, score/4)
		findings = append(findings, entities.Finding{
			Type:     entities.FindingStatisticalOutlier,
			Severity: entities.SeverityWarning,
			UserID:   userID,
			Description: fmt.Sprintf("Work pattern on %s deviates strongly from your baseline",
				d.date.Format("2006-01-02")),
			DetectedAt: now.UTC(),
			Details: map[string]interface{}{
				"date":           d.date.Format("2006-01-02"),
				"hours":          d.hours,
				"baseline_hours": baseline.AvgDailyHours,
				"score":          score,
			},
			Confidence: confidence,
		})
	}
	return findings
}

// outlierScore averages the absolute z-scores of the day's features
// against the baseline.
func (s *AnomalyService) outlierScore(baseline *entities.Baseline, d *dayStats) float64 {
	var zs []float64

	zs = append(zs, math.Abs(d.hours-baseline.AvgDailyHours)/baseline.StdDailyHours)

	if baseline.EntriesPerDay > 0 {
		zs = append(zs, math.Abs(float64(d.count)-baseline.EntriesPerDay)/math.Max(1, baseline.EntriesPerDay))
	}

	startHour := float64(d.earliest.Hour()) + float64(d.earliest.Minute())/60
	endHour := float64(d.latest.Hour()) + float64(d.latest.Minute())/60
	zs = append(zs, math.Abs(startHour-baseline.TypicalStartHour)/3)
	zs = append(zs, math.Abs(endHour-baseline.TypicalEndHour)/3)

	var sum float64
	for _, z := range zs {
		sum += z
	}
	return sum / float64(len(zs))
}

func sortedDays(days map[string]*dayStats) []*dayStats {
	out := make([]*dayStats, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// cachedMetadata marks ledger rows for requests served from cache
func cachedMetadata(fromCache bool) json.RawMessage {
	if !fromCache {
		return nil
	}
	return json.RawMessage(`{"cached": true}`)
}
