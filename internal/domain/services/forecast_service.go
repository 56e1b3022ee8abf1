package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/repositories"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/cache"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

const maxHistoryPeriods = 12

// ForecastConfig tunes the forecaster
type ForecastConfig struct {
	DefaultWeeklyHours float64
}

// ForecastService projects payroll amounts, overtime exposure, project
// budget burn and cash flow from historical periods and time entries.
type ForecastService struct {
	tracking repositories.TrackingRepository
	gate     *FeatureGateService
	cache    ResponseCache
	config   ForecastConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewForecastService creates a new forecaster
func NewForecastService(
	tracking repositories.TrackingRepository,
	gate *FeatureGateService,
	responseCache ResponseCache,
	config ForecastConfig,
	logger *zap.Logger,
) *ForecastService {
	return &ForecastService{
		tracking: tracking,
		gate:     gate,
		cache:    responseCache,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("forecast-service"),
	}
}

// ForecastPayroll projects gross payroll for the next periodsAhead periods
// of the given type.
func (s *ForecastService) ForecastPayroll(ctx context.Context, userID uuid.UUID, periodType string, periodsAhead int, includeOvertime bool) ([]*entities.PayrollForecast, error) {
	ctx, span := s.tracer.Start(ctx, "forecast_service.payroll", trace.WithAttributes(
		attribute.String("period_type", periodType),
		attribute.Int("periods_ahead", periodsAhead),
	))
	defer span.End()

	started := time.Now()

	if err := s.checkGate(ctx, userID); err != nil {
		return nil, err
	}
	if !validPeriodType(periodType) {
		return nil, apperrors.BadInput(fmt.Sprintf("unknown period type %q", periodType))
	}
	if periodsAhead <= 0 || periodsAhead > 6 {
		periodsAhead = 1
	}

	cacheKey := periodType + ":" + strconv.Itoa(periodsAhead)
	var cached []*entities.PayrollForecast
	if s.cache.GetJSON(ctx, cache.ForecastNamespace("payroll"), &cached, cacheKey) {
		return cached, nil
	}

	periods, err := s.tracking.RecentPayPeriods(ctx, periodType, maxHistoryPeriods)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(periods) == 0 {
		return nil, apperrors.NotFound(fmt.Sprintf("pay period history for type %s", periodType))
	}

	// Newest-first from storage; statistics run oldest-first
	history := make([]*entities.PayPeriod, len(periods))
	copy(history, periods)
	sort.Slice(history, func(i, j int) bool { return history[i].EndDate.Before(history[j].EndDate) })

	gross := make([]float64, len(history))
	var regularSum, overtimeSum, grossSum float64
	for i, p := range history {
		gross[i] = p.GrossAmount.InexactFloat64()
		grossSum += gross[i]
		regularSum += p.RegularAmount.InexactFloat64()
		overtimeSum += p.OvertimeAmount.InexactFloat64()
	}

	wma := weightedMovingAverage(gross)
	trend, trendFactor := classifyTrend(gross)
	estimate := wma * trendFactor

	avg := mean(gross)
	sd := stddev(gross, avg)
	confidence := 0.5
	if len(gross) >= 3 && avg > 0 {
		confidence = clampRange(1-sd/avg, 0.5, 1.0)
	}

	lower := math.Max(0, estimate-1.96*sd)
	upper := estimate + 1.96*sd

	regularShare := 1.0
	overtimeShare := 0.0
	if grossSum > 0 {
		regularShare = regularSum / grossSum
		overtimeShare = overtimeSum / grossSum
	}
	if !includeOvertime {
		regularShare = 1.0
		overtimeShare = 0.0
	}

	factors := []string{
		fmt.Sprintf("based on %d historical periods", len(history)),
		fmt.Sprintf("trend is %s (factor %.2f)", trend, trendFactor),
	}
	if includeOvertime && overtimeShare > 0 {
		factors = append(factors, fmt.Sprintf("overtime historically %.0f%% of gross", overtimeShare*100))
	}

	forecasts := make([]*entities.PayrollForecast, 0, periodsAhead)
	lastEnd := history[len(history)-1].EndDate
	for i := 0; i < periodsAhead; i++ {
		start, end := nextPeriodDates(periodType, lastEnd)
		forecasts = append(forecasts, &entities.PayrollForecast{
			PeriodType:      periodType,
			PeriodStart:     start,
			PeriodEnd:       end,
			EstimatedGross:  decimal.NewFromFloat(estimate).Round(2),
			RegularPortion:  decimal.NewFromFloat(estimate * regularShare).Round(2),
			OvertimePortion: decimal.NewFromFloat(estimate * overtimeShare).Round(2),
			Confidence:      confidence,
			LowerBound:      decimal.NewFromFloat(lower).Round(2),
			UpperBound:      decimal.NewFromFloat(upper).Round(2),
			Trend:           trend,
			TrendFactor:     trendFactor,
			Factors:         factors,
			BasedOnPeriods:  len(history),
		})
		lastEnd = end
	}

	s.cache.SetJSON(ctx, cache.ForecastNamespace("payroll"), forecasts, cacheKey)
	s.logUsage(ctx, userID, started)

	return forecasts, nil
}

// AssessOvertime flags users projected to exceed their weekly threshold
// within the next daysAhead days, capped at the end of the current week.
// Only medium risk and above is surfaced.
func (s *ForecastService) AssessOvertime(ctx context.Context, userID uuid.UUID, teamID *uuid.UUID, daysAhead int) ([]*entities.OvertimeRisk, error) {
	ctx, span := s.tracer.Start(ctx, "forecast_service.overtime", trace.WithAttributes(
		attribute.Int("days_ahead", daysAhead),
	))
	defer span.End()

	started := time.Now()

	if err := s.checkGate(ctx, userID); err != nil {
		return nil, err
	}
	if daysAhead <= 0 || daysAhead > 14 {
		daysAhead = 7
	}

	scope := "all"
	if teamID != nil {
		scope = teamID.String()
	}
	var cached []*entities.OvertimeRisk
	if s.cache.GetJSON(ctx, cache.ForecastNamespace("overtime"), &cached, scope, strconv.Itoa(daysAhead)) {
		return cached, nil
	}

	users, err := s.tracking.ActiveUsers(ctx, teamID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := time.Now()
	weekStart := startOfWeek(now)
	risks := []*entities.OvertimeRisk{}

	for _, user := range users {
		risk, err := s.assessUser(ctx, user, weekStart, now, daysAhead)
		if err != nil {
			s.logger.Warn("Overtime assessment failed for user",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if risk.RiskLevel == entities.RiskLow {
			continue
		}
		risks = append(risks, risk)
	}

	sort.SliceStable(risks, func(i, j int) bool {
		return risks[i].ProjectedWeekHours > risks[j].ProjectedWeekHours
	})

	s.cache.SetJSON(ctx, cache.ForecastNamespace("overtime"), risks, scope, strconv.Itoa(daysAhead))
	s.logUsage(ctx, userID, started)

	span.SetAttributes(attribute.Int("at_risk", len(risks)))
	return risks, nil
}

func (s *ForecastService) assessUser(ctx context.Context, user *entities.User, weekStart, now time.Time, daysAhead int) (*entities.OvertimeRisk, error) {
	weekEntries, err := s.tracking.CompletedEntries(ctx, user.ID, weekStart, now)
	if err != nil {
		return nil, err
	}
	var currentWeekHours float64
	for _, e := range weekEntries {
		currentWeekHours += e.Hours()
	}

	histEntries, err := s.tracking.CompletedEntries(ctx, user.ID, now.AddDate(0, 0, -30), now)
	if err != nil {
		return nil, err
	}
	days := aggregateDays(histEntries)
	var avgDaily float64
	if len(days) > 0 {
		var total float64
		for _, d := range days {
			total += d.hours
		}
		avgDaily = total / float64(len(days))
	}

	daysLeft := workdaysAhead(now, daysAhead)
	projected := currentWeekHours + avgDaily*float64(daysLeft)

	threshold := user.ExpectedHoursPerWeek
	if threshold <= 0 {
		threshold = s.config.DefaultWeeklyHours
	}

	level := entities.RiskLow
	switch {
	case projected > 1.2*threshold:
		level = entities.RiskCritical
	case projected > 1.1*threshold:
		level = entities.RiskHigh
	case projected > threshold:
		level = entities.RiskMedium
	}

	risk := &entities.OvertimeRisk{
		UserID:             user.ID,
		UserName:           user.FullName(),
		CurrentWeekHours:   round1(currentWeekHours),
		AvgDailyHours:      round1(avgDaily),
		ProjectedWeekHours: round1(projected),
		WeeklyThreshold:    threshold,
		RiskLevel:          level,
	}

	if level != entities.RiskLow && projected > threshold {
		rate, err := s.tracking.ActivePayRate(ctx, user.ID)
		if err == nil && rate != nil {
			otHours := decimal.NewFromFloat(projected - threshold)
			risk.EstimatedOTCost = rate.HourlyRate.Mul(otHours).Mul(decimal.NewFromFloat(1.5)).Round(2)
		}
	}

	return risk, nil
}

// ForecastProjectBudget projects budget burn for one project or every
// active project.
func (s *ForecastService) ForecastProjectBudget(ctx context.Context, userID uuid.UUID, projectID *uuid.UUID) ([]*entities.ProjectBudgetForecast, error) {
	ctx, span := s.tracer.Start(ctx, "forecast_service.project_budget")
	defer span.End()

	started := time.Now()

	if err := s.checkGate(ctx, userID); err != nil {
		return nil, err
	}

	scope := "all"
	if projectID != nil {
		scope = projectID.String()
	}
	var cached []*entities.ProjectBudgetForecast
	if s.cache.GetJSON(ctx, cache.ForecastNamespace("budget"), &cached, scope) {
		return cached, nil
	}

	var projects []*entities.Project
	if projectID != nil {
		project, err := s.tracking.ProjectByID(ctx, *projectID)
		if err != nil {
			return nil, err
		}
		projects = []*entities.Project{project}
	} else {
		all, err := s.tracking.ActiveProjects(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		// Bound the batch so a large portfolio does not fan out unbounded
		if len(all) > 25 {
			all = all[:25]
		}
		projects = all
	}

	forecasts := make([]*entities.ProjectBudgetForecast, 0, len(projects))
	for _, project := range projects {
		forecast, err := s.budgetForecast(ctx, project)
		if err != nil {
			s.logger.Warn("Budget forecast failed for project",
				zap.String("project_id", project.ID.String()),
				zap.Error(err),
			)
			continue
		}
		forecasts = append(forecasts, forecast)
	}

	s.cache.SetJSON(ctx, cache.ForecastNamespace("budget"), forecasts, scope)
	s.logUsage(ctx, userID, started)

	return forecasts, nil
}

func (s *ForecastService) budgetForecast(ctx context.Context, project *entities.Project) (*entities.ProjectBudgetForecast, error) {
	usage, err := s.tracking.ProjectUsage(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	rate := usage.BlendedRate
	if rate.IsZero() && project.HourlyRate != nil {
		rate = *project.HourlyRate
	}

	spent := decimal.NewFromFloat(usage.TotalHours).Mul(rate).Round(2)

	daysActive := 1
	if usage.FirstEntryAt != nil && usage.LastEntryAt != nil {
		daysActive = int(usage.LastEntryAt.Sub(*usage.FirstEntryAt).Hours()/24) + 1
	}
	dailyBurn := spent.Div(decimal.NewFromInt(int64(daysActive))).Round(2)

	forecast := &entities.ProjectBudgetForecast{
		ProjectID:    project.ID,
		ProjectName:  project.Name,
		BudgetAmount: project.BudgetAmount,
		SpentToDate:  spent,
		DailyBurn:    dailyBurn,
	}

	if project.BudgetAmount == nil || project.BudgetAmount.IsZero() {
		forecast.RiskLevel = entities.RiskUnknown
		forecast.Confidence = 0.3
		forecast.Recommendations = []string{"Set a project budget to enable burn tracking."}
		return forecast, nil
	}

	utilization := spent.Div(*project.BudgetAmount).InexactFloat64() * 100
	forecast.UtilizationPct = round1(utilization)
	forecast.Confidence = 0.8

	switch {
	case utilization > 90:
		forecast.RiskLevel = entities.RiskCritical
		forecast.Recommendations = []string{
			"Budget nearly exhausted. Pause non-essential work.",
			"Review scope with the client before further billing.",
		}
	case utilization > 75:
		forecast.RiskLevel = entities.RiskHigh
		forecast.Recommendations = []string{
			"Burn is ahead of plan. Re-estimate remaining work.",
		}
	case utilization > 50:
		forecast.RiskLevel = entities.RiskMedium
		forecast.Recommendations = []string{
			"Past the halfway mark. Verify remaining scope fits the budget.",
		}
	default:
		forecast.RiskLevel = entities.RiskLow
	}

	if dailyBurn.IsPositive() {
		remaining := project.BudgetAmount.Sub(spent)
		if remaining.IsPositive() {
			daysToExhaustion := remaining.Div(dailyBurn).IntPart()
			completion := time.Now().AddDate(0, 0, int(daysToExhaustion))
			forecast.ProjectedCompletion = &completion
		}
	}

	return forecast, nil
}

// ForecastCashFlow projects payroll outflow week by week from recent
// bi-weekly payroll history.
func (s *ForecastService) ForecastCashFlow(ctx context.Context, userID uuid.UUID, weeksAhead int) (*entities.CashFlowForecast, error) {
	ctx, span := s.tracer.Start(ctx, "forecast_service.cash_flow", trace.WithAttributes(
		attribute.Int("weeks_ahead", weeksAhead),
	))
	defer span.End()

	started := time.Now()

	if err := s.checkGate(ctx, userID); err != nil {
		return nil, err
	}
	if weeksAhead <= 0 || weeksAhead > 26 {
		weeksAhead = 8
	}

	cacheKey := strconv.Itoa(weeksAhead)
	var cached entities.CashFlowForecast
	if s.cache.GetJSON(ctx, cache.ForecastNamespace("cashflow"), &cached, cacheKey) {
		return &cached, nil
	}

	periods, err := s.tracking.RecentPayPeriods(ctx, entities.PeriodTypeBiWeekly, maxHistoryPeriods)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(periods) == 0 {
		return nil, apperrors.NotFound("bi-weekly payroll history")
	}

	history := make([]*entities.PayPeriod, len(periods))
	copy(history, periods)
	sort.Slice(history, func(i, j int) bool { return history[i].EndDate.Before(history[j].EndDate) })

	gross := make([]float64, len(history))
	for i, p := range history {
		gross[i] = p.GrossAmount.InexactFloat64()
	}

	avgPayroll := mean(gross)
	trend, _ := classifyTrend(gross)

	confidence := 0.5
	if len(gross) >= 3 && avgPayroll > 0 {
		confidence = clampRange(1-stddev(gross, avgPayroll)/avgPayroll, 0.5, 1.0)
	}

	forecast := &entities.CashFlowForecast{
		WeeksAhead:    weeksAhead,
		AvgPerPayroll: decimal.NewFromFloat(avgPayroll).Round(2),
		Trend:         trend,
		Confidence:    confidence,
		Weeks:         make([]entities.CashFlowWeek, 0, weeksAhead),
	}

	lastPayday := history[len(history)-1].EndDate
	total := decimal.Zero
	weekStart := startOfWeek(time.Now()).AddDate(0, 0, 7)

	for i := 0; i < weeksAhead; i++ {
		week := entities.CashFlowWeek{WeekStart: weekStart}

		// Bi-weekly cadence: payroll falls every other week from the
		// last recorded payday
		weeksSince := int(weekStart.Sub(lastPayday).Hours() / (24 * 7))
		if weeksSince >= 0 && weeksSince%2 == 0 {
			week.IsPayrollWeek = true
			week.ProjectedPayroll = forecast.AvgPerPayroll
			total = total.Add(forecast.AvgPerPayroll)
		}

		forecast.Weeks = append(forecast.Weeks, week)
		weekStart = weekStart.AddDate(0, 0, 7)
	}
	forecast.TotalProjected = total

	s.cache.SetJSON(ctx, cache.ForecastNamespace("cashflow"), forecast, cacheKey)
	s.logUsage(ctx, userID, started)

	return forecast, nil
}

func (s *ForecastService) checkGate(ctx context.Context, userID uuid.UUID) error {
	status, err := s.gate.Status(ctx, entities.FeaturePayrollForecast, userID)
	if err != nil {
		return err
	}
	if !status.Enabled {
		return apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}
	return nil
}

func (s *ForecastService) logUsage(ctx context.Context, userID uuid.UUID, started time.Time) {
	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &userID,
		FeatureID: entities.FeaturePayrollForecast,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
	})
}

// weightedMovingAverage weights samples 1..N, oldest to newest
func weightedMovingAverage(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var weightedSum, weightTotal float64
	for i, v := range samples {
		w := float64(i + 1)
		weightedSum += v * w
		weightTotal += w
	}
	return weightedSum / weightTotal
}

// classifyTrend compares the mean of the newest three samples against the
// mean of the rest.
func classifyTrend(samples []float64) (string, float64) {
	if len(samples) < 4 {
		return entities.TrendStable, 1.0
	}

	recent := mean(samples[len(samples)-3:])
	older := mean(samples[:len(samples)-3])
	if older <= 0 {
		return entities.TrendStable, 1.0
	}

	ratio := recent / older
	switch {
	case ratio > 1.05:
		return entities.TrendIncreasing, ratio
	case ratio < 0.95:
		return entities.TrendDecreasing, ratio
	default:
		return entities.TrendStable, ratio
	}
}

// nextPeriodDates derives the next period's span from the last end date
func nextPeriodDates(periodType string, lastEnd time.Time) (time.Time, time.Time) {
	start := lastEnd.AddDate(0, 0, 1)

	switch periodType {
	case entities.PeriodTypeWeekly:
		return start, start.AddDate(0, 0, 6)
	case entities.PeriodTypeBiWeekly:
		return start, start.AddDate(0, 0, 13)
	case entities.PeriodTypeSemiMonthly:
		// Months split at the 15th
		if start.Day() <= 15 && start.Day() > 1 {
			start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		}
		if start.Day() == 1 {
			return start, time.Date(start.Year(), start.Month(), 15, 0, 0, 0, 0, start.Location())
		}
		start = time.Date(start.Year(), start.Month(), 16, 0, 0, 0, 0, start.Location())
		return start, endOfMonth(start)
	case entities.PeriodTypeMonthly:
		start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, start.Location())
		return start, endOfMonth(start)
	default:
		return start, start.AddDate(0, 0, 6)
	}
}

func endOfMonth(t time.Time) time.Time {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1)
}

// startOfWeek returns the Monday 00:00 of t's week
func startOfWeek(t time.Time) time.Time {
	offset := int(t.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return truncateDay(t).AddDate(0, 0, -offset)
}

// workdaysAhead counts the Mon-Fri days after t within the next horizon
// days, stopping at the end of the current week.
func workdaysAhead(t time.Time, horizon int) int {
	left := 0
	d := truncateDay(t).AddDate(0, 0, 1)
	for i := 0; i < horizon && d.Weekday() != time.Monday; i++ {
		if !isWeekend(d) {
			left++
		}
		d = d.AddDate(0, 0, 1)
	}
	return left
}

func clampRange(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func validPeriodType(periodType string) bool {
	switch periodType {
	case entities.PeriodTypeWeekly, entities.PeriodTypeBiWeekly,
		entities.PeriodTypeSemiMonthly, entities.PeriodTypeMonthly:
		return true
	}
	return false
}
