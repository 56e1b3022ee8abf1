package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

func newForecastForTest(tracking *fakeTrackingRepo) *ForecastService {
	gate, _, _ := newEnabledGate()
	return NewForecastService(tracking, gate, newFakeCache(), ForecastConfig{DefaultWeeklyHours: 40}, zap.NewNop())
}

func payPeriod(periodType string, end time.Time, gross, regular, overtime float64) *entities.PayPeriod {
	return &entities.PayPeriod{
		ID:             uuid.New(),
		PeriodType:     periodType,
		StartDate:      end.AddDate(0, 0, -13),
		EndDate:        end,
		Status:         entities.PeriodStatusPaid,
		GrossAmount:    decimal.NewFromFloat(gross),
		RegularAmount:  decimal.NewFromFloat(regular),
		OvertimeAmount: decimal.NewFromFloat(overtime),
	}
}

func TestForecastPayrollStableHistory(t *testing.T) {
	tracking := newFakeTrackingRepo()
	end := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		tracking.periods = append(tracking.periods,
			payPeriod(entities.PeriodTypeBiWeekly, end.AddDate(0, 0, -14*i), 10000, 9000, 1000))
	}

	svc := newForecastForTest(tracking)

	forecasts, err := svc.ForecastPayroll(context.Background(), uuid.New(), entities.PeriodTypeBiWeekly, 1, true)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)

	forecast := forecasts[0]
	assert.Equal(t, entities.TrendStable, forecast.Trend)
	assert.True(t, forecast.EstimatedGross.Equal(decimal.NewFromInt(10000)),
		"estimate %s", forecast.EstimatedGross)
	assert.True(t, forecast.RegularPortion.Equal(decimal.NewFromInt(9000)))
	assert.True(t, forecast.OvertimePortion.Equal(decimal.NewFromInt(1000)))
	assert.InDelta(t, 1.0, forecast.Confidence, 0.001)
	assert.True(t, forecast.LowerBound.Equal(forecast.UpperBound))
	assert.Equal(t, 4, forecast.BasedOnPeriods)

	// The next period starts the day after the newest one ends
	assert.Equal(t, end.AddDate(0, 0, 1), forecast.PeriodStart)
	assert.Equal(t, end.AddDate(0, 0, 14), forecast.PeriodEnd)
}

func TestForecastPayrollDetectsGrowth(t *testing.T) {
	tracking := newFakeTrackingRepo()
	end := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	// Newest first, growing over time
	amounts := []float64{14000, 13500, 13000, 10000, 10000, 10000}
	for i, gross := range amounts {
		tracking.periods = append(tracking.periods,
			payPeriod(entities.PeriodTypeBiWeekly, end.AddDate(0, 0, -14*i), gross, gross, 0))
	}

	svc := newForecastForTest(tracking)

	forecasts, err := svc.ForecastPayroll(context.Background(), uuid.New(), entities.PeriodTypeBiWeekly, 1, false)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)

	assert.Equal(t, entities.TrendIncreasing, forecasts[0].Trend)
	assert.Greater(t, forecasts[0].TrendFactor, 1.05)
	assert.True(t, forecasts[0].EstimatedGross.GreaterThan(decimal.NewFromInt(10000)))
}

func TestForecastPayrollNoHistory(t *testing.T) {
	svc := newForecastForTest(newFakeTrackingRepo())

	_, err := svc.ForecastPayroll(context.Background(), uuid.New(), entities.PeriodTypeWeekly, 1, false)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err))
}

func TestForecastPayrollUnknownPeriodType(t *testing.T) {
	svc := newForecastForTest(newFakeTrackingRepo())

	_, err := svc.ForecastPayroll(context.Background(), uuid.New(), "fortnightly", 1, false)
	assert.Equal(t, apperrors.ErrorTypeBadInput, apperrors.GetType(err))
}

func TestNextPeriodDates(t *testing.T) {
	loc := time.UTC
	date := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}

	start, end := nextPeriodDates(entities.PeriodTypeWeekly, date(2026, 1, 7))
	assert.Equal(t, date(2026, 1, 8), start)
	assert.Equal(t, date(2026, 1, 14), end)

	start, end = nextPeriodDates(entities.PeriodTypeBiWeekly, date(2026, 1, 14))
	assert.Equal(t, date(2026, 1, 15), start)
	assert.Equal(t, date(2026, 1, 28), end)

	// Semi-monthly flips between mid-month and month-end halves
	start, end = nextPeriodDates(entities.PeriodTypeSemiMonthly, date(2026, 1, 15))
	assert.Equal(t, date(2026, 1, 16), start)
	assert.Equal(t, date(2026, 1, 31), end)

	start, end = nextPeriodDates(entities.PeriodTypeSemiMonthly, date(2026, 1, 31))
	assert.Equal(t, date(2026, 2, 1), start)
	assert.Equal(t, date(2026, 2, 15), end)

	start, end = nextPeriodDates(entities.PeriodTypeMonthly, date(2026, 1, 31))
	assert.Equal(t, date(2026, 2, 1), start)
	assert.Equal(t, date(2026, 2, 28), end)
}

func TestWeightedMovingAverageFavorsRecent(t *testing.T) {
	// Oldest to newest; the newest sample carries the most weight
	wma := weightedMovingAverage([]float64{100, 100, 200})
	assert.InDelta(t, 150, wma, 0.01)

	assert.Equal(t, 0.0, weightedMovingAverage(nil))
}

func TestAssessUserOvertimeLadder(t *testing.T) {
	tracking := newFakeTrackingRepo()
	user := &entities.User{
		ID:                   uuid.New(),
		FirstName:            "Dana",
		LastName:             "Reyes",
		ExpectedHoursPerWeek: 40,
		IsActive:             true,
	}
	tracking.users = []*entities.User{user}
	tracking.payRates[user.ID] = &entities.PayRate{
		UserID:     user.ID,
		HourlyRate: decimal.NewFromInt(50),
		Active:     true,
	}

	// A Wednesday. Ten-hour days Monday through Wednesday plus a
	// ten-hour daily average project to 50 hours for the week.
	now := time.Date(2026, 8, 19, 18, 0, 0, 0, time.UTC)
	weekStart := startOfWeek(now)
	projectID := uuid.New()
	for i := 0; i < 3; i++ {
		tracking.entries = append(tracking.entries,
			entryOn(user.ID, projectID, weekStart.AddDate(0, 0, i), 10))
	}
	for i := 4; i <= 20; i++ {
		tracking.entries = append(tracking.entries,
			entryOn(user.ID, projectID, now.AddDate(0, 0, -i), 10))
	}

	svc := newForecastForTest(tracking)

	risk, err := svc.assessUser(context.Background(), user, weekStart, now, 7)
	require.NoError(t, err)

	assert.InDelta(t, 30, risk.CurrentWeekHours, 0.01)
	assert.InDelta(t, 10, risk.AvgDailyHours, 0.01)
	assert.InDelta(t, 50, risk.ProjectedWeekHours, 0.01)
	assert.Equal(t, entities.RiskCritical, risk.RiskLevel)

	// Ten projected overtime hours at 50/h with the 1.5 multiplier
	assert.True(t, risk.EstimatedOTCost.Equal(decimal.NewFromInt(750)),
		"cost %s", risk.EstimatedOTCost)
}

func TestAssessUserHonorsHorizon(t *testing.T) {
	tracking := newFakeTrackingRepo()
	user := &entities.User{
		ID:                   uuid.New(),
		FirstName:            "Dana",
		LastName:             "Reyes",
		ExpectedHoursPerWeek: 40,
		IsActive:             true,
	}
	tracking.users = []*entities.User{user}

	// Same Wednesday shape as the ladder test: 30 hours logged, a
	// ten-hour daily average
	now := time.Date(2026, 8, 19, 18, 0, 0, 0, time.UTC)
	weekStart := startOfWeek(now)
	projectID := uuid.New()
	for i := 0; i < 3; i++ {
		tracking.entries = append(tracking.entries,
			entryOn(user.ID, projectID, weekStart.AddDate(0, 0, i), 10))
	}
	for i := 4; i <= 20; i++ {
		tracking.entries = append(tracking.entries,
			entryOn(user.ID, projectID, now.AddDate(0, 0, -i), 10))
	}

	svc := newForecastForTest(tracking)

	// A one-day horizon only projects Thursday: 40 hours, right at the
	// threshold, so no risk is raised
	risk, err := svc.assessUser(context.Background(), user, weekStart, now, 1)
	require.NoError(t, err)
	assert.InDelta(t, 40, risk.ProjectedWeekHours, 0.01)
	assert.Equal(t, entities.RiskLow, risk.RiskLevel)

	// The full week projects Thursday and Friday as well
	risk, err = svc.assessUser(context.Background(), user, weekStart, now, 7)
	require.NoError(t, err)
	assert.InDelta(t, 50, risk.ProjectedWeekHours, 0.01)
	assert.Equal(t, entities.RiskCritical, risk.RiskLevel)
}

func TestForecastProjectBudgetRiskLevels(t *testing.T) {
	tracking := newFakeTrackingRepo()
	budget := decimal.NewFromInt(10000)
	first := time.Now().AddDate(0, 0, -20)
	last := time.Now().AddDate(0, 0, -1)

	hot := &entities.Project{ID: uuid.New(), Name: "Hot Project", Active: true, BudgetAmount: &budget}
	tracking.projects = []*entities.Project{hot}
	tracking.usage[hot.ID] = &entities.ProjectUsage{
		ProjectID:    hot.ID,
		TotalHours:   95,
		BlendedRate:  decimal.NewFromInt(100),
		Contributors: 3,
		FirstEntryAt: &first,
		LastEntryAt:  &last,
	}

	svc := newForecastForTest(tracking)

	forecasts, err := svc.ForecastProjectBudget(context.Background(), uuid.New(), &hot.ID)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)

	forecast := forecasts[0]
	assert.True(t, forecast.SpentToDate.Equal(decimal.NewFromInt(9500)))
	assert.InDelta(t, 95, forecast.UtilizationPct, 0.01)
	assert.Equal(t, entities.RiskCritical, forecast.RiskLevel)
	assert.NotEmpty(t, forecast.Recommendations)
	assert.NotNil(t, forecast.ProjectedCompletion)
}

func TestForecastProjectBudgetWithoutBudget(t *testing.T) {
	tracking := newFakeTrackingRepo()
	internal := &entities.Project{ID: uuid.New(), Name: "Internal", Active: true}
	tracking.projects = []*entities.Project{internal}
	tracking.usage[internal.ID] = &entities.ProjectUsage{
		ProjectID:   internal.ID,
		TotalHours:  40,
		BlendedRate: decimal.NewFromInt(80),
	}

	svc := newForecastForTest(tracking)

	forecasts, err := svc.ForecastProjectBudget(context.Background(), uuid.New(), &internal.ID)
	require.NoError(t, err)
	require.Len(t, forecasts, 1)

	assert.Equal(t, entities.RiskUnknown, forecasts[0].RiskLevel)
	assert.True(t, forecasts[0].SpentToDate.Equal(decimal.NewFromInt(3200)))
}

func TestForecastCashFlowFlagsPayrollWeeks(t *testing.T) {
	tracking := newFakeTrackingRepo()
	// Last payday lands on the most recent Friday so the cadence is
	// predictable relative to now.
	lastPayday := startOfWeek(time.Now()).AddDate(0, 0, 4)
	for i := 0; i < 4; i++ {
		tracking.periods = append(tracking.periods,
			payPeriod(entities.PeriodTypeBiWeekly, lastPayday.AddDate(0, 0, -14*i), 8000, 8000, 0))
	}

	svc := newForecastForTest(tracking)

	forecast, err := svc.ForecastCashFlow(context.Background(), uuid.New(), 8)
	require.NoError(t, err)
	require.Len(t, forecast.Weeks, 8)

	assert.True(t, forecast.AvgPerPayroll.Equal(decimal.NewFromInt(8000)))

	payrollWeeks := 0
	for _, week := range forecast.Weeks {
		if week.IsPayrollWeek {
			payrollWeeks++
			assert.True(t, week.ProjectedPayroll.Equal(forecast.AvgPerPayroll))
		}
	}
	assert.Equal(t, 4, payrollWeeks, "every other week should carry a payroll")
	assert.True(t, forecast.TotalProjected.Equal(decimal.NewFromInt(32000)))
}

func TestForecastDisabledFeature(t *testing.T) {
	gate, features, _ := newEnabledGate()
	features.settings[entities.FeaturePayrollForecast].Enabled = false

	svc := NewForecastService(newFakeTrackingRepo(), gate, newFakeCache(), ForecastConfig{DefaultWeeklyHours: 40}, zap.NewNop())

	_, err := svc.ForecastPayroll(context.Background(), uuid.New(), entities.PeriodTypeWeekly, 1, false)
	assert.Equal(t, apperrors.ErrorTypeFeatureDisabled, apperrors.GetType(err))
}
