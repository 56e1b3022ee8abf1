package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/repositories"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/ai"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// ReportService builds weekly summaries, project health scores and
// per-user insight digests. The narrative paragraph comes from the
// provider when available and falls back to a deterministic template.
type ReportService struct {
	tracking repositories.TrackingRepository
	gate     *FeatureGateService
	gateway  AIGateway
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewReportService creates a new report summarizer
func NewReportService(
	tracking repositories.TrackingRepository,
	gate *FeatureGateService,
	gateway AIGateway,
	logger *zap.Logger,
) *ReportService {
	return &ReportService{
		tracking: tracking,
		gate:     gate,
		gateway:  gateway,
		logger:   logger,
		tracer:   otel.Tracer("report-service"),
	}
}

// Weekly builds the Monday-to-Sunday report for one user, or for a whole
// team when teamID is set.
func (s *ReportService) Weekly(ctx context.Context, userID uuid.UUID, teamID *uuid.UUID, useAI bool) (*entities.WeeklyReport, error) {
	ctx, span := s.tracer.Start(ctx, "report_service.weekly", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Bool("use_ai", useAI),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureReportSummaries, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	now := time.Now()
	weekStart := startOfWeek(now)
	weekEnd := weekStart.AddDate(0, 0, 7)
	prevStart := weekStart.AddDate(0, 0, -7)

	entries, err := s.scopedEntries(ctx, userID, teamID, weekStart, weekEnd)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	prevEntries, err := s.scopedEntries(ctx, userID, teamID, prevStart, weekStart)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	projects, err := s.tracking.ActiveProjects(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	projectNames := make(map[uuid.UUID]string, len(projects))
	for _, p := range projects {
		projectNames[p.ID] = p.Name
	}

	report := &entities.WeeklyReport{
		WeekStart: weekStart,
		WeekEnd:   weekEnd.AddDate(0, 0, -1),
	}
	if teamID == nil {
		report.UserID = &userID
	}

	byProject := make(map[uuid.UUID]float64)
	for _, e := range entries {
		report.TotalHours += e.Hours()
		byProject[e.ProjectID] += e.Hours()
	}
	for _, e := range prevEntries {
		report.PrevWeekHours += e.Hours()
	}
	report.TotalHours = round1(report.TotalHours)
	report.PrevWeekHours = round1(report.PrevWeekHours)
	report.ProjectCount = len(byProject)

	if report.PrevWeekHours > 0 {
		report.ChangePct = round1((report.TotalHours - report.PrevWeekHours) / report.PrevWeekHours * 100)
	}

	report.TopProjects = topProjects(byProject, projectNames, 5)
	report.DailyHours = dailyBreakdown(entries, weekStart)
	report.Insights = weeklyInsights(report)

	providerUsed := ""
	tokens := 0
	if useAI && s.gateway.IsAvailable(ctx) {
		if summary, provider, n := s.aiNarrative(ctx, report); summary != "" {
			report.Summary = summary
			report.SummarySource = entities.SummarySourceAI
			providerUsed = provider
			tokens = n
		}
	}
	if report.Summary == "" {
		report.Summary = templateNarrative(report)
		report.SummarySource = entities.SummarySourceTemplate
	}

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:        &userID,
		FeatureID:     entities.FeatureReportSummaries,
		Provider:      providerUsed,
		Tokens:        tokens,
		EstimatedCost: EstimateCost(providerUsed, tokens),
		LatencyMs:     time.Since(started).Milliseconds(),
		Success:       true,
	})

	return report, nil
}

// ProjectHealth scores one project's condition out of 100
func (s *ReportService) ProjectHealth(ctx context.Context, userID, projectID uuid.UUID) (*entities.ProjectHealth, error) {
	ctx, span := s.tracer.Start(ctx, "report_service.project_health", trace.WithAttributes(
		attribute.String("project_id", projectID.String()),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureReportSummaries, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	project, err := s.tracking.ProjectByID(ctx, projectID)
	if err != nil {
		return nil, err
	}
	usage, err := s.tracking.ProjectUsage(ctx, projectID)
	if err != nil {
		return nil, err
	}

	// Deactivated tasks count as completed; a project with no tasks sits
	// at a neutral 0.5.
	completionRate := 0.5
	if total, completed, err := s.tracking.TaskCompletion(ctx, projectID); err == nil && total > 0 {
		completionRate = float64(completed) / float64(total)
	}

	trend, err := s.activityTrend(ctx, project, time.Now())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	health := &entities.ProjectHealth{
		ProjectID:      projectID,
		ProjectName:    project.Name,
		CompletionRate: round1(completionRate*100) / 100,
		ActivityTrend:  trend,
		Contributors:   usage.Contributors,
	}

	score := 100.0
	if deduction := (0.5 - completionRate) * 40; deduction > 0 {
		score -= deduction
		health.Factors = append(health.Factors, fmt.Sprintf("task completion at %.0f%%", completionRate*100))
	}
	switch trend {
	case entities.TrendDecreasing:
		score -= 15
		health.Factors = append(health.Factors, "activity is slowing down")
	case "new":
		score -= 5
		health.Factors = append(health.Factors, "project is new, little history")
	}
	if usage.Contributors == 1 {
		score -= 10
		health.Factors = append(health.Factors, "only one contributor")
	}
	if score < 0 {
		score = 0
	}
	health.HealthScore = round1(score)

	switch {
	case score >= 80:
		health.Status = entities.HealthHealthy
	case score >= 60:
		health.Status = entities.HealthModerate
	case score >= 40:
		health.Status = entities.HealthAtRisk
	default:
		health.Status = entities.HealthCritical
	}

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &userID,
		FeatureID: entities.FeatureReportSummaries,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
	})

	return health, nil
}

// UserInsights digests one user's last 30 days. Admins pass targetUserID
// to inspect someone else; handlers enforce that authorization.
func (s *ReportService) UserInsights(ctx context.Context, userID uuid.UUID, targetUserID *uuid.UUID) (*entities.UserInsightsReport, error) {
	ctx, span := s.tracer.Start(ctx, "report_service.user_insights")
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureReportSummaries, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	target := userID
	if targetUserID != nil {
		target = *targetUserID
	}
	user, err := s.tracking.UserByID(ctx, target)
	if err != nil {
		return nil, err
	}

	const periodDays = 30
	now := time.Now()
	entries, err := s.tracking.CompletedEntries(ctx, target, now.AddDate(0, 0, -periodDays), now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	projects, err := s.tracking.ActiveProjects(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	projectNames := make(map[uuid.UUID]string, len(projects))
	for _, p := range projects {
		projectNames[p.ID] = p.Name
	}

	report := &entities.UserInsightsReport{
		UserID:     target,
		PeriodDays: periodDays,
	}

	byProject := make(map[uuid.UUID]float64)
	slotCounts := make(map[string]int)
	for _, e := range entries {
		report.TotalHours += e.Hours()
		byProject[e.ProjectID] += e.Hours()
		slotCounts[timeSlot(e.StartTime.Hour())]++
	}
	report.TotalHours = round1(report.TotalHours)

	days := aggregateDays(entries)
	report.DaysWorked = len(days)
	if len(days) > 0 {
		report.AvgDailyHours = round1(report.TotalHours / float64(len(days)))
	}

	var peak *entities.DayHours
	for _, d := range days {
		if peak == nil || d.hours > peak.Hours {
			peak = &entities.DayHours{Date: d.date, Hours: round1(d.hours)}
		}
	}
	report.PeakDay = peak

	bestSlot, bestCount := "", 0
	for slot, count := range slotCounts {
		if count > bestCount {
			bestSlot, bestCount = slot, count
		}
	}
	report.BusiestSlot = bestSlot

	report.TopProjects = topProjects(byProject, projectNames, 5)
	report.Insights = userInsightRules(report, user.ExpectedHoursPerWeek)

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &userID,
		FeatureID: entities.FeatureReportSummaries,
		LatencyMs: time.Since(started).Milliseconds(),
		Success:   true,
	})

	return report, nil
}

// scopedEntries loads entries for one user or a whole team
func (s *ReportService) scopedEntries(ctx context.Context, userID uuid.UUID, teamID *uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error) {
	if teamID == nil {
		return s.tracking.CompletedEntries(ctx, userID, from, to)
	}

	users, err := s.tracking.ActiveUsers(ctx, teamID)
	if err != nil {
		return nil, err
	}

	var all []*entities.TimeEntry
	for _, user := range users {
		entries, err := s.tracking.CompletedEntries(ctx, user.ID, from, to)
		if err != nil {
			s.logger.Warn("Skipping user in team report",
				zap.String("user_id", user.ID.String()),
				zap.Error(err),
			)
			continue
		}
		all = append(all, entries...)
	}
	return all, nil
}

// activityTrend compares the last two weeks of project activity against
// the two weeks before that.
func (s *ReportService) activityTrend(ctx context.Context, project *entities.Project, now time.Time) (string, error) {
	if project.StartDate != nil && now.Sub(*project.StartDate) < 30*24*time.Hour {
		return "new", nil
	}

	recent, err := s.tracking.ProjectEntries(ctx, project.ID, now.AddDate(0, 0, -14), now)
	if err != nil {
		return "", err
	}
	prior, err := s.tracking.ProjectEntries(ctx, project.ID, now.AddDate(0, 0, -28), now.AddDate(0, 0, -14))
	if err != nil {
		return "", err
	}

	var recentHours, priorHours float64
	for _, e := range recent {
		recentHours += e.Hours()
	}
	for _, e := range prior {
		priorHours += e.Hours()
	}

	if priorHours == 0 {
		if recentHours == 0 {
			return entities.TrendStable, nil
		}
		return entities.TrendIncreasing, nil
	}

	ratio := recentHours / priorHours
	switch {
	case ratio > 1.05:
		return entities.TrendIncreasing, nil
	case ratio < 0.95:
		return entities.TrendDecreasing, nil
	default:
		return entities.TrendStable, nil
	}
}

// aiNarrative asks the provider for a short executive summary
func (s *ReportService) aiNarrative(ctx context.Context, report *entities.WeeklyReport) (string, string, int) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Week of %s: %.1f hours across %d projects (previous week %.1f, change %.1f%%).\n",
		report.WeekStart.Format("Jan 2"), report.TotalHours, report.ProjectCount,
		report.PrevWeekHours, report.ChangePct)
	for i, p := range report.TopProjects {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "- %s: %.1f hours\n", p.ProjectName, p.Hours)
	}
	for i, insight := range report.Insights {
		if i == 3 {
			break
		}
		fmt.Fprintf(&sb, "Insight: %s\n", insight.Message)
	}

	outcome, err := s.gateway.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "You write concise weekly time-tracking summaries for managers. " +
			"Respond with 2-3 plain sentences. No markdown, no lists.",
		UserPrompt: sb.String(),
	}, "")
	if err != nil {
		s.logger.Warn("AI narrative failed, using template summary",
			zap.Error(err),
		)
		return "", "", 0
	}

	text := strings.TrimSpace(outcome.RawResponse)
	if raw, ok := outcome.Parsed["raw_text"].(string); ok {
		text = strings.TrimSpace(raw)
	}
	return text, outcome.Provider, outcome.TotalTokens()
}

func templateNarrative(report *entities.WeeklyReport) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You logged %.1f hours across %d projects this week.", report.TotalHours, report.ProjectCount)
	if report.PrevWeekHours > 0 {
		direction := "about the same as"
		if report.ChangePct > 5 {
			direction = fmt.Sprintf("%.0f%% more than", report.ChangePct)
		} else if report.ChangePct < -5 {
			direction = fmt.Sprintf("%.0f%% less than", -report.ChangePct)
		}
		fmt.Fprintf(&sb, " That is %s last week.", direction)
	}
	if len(report.TopProjects) > 0 {
		fmt.Fprintf(&sb, " Most of your time went to %s (%.1f hours).",
			report.TopProjects[0].ProjectName, report.TopProjects[0].Hours)
	}
	return sb.String()
}

// weeklyInsights derives the standard observations from week metrics
func weeklyInsights(report *entities.WeeklyReport) []entities.Insight {
	insights := []entities.Insight{}

	if report.PrevWeekHours > 0 {
		if report.ChangePct > 20 {
			insights = append(insights, entities.Insight{
				Type:     entities.InsightTrend,
				Severity: entities.SeverityInfo,
				Message:  fmt.Sprintf("Hours increased %.0f%% over last week.", report.ChangePct),
			})
		} else if report.ChangePct < -20 {
			insights = append(insights, entities.Insight{
				Type:           entities.InsightTrend,
				Severity:       entities.SeverityWarning,
				Message:        fmt.Sprintf("Hours dropped %.0f%% from last week.", -report.ChangePct),
				Recommendation: "Check whether time went unlogged.",
			})
		}
	}

	var peak *entities.DayHours
	for i := range report.DailyHours {
		d := &report.DailyHours[i]
		if peak == nil || d.Hours > peak.Hours {
			peak = d
		}
	}
	if peak != nil && peak.Hours > 10 {
		severity := entities.SeverityWarning
		if peak.Hours > 12 {
			severity = entities.SeverityCritical
		}
		insights = append(insights, entities.Insight{
			Type:           entities.InsightWorkload,
			Severity:       severity,
			Message:        fmt.Sprintf("%s was a %.1f-hour day.", peak.Date.Format("Monday"), peak.Hours),
			Recommendation: "Consider spreading work more evenly across the week.",
		})
	}

	if report.ProjectCount > 5 {
		insights = append(insights, entities.Insight{
			Type:           entities.InsightWorkload,
			Severity:       entities.SeverityInfo,
			Message:        fmt.Sprintf("Time was split across %d projects.", report.ProjectCount),
			Recommendation: "Fewer parallel projects usually means better focus.",
		})
	}

	return insights
}

func userInsightRules(report *entities.UserInsightsReport, expectedWeekly float64) []entities.Insight {
	insights := []entities.Insight{}

	if expectedWeekly > 0 && report.AvgDailyHours > 0 {
		weeklyPace := report.AvgDailyHours * 5
		if weeklyPace > expectedWeekly*1.15 {
			insights = append(insights, entities.Insight{
				Type:           entities.InsightWorkload,
				Severity:       entities.SeverityWarning,
				Message:        fmt.Sprintf("Current pace of %.1f hours per week runs well above the expected %.0f.", weeklyPace, expectedWeekly),
				Recommendation: "Review the workload before it becomes routine overtime.",
			})
		}
	}

	if len(report.TopProjects) > 0 && report.TotalHours > 0 {
		share := report.TopProjects[0].Hours / report.TotalHours
		if share > 0.7 {
			insights = append(insights, entities.Insight{
				Type:     entities.InsightWorkload,
				Severity: entities.SeverityInfo,
				Message:  fmt.Sprintf("%.0f%% of time went to %s.", share*100, report.TopProjects[0].ProjectName),
			})
		}
	}

	if report.PeakDay != nil && report.PeakDay.Hours > 12 {
		insights = append(insights, entities.Insight{
			Type:     entities.InsightWorkload,
			Severity: entities.SeverityWarning,
			Message:  fmt.Sprintf("Longest day in the period was %.1f hours.", report.PeakDay.Hours),
		})
	}

	return insights
}

// topProjects ranks projects by hours and keeps the top n
func topProjects(byProject map[uuid.UUID]float64, names map[uuid.UUID]string, n int) []entities.ProjectHours {
	out := make([]entities.ProjectHours, 0, len(byProject))
	for projectID, hours := range byProject {
		name := names[projectID]
		if name == "" {
			name = projectID.String()
		}
		out = append(out, entities.ProjectHours{
			ProjectID:   projectID,
			ProjectName: name,
			Hours:       round1(hours),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hours != out[j].Hours {
			return out[i].Hours > out[j].Hours
		}
		return out[i].ProjectName < out[j].ProjectName
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// dailyBreakdown buckets entries into the seven days starting at weekStart
func dailyBreakdown(entries []*entities.TimeEntry, weekStart time.Time) []entities.DayHours {
	days := make([]entities.DayHours, 7)
	for i := range days {
		days[i].Date = weekStart.AddDate(0, 0, i)
	}
	for _, e := range entries {
		idx := int(math.Floor(truncateDay(e.StartTime).Sub(weekStart).Hours() / 24))
		if idx < 0 || idx > 6 {
			continue
		}
		days[idx].Hours += e.Hours()
	}
	for i := range days {
		days[i].Hours = round1(days[i].Hours)
	}
	return days
}
