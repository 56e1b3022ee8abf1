package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
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

// Component weights for the overall parse confidence. Only components
// that actually matched contribute; the average is over their weights.
const (
	weightDuration = 0.3
	weightProject  = 0.4
	weightTask     = 0.2
	weightDate     = 0.1
)

// NLPConfig tunes the natural-language entry parser
type NLPConfig struct {
	ConfidenceThreshold float64
	RequestsPerMinute   int
}

// NLPService turns free-text like "Log 2 hours on Project Alpha
// yesterday" into a structured time entry. Rule-based extraction runs
// first; the provider only refines results that stay below the
// confidence threshold.
type NLPService struct {
	tracking repositories.TrackingRepository
	gate     *FeatureGateService
	cache    ResponseCache
	gateway  AIGateway
	config   NLPConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewNLPService creates a new natural-language entry parser
func NewNLPService(
	tracking repositories.TrackingRepository,
	gate *FeatureGateService,
	responseCache ResponseCache,
	gateway AIGateway,
	config NLPConfig,
	logger *zap.Logger,
) *NLPService {
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.7
	}
	return &NLPService{
		tracking: tracking,
		gate:     gate,
		cache:    responseCache,
		gateway:  gateway,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("nlp-service"),
	}
}

// Parse interprets one free-text time entry for a user
func (s *NLPService) Parse(ctx context.Context, userID uuid.UUID, text, timezone string, useAI bool) (*entities.ParseResult, error) {
	ctx, span := s.tracer.Start(ctx, "nlp_service.parse", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Bool("use_ai", useAI),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureNLPEntry, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return nil, apperrors.Wrap(apperrors.ErrFeatureDisabled, nil).WithDetail("reason", status.Reason)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperrors.BadInput("text is required")
	}

	allowed, _ := s.cache.CheckRateLimit(ctx, userID.String(), time.Minute, s.config.RequestsPerMinute)
	if !allowed {
		return nil, apperrors.Wrap(apperrors.ErrRateLimit, nil)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	now := time.Now().In(loc)

	result := &entities.ParseResult{OriginalText: text}
	lower := strings.ToLower(text)
	removed := []string{}

	// Duration
	durationSeconds, durationToken, durationConf := parseDuration(lower)
	if durationSeconds > 0 {
		result.DurationSeconds = &durationSeconds
		removed = append(removed, durationToken)
		result.Entities = append(result.Entities, entities.ParsedEntity{
			Type: "duration", Value: durationToken, Confidence: durationConf,
		})
	}

	// Date. An unmatched date defaults to today without contributing to
	// confidence.
	day, dateToken, dateConf := parseDay(lower, durationToken, now)
	if dateToken != "" {
		removed = append(removed, dateToken)
		result.Entities = append(result.Entities, entities.ParsedEntity{
			Type: "date", Value: dateToken, Confidence: dateConf,
		})
	}

	// Project
	projects, err := s.tracking.ActiveProjects(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	project, projectConf := matchProject(lower, projects)
	if project != nil {
		result.ProjectID = &project.ID
		result.ProjectName = project.Name
		removed = append(removed, strings.ToLower(project.Name))
		result.Entities = append(result.Entities, entities.ParsedEntity{
			Type: "project", Value: project.Name, Confidence: projectConf,
		})
	}

	// Task, scoped to the matched project
	taskConf := 0.0
	if project != nil {
		tasks, err := s.tracking.TasksForProject(ctx, project.ID)
		if err == nil {
			if task, conf := matchTask(lower, tasks); task != nil {
				result.TaskID = &task.ID
				result.TaskName = task.Name
				taskConf = conf
				removed = append(removed, strings.ToLower(task.Name))
				result.Entities = append(result.Entities, entities.ParsedEntity{
					Type: "task", Value: task.Name, Confidence: conf,
				})
			}
		}
	}

	result.Description = extractDescription(text, removed)

	start := day
	result.StartTime = &start
	if result.DurationSeconds != nil {
		end := start.Add(time.Duration(*result.DurationSeconds) * time.Second)
		result.EndTime = &end
	}

	result.Confidence = overallConfidence(durationConf, projectConf, taskConf, dateConf)

	providerUsed := ""
	tokens := 0
	if useAI && result.Confidence < s.config.ConfidenceThreshold && s.gateway.IsAvailable(ctx) {
		providerUsed, tokens = s.refine(ctx, result, projects, loc, now)
	}

	result.ConfidenceLevel = confidenceLevel(result.Confidence)
	if result.Confidence < s.config.ConfidenceThreshold {
		result.NeedsClarification = true
		result.ClarificationPrompt = clarificationPrompt(result)
	}

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:        &userID,
		FeatureID:     entities.FeatureNLPEntry,
		Provider:      providerUsed,
		Tokens:        tokens,
		EstimatedCost: EstimateCost(providerUsed, tokens),
		LatencyMs:     time.Since(started).Milliseconds(),
		Success:       true,
	})

	span.SetAttributes(attribute.Float64("confidence", result.Confidence))
	return result, nil
}

// ConfirmOverrides carries user corrections applied before writing the entry
type ConfirmOverrides struct {
	ProjectID       *uuid.UUID
	TaskID          *uuid.UUID
	DurationSeconds *int64
	StartTime       *time.Time
	Description     *string
}

// Confirm writes a completed time entry from a (possibly corrected)
// parse result. A project plus either a duration or a start time is the
// minimum accepted.
func (s *NLPService) Confirm(ctx context.Context, userID uuid.UUID, result *entities.ParseResult, overrides *ConfirmOverrides) (*entities.TimeEntry, error) {
	ctx, span := s.tracer.Start(ctx, "nlp_service.confirm", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
	))
	defer span.End()

	if result == nil {
		return nil, apperrors.BadInput("parse result is required")
	}

	projectID := result.ProjectID
	taskID := result.TaskID
	duration := result.DurationSeconds
	start := result.StartTime
	description := result.Description
	if overrides != nil {
		if overrides.ProjectID != nil {
			projectID = overrides.ProjectID
		}
		if overrides.TaskID != nil {
			taskID = overrides.TaskID
		}
		if overrides.DurationSeconds != nil {
			duration = overrides.DurationSeconds
		}
		if overrides.StartTime != nil {
			start = overrides.StartTime
		}
		if overrides.Description != nil {
			description = *overrides.Description
		}
	}

	if projectID == nil {
		return nil, apperrors.BadInput("a project is required to confirm the entry")
	}
	if duration == nil && start == nil {
		return nil, apperrors.BadInput("a duration or start time is required to confirm the entry")
	}

	if _, err := s.tracking.ProjectByID(ctx, *projectID); err != nil {
		return nil, err
	}

	now := time.Now()
	var startTime, endTime time.Time
	var durationSeconds int64
	switch {
	case duration != nil && start != nil:
		startTime = *start
		durationSeconds = *duration
		endTime = startTime.Add(time.Duration(durationSeconds) * time.Second)
	case duration != nil:
		durationSeconds = *duration
		endTime = now
		startTime = now.Add(-time.Duration(durationSeconds) * time.Second)
	default:
		startTime = *start
		endTime = now
		durationSeconds = int64(endTime.Sub(startTime).Seconds())
	}

	if durationSeconds < 60 {
		return nil, apperrors.BadInput("entry duration must be at least one minute")
	}

	entry := &entities.TimeEntry{
		ID:              uuid.New(),
		UserID:          userID,
		ProjectID:       *projectID,
		TaskID:          taskID,
		Description:     description,
		StartTime:       startTime,
		EndTime:         &endTime,
		DurationSeconds: durationSeconds,
		Status:          entities.EntryStatusCompleted,
		CreatedAt:       now,
	}

	if err := s.tracking.CreateEntry(ctx, entry); err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:    &userID,
		FeatureID: entities.FeatureNLPEntry,
		Success:   true,
	})

	return entry, nil
}

// refine asks the provider for a strict-JSON reading of the text and
// backfills whatever the rules missed. A successful refinement lifts the
// confidence by 0.15.
func (s *NLPService) refine(ctx context.Context, result *entities.ParseResult, projects []*entities.Project, loc *time.Location, now time.Time) (string, int) {
	var sb strings.Builder
	sb.WriteString("Active projects:\n")
	for _, p := range projects {
		fmt.Fprintf(&sb, "- %s\n", p.Name)
	}
	fmt.Fprintf(&sb, "\nToday is %s.\nParse this time entry: %q\n", now.Format("2006-01-02"), result.OriginalText)

	outcome, err := s.gateway.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "You parse time-tracking entries. Respond with strict JSON only: " +
			`{"duration_hours": null, "duration_minutes": null, "project_name": null, "description": null, "date": "YYYY-MM-DD or null"}`,
		UserPrompt: sb.String(),
	}, "")
	if err != nil {
		s.logger.Warn("AI refinement failed, keeping rule-based parse",
			zap.Error(err),
		)
		return "", 0
	}

	raw, err := json.Marshal(outcome.Parsed)
	if err != nil {
		return outcome.Provider, outcome.TotalTokens()
	}
	var payload struct {
		DurationHours   *float64 `json:"duration_hours"`
		DurationMinutes *float64 `json:"duration_minutes"`
		ProjectName     *string  `json:"project_name"`
		Description     *string  `json:"description"`
		Date            *string  `json:"date"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return outcome.Provider, outcome.TotalTokens()
	}

	if result.DurationSeconds == nil {
		var seconds int64
		if payload.DurationHours != nil {
			seconds += int64(*payload.DurationHours * 3600)
		}
		if payload.DurationMinutes != nil {
			seconds += int64(*payload.DurationMinutes * 60)
		}
		if seconds > 0 {
			result.DurationSeconds = &seconds
		}
	}

	if result.ProjectID == nil && payload.ProjectName != nil {
		name := strings.ToLower(strings.TrimSpace(*payload.ProjectName))
		for _, p := range projects {
			candidate := strings.ToLower(p.Name)
			if candidate == name || strings.Contains(candidate, name) || strings.Contains(name, candidate) {
				result.ProjectID = &p.ID
				result.ProjectName = p.Name
				break
			}
		}
	}

	if result.Description == "" && payload.Description != nil {
		result.Description = strings.TrimSpace(*payload.Description)
	}

	if payload.Date != nil {
		if day, err := time.ParseInLocation("2006-01-02", *payload.Date, loc); err == nil {
			result.StartTime = &day
			if result.DurationSeconds != nil {
				end := day.Add(time.Duration(*result.DurationSeconds) * time.Second)
				result.EndTime = &end
			}
		}
	}
	if result.StartTime != nil && result.EndTime == nil && result.DurationSeconds != nil {
		end := result.StartTime.Add(time.Duration(*result.DurationSeconds) * time.Second)
		result.EndTime = &end
	}

	result.Confidence = clamp01(result.Confidence + 0.15)
	return outcome.Provider, outcome.TotalTokens()
}

// Duration patterns, tried in order; the first match wins
var (
	reHours     = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(?:hours|hrs|hour|hr|h)\b`)
	reMinutes   = regexp.MustCompile(`\b(\d+)\s*(?:minutes|mins|minute|min|m)\b`)
	reClock     = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)
	reCompound  = regexp.MustCompile(`\b(\d+)h(?:(\d+)m?)?\b`)
	reAndAHalf  = regexp.MustCompile(`\b(\d+) and a half hours?\b`)
	reHalfHour  = regexp.MustCompile(`\bhalf (?:an? )?hour\b`)
	reQuarterHr = regexp.MustCompile(`\bquarter (?:of an? )?hour\b`)
)

// parseDuration extracts a duration in seconds plus the literal token it
// matched, for later removal from the description.
func parseDuration(lower string) (int64, string, float64) {
	if m := reHours.FindStringSubmatch(lower); m != nil {
		hours, _ := strconv.ParseFloat(m[1], 64)
		return int64(hours * 3600), m[0], 0.9
	}
	if m := reMinutes.FindStringSubmatch(lower); m != nil {
		minutes, _ := strconv.ParseInt(m[1], 10, 64)
		return minutes * 60, m[0], 0.9
	}
	if m := reClock.FindStringSubmatch(lower); m != nil {
		hours, _ := strconv.ParseInt(m[1], 10, 64)
		minutes, _ := strconv.ParseInt(m[2], 10, 64)
		if minutes < 60 {
			return hours*3600 + minutes*60, m[0], 0.9
		}
	}
	if m := reCompound.FindStringSubmatch(lower); m != nil {
		hours, _ := strconv.ParseInt(m[1], 10, 64)
		var minutes int64
		if m[2] != "" {
			minutes, _ = strconv.ParseInt(m[2], 10, 64)
		}
		return hours*3600 + minutes*60, m[0], 0.9
	}
	if m := reAndAHalf.FindStringSubmatch(lower); m != nil {
		hours, _ := strconv.ParseInt(m[1], 10, 64)
		return hours*3600 + 1800, m[0], 0.9
	}
	if m := reHalfHour.FindString(lower); m != "" {
		return 1800, m, 0.9
	}
	if m := reQuarterHr.FindString(lower); m != "" {
		return 900, m, 0.9
	}
	return 0, "", 0
}

var dateKeywords = []struct {
	token  string
	offset int
}{
	{"yesterday", -1},
	{"tomorrow", 1},
	{"last week", -7},
	{"this morning", 0},
	{"this afternoon", 0},
	{"this evening", 0},
	{"today", 0},
}

var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// parseDay resolves the entry's calendar day. Keywords first, then day
// names ("friday" is the most recent past Friday, "next friday" the
// coming one), then a literal date. An empty token means today was
// assumed.
func parseDay(lower, durationToken string, now time.Time) (time.Time, string, float64) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	for _, kw := range dateKeywords {
		if strings.Contains(lower, kw.token) {
			return dayStart.AddDate(0, 0, kw.offset), kw.token, 0.9
		}
	}

	for name, weekday := range weekdayNames {
		if !strings.Contains(lower, name) {
			continue
		}
		if strings.Contains(lower, "next "+name) {
			ahead := int(weekday-now.Weekday()+7) % 7
			if ahead == 0 {
				ahead = 7
			}
			return dayStart.AddDate(0, 0, ahead), "next " + name, 0.8
		}
		back := int(now.Weekday()-weekday+7) % 7
		if back == 0 {
			back = 7
		}
		return dayStart.AddDate(0, 0, -back), name, 0.8
	}

	// Literal dates, checked token-wise after stripping the duration
	cleaned := lower
	if durationToken != "" {
		cleaned = strings.ReplaceAll(cleaned, durationToken, " ")
	}
	for _, token := range strings.Fields(cleaned) {
		for _, layout := range []string{"2006-01-02", "01/02/2006", "1/2/2006"} {
			parsed, err := time.ParseInLocation(layout, token, now.Location())
			if err != nil {
				continue
			}
			if parsed.Equal(dayStart) {
				continue
			}
			return parsed, token, 0.6
		}
	}

	return dayStart, "", 0
}

// matchProject scores every active project against the text and keeps
// the best candidate at or above 0.3.
func matchProject(lower string, projects []*entities.Project) (*entities.Project, float64) {
	var best *entities.Project
	bestScore := 0.0

	for _, p := range projects {
		name := strings.ToLower(p.Name)
		if name == "" {
			continue
		}

		score := 0.0
		if strings.Contains(lower, name) {
			score = 0.95
		}
		if ratio := similarityRatio(name, lower); ratio > score {
			score = ratio
		}
		if hits := wordHitRatio(name, lower); hits > score {
			score = hits
		}

		if score > bestScore {
			best = p
			bestScore = score
		}
	}

	if bestScore < 0.3 {
		return nil, 0
	}
	return best, bestScore
}

// matchTask scores the matched project's tasks against the text
func matchTask(lower string, tasks []*entities.Task) (*entities.Task, float64) {
	var best *entities.Task
	bestScore := 0.0

	for _, t := range tasks {
		name := strings.ToLower(t.Name)
		if name == "" {
			continue
		}

		score := similarityRatio(name, lower)
		if strings.Contains(lower, name) {
			score = 0.95
		}

		if score > bestScore {
			best = t
			bestScore = score
		}
	}

	if bestScore < 0.4 {
		return nil, 0
	}
	return best, bestScore
}

// similarityRatio is a normalized edit-distance similarity in [0,1]
func similarityRatio(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// wordHitRatio is the share of a name's significant words present in the text
func wordHitRatio(name, lower string) float64 {
	words := strings.Fields(name)
	significant, hits := 0, 0
	for _, w := range words {
		if len(w) < 3 {
			continue
		}
		significant++
		if strings.Contains(lower, w) {
			hits++
		}
	}
	if significant == 0 {
		return 0
	}
	return float64(hits) / float64(significant)
}

var fillerWords = map[string]bool{
	"on": true, "for": true, "at": true, "in": true,
	"worked": true, "log": true, "logged": true, "spent": true, "doing": true,
}

// extractDescription strips the matched tokens and filler words from the
// text, leaving whatever the user said about the work itself.
func extractDescription(text string, removed []string) string {
	out := strings.ToLower(text)
	for _, token := range removed {
		out = strings.ReplaceAll(out, token, " ")
	}

	var kept []string
	for _, word := range strings.Fields(out) {
		if fillerWords[word] {
			continue
		}
		kept = append(kept, word)
	}
	return strings.Join(kept, " ")
}

// overallConfidence is a weighted average over the components that matched
func overallConfidence(duration, project, task, date float64) float64 {
	var sum, weights float64
	if duration > 0 {
		sum += weightDuration * duration
		weights += weightDuration
	}
	if project > 0 {
		sum += weightProject * project
		weights += weightProject
	}
	if task > 0 {
		sum += weightTask * task
		weights += weightTask
	}
	if date > 0 {
		sum += weightDate * date
		weights += weightDate
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func confidenceLevel(confidence float64) string {
	switch {
	case confidence >= 0.8:
		return entities.ConfidenceHigh
	case confidence >= 0.5:
		return entities.ConfidenceMedium
	default:
		return entities.ConfidenceLow
	}
}

// clarificationPrompt names the missing pieces a confirm would need
func clarificationPrompt(result *entities.ParseResult) string {
	var missing []string
	if result.DurationSeconds == nil {
		missing = append(missing, "how long you worked")
	}
	if result.ProjectID == nil {
		missing = append(missing, "which project this was for")
	}
	if len(missing) == 0 {
		return "Please confirm the details of this entry."
	}
	return "Could you tell me " + strings.Join(missing, " and ") + "?"
}
