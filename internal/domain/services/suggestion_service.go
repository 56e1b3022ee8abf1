package services

import (
	"context"
	"encoding/json"
	"fmt"
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
	"github.com/chrono-hq/chrono_service/internal/infrastructure/cache"
)

// AIGateway is the generation surface the feature services consume.
// *ai.Client satisfies it.
type AIGateway interface {
	Generate(ctx context.Context, req *ai.GenerateRequest, prefer string) (*ai.GenerationOutcome, error)
	IsAvailable(ctx context.Context) bool
}

// ResponseCache is the namespaced cache and rate-limit surface.
// *cache.AICache satisfies it.
type ResponseCache interface {
	GetJSON(ctx context.Context, namespace string, dest interface{}, parts ...string) bool
	SetJSON(ctx context.Context, namespace string, value interface{}, parts ...string)
	Invalidate(ctx context.Context, namespace string, parts ...string)
	CheckRateLimit(ctx context.Context, userID string, window time.Duration, limit int) (bool, int)
}

// Time-of-day slots used by the time-slot suggestion strategy
const (
	slotEarlyMorning = "early_morning"
	slotMorning      = "morning"
	slotAfternoon    = "afternoon"
	slotEvening      = "evening"
	slotNight        = "night"
)

// SuggestionConfig tunes the suggestion engine
type SuggestionConfig struct {
	ConfidenceThreshold float64
	LookbackDays        int
	DefaultLimit        int
	RequestsPerMinute   int
}

// SuggestionService produces ranked project/task suggestions from usage
// patterns, optionally topped up by a provider call when patterns alone
// cannot fill the requested count.
type SuggestionService struct {
	tracking repositories.TrackingRepository
	gate     *FeatureGateService
	cache    ResponseCache
	gateway  AIGateway
	config   SuggestionConfig
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewSuggestionService creates a new suggestion engine
func NewSuggestionService(
	tracking repositories.TrackingRepository,
	gate *FeatureGateService,
	responseCache ResponseCache,
	gateway AIGateway,
	config SuggestionConfig,
	logger *zap.Logger,
) *SuggestionService {
	return &SuggestionService{
		tracking: tracking,
		gate:     gate,
		cache:    responseCache,
		gateway:  gateway,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer("suggestion-service"),
	}
}

// Suggest returns up to limit ranked suggestions for a user
func (s *SuggestionService) Suggest(ctx context.Context, userID uuid.UUID, partialDescription string, limit int, useAI bool) (*entities.SuggestionResponse, error) {
	ctx, span := s.tracer.Start(ctx, "suggestion_service.suggest", trace.WithAttributes(
		attribute.String("user_id", userID.String()),
		attribute.Bool("use_ai", useAI),
	))
	defer span.End()

	started := time.Now()

	status, err := s.gate.Status(ctx, entities.FeatureSuggestions, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !status.Enabled {
		return &entities.SuggestionResponse{
			Enabled:     false,
			Reason:      status.Reason,
			Suggestions: []entities.Suggestion{},
		}, nil
	}

	if limit <= 0 || limit > 20 {
		limit = s.config.DefaultLimit
	}

	allowed, _ := s.cache.CheckRateLimit(ctx, userID.String(), time.Minute, s.config.RequestsPerMinute)
	if !allowed {
		return &entities.SuggestionResponse{
			Enabled:     false,
			Reason:      "rate limit exceeded",
			RateLimited: true,
			Suggestions: []entities.Suggestion{},
		}, nil
	}

	now := time.Now()
	fingerprint := cache.Fingerprint(map[string]interface{}{
		"hour":        now.Hour(),
		"day_of_week": int(now.Weekday()),
		"partial":     partialDescription,
	})

	var cached entities.SuggestionResponse
	if s.cache.GetJSON(ctx, cache.NamespaceSuggestions, &cached, userID.String(), fingerprint) {
		cached.FromCache = true
		s.gate.LogUsage(ctx, &entities.UsageRecord{
			UserID:    &userID,
			FeatureID: entities.FeatureSuggestions,
			LatencyMs: time.Since(started).Milliseconds(),
			Success:   true,
			Metadata:  cachedMetadata(true),
		})
		return &cached, nil
	}

	lookback := now.AddDate(0, 0, -s.config.LookbackDays)
	entries, err := s.tracking.CompletedEntries(ctx, userID, lookback, now)
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

	candidates := s.patternCandidates(entries, projectNames, partialDescription, now, limit)

	providerUsed := ""
	var tokens int
	if useAI && len(candidates) < limit && s.gateway.IsAvailable(ctx) {
		aiCandidates, provider, aiTokens := s.aiCandidates(ctx, entries, projectNames, partialDescription, limit-len(candidates))
		candidates = append(candidates, aiCandidates...)
		providerUsed = provider
		tokens = aiTokens
	}

	final := s.rank(candidates, limit)

	response := &entities.SuggestionResponse{
		Enabled:     true,
		Suggestions: final,
	}

	s.cache.SetJSON(ctx, cache.NamespaceSuggestions, response, userID.String(), fingerprint)

	s.gate.LogUsage(ctx, &entities.UsageRecord{
		UserID:        &userID,
		FeatureID:     entities.FeatureSuggestions,
		Provider:      providerUsed,
		Tokens:        tokens,
		EstimatedCost: EstimateCost(providerUsed, tokens),
		LatencyMs:     time.Since(started).Milliseconds(),
		Success:       true,
	})

	span.SetAttributes(attribute.Int("suggestions", len(final)))
	return response, nil
}

// patternCandidates runs the four pattern strategies and merges duplicates
// by project, keeping the highest-confidence source.
func (s *SuggestionService) patternCandidates(
	entries []*entities.TimeEntry,
	projectNames map[uuid.UUID]string,
	partialDescription string,
	now time.Time,
	limit int,
) []entities.Suggestion {
	if len(entries) == 0 {
		return nil
	}

	byProject := make(map[uuid.UUID]entities.Suggestion)
	merge := func(cand entities.Suggestion) {
		if _, known := projectNames[cand.ProjectID]; !known {
			return
		}
		existing, ok := byProject[cand.ProjectID]
		if !ok || cand.Confidence > existing.Confidence {
			byProject[cand.ProjectID] = cand
		}
	}

	// Frequency: top projects by recent usage share
	counts := make(map[uuid.UUID]int)
	for _, e := range entries {
		counts[e.ProjectID]++
	}
	for projectID, count := range counts {
		share := float64(count) / float64(len(entries))
		confidence := 0.5 + share*0.5
		if confidence > 0.9 {
			confidence = 0.9
		}
		merge(entities.Suggestion{
			ProjectID:   projectID,
			ProjectName: projectNames[projectID],
			Confidence:  confidence,
			Source:      entities.SuggestionSourcePattern,
			Reason:      fmt.Sprintf("logged %d times in the last %d days", count, s.config.LookbackDays),
		})
	}

	// Time-slot: projects most common for the current slot
	slot := timeSlot(now.Hour())
	slotCounts := make(map[uuid.UUID]int)
	for _, e := range entries {
		if timeSlot(e.StartTime.Hour()) == slot {
			slotCounts[e.ProjectID]++
		}
	}
	for projectID, count := range slotCounts {
		if count < 2 {
			continue
		}
		merge(entities.Suggestion{
			ProjectID:   projectID,
			ProjectName: projectNames[projectID],
			Confidence:  0.6,
			Source:      entities.SuggestionSourcePattern,
			Reason:      fmt.Sprintf("usually worked during the %s", strings.ReplaceAll(slot, "_", " ")),
		})
	}

	// Recency: the most recent entry carries its task and description through
	latest := entries[0]
	for _, e := range entries[1:] {
		if e.StartTime.After(latest.StartTime) {
			latest = e
		}
	}
	merge(entities.Suggestion{
		ProjectID:   latest.ProjectID,
		ProjectName: projectNames[latest.ProjectID],
		TaskID:      latest.TaskID,
		Description: latest.Description,
		Confidence:  0.7,
		Source:      entities.SuggestionSourceRecent,
		Reason:      "most recent project",
	})

	// Keyword: match partial description tokens against recent descriptions
	if partialDescription != "" {
		keywords := tokenize(partialDescription)
		if len(keywords) > 0 {
			matches := make(map[uuid.UUID]int)
			for _, e := range entries {
				desc := strings.ToLower(e.Description)
				for _, kw := range keywords {
					if strings.Contains(desc, kw) {
						matches[e.ProjectID]++
					}
				}
			}
			for projectID, count := range matches {
				confidence := 0.5 + 0.1*float64(count)
				if confidence > 0.9 {
					confidence = 0.9
				}
				merge(entities.Suggestion{
					ProjectID:   projectID,
					ProjectName: projectNames[projectID],
					Confidence:  confidence,
					Source:      entities.SuggestionSourcePattern,
					Reason:      "matches your description",
				})
			}
		}
	}

	out := make([]entities.Suggestion, 0, len(byProject))
	for _, cand := range byProject {
		out = append(out, cand)
	}
	return out
}

// aiCandidates asks the provider for strict-JSON suggestions and keeps
// only those naming an active project.
func (s *SuggestionService) aiCandidates(
	ctx context.Context,
	entries []*entities.TimeEntry,
	projectNames map[uuid.UUID]string,
	partialDescription string,
	want int,
) ([]entities.Suggestion, string, int) {
	var sb strings.Builder
	sb.WriteString("Active projects:\n")
	for id, name := range projectNames {
		fmt.Fprintf(&sb, "- %s: %s\n", id, name)
	}
	sb.WriteString("\nRecent entries (newest first, up to 20):\n")
	shown := 0
	for i := len(entries) - 1; i >= 0 && shown < 20; i-- {
		e := entries[i]
		fmt.Fprintf(&sb, "- %s on %s: %s\n", e.StartTime.Format("Mon 15:04"), projectNames[e.ProjectID], e.Description)
		shown++
	}
	if partialDescription != "" {
		fmt.Fprintf(&sb, "\nThe user started typing: %q\n", partialDescription)
	}
	fmt.Fprintf(&sb, "\nSuggest up to %d likely next entries.", want)

	outcome, err := s.gateway.Generate(ctx, &ai.GenerateRequest{
		SystemPrompt: "You suggest time-tracking entries. Respond with strict JSON only: " +
			`{"suggestions": [{"project_id": "...", "project_name": "...", "task_id": null, "task_name": "", "suggested_description": "", "confidence": 0.0, "reason": ""}]}`,
		UserPrompt: sb.String(),
	}, "")
	if err != nil {
		s.logger.Warn("AI suggestion stage failed, serving pattern results only",
			zap.Error(err),
		)
		return nil, "", 0
	}

	raw, err := json.Marshal(outcome.Parsed)
	if err != nil {
		return nil, outcome.Provider, outcome.TotalTokens()
	}

	var payload struct {
		Suggestions []struct {
			ProjectID            string  `json:"project_id"`
			ProjectName          string  `json:"project_name"`
			TaskID               *string `json:"task_id"`
			TaskName             string  `json:"task_name"`
			SuggestedDescription string  `json:"suggested_description"`
			Confidence           float64 `json:"confidence"`
			Reason               string  `json:"reason"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, outcome.Provider, outcome.TotalTokens()
	}

	var out []entities.Suggestion
	for _, item := range payload.Suggestions {
		projectID, err := uuid.Parse(item.ProjectID)
		if err != nil {
			continue
		}
		if _, active := projectNames[projectID]; !active {
			continue
		}

		cand := entities.Suggestion{
			ProjectID:   projectID,
			ProjectName: projectNames[projectID],
			TaskName:    item.TaskName,
			Description: item.SuggestedDescription,
			Confidence:  clamp01(item.Confidence),
			Source:      entities.SuggestionSourceAI,
			Reason:      item.Reason,
		}
		if item.TaskID != nil {
			if taskID, err := uuid.Parse(*item.TaskID); err == nil {
				cand.TaskID = &taskID
			}
		}
		out = append(out, cand)
	}

	return out, outcome.Provider, outcome.TotalTokens()
}

// rank sorts by confidence, truncates, and drops low-confidence candidates
func (s *SuggestionService) rank(candidates []entities.Suggestion, limit int) []entities.Suggestion {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	out := make([]entities.Suggestion, 0, limit)
	for _, cand := range candidates {
		if cand.Confidence < s.config.ConfidenceThreshold {
			continue
		}
		out = append(out, cand)
		if len(out) == limit {
			break
		}
	}
	return out
}

// timeSlot buckets an hour into one of five day segments
func timeSlot(hour int) string {
	switch {
	case hour >= 5 && hour < 9:
		return slotEarlyMorning
	case hour >= 9 && hour < 12:
		return slotMorning
	case hour >= 12 && hour < 17:
		return slotAfternoon
	case hour >= 17 && hour < 21:
		return slotEvening
	default:
		return slotNight
	}
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "was": true, "are": true,
}

// tokenize lowercases and strips short or stop-listed words
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})

	var out []string
	for _, f := range fields {
		if len(f) < 3 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
