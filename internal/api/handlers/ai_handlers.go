package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/domain/services"
)

// AIHandler serves the user-facing AI endpoints: suggestions, anomaly
// scans, forecasts, natural-language entry, and report summaries.
type AIHandler struct {
	suggestions *services.SuggestionService
	anomalies   *services.AnomalyService
	forecasts   *services.ForecastService
	nlp         *services.NLPService
	reports     *services.ReportService
	gate        *services.FeatureGateService
	logger      *zap.Logger
}

// NewAIHandler creates a new AI handler
func NewAIHandler(
	suggestions *services.SuggestionService,
	anomalies *services.AnomalyService,
	forecasts *services.ForecastService,
	nlp *services.NLPService,
	reports *services.ReportService,
	gate *services.FeatureGateService,
	logger *zap.Logger,
) *AIHandler {
	return &AIHandler{
		suggestions: suggestions,
		anomalies:   anomalies,
		forecasts:   forecasts,
		nlp:         nlp,
		reports:     reports,
		gate:        gate,
		logger:      logger,
	}
}

// SuggestRequest is the body for POST /ai/suggestions
type SuggestRequest struct {
	PartialDescription string `json:"partial_description"`
	Limit              int    `json:"limit"`
	UseAI              bool   `json:"use_ai"`
}

// Suggest returns ranked project/task suggestions for the current user
func (h *AIHandler) Suggest(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req SuggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	response, err := h.suggestions.Suggest(c.Request.Context(), userID, req.PartialDescription, req.Limit, req.UseAI)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// ScanAnomalies runs the anomaly scan over the current user's recent entries
func (h *AIHandler) ScanAnomalies(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	report, err := h.anomalies.ScanUser(c.Request.Context(), userID, queryInt(c, "days", 7))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ScanTeamAnomalies runs the anomaly scan across a team
func (h *AIHandler) ScanTeamAnomalies(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	teamID, err := optionalUUIDQuery(c, "team_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	report, err := h.anomalies.ScanTeam(c.Request.Context(), userID, teamID, queryInt(c, "days", 7))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ForecastPayroll projects gross pay for upcoming pay periods
func (h *AIHandler) ForecastPayroll(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	periodType := c.DefaultQuery("period_type", entities.PeriodTypeBiWeekly)
	periodsAhead := queryInt(c, "periods_ahead", 1)
	includeOvertime := queryBool(c, "include_overtime")

	forecasts, err := h.forecasts.ForecastPayroll(c.Request.Context(), userID, periodType, periodsAhead, includeOvertime)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"forecasts": forecasts})
}

// AssessOvertime flags users on pace to exceed their weekly threshold
func (h *AIHandler) AssessOvertime(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	teamID, err := optionalUUIDQuery(c, "team_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}
	daysAhead := queryInt(c, "days_ahead", 7)

	risks, err := h.forecasts.AssessOvertime(c.Request.Context(), userID, teamID, daysAhead)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"risks": risks})
}

// ForecastProjectBudget projects budget burn for one or all active projects
func (h *AIHandler) ForecastProjectBudget(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	projectID, err := optionalUUIDQuery(c, "project_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	forecasts, err := h.forecasts.ForecastProjectBudget(c.Request.Context(), userID, projectID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"forecasts": forecasts})
}

// ForecastCashFlow projects payroll cash requirements over coming weeks
func (h *AIHandler) ForecastCashFlow(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	forecast, err := h.forecasts.ForecastCashFlow(c.Request.Context(), userID, queryInt(c, "weeks", 8))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, forecast)
}

// ParseEntryRequest is the body for POST /ai/nlp/parse
type ParseEntryRequest struct {
	Text     string `json:"text" binding:"required"`
	Timezone string `json:"timezone"`
	UseAI    bool   `json:"use_ai"`
}

// ParseEntry parses free-form text into a structured time entry draft
func (h *AIHandler) ParseEntry(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req ParseEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body: text is required")
		return
	}

	result, err := h.nlp.Parse(c.Request.Context(), userID, req.Text, req.Timezone, req.UseAI)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// ConfirmEntryRequest is the body for POST /ai/nlp/confirm. The result is
// the parse draft being confirmed; the remaining fields are user
// corrections applied on top of it.
type ConfirmEntryRequest struct {
	Result          entities.ParseResult `json:"result" binding:"required"`
	ProjectID       *uuid.UUID           `json:"project_id"`
	TaskID          *uuid.UUID           `json:"task_id"`
	DurationSeconds *int64               `json:"duration_seconds"`
	StartTime       *time.Time           `json:"start_time"`
	Description     *string              `json:"description"`
}

// ConfirmEntry writes a completed time entry from a confirmed parse draft
func (h *AIHandler) ConfirmEntry(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req ConfirmEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}

	entry, err := h.nlp.Confirm(c.Request.Context(), userID, &req.Result, &services.ConfirmOverrides{
		ProjectID:       req.ProjectID,
		TaskID:          req.TaskID,
		DurationSeconds: req.DurationSeconds,
		StartTime:       req.StartTime,
		Description:     req.Description,
	})
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// WeeklyReport builds the weekly summary for the current user or a team
func (h *AIHandler) WeeklyReport(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	teamID, err := optionalUUIDQuery(c, "team_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	report, err := h.reports.Weekly(c.Request.Context(), userID, teamID, queryBool(c, "use_ai"))
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ProjectHealth scores one project's delivery health
func (h *AIHandler) ProjectHealth(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	projectID, err := parseUUIDParam(c, "id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	health, err := h.reports.ProjectHealth(c.Request.Context(), userID, projectID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, health)
}

// UserInsights digests a user's recent activity into headline numbers
func (h *AIHandler) UserInsights(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	targetID, err := optionalUUIDQuery(c, "user_id")
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	report, err := h.reports.UserInsights(c.Request.Context(), userID, targetID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// ListFeatureStatus resolves every known feature's effective state for
// the current user, so clients can render the AI settings screen.
func (h *AIHandler) ListFeatureStatus(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	statuses := make([]*entities.FeatureStatus, 0, len(entities.KnownFeatures))
	for _, featureID := range entities.KnownFeatures {
		status, err := h.gate.Status(c.Request.Context(), featureID, userID)
		if err != nil {
			respondAppError(c, h.logger, err)
			return
		}
		statuses = append(statuses, status)
	}

	c.JSON(http.StatusOK, gin.H{"features": statuses})
}

// SetPreferenceRequest is the body for PUT /ai/features/:feature_id/preference
type SetPreferenceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// SetPreference records the current user's own feature opt-in/out
func (h *AIHandler) SetPreference(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		respondUnauthorized(c)
		return
	}

	var req SetPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		respondBadRequest(c, "Invalid request body: enabled is required")
		return
	}

	featureID := c.Param("feature_id")
	if err := h.gate.SetUserPreference(c.Request.Context(), userID, featureID, *req.Enabled); err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	status, err := h.gate.Status(c.Request.Context(), featureID, userID)
	if err != nil {
		respondAppError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, status)
}
