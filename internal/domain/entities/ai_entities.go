package entities

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Supported AI providers
const (
	ProviderGemini      = "gemini"
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderAzureOpenAI = "azure_openai"
)

// KnownProviders lists every provider the credential store accepts
var KnownProviders = []string{ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderAzureOpenAI}

// ProviderCredential is an encrypted API key for an external AI provider.
// EncryptedKey holds the vault blob; the cleartext key only exists
// transiently in memory around a generate call.
type ProviderCredential struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	Provider     string     `json:"provider" db:"provider"`
	EncryptedKey string     `json:"-" db:"encrypted_key"`
	Preview      string     `json:"preview" db:"preview"`
	Label        string     `json:"label" db:"label"`
	Active       bool       `json:"active" db:"active"`
	UsageCount   int64      `json:"usage_count" db:"usage_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedBy    uuid.UUID  `json:"created_by" db:"created_by"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Recognized AI feature identifiers
const (
	FeatureSuggestions     = "ai_suggestions"
	FeatureAnomalyAlerts   = "ai_anomaly_alerts"
	FeaturePayrollForecast = "ai_payroll_forecast"
	FeatureNLPEntry        = "ai_nlp_entry"
	FeatureReportSummaries = "ai_report_summaries"
	FeatureTaskEstimation  = "ai_task_estimation"
)

// KnownFeatures lists every feature id the gate recognizes
var KnownFeatures = []string{
	FeatureSuggestions,
	FeatureAnomalyAlerts,
	FeaturePayrollForecast,
	FeatureNLPEntry,
	FeatureReportSummaries,
	FeatureTaskEstimation,
}

// FeatureSetting is the global admin-controlled switch for one AI feature
type FeatureSetting struct {
	FeatureID          string          `json:"feature_id" db:"feature_id"`
	DisplayName        string          `json:"display_name" db:"display_name"`
	Description        string          `json:"description" db:"description"`
	Enabled            bool            `json:"enabled" db:"enabled"`
	RequiresCredential bool            `json:"requires_credential" db:"requires_credential"`
	ProviderHint       string          `json:"provider_hint" db:"provider_hint"`
	Config             json.RawMessage `json:"config,omitempty" db:"config"`
	UpdatedBy          *uuid.UUID      `json:"updated_by,omitempty" db:"updated_by"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
}

// UserFeaturePreference is a per-user opt-in/out, optionally locked by an admin
type UserFeaturePreference struct {
	UserID        uuid.UUID  `json:"user_id" db:"user_id"`
	FeatureID     string     `json:"feature_id" db:"feature_id"`
	Enabled       bool       `json:"enabled" db:"enabled"`
	AdminOverride bool       `json:"admin_override" db:"admin_override"`
	OverrideBy    *uuid.UUID `json:"override_by,omitempty" db:"override_by"`
	PriorEnabled  *bool      `json:"prior_enabled,omitempty" db:"prior_enabled"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// FeatureStatus is the resolved gate decision for one (feature, user) pair
type FeatureStatus struct {
	FeatureID     string `json:"feature_id"`
	Enabled       bool   `json:"enabled"`
	GlobalEnabled bool   `json:"global_enabled"`
	UserEnabled   *bool  `json:"user_enabled,omitempty"`
	AdminOverride bool   `json:"admin_override"`
	Reason        string `json:"reason"`
}

// UsageRecord is one appended row in the AI usage ledger
type UsageRecord struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	UserID        *uuid.UUID       `json:"user_id,omitempty" db:"user_id"`
	FeatureID     string           `json:"feature_id" db:"feature_id"`
	Provider      string           `json:"provider,omitempty" db:"provider"`
	Tokens        int              `json:"tokens" db:"tokens"`
	EstimatedCost *decimal.Decimal `json:"estimated_cost,omitempty" db:"estimated_cost"`
	RequestAt     time.Time        `json:"request_at" db:"request_at"`
	LatencyMs     int64            `json:"latency_ms" db:"latency_ms"`
	Success       bool             `json:"success" db:"success"`
	ErrorMessage  string           `json:"error_message,omitempty" db:"error_message"`
	Metadata      json.RawMessage  `json:"metadata,omitempty" db:"metadata"`
}

// FeatureUsage aggregates ledger rows for one feature
type FeatureUsage struct {
	FeatureID     string          `json:"feature_id" db:"feature_id"`
	Requests      int64           `json:"requests" db:"requests"`
	Failures      int64           `json:"failures" db:"failures"`
	Tokens        int64           `json:"tokens" db:"tokens"`
	EstimatedCost decimal.Decimal `json:"estimated_cost" db:"estimated_cost"`
	AvgLatencyMs  float64         `json:"avg_latency_ms" db:"avg_latency_ms"`
}

// DailyUsage is one day's worth of ledger activity
type DailyUsage struct {
	Date          time.Time       `json:"date" db:"date"`
	Requests      int64           `json:"requests" db:"requests"`
	Tokens        int64           `json:"tokens" db:"tokens"`
	EstimatedCost decimal.Decimal `json:"estimated_cost" db:"estimated_cost"`
}

// UsageStats is the ledger aggregate served to admin dashboards
type UsageStats struct {
	Since         time.Time       `json:"since"`
	TotalRequests int64           `json:"total_requests"`
	SuccessRate   float64         `json:"success_rate"`
	TotalTokens   int64           `json:"total_tokens"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	AvgLatencyMs  float64         `json:"avg_latency_ms"`
	ByFeature     []FeatureUsage  `json:"by_feature"`
	Daily         []DailyUsage    `json:"daily"`
}

// Severity of an anomaly finding
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities: critical < warning < info. Used for sorting
// team-scan results most urgent first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Anomaly finding types
const (
	FindingExtendedDay         = "extended_day"
	FindingConsecutiveLongDays = "consecutive_long_days"
	FindingWeekendSpike        = "weekend_spike"
	FindingMissingTime         = "missing_time"
	FindingDuplicateEntry      = "duplicate_entry"
	FindingBurnoutRisk         = "burnout_risk"
	FindingStatisticalOutlier  = "statistical_outlier"
	FindingPatternDeviation    = "pattern_deviation"
	FindingBehavioralChange    = "behavioral_change"
	FindingWorkloadImbalance   = "workload_imbalance"
	FindingTimePatternAnomaly  = "time_pattern_anomaly"
)

// Finding is one detected anomaly for a user
type Finding struct {
	Type           string                 `json:"type"`
	Severity       Severity               `json:"severity"`
	UserID         uuid.UUID              `json:"user_id"`
	Description    string                 `json:"description"`
	DetectedAt     time.Time              `json:"detected_at"`
	Details        map[string]interface{} `json:"details,omitempty"`
	Recommendation string                 `json:"recommendation,omitempty"`
	Confidence     float64                `json:"confidence,omitempty"`
}

// WorkMetrics are the per-user derived metrics an anomaly scan computes
type WorkMetrics struct {
	TotalHours          float64  `json:"total_hours"`
	AvgHoursPerDay      float64  `json:"avg_hours_per_day"`
	MaxHoursDay         float64  `json:"max_hours_day"`
	DaysWorked          int      `json:"days_worked"`
	WeekendHours        float64  `json:"weekend_hours"`
	ConsecutiveLongDays int      `json:"consecutive_long_days"`
	MissingWeekdays     []string `json:"missing_weekdays,omitempty"`
	EntryCount          int      `json:"entry_count"`
}

// AnomalyReport is the result of scanning one user (or a team) over a window
type AnomalyReport struct {
	UserID      *uuid.UUID   `json:"user_id,omitempty"`
	PeriodDays  int          `json:"period_days"`
	Findings    []Finding    `json:"findings"`
	Metrics     *WorkMetrics `json:"metrics,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
	FromCache   bool         `json:"from_cache"`
}

// Baseline holds a user's rolling work-pattern statistics used to
// normalize statistical anomaly features
type Baseline struct {
	UserID                  uuid.UUID `json:"user_id" db:"user_id"`
	AvgDailyHours           float64   `json:"avg_daily_hours" db:"avg_daily_hours"`
	StdDailyHours           float64   `json:"std_daily_hours" db:"std_daily_hours"`
	TypicalStartHour        float64   `json:"typical_start_hour" db:"typical_start_hour"`
	TypicalEndHour          float64   `json:"typical_end_hour" db:"typical_end_hour"`
	PreferredWeekdays       []int     `json:"preferred_weekdays" db:"-"`
	AvgEntryDurationMinutes float64   `json:"avg_entry_duration_minutes" db:"avg_entry_duration_minutes"`
	EntriesPerDay           float64   `json:"entries_per_day" db:"entries_per_day"`
	SampleDays              int       `json:"sample_days" db:"sample_days"`
	ComputedAt              time.Time `json:"computed_at" db:"computed_at"`
}

// Suggestion provenance
const (
	SuggestionSourcePattern = "pattern"
	SuggestionSourceRecent  = "recent"
	SuggestionSourceAI      = "ai"
)

// Suggestion is one ranked project/task candidate
type Suggestion struct {
	ProjectID   uuid.UUID  `json:"project_id"`
	ProjectName string     `json:"project_name"`
	TaskID      *uuid.UUID `json:"task_id,omitempty"`
	TaskName    string     `json:"task_name,omitempty"`
	Description string     `json:"description,omitempty"`
	Confidence  float64    `json:"confidence"`
	Source      string     `json:"source"`
	Reason      string     `json:"reason,omitempty"`
}

// SuggestionResponse is the typed outcome of a suggest call. A disabled
// feature or exhausted rate limit yields Enabled=false with a reason and
// an empty result set rather than an error.
type SuggestionResponse struct {
	Enabled     bool         `json:"enabled"`
	Reason      string       `json:"reason,omitempty"`
	Suggestions []Suggestion `json:"suggestions"`
	FromCache   bool         `json:"from_cache"`
	RateLimited bool         `json:"rate_limited,omitempty"`
}

// Forecast trend labels
const (
	TrendIncreasing = "increasing"
	TrendStable     = "stable"
	TrendDecreasing = "decreasing"
)

// PayrollForecast projects the next pay period's gross amount
type PayrollForecast struct {
	PeriodType      string          `json:"period_type"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	EstimatedGross  decimal.Decimal `json:"estimated_gross"`
	RegularPortion  decimal.Decimal `json:"regular_portion"`
	OvertimePortion decimal.Decimal `json:"overtime_portion"`
	Confidence      float64         `json:"confidence"`
	LowerBound      decimal.Decimal `json:"lower_bound"`
	UpperBound      decimal.Decimal `json:"upper_bound"`
	Trend           string          `json:"trend"`
	TrendFactor     float64         `json:"trend_factor"`
	Factors         []string        `json:"factors,omitempty"`
	BasedOnPeriods  int             `json:"based_on_periods"`
}

// Overtime risk levels
const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
	RiskUnknown  = "unknown"
)

// OvertimeRisk flags a user projected to exceed the weekly threshold
type OvertimeRisk struct {
	UserID             uuid.UUID       `json:"user_id"`
	UserName           string          `json:"user_name"`
	CurrentWeekHours   float64         `json:"current_week_hours"`
	AvgDailyHours      float64         `json:"avg_daily_hours"`
	ProjectedWeekHours float64         `json:"projected_week_hours"`
	WeeklyThreshold    float64         `json:"weekly_threshold"`
	RiskLevel          string          `json:"risk_level"`
	EstimatedOTCost    decimal.Decimal `json:"estimated_overtime_cost"`
}

// ProjectBudgetForecast projects budget burn for one project
type ProjectBudgetForecast struct {
	ProjectID           uuid.UUID        `json:"project_id"`
	ProjectName         string           `json:"project_name"`
	BudgetAmount        *decimal.Decimal `json:"budget_amount,omitempty"`
	SpentToDate         decimal.Decimal  `json:"spent_to_date"`
	UtilizationPct      float64          `json:"utilization_pct"`
	DailyBurn           decimal.Decimal  `json:"daily_burn"`
	ProjectedCompletion *time.Time       `json:"projected_completion,omitempty"`
	RiskLevel           string           `json:"risk_level"`
	Recommendations     []string         `json:"recommendations,omitempty"`
	Confidence          float64          `json:"confidence"`
}

// CashFlowWeek is one week of projected payroll outflow
type CashFlowWeek struct {
	WeekStart        time.Time       `json:"week_start"`
	ProjectedPayroll decimal.Decimal `json:"projected_payroll"`
	IsPayrollWeek    bool            `json:"is_payroll_week"`
}

// CashFlowForecast projects payroll outflow week by week
type CashFlowForecast struct {
	WeeksAhead     int             `json:"weeks_ahead"`
	AvgPerPayroll  decimal.Decimal `json:"avg_per_payroll"`
	TotalProjected decimal.Decimal `json:"total_projected"`
	Trend          string          `json:"trend"`
	Confidence     float64         `json:"confidence"`
	Weeks          []CashFlowWeek  `json:"weeks"`
}

// NLP confidence levels
const (
	ConfidenceLow    = "low"
	ConfidenceMedium = "medium"
	ConfidenceHigh   = "high"
)

// ParsedEntity is one extracted fragment of a natural-language entry
type ParsedEntity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ParseResult is the structured interpretation of a free-text time entry
type ParseResult struct {
	OriginalText        string         `json:"original_text"`
	ProjectID           *uuid.UUID     `json:"project_id,omitempty"`
	ProjectName         string         `json:"project_name,omitempty"`
	TaskID              *uuid.UUID     `json:"task_id,omitempty"`
	TaskName            string         `json:"task_name,omitempty"`
	DurationSeconds     *int64         `json:"duration_seconds,omitempty"`
	StartTime           *time.Time     `json:"start_time,omitempty"`
	EndTime             *time.Time     `json:"end_time,omitempty"`
	Description         string         `json:"description,omitempty"`
	Confidence          float64        `json:"confidence"`
	ConfidenceLevel     string         `json:"confidence_level"`
	NeedsClarification  bool           `json:"needs_clarification"`
	ClarificationPrompt string         `json:"clarification_prompt,omitempty"`
	Entities            []ParsedEntity `json:"entities,omitempty"`
	Suggestions         []string       `json:"suggestions,omitempty"`
}

// Insight types emitted by the report summarizer
const (
	InsightTrend    = "trend"
	InsightWorkload = "workload"
)

// Insight is one derived observation in a weekly report
type Insight struct {
	Type           string   `json:"type"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// ProjectHours pairs a project with its hours in a reporting window
type ProjectHours struct {
	ProjectID   uuid.UUID `json:"project_id"`
	ProjectName string    `json:"project_name"`
	Hours       float64   `json:"hours"`
}

// DayHours is one day of a weekly breakdown
type DayHours struct {
	Date  time.Time `json:"date"`
	Hours float64   `json:"hours"`
}

// Summary narrative provenance
const (
	SummarySourceAI       = "ai"
	SummarySourceTemplate = "template"
)

// WeeklyReport aggregates one Monday-to-Sunday week of activity
type WeeklyReport struct {
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	WeekStart     time.Time      `json:"week_start"`
	WeekEnd       time.Time      `json:"week_end"`
	TotalHours    float64        `json:"total_hours"`
	PrevWeekHours float64        `json:"prev_week_hours"`
	ChangePct     float64        `json:"change_pct"`
	ProjectCount  int            `json:"project_count"`
	TopProjects   []ProjectHours `json:"top_projects"`
	DailyHours    []DayHours     `json:"daily_hours"`
	Insights      []Insight      `json:"insights"`
	Summary       string         `json:"summary"`
	SummarySource string         `json:"summary_source"`
}

// UserInsightsReport summarizes one user's recent working pattern
type UserInsightsReport struct {
	UserID        uuid.UUID      `json:"user_id"`
	PeriodDays    int            `json:"period_days"`
	TotalHours    float64        `json:"total_hours"`
	AvgDailyHours float64        `json:"avg_daily_hours"`
	DaysWorked    int            `json:"days_worked"`
	TopProjects   []ProjectHours `json:"top_projects"`
	PeakDay       *DayHours      `json:"peak_day,omitempty"`
	BusiestSlot   string         `json:"busiest_slot,omitempty"`
	Insights      []Insight      `json:"insights"`
}

// Project health statuses
const (
	HealthHealthy  = "healthy"
	HealthModerate = "moderate"
	HealthAtRisk   = "at_risk"
	HealthCritical = "critical"
)

// ProjectHealth scores a project's condition out of 100
type ProjectHealth struct {
	ProjectID      uuid.UUID `json:"project_id"`
	ProjectName    string    `json:"project_name"`
	HealthScore    float64   `json:"health_score"`
	Status         string    `json:"status"`
	CompletionRate float64   `json:"completion_rate"`
	ActivityTrend  string    `json:"activity_trend"`
	Contributors   int       `json:"contributors"`
	Factors        []string  `json:"factors,omitempty"`
}

// CredentialTestResult is the outcome of a provider liveness probe
type CredentialTestResult struct {
	Success        bool   `json:"success"`
	Provider       string `json:"provider"`
	Message        string `json:"message"`
	LatencyMs      int64  `json:"latency_ms"`
	ModelAvailable bool   `json:"model_available"`
}
