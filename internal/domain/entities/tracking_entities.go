package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User represents a time-tracking user as read by the AI subsystem
type User struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	Email                string     `json:"email" db:"email"`
	FirstName            string     `json:"first_name" db:"first_name"`
	LastName             string     `json:"last_name" db:"last_name"`
	Role                 string     `json:"role" db:"role"`
	TeamID               *uuid.UUID `json:"team_id,omitempty" db:"team_id"`
	ExpectedHoursPerWeek float64    `json:"expected_hours_per_week" db:"expected_hours_per_week"`
	IsActive             bool       `json:"is_active" db:"is_active"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

// FullName returns the user's display name
func (u *User) FullName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Email
	}
	return u.FirstName + " " + u.LastName
}

// Project represents a billable or internal project
type Project struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	Name         string           `json:"name" db:"name"`
	ClientName   string           `json:"client_name" db:"client_name"`
	Active       bool             `json:"active" db:"active"`
	BudgetAmount *decimal.Decimal `json:"budget_amount,omitempty" db:"budget_amount"`
	HourlyRate   *decimal.Decimal `json:"hourly_rate,omitempty" db:"hourly_rate"`
	StartDate    *time.Time       `json:"start_date,omitempty" db:"start_date"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
}

// Task represents a unit of work within a project
type Task struct {
	ID        uuid.UUID `json:"id" db:"id"`
	ProjectID uuid.UUID `json:"project_id" db:"project_id"`
	Name      string    `json:"name" db:"name"`
	Active    bool      `json:"active" db:"active"`
}

// Time entry statuses
const (
	EntryStatusRunning   = "running"
	EntryStatusCompleted = "completed"
)

// TimeEntry represents a logged span of work
type TimeEntry struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	UserID          uuid.UUID  `json:"user_id" db:"user_id"`
	ProjectID       uuid.UUID  `json:"project_id" db:"project_id"`
	TaskID          *uuid.UUID `json:"task_id,omitempty" db:"task_id"`
	Description     string     `json:"description" db:"description"`
	StartTime       time.Time  `json:"start_time" db:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty" db:"end_time"`
	DurationSeconds int64      `json:"duration_seconds" db:"duration_seconds"`
	Status          string     `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
}

// Hours returns the entry duration in fractional hours
func (e *TimeEntry) Hours() float64 {
	return float64(e.DurationSeconds) / 3600.0
}

// Pay period types
const (
	PeriodTypeWeekly      = "weekly"
	PeriodTypeBiWeekly    = "bi_weekly"
	PeriodTypeSemiMonthly = "semi_monthly"
	PeriodTypeMonthly     = "monthly"
)

// Pay period statuses
const (
	PeriodStatusOpen      = "open"
	PeriodStatusCompleted = "completed"
	PeriodStatusPaid      = "paid"
)

// PayPeriod represents a closed payroll period with its computed amounts
type PayPeriod struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	PeriodType     string          `json:"period_type" db:"period_type"`
	StartDate      time.Time       `json:"start_date" db:"start_date"`
	EndDate        time.Time       `json:"end_date" db:"end_date"`
	Status         string          `json:"status" db:"status"`
	GrossAmount    decimal.Decimal `json:"gross_amount" db:"gross_amount"`
	RegularAmount  decimal.Decimal `json:"regular_amount" db:"regular_amount"`
	OvertimeAmount decimal.Decimal `json:"overtime_amount" db:"overtime_amount"`
}

// PayRate represents a user's hourly rate effective from a given date
type PayRate struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	UserID        uuid.UUID       `json:"user_id" db:"user_id"`
	HourlyRate    decimal.Decimal `json:"hourly_rate" db:"hourly_rate"`
	Active        bool            `json:"active" db:"active"`
	EffectiveFrom time.Time       `json:"effective_from" db:"effective_from"`
}

// ProjectUsage aggregates a project's logged effort for budget forecasting
type ProjectUsage struct {
	ProjectID    uuid.UUID       `json:"project_id" db:"project_id"`
	TotalHours   float64         `json:"total_hours" db:"total_hours"`
	BlendedRate  decimal.Decimal `json:"blended_rate" db:"blended_rate"`
	Contributors int             `json:"contributors" db:"contributors"`
	FirstEntryAt *time.Time      `json:"first_entry_at,omitempty" db:"first_entry_at"`
	LastEntryAt  *time.Time      `json:"last_entry_at,omitempty" db:"last_entry_at"`
}
