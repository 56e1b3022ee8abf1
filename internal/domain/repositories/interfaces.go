package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
)

// CredentialRepository persists encrypted provider credentials
type CredentialRepository interface {
	Create(ctx context.Context, cred *entities.ProviderCredential) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.ProviderCredential, error)
	List(ctx context.Context, provider string, activeOnly bool) ([]*entities.ProviderCredential, error)
	Update(ctx context.Context, cred *entities.ProviderCredential) error
	Delete(ctx context.Context, id uuid.UUID) error

	// GetActiveByProvider returns the most recently created active
	// credential for a provider, or nil when none exists.
	GetActiveByProvider(ctx context.Context, provider string) (*entities.ProviderCredential, error)
	IncrementUsage(ctx context.Context, id uuid.UUID) error
}

// FeatureRepository persists global feature settings and per-user preferences
type FeatureRepository interface {
	GetSetting(ctx context.Context, featureID string) (*entities.FeatureSetting, error)
	ListSettings(ctx context.Context) ([]*entities.FeatureSetting, error)
	UpdateSetting(ctx context.Context, featureID string, enabled bool, updatedBy uuid.UUID) error

	GetPreference(ctx context.Context, userID uuid.UUID, featureID string) (*entities.UserFeaturePreference, error)
	ListPreferences(ctx context.Context, userID uuid.UUID) ([]*entities.UserFeaturePreference, error)
	UpsertPreference(ctx context.Context, pref *entities.UserFeaturePreference) error
	DeletePreference(ctx context.Context, userID uuid.UUID, featureID string) error
}

// UsageRepository is the append-only AI usage ledger
type UsageRepository interface {
	Append(ctx context.Context, record *entities.UsageRecord) error
	Aggregate(ctx context.Context, since time.Time) (*entities.UsageStats, error)
}

// BaselineRepository persists per-user work-pattern baselines
type BaselineRepository interface {
	Get(ctx context.Context, userID uuid.UUID) (*entities.Baseline, error)
	Upsert(ctx context.Context, baseline *entities.Baseline) error
}

// TrackingRepository is the read-mostly view of time-tracking data the
// AI subsystem consumes. Only Confirm writes through it.
type TrackingRepository interface {
	CompletedEntries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error)
	CreateEntry(ctx context.Context, entry *entities.TimeEntry) error

	ActiveProjects(ctx context.Context) ([]*entities.Project, error)
	ProjectByID(ctx context.Context, id uuid.UUID) (*entities.Project, error)
	TasksForProject(ctx context.Context, projectID uuid.UUID) ([]*entities.Task, error)
	ProjectEntries(ctx context.Context, projectID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error)
	TaskCompletion(ctx context.Context, projectID uuid.UUID) (total int, completed int, err error)
	ProjectUsage(ctx context.Context, projectID uuid.UUID) (*entities.ProjectUsage, error)

	UserByID(ctx context.Context, id uuid.UUID) (*entities.User, error)
	ActiveUsers(ctx context.Context, teamID *uuid.UUID) ([]*entities.User, error)

	RecentPayPeriods(ctx context.Context, periodType string, limit int) ([]*entities.PayPeriod, error)
	ActivePayRate(ctx context.Context, userID uuid.UUID) (*entities.PayRate, error)
}
