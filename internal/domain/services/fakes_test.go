package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/domain/entities"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/ai"
	apperrors "github.com/chrono-hq/chrono_service/pkg/errors"
)

// In-memory fakes for the repository interfaces, shared by the service
// tests in this package.

var errProviderDown = errors.New("provider unreachable")

type fakeFeatureRepo struct {
	settings map[string]*entities.FeatureSetting
	prefs    map[string]*entities.UserFeaturePreference
}

func newFakeFeatureRepo() *fakeFeatureRepo {
	return &fakeFeatureRepo{
		settings: make(map[string]*entities.FeatureSetting),
		prefs:    make(map[string]*entities.UserFeaturePreference),
	}
}

func prefKey(userID uuid.UUID, featureID string) string {
	return userID.String() + ":" + featureID
}

func (f *fakeFeatureRepo) GetSetting(_ context.Context, featureID string) (*entities.FeatureSetting, error) {
	setting, ok := f.settings[featureID]
	if !ok {
		return nil, apperrors.NotFound(fmt.Sprintf("feature %s", featureID))
	}
	return setting, nil
}

func (f *fakeFeatureRepo) ListSettings(_ context.Context) ([]*entities.FeatureSetting, error) {
	out := make([]*entities.FeatureSetting, 0, len(f.settings))
	for _, s := range f.settings {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeFeatureRepo) UpdateSetting(_ context.Context, featureID string, enabled bool, updatedBy uuid.UUID) error {
	setting, ok := f.settings[featureID]
	if !ok {
		return apperrors.NotFound(fmt.Sprintf("feature %s", featureID))
	}
	setting.Enabled = enabled
	setting.UpdatedBy = &updatedBy
	return nil
}

func (f *fakeFeatureRepo) GetPreference(_ context.Context, userID uuid.UUID, featureID string) (*entities.UserFeaturePreference, error) {
	return f.prefs[prefKey(userID, featureID)], nil
}

func (f *fakeFeatureRepo) ListPreferences(_ context.Context, userID uuid.UUID) ([]*entities.UserFeaturePreference, error) {
	var out []*entities.UserFeaturePreference
	for _, p := range f.prefs {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeFeatureRepo) UpsertPreference(_ context.Context, pref *entities.UserFeaturePreference) error {
	f.prefs[prefKey(pref.UserID, pref.FeatureID)] = pref
	return nil
}

func (f *fakeFeatureRepo) DeletePreference(_ context.Context, userID uuid.UUID, featureID string) error {
	delete(f.prefs, prefKey(userID, featureID))
	return nil
}

type fakeCredentialRepo struct {
	active map[string]*entities.ProviderCredential
}

func newFakeCredentialRepo() *fakeCredentialRepo {
	return &fakeCredentialRepo{active: make(map[string]*entities.ProviderCredential)}
}

func (f *fakeCredentialRepo) Create(_ context.Context, cred *entities.ProviderCredential) error {
	f.active[cred.Provider] = cred
	return nil
}

func (f *fakeCredentialRepo) GetByID(_ context.Context, id uuid.UUID) (*entities.ProviderCredential, error) {
	for _, cred := range f.active {
		if cred.ID == id {
			return cred, nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("credential %s", id))
}

func (f *fakeCredentialRepo) List(_ context.Context, provider string, _ bool) ([]*entities.ProviderCredential, error) {
	var out []*entities.ProviderCredential
	for _, cred := range f.active {
		if provider == "" || cred.Provider == provider {
			out = append(out, cred)
		}
	}
	return out, nil
}

func (f *fakeCredentialRepo) Update(_ context.Context, cred *entities.ProviderCredential) error {
	f.active[cred.Provider] = cred
	return nil
}

func (f *fakeCredentialRepo) Delete(_ context.Context, id uuid.UUID) error {
	for provider, cred := range f.active {
		if cred.ID == id {
			delete(f.active, provider)
			return nil
		}
	}
	return apperrors.NotFound(fmt.Sprintf("credential %s", id))
}

func (f *fakeCredentialRepo) GetActiveByProvider(_ context.Context, provider string) (*entities.ProviderCredential, error) {
	return f.active[provider], nil
}

func (f *fakeCredentialRepo) IncrementUsage(_ context.Context, _ uuid.UUID) error {
	return nil
}

type fakeUsageRepo struct {
	records []*entities.UsageRecord
}

func (f *fakeUsageRepo) Append(_ context.Context, record *entities.UsageRecord) error {
	f.records = append(f.records, record)
	return nil
}

func (f *fakeUsageRepo) Aggregate(_ context.Context, since time.Time) (*entities.UsageStats, error) {
	return &entities.UsageStats{Since: since, TotalRequests: int64(len(f.records))}, nil
}

type fakeBaselineRepo struct {
	baselines map[uuid.UUID]*entities.Baseline
	upserted  []*entities.Baseline
}

func newFakeBaselineRepo() *fakeBaselineRepo {
	return &fakeBaselineRepo{baselines: make(map[uuid.UUID]*entities.Baseline)}
}

func (f *fakeBaselineRepo) Get(_ context.Context, userID uuid.UUID) (*entities.Baseline, error) {
	return f.baselines[userID], nil
}

func (f *fakeBaselineRepo) Upsert(_ context.Context, baseline *entities.Baseline) error {
	f.baselines[baseline.UserID] = baseline
	f.upserted = append(f.upserted, baseline)
	return nil
}

type fakeTrackingRepo struct {
	entries  []*entities.TimeEntry
	created  []*entities.TimeEntry
	projects []*entities.Project
	tasks    map[uuid.UUID][]*entities.Task
	users    []*entities.User
	periods  []*entities.PayPeriod
	payRates map[uuid.UUID]*entities.PayRate
	usage    map[uuid.UUID]*entities.ProjectUsage
	taskDone map[uuid.UUID][2]int
}

func newFakeTrackingRepo() *fakeTrackingRepo {
	return &fakeTrackingRepo{
		tasks:    make(map[uuid.UUID][]*entities.Task),
		payRates: make(map[uuid.UUID]*entities.PayRate),
		usage:    make(map[uuid.UUID]*entities.ProjectUsage),
		taskDone: make(map[uuid.UUID][2]int),
	}
}

func (f *fakeTrackingRepo) CompletedEntries(_ context.Context, userID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error) {
	var out []*entities.TimeEntry
	for _, e := range f.entries {
		if e.UserID != userID {
			continue
		}
		if e.StartTime.Before(from) || !e.StartTime.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeTrackingRepo) CreateEntry(_ context.Context, entry *entities.TimeEntry) error {
	f.created = append(f.created, entry)
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeTrackingRepo) ActiveProjects(_ context.Context) ([]*entities.Project, error) {
	return f.projects, nil
}

func (f *fakeTrackingRepo) ProjectByID(_ context.Context, id uuid.UUID) (*entities.Project, error) {
	for _, p := range f.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("project %s", id))
}

func (f *fakeTrackingRepo) TasksForProject(_ context.Context, projectID uuid.UUID) ([]*entities.Task, error) {
	return f.tasks[projectID], nil
}

func (f *fakeTrackingRepo) ProjectEntries(_ context.Context, projectID uuid.UUID, from, to time.Time) ([]*entities.TimeEntry, error) {
	var out []*entities.TimeEntry
	for _, e := range f.entries {
		if e.ProjectID != projectID {
			continue
		}
		if e.StartTime.Before(from) || !e.StartTime.Before(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeTrackingRepo) TaskCompletion(_ context.Context, projectID uuid.UUID) (int, int, error) {
	counts := f.taskDone[projectID]
	return counts[0], counts[1], nil
}

func (f *fakeTrackingRepo) ProjectUsage(_ context.Context, projectID uuid.UUID) (*entities.ProjectUsage, error) {
	if usage, ok := f.usage[projectID]; ok {
		return usage, nil
	}
	return &entities.ProjectUsage{ProjectID: projectID}, nil
}

func (f *fakeTrackingRepo) UserByID(_ context.Context, id uuid.UUID) (*entities.User, error) {
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, apperrors.NotFound(fmt.Sprintf("user %s", id))
}

func (f *fakeTrackingRepo) ActiveUsers(_ context.Context, teamID *uuid.UUID) ([]*entities.User, error) {
	var out []*entities.User
	for _, u := range f.users {
		if teamID != nil && (u.TeamID == nil || *u.TeamID != *teamID) {
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

func (f *fakeTrackingRepo) RecentPayPeriods(_ context.Context, periodType string, limit int) ([]*entities.PayPeriod, error) {
	var out []*entities.PayPeriod
	for _, p := range f.periods {
		if p.PeriodType == periodType {
			out = append(out, p)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeTrackingRepo) ActivePayRate(_ context.Context, userID uuid.UUID) (*entities.PayRate, error) {
	return f.payRates[userID], nil
}

// fakeCache is an in-process stand-in for the namespaced redis cache
type fakeCache struct {
	store       map[string][]byte
	rateAllowed bool
	rateCount   int
	rateCalls   int
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string][]byte), rateAllowed: true}
}

func cacheKey(namespace string, parts []string) string {
	key := namespace
	for _, p := range parts {
		key += ":" + p
	}
	return key
}

func (f *fakeCache) GetJSON(_ context.Context, namespace string, dest interface{}, parts ...string) bool {
	raw, ok := f.store[cacheKey(namespace, parts)]
	if !ok {
		return false
	}
	return json.Unmarshal(raw, dest) == nil
}

func (f *fakeCache) SetJSON(_ context.Context, namespace string, value interface{}, parts ...string) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	f.store[cacheKey(namespace, parts)] = raw
}

func (f *fakeCache) Invalidate(_ context.Context, namespace string, parts ...string) {
	delete(f.store, cacheKey(namespace, parts))
}

func (f *fakeCache) CheckRateLimit(_ context.Context, _ string, _ time.Duration, _ int) (bool, int) {
	f.rateCalls++
	return f.rateAllowed, f.rateCount
}

// stubGateway records generation calls and replays a canned outcome
type stubGateway struct {
	outcome   *ai.GenerationOutcome
	err       error
	available bool
	calls     int
}

func (g *stubGateway) Generate(_ context.Context, _ *ai.GenerateRequest, _ string) (*ai.GenerationOutcome, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.outcome, nil
}

func (g *stubGateway) IsAvailable(_ context.Context) bool {
	return g.available
}

// newEnabledGate builds a gate with every known feature switched on and
// no credential requirement.
func newEnabledGate() (*FeatureGateService, *fakeFeatureRepo, *fakeUsageRepo) {
	features := newFakeFeatureRepo()
	for _, id := range entities.KnownFeatures {
		features.settings[id] = &entities.FeatureSetting{
			FeatureID: id,
			Enabled:   true,
		}
	}
	usage := &fakeUsageRepo{}
	gate := NewFeatureGateService(features, newFakeCredentialRepo(), usage, zap.NewNop())
	return gate, features, usage
}
