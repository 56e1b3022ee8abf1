package baseline_scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// BaselineRecomputer is the slice of the baseline service the scheduler
// needs: one full sweep over active users.
type BaselineRecomputer interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// Config controls when and how the nightly sweep runs
type Config struct {
	// Cron expression, default nightly at 03:00 UTC
	Schedule string

	// Upper bound on one sweep's runtime
	RunTimeout time.Duration
}

// DefaultConfig returns the production schedule
func DefaultConfig() Config {
	return Config{
		Schedule:   "0 3 * * *",
		RunTimeout: 30 * time.Minute,
	}
}

// sweepMetrics are the scheduler's exported counters
type sweepMetrics struct {
	sweepsTotal   metric.Int64Counter
	sweepErrors   metric.Int64Counter
	usersUpdated  metric.Int64Counter
	sweepDuration metric.Float64Histogram
}

// Scheduler runs the nightly per-user baseline recompute that feeds the
// statistical anomaly checks.
type Scheduler struct {
	cron      *cron.Cron
	baselines BaselineRecomputer
	config    Config
	logger    *zap.Logger
	tracer    trace.Tracer
	metrics   *sweepMetrics

	mu      sync.Mutex
	running bool
	lastRun time.Time
	lastErr error
}

// New creates a scheduler; call Start to begin ticking
func New(baselines BaselineRecomputer, config Config, logger *zap.Logger) *Scheduler {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.RunTimeout == 0 {
		config.RunTimeout = DefaultConfig().RunTimeout
	}

	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.UTC)),
		baselines: baselines,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("baseline-scheduler"),
		metrics:   initSweepMetrics(otel.Meter("baseline-scheduler")),
	}
}

func initSweepMetrics(meter metric.Meter) *sweepMetrics {
	sweepsTotal, _ := meter.Int64Counter("baseline_sweeps_total",
		metric.WithDescription("Baseline sweeps executed"))
	sweepErrors, _ := meter.Int64Counter("baseline_sweep_errors_total",
		metric.WithDescription("Baseline sweeps that failed"))
	usersUpdated, _ := meter.Int64Counter("baseline_users_updated_total",
		metric.WithDescription("User baselines recomputed"))
	sweepDuration, _ := meter.Float64Histogram("baseline_sweep_duration_seconds",
		metric.WithDescription("Baseline sweep duration in seconds"))

	return &sweepMetrics{
		sweepsTotal:   sweepsTotal,
		sweepErrors:   sweepErrors,
		usersUpdated:  usersUpdated,
		sweepDuration: sweepDuration,
	}
}

// Start registers the cron entry and begins the schedule
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("baseline scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.config.Schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to register baseline schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("Baseline scheduler started",
		zap.String("schedule", s.config.Schedule),
	)
	return nil
}

// Stop halts the schedule, waiting for an in-flight sweep to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("Baseline scheduler stopped")
}

// RunNow executes one sweep immediately, outside the schedule
func (s *Scheduler) RunNow(ctx context.Context) (int, error) {
	return s.sweep(ctx)
}

// LastRun reports the most recent sweep's completion time and error
func (s *Scheduler) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	if _, err := s.sweep(ctx); err != nil {
		s.logger.Error("Nightly baseline sweep failed", zap.Error(err))
	}
}

func (s *Scheduler) sweep(ctx context.Context) (int, error) {
	ctx, span := s.tracer.Start(ctx, "baseline_scheduler.sweep")
	defer span.End()

	start := time.Now()
	updated, err := s.baselines.RecomputeAll(ctx)

	s.mu.Lock()
	s.lastRun = time.Now().UTC()
	s.lastErr = err
	s.mu.Unlock()

	s.metrics.sweepsTotal.Add(ctx, 1)
	s.metrics.sweepDuration.Record(ctx, time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		s.metrics.sweepErrors.Add(ctx, 1)
		return 0, err
	}

	s.metrics.usersUpdated.Add(ctx, int64(updated))
	span.SetAttributes(attribute.Int("users_updated", updated))
	s.logger.Info("Baseline sweep completed",
		zap.Int("users_updated", updated),
		zap.Duration("duration", time.Since(start)),
	)
	return updated, nil
}
