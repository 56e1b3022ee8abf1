package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/chrono-hq/chrono_service/internal/api/handlers"
	"github.com/chrono-hq/chrono_service/internal/api/routes"
	"github.com/chrono-hq/chrono_service/internal/domain/services"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/ai"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/cache"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/config"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/repositories"
	"github.com/chrono-hq/chrono_service/internal/workers/baseline_scheduler"
	"github.com/chrono-hq/chrono_service/pkg/crypto"
	"github.com/chrono-hq/chrono_service/pkg/health"
	"github.com/chrono-hq/chrono_service/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)
	zlog := log.Zap()
	defer zlog.Sync()

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	vault, err := crypto.NewKeyVault(cfg.AI.MasterEncryptionKey)
	if err != nil {
		log.Fatal("Failed to initialize key vault", "error", err)
	}

	// Repositories
	featureRepo := repositories.NewFeatureRepository(db, zlog)
	credentialRepo := repositories.NewCredentialRepository(db, zlog)
	usageRepo := repositories.NewUsageRepository(db, zlog)
	baselineRepo := repositories.NewBaselineRepository(db, zlog)
	trackingRepo := repositories.NewTrackingRepository(db, zlog)

	// Provider registry and generation client
	credentialService := services.NewCredentialService(credentialRepo, vault, services.ProbeConfig{
		GeminiModel:    cfg.AI.GeminiModel,
		OpenAIModel:    cfg.AI.OpenAIModel,
		AnthropicModel: cfg.AI.AnthropicModel,
		Timeout:        time.Duration(cfg.AI.ProviderTimeout) * time.Second,
	}, zlog)

	aiClient := ai.NewClient(credentialService, ai.ClientConfig{
		GeminiModel:       cfg.AI.GeminiModel,
		GeminiTemperature: cfg.AI.GeminiTemperature,
		GeminiMaxTokens:   cfg.AI.GeminiMaxTokens,
		OpenAIModel:       cfg.AI.OpenAIModel,
		OpenAITimeout:     time.Duration(cfg.AI.OpenAITimeout) * time.Second,
		AnthropicModel:    cfg.AI.AnthropicModel,
		DefaultTimeout:    time.Duration(cfg.AI.ProviderTimeout) * time.Second,
		RateLimitRPM:      cfg.AI.ProviderRPM,
	}, zlog)
	credentialService.RegisterInvalidator(aiClient)

	aiCache := cache.NewAICache(redisClient, cache.Config{
		TTLSuggestions: time.Duration(cfg.AI.CacheTTLSuggestions) * time.Second,
		TTLAnomalies:   time.Duration(cfg.AI.CacheTTLAnomalies) * time.Second,
		TTLUserContext: time.Duration(cfg.AI.CacheTTLUserContext) * time.Second,
		TTLForecasts:   time.Duration(cfg.AI.CacheTTLForecasts) * time.Second,
	}, zlog)

	// Domain services
	gate := services.NewFeatureGateService(featureRepo, credentialRepo, usageRepo, zlog)
	usageService := services.NewUsageService(usageRepo, zlog)

	suggestionService := services.NewSuggestionService(trackingRepo, gate, aiCache, aiClient, services.SuggestionConfig{
		ConfidenceThreshold: cfg.AI.SuggestionConfidenceThreshold,
		LookbackDays:        cfg.AI.SuggestionLookbackDays,
		DefaultLimit:        cfg.AI.SuggestionLimit,
		RequestsPerMinute:   cfg.AI.RequestsPerMinute,
	}, zlog)

	anomalyService := services.NewAnomalyService(trackingRepo, baselineRepo, gate, aiCache, services.AnomalyConfig{
		ExtendedDayHours:    cfg.AI.AnomalyExtendedDayHours,
		ConsecutiveLongDays: cfg.AI.AnomalyConsecutiveLongDays,
		WeekendHours:        cfg.AI.AnomalyWeekendHours,
		LongDayHours:        cfg.AI.AnomalyLongDayHours,
		MinSamplesForStat:   cfg.AI.MinSamplesForStatAnomaly,
		BaselineDays:        cfg.AI.BaselineDays,
	}, zlog)

	baselineService := services.NewBaselineService(trackingRepo, baselineRepo, cfg.AI.BaselineDays, zlog)

	forecastService := services.NewForecastService(trackingRepo, gate, aiCache, services.ForecastConfig{
		DefaultWeeklyHours: cfg.AI.ExpectedHoursPerWeek,
	}, zlog)

	nlpService := services.NewNLPService(trackingRepo, gate, aiCache, aiClient, services.NLPConfig{
		ConfidenceThreshold: cfg.AI.NLPConfidenceThreshold,
		RequestsPerMinute:   cfg.AI.RequestsPerMinute,
	}, zlog)

	reportService := services.NewReportService(trackingRepo, gate, aiClient, zlog)

	// Health probes
	checker := health.NewHealthChecker(10 * time.Second)
	checker.Register(health.NewDatabaseChecker(db.DB, 5*time.Second))
	checker.Register(health.NewRedisChecker(redisClient, 3*time.Second))

	// HTTP surface
	healthHandler := handlers.NewHealthHandler(checker, zlog)
	aiHandler := handlers.NewAIHandler(suggestionService, anomalyService, forecastService, nlpService, reportService, gate, zlog)
	adminHandler := handlers.NewAdminHandler(gate, credentialService, usageService, baselineService, zlog)

	router := routes.Setup(cfg, zlog, healthHandler, aiHandler, adminHandler)

	// Nightly baseline sweep
	scheduler := baseline_scheduler.New(baselineService, baseline_scheduler.DefaultConfig(), zlog)
	if err := scheduler.Start(); err != nil {
		log.Fatal("Failed to start baseline scheduler", "error", err)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited")
}
