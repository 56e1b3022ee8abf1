package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chrono-hq/chrono_service/internal/api/handlers"
	"github.com/chrono-hq/chrono_service/internal/api/middleware"
	"github.com/chrono-hq/chrono_service/internal/infrastructure/config"
)

// Setup wires the middleware chain and every route group onto a fresh
// gin engine.
func Setup(
	cfg *config.Config,
	logger *zap.Logger,
	healthHandler *handlers.HealthHandler,
	aiHandler *handlers.AIHandler,
	adminHandler *handlers.AdminHandler,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RateLimit(cfg.AI.RequestsPerMinute))

	// Probes stay unauthenticated
	router.GET("/health", healthHandler.Health)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	v1 := router.Group("/v1")
	v1.Use(middleware.Identity(logger))

	ai := v1.Group("/ai")
	{
		ai.POST("/suggestions", aiHandler.Suggest)

		ai.GET("/anomalies/scan", aiHandler.ScanAnomalies)
		ai.GET("/anomalies/team", aiHandler.ScanTeamAnomalies)

		ai.GET("/forecasts/payroll", aiHandler.ForecastPayroll)
		ai.GET("/forecasts/overtime", aiHandler.AssessOvertime)
		ai.GET("/forecasts/projects", aiHandler.ForecastProjectBudget)
		ai.GET("/forecasts/cashflow", aiHandler.ForecastCashFlow)

		ai.POST("/nlp/parse", aiHandler.ParseEntry)
		ai.POST("/nlp/confirm", aiHandler.ConfirmEntry)

		ai.GET("/reports/weekly", aiHandler.WeeklyReport)
		ai.GET("/reports/projects/:id/health", aiHandler.ProjectHealth)
		ai.GET("/reports/insights", aiHandler.UserInsights)

		ai.GET("/features", aiHandler.ListFeatureStatus)
		ai.PUT("/features/:feature_id/preference", aiHandler.SetPreference)
	}

	admin := v1.Group("/admin/ai")
	admin.Use(middleware.RequireAdmin())
	{
		admin.GET("/features", adminHandler.ListFeatures)
		admin.PUT("/features/:feature_id", adminHandler.UpdateFeature)

		admin.GET("/users/:user_id/preferences", adminHandler.ListUserPreferences)
		admin.PUT("/users/:user_id/features/:feature_id/override", adminHandler.SetOverride)
		admin.DELETE("/users/:user_id/features/:feature_id/override", adminHandler.RemoveOverride)

		admin.GET("/credentials", adminHandler.ListCredentials)
		admin.POST("/credentials", adminHandler.CreateCredential)
		admin.GET("/credentials/:id", adminHandler.GetCredential)
		admin.PUT("/credentials/:id", adminHandler.UpdateCredential)
		admin.DELETE("/credentials/:id", adminHandler.DeleteCredential)
		admin.POST("/credentials/:id/test", adminHandler.TestCredential)

		admin.GET("/usage", adminHandler.UsageStats)
		admin.POST("/baselines/recompute", adminHandler.RecomputeBaselines)
	}

	return router
}
