package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Redis       RedisConfig    `mapstructure:"redis"`
	AI          AIConfig       `mapstructure:"ai"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Host           string   `mapstructure:"host"`
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Name            string `mapstructure:"name"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AIConfig configures the AI orchestration subsystem
type AIConfig struct {
	// MasterEncryptionKey feeds PBKDF2 for credential encryption; must be
	// at least 32 bytes when any AI feature is enabled.
	MasterEncryptionKey string `mapstructure:"master_encryption_key"`

	GeminiModel       string  `mapstructure:"gemini_model"`
	GeminiTemperature float64 `mapstructure:"gemini_temperature"`
	GeminiMaxTokens   int     `mapstructure:"gemini_max_tokens"`
	OpenAIModel       string  `mapstructure:"openai_model"`
	OpenAITimeout     int     `mapstructure:"openai_timeout"`
	AnthropicModel    string  `mapstructure:"anthropic_model"`
	ProviderTimeout   int     `mapstructure:"provider_timeout"`
	ProviderRPM       int     `mapstructure:"provider_rpm"`

	SuggestionConfidenceThreshold float64 `mapstructure:"suggestion_confidence_threshold"`
	SuggestionLookbackDays        int     `mapstructure:"suggestion_lookback_days"`
	SuggestionLimit               int     `mapstructure:"suggestion_limit"`

	NLPConfidenceThreshold float64 `mapstructure:"nlp_confidence_threshold"`

	AnomalyExtendedDayHours    float64 `mapstructure:"anomaly_extended_day_hours"`
	AnomalyConsecutiveLongDays int     `mapstructure:"anomaly_consecutive_long_days"`
	AnomalyWeekendHours        float64 `mapstructure:"anomaly_weekend_hours"`
	AnomalyLongDayHours        float64 `mapstructure:"anomaly_long_day_hours"`
	MinSamplesForStatAnomaly   int     `mapstructure:"min_samples_for_stat_anomaly"`
	BaselineDays               int     `mapstructure:"baseline_days"`

	ExpectedHoursPerWeek float64 `mapstructure:"expected_hours_per_week"`

	CacheTTLSuggestions int `mapstructure:"cache_ttl_suggestions"`
	CacheTTLAnomalies   int `mapstructure:"cache_ttl_anomalies"`
	CacheTTLUserContext int `mapstructure:"cache_ttl_user_context"`
	CacheTTLForecasts   int `mapstructure:"cache_ttl_forecasts"`

	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	RequestsPerHour   int `mapstructure:"requests_per_hour"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	// Load .env file if it exists (ignore errors if file doesn't exist)
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Database.URL == "" {
		config.Database.URL = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			config.Database.User,
			config.Database.Password,
			config.Database.Host,
			config.Database.Port,
			config.Database.Name,
			config.Database.SSLMode,
		)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", 30)
	viper.SetDefault("server.write_timeout", 30)

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "chrono_service")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.conn_max_lifetime", 300)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)

	// AI provider defaults
	viper.SetDefault("ai.gemini_model", "gemini-1.5-flash")
	viper.SetDefault("ai.gemini_temperature", 0.3)
	viper.SetDefault("ai.gemini_max_tokens", 1024)
	viper.SetDefault("ai.openai_model", "gpt-4o-mini")
	viper.SetDefault("ai.openai_timeout", 30)
	viper.SetDefault("ai.anthropic_model", "claude-3-5-haiku-latest")
	viper.SetDefault("ai.provider_timeout", 30)
	viper.SetDefault("ai.provider_rpm", 60)

	// Suggestion engine defaults
	viper.SetDefault("ai.suggestion_confidence_threshold", 0.3)
	viper.SetDefault("ai.suggestion_lookback_days", 30)
	viper.SetDefault("ai.suggestion_limit", 5)

	// NLP defaults
	viper.SetDefault("ai.nlp_confidence_threshold", 0.7)

	// Anomaly detection defaults
	viper.SetDefault("ai.anomaly_extended_day_hours", 12.0)
	viper.SetDefault("ai.anomaly_consecutive_long_days", 5)
	viper.SetDefault("ai.anomaly_weekend_hours", 4.0)
	viper.SetDefault("ai.anomaly_long_day_hours", 10.0)
	viper.SetDefault("ai.min_samples_for_stat_anomaly", 30)
	viper.SetDefault("ai.baseline_days", 30)

	viper.SetDefault("ai.expected_hours_per_week", 40.0)

	// Cache TTLs in seconds
	viper.SetDefault("ai.cache_ttl_suggestions", 300)
	viper.SetDefault("ai.cache_ttl_anomalies", 3600)
	viper.SetDefault("ai.cache_ttl_user_context", 900)
	viper.SetDefault("ai.cache_ttl_forecasts", 3600)

	// Per-user request budgets
	viper.SetDefault("ai.requests_per_minute", 60)
	viper.SetDefault("ai.requests_per_hour", 1000)
}

func overrideFromEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("server.port", p)
		}
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		viper.Set("database.url", dbURL)
	}

	if redisURL := os.Getenv("REDIS_HOST"); redisURL != "" {
		viper.Set("redis.host", redisURL)
	}

	if masterKey := os.Getenv("AI_MASTER_ENCRYPTION_KEY"); masterKey != "" {
		viper.Set("ai.master_encryption_key", masterKey)
	}
}

func validate(config *Config) error {
	if config.AI.MasterEncryptionKey == "" {
		return fmt.Errorf("AI master encryption key is required")
	}
	if len(config.AI.MasterEncryptionKey) < 32 {
		return fmt.Errorf("AI master encryption key must be at least 32 bytes")
	}

	if config.Database.URL == "" && (config.Database.Host == "" || config.Database.Name == "") {
		return fmt.Errorf("database configuration is incomplete")
	}

	if config.AI.RequestsPerMinute <= 0 || config.AI.RequestsPerHour <= 0 {
		return fmt.Errorf("AI rate limit bounds must be positive")
	}

	return nil
}
