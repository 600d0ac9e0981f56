package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	LLM       LLMConfig
	Auth      AuthConfig
	Query     QueryConfig
	Discovery DiscoveryConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	GinMode         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// MongoConfig points at the collections questions are answered from.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
	// Breaker settings for the store wrapper.
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// DatabaseConfig holds PostgreSQL configuration for the semantic store.
type DatabaseConfig struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN renders a lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode)
}

// URL renders a postgres:// URL for golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LLMConfig selects and tunes the query generation model.
type LLMConfig struct {
	Provider        string // "gemini" or "claude"
	GeminiAPIKey    string
	ClaudeAPIKey    string
	Model           string
	EmbeddingModel  string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// APIKey returns the key for the selected provider.
func (l LLMConfig) APIKey() string {
	if l.Provider == "claude" {
		return l.ClaudeAPIKey
	}
	return l.GeminiAPIKey
}

// AuthConfig holds authentication and authorization configuration
type AuthConfig struct {
	JWTSecret      string
	JWTExpiry      time.Duration
	SessionExpiry  time.Duration
	RateLimit      int
	DailyTokenCap  int64
	AllowAnonymous bool
	// AdminPassword seeds the admin account. No admin is created when empty.
	AdminPassword string
}

// QueryConfig holds query processing configuration
type QueryConfig struct {
	DefaultLimit       int64
	MaxLimit           int64
	SampleSize         int
	DistinctCap        int
	MaxPipelineStages  int
	MaxQuestionLength  int
	Timeout            time.Duration
	CacheTTL           time.Duration
	SimilarityCutoff   float64
	ExampleCount       int
	HistoryLength      int
	EnableSafetyChecks bool
	ForbiddenFields    []string
}

// DiscoveryConfig controls the background schema sampler.
type DiscoveryConfig struct {
	Enabled     bool
	Interval    time.Duration
	Collections []string
}

// LoggingConfig holds log level and encoding.
type LoggingConfig struct {
	Level  string
	Format string
}

// Loader handles loading configuration from various sources
type Loader struct {
	provider SecretProvider
}

// NewLoader creates a new configuration loader with the given secret provider
func NewLoader(provider SecretProvider) *Loader {
	return &Loader{
		provider: provider,
	}
}

// NewDefaultLoader creates a loader with the default provider chain:
// 1. Kubernetes secrets (if available)
// 2. File-based secrets (if available)
// 3. Environment variables
// 4. The CONFIG_FILE config file (if set)
// 5. A .env file in the working directory (if present)
func NewDefaultLoader() *Loader {
	providers := []SecretProvider{
		NewK8sProvider("", ""),
		NewFileProvider("/var/secrets"),
		NewEnvProvider(),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		providers = append(providers, NewViperProvider(path))
	}
	providers = append(providers, NewDotEnvProvider(".env"))

	return &Loader{
		provider: NewChainProvider(providers...),
	}
}

// Load loads the complete configuration
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}

	cfg.Server = ServerConfig{
		Port:            l.getString(ctx, "PORT", "8080"),
		GinMode:         l.getString(ctx, "GIN_MODE", "debug"),
		ReadTimeout:     l.getDuration(ctx, "SERVER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    l.getDuration(ctx, "SERVER_WRITE_TIMEOUT", 90*time.Second),
		ShutdownTimeout: l.getDuration(ctx, "SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
	}

	cfg.Mongo = MongoConfig{
		URI:                l.getString(ctx, "MONGO_URI", "mongodb://localhost:27017"),
		Database:           l.getString(ctx, "MONGO_DATABASE", "lactalis_db"),
		Collection:         l.getString(ctx, "MONGO_COLLECTION", "milk_collections"),
		Timeout:            l.getDuration(ctx, "MONGO_TIMEOUT", 30*time.Second),
		BreakerMaxFailures: uint32(l.getInt(ctx, "MONGO_BREAKER_FAILURES", 5)),
		BreakerTimeout:     l.getDuration(ctx, "MONGO_BREAKER_TIMEOUT", 30*time.Second),
	}

	cfg.Database = DatabaseConfig{
		Host:     l.getString(ctx, "DB_HOST", "localhost"),
		Port:     l.getString(ctx, "DB_PORT", "5432"),
		Database: l.getString(ctx, "DB_NAME", "query_bot"),
		Username: l.getString(ctx, "DB_USER", "query_bot"),
		Password: l.getString(ctx, "DB_PASSWORD", ""),
		SSLMode:  l.getString(ctx, "DB_SSLMODE", "disable"),
	}

	cfg.Redis = RedisConfig{
		Addr:     l.getString(ctx, "REDIS_ADDR", "localhost:6379"),
		Password: l.getString(ctx, "REDIS_PASSWORD", ""),
		DB:       l.getInt(ctx, "REDIS_DB", 0),
	}

	cfg.LLM = LLMConfig{
		Provider:        strings.ToLower(l.getString(ctx, "LLM_PROVIDER", "gemini")),
		GeminiAPIKey:    l.getString(ctx, "GEMINI_API_KEY", ""),
		ClaudeAPIKey:    l.getString(ctx, "CLAUDE_API_KEY", ""),
		Model:           l.getString(ctx, "LLM_MODEL", ""),
		EmbeddingModel:  l.getString(ctx, "LLM_EMBEDDING_MODEL", "text-embedding-004"),
		Temperature:     l.getFloat(ctx, "LLM_TEMPERATURE", 0.1),
		MaxTokens:       l.getInt(ctx, "LLM_MAX_TOKENS", 1024),
		Timeout:         l.getDuration(ctx, "LLM_TIMEOUT", 60*time.Second),
		MaxRetries:      l.getInt(ctx, "LLM_MAX_RETRIES", 3),
		RetryBaseDelay:  l.getDuration(ctx, "LLM_RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:   l.getDuration(ctx, "LLM_RETRY_MAX_DELAY", 30*time.Second),
		BreakerFailures: uint32(l.getInt(ctx, "LLM_BREAKER_FAILURES", 5)),
		BreakerTimeout:  l.getDuration(ctx, "LLM_BREAKER_TIMEOUT", 60*time.Second),
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = defaultModel(cfg.LLM.Provider)
	}

	cfg.Auth = AuthConfig{
		JWTSecret:      l.getString(ctx, "JWT_SECRET", ""),
		JWTExpiry:      l.getDuration(ctx, "JWT_EXPIRY", 24*time.Hour),
		SessionExpiry:  l.getDuration(ctx, "SESSION_EXPIRY", 7*24*time.Hour),
		RateLimit:      l.getInt(ctx, "RATE_LIMIT", 100),
		DailyTokenCap:  int64(l.getInt(ctx, "DAILY_TOKEN_CAP", 200000)),
		AllowAnonymous: l.getBool(ctx, "ALLOW_ANONYMOUS", false),
		AdminPassword:  l.getString(ctx, "ADMIN_PASSWORD", ""),
	}

	cfg.Query = QueryConfig{
		DefaultLimit:       int64(l.getInt(ctx, "QUERY_DEFAULT_LIMIT", 50)),
		MaxLimit:           int64(l.getInt(ctx, "QUERY_MAX_LIMIT", 1000)),
		SampleSize:         l.getInt(ctx, "QUERY_SAMPLE_SIZE", 10),
		DistinctCap:        l.getInt(ctx, "QUERY_DISTINCT_CAP", 50),
		MaxPipelineStages:  l.getInt(ctx, "QUERY_MAX_PIPELINE_STAGES", 10),
		MaxQuestionLength:  l.getInt(ctx, "QUERY_MAX_QUESTION_LENGTH", 500),
		Timeout:            l.getDuration(ctx, "QUERY_TIMEOUT", 30*time.Second),
		CacheTTL:           l.getDuration(ctx, "CACHE_TTL", 5*time.Minute),
		SimilarityCutoff:   l.getFloat(ctx, "QUERY_SIMILARITY_CUTOFF", 0.8),
		ExampleCount:       l.getInt(ctx, "QUERY_EXAMPLE_COUNT", 3),
		HistoryLength:      l.getInt(ctx, "QUERY_HISTORY_LENGTH", 50),
		EnableSafetyChecks: l.getBool(ctx, "ENABLE_SAFETY_CHECKS", true),
		ForbiddenFields:    l.getSlice(ctx, "FORBIDDEN_FIELDS", []string{"(?i)password", "(?i)secret", "(?i)token", "(?i)aadhaar", "(?i)bank.*account"}),
	}

	cfg.Discovery = DiscoveryConfig{
		Enabled:     l.getBool(ctx, "DISCOVERY_ENABLED", true),
		Interval:    l.getDuration(ctx, "DISCOVERY_INTERVAL", 10*time.Minute),
		Collections: l.getSlice(ctx, "DISCOVERY_COLLECTIONS", []string{cfg.Mongo.Collection}),
	}

	cfg.Logging = LoggingConfig{
		Level:  strings.ToLower(l.getString(ctx, "LOG_LEVEL", "info")),
		Format: strings.ToLower(l.getString(ctx, "LOG_FORMAT", "json")),
	}

	return cfg, nil
}

func defaultModel(provider string) string {
	if provider == "claude" {
		return "claude-3-5-haiku-20241022"
	}
	return "gemini-2.0-flash"
}

// Helper methods for retrieving and parsing configuration values

func (l *Loader) getString(ctx context.Context, key, defaultValue string) string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}
	return value
}

func (l *Loader) getBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func (l *Loader) getInt(ctx context.Context, key string, defaultValue int) int {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return i
}

func (l *Loader) getFloat(ctx context.Context, key string, defaultValue float64) float64 {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return f
}

func (l *Loader) getDuration(ctx context.Context, key string, defaultValue time.Duration) time.Duration {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func (l *Loader) getSlice(ctx context.Context, key string, defaultValue []string) []string {
	value, err := l.provider.GetSecret(ctx, key)
	if err != nil || value == "" {
		return defaultValue
	}

	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}

	if len(result) == 0 {
		return defaultValue
	}
	return result
}
