package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", GinMode: "debug", ShutdownTimeout: 10 * time.Second},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "lactalis_db",
			Collection: "milk_collections",
			Timeout:    30 * time.Second,
		},
		Database: DatabaseConfig{Host: "localhost", Port: "5432", Database: "query_bot", Username: "query_bot"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		LLM: LLMConfig{
			Provider:     "gemini",
			GeminiAPIKey: "AIza-test",
			Model:        "gemini-2.0-flash",
			Temperature:  0.1,
			MaxTokens:    1024,
			Timeout:      time.Minute,
			MaxRetries:   3,
		},
		Auth: AuthConfig{
			JWTSecret:     "test-secret-key",
			JWTExpiry:     24 * time.Hour,
			SessionExpiry: 7 * 24 * time.Hour,
			RateLimit:     100,
			DailyTokenCap: 200000,
		},
		Query: QueryConfig{
			DefaultLimit:       50,
			MaxLimit:           1000,
			SampleSize:         10,
			DistinctCap:        50,
			MaxPipelineStages:  10,
			MaxQuestionLength:  500,
			Timeout:            30 * time.Second,
			CacheTTL:           5 * time.Minute,
			SimilarityCutoff:   0.8,
			EnableSafetyChecks: true,
			ForbiddenFields:    []string{"(?i)password"},
		},
		Discovery: DiscoveryConfig{Enabled: true, Interval: 10 * time.Minute, Collections: []string{"milk_collections"}},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestConfigValidation(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database host", func(c *Config) { c.Database.Host = "" }, "Database.Host"},
		{"invalid gin mode", func(c *Config) { c.Server.GinMode = "invalid-mode" }, "Server.GinMode"},
		{"non-mongo uri", func(c *Config) { c.Mongo.URI = "postgres://localhost" }, "Mongo.URI"},
		{"missing collection", func(c *Config) { c.Mongo.Collection = "" }, "Mongo.Collection"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "llama" }, "LLM.Provider"},
		{"gemini without key", func(c *Config) { c.LLM.GeminiAPIKey = "" }, "LLM.GeminiAPIKey"},
		{"claude without key", func(c *Config) { c.LLM.Provider = "claude" }, "LLM.ClaudeAPIKey"},
		{"temperature out of range", func(c *Config) { c.LLM.Temperature = 3 }, "LLM.Temperature"},
		{"missing jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }, "Auth.JWTSecret"},
		{"max limit below default", func(c *Config) { c.Query.MaxLimit = 10 }, "Query.MaxLimit"},
		{"zero distinct cap", func(c *Config) { c.Query.DistinctCap = 0 }, "Query.DistinctCap"},
		{"bad forbidden pattern", func(c *Config) { c.Query.ForbiddenFields = []string{"(unclosed"} }, "Query.ForbiddenFields"},
		{"discovery without collections", func(c *Config) { c.Discovery.Collections = nil }, "Discovery.Collections"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "Logging.Format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs.Fields(), tt.field)
		})
	}
}

func TestConfigValidation_DisabledDiscoverySkipsChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Discovery = DiscoveryConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidation_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = ""
	cfg.Redis.Addr = ""
	cfg.Query.SampleSize = 0

	var verrs ValidationErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	assert.Equal(t, []string{"Server.Port", "Redis.Addr", "Query.SampleSize"}, verrs.Fields())
	assert.Contains(t, verrs.Error(), "3 validation error(s)")
}

func productionConfig() *Config {
	cfg := validConfig()
	cfg.Server.GinMode = "release"
	cfg.Mongo.URI = "mongodb+srv://bot:pw@cluster0.example.net"
	cfg.Database.Password = "secure-random-password-123"
	cfg.Redis.Password = "secure-redis-password"
	cfg.Auth.JWTSecret = "super-secure-jwt-secret-with-at-least-32-characters"
	return cfg
}

func TestProductionValidation(t *testing.T) {
	require.NoError(t, productionConfig().ValidateProduction())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty database password", func(c *Config) { c.Database.Password = "" }, "Database.Password"},
		{"default redis password", func(c *Config) { c.Redis.Password = "changeme" }, "Redis.Password"},
		{"insecure jwt secret", func(c *Config) { c.Auth.JWTSecret = "secret" }, "Auth.JWTSecret"},
		{"placeholder api key", func(c *Config) { c.LLM.GeminiAPIKey = "your-api-key-here" }, "LLM.APIKey"},
		{"anonymous access", func(c *Config) { c.Auth.AllowAnonymous = true }, "Auth.AllowAnonymous"},
		{"safety checks off", func(c *Config) { c.Query.EnableSafetyChecks = false }, "Query.EnableSafetyChecks"},
		{"local mongo", func(c *Config) { c.Mongo.URI = "mongodb://localhost:27017" }, "Mongo.URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := productionConfig()
			tt.mutate(cfg)

			var verrs ValidationErrors
			require.True(t, errors.As(cfg.ValidateProduction(), &verrs))
			assert.Contains(t, verrs.Fields(), tt.field)
		})
	}
}

func TestValidateWithContext(t *testing.T) {
	dev := validConfig()
	assert.False(t, dev.IsProduction())
	assert.NoError(t, dev.ValidateWithContext())

	prod := validConfig()
	prod.Server.GinMode = "release"
	assert.True(t, prod.IsProduction())

	err := prod.ValidateWithContext()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "production validation failed")
}
