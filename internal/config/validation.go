package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation error(s):\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// HasErrors returns true if there are any validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Fields lists the offending field names in order.
func (e ValidationErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, err := range e {
		fields[i] = err.Field
	}
	return fields
}

func (e *ValidationErrors) check(ok bool, field, format string, args ...interface{}) {
	if !ok {
		*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs ValidationErrors

	c.validateServer(&errs)
	c.validateMongo(&errs)
	c.validateDatabase(&errs)
	c.validateRedis(&errs)
	c.validateLLM(&errs)
	c.validateAuth(&errs)
	c.validateQuery(&errs)
	c.validateDiscovery(&errs)
	c.validateLogging(&errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func (c *Config) validateServer(errs *ValidationErrors) {
	errs.check(c.Server.Port != "", "Server.Port", "server port is required")
	errs.check(oneOf(c.Server.GinMode, "debug", "release", "test"), "Server.GinMode",
		"invalid gin mode: %s (must be 'debug', 'release', or 'test')", c.Server.GinMode)
	errs.check(c.Server.ShutdownTimeout > 0, "Server.ShutdownTimeout", "shutdown timeout must be positive")
}

func (c *Config) validateMongo(errs *ValidationErrors) {
	if c.Mongo.URI == "" {
		errs.check(false, "Mongo.URI", "mongo URI is required")
	} else if u, err := url.Parse(c.Mongo.URI); err != nil || (u.Scheme != "mongodb" && u.Scheme != "mongodb+srv") {
		errs.check(false, "Mongo.URI", "mongo URI must use the mongodb:// or mongodb+srv:// scheme")
	}
	errs.check(c.Mongo.Database != "", "Mongo.Database", "mongo database is required")
	errs.check(c.Mongo.Collection != "", "Mongo.Collection", "default collection is required")
	errs.check(c.Mongo.Timeout > 0, "Mongo.Timeout", "mongo timeout must be positive")
}

func (c *Config) validateDatabase(errs *ValidationErrors) {
	errs.check(c.Database.Host != "", "Database.Host", "database host is required")
	errs.check(c.Database.Port != "", "Database.Port", "database port is required")
	errs.check(c.Database.Database != "", "Database.Database", "database name is required")
	errs.check(c.Database.Username != "", "Database.Username", "database username is required")
}

func (c *Config) validateRedis(errs *ValidationErrors) {
	errs.check(c.Redis.Addr != "", "Redis.Addr", "redis address is required")
	errs.check(c.Redis.DB >= 0, "Redis.DB", "redis db must be non-negative")
}

func (c *Config) validateLLM(errs *ValidationErrors) {
	switch c.LLM.Provider {
	case "gemini":
		errs.check(c.LLM.GeminiAPIKey != "", "LLM.GeminiAPIKey", "Gemini API key is required when provider is gemini")
	case "claude":
		errs.check(c.LLM.ClaudeAPIKey != "", "LLM.ClaudeAPIKey", "Claude API key is required when provider is claude")
	default:
		errs.check(false, "LLM.Provider", "invalid provider: %s (must be 'gemini' or 'claude')", c.LLM.Provider)
	}

	errs.check(c.LLM.Model != "", "LLM.Model", "model is required")
	errs.check(c.LLM.Temperature >= 0 && c.LLM.Temperature <= 2, "LLM.Temperature", "temperature must be between 0 and 2")
	errs.check(c.LLM.MaxTokens > 0, "LLM.MaxTokens", "max tokens must be positive")
	errs.check(c.LLM.Timeout > 0, "LLM.Timeout", "LLM timeout must be positive")
	errs.check(c.LLM.MaxRetries >= 0, "LLM.MaxRetries", "max retries must be non-negative")
}

func (c *Config) validateAuth(errs *ValidationErrors) {
	errs.check(c.Auth.JWTSecret != "", "Auth.JWTSecret", "JWT secret is required")
	errs.check(c.Auth.JWTExpiry > 0, "Auth.JWTExpiry", "JWT expiry must be positive")
	errs.check(c.Auth.SessionExpiry > 0, "Auth.SessionExpiry", "session expiry must be positive")
	errs.check(c.Auth.RateLimit >= 0, "Auth.RateLimit", "rate limit must be non-negative")
	errs.check(c.Auth.DailyTokenCap >= 0, "Auth.DailyTokenCap", "daily token cap must be non-negative")
}

func (c *Config) validateQuery(errs *ValidationErrors) {
	q := c.Query
	errs.check(q.DefaultLimit > 0, "Query.DefaultLimit", "default limit must be positive")
	errs.check(q.MaxLimit >= q.DefaultLimit, "Query.MaxLimit", "max limit must be at least the default limit")
	errs.check(q.SampleSize > 0, "Query.SampleSize", "sample size must be positive")
	errs.check(q.DistinctCap > 0, "Query.DistinctCap", "distinct cap must be positive")
	errs.check(q.MaxPipelineStages > 0, "Query.MaxPipelineStages", "max pipeline stages must be positive")
	errs.check(q.MaxQuestionLength > 0, "Query.MaxQuestionLength", "max question length must be positive")
	errs.check(q.Timeout > 0, "Query.Timeout", "query timeout must be positive")
	errs.check(q.CacheTTL >= 0, "Query.CacheTTL", "cache TTL must be non-negative")
	errs.check(q.SimilarityCutoff >= 0 && q.SimilarityCutoff <= 1, "Query.SimilarityCutoff", "similarity cutoff must be between 0 and 1")

	for _, pattern := range q.ForbiddenFields {
		_, err := regexp.Compile(pattern)
		errs.check(err == nil, "Query.ForbiddenFields", "invalid pattern %q: %v", pattern, err)
	}
}

func (c *Config) validateDiscovery(errs *ValidationErrors) {
	if !c.Discovery.Enabled {
		return
	}
	errs.check(c.Discovery.Interval > 0, "Discovery.Interval", "discovery interval must be positive")
	errs.check(len(c.Discovery.Collections) > 0, "Discovery.Collections", "at least one collection must be sampled")
}

func (c *Config) validateLogging(errs *ValidationErrors) {
	errs.check(oneOf(c.Logging.Level, "debug", "info", "warn", "error"), "Logging.Level",
		"invalid log level: %s", c.Logging.Level)
	errs.check(oneOf(c.Logging.Format, "json", "console"), "Logging.Format",
		"invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

var insecureJWTSecrets = []string{
	"",
	"your-secret-key-change-in-production",
	"change-this-in-production",
	"secret",
	"jwt-secret",
}

// ValidateProduction rejects insecure defaults that are tolerated in development.
func (c *Config) ValidateProduction() error {
	var errs ValidationErrors

	errs.check(c.Database.Password != "" && c.Database.Password != "changeme", "Database.Password",
		"production deployment must not use default or empty database password")
	errs.check(c.Redis.Password != "" && c.Redis.Password != "changeme", "Redis.Password",
		"production deployment must not use default or empty Redis password")
	errs.check(!oneOf(c.Auth.JWTSecret, insecureJWTSecrets...), "Auth.JWTSecret",
		"production deployment must not use default or insecure JWT secret")
	errs.check(len(c.Auth.JWTSecret) >= 32, "Auth.JWTSecret",
		"JWT secret should be at least 32 characters for production use")
	errs.check(c.LLM.APIKey() != "" && c.LLM.APIKey() != "your-api-key-here", "LLM.APIKey",
		"production deployment requires a valid %s API key", c.LLM.Provider)
	errs.check(c.Server.GinMode == "release", "Server.GinMode",
		"production deployment should use 'release' mode")
	errs.check(!c.Auth.AllowAnonymous, "Auth.AllowAnonymous",
		"production deployment should not allow anonymous access")
	errs.check(c.Query.EnableSafetyChecks, "Query.EnableSafetyChecks",
		"production deployment should have safety checks enabled")
	errs.check(!strings.Contains(c.Mongo.URI, "localhost"), "Mongo.URI",
		"production deployment should not point at a local MongoDB")

	if errs.HasErrors() {
		return errs
	}
	return nil
}

// IsProduction determines if the current environment is production
// based on the GinMode setting
func (c *Config) IsProduction() bool {
	return c.Server.GinMode == "release"
}

// ValidateWithContext validates configuration and runs production checks if appropriate
func (c *Config) ValidateWithContext() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.IsProduction() {
		if err := c.ValidateProduction(); err != nil {
			return fmt.Errorf("production validation failed: %w", err)
		}
	}
	return nil
}
