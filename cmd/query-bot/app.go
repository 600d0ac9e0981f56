package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/seanankenbruck/mongo-query-bot/internal/config"
	"github.com/seanankenbruck/mongo-query-bot/internal/database"
	"github.com/seanankenbruck/mongo-query-bot/internal/llm"
	"github.com/seanankenbruck/mongo-query-bot/internal/mongodb"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/processor"
	"github.com/seanankenbruck/mongo-query-bot/internal/semantic"
	"github.com/seanankenbruck/mongo-query-bot/internal/session"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

// app holds the dependencies shared by serve and ask.
type app struct {
	cfg       *config.Config
	logger    *observability.Logger
	store     *mongodb.MongoStore
	breaker   *mongodb.BreakerStore
	llm       *llm.CircuitBreakerClient
	mapper    semantic.Mapper
	postgres  *semantic.PostgresMapper
	redis     *redis.Client
	processor *processor.QueryProcessor
}

type appOptions struct {
	semanticStore string
	// requireRedis fails startup when Redis is unreachable instead of
	// running without cache and history.
	requireRedis bool
	// migrate applies pending semantic store migrations before connecting.
	migrate bool
}

// loadConfig reads configuration through the default provider chain and
// validates it, ignoring problems in the sections listed in skip.
func loadConfig(ctx context.Context, skip ...string) (*config.Config, error) {
	cfg, err := config.NewDefaultLoader().Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.ValidateWithContext()
	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		var kept config.ValidationErrors
		for _, e := range verrs {
			if !hasAnyPrefix(e.Field, skip) {
				kept = append(kept, e)
			}
		}
		if kept.HasErrors() {
			return nil, kept
		}
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func newLogger(cfg config.LoggingConfig, component string) *observability.Logger {
	return observability.NewLogger(component).
		WithFormat(cfg.Format).
		WithLevel(observability.LogLevel(cfg.Level))
}

func buildApp(ctx context.Context, cfg *config.Config, logger *observability.Logger, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, err := mongodb.Connect(ctx, cfg.Mongo)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.breaker = mongodb.NewBreakerStore(store, "mongodb",
		mongodb.DefaultCircuitBreakerConfig(cfg.Mongo.BreakerMaxFailures, cfg.Mongo.BreakerTimeout, logger.WithComponent("mongodb")))

	a.llm, err = llm.NewClient(ctx, cfg.LLM, logger.WithComponent("llm"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	switch opts.semanticStore {
	case storePostgres, "":
		if opts.migrate {
			if err := database.RunMigrations(cfg.Database.URL()); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
			logger.Info(ctx, "Semantic store schema is up to date", nil)
		}
		pg, err := semantic.NewPostgresMapper(cfg.Database)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize semantic store: %w", err)
		}
		a.postgres = pg
		a.mapper = pg
	case storeMemory:
		logger.Warn(ctx, "Using in-memory semantic store; learned examples are lost on exit", nil)
		a.mapper = semantic.NewMemoryMapper()
	default:
		a.Close()
		return nil, fmt.Errorf("unknown semantic store %q (must be %s or %s)", opts.semanticStore, storePostgres, storeMemory)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	switch {
	case err == nil:
		a.redis = rdb
	case opts.requireRedis:
		_ = rdb.Close()
		a.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	default:
		_ = rdb.Close()
		logger.Warn(ctx, "Redis unavailable; running without cache and history", map[string]interface{}{
			"addr":  cfg.Redis.Addr,
			"error": err.Error(),
		})
	}

	var history *session.History
	if a.redis != nil {
		history = session.NewHistory(a.redis, cfg.Query.HistoryLength, 0)
	}

	executor := mongodb.NewExecutor(a.breaker, mongodb.ExecutorConfig{
		MaxLimit:     cfg.Query.MaxLimit,
		DistinctCap:  cfg.Query.DistinctCap,
		HiddenFields: cfg.Query.ForbiddenFields,
	}, logger)

	qp, err := processor.NewQueryProcessor(a.llm, a.mapper, executor, a.redis, history, cfg.Query)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create query processor: %w", err)
	}
	qp.SetLogger(logger)
	a.processor = qp

	return a, nil
}

// healthChecker registers a check per dependency.
func (a *app) healthChecker() *observability.HealthChecker {
	hc := observability.NewHealthChecker("query-bot", version)
	hc.Register("mongodb", observability.MongoHealthCheck(a.breaker.Ping))
	hc.Register("llm", observability.LLMHealthCheck(a.llm.Available))
	if a.postgres != nil {
		hc.Register("postgres", observability.PostgresHealthCheck(a.postgres.Ping))
	}
	if a.redis != nil {
		hc.Register("redis", observability.RedisHealthCheck(func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	return hc
}

// Close releases every connection that was opened.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.logger.Warn(ctx, "Failed to disconnect from MongoDB", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.postgres != nil {
		_ = a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}
