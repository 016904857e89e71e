// Package app wires the service components using go.uber.org/dig.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/qninhdt/wyvern-ai/internal/agents"
	"github.com/qninhdt/wyvern-ai/internal/api"
	"github.com/qninhdt/wyvern-ai/internal/config"
	"github.com/qninhdt/wyvern-ai/internal/db"
	"github.com/qninhdt/wyvern-ai/internal/dice"
	"github.com/qninhdt/wyvern-ai/internal/game"
	"github.com/qninhdt/wyvern-ai/internal/logging"
	"github.com/qninhdt/wyvern-ai/internal/metrics"
	mw "github.com/qninhdt/wyvern-ai/internal/middleware"
	"github.com/qninhdt/wyvern-ai/internal/rules"
)

// App holds the resolved services. Close releases the store and cache.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Store    db.Store
	Weaviate *rules.WeaviateClient
	Rules    rules.Retriever
	Agents   *agents.Factory
	Metrics  *metrics.Recorder
	Engine   *game.Engine
	Server   *api.Server

	redis *redis.Client
}

// New builds and wires all services from cfg
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	d := dig.New()

	providers := []any{
		func() *config.Config { return cfg },
		newLogger,
		func(logger *slog.Logger) (db.Store, error) { return newStore(ctx, cfg, logger) },
		newWeaviate,
		newRedis,
		newRetriever,
		newAgents,
		metrics.New,
		newEngine,
		newSessions,
		newServer,
	}
	for _, p := range providers {
		if err := d.Provide(p); err != nil {
			return nil, err
		}
	}

	var result *App
	err := d.Invoke(func(
		logger *slog.Logger,
		store db.Store,
		weaviate *rules.WeaviateClient,
		rdb *redis.Client,
		retriever rules.Retriever,
		factory *agents.Factory,
		rec *metrics.Recorder,
		engine *game.Engine,
		server *api.Server,
	) {
		result = &App{
			Config:   cfg,
			Logger:   logger,
			Store:    store,
			Weaviate: weaviate,
			Rules:    retriever,
			Agents:   factory,
			Metrics:  rec,
			Engine:   engine,
			Server:   server,
			redis:    rdb,
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to wire app: %w", dig.RootCause(err))
	}
	return result, nil
}

// Handler is the HTTP handler of the API server
func (a *App) Handler() http.Handler { return a.Server }

// Close releases the store and the cache client
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close(ctx))
	}
	return errors.Join(errs...)
}

func newLogger(cfg *config.Config) *slog.Logger {
	return logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (db.Store, error) {
	store, err := db.Open(ctx, db.Options{
		Driver:   cfg.Store.Driver,
		Path:     cfg.Store.Path,
		URI:      cfg.Store.URI,
		Database: cfg.Store.Database,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("store opened", "driver", cfg.Store.Driver)
	return store, nil
}

func newWeaviate(cfg *config.Config) *rules.WeaviateClient {
	return rules.NewWeaviateClient(rules.WeaviateOptions{
		URL:        cfg.Weaviate.Endpoint(),
		APIKey:     cfg.Weaviate.APIKey,
		Collection: cfg.Weaviate.Collection,
		Mode:       rules.SearchMode(cfg.Weaviate.Mode),
		Timeout:    cfg.Weaviate.Timeout,
	})
}

// newRedis returns nil when no cache is configured
func newRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func newRetriever(cfg *config.Config, logger *slog.Logger, weaviate *rules.WeaviateClient, rdb *redis.Client) rules.Retriever {
	if rdb == nil {
		return weaviate
	}
	logger.Info("rules cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	return rules.NewCachedRetriever(weaviate, rdb, cfg.Redis.TTL)
}

func newAgents(cfg *config.Config) (*agents.Factory, error) {
	kind, err := agents.ParseKind(cfg.Turn.Provider, agents.KindOpenRouter)
	if err != nil {
		return nil, err
	}
	agents.PromptDir = cfg.Server.PromptDir

	return agents.NewFactory(agents.Options{
		DefaultKind: kind,
		Timeout:     cfg.Turn.Timeout,
		OpenRouter: agents.OpenRouterOptions{
			APIKey:  cfg.OpenRouter.APIKey,
			BaseURL: cfg.OpenRouter.BaseURL,
			Referer: cfg.OpenRouter.Referer,
			Title:   cfg.OpenRouter.Title,
		},
		Gemini: agents.GeminiOptions{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
		},
		Ollama: agents.OllamaOptions{
			BaseURL: cfg.Ollama.URL(),
		},
		DefaultModel: map[agents.Kind]string{
			agents.KindOpenRouter: cfg.OpenRouter.Model,
			agents.KindGemini:     cfg.Gemini.Model,
			agents.KindOllama:     cfg.Ollama.Model,
		},
	}), nil
}

func newEngine(cfg *config.Config, store db.Store, retriever rules.Retriever, factory *agents.Factory, rec *metrics.Recorder) *game.Engine {
	return game.NewEngine(game.Options{
		Store:             store,
		Retriever:         retriever,
		Providers:         factory,
		Roller:            dice.NewRoller(nil),
		Metrics:           rec,
		RulesLimit:        cfg.Turn.RulesLimit,
		MaxToolIterations: cfg.Turn.MaxToolIterations,
	})
}

func newSessions(cfg *config.Config, logger *slog.Logger) *mw.Sessions {
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no JWT secret configured, campaign sessions will not survive a restart")
	}
	return mw.NewSessions(cfg.Auth.JWTSecret, cfg.Auth.SessionTTL)
}

func newServer(cfg *config.Config, store db.Store, engine *game.Engine, sessions *mw.Sessions, rec *metrics.Recorder) *api.Server {
	return api.NewServer(api.Options{
		Store:        store,
		Engine:       engine,
		Sessions:     sessions,
		Metrics:      rec,
		RateLimit:    cfg.Server.RateLimit,
		RateBurst:    cfg.Server.RateBurst,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
	})
}
