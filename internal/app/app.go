// Package app assembles the service: database pool, Genkit, the model
// gateway, stores, tools, the agent, and the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/murmurhq/murmur/db"
	"github.com/murmurhq/murmur/internal/agent"
	"github.com/murmurhq/murmur/internal/api"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/memory"
	"github.com/murmurhq/murmur/internal/model"
	"github.com/murmurhq/murmur/internal/observability"
	"github.com/murmurhq/murmur/internal/session"
	"github.com/murmurhq/murmur/internal/tools"
)

const defaultSystemPrompt = `You are a helpful assistant. Answer clearly and concisely.
Use the available tools when a question needs current information from the
web or the current time. Cite tool results rather than guessing.`

const shutdownGraceTimeout = 10 * time.Second

// App is the assembled application.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Pool     *pgxpool.Pool
	Sessions *session.Store
	Memory   *memory.Store
	Guard    *session.Guard
	Tools    *tools.Registry
	Model    *model.Gateway
	Agent    *agent.Agent
	Server   *api.Server

	wg           sync.WaitGroup
	bgCancel     context.CancelFunc
	otelShutdown func(context.Context) error
}

// Setup initializes every component. On error, anything already
// initialized is released.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if logger == nil {
		logger = log.New(log.Config{})
	}

	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup after setup failure", "error", err)
			}
		}
	}()

	// Telemetry first so genkit's TracerProvider has its processor
	// before any span is created.
	otelShutdown, err := observability.Setup(ctx, cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}
	a.otelShutdown = otelShutdown

	pool, err := providePool(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Pool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	gateway, err := model.NewGateway(model.Config{
		Genkit:      g,
		ModelName:   cfg.FullModelName(),
		Logger:      logger,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("creating model gateway: %w", err)
	}
	a.Model = gateway

	a.Sessions, err = session.NewStore(pool, logger)
	if err != nil {
		return nil, fmt.Errorf("creating session store: %w", err)
	}
	a.Memory, err = memory.NewStore(pool, embedder, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory store: %w", err)
	}
	a.Guard = session.NewGuard()

	a.Tools, err = provideTools(g, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics, err := observability.NewTurnMetrics()
	if err != nil {
		logger.Warn("turn metrics disabled", "error", err)
	}

	extractor, err := memory.NewExtractor(gateway, logger)
	if err != nil {
		return nil, fmt.Errorf("creating memory extractor: %w", err)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel

	a.Agent, err = agent.New(agent.Config{
		Model:         gateway,
		Tools:         a.Tools,
		Sessions:      a.Sessions,
		Memory:        a.Memory,
		Extractor:     extractor,
		Logger:        logger,
		Metrics:       metrics,
		MaxSteps:      cfg.MaxSteps,
		SystemPrompt:  defaultSystemPrompt,
		HistoryLimit:  int(cfg.MaxHistoryMessages),
		BackgroundCtx: bgCtx,
		WG:            &a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}

	a.Server, err = api.NewServer(api.ServerConfig{
		Logger:      logger,
		Agent:       a.Agent,
		Sessions:    a.Sessions,
		Guard:       a.Guard,
		Pool:        pool,
		AuthSecret:  []byte(cfg.AuthSecret),
		TokenTTL:    time.Duration(cfg.TokenTTLMin) * time.Minute,
		CORSOrigins: cfg.CORSOrigins,
		TrustProxy:  cfg.TrustProxy,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}

	logger.Info("application initialized",
		"model", cfg.FullModelName(),
		"embedder", cfg.EmbedderModel,
		"tools", a.Tools.Names(),
	)
	return a, nil
}

// providePool runs migrations and opens the connection pool.
func providePool(ctx context.Context, cfg *config.Config, logger log.Logger) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// provideTools builds the registry. Web search is only registered when
// a SearXNG endpoint is configured; page fetch and time are always on.
func provideTools(g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*tools.Registry, error) {
	reg := tools.NewRegistry(logger)

	register := func(t *tools.Tool, err error) error {
		if err != nil {
			return err
		}
		return reg.Register(g, t)
	}

	if cfg.SearXNG.BaseURL != "" {
		if err := register(tools.NewWebSearch(cfg.SearXNG, logger)); err != nil {
			return nil, fmt.Errorf("registering web search: %w", err)
		}
	} else {
		logger.Info("web search disabled: no SearXNG endpoint configured")
	}
	if err := register(tools.NewFetchPage(cfg.Fetch, logger)); err != nil {
		return nil, fmt.Errorf("registering page fetch: %w", err)
	}
	if err := register(tools.NewCurrentTime()); err != nil {
		return nil, fmt.Errorf("registering current time: %w", err)
	}
	return reg, nil
}

// Close releases resources in reverse order: stop background work,
// wait for in-flight extraction and titling, then close the pool and
// flush telemetry.
func (a *App) Close() error {
	if a.bgCancel != nil {
		a.bgCancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGraceTimeout):
		a.Logger.Warn("background work did not finish before shutdown deadline")
	}

	if a.Pool != nil {
		a.Pool.Close()
	}

	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			return fmt.Errorf("shutting down telemetry: %w", err)
		}
	}
	return nil
}
