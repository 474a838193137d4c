package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/agent"
	"github.com/nidhogg/finsight/internal/aggregator"
	"github.com/nidhogg/finsight/internal/api"
	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/config"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
	"github.com/nidhogg/finsight/internal/planner"
	"github.com/nidhogg/finsight/internal/provider"
	"github.com/nidhogg/finsight/internal/ratelimit"
	msgrouter "github.com/nidhogg/finsight/internal/router"
	"github.com/nidhogg/finsight/internal/session"
	"github.com/nidhogg/finsight/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	required := cfgPath != ""
	if cfgPath == "" {
		cfgPath = "configs/finsight.json"
	}
	cfg, err := config.LoadOrDefault(cfgPath, required)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()
	logger.Info("Starting FinSight...", zap.String("config", cfgPath))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// LLM providers
	llm := newProviderRouter(cfg, logger)

	// Ledger: Postgres when reachable, otherwise the in-memory demo ledger.
	ledger, pg := openLedger(ctx, cfg, logger)
	if pg != nil {
		defer pg.Close()
	}

	a := cfg.Assistant
	limiter := ratelimit.New(a.RateLimit.PerMinute, a.RateLimit.PerDay)

	sessions := session.NewStore(
		session.WithTTL(a.Session.TTL.Duration),
		session.WithMaxSessions(a.Session.MaxSessions),
		session.WithMaxTurns(a.Session.MaxTurns),
	)
	sweeper := session.NewSweeper(sessions, a.Session.SweepInterval.Duration, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Each consumer gets an untyped nil when no provider is configured, so
	// the nil checks inside the pipeline hold.
	var (
		planLLM planner.Chatter
		aggLLM  aggregator.Chatter
		pricer  agent.PriceLookup
	)
	if llm != nil {
		planLLM, aggLLM = llm, llm
		pricer = agent.NewLLMPriceLookup(limiter, llm, logger)
	} else {
		logger.Warn("no LLM provider configured, answering with the keyword matcher and plain summaries")
	}

	registry := agent.NewDefaultRegistry(ledger, pricer, time.Now)
	plan := planner.New(limiter, planLLM, logger,
		planner.WithCategories(a.Categories),
		planner.WithCategorySource(ledger),
		planner.WithModel(a.Planner.Model))
	format := aggregator.New(limiter, aggLLM, logger, aggregator.WithModel(a.Aggregator.Model))

	workers := a.Workers
	if workers == 0 {
		workers = orchestrator.DefaultWorkers()
	}
	stewardOpts := []orchestrator.StewardOption{orchestrator.WithTimeout(a.RequestTimeout.Duration)}

	// Trace stream: optional, Redis Streams
	var bus *orchestrator.MessageBus
	if cfg.Database.Redis.URL != "" {
		b, busErr := orchestrator.NewMessageBus(cfg.Database.Redis.URL, a.Session.TTL.Duration, cfg.Database.Redis.TraceMaxLen, logger)
		if busErr != nil {
			logger.Warn("Redis unavailable, traces stay in process", zap.Error(busErr))
		} else {
			bus = b
			defer bus.Close()
			stewardOpts = append(stewardOpts, orchestrator.WithTracePublisher(bus))
			logger.Info("Trace stream enabled")
		}
	}

	steward := orchestrator.NewSteward(sessions, plan,
		orchestrator.NewScheduler(registry, workers, logger),
		format, limiter, logger, stewardOpts...)

	// Chat platforms
	gw := gateway.NewGateway(logger)
	msgRouter := msgrouter.New(gw, steward, nil, logger)
	commands := command.NewRegistry()
	command.RegisterBuiltins(commands, command.Builtins{
		Limits:     steward,
		Forgetter:  msgRouter,
		Status:     gw,
		Categories: ledger,
	})
	msgRouter.SetCommands(commands)
	gw.SetHandler(msgRouter.Handle)

	webhook := gateway.NewWebhookAdapter(a.RequestTimeout.Duration+5*time.Second, logger)
	gw.Register(webhook)
	if s := cfg.Gateway.Slack; s.Enabled && s.BotToken != "" {
		gw.Register(gateway.NewSlackAdapter(s.BotToken, s.AppToken, logger))
	}
	if d := cfg.Gateway.Discord; d.Enabled && d.BotToken != "" {
		gw.Register(gateway.NewDiscordAdapter(d.BotToken, logger))
	}
	if err := gw.ConnectAll(ctx); err != nil {
		logger.Warn("some gateway adapters failed to connect", zap.Error(err))
	}

	// HTTP
	apiOpts := []api.Option{
		api.WithGatewayStatus(gw),
		api.WithWebhook(webhook),
		api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if pg != nil {
		apiOpts = append(apiOpts, api.WithDatabase(pg))
	}
	handler := api.NewHandler(steward, logger, apiOpts...)

	port := cfg.Server.Port
	if port == 0 {
		port = 3210
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("FinSight listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down FinSight...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gw.Close()
	msgRouter.Wait()
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// newProviderRouter registers every provider with an API key and binds the
// planner, aggregator and pricing purposes. It returns nil when none is usable.
func newProviderRouter(cfg *config.Config, logger *zap.Logger) *provider.Router {
	router := provider.NewRouter(logger)
	registered := 0
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Info("skipping provider without api key", zap.String("id", pc.ID))
			continue
		}
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Models: pc.Models, Extra: pc.Extra,
			Timeout: pc.Timeout.Duration,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		registered++
	}
	if registered == 0 {
		return nil
	}

	a := cfg.Assistant
	for purpose, pc := range map[string]config.PurposeConfig{
		provider.PurposePlanner:    a.Planner,
		provider.PurposeAggregator: a.Aggregator,
		provider.PurposePricing:    a.Pricing,
	} {
		if pc.Provider != "" {
			router.Bind(purpose, pc.Provider, pc.Model)
		}
		if len(pc.Fallbacks) > 0 {
			router.SetFallbacks(purpose, pc.Fallbacks)
		}
	}
	return router
}

// openLedger connects to Postgres and applies migrations. When the database
// is not configured or unreachable it falls back to a seeded in-memory ledger.
func openLedger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Ledger, *store.Store) {
	pgCfg := cfg.Database.Postgres
	if pgCfg.DSN != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := store.New(connectCtx, pgCfg.DSN, pgCfg.UserID, logger)
		if err == nil {
			if err = pg.Migrate(connectCtx, pgCfg.MigrationsDir); err == nil {
				logger.Info("Using PostgreSQL ledger", zap.Int64("user", pgCfg.UserID))
				return pg, pg
			}
			pg.Close()
		}
		logger.Warn("PostgreSQL unavailable, using the in-memory demo ledger", zap.Error(err))
	}
	mem := store.NewMemoryLedger(store.DefaultSettings())
	mem.SeedDemo(time.Now())
	return mem, nil
}
