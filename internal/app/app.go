// Package app wires configuration, storage, the model provider and the
// generation pipeline into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/maxibaudrix/Kiui/internal/api"
	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/database"
	"github.com/maxibaudrix/Kiui/internal/llm"
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/notify"
	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/plan"
	"github.com/maxibaudrix/Kiui/internal/planner"
	"github.com/maxibaudrix/Kiui/internal/prompt"
	"github.com/maxibaudrix/Kiui/internal/validator"
)

// App holds the application's dependencies.
type App struct {
	cfg *config.Config
	log *logger.Logger

	Planner    *planner.Planner
	Plans      plan.Store
	Logs       metrics.LogStore
	Onboarding onboarding.Repository
	Collectors *metrics.Collectors

	closers []func()
}

// New builds the application in dependency order: storage, provider client,
// pipeline stages, planner. A missing model credential is not fatal; requests
// then fail with a configuration error.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log, Collectors: metrics.NewCollectors()}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.cfg, a.log
	if err := a.openStorage(ctx); err != nil {
		return err
	}

	gen, err := a.textGenerator(ctx)
	if err != nil {
		return err
	}

	composer, err := prompt.NewComposer(cfg.MacroTolerance)
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	inv := llm.NewInvoker(gen, cfg.Provider,
		llm.WithRetries(cfg.MaxRetries),
		llm.WithBackoff(cfg.RetryBackoff, 10*cfg.RetryBackoff),
		llm.WithConcurrency(int64(cfg.MaxConcurrency)),
		llm.WithObserver(a.Collectors.ObserveAttempt),
		llm.WithLogger(log),
	)

	strategy, err := planner.NewStrategy(cfg, composer, inv)
	if err != nil {
		return err
	}

	a.Planner = planner.New(planner.Deps{
		Builder: onboarding.NewBuilder(
			onboarding.WithGrace(cfg.StartDateGrace),
			onboarding.WithDefaultLocale(cfg.DefaultLocale),
		),
		Strategy:  strategy,
		Invoker:   inv,
		Validator: validator.New(cfg.MacroTolerance),
		Plans:     a.Plans,
		Logs:      a.Logs,
	},
		planner.WithLogger(log),
		planner.WithNotifier(a.notifier()),
		planner.WithCollectors(a.Collectors),
		planner.WithRequestTimeout(cfg.RequestTimeout),
		planner.WithParseRetries(cfg.ParseRetries),
	)

	log.Info("application ready",
		"provider", cfg.Provider, "model", cfg.Generation.Model, "strategy", strategy.Name(),
		"storage", cfg.StorageBackend, "credential", inv.HasCredential())
	return nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch a.cfg.StorageBackend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, a.cfg.PostgresDSN, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.Plans = plan.NewPostgresStore(pool)
		a.Logs = metrics.NewPostgresStore(pool)
		a.Onboarding = onboarding.NewPostgresRepository(pool)
	default:
		db, err := database.NewDB(a.cfg.DatabasePath, a.log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.Plans = plan.NewSQLiteStore(db.SQL)
		a.Logs = metrics.NewStore(db.SQL)
		a.Onboarding = onboarding.NewSQLRepository(db.SQL)
	}
	return nil
}

// textGenerator returns the configured provider client, or nil when its
// credential is missing.
func (a *App) textGenerator(ctx context.Context) (llm.TextGenerator, error) {
	switch a.cfg.Provider {
	case config.ProviderGroq:
		client, err := llm.NewGroqClient(a.cfg)
		if errors.Is(err, llm.ErrMissingCredential) {
			a.log.Warn("GROQ_API_KEY not set, plan generation is disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		client, err := llm.NewGeminiClient(ctx, a.cfg)
		if errors.Is(err, llm.ErrMissingCredential) {
			a.log.Warn("GEMINI_API_KEY not set, plan generation is disabled")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return client, nil
	}
}

// notifier returns the Telegram operator notifier when configured. Alerts are
// optional, so a bot that cannot be reached only disables them.
func (a *App) notifier() notify.Notifier {
	if a.cfg.TelegramBotToken == "" || a.cfg.TelegramAdminChatID == 0 {
		return notify.Nop{}
	}
	n, err := notify.NewTelegramNotifier(a.cfg.TelegramBotToken, a.cfg.TelegramAdminChatID, a.log)
	if err != nil {
		a.log.Warn("operator alerts disabled", "error", err)
		return notify.Nop{}
	}
	return n
}

// Router returns the HTTP API.
func (a *App) Router() *gin.Engine {
	dbPath := ""
	if a.cfg.StorageBackend != config.BackendPostgres {
		dbPath = a.cfg.DatabasePath
	}
	return api.NewRouter(api.RouterConfig{
		Logger:         a.log,
		PlanHandler:    api.NewPlanHandler(a.log, a.Planner, a.Plans, a.Onboarding),
		HealthHandler:  api.NewHealthHandler(dbPath),
		AuthMiddleware: api.NewAuthMiddleware(a.cfg.SessionSecret, a.log),
		Collectors:     a.Collectors,
	})
}

// Close releases storage and provider clients in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
