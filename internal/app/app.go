// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Corphon/AIDungeonMaster/internal/api"
	"github.com/Corphon/AIDungeonMaster/internal/config"
	"github.com/Corphon/AIDungeonMaster/internal/di"
	"github.com/Corphon/AIDungeonMaster/internal/gamedata"
	"github.com/Corphon/AIDungeonMaster/internal/models"
	"github.com/Corphon/AIDungeonMaster/internal/services"
	"github.com/Corphon/AIDungeonMaster/internal/storage"
	"github.com/Corphon/AIDungeonMaster/internal/storage/sqlite"
	"github.com/Corphon/AIDungeonMaster/internal/utils"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	// providers register themselves with the llm registry
	_ "github.com/Corphon/AIDungeonMaster/internal/llm/providers/google"
	_ "github.com/Corphon/AIDungeonMaster/internal/llm/providers/openrouter"
)

// App is one wired server process.
type App struct {
	Config    *config.Config
	Container *di.Container
	Game      *services.GameService
	Handler   *api.Handler
	Router    *gin.Engine

	store   storage.BlobStore
	metrics *utils.GameMetrics
	logger  *utils.Logger
	server  *http.Server
}

// ConfigureLogger applies the level, format and file settings to logger.
func ConfigureLogger(cfg *config.Config, logger *utils.Logger) error {
	logger.SetLogLevel(utils.ParseLogLevel(cfg.LogLevel))
	logger.SetJSON(cfg.LogFormat == "json")
	if cfg.LogFile != "" {
		if err := utils.InitLogger(cfg.LogFile); err != nil {
			return err
		}
	}
	return nil
}

// New wires every service from cfg. The caller owns the returned App and
// must Run or Close it.
func New(cfg *config.Config, logger *utils.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = utils.GetLogger()
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Container: di.NewContainer(), store: store, logger: logger}
	if err := a.wire(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func openStore(cfg *config.Config) (storage.BlobStore, error) {
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	default:
		store, err := storage.NewFileStorage(cfg.SavesDir())
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		return store, nil
	}
}

func (a *App) wire() error {
	cfg := a.Config
	a.metrics = utils.NewGameMetrics(nil, a.logger)

	manager, err := config.NewManager(cfg)
	if err != nil {
		return fmt.Errorf("load app config: %w", err)
	}

	narrator := services.NewLLMService(nil, "", "", cfg.LLMTimeout, a.logger, a.metrics)
	if current := manager.GetCurrentConfig(); current.LLMProvider != "" {
		if err := narrator.UpdateProvider(nil, current.LLMProvider, current.LLMConfig); err != nil {
			// narration falls back to canned text until the provider is fixed
			a.logger.Warn("llm provider unavailable", map[string]interface{}{
				"provider": current.LLMProvider,
				"error":    err.Error(),
			})
		}
	}

	scenarios, err := LoadScenarios(cfg.ScenarioDir, a.logger)
	if err != nil {
		return err
	}

	game, err := services.NewGameService(services.GameServiceOptions{
		Scenarios:   scenarios,
		Saves:       services.NewSaveService(a.store, a.logger, cfg.AutosaveKeep),
		Narrator:    narrator,
		Metrics:     a.metrics,
		Logger:      a.logger,
		IdleTimeout: cfg.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("create game service: %w", err)
	}
	a.Game = game

	a.Router, a.Handler = api.SetupRouter(api.RouterOptions{
		Game:      game,
		Config:    manager,
		Metrics:   a.metrics,
		Logger:    a.logger,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		DebugMode: cfg.DebugMode,
	})
	a.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Container.Register(di.ServiceConfig, manager)
	a.Container.Register(di.ServiceStore, a.store)
	a.Container.Register(di.ServiceNarrator, narrator)
	a.Container.Register(di.ServiceMetrics, a.metrics)
	a.Container.Register(di.ServiceLogger, a.logger)
	a.Container.Register(di.ServiceGame, game)

	if missing := a.Container.Missing(di.ServiceConfig, di.ServiceStore, di.ServiceGame, di.ServiceNarrator); len(missing) > 0 {
		return fmt.Errorf("services not registered: %s", strings.Join(missing, ", "))
	}
	a.logger.Info("services wired", map[string]interface{}{
		"services":  a.Container.GetNames(),
		"storage":   cfg.StorageBackend,
		"scenarios": len(scenarios),
		"llm_ready": narrator.IsReady(),
	})
	return nil
}

// LoadScenarios returns the shipped scenarios plus every file in dir.
// A scenario in dir replaces a shipped one with the same id.
func LoadScenarios(dir string, logger *utils.Logger) (map[string]*models.Scenario, error) {
	scenarios, err := gamedata.ShippedScenarios()
	if err != nil {
		return nil, fmt.Errorf("load shipped scenarios: %w", err)
	}
	if dir == "" {
		return scenarios, nil
	}
	extra, err := gamedata.LoadScenarioDir(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("load scenarios from %s: %w", dir, err)
	}
	for id, sc := range extra {
		if _, shipped := scenarios[id]; shipped {
			logger.Warn("scenario overrides shipped content", map[string]interface{}{"scenario_id": id, "dir": dir})
		}
		scenarios[id] = sc
	}
	return scenarios, nil
}

// Run listens on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.Close()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server, the idle-session janitor and the metrics
// reporter on ln. When ctx ends, or any of them fails, everything is shut
// down and live sessions are autosaved.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening", map[string]interface{}{"addr": ln.Addr().String()})
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.Game.RunJanitor(gctx, a.Config.JanitorInterval)
	})
	if a.Config.MetricsInterval > 0 {
		g.Go(func() error {
			return a.metrics.RunReporter(gctx, a.Config.MetricsInterval)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	a.logger.Info("shutting down", nil)
	ctx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownTimeout)
	defer cancel()

	// hijacked websocket connections are not tracked by http.Server
	a.Handler.WebSockets.CloseAll()
	err := a.server.Shutdown(ctx)
	if err != nil {
		a.logger.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	a.Game.Shutdown(ctx)
	if closeErr := a.store.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// Close releases the store without serving; used when Run is never called.
func (a *App) Close() error {
	return a.store.Close()
}

// Metrics exposes the process metrics.
func (a *App) Metrics() *utils.GameMetrics {
	return a.metrics
}
