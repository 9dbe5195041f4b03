package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/stepline/stepline/internal/actions"
	"github.com/stepline/stepline/internal/api"
	"github.com/stepline/stepline/internal/engine"
	"github.com/stepline/stepline/internal/expressions"
	"github.com/stepline/stepline/internal/logging"
	"github.com/stepline/stepline/internal/metrics"
	"github.com/stepline/stepline/internal/registry"
	"github.com/stepline/stepline/internal/scheduler"
	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/streaming"
	mcpserver "github.com/stepline/stepline/pkg/mcp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the stepline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stateStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer stateStore.Close()

	reg, err := registry.New()
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if cfg.DefinitionsDir != "" {
		n, err := reg.LoadDir(cfg.DefinitionsDir)
		if err != nil {
			return fmt.Errorf("load definitions: %w", err)
		}
		logger.Info("definitions loaded", slog.Int("count", n), slog.String("dir", cfg.DefinitionsDir))
	}

	hub := streaming.NewMemoryHub()
	promReg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheus(promReg)

	handlers := actions.NewRegistry()
	if err := actions.RegisterBuiltins(handlers, logger); err != nil {
		return err
	}
	if err := handlers.Register(actions.NewRouteHandler(expressions.NewExprEngine())); err != nil {
		return err
	}
	if err := actions.RegisterCollaborators(handlers, actions.CollaboratorDeps{
		Render:      expressions.RenderTemplate,
		LoadMachine: machineLoader(cfg),
	}); err != nil {
		return err
	}

	exec, err := engine.NewExecutor(engine.ExecutorDeps{
		Store:       stateStore,
		Registry:    handlers,
		Definitions: reg,
		Hub:         hub,
		Metrics:     recorder,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create executor: %w", err)
	}

	// Late-bind the sub-workflow runner now that the executor exists.
	if err := actions.RegisterSubWorkflowHandlers(handlers, actions.SubWorkflowDeps{
		Run: engine.SubWorkflowRunnerOf(exec),
	}); err != nil {
		return err
	}

	runner := engine.NewRunner(exec, cfg.Concurrency, logger)
	service := engine.NewService(exec, runner, reg, stateStore)

	sched := scheduler.NewScheduler(service, logger)
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer func() { _ = sched.Stop() }()

	if cfg.MCP {
		srv := mcpserver.NewSteplineServer(mcpserver.SteplineServerDeps{
			Service:  service,
			Registry: reg,
			Logger:   logger,
		})
		logger.Info("serving MCP over stdio")
		defer service.Shutdown()
		return srv.Serve(ctx)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(service, reg, hub, sched, logger).Handler(promReg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	service.Shutdown()
	return nil
}

// openStore selects the state store backend from the config.
func openStore(ctx context.Context, cfg Config) (store.StateStore, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "file":
		return store.NewFileStore(cfg.StateDir)
	case "libsql", "":
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, err
		}
		return store.NewLibSQLStore(ctx, cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// machineLoader loads named state-machine documents from
// <definitions_dir>/machines/<name>.json.
func machineLoader(cfg Config) actions.StateMachineLoader {
	return func(_ context.Context, machine string) (map[string]any, error) {
		if cfg.DefinitionsDir == "" {
			return nil, fmt.Errorf("no definitions directory configured for machine %q", machine)
		}
		path := filepath.Join(cfg.DefinitionsDir, "machines", machine+".json")
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load machine %q: %w", machine, err)
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("machine %q: %w", machine, err)
		}
		return doc, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
