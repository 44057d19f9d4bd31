package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/recalld/internal/http"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
	"github.com/fyrsmithlabs/recalld/internal/vectorsync"
)

var watchConfig bool

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", true, "reload the config file when it changes")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the recalld daemon",
	Long: `Start the recalld HTTP server.

The server exposes the chat API under /api/v1, the vectors API used by
passthrough backends under /api/vector, /health and /metrics.

Configuration is read from ~/.config/recalld/config.yaml (or --config)
and RECALLD_ environment variables. With --watch, backend changes in the
file are applied without a restart.

Examples:
  # Start with defaults
  recalld serve

  # Use Qdrant
  RECALLD_BACKEND__KIND=payloadIndexedStore recalld serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	return serve(ctx, path)
}

// serve starts every component and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Creates the embedding provider and the backend registry
//  4. Builds the sync engine and the retrieval pipeline
//  5. Starts the config watcher and the HTTP server
//  6. Shuts down gracefully on cancellation
func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tc, err := telemetryConfig(cfg)
	if err != nil {
		return err
	}
	tel, err := telemetry.New(ctx, tc)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), tc.Shutdown.Timeout.Duration())
		defer cancel()
		_ = tel.Shutdown(sctx)
	}()

	lc, err := loggingConfig(cfg)
	if err != nil {
		return err
	}
	var lp log.LoggerProvider
	if lc.Output.OTEL {
		lp = tel.LoggerProvider()
	}
	logger, err := logging.NewLogger(lc, lp)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Close()
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "Starting recalld",
		zap.String("version", version),
		zap.String("config", path),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("backend", cfg.Backend.Kind),
		zap.Bool("telemetry", tel.IsEnabled()),
		logging.Secret("server.api_key", cfg.Server.APIKey))

	embedder, err := embeddings.NewProvider(ctx, cfg.EmbeddingProvider(), zl)
	if err != nil {
		return fmt.Errorf("failed to create embedding provider: %w", err)
	}
	defer embedder.Close()

	registry := vectorstore.NewRegistry(cfg.VectorStore(), embedder, zl)
	defer registry.Close()

	// Backends connect lazily; a backend that is down at startup shows up
	// as a degraded /health rather than a failed start.
	if _, err := registry.Backend(ctx); err != nil {
		logger.Warn(ctx, "backend not ready", zap.Error(err))
	}

	rc, err := retrievalConfig(cfg)
	if err != nil {
		return err
	}
	engine := vectorsync.NewEngine(registry, syncConfig(cfg), logger)
	pipeline := retrieval.NewPipeline(registry, embedder, rc, logger)

	srv, err := httpserver.NewServer(httpserver.Deps{
		Backends: registry,
		Engine:   engine,
		Pipeline: pipeline,
		Logger:   zl,
	}, serverConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if watchConfig {
		watcher := config.NewWatcher(path, cfg, zl)
		watcher.OnChange(onConfigChange(gctx, registry, logger))
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				// The daemon keeps serving with the loaded configuration.
				logger.Warn(gctx, "config watcher stopped", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		logger.Info(gctx, "Server listening",
			zap.String("health_endpoint", fmt.Sprintf("http://%s/health", cfg.Server.Addr())),
			zap.String("metrics_endpoint", "/metrics"))
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
		defer cancel()
		logger.Info(sctx, "Shutting down")
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info(ctx, "Server shutdown complete")
	return nil
}

// onConfigChange switches the backend when its section changes. Other
// options are fixed for the life of the process.
func onConfigChange(ctx context.Context, registry *vectorstore.Registry, logger *logging.Logger) config.ChangeFunc {
	return func(prev, next *config.Config) {
		if config.EmbeddingsChanged(prev, next) {
			logger.Warn(ctx, "embedding settings changed, restart recalld to apply them")
			return
		}
		if !config.BackendChanged(prev, next) {
			logger.Info(ctx, "configuration reloaded, restart recalld to apply option changes")
			return
		}

		target := next.VectorStore()
		if err := registry.Switch(ctx, target); err != nil {
			logger.Error(ctx, "backend switch failed, keeping the previous backend",
				zap.String("backend", string(target.Kind)),
				zap.Error(err))
		}
	}
}
