package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kalambet/rat/internal/api"
	"github.com/kalambet/rat/internal/backend"
	"github.com/kalambet/rat/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the proxy server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy, backend and local state",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		s := api.NewMCPServer(api.MCPDeps{Backend: newBackend(cfg)}, version)
		slog.Info("MCP server started (stdio transport)", "backend", cfg.Backend.BaseURL)
		return server.ServeStdio(s)
	},
}

func newBackend(cfg config.Config) *backend.Client {
	timeout, analyzeTimeout, _ := cfg.Durations()
	return backend.NewClient(cfg.Backend.BaseURL, backend.WithTimeouts(timeout, analyzeTimeout))
}

// newServerHandler wires the proxy routes with their cache, limiter, event
// hub and a registry carrying the Go runtime collectors.
func newServerHandler(cfg config.Config, logger *slog.Logger) http.Handler {
	_, _, relatedTTL := cfg.Durations()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return api.NewHandler(api.Deps{
		Backend: newBackend(cfg),
		Logger:  logger,
		Metrics: api.NewMetrics(reg),
		Related: api.NewRelatedCache(relatedTTL),
		Limiter: api.NewAnalyzeLimiter(cfg.RateLimit.AnalyzePerMinute),
		Events:  api.NewEventHub(),
	})
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "rat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           newServerHandler(cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		logger.Info("rat listening", "addr", addr, "backend", cfg.Backend.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus(ctx context.Context) error {
	return withApp(ctx, func(a *app) error {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()

		if err := a.client.Health(checkCtx); err != nil {
			printStatus("Proxy", "not reachable at %s (%v)", a.cfg.ProxyURL(), err)
		} else {
			printStatus("Proxy", "running at %s", a.cfg.ProxyURL())
		}
		printStatus("Backend", "%s", a.cfg.Backend.BaseURL)

		if id, ok, err := a.store.SelectedProjectID(); err != nil {
			printStatus("Project", "error: %v", err)
		} else if ok {
			printStatus("Project", "%d", id)
		} else {
			printStatus("Project", "none selected")
		}

		downloads, err := a.store.RecentDownloads(100)
		if err == nil {
			printStatus("Downloads", "%s", countLabel(len(downloads), 100))
		}
		printStatus("Data dir", "%s", a.cfg.Storage.DataDir)
		printStatus("Config", "%s", config.FilePath())
		return nil
	})
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
