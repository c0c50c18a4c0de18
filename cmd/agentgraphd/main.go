// Package main implements agentgraphd, the local operation/debugging CLI
// for the task orchestration core.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/c360studio/agentgraph/config"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		natsURL     string
		metricsAddr string
	)

	rootCmd := &cobra.Command{
		Use:     "agentgraphd",
		Short:   "Multi-agent task orchestration core",
		Long:    "agentgraphd drives requirements through the task graph, scheduler, and quality-gate pipeline, and exposes its event stream and metrics for local operation and debugging.",
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS server URL (overrides config)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on (e.g. :9090); empty disables it")

	rootCmd.AddCommand(
		newRunCommand(&configPath, &natsURL, &metricsAddr),
		newStatusCommand(&configPath),
		newCancelCommand(&configPath, &natsURL),
		newEventsCommand(&configPath, &natsURL),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(configPath, natsURL string) (*config.Config, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	loader := config.NewLoader(logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if configPath != "" {
		fileCfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", configPath, err)
		}
		cfg.Merge(fileCfg)
	}
	if natsURL != "" {
		cfg.NATS.URL = natsURL
		cfg.NATS.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// serveMetrics starts a best-effort /metrics HTTP server on addr, shutting
// down when ctx is cancelled. Errors are logged, not fatal — local
// debugging should not be blocked by a metrics-port conflict.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
}

func connectNATS(cfg *config.Config) (*nats.Conn, error) {
	if !cfg.NATS.Enabled {
		return nil, nil
	}
	return nats.Connect(cfg.NATS.URL)
}
