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

	"github.com/spf13/cobra"

	"github.com/relaymesh/core/internal/config"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath  string
		debug       bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the relaymesh runtime",
		Long: `Start the event bus, orchestrator, gateway, schedule manager and
wait-task manager, and block until a shutdown signal arrives.

Channel adapters (Telegram, Discord, Slack, WhatsApp, iMessage) live
outside this binary: serve exposes the components a transport adapter
would publish HandleIncomingMessage to and subscribe to
ReplyReady/ActionReady/DeliverAnnounce from, plus a /metrics route.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "relaymesh.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address for the /metrics endpoint")

	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool, metricsAddr string) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}
	logger := slog.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.Close()

	if err := rt.schedMgr.LoadAndInitialize(ctx); err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	adminServer := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin http server", "error", err)
		}
	}()

	go rt.gateway.Run(ctx)
	go rt.schedMgr.Run(ctx)
	go rt.waitMgr.Run(ctx)
	go rt.schedWork.Run(ctx)

	logger.Info("relaymesh runtime started",
		"journal_dir", cfg.Runtime.JournalDir,
		"metrics_addr", metricsAddr,
		"agents", len(cfg.Agents),
	)

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping components")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = adminServer.Shutdown(shutdownCtx)

	rt.schedMgr.Stop()
	rt.waitMgr.Stop()
	rt.schedWork.Stop()

	logger.Info("relaymesh runtime stopped")
	return nil
}
