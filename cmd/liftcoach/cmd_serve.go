package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/user/liftcoach/internal/delivery"
	"github.com/user/liftcoach/internal/scheduler"
	"github.com/user/liftcoach/internal/telegram"
	"github.com/user/liftcoach/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the liftcoach daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, "liftcoach.pid")
}

func writePIDFile(dataDir string) (string, error) {
	path := pidPath(dataDir)
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return path, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer a.Close()

	pidFile, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidFile)

	a.gateway.Start(ctx)
	defer a.gateway.Stop()

	slog.Info("liftcoach started",
		"data_dir", cfg.DataDir,
		"database", cfg.DatabasePath(),
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"max_tool_rounds", cfg.MaxToolRounds,
		"llm_provider", cfg.LLM.Provider,
		"llm_model", cfg.LLM.Model,
		"tools", len(a.registry.All()),
		"pid_file", pidFile,
	)

	deliveries := delivery.NewRegistry()

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, a.gateway, a.conversations, func() []string {
			return a.registry.Names(nil)
		})
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		deliveries.Register("telegram:", adapter.Deliver)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	sched := scheduler.New(a.tasks, scheduler.Dispatch(ctx, a.gateway, deliveries))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()
	slog.Info("scheduler started", "tasks", sched.Scheduled())
	if err := sched.Watch(ctx, 0); err != nil {
		slog.Warn("task file watch disabled; use reload after edits", "error", err)
	}

	if cfg.HTTP.Addr != "" {
		srv := webhook.NewServer(webhook.Options{
			Asker:         a.gateway,
			Tasks:         a.tasks,
			Conversations: a.conversations,
			Registry:      a.registry,
			Metrics:       a.metrics,
			Token:         cfg.HTTP.Token,
			Signer:        signer(cfg),
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           srv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("http server started", "addr", cfg.HTTP.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			// Tasks are the only state edited from the CLI while running.
			slog.Info("received SIGHUP, reloading tasks")
			if err := sched.Reload(); err != nil {
				slog.Error("reload scheduler failed", "error", err)
			}
			slog.Info("scheduler reloaded", "tasks", sched.Scheduled())
			continue
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
