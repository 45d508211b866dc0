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

	"github.com/spf13/cobra"

	"github.com/user/deskmate/internal/api"
	"github.com/user/deskmate/internal/delivery"
	"github.com/user/deskmate/internal/gateway"
	"github.com/user/deskmate/internal/scheduler"
	"github.com/user/deskmate/internal/telegram"
)

const pidFile = "deskmate.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the deskmate daemon",
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFile)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Write PID file
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Gateway
	gw := gateway.New(int64(cfg.MaxConcurrent))
	gw.Queue.SetProcessor(a.runtime.ProcessRun)
	gw.Queue.OnDepth(a.metrics.QueueDepth)
	gw.Start(ctx)
	defer gw.Stop()

	// HTTP users have no push channel; their reminders land in the journal.
	a.delivery.Register(api.Source+":", delivery.JournalHandler(a.events))

	// Telegram adapter
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, gw, a.sessions, a.events, a.artifacts)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		a.delivery.Register(telegram.Source+":", adapter.SendTo)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduler
	if err := a.scheduler.Every("evict-idle", scheduler.SweepSpec, scheduler.IdleSweep(a.sessions, a.metrics)); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.scheduler.Stop()
	slog.Info("scheduler started")

	// HTTP server
	srv := api.NewServer(gw, a.sessions, a.events, a.artifacts, api.Options{
		ReplyTimeout: cfg.ReplyTimeout(),
		Metrics:      a.metrics,
		Checks: map[string]api.Check{
			"sessions": func(ctx context.Context) error {
				_, err := a.sessions.List(ctx)
				return err
			},
			"reminders": func(context.Context) error {
				_, err := a.reminders.List()
				return err
			},
		},
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("http server started", "listen", cfg.HTTP.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("deskmate started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"session_backend", cfg.Session.Backend,
		"time_zone", cfg.TimeZone,
		"capabilities", a.capabilities,
		"pid_file", pidPath,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan
		if sig == syscall.SIGHUP {
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				// Re-write PID file since we failed to re-exec
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		// SIGINT or SIGTERM
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
