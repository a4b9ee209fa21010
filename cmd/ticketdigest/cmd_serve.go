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
	"github.com/user/ticketdigest/internal/config"
	"github.com/user/ticketdigest/internal/dedup"
	"github.com/user/ticketdigest/internal/gateway"
	"github.com/user/ticketdigest/internal/report"
	"github.com/user/ticketdigest/internal/scheduler"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/internal/webhook"
)

const pidFileName = "ticketdigest.pid"

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ticketdigest daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func newGuard(ctx context.Context, cfg *config.Config) (dedup.Guard, func() error, error) {
	if cfg.Dedup.Redis.Addr == "" {
		return dedup.NewMemory(), func() error { return nil }, nil
	}
	r, err := dedup.NewRedis(ctx, dedup.RedisConfig{
		Addr:     cfg.Dedup.Redis.Addr,
		Password: cfg.Dedup.Redis.Password,
		DB:       cfg.Dedup.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	return r, r.Close, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
		Mode:         cfg.Telemetry.Tracing,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		ServiceName:  "ticketdigest",
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	metrics := telemetry.NewMetrics()
	a, err := buildApp(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer a.close()

	if n, err := a.orch.RecoverInterrupted(ctx); err != nil {
		slog.Error("recover interrupted runs", "error", err)
	} else if n > 0 {
		slog.Warn("closed runs interrupted by a previous shutdown", "count", n)
	}

	guard, closeGuard, err := newGuard(ctx, cfg)
	if err != nil {
		return fmt.Errorf("create dedup guard: %w", err)
	}
	defer closeGuard()

	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		if err := a.orch.Shutdown(sctx); err != nil {
			slog.Warn("glpi session close failed", "error", err)
		}
	}()

	gw := gateway.New(a.runs, gateway.Options{
		MaxConcurrent: int64(cfg.MaxConcurrent),
		Guard:         guard,
		DedupWindow:   cfg.Dedup.Window.Std(),
		Metrics:       metrics,
	})
	gw.Queue.SetProcessor(a.orch.ProcessRun)
	gw.Start(ctx)
	defer gw.Stop()

	slog.Info("ticketdigest started",
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"llm_model", cfg.LLM.Model,
		"storage_backend", cfg.Storage.Backend,
		"pid_file", pidPath,
	)

	if a.telegram != nil {
		go a.telegram.Start(ctx)
		slog.Info("telegram adapter started")
	} else {
		slog.Warn("telegram adapter disabled (no token)")
	}

	// Scheduler
	maxAge := cfg.Report.SweepMaxAge.Std()
	sched := scheduler.New(scheduler.Job{
		Name:     "sweep-scratch",
		Schedule: cfg.Report.SweepSchedule,
		Run: func() {
			n, err := report.SweepScratch(a.scratchDir, maxAge, time.Now())
			if err != nil {
				slog.Error("scratch sweep failed", "dir", a.scratchDir, "error", err)
			}
			if n > 0 {
				slog.Info("removed stale report files", "dir", a.scratchDir, "count", n)
			}
		},
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer sched.Stop()

	// Webhook HTTP server
	if cfg.HTTP.Enabled {
		webhookSrv := webhook.NewServer(gw, a.runs, webhook.Options{
			Secret:    cfg.HTTP.Secret,
			Metrics:   metrics.Handler(),
			Artifacts: a.artifacts,
		})
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhookSrv,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("webhook server started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("webhook server error", "error", err)
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			httpServer.Shutdown(sctx)
		}()
	}

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
				if _, writeErr := writePIDFile(cfg.DataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
				continue
			}
		}
		slog.Info("shutting down", "signal", sig)
		return nil
	}
}
