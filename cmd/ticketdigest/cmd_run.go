package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/internal/types"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run <ticket-id>",
	Short: "Process one ticket now and wait for the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ticketID, err := strconv.Atoi(args[0])
		if err != nil || ticketID <= 0 {
			return fmt.Errorf("invalid ticket id %q", args[0])
		}

		cfg := loadConfig()
		setupLogging(cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingConfig{
			Mode:         cfg.Telemetry.Tracing,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			ServiceName:  "ticketdigest",
			Version:      version,
		})
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer shutdownTracing(context.Background())

		a, err := buildApp(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer a.close()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.orch.Shutdown(sctx); err != nil {
				slog.Warn("glpi session close failed", "error", err)
			}
		}()

		rec, runErr := a.orch.Run(ctx, types.Notification{Source: "cli", TicketID: ticketID})
		if rec != nil {
			printRecord(rec)
		}
		return runErr
	},
}

func printRecord(rec *types.RunRecord) {
	fmt.Fprintf(os.Stdout, "Run %s for ticket #%d: %s\n", rec.ID, rec.TicketID, rec.State)
	if rec.State == types.StateFailed {
		fmt.Fprintf(os.Stdout, "  stage:  %s\n  reason: %s\n", rec.FailedStage, rec.Reason)
		if rec.Error != "" {
			fmt.Fprintf(os.Stdout, "  error:  %s\n", rec.Error)
		}
	}
	if rec.StorageKey != "" {
		fmt.Fprintf(os.Stdout, "  key:    %s\n", rec.StorageKey)
	}
}
