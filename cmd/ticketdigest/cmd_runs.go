package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/ticketdigest/internal/state"
	"github.com/user/ticketdigest/internal/types"
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsShowCmd)

	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to show (0 for all)")
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect the run ledger",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		cfg := loadConfig()
		ledger := state.NewLedger(cfg.DataDir)

		list, err := ledger.List(context.Background(), limit)
		if err != nil {
			return fmt.Errorf("list runs: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTICKET\tSTATE\tREASON\tCREATED")
		for _, r := range list {
			st := string(r.State)
			if r.State == types.StateFailed {
				st += "(" + string(r.FailedStage) + ")"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
				r.ID,
				r.TicketID,
				st,
				r.Reason,
				r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one run and its transitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		ledger := state.NewLedger(cfg.DataDir)
		artifacts := state.NewArtifactIndex(cfg.DataDir)
		ctx := context.Background()
		id := types.RunID(args[0])

		history, err := ledger.History(ctx, id)
		if errors.Is(err, types.ErrNotFound) {
			return fmt.Errorf("run not found: %s", args[0])
		}
		if err != nil {
			return fmt.Errorf("read run: %w", err)
		}
		printRecord(state.Fold(history))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "\nSEQ\tSTATE\tAT\tDETAIL")
		for _, t := range history {
			detail := t.Key
			if t.State == types.StateFailed {
				detail = fmt.Sprintf("%s %s: %s", t.Stage, t.Reason, t.Error)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", t.Seq, t.State, t.At.Local().Format("15:04:05.000"), detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		art, err := artifacts.Get(ctx, id)
		if err == nil {
			fmt.Fprintf(os.Stdout, "\nArtifact: %s (%d bytes, %s)\n", art.StorageKey, art.Size, art.UploadStatus)
		}
		return nil
	},
}
