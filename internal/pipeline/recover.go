package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/user/ticketdigest/internal/types"
)

// next is the state a run was working towards.
var next = map[types.RunState]types.RunState{
	types.StateStarted:      types.StateSessionReady,
	types.StateSessionReady: types.StateFetched,
	types.StateFetched:      types.StateSummarized,
	types.StateSummarized:   types.StateStored,
}

// RecoverInterrupted closes runs left unfinished by a previous process so
// that every recorded run ends in a terminal state. It returns how many
// runs were closed.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	runs, err := o.Runs.List(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}
	closed := 0
	for _, rec := range runs {
		if rec.State.Terminal() {
			continue
		}
		stage, ok := next[rec.State]
		if !ok {
			stage = rec.State
		}
		err := o.Runs.Append(ctx, &types.Transition{
			RunID:    rec.ID,
			TicketID: rec.TicketID,
			State:    types.StateFailed,
			Stage:    stage,
			Reason:   types.ReasonInternal,
			Error:    "interrupted by shutdown",
			At:       o.now(),
		})
		if err != nil {
			return closed, fmt.Errorf("close run %s: %w", rec.ID, err)
		}
		o.Metrics.RunFinished("failed", string(stage), types.ReasonInternal)
		slog.Warn("closed interrupted run", "run_id", string(rec.ID), "ticket_id", rec.TicketID, "stage", stage)
		closed++
	}
	return closed, nil
}
