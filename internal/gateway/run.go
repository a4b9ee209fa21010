package gateway

import (
	"context"
	"time"

	"github.com/user/ticketdigest/internal/types"
)

// RunStatus represents the lifecycle state of a Run inside the queue.
// Pipeline states are tracked separately in the run ledger.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run tracks a single execution of a notification against one ticket.
type Run struct {
	ID           types.RunID
	Lane         types.LaneKey
	Notification types.Notification
	Status       RunStatus
	CreatedAt    time.Time
	StartedAt    *time.Time
	EndedAt      *time.Time
	Error        error
	Ctx          context.Context
	OnComplete   func(err error)
}

// NewRun creates a Run in the Queued state on the notification's ticket lane.
func NewRun(id types.RunID, n types.Notification) *Run {
	return &Run{
		ID:           id,
		Lane:         types.TicketLane(n.TicketID),
		Notification: n,
		Status:       RunStatusQueued,
		CreatedAt:    time.Now(),
	}
}
