package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/ticketdigest/internal/types"
)

// Alerter sends a short notice for every failed run to a fixed list of
// targets.
type Alerter struct {
	registry *Registry
	targets  []string
}

// NewAlerter creates an Alerter. Registering the "log:" handler is left to
// the caller.
func NewAlerter(registry *Registry, targets []string) *Alerter {
	return &Alerter{registry: registry, targets: targets}
}

// LogHandler writes alerts to the structured log.
func LogHandler(target, message string) error {
	slog.Warn("run alert", "target", target, "message", message)
	return nil
}

// RunFailed broadcasts the failure notice to every target.
func (a *Alerter) RunFailed(_ context.Context, rec *types.RunRecord) error {
	if len(a.targets) == 0 {
		return nil
	}
	return a.registry.Broadcast(a.targets, FormatFailure(rec))
}

// FormatFailure renders a failed run as a plain-text notice.
func FormatFailure(rec *types.RunRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket #%d report failed\n", rec.TicketID)
	fmt.Fprintf(&b, "Run: %s\n", rec.ID)
	if rec.FailedStage != "" {
		fmt.Fprintf(&b, "Stage: %s\n", rec.FailedStage)
	}
	if rec.Reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n", rec.Reason)
	}
	if rec.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.Error)
	}
	return strings.TrimRight(b.String(), "\n")
}
