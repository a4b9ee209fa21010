package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/ticketdigest/internal/dedup"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/internal/types"
)

// ErrDuplicate is returned by Dispatch when the same ticket event was
// accepted within the dedup window.
var ErrDuplicate = errors.New("duplicate notification")

// ErrInvalidNotification is returned for notifications without a usable
// ticket id.
var ErrInvalidNotification = errors.New("invalid notification")

// Options tune a Gateway. Zero values fall back to defaults.
type Options struct {
	MaxConcurrent int64
	Guard         dedup.Guard
	DedupWindow   time.Duration
	Metrics       *telemetry.Metrics
}

// Gateway turns inbound notifications into runs. It records the STARTED
// transition, then hands the run to the queue and returns immediately.
type Gateway struct {
	runs    types.RunStore
	Queue   *Queue
	guard   dedup.Guard
	window  time.Duration
	metrics *telemetry.Metrics
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Gateway recording runs in the given store.
func New(runs types.RunStore, opts Options) *Gateway {
	concurrency := opts.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Gateway{
		runs:    runs,
		Queue:   NewQueue(concurrency),
		guard:   opts.Guard,
		window:  opts.DedupWindow,
		metrics: opts.Metrics,
		now:     time.Now,
	}
}

// Start initialises the gateway's context and starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.Queue.Start(g.ctx)
}

// Stop cancels the gateway context, stops the queue, and waits for any
// outstanding work to finish.
func (g *Gateway) Stop() {
	if g.cancel != nil {
		g.cancel()
	}
	g.Queue.Stop()
	g.wg.Wait()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnComplete sets a callback invoked when the run's processor returns.
func WithOnComplete(fn func(error)) RunOption {
	return func(r *Run) { r.OnComplete = fn }
}

// Dispatch validates a notification, applies duplicate suppression, records
// the run as STARTED and enqueues it. It returns the new run's id.
func (g *Gateway) Dispatch(ctx context.Context, n types.Notification, opts ...RunOption) (types.RunID, error) {
	if n.TicketID <= 0 {
		g.metrics.Notification("invalid")
		return "", fmt.Errorf("%w: ticket id %d", ErrInvalidNotification, n.TicketID)
	}

	claimed := ""
	if g.guard != nil && g.window > 0 {
		key := dedupKey(n)
		ok, err := g.guard.Claim(ctx, key, g.window)
		switch {
		case err != nil:
			// A broken guard must not block processing.
			slog.Warn("dedup claim failed", "ticket_id", n.TicketID, "error", err)
		case !ok:
			g.metrics.Notification("duplicate")
			slog.Info("duplicate notification suppressed", "ticket_id", n.TicketID, "event", n.Event)
			return "", ErrDuplicate
		default:
			claimed = key
		}
	}

	id := types.NewRunID()
	if err := g.runs.Append(ctx, &types.Transition{
		RunID:    id,
		TicketID: n.TicketID,
		Source:   n.Source,
		State:    types.StateStarted,
		At:       g.now(),
	}); err != nil {
		g.release(ctx, claimed)
		return "", fmt.Errorf("record run start: %w", err)
	}

	run := NewRun(id, n)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		g.fail(ctx, id, n.TicketID, err)
		g.release(ctx, claimed)
		return "", fmt.Errorf("enqueue ticket %d: %w", n.TicketID, err)
	}

	g.metrics.Notification("accepted")
	slog.Info("run dispatched", "run_id", string(id), "ticket_id", n.TicketID, "source", n.Source)
	return id, nil
}

func dedupKey(n types.Notification) string {
	key := string(types.TicketLane(n.TicketID))
	if n.Event != "" {
		key += ":" + n.Event
	}
	return key
}

// release drops a claim taken for a notification that never reached the
// queue, so a redelivery is not suppressed.
func (g *Gateway) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := g.guard.Release(ctx, key); err != nil {
		slog.Warn("dedup release failed", "key", key, "error", err)
	}
}

// fail closes a run that never reached the pipeline.
func (g *Gateway) fail(ctx context.Context, id types.RunID, ticketID int, cause error) {
	g.metrics.Notification("rejected")
	err := g.runs.Append(ctx, &types.Transition{
		RunID:    id,
		TicketID: ticketID,
		State:    types.StateFailed,
		Stage:    types.StateSessionReady,
		Reason:   types.ReasonInternal,
		Error:    cause.Error(),
		At:       g.now(),
	})
	if err != nil {
		slog.Error("record run failure", "run_id", string(id), "error", err)
	}
}
