// Package pipeline drives one ticket notification through session,
// fetch, summary and report storage, recording every state change.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/user/ticketdigest/internal/gateway"
	"github.com/user/ticketdigest/internal/prompt"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/internal/types"
)

var tracer = otel.Tracer("github.com/user/ticketdigest/internal/pipeline")

// Sessions is the shared GLPI session owner.
type Sessions interface {
	EnsureValidSession(ctx context.Context) (types.Session, error)
	Renew(ctx context.Context, stale types.Session) (types.Session, error)
	Terminate(ctx context.Context) error
}

// Fetcher reads one ticket with a valid session.
type Fetcher interface {
	FetchTicket(ctx context.Context, session types.Session, id int) (*types.Ticket, error)
}

// Summarizer produces the raw analysis text for a ticket.
type Summarizer interface {
	Summarize(ctx context.Context, ticket *types.Ticket, query string) (string, error)
}

// Publisher renders and stores the report.
type Publisher interface {
	BuildAndStore(ctx context.Context, ticket *types.Ticket, summaryText string) (*types.ReportArtifact, error)
}

// ArtifactRecorder keeps the artifact of a stored run.
type ArtifactRecorder interface {
	Put(ctx context.Context, id types.RunID, art *types.ReportArtifact) error
}

// Alerter is told about runs that end in FAILED.
type Alerter interface {
	RunFailed(ctx context.Context, rec *types.RunRecord) error
}

// Deps are the collaborators of an Orchestrator. Artifacts, Alerts and
// Metrics are optional.
type Deps struct {
	Sessions   Sessions
	Reader     Fetcher
	Summarizer Summarizer
	Publisher  Publisher
	Runs       types.RunStore
	Artifacts  ArtifactRecorder
	Alerts     Alerter
	Metrics    *telemetry.Metrics
}

// Orchestrator owns the run state machine.
type Orchestrator struct {
	Deps
	query string
	now   func() time.Time
}

func New(deps Deps) *Orchestrator {
	return &Orchestrator{Deps: deps, query: prompt.AnalysisQuery, now: time.Now}
}

// WithQuery replaces the analysis question sent to the model.
func (o *Orchestrator) WithQuery(q string) *Orchestrator {
	o.query = q
	return o
}

// run carries the bookkeeping of one execution.
type run struct {
	id       types.RunID
	ticketID int
	last     time.Time
	renewals int
}

// Run records a new run for n and executes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, n types.Notification) (*types.RunRecord, error) {
	if n.TicketID <= 0 {
		return nil, fmt.Errorf("run: invalid ticket id %d", n.TicketID)
	}
	id := types.NewRunID()
	if err := o.Runs.Append(ctx, &types.Transition{
		RunID:    id,
		TicketID: n.TicketID,
		Source:   n.Source,
		State:    types.StateStarted,
		At:       o.now(),
	}); err != nil {
		return nil, fmt.Errorf("record run start: %w", err)
	}
	return o.execute(ctx, id, n)
}

// ProcessRun executes a run handed over by the gateway queue. The STARTED
// transition has already been recorded.
func (o *Orchestrator) ProcessRun(r *gateway.Run) error {
	ctx := r.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	_, err := o.execute(ctx, r.ID, r.Notification)
	return err
}

func (o *Orchestrator) execute(ctx context.Context, id types.RunID, n types.Notification) (*types.RunRecord, error) {
	ctx, span := tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run_id", string(id)),
		attribute.Int("ticket_id", n.TicketID),
	))
	defer span.End()

	o.Metrics.RunStarted()
	defer o.Metrics.RunDone()

	rs := &run{id: id, ticketID: n.TicketID, last: o.now()}
	log := slog.With("run_id", string(id), "ticket_id", n.TicketID)
	log.Info("run started", "source", n.Source)

	session, err := o.Sessions.EnsureValidSession(ctx)
	if err != nil {
		return o.fail(ctx, span, rs, types.StateSessionReady, err)
	}
	o.advance(ctx, rs, types.StateSessionReady, "")

	ticket, err := o.fetch(ctx, rs, session)
	if err != nil {
		return o.fail(ctx, span, rs, types.StateFetched, err)
	}
	o.advance(ctx, rs, types.StateFetched, "")
	log.Info("ticket fetched", "followups", len(ticket.Followups), "body_runes", len([]rune(ticket.Body)))

	raw, err := o.summarize(ctx, ticket)
	if err != nil {
		return o.fail(ctx, span, rs, types.StateSummarized, err)
	}
	o.advance(ctx, rs, types.StateSummarized, "")

	art, err := o.Publisher.BuildAndStore(ctx, ticket, raw)
	if err != nil {
		o.Metrics.UploadAttempt("failed")
		return o.fail(ctx, span, rs, types.StateStored, err)
	}
	o.Metrics.UploadAttempt("stored")
	if o.Artifacts != nil {
		if err := o.Artifacts.Put(ctx, id, art); err != nil {
			log.Warn("record artifact", "error", err)
		}
	}
	o.Metrics.RunFinished("stored", "", "")
	o.advance(ctx, rs, types.StateStored, art.StorageKey)

	span.SetAttributes(attribute.String("storage_key", art.StorageKey))
	log.Info("run stored", "key", art.StorageKey)
	return o.record(ctx, id), nil
}

// fetch reads the ticket, renewing the session once if GLPI rejects it.
func (o *Orchestrator) fetch(ctx context.Context, rs *run, session types.Session) (*types.Ticket, error) {
	ctx, span := tracer.Start(ctx, "pipeline.fetch")
	defer span.End()

	ticket, err := o.Reader.FetchTicket(ctx, session, rs.ticketID)
	if err == nil || !errors.Is(err, types.ErrAuth) {
		return ticket, err
	}

	slog.Warn("glpi rejected session during fetch, renewing", "run_id", string(rs.id), "ticket_id", rs.ticketID, "error", err)
	fresh, rerr := o.Sessions.Renew(ctx, session)
	if rerr != nil {
		return nil, fmt.Errorf("renew session: %w", rerr)
	}
	rs.renewals++
	o.Metrics.SessionRenewed()
	o.advance(ctx, rs, types.StateSessionReady, "")

	return o.Reader.FetchTicket(ctx, fresh, rs.ticketID)
}

func (o *Orchestrator) summarize(ctx context.Context, ticket *types.Ticket) (string, error) {
	ctx, span := tracer.Start(ctx, "pipeline.summarize")
	defer span.End()
	return o.Summarizer.Summarize(ctx, ticket, o.query)
}

// advance appends a successful transition.
func (o *Orchestrator) advance(ctx context.Context, rs *run, state types.RunState, key string) {
	now := o.now()
	o.Metrics.ObserveStage(string(state), now.Sub(rs.last))
	rs.last = now
	o.append(ctx, &types.Transition{
		RunID:    rs.id,
		TicketID: rs.ticketID,
		State:    state,
		Key:      key,
		Renewals: rs.renewals,
		At:       now,
	})
	slog.Debug("run advanced", "run_id", string(rs.id), "ticket_id", rs.ticketID, "stage", state)
}

// fail records the terminal FAILED transition for stage and alerts.
func (o *Orchestrator) fail(ctx context.Context, span trace.Span, rs *run, stage types.RunState, cause error) (*types.RunRecord, error) {
	reason := types.Reason(cause)
	span.RecordError(cause)
	span.SetStatus(codes.Error, reason)

	o.append(ctx, &types.Transition{
		RunID:    rs.id,
		TicketID: rs.ticketID,
		State:    types.StateFailed,
		Stage:    stage,
		Reason:   reason,
		Error:    cause.Error(),
		Renewals: rs.renewals,
		At:       o.now(),
	})
	o.Metrics.RunFinished("failed", string(stage), reason)
	slog.Error("run failed", "run_id", string(rs.id), "ticket_id", rs.ticketID, "stage", stage, "reason", reason, "error", cause)

	rec := o.record(ctx, rs.id)
	if o.Alerts != nil {
		if err := o.Alerts.RunFailed(ctx, rec); err != nil {
			slog.Warn("failure alert not delivered", "run_id", string(rs.id), "error", err)
		}
	}
	return rec, fmt.Errorf("ticket %d failed at %s: %w", rs.ticketID, stage, cause)
}

func (o *Orchestrator) append(ctx context.Context, t *types.Transition) {
	// The ledger write must survive a cancelled run context.
	if err := o.Runs.Append(context.WithoutCancel(ctx), t); err != nil {
		slog.Error("record transition", "run_id", string(t.RunID), "state", t.State, "error", err)
	}
}

func (o *Orchestrator) record(ctx context.Context, id types.RunID) *types.RunRecord {
	rec, err := o.Runs.Get(context.WithoutCancel(ctx), id)
	if err != nil {
		slog.Error("read run record", "run_id", string(id), "error", err)
		return &types.RunRecord{ID: id}
	}
	return rec
}

// Shutdown closes the shared GLPI session.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.Sessions.Terminate(ctx)
}
