// internal/webhook/server.go
package webhook

import (
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/ticketdigest/internal/gateway"
	"github.com/user/ticketdigest/internal/types"
)

// SecretHeader carries the shared webhook secret.
const SecretHeader = "X-Webhook-Secret"

const maxBodyBytes = 1 << 20

// Dispatcher accepts notifications for out-of-band processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, n types.Notification, opts ...gateway.RunOption) (types.RunID, error)
}

// ArtifactReader looks up what a run uploaded.
type ArtifactReader interface {
	Get(ctx context.Context, id types.RunID) (*types.ReportArtifact, error)
}

// Options configure the optional parts of a Server.
type Options struct {
	Secret    string
	Metrics   http.Handler
	Artifacts ArtifactReader
	// Events lists the GLPI event names that trigger a run. Empty means
	// "add" and "update".
	Events []string
}

// Server is a lightweight HTTP handler for the webhook and the run API.
type Server struct {
	dispatcher Dispatcher
	runs       types.RunStore
	artifacts  ArtifactReader
	secret     string
	events     map[string]bool
	mux        *http.ServeMux
}

// NewServer creates a new Server dispatching to d and reading run state
// from runs.
func NewServer(d Dispatcher, runs types.RunStore, opts Options) *Server {
	events := opts.Events
	if len(events) == 0 {
		events = []string{"add", "update"}
	}
	s := &Server{
		dispatcher: d,
		runs:       runs,
		artifacts:  opts.Artifacts,
		secret:     opts.Secret,
		events:     make(map[string]bool, len(events)),
		mux:        http.NewServeMux(),
	}
	for _, e := range events {
		s.events[strings.ToLower(e)] = true
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /webhook", s.handleWebhook)
	s.mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	s.mux.HandleFunc("GET /api/runs/{id}", s.handleAPIRun)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type webhookResponse struct {
	Message    string   `json:"message"`
	RunIDs     []string `json:"run_ids,omitempty"`
	Duplicates int      `json:"duplicates,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if s.secret != "" {
		got := r.Header.Get(SecretHeader)
		if !hmac.Equal([]byte(got), []byte(s.secret)) {
			writeError(w, http.StatusUnauthorized, "invalid webhook secret")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	notes, err := s.parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(notes) == 0 {
		writeJSON(w, http.StatusOK, webhookResponse{Message: "Webhook received, but no relevant event found."})
		return
	}

	// Runs outlive the request.
	ctx := context.WithoutCancel(r.Context())
	var resp webhookResponse
	var ticketIDs []string
	for _, n := range notes {
		id, err := s.dispatcher.Dispatch(ctx, n)
		switch {
		case errors.Is(err, gateway.ErrDuplicate):
			resp.Duplicates++
		case err != nil:
			slog.Error("dispatch notification", "ticket_id", n.TicketID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "could not accept ticket "+strconv.Itoa(n.TicketID))
			return
		default:
			resp.RunIDs = append(resp.RunIDs, string(id))
			ticketIDs = append(ticketIDs, strconv.Itoa(n.TicketID))
		}
	}

	if len(resp.RunIDs) == 0 {
		resp.Message = "Webhook received, ticket already being processed."
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Message = "Ticket processing initiated for ID: " + strings.Join(ticketIDs, ", ")
	writeJSON(w, http.StatusAccepted, resp)
}

// glpiEvent is one entry of a GLPI webhook payload.
type glpiEvent struct {
	Event    string          `json:"event"`
	ItemType string          `json:"itemtype"`
	ItemsID  json.RawMessage `json:"items_id"`
	TicketID json.RawMessage `json:"ticket_id"`
}

// parse accepts a list of GLPI events, a single event, or a bare
// {"ticket_id": n} request.
func (s *Server) parse(raw json.RawMessage) ([]types.Notification, error) {
	var events []glpiEvent
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		if err := json.Unmarshal(raw, &events); err != nil {
			return nil, fmt.Errorf("invalid event list: %v", err)
		}
	case strings.HasPrefix(trimmed, "{"):
		var ev glpiEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("invalid event: %v", err)
		}
		events = []glpiEvent{ev}
	default:
		return nil, fmt.Errorf("payload must be an object or a list")
	}

	var out []types.Notification
	seen := make(map[int]bool)
	for _, ev := range events {
		n, ok, err := s.notification(ev)
		if err != nil {
			return nil, err
		}
		if !ok || seen[n.TicketID] {
			continue
		}
		seen[n.TicketID] = true
		out = append(out, n)
	}
	return out, nil
}

func (s *Server) notification(ev glpiEvent) (types.Notification, bool, error) {
	if len(ev.TicketID) > 0 {
		id, err := parseID(ev.TicketID)
		if err != nil {
			return types.Notification{}, false, fmt.Errorf("invalid ticket_id: %v", err)
		}
		return types.Notification{Source: "api", TicketID: id, Event: strings.ToLower(ev.Event)}, true, nil
	}
	event := strings.ToLower(ev.Event)
	if !strings.EqualFold(ev.ItemType, "Ticket") || !s.events[event] {
		return types.Notification{}, false, nil
	}
	id, err := parseID(ev.ItemsID)
	if err != nil {
		return types.Notification{}, false, fmt.Errorf("invalid items_id: %v", err)
	}
	return types.Notification{Source: "glpi", TicketID: id, Event: event}, true, nil
}

// parseID reads a positive id sent either as a number or a string.
func parseID(raw json.RawMessage) (int, error) {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if id <= 0 {
		return 0, fmt.Errorf("%d is not a valid id", id)
	}
	return id, nil
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.runs.List(r.Context(), limit)
	if err != nil {
		slog.Error("list runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type runResponse struct {
	*types.RunRecord
	History  []*types.Transition   `json:"history"`
	Artifact *types.ReportArtifact `json:"artifact,omitempty"`
}

func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	id := types.RunID(r.PathValue("id"))
	hist, err := s.runs.History(r.Context(), id)
	if errors.Is(err, types.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		slog.Error("read run failed", "run_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := runResponse{History: hist}
	resp.RunRecord, err = s.runs.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.artifacts != nil && resp.State == types.StateStored {
		if art, err := s.artifacts.Get(r.Context(), id); err == nil {
			resp.Artifact = art
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
