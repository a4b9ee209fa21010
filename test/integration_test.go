//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/ticketdigest/internal/dedup"
	"github.com/user/ticketdigest/internal/delivery"
	"github.com/user/ticketdigest/internal/gateway"
	"github.com/user/ticketdigest/internal/glpi"
	"github.com/user/ticketdigest/internal/pipeline"
	"github.com/user/ticketdigest/internal/prompt"
	"github.com/user/ticketdigest/internal/report"
	"github.com/user/ticketdigest/internal/retry"
	"github.com/user/ticketdigest/internal/state"
	"github.com/user/ticketdigest/internal/storage"
	"github.com/user/ticketdigest/internal/summarize"
	"github.com/user/ticketdigest/internal/telemetry"
	"github.com/user/ticketdigest/internal/types"
	"github.com/user/ticketdigest/internal/webhook"
	"github.com/user/ticketdigest/pkg/llm"
)

const reply = `## Problem Description
- VPN client disconnects every ten minutes.

## Troubleshooting Steps
- Reinstalled the VPN client.

## Solution
- Raised the idle timeout on the gateway.`

type fakeModel struct {
	completions atomic.Int32
}

func (m *fakeModel) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, float32(len(texts[i]) % 7)}
	}
	return out, nil
}

func (m *fakeModel) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (*llm.Response, error) {
	m.completions.Add(1)
	return &llm.Response{Content: reply}, nil
}

// glpiStub serves ticket 15 and reports every other ticket as missing.
func glpiStub(t *testing.T) *httptest.Server {
	var logins atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/apirest.php/")
		w.Header().Set("Content-Type", "application/json")
		switch path {
		case "initSession":
			n := logins.Add(1)
			json.NewEncoder(w).Encode(map[string]string{"session_token": fmt.Sprintf("tok-%d", n)})
		case "getFullSession", "killSession":
			json.NewEncoder(w).Encode(map[string]any{"session": map[string]any{}})
		case "Ticket/15":
			json.NewEncoder(w).Encode(glpi.TicketRecord{
				ID:      15,
				Name:    "VPN drops",
				Content: "&lt;p&gt;VPN disconnects every ten minutes.&lt;/p&gt;",
				Status:  2,
				Date:    "2025-04-02 08:30:00",
			})
		case "Ticket/15/ITILFollowup":
			w.Header().Set("Content-Range", "0-0/1")
			json.NewEncoder(w).Encode([]glpi.FollowupRecord{{
				ID:      3,
				UsersID: json.RawMessage(`"helpdesk"`),
				Content: "Client reinstalled, still dropping.",
				Date:    "2025-04-02 09:00:00",
			}})
		default:
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode([]string{"ERROR_ITEM_NOT_FOUND", "item not found"})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	http    *httptest.Server
	dataDir string
	objects string
	model   *fakeModel
	alerts  *atomic.Int32
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	glpiSrv := glpiStub(t)
	h := &harness{
		dataDir: t.TempDir(),
		objects: t.TempDir(),
		model:   &fakeModel{},
		alerts:  &atomic.Int32{},
	}

	ledger := state.NewLedger(h.dataDir)
	artifacts := state.NewArtifactIndex(h.dataDir)
	metrics := telemetry.NewMetrics()

	client := glpi.NewClient(glpiSrv.URL+"/apirest.php", glpi.Credentials{AppToken: "app", UserToken: "user"}, 5*time.Second)
	fs, err := storage.NewFS(h.objects, "")
	if err != nil {
		t.Fatal(err)
	}
	policy := retry.DefaultPolicy()
	policy.InitialDelay = time.Millisecond

	registry := delivery.NewRegistry()
	registry.Register("test:", func(target, message string) error {
		h.alerts.Add(1)
		return nil
	})

	orch := pipeline.New(pipeline.Deps{
		Sessions: glpi.NewSessionManager(client),
		Reader:   glpi.NewReader(client, time.UTC),
		Summarizer: summarize.New(h.model, h.model,
			prompt.NewWithCounter(3000, func(s string) int { return len(strings.Fields(s)) }),
			summarize.Options{}),
		Publisher: report.NewBuilder(storage.WithRetry(fs, policy), report.NewRenderer("test-model"), t.TempDir()),
		Runs:      ledger,
		Artifacts: artifacts,
		Alerts:    delivery.NewAlerter(registry, []string{"test:ops"}),
		Metrics:   metrics,
	})

	gw := gateway.New(ledger, gateway.Options{
		MaxConcurrent: 2,
		Guard:         dedup.NewMemory(),
		DedupWindow:   time.Minute,
		Metrics:       metrics,
	})
	gw.Queue.SetProcessor(orch.ProcessRun)
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)

	h.http = httptest.NewServer(webhook.NewServer(gw, ledger, webhook.Options{
		Secret:    "s3cret",
		Metrics:   metrics.Handler(),
		Artifacts: artifacts,
	}))
	t.Cleanup(h.http.Close)
	return h
}

func (h *harness) post(t *testing.T, body string) (int, map[string]any) {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, h.http.URL+"/webhook", strings.NewReader(body))
	req.Header.Set(webhook.SecretHeader, "s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

// waitRun polls the run API until the run reaches a terminal state.
func (h *harness) waitRun(t *testing.T, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(h.http.URL + "/api/runs/" + id)
		if err != nil {
			t.Fatal(err)
		}
		var out map[string]any
		json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if st, _ := out["state"].(string); st == string(types.StateStored) || st == string(types.StateFailed) {
			return out
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return nil
}

func firstRunID(t *testing.T, body map[string]any) string {
	t.Helper()
	ids, ok := body["run_ids"].([]any)
	if !ok || len(ids) != 1 {
		t.Fatalf("expected one run id, got %v", body)
	}
	return ids[0].(string)
}

func TestWebhookToStoredReport(t *testing.T) {
	h := newHarness(t)

	status, body := h.post(t, `[{"event":"add","itemtype":"Ticket","items_id":"15"}]`)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if msg, _ := body["message"].(string); msg != "Ticket processing initiated for ID: 15" {
		t.Errorf("message = %q", msg)
	}

	run := h.waitRun(t, firstRunID(t, body))
	if run["state"] != string(types.StateStored) {
		t.Fatalf("run = %v", run)
	}
	key, _ := run["storage_key"].(string)
	data, err := os.ReadFile(filepath.Join(h.objects, filepath.FromSlash(key)))
	if err != nil {
		t.Fatalf("report not stored at %q: %v", key, err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Error("stored report is not a PDF")
	}
	if art, ok := run["artifact"].(map[string]any); !ok || art["upload_status"] != "stored" {
		t.Errorf("artifact = %v", run["artifact"])
	}

	var states []string
	for _, tr := range run["history"].([]any) {
		states = append(states, tr.(map[string]any)["state"].(string))
	}
	want := "STARTED SESSION_READY FETCHED SUMMARIZED STORED"
	if got := strings.Join(states, " "); got != want {
		t.Errorf("states = %s, want %s", got, want)
	}

	// A repeat within the dedup window is acknowledged without a new run.
	status, body = h.post(t, `{"event":"add","itemtype":"Ticket","items_id":15}`)
	if status != http.StatusOK || body["duplicates"] != float64(1) {
		t.Errorf("duplicate: status = %d body = %v", status, body)
	}
	if n := h.model.completions.Load(); n != 1 {
		t.Errorf("completions = %d, want 1", n)
	}

	resp, err := http.Get(h.http.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	exposition, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(exposition), `ticketdigest_runs_total{outcome="stored"`) {
		t.Errorf("metrics missing stored run counter")
	}
}

func TestWebhookMissingTicketAlerts(t *testing.T) {
	h := newHarness(t)

	status, body := h.post(t, `{"ticket_id": 404}`)
	if status != http.StatusAccepted {
		t.Fatalf("status = %d body = %v", status, body)
	}
	run := h.waitRun(t, firstRunID(t, body))
	if run["state"] != string(types.StateFailed) || run["failed_stage"] != string(types.StateFetched) || run["reason"] != types.ReasonNotFound {
		t.Fatalf("run = %v", run)
	}
	// The alert goes out after the FAILED transition is recorded.
	deadline := time.Now().Add(2 * time.Second)
	for h.alerts.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.alerts.Load() != 1 {
		t.Errorf("alerts = %d, want 1", h.alerts.Load())
	}
	if h.model.completions.Load() != 0 {
		t.Error("model called for a missing ticket")
	}
	entries, _ := os.ReadDir(h.objects)
	if len(entries) != 0 {
		t.Errorf("objects stored for a failed run: %v", entries)
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	h := newHarness(t)
	req, _ := http.NewRequest(http.MethodPost, h.http.URL+"/webhook", strings.NewReader(`{"ticket_id":15}`))
	req.Header.Set(webhook.SecretHeader, "wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
