package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RunFinished("stored", "", "")
	m.RunFinished("failed", "FETCHED", "NotFound")
	m.ObserveStage("FETCHED", 150*time.Millisecond)
	m.SessionRenewed()
	m.UploadAttempt("ok")
	m.Notification("accepted")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`ticketdigest_runs_total{outcome="failed",reason="NotFound",stage="FETCHED"} 1`,
		`ticketdigest_session_renewals_total 1`,
		`ticketdigest_upload_attempts_total{result="ok"} 1`,
		`ticketdigest_notifications_total{disposition="accepted"} 1`,
		`ticketdigest_stage_duration_seconds_count{stage="FETCHED"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished("stored", "", "")
	m.ObserveStage("x", time.Second)
	m.SessionRenewed()
	m.UploadAttempt("ok")
	m.Notification("accepted")
	m.RunStarted()
	m.RunDone()
}

func TestSetupTracingNone(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Mode: "none"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestSetupTracingUnknownMode(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TracingConfig{Mode: "zipkin"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetupTracingStdout(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TracingConfig{Mode: "stdout"})
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
}
