package glpi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/user/ticketdigest/internal/types"
)

// fakeGLPI is an in-memory GLPI REST endpoint.
type fakeGLPI struct {
	mu        sync.Mutex
	appToken  string
	userToken string
	sessions  map[string]bool
	issued    int
	killed    []string
	tickets   map[int]TicketRecord
	followups map[int][]FollowupRecord
	failAll   int
}

func newFakeGLPI() *fakeGLPI {
	return &fakeGLPI{
		appToken:  "app-token",
		userToken: "user-token",
		sessions:  make(map[string]bool),
		tickets:   make(map[int]TicketRecord),
		followups: make(map[int][]FollowupRecord),
	}
}

func (f *fakeGLPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAll != 0 {
		w.WriteHeader(f.failAll)
		return
	}
	if r.Header.Get("App-Token") != f.appToken {
		writeGLPIError(w, http.StatusBadRequest, "ERROR_WRONG_APP_TOKEN_PARAMETER")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/apirest.php/")
	if path == "initSession" {
		if r.Header.Get("Authorization") != "user_token "+f.userToken {
			writeGLPIError(w, http.StatusUnauthorized, "ERROR_GLPI_LOGIN_USER_TOKEN")
			return
		}
		f.issued++
		token := fmt.Sprintf("session-%d", f.issued)
		f.sessions[token] = true
		json.NewEncoder(w).Encode(map[string]string{"session_token": token})
		return
	}

	token := r.Header.Get("Session-Token")
	if !f.sessions[token] {
		writeGLPIError(w, http.StatusUnauthorized, "ERROR_SESSION_TOKEN_INVALID")
		return
	}

	switch {
	case path == "getFullSession":
		json.NewEncoder(w).Encode(map[string]any{"session": map[string]any{"glpiID": 2}})
	case path == "killSession":
		delete(f.sessions, token)
		f.killed = append(f.killed, token)
		json.NewEncoder(w).Encode(true)
	case strings.HasPrefix(path, "Ticket/"):
		parts := strings.Split(path, "/")
		id, _ := strconv.Atoi(parts[1])
		rec, ok := f.tickets[id]
		if !ok {
			writeGLPIError(w, http.StatusNotFound, "ERROR_ITEM_NOT_FOUND")
			return
		}
		if len(parts) == 2 {
			json.NewEncoder(w).Encode(rec)
			return
		}
		all := f.followups[id]
		var start, end int
		fmt.Sscanf(r.URL.Query().Get("range"), "%d-%d", &start, &end)
		if start > len(all) {
			start = len(all)
		}
		if end >= len(all) {
			end = len(all) - 1
		}
		page := []FollowupRecord{}
		if end >= start {
			page = all[start : end+1]
		}
		w.Header().Set("Content-Range", fmt.Sprintf("%d-%d/%d", start, end, len(all)))
		if len(page) < len(all) {
			w.WriteHeader(http.StatusPartialContent)
		}
		json.NewEncoder(w).Encode(page)
	default:
		writeGLPIError(w, http.StatusBadRequest, "ERROR_RESOURCE_NOT_FOUND_NOR_COMMONDBTM")
	}
}

func (f *fakeGLPI) expire(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, token)
}

func writeGLPIError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode([]string{code, "error from fake"})
}

func newTestClient(t *testing.T, f *fakeGLPI) *Client {
	t.Helper()
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/apirest.php/", Credentials{AppToken: "app-token", UserToken: "user-token"}, 5*time.Second)
}

func TestInitSessionUsesUserToken(t *testing.T) {
	f := newFakeGLPI()
	client := newTestClient(t, f)

	token, err := client.InitSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if token != "session-1" {
		t.Errorf("expected session-1, got %s", token)
	}
	if err := client.Probe(context.Background(), token); err != nil {
		t.Errorf("probe of fresh session failed: %v", err)
	}
}

func TestInitSessionBadCredentials(t *testing.T) {
	f := newFakeGLPI()
	f.userToken = "other"
	client := newTestClient(t, f)

	_, err := client.InitSession(context.Background())
	if !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestInitSessionWithoutCredentials(t *testing.T) {
	client := NewClient("http://127.0.0.1:1", Credentials{AppToken: "a"}, time.Second)
	if _, err := client.InitSession(context.Background()); !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestProbeExpiredSession(t *testing.T) {
	f := newFakeGLPI()
	client := newTestClient(t, f)

	err := client.Probe(context.Background(), "never-issued")
	if !errors.Is(err, types.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestGetTicketNotFound(t *testing.T) {
	f := newFakeGLPI()
	client := newTestClient(t, f)
	token, _ := client.InitSession(context.Background())

	_, err := client.GetTicket(context.Background(), token, 7)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServerErrorIsUpstream(t *testing.T) {
	f := newFakeGLPI()
	f.failAll = http.StatusBadGateway
	client := newTestClient(t, f)

	_, err := client.GetTicket(context.Background(), "x", 1)
	if !errors.Is(err, types.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestTransportErrorIsUpstream(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClient(url, Credentials{AppToken: "a", UserToken: "u"}, time.Second)
	_, err := client.InitSession(context.Background())
	if !errors.Is(err, types.ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestListFollowupsPaginates(t *testing.T) {
	f := newFakeGLPI()
	f.tickets[42] = TicketRecord{ID: 42, Name: "Printer"}
	for i := 0; i < 120; i++ {
		f.followups[42] = append(f.followups[42], FollowupRecord{ID: i + 1, Content: fmt.Sprintf("note %d", i)})
	}
	client := newTestClient(t, f)
	token, _ := client.InitSession(context.Background())

	got, err := client.ListFollowups(context.Background(), token, 42)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 120 {
		t.Fatalf("expected 120 followups, got %d", len(got))
	}
	if got[119].ID != 120 {
		t.Errorf("expected last followup id 120, got %d", got[119].ID)
	}
}

func TestListFollowupsEmpty(t *testing.T) {
	f := newFakeGLPI()
	f.tickets[5] = TicketRecord{ID: 5}
	client := newTestClient(t, f)
	token, _ := client.InitSession(context.Background())

	got, err := client.ListFollowups(context.Background(), token, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no followups, got %d", len(got))
	}
}

func TestParseContentRange(t *testing.T) {
	if n, ok := parseContentRange("0-49/120"); !ok || n != 120 {
		t.Errorf("expected 120, got %d %v", n, ok)
	}
	if _, ok := parseContentRange(""); ok {
		t.Error("expected missing header to fail")
	}
	if _, ok := parseContentRange("0-1/x"); ok {
		t.Error("expected bad total to fail")
	}
}

func TestAuthorName(t *testing.T) {
	if got := authorName(json.RawMessage(`"Jane Doe"`)); got != "Jane Doe" {
		t.Errorf("expected expanded name, got %q", got)
	}
	if got := authorName(json.RawMessage(`12`)); got != "user #12" {
		t.Errorf("expected numeric fallback, got %q", got)
	}
	if got := authorName(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
