package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/user/ticketdigest/internal/retry"
	"github.com/user/ticketdigest/internal/types"
)

type fakeS3 struct {
	mu       sync.Mutex
	status   int
	requests int
	method   string
	path     string
	ctype    string
	body     []byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	f.method = r.Method
	f.path = r.URL.Path
	f.ctype = r.Header.Get("Content-Type")
	f.body, _ = io.ReadAll(r.Body)
	if f.status != 0 && f.status != http.StatusOK {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(f.status)
		code := "InternalError"
		if f.status == http.StatusForbidden {
			code = "AccessDenied"
		}
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>`+code+`</Code><Message>rejected</Message></Error>`)
		return
	}
	w.Header().Set("ETag", `"abc"`)
	w.WriteHeader(http.StatusOK)
}

func newTestS3(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	t.Setenv("AWS_CONFIG_FILE", "/nonexistent")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", "/nonexistent")

	s, err := NewS3(context.Background(), "reports-bucket", "", S3Config{
		Endpoint:        srv.URL,
		Region:          "us-east-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("NewS3: %v", err)
	}
	return s
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	s := newTestS3(t, fake)

	payload := []byte("%PDF-1.3 report")
	err := s.Put(context.Background(), "reports/42/20250101T000000Z.pdf", bytes.NewReader(payload), "application/pdf")
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.method != http.MethodPut {
		t.Errorf("method = %s, want PUT", fake.method)
	}
	if fake.path != "/reports-bucket/reports/42/20250101T000000Z.pdf" {
		t.Errorf("path = %s", fake.path)
	}
	if fake.ctype != "application/pdf" {
		t.Errorf("content type = %s", fake.ctype)
	}
	if !bytes.Equal(fake.body, payload) {
		t.Errorf("body = %q", fake.body)
	}
}

func TestS3StoreForbiddenIsNotRetried(t *testing.T) {
	fake := &fakeS3{status: http.StatusForbidden}
	s := newTestS3(t, fake)

	r := WithRetry(s, &retry.Policy{MaxAttempts: 3, Multiplier: 1})
	err := r.Put(context.Background(), "reports/1/a.pdf", bytes.NewReader([]byte("x")), "application/pdf")
	if !errors.Is(err, types.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.requests != 1 {
		t.Errorf("requests = %d, want 1", fake.requests)
	}
}

func TestS3StoreServerErrorIsRetried(t *testing.T) {
	fake := &fakeS3{status: http.StatusInternalServerError}
	s := newTestS3(t, fake)

	r := WithRetry(s, &retry.Policy{MaxAttempts: 2, Multiplier: 1})
	err := r.Put(context.Background(), "reports/1/a.pdf", bytes.NewReader([]byte("x")), "application/pdf")
	if err == nil {
		t.Fatal("expected error")
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.requests != 2 {
		t.Errorf("requests = %d, want 2", fake.requests)
	}
}
