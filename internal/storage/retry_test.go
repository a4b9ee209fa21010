package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/user/ticketdigest/internal/retry"
	"github.com/user/ticketdigest/internal/types"
)

type flakyStore struct {
	fails  int
	calls  int
	bodies []string
	err    error
}

func (f *flakyStore) Put(_ context.Context, _ string, body io.ReadSeeker, _ string) error {
	f.calls++
	data, _ := io.ReadAll(body)
	f.bodies = append(f.bodies, string(data))
	if f.calls <= f.fails {
		if f.err != nil {
			return f.err
		}
		return errors.New("connection reset by peer")
	}
	return nil
}

type badSeeker struct{ io.Reader }

func (badSeeker) Seek(int64, int) (int64, error) { return 0, errors.New("not seekable") }

func fastPolicy(n int) *retry.Policy {
	return &retry.Policy{MaxAttempts: n, Multiplier: 1}
}

func TestRetryingRewindsBody(t *testing.T) {
	next := &flakyStore{fails: 2}
	r := WithRetry(next, fastPolicy(3))

	if err := r.Put(context.Background(), "k", bytes.NewReader([]byte("payload")), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if next.calls != 3 {
		t.Fatalf("calls = %d, want 3", next.calls)
	}
	for i, b := range next.bodies {
		if b != "payload" {
			t.Errorf("attempt %d body = %q", i+1, b)
		}
	}
}

func TestRetryingExhaustedIsStorageError(t *testing.T) {
	next := &flakyStore{fails: 10}
	r := WithRetry(next, fastPolicy(2))

	var hooks int
	r.OnRetry(func(string, int, error) { hooks++ })

	err := r.Put(context.Background(), "k", bytes.NewReader([]byte("x")), "application/pdf")
	if !errors.Is(err, types.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if types.Reason(err) != types.ReasonStorageError {
		t.Errorf("reason = %s", types.Reason(err))
	}
	if next.calls != 2 || hooks != 2 {
		t.Errorf("calls = %d hooks = %d, want 2 and 2", next.calls, hooks)
	}
}

func TestRetryingAuthFailureStaysStorageReason(t *testing.T) {
	next := &flakyStore{fails: 10, err: errors.New("403 access denied")}
	r := WithRetry(next, fastPolicy(3))

	err := r.Put(context.Background(), "k", bytes.NewReader([]byte("x")), "application/pdf")
	if types.Reason(err) != types.ReasonStorageError {
		t.Errorf("reason = %s, want StorageError", types.Reason(err))
	}
	if next.calls != 1 {
		t.Errorf("calls = %d, want 1", next.calls)
	}
}

func TestRetryingSeekFailure(t *testing.T) {
	next := &flakyStore{}
	r := WithRetry(next, fastPolicy(3))

	err := r.Put(context.Background(), "k", badSeeker{bytes.NewReader(nil)}, "application/pdf")
	if !errors.Is(err, types.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	if next.calls != 0 {
		t.Errorf("calls = %d, want 0", next.calls)
	}
}

func TestRetryingCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	next := &flakyStore{fails: 10}
	r := WithRetry(next, &retry.Policy{MaxAttempts: 5, InitialDelay: 1e9, Multiplier: 1})

	err := r.Put(ctx, "k", bytes.NewReader([]byte("x")), "application/pdf")
	if !errors.Is(err, types.ErrStorage) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}
