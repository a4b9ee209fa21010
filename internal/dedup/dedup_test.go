package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryClaim(t *testing.T) {
	m := NewMemory()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := m.Claim(ctx, "ticket:42", time.Minute)
	if !ok {
		t.Fatal("first claim should succeed")
	}
	ok, _ = m.Claim(ctx, "ticket:42", time.Minute)
	if ok {
		t.Fatal("second claim inside window should fail")
	}
	ok, _ = m.Claim(ctx, "ticket:43", time.Minute)
	if !ok {
		t.Fatal("other key should be claimable")
	}

	now = now.Add(time.Minute)
	ok, _ = m.Claim(ctx, "ticket:42", time.Minute)
	if !ok {
		t.Fatal("claim after window should succeed")
	}
}

func TestMemoryZeroWindow(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 3; i++ {
		if ok, _ := m.Claim(context.Background(), "k", 0); !ok {
			t.Fatal("zero window should never suppress")
		}
	}
}

func TestMemoryRelease(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	if ok, _ := m.Claim(ctx, "ticket:9:add", time.Minute); !ok {
		t.Fatal("first claim should succeed")
	}
	if err := m.Release(ctx, "ticket:9:add"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := m.Claim(ctx, "ticket:9:add", time.Minute); !ok {
		t.Error("claim after release should succeed")
	}
	if err := m.Release(ctx, "never-claimed"); err != nil {
		t.Errorf("release of unknown key: %v", err)
	}
}

func TestMemoryPrunesExpired(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.now = func() time.Time { return now }
	m.Claim(context.Background(), "a", time.Second)
	now = now.Add(2 * time.Second)
	m.Claim(context.Background(), "b", time.Second)
	if _, ok := m.expires["a"]; ok {
		t.Error("expired key a was not pruned")
	}
}

func TestRedisClaim(t *testing.T) {
	addr := os.Getenv("TICKETDIGEST_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TICKETDIGEST_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisConfig{Addr: addr})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	key := "test:" + uuid.NewString()
	ok, err := r.Claim(ctx, key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = r.Claim(ctx, key, 5*time.Second)
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}

	if err := r.Release(ctx, key); err != nil {
		t.Fatal(err)
	}
	ok, err = r.Claim(ctx, key, 5*time.Second)
	if err != nil || !ok {
		t.Fatalf("claim after release = %v, %v", ok, err)
	}
}
