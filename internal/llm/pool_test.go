package llm

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewPool_SlotCount(t *testing.T) {
	p := NewPool(nil, PoolConfig{Keys: []string{"k1", "k2"}, PerKeyConcurrency: 3}, slog.Default())
	if got := len(p.slots); got != 6 {
		t.Errorf("slot channel capacity = %d, want 6", got)
	}
}

func TestNewPool_DefaultsToUnauthenticatedSingleKey(t *testing.T) {
	p := NewPool(nil, PoolConfig{}, slog.Default())
	if len(p.limiters) != 0 {
		t.Errorf("expected no rate limiter when PerKeyRPS is 0, got %d", len(p.limiters))
	}
	key, err := p.acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if key != "" {
		t.Errorf("acquired key = %q, want empty string default", key)
	}
}

func TestPool_Call_RetriesOn500ThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	pool := NewPool(client, PoolConfig{Keys: []string{"k1"}, PerKeyConcurrency: 1}, slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	reply, err := pool.Call(ctx, "system prompt", "hi")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if reply != "recovered" {
		t.Errorf("reply = %q, want %q", reply, "recovered")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestPool_Call_FailsFastOn400(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	pool := NewPool(client, PoolConfig{Keys: []string{"k1"}, PerKeyConcurrency: 1}, slog.Default())

	_, err := pool.Call(context.Background(), "system", "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 400)", attempts)
	}
}

func TestPool_Call_ReleasesSlotAfterUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	pool := NewPool(client, PoolConfig{Keys: []string{"k1"}, PerKeyConcurrency: 1}, slog.Default())

	for i := 0; i < 3; i++ {
		if _, err := pool.Call(context.Background(), "system", "hi"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := len(pool.slots); got != 1 {
		t.Errorf("slots available after calls = %d, want 1 (slot returned each time)", got)
	}
}
