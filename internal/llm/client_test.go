package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Complete_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello back"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	reply, err := c.Complete(context.Background(), "sk-test", ChatRequest{Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if reply != "hello back" {
		t.Errorf("reply = %q, want %q", reply, "hello back")
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer sk-test")
	}
}

func TestClient_Complete_NoAuthHeaderForEmptyKey(t *testing.T) {
	var gotAuth string
	sawHeader := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		sawHeader = r.Header.Get("Authorization") != ""
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Complete(context.Background(), "", ChatRequest{}); err != nil {
		t.Fatal(err)
	}
	if sawHeader {
		t.Errorf("unexpected Authorization header for empty key: %q", gotAuth)
	}
}

func TestClient_Complete_NonOKReturnsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.Complete(context.Background(), "key", ChatRequest{})
	if err == nil {
		t.Fatal("expected error")
	}
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("error type = %T, want *HTTPError", err)
	}
	if httpErr.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want 429", httpErr.Status)
	}
	if httpErr.RetryAfter.Seconds() != 5 {
		t.Errorf("RetryAfter = %v, want 5s", httpErr.RetryAfter)
	}
}

func TestClient_Complete_EmptyChoicesErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Complete(context.Background(), "key", ChatRequest{}); err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"seconds", "10", 10},
		{"empty", "", 0},
		{"non numeric", "Wed, 21 Oct", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.in); got.Seconds() != float64(tt.want) {
				t.Errorf("ParseRetryAfter(%q) = %v, want %ds", tt.in, got, tt.want)
			}
		})
	}
}
