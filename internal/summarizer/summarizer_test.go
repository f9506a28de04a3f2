package summarizer

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/daxia778/tg-monitor/internal/llm"
	"github.com/daxia778/tg-monitor/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// echoLLMServer replies with a distinct, deterministic body per request so
// tests can tell which call produced which chunk summary.
func echoLLMServer(t *testing.T, reply func(body []byte, n int32) (int, string)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		status, content := reply(body, n)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Write([]byte(fmt.Sprintf(`{"choices":[{"message":{"content":%q}}]}`, content)))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestPool(srv *httptest.Server) *llm.Pool {
	client := llm.NewClient(srv.URL)
	return llm.NewPool(client, llm.PoolConfig{Keys: []string{"k1"}, PerKeyConcurrency: 4}, slog.Default())
}

func makeMessages(n int, groupID int64) []store.Message {
	msgs := make([]store.Message, n)
	for i := 0; i < n; i++ {
		msgs[i] = store.Message{
			ID:      int64(i + 1),
			GroupID: groupID,
			Date:    "2026-07-30T00:00:00Z",
		}
	}
	return msgs
}

func TestSummarizeChunked_SplitsIntoExpectedChunkCount(t *testing.T) {
	srv, calls := echoLLMServer(t, func(body []byte, n int32) (int, string) {
		return http.StatusOK, fmt.Sprintf("batch summary %d", n)
	})
	pool := newTestPool(srv)
	s := New(newTestStore(t), pool, "", "test-model", slog.Default())

	messages := makeMessages(650, 1)
	summary, err := s.summarizeChunked(context.Background(), messages, nil, noopProgress)
	if err != nil {
		t.Fatalf("summarizeChunked() error = %v", err)
	}
	if summary == "" {
		t.Fatal("summarizeChunked() returned empty summary")
	}
	// 650 messages at chunkSize=300 is 3 chunks, plus 1 merge call = 4.
	if got := atomic.LoadInt32(calls); got != 4 {
		t.Errorf("llm calls = %d, want 4 (3 chunks + 1 merge)", got)
	}
}

func TestSummarizeChunked_ExcludesFailedChunksFromMerge(t *testing.T) {
	var mergeBody string
	srv, _ := echoLLMServer(t, func(body []byte, n int32) (int, string) {
		// The 2nd chunk (of 3) fails every attempt; the rest and the merge
		// call succeed.
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.Unmarshal(body, &req)
		var system string
		if len(req.Messages) > 0 {
			system = req.Messages[0].Content
		}
		if strings.Contains(system, "batch 2 of 3") {
			return http.StatusInternalServerError, ""
		}
		if strings.Contains(system, "information-merging") {
			mergeBody = string(body)
			return http.StatusOK, "merged"
		}
		return http.StatusOK, "ok chunk"
	})
	pool := newTestPool(srv)
	s := New(newTestStore(t), pool, "", "test-model", slog.Default())

	messages := makeMessages(650, 1)
	summary, err := s.summarizeChunked(context.Background(), messages, nil, noopProgress)
	if err != nil {
		t.Fatalf("summarizeChunked() error = %v", err)
	}
	if summary != "merged" {
		t.Errorf("summary = %q, want %q", summary, "merged")
	}
	if strings.Contains(mergeBody, "❌") {
		t.Errorf("merge prompt contains a failed-chunk sentinel: %s", mergeBody)
	}
}

func TestSummarizeChunked_AllChunksFailReturnsSentinel(t *testing.T) {
	srv, _ := echoLLMServer(t, func(body []byte, n int32) (int, string) {
		return http.StatusInternalServerError, ""
	})
	pool := newTestPool(srv)
	s := New(newTestStore(t), pool, "", "test-model", slog.Default())

	messages := makeMessages(650, 1)
	summary, err := s.summarizeChunked(context.Background(), messages, nil, noopProgress)
	if err != nil {
		t.Fatalf("summarizeChunked() error = %v", err)
	}
	if !isFailedSummary(summary) {
		t.Errorf("summary = %q, want a ❌-prefixed sentinel", summary)
	}
}

func TestSummarize_AllChunksFailSkipsSave(t *testing.T) {
	srv, _ := echoLLMServer(t, func(body []byte, n int32) (int, string) {
		return http.StatusInternalServerError, ""
	})
	pool := newTestPool(srv)
	st := newTestStore(t)
	s := New(st, pool, "", "test-model", slog.Default())

	ctx := context.Background()
	if err := st.UpsertGroup(ctx, 1, "group one", sql.NullString{}, sql.NullInt64{}); err != nil {
		t.Fatal(err)
	}
	for _, m := range makeMessages(650, 1) {
		if err := st.InsertMessage(ctx, store.NewMessage{ID: m.ID, GroupID: m.GroupID, Date: m.Date}); err != nil {
			t.Fatal(err)
		}
	}

	gid := int64(1)
	result, err := s.Summarize(ctx, &gid, "2026-07-29T00:00:00Z", "2026-07-31T00:00:00Z", 0, true, nil)
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if !isFailedSummary(result) {
		t.Errorf("result = %q, want a ❌-prefixed sentinel", result)
	}

	var count int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM summaries WHERE group_id = ?`, gid).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("summaries rows for group = %d, want 0 (no Summary row on total failure)", count)
	}
}

func TestCallLLM_ExhaustedRetriesReturnsFailedSentinel(t *testing.T) {
	srv, _ := echoLLMServer(t, func(body []byte, n int32) (int, string) {
		return http.StatusInternalServerError, ""
	})
	pool := newTestPool(srv)
	s := New(newTestStore(t), pool, "", "test-model", slog.Default())

	reply, err := s.callLLM(context.Background(), "some content", "", false)
	if err == nil {
		t.Error("callLLM() error = nil, want non-nil after retry exhaustion")
	}
	if !isFailedSummary(reply) {
		t.Errorf("callLLM() reply = %q, want ❌-prefixed sentinel", reply)
	}
}

func TestIsFailedSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"empty", "", false},
		{"normal summary", "today's highlights: ...", false},
		{"failed sentinel", "❌ llm call failed after retries: boom", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isFailedSummary(tt.in); got != tt.want {
				t.Errorf("isFailedSummary(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
