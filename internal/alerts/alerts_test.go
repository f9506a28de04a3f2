package alerts

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/daxia778/tg-monitor/internal/notify"
	"github.com/daxia778/tg-monitor/internal/store"
)

func newTestEngine(t *testing.T, keywords []string) *Engine {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	sender := notify.NewSender("", nil) // empty token: Send no-ops, no network calls in tests
	e := New(Config{OwnerChatID: "owner-chat", Keywords: keywords}, sender, st, nil)
	e.SetEnabled(true)
	return e
}

func TestCheck_NoMatchReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, []string{"urgent"})
	ctx := context.Background()

	got := e.Check(ctx, 1, 1, "Group", "Ada", "just chatting", "2026-01-01T00:00:00Z")
	if got != "" {
		t.Errorf("Check() = %q, want empty", got)
	}
}

func TestCheck_MatchReturnsKeyword(t *testing.T) {
	e := newTestEngine(t, []string{"urgent"})
	ctx := context.Background()

	got := e.Check(ctx, 1, 1, "Group", "Ada", "this is URGENT, please help", "2026-01-01T00:00:00Z")
	if got != `"urgent"` {
		t.Errorf("Check() = %q, want %q", got, `"urgent"`)
	}
}

func TestCheck_DedupSameMessageOnlyFiresOnce(t *testing.T) {
	e := newTestEngine(t, []string{"urgent"})
	ctx := context.Background()

	first := e.Check(ctx, 1, 1, "Group", "Ada", "urgent issue", "2026-01-01T00:00:00Z")
	if first == "" {
		t.Fatal("expected first check to match")
	}
	second := e.Check(ctx, 1, 1, "Group", "Ada", "urgent issue", "2026-01-01T00:00:00Z")
	if second != "" {
		t.Errorf("Check() on repeat message = %q, want empty (deduped)", second)
	}
}

func TestCheck_DisabledNeverFires(t *testing.T) {
	e := newTestEngine(t, []string{"urgent"})
	e.SetEnabled(false)
	ctx := context.Background()

	got := e.Check(ctx, 1, 1, "Group", "Ada", "urgent issue", "2026-01-01T00:00:00Z")
	if got != "" {
		t.Errorf("Check() while disabled = %q, want empty", got)
	}
}

func TestCheck_MultipleKeywordsAllReported(t *testing.T) {
	e := newTestEngine(t, []string{"urgent", "outage"})
	ctx := context.Background()

	got := e.Check(ctx, 1, 1, "Group", "Ada", "urgent outage happening now", "2026-01-01T00:00:00Z")
	want := `"urgent", "outage"`
	if got != want {
		t.Errorf("Check() = %q, want %q", got, want)
	}
}

func TestLoadFromStore_RehydratesDedupCache(t *testing.T) {
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	st.AddAlertedMessage(context.Background(), "1_1")

	sender := notify.NewSender("", nil)
	e := New(Config{Keywords: []string{"urgent"}}, sender, st, nil)
	e.SetEnabled(true)
	e.LoadFromStore(context.Background())

	got := e.Check(context.Background(), 1, 1, "Group", "Ada", "urgent issue", "2026-01-01T00:00:00Z")
	if got != "" {
		t.Errorf("Check() for previously-alerted message = %q, want empty", got)
	}
}

func TestToBJT(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "?"},
		{"valid RFC3339 UTC", "2026-01-01T00:00:00Z", "01-01 08:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toBJT(tt.in); got != tt.want {
				t.Errorf("toBJT(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
