package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertGroup_InsertThenUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertGroup(ctx, 1, "Original Title", sql.NullString{}, sql.NullInt64{}); err != nil {
		t.Fatalf("UpsertGroup() error = %v", err)
	}
	if err := s.UpsertGroup(ctx, 1, "Renamed Title", sql.NullString{String: "handle", Valid: true}, sql.NullInt64{Int64: 50, Valid: true}); err != nil {
		t.Fatalf("UpsertGroup() update error = %v", err)
	}

	groups, err := s.GetGroups(ctx)
	if err != nil {
		t.Fatalf("GetGroups() error = %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(groups))
	}
	if groups[0].Title != "Renamed Title" || groups[0].Username.String != "handle" {
		t.Errorf("group not updated: %+v", groups[0])
	}
}

func TestInsertMessage_AndGetMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertGroup(ctx, 10, "Chat", sql.NullString{}, sql.NullInt64{}); err != nil {
		t.Fatal(err)
	}

	msg := NewMessage{
		ID:         1,
		GroupID:    10,
		SenderName: "Ada",
		Text:       "hello world",
		Date:       "2026-01-01T00:00:00Z",
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatalf("InsertMessage() error = %v", err)
	}

	got, err := s.GetMessages(ctx, MessageFilter{GroupID: ptr(int64(10))})
	if err != nil {
		t.Fatalf("GetMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if got[0].Text.String != "hello world" || got[0].SenderName.String != "Ada" {
		t.Errorf("unexpected message: %+v", got[0])
	}
}

func TestInsertMessagesBatch_Idempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgs := []NewMessage{
		{ID: 1, GroupID: 1, Text: "a", Date: "2026-01-01T00:00:00Z"},
		{ID: 2, GroupID: 1, Text: "b", Date: "2026-01-01T00:01:00Z"},
	}
	if err := s.InsertMessagesBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertMessagesBatch() error = %v", err)
	}
	// Replaying the same batch (gap-recovery overlap) must not error or
	// duplicate rows.
	if err := s.InsertMessagesBatch(ctx, msgs); err != nil {
		t.Fatalf("InsertMessagesBatch() replay error = %v", err)
	}

	count, err := s.GetMessageCount(ctx, MessageFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("GetMessageCount() = %d, want 2", count)
	}
}

func TestUpdateMessageText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := NewMessage{ID: 1, GroupID: 1, Text: "before", Date: "2026-01-01T00:00:00Z"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	found, err := s.UpdateMessageText(ctx, 1, 1, "after", "")
	if err != nil {
		t.Fatalf("UpdateMessageText() error = %v", err)
	}
	if !found {
		t.Fatal("UpdateMessageText() found = false, want true")
	}

	got, err := s.GetMessages(ctx, MessageFilter{GroupID: ptr(int64(1))})
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Text.String != "after" {
		t.Errorf("Text = %q, want %q", got[0].Text.String, "after")
	}

	found, err = s.UpdateMessageText(ctx, 999, 1, "nope", "")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("UpdateMessageText() found = true for nonexistent message, want false")
	}
}

func TestSettings_BoolRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetSettingBool(ctx, "alerts_enabled", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != true {
		t.Errorf("GetSettingBool() with no row = %v, want default true", got)
	}

	if err := s.SetSettingBool(ctx, "alerts_enabled", false); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSettingBool(ctx, "alerts_enabled", true)
	if err != nil {
		t.Fatal(err)
	}
	if got != false {
		t.Errorf("GetSettingBool() after set = %v, want false", got)
	}
}

func TestTenants_AddAndFilterActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.AddTenant(ctx, 0, "bot-token-1", "", "tenant-1")
	if err != nil {
		t.Fatalf("AddTenant() error = %v", err)
	}

	active, err := s.GetTenants(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].ID != id {
		t.Fatalf("got %+v, want one active tenant with id %d", active, id)
	}

	if err := s.SetTenantActive(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	active, err = s.GetTenants(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("got %d active tenants after deactivation, want 0", len(active))
	}
}

func TestAlertedMessages_DedupAndCleanup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.AddAlertedMessage(ctx, "1_100")
	s.AddAlertedMessage(ctx, "1_101")

	ids := s.RecentAlertedIDs(ctx, 24)
	if len(ids) != 2 {
		t.Fatalf("RecentAlertedIDs() = %v, want 2 entries", ids)
	}
	if _, ok := ids["1_100"]; !ok {
		t.Error("expected 1_100 in recent alerted ids")
	}
}

func TestSearchMessages_FindsIndexedText(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := NewMessage{
		ID:      100,
		GroupID: -100500,
		Text:    "check https://example.com/x promo",
		Date:    "2026-01-01T00:00:00Z",
	}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchMessages(ctx, "promo", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != 100 {
		t.Fatalf("SearchMessages(%q) = %+v, want single row with id=100", "promo", got)
	}

	links, err := s.GetLinksAggregated(ctx, 10, []string{"t.me"})
	if err != nil {
		t.Fatalf("GetLinksAggregated() error = %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("GetLinksAggregated() = %+v, want 1 entry", links)
	}
	if links[0].URL != "https://example.com/x" || links[0].TotalCount != 1 || links[0].GroupCount != 1 {
		t.Errorf("aggregated link = %+v, want {url: https://example.com/x, total_count: 1, group_count: 1}", links[0])
	}
}

func TestSearchMessages_EditThenDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msg := NewMessage{ID: 200, GroupID: 1, Text: "hello", Date: "2026-01-01T00:00:00Z"}
	if err := s.InsertMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	if _, err := s.UpdateMessageText(ctx, 200, 1, "hello world", ""); err != nil {
		t.Fatalf("UpdateMessageText() error = %v", err)
	}

	world, err := s.SearchMessages(ctx, "world", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(world) != 1 {
		t.Fatalf("SearchMessages(%q) = %d rows, want 1", "world", len(world))
	}
	hello, err := s.SearchMessages(ctx, "hello", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hello) != 1 {
		t.Fatalf("SearchMessages(%q) = %d rows, want 1 (updated entry, not a duplicate)", "hello", len(hello))
	}

	n, err := s.DeleteMessages(ctx, []int64{200}, 1)
	if err != nil {
		t.Fatalf("DeleteMessages() error = %v", err)
	}
	if n != 1 {
		t.Errorf("DeleteMessages() removed = %d, want 1", n)
	}

	for _, kw := range []string{"hello", "world"} {
		got, err := s.SearchMessages(ctx, kw, 10)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Errorf("SearchMessages(%q) after delete = %d rows, want 0", kw, len(got))
		}
	}
}

func TestDeleteMessages_UnknownIDsAreANoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	n, err := s.DeleteMessages(ctx, []int64{999}, 1)
	if err != nil {
		t.Fatalf("DeleteMessages() error = %v", err)
	}
	if n != 0 {
		t.Errorf("DeleteMessages() removed = %d, want 0 for unknown ids", n)
	}
}

func TestGetStats_AnonymousChannelAggregation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertGroup(ctx, 1, "Channel X", sql.NullString{}, sql.NullInt64{}); err != nil {
		t.Fatal(err)
	}
	for i, date := range []string{"2026-01-01T00:00:00Z", "2026-01-01T00:01:00Z", "2026-01-01T00:02:00Z"} {
		msg := NewMessage{
			ID:         int64(i + 1),
			GroupID:    1,
			SenderName: "Channel X",
			Text:       "post",
			Date:       date,
		}
		if err := s.InsertMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := s.GetStats(ctx, "2026-01-01T00:00:00Z", "")
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("GetStats() = %+v, want 1 group", stats)
	}
	if stats[0].MessageCount != 3 {
		t.Errorf("MessageCount = %d, want 3", stats[0].MessageCount)
	}
	if stats[0].ActiveUsers < 1 {
		t.Errorf("ActiveUsers = %d, want >= 1 (anonymous sender_name fallback aggregation)", stats[0].ActiveUsers)
	}
}

func TestGetTopSenders_RanksByVolume(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	msgs := []NewMessage{
		{ID: 1, GroupID: 1, SenderID: sql.NullInt64{Int64: 1, Valid: true}, SenderName: "Ada", Text: "a", Date: "2026-01-01T00:00:00Z"},
		{ID: 2, GroupID: 1, SenderID: sql.NullInt64{Int64: 1, Valid: true}, SenderName: "Ada", Text: "b", Date: "2026-01-01T00:01:00Z"},
		{ID: 3, GroupID: 1, SenderName: "Channel X", Text: "c", Date: "2026-01-01T00:02:00Z"},
	}
	for _, m := range msgs {
		if err := s.InsertMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}

	top, err := s.GetTopSenders(ctx, ptr(int64(1)), "", 10)
	if err != nil {
		t.Fatalf("GetTopSenders() error = %v", err)
	}
	if len(top) != 2 {
		t.Fatalf("GetTopSenders() = %+v, want 2 distinct senders (identified + anonymous)", top)
	}
	if top[0].SenderName.String != "Ada" || top[0].MsgCount != 2 {
		t.Errorf("top sender = %+v, want Ada with 2 messages", top[0])
	}
}

func ptr[T any](v T) *T { return &v }
