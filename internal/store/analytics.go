package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Summary mirrors a row of the summaries table, joined with its group's
// title.
type Summary struct {
	ID           int64
	GroupID      sql.NullInt64
	GroupTitle   sql.NullString
	PeriodStart  string
	PeriodEnd    string
	MessageCount int
	Content      string
	Model        sql.NullString
	CreatedAt    string
}

// SaveSummary persists a finished summarization result.
func (s *Store) SaveSummary(ctx context.Context, groupID sql.NullInt64, periodStart, periodEnd string, messageCount int, content string, model string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (group_id, period_start, period_end, message_count, content, model)
		VALUES (?, ?, ?, ?, ?, ?)`,
		groupID, periodStart, periodEnd, messageCount, content, nullIfEmpty(model),
	)
	if err != nil {
		return fmt.Errorf("store: save summary: %w", err)
	}
	return nil
}

// GetLatestSummaries returns the most recent summaries, skipping rows whose
// content carries a "summary generation failed" or "error:" marker. The
// summarizer itself does not save failed ("❌") results at all.
func (s *Store) GetLatestSummaries(ctx context.Context, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.group_id, g.title, s.period_start, s.period_end, s.message_count, s.content, s.model, s.created_at
		FROM summaries s
		LEFT JOIN groups g ON s.group_id = g.id
		WHERE s.content NOT LIKE '%summary generation failed%' AND s.content NOT LIKE '%error:%'
		ORDER BY s.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get latest summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.GroupID, &sm.GroupTitle, &sm.PeriodStart, &sm.PeriodEnd, &sm.MessageCount, &sm.Content, &sm.Model, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// GroupStats is one row of GetStats: per-group activity over a window.
type GroupStats struct {
	GroupTitle   sql.NullString
	GroupID      int64
	MessageCount int
	ActiveUsers  int
	FirstMsg     sql.NullString
	LastMsg      sql.NullString
}

// GetStats summarizes message volume and distinct senders per group over
// an optional [since, until] window.
func (s *Store) GetStats(ctx context.Context, since, until string) ([]GroupStats, error) {
	f := MessageFilter{Since: since, Until: until}
	where, params := f.whereClause("m.date")

	query := fmt.Sprintf(`
		SELECT
			g.title, m.group_id, COUNT(*) as message_count,
			COUNT(DISTINCT COALESCE(CAST(m.sender_id AS TEXT), m.sender_name)) as active_users,
			MIN(m.date), MAX(m.date)
		FROM messages m
		LEFT JOIN groups g ON m.group_id = g.id
		%s
		GROUP BY m.group_id
		ORDER BY message_count DESC`, where)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get stats: %w", err)
	}
	defer rows.Close()

	var out []GroupStats
	for rows.Next() {
		var g GroupStats
		if err := rows.Scan(&g.GroupTitle, &g.GroupID, &g.MessageCount, &g.ActiveUsers, &g.FirstMsg, &g.LastMsg); err != nil {
			return nil, fmt.Errorf("store: scan stats row: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// TopSender is one row of GetTopSenders.
type TopSender struct {
	SenderName sql.NullString
	SenderID   sql.NullInt64
	MsgCount   int
}

// GetTopSenders ranks senders by message volume, optionally scoped to one
// group and a since-cutoff.
func (s *Store) GetTopSenders(ctx context.Context, groupID *int64, since string, limit int) ([]TopSender, error) {
	var conds []string
	var params []any
	if groupID != nil {
		conds = append(conds, "group_id = ?")
		params = append(params, *groupID)
	}
	if since != "" {
		conds = append(conds, "date >= ?")
		params = append(params, since)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + joinConds(conds)
	}
	params = append(params, limit)

	query := fmt.Sprintf(`
		SELECT sender_name, sender_id, COUNT(*) as msg_count
		FROM messages %s
		GROUP BY COALESCE(CAST(sender_id AS TEXT), sender_name)
		ORDER BY msg_count DESC LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get top senders: %w", err)
	}
	defer rows.Close()

	var out []TopSender
	for rows.Next() {
		var t TopSender
		if err := rows.Scan(&t.SenderName, &t.SenderID, &t.MsgCount); err != nil {
			return nil, fmt.Errorf("store: scan top sender: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func joinConds(conds []string) string {
	out := conds[0]
	for _, c := range conds[1:] {
		out += " AND " + c
	}
	return out
}

// DateRange is the result of GetDateRange: the span and count of messages
// in an optional window.
type DateRange struct {
	FirstMsg sql.NullString
	LastMsg  sql.NullString
	Total    int
}

// GetDateRange reports the first/last message timestamp and total count
// within an optional [since, until] window.
func (s *Store) GetDateRange(ctx context.Context, since, until string) (DateRange, error) {
	f := MessageFilter{Since: since, Until: until}
	where, params := f.whereClause("date")
	query := fmt.Sprintf("SELECT MIN(date), MAX(date), COUNT(*) FROM messages %s", where)

	var dr DateRange
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(&dr.FirstMsg, &dr.LastMsg, &dr.Total); err != nil {
		return dr, fmt.Errorf("store: get date range: %w", err)
	}
	return dr, nil
}

// HeatmapCell is one (day-of-week, hour) activity bucket.
type HeatmapCell struct {
	DayOfWeek int
	Hour      int
	Count     int
}

// GetHeatmapData buckets message counts by day-of-week and hour over the
// trailing `days`, for the weekly-activity heatmap view.
func (s *Store) GetHeatmapData(ctx context.Context, days int) ([]HeatmapCell, error) {
	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT CAST(strftime('%w', date) AS INTEGER) as dow,
		       CAST(strftime('%H', date) AS INTEGER) as hour,
		       COUNT(*) as count
		FROM messages
		WHERE date >= ?
		GROUP BY dow, hour ORDER BY dow, hour`, since)
	if err != nil {
		return nil, fmt.Errorf("store: get heatmap data: %w", err)
	}
	defer rows.Close()

	var out []HeatmapCell
	for rows.Next() {
		var c HeatmapCell
		if err := rows.Scan(&c.DayOfWeek, &c.Hour, &c.Count); err != nil {
			return nil, fmt.Errorf("store: scan heatmap cell: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// HourlyComparison pairs today's and yesterday's hourly message counts for
// the day-over-day activity comparison view.
type HourlyComparison struct {
	Today     []HourlyCount
	Yesterday []HourlyCount
}

// GetHourlyComparison buckets today's and yesterday's message counts by
// hour-of-day (UTC) for a side-by-side comparison.
func (s *Store) GetHourlyComparison(ctx context.Context) (HourlyComparison, error) {
	now := time.Now().UTC()
	todayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterdayStart := todayStart.AddDate(0, 0, -1)

	var cmp HourlyComparison

	todayRows, err := s.db.QueryContext(ctx, `
		SELECT CAST(strftime('%H', date) AS INTEGER) as hour, COUNT(*) as count
		FROM messages WHERE date >= ?
		GROUP BY hour ORDER BY hour`, todayStart.Format(time.RFC3339))
	if err != nil {
		return cmp, fmt.Errorf("store: get hourly comparison (today): %w", err)
	}
	defer todayRows.Close()
	for todayRows.Next() {
		var h HourlyCount
		if err := todayRows.Scan(&h.Hour, &h.Count); err != nil {
			return cmp, fmt.Errorf("store: scan today bucket: %w", err)
		}
		cmp.Today = append(cmp.Today, h)
	}

	yesterdayRows, err := s.db.QueryContext(ctx, `
		SELECT CAST(strftime('%H', date) AS INTEGER) as hour, COUNT(*) as count
		FROM messages WHERE date >= ? AND date < ?
		GROUP BY hour ORDER BY hour`, yesterdayStart.Format(time.RFC3339), todayStart.Format(time.RFC3339))
	if err != nil {
		return cmp, fmt.Errorf("store: get hourly comparison (yesterday): %w", err)
	}
	defer yesterdayRows.Close()
	for yesterdayRows.Next() {
		var h HourlyCount
		if err := yesterdayRows.Scan(&h.Hour, &h.Count); err != nil {
			return cmp, fmt.Errorf("store: scan yesterday bucket: %w", err)
		}
		cmp.Yesterday = append(cmp.Yesterday, h)
	}

	return cmp, nil
}

// GetGroupMessages returns a group's recent messages within the trailing
// `hours`, newest first — the read path behind an on-demand group digest.
func (s *Store) GetGroupMessages(ctx context.Context, groupID int64, hours, limit int) ([]Message, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.group_id, m.sender_id, m.sender_name, m.text, m.date,
		       m.media_type, m.forward_from, m.reply_to_id, m.raw_json, m.created_at, g.title
		FROM messages m
		LEFT JOIN groups g ON m.group_id = g.id
		WHERE m.group_id = ? AND m.date >= ?
		ORDER BY m.date DESC LIMIT ?`, groupID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: get group messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows, true)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetGroupTrends buckets one group's message counts by hour over the
// trailing `hours`.
func (s *Store) GetGroupTrends(ctx context.Context, groupID int64, hours int) ([]HourlyCount, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00', date) as hour, COUNT(*) as count
		FROM messages
		WHERE group_id = ? AND date >= ?
		GROUP BY hour ORDER BY hour ASC`, groupID, since)
	if err != nil {
		return nil, fmt.Errorf("store: get group trends: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var h HourlyCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, fmt.Errorf("store: scan group trend bucket: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
