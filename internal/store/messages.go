package store

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// urlPattern extracts links from message text. Carried over verbatim from
// the source collector: it stops at common Chinese/Latin sentence
// punctuation and the zero-width space so URLs embedded mid-sentence don't
// swallow trailing prose.
var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]，。！？、；：）》」』】\x{200b}]+`)

// Message mirrors a row of the messages table.
type Message struct {
	ID          int64
	GroupID     int64
	SenderID    sql.NullInt64
	SenderName  sql.NullString
	Text        sql.NullString
	Date        string
	MediaType   sql.NullString
	ForwardFrom sql.NullString
	ReplyToID   sql.NullInt64
	RawJSON     sql.NullString
	CreatedAt   string
	GroupTitle  sql.NullString // populated by joined queries only
}

// NewMessage is the write-side shape for InsertMessage/InsertMessagesBatch —
// unset optional fields are left at their zero value and stored as NULL.
type NewMessage struct {
	ID          int64
	GroupID     int64
	SenderID    sql.NullInt64
	SenderName  string
	Text        string
	Date        string
	MediaType   string
	ForwardFrom string
	ReplyToID   sql.NullInt64
	RawJSON     string
}

func scanMessage(rows *sql.Rows, withGroupTitle bool) (Message, error) {
	var m Message
	var err error
	if withGroupTitle {
		err = rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Text, &m.Date,
			&m.MediaType, &m.ForwardFrom, &m.ReplyToID, &m.RawJSON, &m.CreatedAt, &m.GroupTitle)
	} else {
		err = rows.Scan(&m.ID, &m.GroupID, &m.SenderID, &m.SenderName, &m.Text, &m.Date,
			&m.MediaType, &m.ForwardFrom, &m.ReplyToID, &m.RawJSON, &m.CreatedAt)
	}
	return m, err
}

// insertLinksForMessage extracts URLs from text and inserts one links row
// per distinct occurrence, ignoring duplicates via idx_links_unique.
func (s *Store) insertLinksForMessage(ctx context.Context, tx *sql.Tx, msg NewMessage) error {
	if msg.Text == "" {
		return nil
	}
	urls := urlPattern.FindAllString(msg.Text, -1)
	if len(urls) == 0 {
		return nil
	}
	context := msg.Text
	if len(context) > 200 {
		context = context[:200]
	}
	for _, url := range urls {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO links (url, message_id, group_id, sender_name, context, discovered_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			url, msg.ID, msg.GroupID, nullIfEmpty(msg.SenderName), context, msg.Date,
		); err != nil {
			return fmt.Errorf("insert link %q: %w", url, err)
		}
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertMessage stores a single message and extracts any URLs in its text
// into the links table, within one transaction.
func (s *Store) InsertMessage(ctx context.Context, msg NewMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert message: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages
			(id, group_id, sender_id, sender_name, text, date, media_type, forward_from, reply_to_id, raw_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.GroupID, msg.SenderID, nullIfEmpty(msg.SenderName), nullIfEmpty(msg.Text), msg.Date,
		nullIfEmpty(msg.MediaType), nullIfEmpty(msg.ForwardFrom), msg.ReplyToID, nullIfEmpty(msg.RawJSON),
	); err != nil {
		return fmt.Errorf("store: insert message %d/%d: %w", msg.GroupID, msg.ID, err)
	}

	if err := s.insertLinksForMessage(ctx, tx, msg); err != nil {
		return fmt.Errorf("store: insert message %d/%d: %w", msg.GroupID, msg.ID, err)
	}

	return tx.Commit()
}

// InsertMessagesBatch stores many messages (and their extracted links) in
// one transaction — used by gap-recovery catch-up fetches.
func (s *Store) InsertMessagesBatch(ctx context.Context, msgs []NewMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: insert messages batch: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, msg := range msgs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO messages
				(id, group_id, sender_id, sender_name, text, date, media_type, forward_from, reply_to_id, raw_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.GroupID, msg.SenderID, nullIfEmpty(msg.SenderName), nullIfEmpty(msg.Text), msg.Date,
			nullIfEmpty(msg.MediaType), nullIfEmpty(msg.ForwardFrom), msg.ReplyToID, nullIfEmpty(msg.RawJSON),
		); err != nil {
			return fmt.Errorf("store: insert messages batch (msg %d/%d): %w", msg.GroupID, msg.ID, err)
		}
		if err := s.insertLinksForMessage(ctx, tx, msg); err != nil {
			return fmt.Errorf("store: insert messages batch (msg %d/%d): %w", msg.GroupID, msg.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert messages batch: commit: %w", err)
	}
	s.log.Info("batch inserted messages", "count", len(msgs))
	return nil
}

// MessageFilter scopes a messages query; zero values mean "no constraint".
type MessageFilter struct {
	GroupID *int64
	Since   string
	Until   string
	Limit   int
}

func (f MessageFilter) whereClause(col string) (string, []any) {
	var conds []string
	var params []any
	if f.GroupID != nil {
		conds = append(conds, "group_id = ?")
		params = append(params, *f.GroupID)
	}
	if f.Since != "" {
		conds = append(conds, col+" >= ?")
		params = append(params, f.Since)
	}
	if f.Until != "" {
		conds = append(conds, col+" <= ?")
		params = append(params, f.Until)
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	return where, params
}

// GetMessages returns messages matching the filter, oldest first.
func (s *Store) GetMessages(ctx context.Context, f MessageFilter) ([]Message, error) {
	where, params := f.whereClause("date")
	query := fmt.Sprintf("SELECT id, group_id, sender_id, sender_name, text, date, media_type, forward_from, reply_to_id, raw_json, created_at FROM messages %s ORDER BY date ASC", where)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows, false)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessageCount returns the count of messages matching the filter.
func (s *Store) GetMessageCount(ctx context.Context, f MessageFilter) (int, error) {
	where, params := f.whereClause("date")
	query := fmt.Sprintf("SELECT COUNT(*) FROM messages %s", where)
	var count int
	if err := s.db.QueryRowContext(ctx, query, params...).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: get message count: %w", err)
	}
	return count, nil
}

// SearchMessages runs an FTS5 MATCH query, falling back to a LIKE scan if
// FTS5 errors (e.g. the index failed to bootstrap on this build).
func (s *Store) SearchMessages(ctx context.Context, keyword string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.group_id, m.sender_id, m.sender_name, m.text, m.date,
		       m.media_type, m.forward_from, m.reply_to_id, m.raw_json, m.created_at, g.title
		FROM messages m
		JOIN messages_fts fts ON m.rowid = fts.rowid
		LEFT JOIN groups g ON m.group_id = g.id
		WHERE messages_fts MATCH ?
		ORDER BY m.date DESC LIMIT ?`,
		keyword, limit,
	)
	if err == nil {
		defer rows.Close()
		var out []Message
		for rows.Next() {
			m, serr := scanMessage(rows, true)
			if serr != nil {
				return nil, fmt.Errorf("store: scan search result: %w", serr)
			}
			out = append(out, m)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("store: search messages: %w", err)
		}
		return out, nil
	}

	s.log.Debug("fts5 search failed, falling back to LIKE", "error", err)
	rows, err = s.db.QueryContext(ctx, `
		SELECT m.id, m.group_id, m.sender_id, m.sender_name, m.text, m.date,
		       m.media_type, m.forward_from, m.reply_to_id, m.raw_json, m.created_at, g.title
		FROM messages m
		LEFT JOIN groups g ON m.group_id = g.id
		WHERE m.text LIKE ?
		ORDER BY m.date DESC LIMIT ?`,
		"%"+keyword+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: search messages (like fallback): %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, serr := scanMessage(rows, true)
		if serr != nil {
			return nil, fmt.Errorf("store: scan search result: %w", serr)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateMessageText applies an edit. It reports whether any row actually
// changed: "text IS NOT ?" makes a re-edit to identical text a no-op, so
// callers can skip re-running FTS/alert side effects on it.
func (s *Store) UpdateMessageText(ctx context.Context, msgID, groupID int64, newText string, mediaType string) (bool, error) {
	var mediaArg any
	if mediaType != "" {
		mediaArg = mediaType
	}
	var textArg any
	if newText != "" {
		textArg = newText
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET text = ?, media_type = COALESCE(?, media_type)
		WHERE id = ? AND group_id = ? AND text IS NOT ?`,
		textArg, mediaArg, msgID, groupID, textArg,
	)
	if err != nil {
		return false, fmt.Errorf("store: update message text (id=%d): %w", msgID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: update message text (id=%d): %w", msgID, err)
	}
	return n > 0, nil
}

// DeleteMessages removes the given message ids within one group. Because
// messages_fts is a contentless/linked index, the explicit 'delete' op is
// issued before the row delete — the AFTER DELETE trigger fires too but
// this mirrors the source's belt-and-suspenders ordering for fidelity.
func (s *Store) DeleteMessages(ctx context.Context, msgIDs []int64, groupID int64) (int, error) {
	if len(msgIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(msgIDs)), ",")
	args := make([]any, 0, len(msgIDs)+1)
	for _, id := range msgIDs {
		args = append(args, id)
	}
	args = append(args, groupID)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: delete messages: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(
		`SELECT rowid, text, sender_name FROM messages WHERE id IN (%s) AND group_id = ?`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete messages: select existing: %w", err)
	}
	type existingRow struct {
		rowid      int64
		text       sql.NullString
		senderName sql.NullString
	}
	var existing []existingRow
	for rows.Next() {
		var r existingRow
		if err := rows.Scan(&r.rowid, &r.text, &r.senderName); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: delete messages: scan: %w", err)
		}
		existing = append(existing, r)
	}
	rows.Close()
	if len(existing) == 0 {
		return 0, nil
	}

	for _, r := range existing {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages_fts(messages_fts, rowid, text, sender_name)
			VALUES ('delete', ?, ?, ?)`,
			r.rowid, r.text.String, r.senderName.String,
		); err != nil {
			s.log.Debug("fts explicit delete op failed, trigger will still clean up", "error", err)
		}
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM messages WHERE id IN (%s) AND group_id = ?`, placeholders), args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: delete messages: commit: %w", err)
	}
	s.log.Info("deleted messages", "count", n, "group_id", groupID)
	return int(n), nil
}

// CleanupOldMessages chunk-deletes links then messages older than keepDays,
// 5000 rows at a time, stopping once a chunk deletes fewer than that —
// avoiding a single huge transaction lock on a large backlog.
func (s *Store) CleanupOldMessages(ctx context.Context, keepDays int) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -keepDays).Format(time.RFC3339)
	const chunkSize = 5000

	var deletedLinks, deletedMsgs int
	for {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM links WHERE id IN (SELECT id FROM links WHERE discovered_at < ? LIMIT ?)`,
			cutoff, chunkSize,
		)
		if err != nil {
			return deletedMsgs, fmt.Errorf("store: cleanup old links: %w", err)
		}
		n, _ := res.RowsAffected()
		deletedLinks += int(n)
		if n < chunkSize {
			break
		}
	}

	for {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM messages WHERE rowid IN (SELECT rowid FROM messages WHERE date < ? LIMIT ?)`,
			cutoff, chunkSize,
		)
		if err != nil {
			return deletedMsgs, fmt.Errorf("store: cleanup old messages: %w", err)
		}
		n, _ := res.RowsAffected()
		deletedMsgs += int(n)
		if n < chunkSize {
			break
		}
	}

	s.log.Info("cleaned up old data", "messages", deletedMsgs, "links", deletedLinks, "cutoff", cutoff)
	return deletedMsgs, nil
}

// ExportRow is the flattened shape returned by ExportMessages, joined
// against the owning group's title.
type ExportRow struct {
	ID          int64
	GroupID     int64
	GroupTitle  sql.NullString
	SenderName  sql.NullString
	Text        sql.NullString
	Date        string
	MediaType   sql.NullString
	ForwardFrom sql.NullString
}

// ExportMessages returns a paginated, group-title-joined view used by the
// external data export surface.
func (s *Store) ExportMessages(ctx context.Context, f MessageFilter, offset int) ([]ExportRow, error) {
	where, params := f.whereClause("m.date")
	query := fmt.Sprintf(`
		SELECT m.id, m.group_id, g.title, m.sender_name, m.text, m.date, m.media_type, m.forward_from
		FROM messages m
		LEFT JOIN groups g ON m.group_id = g.id
		%s
		ORDER BY m.date ASC`, where)
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", offset)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: export messages: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		if err := rows.Scan(&r.ID, &r.GroupID, &r.GroupTitle, &r.SenderName, &r.Text, &r.Date, &r.MediaType, &r.ForwardFrom); err != nil {
			return nil, fmt.Errorf("store: scan export row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRecentMessages returns the most recent messages in chronological
// order (newest-first query, reversed before returning).
func (s *Store) GetRecentMessages(ctx context.Context, limit int, groupID *int64) ([]Message, error) {
	where := ""
	var params []any
	if groupID != nil {
		where = "WHERE group_id = ?"
		params = append(params, *groupID)
	}
	params = append(params, limit)

	query := fmt.Sprintf("SELECT id, group_id, sender_id, sender_name, text, date, media_type, forward_from, reply_to_id, raw_json, created_at FROM messages %s ORDER BY date DESC LIMIT ?", where)
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows, false)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// HourlyCount is one bucket of a message-volume trend.
type HourlyCount struct {
	Hour  string
	Count int
}

// GetMessageTrends buckets message counts into hourly windows over the
// trailing `hours`.
func (s *Store) GetMessageTrends(ctx context.Context, hours int) ([]HourlyCount, error) {
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)
	rows, err := s.db.QueryContext(ctx, `
		SELECT strftime('%Y-%m-%dT%H:00:00', date) as hour, COUNT(*) as count
		FROM messages WHERE date >= ?
		GROUP BY hour ORDER BY hour ASC`, since)
	if err != nil {
		return nil, fmt.Errorf("store: get message trends: %w", err)
	}
	defer rows.Close()

	var out []HourlyCount
	for rows.Next() {
		var h HourlyCount
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, fmt.Errorf("store: scan trend bucket: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
