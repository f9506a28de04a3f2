package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Group mirrors the groups table: a Telegram chat being monitored.
type Group struct {
	ID          int64
	Title       string
	Username    sql.NullString
	MemberCount sql.NullInt64
	UpdatedAt   string
}

// UpsertGroup inserts or refreshes a group's cached metadata.
func (s *Store) UpsertGroup(ctx context.Context, id int64, title string, username sql.NullString, memberCount sql.NullInt64) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, title, username, member_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			username = excluded.username,
			member_count = excluded.member_count,
			updated_at = excluded.updated_at`,
		id, title, username, memberCount, now,
	)
	if err != nil {
		return fmt.Errorf("store: upsert group %d: %w", id, err)
	}
	return nil
}

// GetGroups returns all known groups, ordered by title.
func (s *Store) GetGroups(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, username, member_count, updated_at FROM groups ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("store: get groups: %w", err)
	}
	defer rows.Close()

	var out []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.Title, &g.Username, &g.MemberCount, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: scan group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
