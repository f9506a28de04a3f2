package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Link mirrors a row of the links table, joined with its owning group's
// title for display.
type Link struct {
	ID           int64
	URL          string
	MessageID    int64
	GroupID      int64
	GroupTitle   sql.NullString
	SenderName   sql.NullString
	Context      sql.NullString
	DiscoveredAt string
	Title        sql.NullString
	Description  sql.NullString
	ImageURL     sql.NullString
}

// AggregatedLink is one row of GetLinksAggregated: a URL collapsed across
// every group/message it was seen in.
type AggregatedLink struct {
	URL          string
	TotalCount   int
	GroupCount   int
	GroupTitles  sql.NullString
	SenderNames  sql.NullString
	FirstSeen    string
	LastSeen     string
}

// blockClause builds the "LOWER(url) NOT LIKE ?" chain shared by GetLinks
// and GetLinksAggregated.
func blockClause(domains []string) (string, []any) {
	var conds []string
	var params []any
	for _, d := range domains {
		conds = append(conds, "LOWER(l.url) NOT LIKE ?")
		params = append(params, "%"+strings.ToLower(d)+"%")
	}
	return strings.Join(conds, " AND "), params
}

// GetLinks lists recently discovered links, newest first, optionally
// scoped to a group and filtered against a domain blocklist.
func (s *Store) GetLinks(ctx context.Context, groupID *int64, limit int, blockDomains []string) ([]Link, error) {
	clause, params := blockClause(blockDomains)
	var conds []string
	if clause != "" {
		conds = append(conds, clause)
	}
	if groupID != nil {
		conds = append(conds, "l.group_id = ?")
		params = append(params, *groupID)
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	params = append(params, limit)

	query := fmt.Sprintf(`
		SELECT l.id, l.url, l.message_id, l.group_id, g.title, l.sender_name,
		       l.context, l.discovered_at, l.title, l.description, l.image_url
		FROM links l
		LEFT JOIN groups g ON l.group_id = g.id
		%s
		ORDER BY l.discovered_at DESC LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get links: %w", err)
	}
	defer rows.Close()

	var out []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.ID, &l.URL, &l.MessageID, &l.GroupID, &l.GroupTitle, &l.SenderName,
			&l.Context, &l.DiscoveredAt, &l.Title, &l.Description, &l.ImageURL); err != nil {
			return nil, fmt.Errorf("store: scan link: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLinksAggregated collapses links by URL across every group they
// appeared in, ranked by how often the URL was shared.
func (s *Store) GetLinksAggregated(ctx context.Context, limit int, blockDomains []string) ([]AggregatedLink, error) {
	clause, params := blockClause(blockDomains)
	where := "1=1"
	if clause != "" {
		where = clause
	}
	params = append(params, limit)

	query := fmt.Sprintf(`
		SELECT
			l.url,
			COUNT(*) as total_count,
			COUNT(DISTINCT l.group_id) as group_count,
			GROUP_CONCAT(DISTINCT g.title) as group_titles,
			GROUP_CONCAT(DISTINCT l.sender_name) as sender_names,
			MIN(l.discovered_at) as first_seen,
			MAX(l.discovered_at) as last_seen
		FROM links l
		LEFT JOIN groups g ON l.group_id = g.id
		WHERE %s
		GROUP BY l.url
		ORDER BY total_count DESC, last_seen DESC
		LIMIT ?`, where)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("store: get links aggregated: %w", err)
	}
	defer rows.Close()

	var out []AggregatedLink
	for rows.Next() {
		var a AggregatedLink
		if err := rows.Scan(&a.URL, &a.TotalCount, &a.GroupCount, &a.GroupTitles, &a.SenderNames,
			&a.FirstSeen, &a.LastSeen); err != nil {
			return nil, fmt.Errorf("store: scan aggregated link: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
