package store

import (
	"context"
	"time"
)

// AddAlertedMessage records that a message key was alerted on, for
// cross-restart dedup. Failures are logged, not propagated — an alert that
// fires twice after a write hiccup is preferable to one that blocks on it.
func (s *Store) AddAlertedMessage(ctx context.Context, msgKey string) {
	// alerted_at is written in RFC3339 so it compares correctly, as a string,
	// with the RFC3339 cutoffs used by RecentAlertedIDs and CleanupOldAlerts.
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO alerted_messages (msg_key, alerted_at) VALUES (?, ?)`, msgKey, now); err != nil {
		s.log.Warn("failed to persist alerted message", "error", err)
	}
}

// RecentAlertedIDs returns the set of message keys alerted within the last
// `hours`, used to rehydrate the in-memory dedup set on startup.
func (s *Store) RecentAlertedIDs(ctx context.Context, hours int) map[string]struct{} {
	out := make(map[string]struct{})
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)

	rows, err := s.db.QueryContext(ctx, `SELECT msg_key FROM alerted_messages WHERE alerted_at >= ?`, since)
	if err != nil {
		s.log.Warn("failed to read alerted messages", "error", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			s.log.Warn("failed to scan alerted message", "error", err)
			continue
		}
		out[key] = struct{}{}
	}
	return out
}

// CleanupOldAlerts prunes alerted_messages older than keepHours.
func (s *Store) CleanupOldAlerts(ctx context.Context, keepHours int) {
	cutoff := time.Now().UTC().Add(-time.Duration(keepHours) * time.Hour).Format(time.RFC3339)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alerted_messages WHERE alerted_at < ?`, cutoff); err != nil {
		s.log.Warn("failed to clean up old alerts", "error", err)
	}
}
