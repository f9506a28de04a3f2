package store

import (
	"context"
	"fmt"
)

// Tenant is a configured Telegram bot credential set, one per monitored
// account, each driven by its own ingest worker.
type Tenant struct {
	ID          int64
	APIID       int64
	APIHash     string
	Phone       string
	SessionName string
	IsActive    bool
	CreatedAt   string
}

// AddTenant registers a new tenant, active by default, and returns its id.
func (s *Store) AddTenant(ctx context.Context, apiID int64, apiHash, phone, sessionName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (api_id, api_hash, phone, session_name, is_active)
		VALUES (?, ?, ?, ?, 1)`,
		apiID, apiHash, phone, sessionName,
	)
	if err != nil {
		return 0, fmt.Errorf("store: add tenant: %w", err)
	}
	return res.LastInsertId()
}

// GetTenants returns tenants ordered by creation time, optionally filtered
// to active ones only.
func (s *Store) GetTenants(ctx context.Context, activeOnly bool) ([]Tenant, error) {
	query := `SELECT id, api_id, api_hash, phone, session_name, is_active, created_at FROM tenants`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: get tenants: %w", err)
	}
	defer rows.Close()

	var out []Tenant
	for rows.Next() {
		var t Tenant
		var active int
		if err := rows.Scan(&t.ID, &t.APIID, &t.APIHash, &t.Phone, &t.SessionName, &active, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan tenant: %w", err)
		}
		t.IsActive = active != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

// SetTenantActive flips a tenant's active flag (used to pause/resume a
// session worker without deleting its credentials).
func (s *Store) SetTenantActive(ctx context.Context, tenantID int64, active bool) error {
	val := 0
	if active {
		val = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE tenants SET is_active = ? WHERE id = ?`, val, tenantID)
	if err != nil {
		return fmt.Errorf("store: set tenant %d active=%v: %w", tenantID, active, err)
	}
	return nil
}
