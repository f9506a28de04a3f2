// Package sessionpool fans a single process out across every active tenant,
// running one Ingestion Worker per tenant concurrently.
package sessionpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/daxia778/tg-monitor/internal/alerts"
	"github.com/daxia778/tg-monitor/internal/ingest"
	"github.com/daxia778/tg-monitor/internal/store"
)

// entry pairs a running Worker with the bookkeeping Status() reports.
type entry struct {
	tenant store.Tenant
	worker *ingest.Worker
}

// Pool manages one Worker per tenant_id, letting tenants be started,
// stopped, and re-started independently of process lifetime.
type Pool struct {
	store    *store.Store
	alerts   *alerts.Engine
	groups   []ingest.GroupConfig
	keepDays int
	log      *slog.Logger

	mu      sync.Mutex
	workers map[int64]*entry
}

// New builds a Pool. groups is the shared monitored-chat list applied to
// every tenant's bot session — each tenant's bot account still needs to be
// a member of those chats for Resolving to succeed.
func New(st *store.Store, engine *alerts.Engine, groups []ingest.GroupConfig, keepDays int, log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		store:    st,
		alerts:   engine,
		groups:   groups,
		keepDays: keepDays,
		log:      log,
		workers:  make(map[int64]*entry),
	}
}

// StartAll loads every active tenant from Store and starts their workers
// concurrently. A per-tenant start failure is logged and does not abort the
// others.
func (p *Pool) StartAll(ctx context.Context) error {
	tenants, err := p.store.GetTenants(ctx, true)
	if err != nil {
		return fmt.Errorf("sessionpool: load active tenants: %w", err)
	}
	if len(tenants) == 0 {
		p.log.Warn("no active tenants, pool started with zero workers")
		return nil
	}

	p.log.Info("starting tenant workers", "count", len(tenants))
	var wg sync.WaitGroup
	for _, t := range tenants {
		wg.Add(1)
		go func(t store.Tenant) {
			defer wg.Done()
			if err := p.startTenant(ctx, t); err != nil {
				p.log.Error("tenant start failed", "tenant_id", t.ID, "error", err)
			}
		}(t)
	}
	wg.Wait()
	return nil
}

// StartTenant looks up and starts a single tenant by id, for dynamic
// add-a-tenant flows. Starting an already-running tenant is a no-op.
func (p *Pool) StartTenant(ctx context.Context, tenantID int64) error {
	tenants, err := p.store.GetTenants(ctx, false)
	if err != nil {
		return fmt.Errorf("sessionpool: load tenants: %w", err)
	}
	for _, t := range tenants {
		if t.ID == tenantID {
			return p.startTenant(ctx, t)
		}
	}
	return fmt.Errorf("sessionpool: tenant %d not found", tenantID)
}

func (p *Pool) startTenant(ctx context.Context, t store.Tenant) error {
	p.mu.Lock()
	if e, ok := p.workers[t.ID]; ok && e.worker.Status() != "stopped" {
		p.mu.Unlock()
		p.log.Info("tenant already running", "tenant_id", t.ID)
		return nil
	}
	p.mu.Unlock()

	w, err := ingest.New(ingest.Config{
		TenantID: t.ID,
		BotToken: t.APIHash,
		Groups:   p.groups,
		KeepDays: p.keepDays,
	}, p.store, p.alerts, p.log)
	if err != nil {
		return err
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	p.mu.Lock()
	p.workers[t.ID] = &entry{tenant: t, worker: w}
	p.mu.Unlock()

	p.log.Info("tenant worker started", "tenant_id", t.ID)
	return nil
}

// StopTenant stops and removes a single tenant's worker, if running.
func (p *Pool) StopTenant(tenantID int64) {
	p.mu.Lock()
	e, ok := p.workers[tenantID]
	if ok {
		delete(p.workers, tenantID)
	}
	p.mu.Unlock()

	if !ok {
		return
	}
	e.worker.Stop()
	p.log.Info("tenant worker stopped", "tenant_id", tenantID)
}

// StopAll stops every running worker concurrently.
func (p *Pool) StopAll() {
	p.mu.Lock()
	entries := make([]*entry, 0, len(p.workers))
	for _, e := range p.workers {
		entries = append(entries, e)
	}
	p.workers = make(map[int64]*entry)
	p.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	p.log.Info("stopping all tenant workers", "count", len(entries))
	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.worker.Stop()
		}(e)
	}
	wg.Wait()
}

// TenantStatus is one worker's status snapshot.
type TenantStatus struct {
	TenantID    int64  `json:"tenant_id"`
	SessionName string `json:"session_name"`
	Running     bool   `json:"running"`
	State       string `json:"state"`
}

// Status returns a snapshot of every tracked worker's lifecycle state.
func (p *Pool) Status() []TenantStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]TenantStatus, 0, len(p.workers))
	for id, e := range p.workers {
		state := e.worker.Status()
		out = append(out, TenantStatus{
			TenantID:    id,
			SessionName: e.tenant.SessionName,
			Running:     state != "stopped",
			State:       state,
		})
	}
	return out
}
