package sessionpool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/daxia778/tg-monitor/internal/ingest"
	"github.com/daxia778/tg-monitor/internal/store"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil, []ingest.GroupConfig{{ID: 1}}, 90, nil)
}

func TestStartAll_NoActiveTenantsIsNotAnError(t *testing.T) {
	p := newTestPool(t)
	if err := p.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v, want nil with zero tenants", err)
	}
	if got := p.Status(); len(got) != 0 {
		t.Errorf("Status() = %v, want empty", got)
	}
}

func TestStopAll_NoWorkersIsANoop(t *testing.T) {
	p := newTestPool(t)
	p.StopAll() // must not panic or block with nothing running
}

func TestStopTenant_UnknownTenantIsANoop(t *testing.T) {
	p := newTestPool(t)
	p.StopTenant(999) // must not panic for a tenant that was never started
}

func TestStartTenant_UnknownTenantErrors(t *testing.T) {
	p := newTestPool(t)
	err := p.StartTenant(context.Background(), 404)
	if err == nil {
		t.Fatal("expected error for unknown tenant id")
	}
}

func TestStatus_EmptyPool(t *testing.T) {
	p := newTestPool(t)
	if got := p.Status(); got == nil || len(got) != 0 {
		t.Errorf("Status() = %v, want empty non-nil slice", got)
	}
}
