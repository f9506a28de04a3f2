// Package jobs tracks the lifecycle of asynchronous summarization
// invocations so a UI client can reconnect to an in-flight job across
// restarts or page reloads.
package jobs

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/daxia778/tg-monitor/internal/store"
)

// Registry is a write-through façade over the Store's summary_jobs table.
// There is no in-memory cache: every read goes to Store, so a restart
// never loses job state.
type Registry struct {
	store *store.Store
}

func New(st *store.Store) *Registry {
	return &Registry{store: st}
}

// Start creates a new job in "running" state and returns its opaque id.
func (r *Registry) Start(ctx context.Context, groupID *int64, hours int, mode string) (string, error) {
	id := uuid.NewString()
	var gid sql.NullInt64
	if groupID != nil {
		gid = sql.NullInt64{Int64: *groupID, Valid: true}
	}
	if err := r.store.CreateSummaryJob(ctx, id, gid, hours, mode); err != nil {
		return "", fmt.Errorf("jobs: start: %w", err)
	}
	return id, nil
}

// Progress reports a step in a running job: 0-100, with a human-readable
// status line.
func (r *Registry) Progress(ctx context.Context, id string, pct int, text string) error {
	status := "running"
	return r.store.UpdateSummaryJob(ctx, id, store.SummaryJobUpdate{
		Status:       &status,
		Progress:     &pct,
		ProgressText: &text,
	})
}

// Complete marks a job done with its final result text.
func (r *Registry) Complete(ctx context.Context, id, result string) error {
	status := "done"
	pct := 100
	return r.store.UpdateSummaryJob(ctx, id, store.SummaryJobUpdate{
		Status:   &status,
		Progress: &pct,
		Result:   &result,
	})
}

// Fail marks a job failed with an error message.
func (r *Registry) Fail(ctx context.Context, id, errMsg string) error {
	status := "error"
	return r.store.UpdateSummaryJob(ctx, id, store.SummaryJobUpdate{
		Status:   &status,
		ErrorMsg: &errMsg,
	})
}

// Get returns a job's current state, or ok=false if it doesn't exist.
func (r *Registry) Get(ctx context.Context, id string) (store.SummaryJob, bool, error) {
	return r.store.GetSummaryJob(ctx, id)
}
