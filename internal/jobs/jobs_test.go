package jobs

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/daxia778/tg-monitor/internal/store"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st)
}

func TestRegistry_StartAndGet(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Start(ctx, nil, 24, "per_group")
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if id == "" {
		t.Fatal("Start() returned empty id")
	}

	job, ok, err := r.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if job.Status.String != "running" || job.Progress != 0 {
		t.Errorf("new job state = %+v, want running/0", job)
	}
}

func TestRegistry_ProgressThenComplete(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Start(ctx, nil, 24, "single")
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Progress(ctx, id, 50, "halfway there"); err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	job, _, err := r.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Progress != 50 || job.ProgressText.String != "halfway there" {
		t.Errorf("job after Progress() = %+v", job)
	}

	if err := r.Complete(ctx, id, "final summary text"); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, _, err = r.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status.String != "done" || job.Progress != 100 || job.Result.String != "final summary text" {
		t.Errorf("job after Complete() = %+v", job)
	}
}

func TestRegistry_Fail(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	id, err := r.Start(ctx, nil, 24, "single")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Fail(ctx, id, "llm unreachable"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	job, _, err := r.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status.String != "error" || job.ErrorMsg.String != "llm unreachable" {
		t.Errorf("job after Fail() = %+v", job)
	}
}

func TestRegistry_GetMissingJob(t *testing.T) {
	r := newTestRegistry(t)
	_, ok, err := r.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Get() for missing job, ok = true, want false")
	}
}
