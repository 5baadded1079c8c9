package storage

import (
	"context"
	"testing"
	"time"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
)

func TestAuditWorkerWrites(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)

	w := NewAuditWorker(st, 8, logx.Nop())
	rec := catalog.Execution{
		QueryID:    queryID,
		RunID:      "run-audit",
		APIURL:     "https://www.lidl.nl/q/api/query/x",
		Success:    true,
		TotalItems: 48,
		NewCount:   3,
		Duration:   1500 * time.Millisecond,
	}
	if ok := w.Enqueue(rec); !ok {
		t.Fatal("Enqueue() = false, want true")
	}
	w.Close()

	history, err := st.ExecutionHistory(ctx, queryID, 10)
	if err != nil {
		t.Fatalf("ExecutionHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("len(history) = %d, want 1", len(history))
	}
	got := history[0]
	if got.RunID != rec.RunID || !got.Success || got.TotalItems != 48 || got.NewCount != 3 {
		t.Fatalf("history[0] = %+v, want fields from enqueued record", got)
	}
	if got.Duration != 1500*time.Millisecond {
		t.Fatalf("Duration = %v, want 1.5s", got.Duration)
	}
	if got.ExecutedAt.IsZero() {
		t.Fatal("ExecutedAt is zero, want set")
	}
}

func TestAuditWorkerRejectsAfterClose(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	w := NewAuditWorker(st, 4, logx.Nop())
	w.Close()
	w.Close() // idempotent

	if ok := w.Enqueue(catalog.Execution{QueryID: 1, RunID: "r"}); ok {
		t.Fatal("Enqueue() after Close = true, want false")
	}
}

func TestAuditWorkerDropsWhenFull(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	// Build the worker by hand so no writer drains the queue.
	w := &AuditWorker{
		store: st,
		log:   logx.Nop(),
		queue: make(chan catalog.Execution, 1),
		done:  make(chan struct{}),
	}
	if ok := w.Enqueue(catalog.Execution{RunID: "fits"}); !ok {
		t.Fatal("Enqueue() #1 = false, want true")
	}
	if ok := w.Enqueue(catalog.Execution{RunID: "dropped"}); ok {
		t.Fatal("Enqueue() #2 = true, want false on a full queue")
	}
}

func TestExecutionHistoryNewestFirst(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()
	queryID := seedQuery(t, st)

	for i, runID := range []string{"run-1", "run-2", "run-3"} {
		rec := catalog.Execution{
			QueryID:    queryID,
			RunID:      runID,
			APIURL:     "https://example",
			Success:    i%2 == 0,
			ExecutedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := st.RecordExecution(ctx, rec); err != nil {
			t.Fatalf("RecordExecution(%s) error = %v", runID, err)
		}
	}

	history, err := st.ExecutionHistory(ctx, queryID, 2)
	if err != nil {
		t.Fatalf("ExecutionHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].RunID != "run-3" || history[1].RunID != "run-2" {
		t.Fatalf("history order = [%s, %s], want [run-3, run-2]", history[0].RunID, history[1].RunID)
	}
}
