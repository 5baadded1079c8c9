package storage

import (
	"context"
	"database/sql"
	"sync"
	"time"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/observability/metrics"
)

const defaultAuditQueue = 256

// auditWriteTimeout bounds each record's write independently of any run
// context: audit rows must land even when the run that produced them is gone.
const auditWriteTimeout = 30 * time.Second

// AuditWorker persists execution records off the run path. Enqueue never
// blocks a run; when the queue is full the record is dropped and counted.
type AuditWorker struct {
	store *Store
	log   logx.Logger

	mu     sync.Mutex
	closed bool

	queue chan catalog.Execution
	done  chan struct{}
}

// NewAuditWorker creates a worker with a bounded queue and starts its writer
// goroutine.
func NewAuditWorker(store *Store, queueSize int, log logx.Logger) *AuditWorker {
	if queueSize <= 0 {
		queueSize = defaultAuditQueue
	}
	w := &AuditWorker{
		store: store,
		log:   log.With(logx.String("component", "audit")),
		queue: make(chan catalog.Execution, queueSize),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

// Enqueue hands a finished run's record to the writer. Returns false when the
// worker is closed or the queue is full; the record is then lost by design.
func (w *AuditWorker) Enqueue(rec catalog.Execution) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- rec:
		metrics.SetAuditQueueDepth(len(w.queue))
		return true
	default:
		w.log.Warn("audit queue full; dropping execution record",
			logx.Int64("query_id", rec.QueryID),
			logx.String("run_id", rec.RunID),
		)
		metrics.RecordAuditDrop()
		return false
	}
}

// Close stops intake and blocks until every queued record is written.
func (w *AuditWorker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()
	<-w.done
}

func (w *AuditWorker) run() {
	defer close(w.done)
	for rec := range w.queue {
		metrics.SetAuditQueueDepth(len(w.queue))
		if err := w.write(rec); err != nil {
			w.log.Error("execution record lost",
				logx.Int64("query_id", rec.QueryID),
				logx.String("run_id", rec.RunID),
				logx.Err(err),
			)
		}
	}
}

func (w *AuditWorker) write(rec catalog.Execution) error {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	return w.store.RecordExecution(ctx, rec)
}

// RecordExecution writes one audit row. The worker is the normal caller;
// it is exported for callers that need the record on disk before continuing.
func (s *Store) RecordExecution(ctx context.Context, rec catalog.Execution) error {
	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now()
	}
	return s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "record_execution", executionAttempts, func() error {
			_, err := conn.ExecContext(ctx,
				`INSERT INTO execution_records(query_id, run_id, api_url, success, total_items, new_count, changed_count, error, status_code, duration_ms, executed_at)
				 VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
				rec.QueryID, rec.RunID, rec.APIURL, rec.Success,
				rec.TotalItems, rec.NewCount, rec.ChangedCount,
				nullStr(rec.Error), rec.StatusCode, rec.Duration.Milliseconds(),
				formatTime(executedAt),
			)
			return err
		})
	})
}

// ExecutionHistory returns the most recent audit rows for a query, newest
// first.
func (s *Store) ExecutionHistory(ctx context.Context, queryID int64, limit int) ([]catalog.Execution, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []catalog.Execution
	err := s.withConn(ctx, func(conn *sql.Conn) error {
		return withRetry(ctx, s.log, "execution_history", readAttempts, func() error {
			rows, err := conn.QueryContext(ctx,
				`SELECT id, query_id, run_id, api_url, success, total_items, new_count, changed_count, error, status_code, duration_ms, executed_at
				 FROM execution_records WHERE query_id = ? ORDER BY id DESC LIMIT ?`,
				queryID, limit)
			if err != nil {
				return err
			}
			defer rows.Close()

			out = out[:0]
			for rows.Next() {
				var (
					rec        catalog.Execution
					apiURL     sql.NullString
					errText    sql.NullString
					durationMS int64
					executedAt string
				)
				if err := rows.Scan(&rec.ID, &rec.QueryID, &rec.RunID, &apiURL, &rec.Success,
					&rec.TotalItems, &rec.NewCount, &rec.ChangedCount, &errText,
					&rec.StatusCode, &durationMS, &executedAt); err != nil {
					return err
				}
				rec.APIURL = apiURL.String
				rec.Error = errText.String
				rec.Duration = time.Duration(durationMS) * time.Millisecond
				if t, err := parseTime(executedAt); err == nil {
					rec.ExecutedAt = t
				}
				out = append(out, rec)
			}
			return rows.Err()
		})
	})
	return out, err
}
