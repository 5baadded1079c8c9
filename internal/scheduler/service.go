// Package scheduler owns the polling loop that executes due queries.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/catalog"
	"prijswacht/internal/observability/metrics"
	"prijswacht/internal/source"
	"prijswacht/internal/storage"
)

const (
	defaultTick   = time.Minute
	defaultSlices = 6
)

// Dispatcher delivers the notifications of one finished run.
type Dispatcher interface {
	DispatchRun(ctx context.Context, runID string, queryID int64, initial bool, newCount int, events []catalog.Event) error
}

// Auditor accepts execution records for background persistence.
type Auditor interface {
	Enqueue(rec catalog.Execution) bool
}

type Config struct {
	// Tick is the due-check cadence. The sleep between checks is cut into
	// Slices stop-checks so cancellation lands within one slice.
	Tick   time.Duration
	Slices int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = defaultTick
	}
	if c.Slices < 1 {
		c.Slices = defaultSlices
	}
	return c
}

// Service polls active queries and runs the due ones sequentially. The loop
// is single threaded, so ticks never overlap and one slow query delays the
// rest instead of stacking concurrent fetches against the same source.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	store   *storage.Store
	sources *source.Registry
	disp    Dispatcher
	audit   Auditor
	log     logx.Logger
}

func New(cfg Config, store *storage.Store, sources *source.Registry, disp Dispatcher, audit Auditor, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   store,
		sources: sources,
		disp:    disp,
		audit:   audit,
		log:     log.With(logx.String("component", "scheduler")),
	}
}

// Apply swaps the tick cadence. Takes effect on the next sleep; an ongoing
// pass is never interrupted.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()
	if prev != cfg {
		s.log.Info("poller cadence changed",
			logx.Duration("tick", cfg.Tick), logx.Int("slices", cfg.Slices))
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Run blocks until ctx ends. Each pass checks all active queries, runs the
// due ones, then sleeps one tick.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.config()
	s.log.Info("poller started",
		logx.Duration("tick", cfg.Tick), logx.Int("slices", cfg.Slices))
	for {
		s.RunDueQueries(ctx, time.Now())
		if !s.sleepTick(ctx) {
			s.log.Info("poller stopped")
			return nil
		}
	}
}

func (s *Service) sleepTick(ctx context.Context) bool {
	cfg := s.config()
	slice := cfg.Tick / time.Duration(cfg.Slices)
	if slice <= 0 {
		slice = cfg.Tick
	}
	for slept := time.Duration(0); slept < cfg.Tick; slept += slice {
		t := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}
	}
	return true
}

// RunDueQueries executes every active query whose interval has elapsed at
// now. Failures stay contained: one query's error or panic never stops the
// pass or the loop.
func (s *Service) RunDueQueries(ctx context.Context, now time.Time) {
	queries, err := s.store.ActiveQueries(ctx)
	if err != nil {
		s.log.Error("active query listing failed", logx.Err(err))
		return
	}
	for _, q := range queries {
		if ctx.Err() != nil {
			return
		}
		if !due(q, now) {
			s.log.Debug("query not due",
				logx.Int64("query_id", q.ID), logx.Int("interval_min", q.IntervalMinutes))
			continue
		}
		s.runQuery(ctx, q, now)
	}
}

func due(q catalog.Query, now time.Time) bool {
	if q.LastRun == nil {
		return true
	}
	return now.Sub(*q.LastRun) >= time.Duration(q.IntervalMinutes)*time.Minute
}

// runQuery performs one full cycle: fetch, reconcile, dispatch, audit.
//
// Partial fetches still reconcile, so items seen before a mid-pagination
// failure are not lost. last_run advances only on success, which makes a
// failed query due again on the next tick. The audit record is enqueued
// after dispatch so the initial-run check cannot observe its own record.
func (s *Service) runQuery(ctx context.Context, q catalog.Query, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("query run panicked",
				logx.Int64("query_id", q.ID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()

	runID := uuid.NewString()
	log := s.log.With(logx.Int64("query_id", q.ID), logx.String("run_id", runID))
	log.Info("query run started")
	start := time.Now()

	src := s.sources.For(q.QueryText)
	if src == nil {
		log.Error("no source registered for query", logx.String("url", q.QueryText))
		return
	}

	res, fetchErr := src.FetchAll(ctx, q.QueryText)
	metrics.RecordItemsSeen(len(res.Items))

	var (
		newCount, changedCount int
		events                 []catalog.Event
		procErr                error
	)
	if len(res.Items) > 0 {
		newCount, changedCount, events, procErr = s.store.ProcessItems(ctx, q.ID, res.Items)
	}
	for _, ev := range events {
		metrics.RecordEvent(ev.Kind.String())
	}

	success := res.Success && fetchErr == nil && procErr == nil

	rec := catalog.Execution{
		QueryID:      q.ID,
		RunID:        runID,
		APIURL:       res.APIURL,
		Success:      success,
		TotalItems:   len(res.Items),
		NewCount:     newCount,
		ChangedCount: changedCount,
		StatusCode:   res.StatusCode,
		Duration:     time.Since(start),
		ExecutedAt:   now,
	}
	switch {
	case fetchErr != nil:
		rec.Error = fetchErr.Error()
	case procErr != nil:
		log.Error("catalog reconcile failed", logx.Err(procErr))
		rec.Error = procErr.Error()
	}

	if success {
		if err := s.store.UpdateLastRun(ctx, q.ID, now); err != nil {
			log.Error("last_run update failed", logx.Err(err))
		}
		initial, err := s.store.IsInitialExecution(ctx, q.ID)
		if err != nil {
			log.Warn("initial-run check failed", logx.Err(err))
		}
		if err := s.disp.DispatchRun(ctx, runID, q.ID, initial, newCount, events); err != nil {
			log.Error("notification dispatch failed", logx.Err(err))
		}
	}

	s.audit.Enqueue(rec)

	outcome := "failed"
	if success {
		outcome = "success"
	}
	metrics.RecordRun(outcome, time.Since(start))
	log.Info("query run finished",
		logx.Bool("success", success),
		logx.Int("items", len(res.Items)),
		logx.Int("new", newCount),
		logx.Int("changed", changedCount),
		logx.Int("pages", res.Pages),
		logx.Duration("took", time.Since(start)),
	)
}
