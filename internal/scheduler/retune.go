package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/storage"
)

const (
	maxIntervalMinutes    = 720
	minIntervalMinutes    = 15
	activeChangeThreshold = 5
)

// RetuneConfig controls the adaptive interval maintenance job.
type RetuneConfig struct {
	Schedule string         // cron spec, default hourly
	Window   time.Duration  // activity lookback, default 24h
	Location *time.Location // cron timezone, default local
}

func (c RetuneConfig) withDefaults() RetuneConfig {
	if c.Schedule == "" {
		c.Schedule = "0 * * * *"
	}
	if c.Window <= 0 {
		c.Window = 24 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// Retune periodically widens the interval of queries whose prices never move
// and tightens the interval of queries that keep changing, so polling effort
// follows where the action is.
type Retune struct {
	cfg   RetuneConfig
	store *storage.Store
	log   logx.Logger

	mu sync.Mutex
	c  *cron.Cron
}

func NewRetune(cfg RetuneConfig, store *storage.Store, log logx.Logger) *Retune {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retune{
		cfg:   cfg.withDefaults(),
		store: store,
		log:   log.With(logx.String("component", "retune")),
	}
}

// Start registers the cron job. Idempotent.
func (r *Retune) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(r.cfg.Location))
	if _, err := c.AddFunc(r.cfg.Schedule, func() { r.Apply(ctx, time.Now()) }); err != nil {
		return fmt.Errorf("retune schedule %q: %w", r.cfg.Schedule, err)
	}
	c.Start()
	r.c = c
	r.log.Info("retune scheduled",
		logx.String("schedule", r.cfg.Schedule), logx.Duration("window", r.cfg.Window))
	return nil
}

// Stop halts triggering and waits for an in-flight job, bounded by ctx.
func (r *Retune) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}

// Apply retunes all non-paused queries once, judging each by its activity
// since now−window.
func (r *Retune) Apply(ctx context.Context, now time.Time) {
	stats, err := r.store.TuningStats(ctx, now.Add(-r.cfg.Window))
	if err != nil {
		r.log.Error("tuning stats unavailable", logx.Err(err))
		return
	}
	for _, st := range stats {
		target := retarget(st)
		if target == st.IntervalMinutes {
			continue
		}
		if err := r.store.SetQueryInterval(ctx, st.QueryID, target); err != nil {
			r.log.Error("interval update failed",
				logx.Int64("query_id", st.QueryID), logx.Err(err))
			continue
		}
		r.log.Info("query interval retuned",
			logx.Int64("query_id", st.QueryID),
			logx.Int("from_min", st.IntervalMinutes),
			logx.Int("to_min", target),
			logx.Int("items", st.ItemCount),
			logx.Int("price_changes", st.PriceChanges),
		)
	}
}

// retarget decides a query's next interval. Queries with items but no recent
// price changes slow down; queries changing faster than the threshold speed
// up. Everything else keeps its interval.
func retarget(st storage.TuningStat) int {
	switch {
	case st.PriceChanges == 0 && st.ItemCount > 0:
		widened := int(float64(st.IntervalMinutes) * 1.5)
		if widened > maxIntervalMinutes {
			widened = maxIntervalMinutes
		}
		return widened
	case st.PriceChanges > activeChangeThreshold:
		tightened := int(float64(st.IntervalMinutes) * 0.75)
		if tightened < minIntervalMinutes {
			tightened = minIntervalMinutes
		}
		return tightened
	}
	return st.IntervalMinutes
}
