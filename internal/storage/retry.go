package storage

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	logx "prijswacht/pkg/logx"
)

// Per-call-site attempt ceilings. Losing a notification is costlier than a
// slow write, so notification saves try much harder than ordinary reads.
const (
	readAttempts         = 3
	writeAttempts        = 3
	executionAttempts    = 5
	notificationAttempts = 15
)

const (
	retryBase     = 200 * time.Millisecond
	retryMaxDelay = 15 * time.Second
	retryJitter   = 200 * time.Millisecond
)

// isBusy reports whether err is SQLite signaling transient contention.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "SQLITE_LOCKED") {
		return true
	}
	low := strings.ToLower(msg)
	return strings.Contains(low, "database is locked") || strings.Contains(low, "database table is locked")
}

// withRetry runs fn, retrying only on busy/locked contention with
// base*2^attempt + jitter delays (capped). Non-transient errors propagate
// immediately.
func withRetry(ctx context.Context, log logx.Logger, op string, attempts int, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := retryBase << attempt
		if delay <= 0 || delay > retryMaxDelay {
			delay = retryMaxDelay
		}
		delay += time.Duration(rand.Int63n(int64(retryJitter)))

		if !log.IsZero() {
			log.Warn("storage contention; retrying",
				logx.String("op", op),
				logx.Int("attempt", attempt+1),
				logx.Int("attempts", attempts),
				logx.Duration("delay", delay),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: contention persisted after %d attempts: %w", op, attempts, err)
}
