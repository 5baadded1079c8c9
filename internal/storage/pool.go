package storage

import (
	"context"
	"database/sql"
	"math/rand"
	"sync"
	"time"

	logx "prijswacht/pkg/logx"

	"prijswacht/internal/observability/metrics"
)

const (
	defaultMaxConnections = 5
	defaultWaitAttempts   = 20
	waitBase              = 100 * time.Millisecond
	waitStep              = 100 * time.Millisecond
	waitJitter            = 200 * time.Millisecond
)

// Pool hands out exclusive connections bounded by a fixed cap.
//
// database/sql keeps the AVAILABLE set (idle connections, shedding any excess
// on release); the pool adds the accounting that makes Acquire fail with
// ErrPoolExhausted after a bounded jittered wait instead of blocking
// indefinitely. The cap also guarantees db.Conn never blocks once a slot is
// reserved.
type Pool struct {
	db  *sql.DB
	log logx.Logger

	mu    sync.Mutex
	inUse int
	rng   *rand.Rand

	max          int
	waitAttempts int
}

func newPool(db *sql.DB, maxConns int, log logx.Logger) *Pool {
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Pool{
		db:           db,
		log:          log,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		max:          maxConns,
		waitAttempts: defaultWaitAttempts,
	}
}

// Acquire returns an exclusive connection or ErrPoolExhausted.
//
// When the cap is reached it waits in bounded jittered steps
// (base + step*attempt + random jitter), honoring ctx between steps.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.tryReserve() {
		return p.open(ctx)
	}

	for attempt := 1; attempt <= p.waitAttempts; attempt++ {
		wait := waitBase + waitStep*time.Duration(attempt) + p.jitter(waitJitter)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		if p.tryReserve() {
			return p.open(ctx)
		}
	}

	p.log.Error("connection pool exhausted", logx.Int("max", p.max), logx.Int("attempts", p.waitAttempts))
	return nil, ErrPoolExhausted
}

// Release returns the connection to the available set. Safe on nil.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Close()
	p.mu.Lock()
	if p.inUse > 0 {
		p.inUse--
	}
	metrics.SetDBConnectionsInUse(p.inUse)
	p.mu.Unlock()
}

// InUse reports how many connections are currently held.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Max reports the pool cap.
func (p *Pool) Max() int { return p.max }

func (p *Pool) tryReserve() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.max {
		return false
	}
	p.inUse++
	metrics.SetDBConnectionsInUse(p.inUse)
	return true
}

func (p *Pool) open(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		p.mu.Lock()
		if p.inUse > 0 {
			p.inUse--
		}
		metrics.SetDBConnectionsInUse(p.inUse)
		p.mu.Unlock()
		return nil, err
	}
	return conn, nil
}

func (p *Pool) jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rng.Int63n(int64(max)))
}
