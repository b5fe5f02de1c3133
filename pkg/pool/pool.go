// Package pool implements a bounded, health-checked connection pool shared by
// many concurrent callers. Connections are produced by a driver.Connector,
// handed out as consumable guards, and retired by a background reaper that
// enforces lifetime and idle-timeout policies.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sandboxrunner/dbpool/pkg/driver"
)

// connectRetryDelay spaces out repeated open attempts inside one Acquire.
const connectRetryDelay = 100 * time.Millisecond

// Pool is a cheap, copyable handle to a shared connection pool. All copies
// refer to the same underlying pool.
type Pool struct {
	inner *sharedPool
}

// waiter is one pending acquire, resolved exactly once through its buffered
// grant channel.
type waiter struct {
	enqueuedAt time.Time
	ch         chan grant
}

// grant is the single resolution of a waiter: a direct connection hand-off, a
// permission to open a new connection (the granter has already transferred a
// live-connection slot to the waiter), or a terminal error. Exactly one field
// is meaningful.
type grant struct {
	pc     *poolConn
	permit bool
	err    error
}

// sharedPool is the composition root: configuration, idle registry, size
// tracking, and the waiter queue. All mutable state is guarded by mu, and no
// I/O ever happens while holding it.
type sharedPool struct {
	opts      Options
	connector driver.Connector

	mu           sync.Mutex
	idle         []*poolConn
	waiters      []*waiter
	numOpen      int // idle + checked out + constructing; never exceeds opts.MaxSize
	constructing int
	closed       bool

	drained    chan struct{} // closed once the pool is closed and nothing is checked out
	stopReaper chan struct{}
	reaperDone chan struct{}

	stats poolStats
}

// Build validates the options, opens MinSize connections (the whole warm-up
// shares one ConnectTimeout budget), starts the reaper, and returns the pool
// handle. Any warm-up failure tears down every connection opened so far and
// fails the build.
func (b Builder) Build(ctx context.Context, connector driver.Connector) (*Pool, error) {
	if connector == nil {
		return nil, &ConfigError{Option: "connector", Reason: "is required"}
	}
	if err := b.opts.validate(); err != nil {
		return nil, err
	}

	p := &sharedPool{
		opts:       b.opts,
		connector:  connector,
		drained:    make(chan struct{}),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}

	if b.opts.MinSize > 0 {
		if err := p.warmUp(ctx); err != nil {
			return nil, err
		}
	}

	go p.reapLoop()

	log.Info().
		Int("max_size", b.opts.MaxSize).
		Int("min_size", b.opts.MinSize).
		Dur("connect_timeout", b.opts.ConnectTimeout).
		Bool("test_on_acquire", b.opts.TestOnAcquire).
		Bool("fair", b.opts.Fair).
		Msg("Connection pool initialized")

	return &Pool{inner: p}, nil
}

// warmUp opens MinSize connections before the pool is handed to callers.
func (p *sharedPool) warmUp(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	opened := make([]*poolConn, 0, p.opts.MinSize)
	for i := 0; i < p.opts.MinSize; i++ {
		p.mu.Lock()
		p.numOpen++
		p.constructing++
		p.mu.Unlock()

		pc, err := p.open(wctx)
		if err != nil {
			p.releasePermit()
			p.mu.Lock()
			p.closed = true
			p.numOpen -= len(opened)
			p.mu.Unlock()
			for _, pc := range opened {
				pc.raw.Close()
			}
			return fmt.Errorf("dbpool: warm-up failed after %d of %d connections: %w",
				len(opened), p.opts.MinSize, err)
		}
		opened = append(opened, pc)
	}

	p.mu.Lock()
	p.idle = append(p.idle, opened...)
	p.mu.Unlock()
	return nil
}

// Acquire returns a checked-out connection or a terminal error. It is bounded
// by the earlier of the caller's ctx deadline and ConnectTimeout. Transient
// failures (dead idle connections, failed opens) are retried internally until
// the deadline.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	return p.inner.acquire(ctx)
}

func (p *sharedPool) acquire(ctx context.Context) (*Conn, error) {
	p.stats.acquires.Add(1)

	ctx, cancel := context.WithTimeout(ctx, p.opts.ConnectTimeout)
	defer cancel()

	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			p.stats.acquireTimeouts.Add(1)
			return nil, acquireErr(ctx, lastErr)
		}

		pc, permit, w, err := p.plan()
		if err != nil {
			return nil, err
		}

		if w != nil {
			select {
			case g := <-w.ch:
				switch {
				case g.err != nil:
					return nil, g.err
				case g.pc != nil:
					pc = g.pc
				default:
					permit = true
				}
			case <-ctx.Done():
				p.cancelWaiter(w)
				p.stats.acquireTimeouts.Add(1)
				return nil, acquireErr(ctx, lastErr)
			}
		}

		if permit {
			pc, err = p.open(ctx)
			if err != nil {
				// register already consumed the permit on a closed pool.
				if err == ErrPoolClosed {
					return nil, err
				}
				p.releasePermit()
				p.stats.acquireTimeouts.Add(1)
				return nil, acquireErr(ctx, err)
			}
			return &Conn{pool: p, pc: pc}, nil
		}

		if p.opts.TestOnAcquire {
			if err := pc.raw.Ping(ctx); err != nil {
				p.stats.healthCheckFailures.Add(1)
				log.Debug().
					Str("conn_id", pc.id).
					Err(err).
					Msg("Health check failed on acquire; discarding connection")
				p.discard(pc, "ping_failed")
				lastErr = err
				continue
			}
		}
		return &Conn{pool: p, pc: pc}, nil
	}
}

// plan runs one pass of the acquire algorithm under the lock. It yields
// exactly one of: an idle connection, a construction permit, or an enqueued
// waiter. In fair mode a newcomer never jumps queued waiters, even when an
// idle connection is available.
func (p *sharedPool) plan() (pc *poolConn, permit bool, w *waiter, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, false, nil, ErrPoolClosed
	}

	if !(p.opts.Fair && len(p.waiters) > 0) {
		if pc := p.popIdleLocked(); pc != nil {
			return pc, false, nil, nil
		}
		if p.numOpen < p.opts.MaxSize {
			p.numOpen++
			p.constructing++
			return nil, true, nil, nil
		}
	}

	w = &waiter{enqueuedAt: time.Now(), ch: make(chan grant, 1)}
	p.waiters = append(p.waiters, w)
	return nil, false, w, nil
}

// open turns a construction permit into a live connection, retrying transient
// connect failures until ctx expires. On error the caller still holds the
// permit and must release it.
func (p *sharedPool) open(ctx context.Context) (*poolConn, error) {
	var lastErr error
	for {
		c, err := p.connector.Connect(ctx)
		if err == nil {
			return p.register(c)
		}
		lastErr = err
		log.Debug().Err(err).Msg("Connection open failed")
		if ctx.Err() != nil {
			return nil, lastErr
		}
		timer := time.NewTimer(connectRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, lastErr
		case <-timer.C:
		}
	}
}

// register turns a freshly opened raw connection into a pool member,
// consuming the construction permit held by the caller. A pool that closed
// mid-open rejects the connection; the permit is fully accounted for either
// way.
func (p *sharedPool) register(c driver.Conn) (*poolConn, error) {
	now := time.Now()
	pc := &poolConn{
		id:         uuid.NewString(),
		raw:        c,
		createdAt:  now,
		lastUsedAt: now,
	}

	p.mu.Lock()
	p.constructing--
	if p.closed {
		p.numOpen--
		p.maybeDrainLocked()
		p.mu.Unlock()
		c.Close()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	p.stats.openedConns.Add(1)
	log.Debug().Str("conn_id", pc.id).Msg("Opened new connection")
	return pc, nil
}

// release implements the return protocol. It never blocks the caller: a
// closed pool, a broken connection, or an exceeded lifetime closes the
// connection and frees its slot; otherwise the connection is handed to the
// longest-waiting acquirer or re-idled.
func (p *sharedPool) release(pc *poolConn, errFlag error) {
	now := time.Now()

	p.mu.Lock()
	expired := p.opts.MaxLifetime > 0 && now.Sub(pc.createdAt) >= p.opts.MaxLifetime
	if p.closed || errFlag != nil || expired {
		p.mu.Unlock()
		reason := "pool_closed"
		switch {
		case errFlag != nil:
			reason = "broken"
		case expired:
			reason = "max_lifetime"
		}
		p.discard(pc, reason)
		return
	}

	pc.lastUsedAt = now
	p.handOffOrIdleLocked(pc)
	p.mu.Unlock()
}

// discard closes a connection that is leaving the pool and frees its slot.
func (p *sharedPool) discard(pc *poolConn, reason string) {
	pc.raw.Close()
	p.stats.closedConns.Add(1)

	p.mu.Lock()
	p.freeSlotLocked()
	p.mu.Unlock()

	log.Debug().Str("conn_id", pc.id).Str("reason", reason).Msg("Closed connection")
}

// releasePermit gives back an unused construction permit.
func (p *sharedPool) releasePermit() {
	p.mu.Lock()
	p.constructing--
	p.freeSlotLocked()
	p.mu.Unlock()
}

// freeSlotLocked releases one live-connection slot. If a waiter is queued the
// slot transfers to it as a construction permit instead of shrinking the
// pool, so a release or eviction immediately unblocks waiting demand.
func (p *sharedPool) freeSlotLocked() {
	if !p.closed {
		if w := p.popWaiterLocked(); w != nil {
			p.constructing++
			w.ch <- grant{permit: true}
			return
		}
	}
	p.numOpen--
	p.maybeDrainLocked()
}

// handOffOrIdleLocked gives pc to a queued waiter when one exists, otherwise
// returns it to the idle registry. Waiters get first right to the connection
// before it becomes visible to future acquires.
func (p *sharedPool) handOffOrIdleLocked(pc *poolConn) {
	if w := p.popWaiterLocked(); w != nil {
		w.ch <- grant{pc: pc}
		return
	}
	p.idle = append(p.idle, pc)
}

// popWaiterLocked removes the next waiter to resolve: the head of the queue
// in fair mode, the most recent arrival otherwise.
func (p *sharedPool) popWaiterLocked() *waiter {
	n := len(p.waiters)
	if n == 0 {
		return nil
	}
	if p.opts.Fair {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		return w
	}
	w := p.waiters[n-1]
	p.waiters = p.waiters[:n-1]
	return w
}

// popIdleLocked withdraws an idle connection: oldest-idled first in fair
// mode, most-recently-idled first otherwise.
func (p *sharedPool) popIdleLocked() *poolConn {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	if p.opts.Fair {
		pc := p.idle[0]
		p.idle = p.idle[1:]
		return pc
	}
	pc := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return pc
}

// cancelWaiter removes an expired waiter from the queue. A grant that raced
// in ahead of the cancellation is routed back through the release protocol so
// neither a connection nor a permit leaks.
func (p *sharedPool) cancelWaiter(w *waiter) {
	p.mu.Lock()
	for i, q := range p.waiters {
		if q == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not in the queue: the grant was already sent (always under the lock,
	// into a buffered channel), so this receive cannot block.
	g := <-w.ch
	switch {
	case g.pc != nil:
		p.release(g.pc, nil)
	case g.permit:
		p.releasePermit()
	}
}

func (p *sharedPool) maybeDrainLocked() {
	if p.closed && p.numOpen-len(p.idle)-p.constructing == 0 {
		select {
		case <-p.drained:
		default:
			close(p.drained)
		}
	}
}

// Close shuts the pool down. It is idempotent: the first call sets the
// monotonic closed flag, fails every queued waiter, closes all idle
// connections, and signals the reaper to stop after a final sweep.
// Checked-out connections are not force-closed; each is closed when its guard
// is released.
func (p *Pool) Close() {
	p.inner.close()
}

func (p *sharedPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	p.numOpen -= len(idle)

	for _, w := range waiters {
		w.ch <- grant{err: ErrPoolClosed}
	}
	p.maybeDrainLocked()
	p.mu.Unlock()

	for _, pc := range idle {
		pc.raw.Close()
		p.stats.closedConns.Add(1)
	}
	close(p.stopReaper)

	log.Info().
		Int("closed_idle", len(idle)).
		Int("failed_waiters", len(waiters)).
		Msg("Connection pool closed")
}

// CloseAndWait closes the pool and blocks until every checked-out connection
// has been released and the reaper has finished its final sweep, or ctx is
// done.
func (p *Pool) CloseAndWait(ctx context.Context) error {
	p.inner.close()
	select {
	case <-p.inner.reaperDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-p.inner.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Options returns the pool's immutable configuration.
func (p *Pool) Options() Options {
	return p.inner.opts
}
