package pool

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	minReapInterval = 500 * time.Millisecond
	maxReapInterval = 30 * time.Second
)

// reapInterval derives the sweep period: half the tighter of the two age
// policies, clamped so sweeps are neither hot loops nor too coarse to honor
// short timeouts.
func (p *sharedPool) reapInterval() time.Duration {
	interval := maxReapInterval
	if p.opts.MaxLifetime > 0 && p.opts.MaxLifetime/2 < interval {
		interval = p.opts.MaxLifetime / 2
	}
	if p.opts.IdleTimeout > 0 && p.opts.IdleTimeout/2 < interval {
		interval = p.opts.IdleTimeout / 2
	}
	if interval < minReapInterval {
		interval = minReapInterval
	}
	return interval
}

// reapLoop runs for the lifetime of the pool: periodic eviction of expired
// idle connections followed by replenishment back up to MinSize. It performs
// one final sweep when the pool closes.
func (p *sharedPool) reapLoop() {
	defer close(p.reaperDone)

	interval := p.reapInterval()
	log.Debug().Dur("interval", interval).Msg("Connection reaper started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopReaper:
			p.sweep(time.Now())
			log.Debug().Msg("Connection reaper stopped")
			return
		case <-ticker.C:
			p.sweep(time.Now())
			p.replenish()
		}
	}
}

// sweep evicts idle connections past MaxLifetime or IdleTimeout. Checked-out
// connections are never touched; their age is re-checked at release time.
func (p *sharedPool) sweep(now time.Time) {
	var evicted []*poolConn

	p.mu.Lock()
	keep := p.idle[:0]
	for _, pc := range p.idle {
		switch {
		case p.closed:
			evicted = append(evicted, pc)
		case p.opts.MaxLifetime > 0 && now.Sub(pc.createdAt) >= p.opts.MaxLifetime:
			p.stats.reapedLifetime.Add(1)
			evicted = append(evicted, pc)
		case p.opts.IdleTimeout > 0 && now.Sub(pc.lastUsedAt) >= p.opts.IdleTimeout:
			p.stats.reapedIdle.Add(1)
			evicted = append(evicted, pc)
		default:
			keep = append(keep, pc)
		}
	}
	p.idle = keep
	for range evicted {
		p.freeSlotLocked()
	}
	p.mu.Unlock()

	for _, pc := range evicted {
		pc.raw.Close()
		p.stats.closedConns.Add(1)
		log.Debug().Str("conn_id", pc.id).Msg("Reaped idle connection")
	}
}

// replenish opens connections until the pool is back at MinSize. Failures are
// retried with exponential backoff within one sweep interval, logged, and
// never fatal: the pool is allowed to run under MinSize until the database
// becomes reachable again.
func (p *sharedPool) replenish() {
	for {
		p.mu.Lock()
		if p.closed || p.numOpen >= p.opts.MinSize {
			p.mu.Unlock()
			return
		}
		p.numOpen++
		p.constructing++
		p.mu.Unlock()

		pc, err := p.openWithBackoff()
		if err != nil {
			if !errors.Is(err, ErrPoolClosed) {
				p.releasePermit()
				log.Warn().Err(err).Msg("Pool replenish failed; will retry on next sweep")
			}
			return
		}

		p.mu.Lock()
		if p.closed {
			p.numOpen--
			p.maybeDrainLocked()
			p.mu.Unlock()
			pc.raw.Close()
			p.stats.closedConns.Add(1)
			return
		}
		p.handOffOrIdleLocked(pc)
		p.mu.Unlock()
	}
}

// openWithBackoff performs connect attempts for the reaper, spaced by
// exponential backoff and bounded to one sweep interval per round. The caller
// holds a construction permit; an ErrPoolClosed return means register already
// consumed it.
func (p *sharedPool) openWithBackoff() (*poolConn, error) {
	var pc *poolConn

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = p.reapInterval()

	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.ConnectTimeout)
		defer cancel()

		c, err := p.connector.Connect(ctx)
		if err != nil {
			return err
		}
		got, err := p.register(c)
		if err != nil {
			return backoff.Permanent(err)
		}
		pc = got
		return nil
	}, bo)
	if err != nil {
		return nil, err
	}
	return pc, nil
}
