package pool

import "sync/atomic"

// poolStats holds the cumulative counters updated on the hot paths.
type poolStats struct {
	acquires            atomic.Int64
	acquireTimeouts     atomic.Int64
	openedConns         atomic.Int64
	closedConns         atomic.Int64
	reapedIdle          atomic.Int64
	reapedLifetime      atomic.Int64
	healthCheckFailures atomic.Int64
}

// Stat is a point-in-time snapshot of pool state and cumulative counters.
type Stat struct {
	MaxSize           int `json:"max_size"`
	MinSize           int `json:"min_size"`
	TotalConns        int `json:"total_conns"`
	IdleConns         int `json:"idle_conns"`
	CheckedOutConns   int `json:"checked_out_conns"`
	ConstructingConns int `json:"constructing_conns"`
	WaitingAcquires   int `json:"waiting_acquires"`

	Acquires            int64 `json:"acquires"`
	AcquireTimeouts     int64 `json:"acquire_timeouts"`
	OpenedConns         int64 `json:"opened_conns"`
	ClosedConns         int64 `json:"closed_conns"`
	ReapedIdle          int64 `json:"reaped_idle"`
	ReapedLifetime      int64 `json:"reaped_lifetime"`
	HealthCheckFailures int64 `json:"health_check_failures"`
}

// Stat returns a consistent snapshot of the pool.
func (p *Pool) Stat() Stat {
	sp := p.inner

	sp.mu.Lock()
	s := Stat{
		MaxSize:           sp.opts.MaxSize,
		MinSize:           sp.opts.MinSize,
		TotalConns:        sp.numOpen,
		IdleConns:         len(sp.idle),
		CheckedOutConns:   sp.numOpen - len(sp.idle) - sp.constructing,
		ConstructingConns: sp.constructing,
		WaitingAcquires:   len(sp.waiters),
	}
	sp.mu.Unlock()

	s.Acquires = sp.stats.acquires.Load()
	s.AcquireTimeouts = sp.stats.acquireTimeouts.Load()
	s.OpenedConns = sp.stats.openedConns.Load()
	s.ClosedConns = sp.stats.closedConns.Load()
	s.ReapedIdle = sp.stats.reapedIdle.Load()
	s.ReapedLifetime = sp.stats.reapedLifetime.Load()
	s.HealthCheckFailures = sp.stats.healthCheckFailures.Load()
	return s
}
