package pool

import (
	"time"
)

// Options configures a Pool. The zero value is not usable; start from
// DefaultOptions or a Builder.
type Options struct {
	// MaxSize caps the total number of live connections: idle, checked out,
	// and in-flight construction combined.
	MaxSize int `json:"max_size" yaml:"max_size"`

	// MinSize is the number of connections the pool maintains at all times.
	// They are opened during Build and replenished by the reaper after
	// evictions.
	MinSize int `json:"min_size" yaml:"min_size"`

	// ConnectTimeout bounds each Acquire call and the Build warm-up.
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`

	// MaxLifetime closes connections older than this, counted from open.
	// Zero disables lifetime-based eviction.
	MaxLifetime time.Duration `json:"max_lifetime" yaml:"max_lifetime"`

	// IdleTimeout closes connections idle for longer than this. Zero
	// disables idle-based eviction.
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`

	// TestOnAcquire pings every connection taken from the idle set before
	// handing it to the caller; dead connections are discarded and the
	// acquire transparently retried.
	TestOnAcquire bool `json:"test_on_acquire" yaml:"test_on_acquire"`

	// Fair makes Acquire first-come-first-served. When false, drive-by
	// acquirers may take idle connections ahead of queued waiters, which
	// lowers latency under light contention but has no starvation guarantee.
	Fair bool `json:"fair" yaml:"fair"`
}

// DefaultOptions returns the default pool configuration: at most 10
// connections, none opened eagerly, a 60 second acquire budget, connections
// retired after 30 minutes, no idle eviction, health checks on, fair ordering.
func DefaultOptions() Options {
	return Options{
		MaxSize:        10,
		MinSize:        0,
		ConnectTimeout: 60 * time.Second,
		MaxLifetime:    30 * time.Minute,
		IdleTimeout:    0,
		TestOnAcquire:  true,
		Fair:           true,
	}
}

func (o Options) validate() error {
	if o.MaxSize < 1 {
		return &ConfigError{Option: "max_size", Reason: "must be at least 1"}
	}
	if o.MinSize < 0 {
		return &ConfigError{Option: "min_size", Reason: "must not be negative"}
	}
	if o.MinSize > o.MaxSize {
		return &ConfigError{Option: "min_size", Reason: "must not exceed max_size"}
	}
	if o.ConnectTimeout <= 0 {
		return &ConfigError{Option: "connect_timeout", Reason: "must be positive"}
	}
	if o.MaxLifetime < 0 {
		return &ConfigError{Option: "max_lifetime", Reason: "must not be negative"}
	}
	if o.IdleTimeout < 0 {
		return &ConfigError{Option: "idle_timeout", Reason: "must not be negative"}
	}
	return nil
}

// Builder accumulates pool options through pure value transforms; every
// setter returns a modified copy. Build is the only effectful operation.
type Builder struct {
	opts Options
}

// NewBuilder returns a builder seeded with DefaultOptions.
func NewBuilder() Builder {
	return Builder{opts: DefaultOptions()}
}

// MaxSize sets the maximum number of live connections.
func (b Builder) MaxSize(n int) Builder {
	b.opts.MaxSize = n
	return b
}

// MinSize sets the number of connections to maintain at all times.
func (b Builder) MinSize(n int) Builder {
	b.opts.MinSize = n
	return b
}

// ConnectTimeout sets the acquire and warm-up budget.
func (b Builder) ConnectTimeout(d time.Duration) Builder {
	b.opts.ConnectTimeout = d
	return b
}

// MaxLifetime sets the maximum connection lifetime; zero disables it.
func (b Builder) MaxLifetime(d time.Duration) Builder {
	b.opts.MaxLifetime = d
	return b
}

// IdleTimeout sets the maximum idle duration; zero disables it.
func (b Builder) IdleTimeout(d time.Duration) Builder {
	b.opts.IdleTimeout = d
	return b
}

// TestOnAcquire toggles health checking of idle connections on acquire.
func (b Builder) TestOnAcquire(test bool) Builder {
	b.opts.TestOnAcquire = test
	return b
}

// Fair toggles strict first-come-first-served acquire ordering.
func (b Builder) Fair(fair bool) Builder {
	b.opts.Fair = fair
	return b
}

// Options returns the accumulated options value.
func (b Builder) Options() Options {
	return b.opts
}
