package pool

import (
	"context"
	"time"

	"github.com/sandboxrunner/dbpool/pkg/driver"
)

// poolConn owns one live connection together with the bookkeeping the pool
// needs for eviction decisions.
type poolConn struct {
	id         string
	raw        driver.Conn
	createdAt  time.Time
	lastUsedAt time.Time
}

// Conn is a checked-out connection. It holds exclusive access to the
// underlying driver connection until released. Release consumes the guard:
// after the first Release (or ReleaseErr) every method is a no-op and Raw
// returns nil, so a double release cannot corrupt pool state.
type Conn struct {
	pool *sharedPool
	pc   *poolConn
}

// Raw returns the underlying driver connection, or nil after release.
func (c *Conn) Raw() driver.Conn {
	if c.pc == nil {
		return nil
	}
	return c.pc.raw
}

// ID returns the pool-assigned identity of the underlying connection. The ID
// is stable for the connection's whole lifetime, across check-outs.
func (c *Conn) ID() string {
	if c.pc == nil {
		return ""
	}
	return c.pc.id
}

// CreatedAt returns when the underlying connection was opened.
func (c *Conn) CreatedAt() time.Time {
	if c.pc == nil {
		return time.Time{}
	}
	return c.pc.createdAt
}

// Ping forwards to the underlying connection.
func (c *Conn) Ping(ctx context.Context) error {
	if c.pc == nil {
		return ErrPoolClosed
	}
	return c.pc.raw.Ping(ctx)
}

// Release returns the connection to the pool. It never blocks.
func (c *Conn) Release() {
	c.ReleaseErr(nil)
}

// ReleaseErr returns the connection to the pool, reporting err as the reason
// the caller is done with it. A non-nil err marks the connection broken: it
// is closed and its slot freed instead of being re-idled. It never blocks.
func (c *Conn) ReleaseErr(err error) {
	if c.pc == nil {
		return
	}
	pc := c.pc
	c.pc = nil
	c.pool.release(pc, err)
}
