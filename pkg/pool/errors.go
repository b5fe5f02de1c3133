package pool

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by operations attempted after Close.
	ErrPoolClosed = errors.New("dbpool: pool is closed")

	// ErrAcquireTimeout is returned when an Acquire call exhausts its
	// deadline without obtaining a connection.
	ErrAcquireTimeout = errors.New("dbpool: timed out acquiring a connection")
)

// ConfigError reports an invalid option combination rejected at build time.
type ConfigError struct {
	Option string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dbpool: invalid configuration: %s %s", e.Option, e.Reason)
}

// acquireErr maps an exhausted acquire to its terminal error. Caller
// cancellation surfaces as context.Canceled; deadline expiry surfaces as
// ErrAcquireTimeout carrying the last transient failure, if any.
func acquireErr(ctx context.Context, lastErr error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if lastErr != nil {
		return fmt.Errorf("%w (last error: %v)", ErrAcquireTimeout, lastErr)
	}
	return ErrAcquireTimeout
}
