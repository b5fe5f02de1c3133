package driver

import (
	"context"
	"errors"
	"fmt"
)

// Connector opens new connections to a single database. Implementations carry
// their own parsed connect options (address, credentials, DSN parameters) and
// must be safe for concurrent use; the pool calls Connect from multiple
// goroutines.
type Connector interface {
	// Connect opens one new connection. It must honor ctx cancellation and
	// deadline and return a ConnectError describing the failure.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is a single live database connection as seen by the pool.
//
// The pool guarantees that Ping and Close are never called concurrently with
// each other or with caller use of the connection.
type Conn interface {
	// Ping verifies the connection is still alive and usable.
	Ping(ctx context.Context) error

	// Close tears down the connection. The connection must not be used after
	// Close returns.
	Close() error
}

// ConnectErrorKind classifies connection establishment failures.
type ConnectErrorKind int

const (
	// ConnectOther is any failure not covered by a more specific kind.
	ConnectOther ConnectErrorKind = iota

	// ConnectTimeout means the connect attempt exceeded its deadline.
	ConnectTimeout

	// ConnectRefused means the server actively refused the connection.
	ConnectRefused

	// ConnectParseOptions means the connection string or options were malformed.
	ConnectParseOptions
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ConnectTimeout:
		return "timeout"
	case ConnectRefused:
		return "refused"
	case ConnectParseOptions:
		return "parse_options"
	default:
		return "other"
	}
}

// ConnectError wraps a failure to open a connection with its classification.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect (%s): %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// NewConnectError classifies err under kind.
func NewConnectError(kind ConnectErrorKind, err error) *ConnectError {
	return &ConnectError{Kind: kind, Err: err}
}

// ConnectKind extracts the classification from err, or ConnectOther if err is
// not a ConnectError.
func ConnectKind(err error) ConnectErrorKind {
	var ce *ConnectError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ConnectOther
}
