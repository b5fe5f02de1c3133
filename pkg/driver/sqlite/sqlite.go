// Package sqlite adapts mattn/go-sqlite3's raw driver to the pool's
// connection capability interface. It deliberately bypasses database/sql,
// whose built-in pooling would fight the pool this module provides.
package sqlite

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	sqldriver "database/sql/driver"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/sandboxrunner/dbpool/pkg/driver"
)

var sqliteDriver = &sqlite3.SQLiteDriver{}

// Connector opens connections to a single SQLite database. Safe for
// concurrent use.
type Connector struct {
	dsn string
}

// NewConnector validates dsn and returns a connector for it. The DSN is a
// file path or ":memory:", optionally followed by ?key=value parameters as
// accepted by mattn/go-sqlite3.
func NewConnector(dsn string) (*Connector, error) {
	if dsn == "" {
		return nil, driver.NewConnectError(driver.ConnectParseOptions,
			fmt.Errorf("empty data source name"))
	}
	if pos := strings.IndexRune(dsn, '?'); pos >= 0 {
		if _, err := url.ParseQuery(dsn[pos+1:]); err != nil {
			return nil, driver.NewConnectError(driver.ConnectParseOptions,
				fmt.Errorf("invalid DSN parameters: %w", err))
		}
	}
	return &Connector{dsn: dsn}, nil
}

// DSN returns the data source name this connector opens.
func (c *Connector) DSN() string {
	return c.dsn
}

// Connect opens one new SQLite connection. The open itself is synchronous in
// the underlying driver, so it runs in a goroutine and is abandoned (and the
// late connection closed) if ctx expires first.
func (c *Connector) Connect(ctx context.Context) (driver.Conn, error) {
	type result struct {
		conn sqldriver.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := sqliteDriver.Open(c.dsn)
		ch <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, driver.NewConnectError(driver.ConnectTimeout, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, driver.NewConnectError(driver.ConnectOther, r.err)
		}
		raw, ok := r.conn.(*sqlite3.SQLiteConn)
		if !ok {
			r.conn.Close()
			return nil, driver.NewConnectError(driver.ConnectOther,
				fmt.Errorf("unexpected connection type %T", r.conn))
		}
		return &Conn{raw: raw}, nil
	}
}

// Conn is one live SQLite connection.
type Conn struct {
	raw *sqlite3.SQLiteConn
}

// Raw exposes the underlying sqlite3 connection for query execution.
func (c *Conn) Raw() *sqlite3.SQLiteConn {
	return c.raw
}

// Ping verifies the connection is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	return c.raw.Ping(ctx)
}

// Close tears down the connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Describe prepares query and returns its statement metadata. SQLite reports
// only a bind parameter count, never parameter types, and no nullability.
// Column names and declared types are available without stepping the
// statement, but only for statements without bind parameters.
func (c *Conn) Describe(query string) (*driver.StatementInfo, error) {
	stmt, err := c.raw.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("describe: %w", err)
	}
	defer stmt.Close()

	numInput := stmt.NumInput()

	var columns []driver.Column
	if numInput == 0 {
		rows, err := stmt.Query(nil)
		if err == nil {
			if sr, ok := rows.(*sqlite3.SQLiteRows); ok {
				names := sr.Columns()
				decls := sr.DeclTypes()
				for i, name := range names {
					col := column{name: name}
					if i < len(decls) {
						col.declType = decls[i]
					}
					columns = append(columns, col)
				}
			}
			rows.Close()
		}
	}

	si := driver.NewStatementInfo(columns, nil)
	si.SetParameterCount(numInput)
	return si, nil
}

// column implements driver.Column for SQLite result columns.
type column struct {
	name     string
	declType string
}

func (c column) Name() string {
	return c.name
}

func (c column) TypeInfo() driver.TypeInfo {
	if c.declType == "" {
		return nil
	}
	return typeInfo{name: c.declType}
}

// typeInfo implements driver.TypeInfo over a declared SQLite type name.
type typeInfo struct {
	name string
}

func (t typeInfo) Name() string {
	return t.name
}
