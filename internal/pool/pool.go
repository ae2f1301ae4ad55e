// Package pool owns the bounded set of database connections. Every caller
// acquires a connection for the duration of one call and releases it on all
// exit paths; With enforces that pairing.
package pool

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"

	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
)

var (
	ErrPoolExhausted     = errors.New("connection pool exhausted")
	ErrConnectionFailure = errors.New("database connection failure")
	ErrClosed            = errors.New("connection pool closed")
)

// Conn is a connection checked out of a Pool.
type Conn interface {
	// Query runs a statement and materializes at most limit rows (limit <= 0: no limit).
	Query(ctx context.Context, limit int, query string, args ...any) (*ResultSet, error)
	// Select scans all rows into dest, a pointer to a slice (sqlx semantics).
	Select(ctx context.Context, dest any, query string, args ...any) error
}

// Pool hands out connections. Release must be called exactly once per
// successful Acquire; err is the outcome of the work done on the connection
// and decides whether the connection is reused.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
	Release(conn Conn, err error)
}

// ResultSet holds materialized rows in column order.
type ResultSet struct {
	Columns   []string
	Rows      [][]any
	Truncated bool
}

// IsTransportError reports whether err means the connection itself is broken.
func IsTransportError(err error) bool {
	// context errors satisfy net.Error but say nothing about the connection
	if err == nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrConnectionFailure) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryable(err error) bool {
	return errors.Is(err, ErrPoolExhausted) || IsTransportError(err)
}

// With acquires a connection, runs fn on it and releases it, whatever fn does,
// including panicking. Infrastructure faults (exhaustion, broken connections)
// are retried once; the statements run here are read-only so a re-run is safe.
func With(ctx context.Context, p Pool, fn func(ctx context.Context, conn Conn) error) error {
	err := withOnce(ctx, p, fn)
	if err == nil || !retryable(err) || ctx.Err() != nil {
		return err
	}

	logger.Warn("Retrying after pool fault", map[string]interface{}{"error": err.Error()})
	return withOnce(ctx, p, fn)
}

func withOnce(ctx context.Context, p Pool, fn func(ctx context.Context, conn Conn) error) (err error) {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected fault while using connection: %v", r)
		}
		p.Release(conn, err)
	}()

	return fn(ctx, conn)
}
