package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/base64"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"

	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/metrics"
)

type Options struct {
	Size            int
	AcquireTimeout  time.Duration
	ConnMaxLifetime time.Duration
	Metrics         *metrics.Metrics
}

// MySQLPool is a Pool over database/sql. The pool bound is MaxOpenConns:
// connections are dialed lazily up to it and reused afterwards.
type MySQLPool struct {
	db      *sqlx.DB
	opts    Options
	closed  atomic.Bool
	metrics *metrics.Metrics
}

// NewMySQLPool opens (but does not dial) a pool for dsn.
func NewMySQLPool(dsn string, opts Options) (*MySQLPool, error) {
	if opts.Size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", opts.Size)
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 5 * time.Second
	}
	if opts.ConnMaxLifetime <= 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	return newMySQLPool(db, opts), nil
}

func newMySQLPool(db *sqlx.DB, opts Options) *MySQLPool {
	db.SetMaxOpenConns(opts.Size)
	db.SetMaxIdleConns(opts.Size)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	return &MySQLPool{db: db, opts: opts, metrics: opts.Metrics}
}

func (p *MySQLPool) Acquire(ctx context.Context) (Conn, error) {
	if p.closed.Load() {
		return nil, ErrClosed
	}

	actx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	c, err := p.db.Connx(actx)
	if err == nil {
		p.metrics.RecordPoolAcquire("ok")
		return &sqlConn{conn: c}, nil
	}

	switch {
	case ctx.Err() != nil:
		p.metrics.RecordPoolAcquire("canceled")
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) && p.db.Stats().InUse >= p.opts.Size:
		p.metrics.RecordPoolAcquire("exhausted")
		return nil, fmt.Errorf("%w: no connection available within %s", ErrPoolExhausted, p.opts.AcquireTimeout)
	default:
		p.metrics.RecordPoolAcquire("failure")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailure, err)
	}
}

func (p *MySQLPool) Release(conn Conn, err error) {
	sc, ok := conn.(*sqlConn)
	if !ok || sc == nil || !sc.released.CompareAndSwap(false, true) {
		return
	}

	if IsTransportError(err) {
		// Returning ErrBadConn from Raw makes database/sql discard the connection.
		_ = sc.conn.Raw(func(any) error { return driver.ErrBadConn })
		logger.Warn("Dropped broken connection", map[string]interface{}{"error": err.Error()})
	}

	if cerr := sc.conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
		logger.Warn("Failed to return connection to pool", map[string]interface{}{"error": cerr.Error()})
	}
}

func (p *MySQLPool) Ping(ctx context.Context) error {
	return With(ctx, p, func(ctx context.Context, conn Conn) error {
		return conn.(*sqlConn).conn.PingContext(ctx)
	})
}

func (p *MySQLPool) Stats() sql.DBStats {
	return p.db.Stats()
}

// DB exposes the underlying handle for metrics registration.
func (p *MySQLPool) DB() *sql.DB {
	return p.db.DB
}

func (p *MySQLPool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

type sqlConn struct {
	conn     *sqlx.Conn
	released atomic.Bool
}

func (c *sqlConn) Query(ctx context.Context, limit int, query string, args ...any) (*ResultSet, error) {
	rows, err := c.conn.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("error getting columns: %w", err)
	}

	rs := &ResultSet{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		if limit > 0 && len(rs.Rows) >= limit {
			rs.Truncated = true
			break
		}

		values, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("error scanning row %d: %w", len(rs.Rows)+1, err)
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = textOrBase64(b)
			}
		}
		rs.Rows = append(rs.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return rs, nil
}

// textOrBase64 returns b as text, or base64 when it holds binary data that a
// JSON string would mangle.
func textOrBase64(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func (c *sqlConn) Select(ctx context.Context, dest any, query string, args ...any) error {
	return sqlx.SelectContext(ctx, c.conn, dest, query, args...)
}
