// Package pooltest provides an in-memory pool.Pool for tests.
package pooltest

import (
	"context"
	"strings"
	"sync"

	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
)

// QueryFunc answers a statement sent to a fake connection.
type QueryFunc func(ctx context.Context, query string) (*pool.ResultSet, error)

// Pool counts acquisitions and releases. AcquireErrs are returned, in order,
// by the first Acquire calls.
type Pool struct {
	mu          sync.Mutex
	Handler     QueryFunc
	AcquireErrs []error

	acquires    int
	releases    int
	releaseErrs []error
	outstanding map[*Conn]bool
}

func New(handler QueryFunc) *Pool {
	return &Pool{Handler: handler, outstanding: make(map[*Conn]bool)}
}

// Table answers every query with the given columns and rows.
func Table(columns []string, rows ...[]any) QueryFunc {
	return func(ctx context.Context, query string) (*pool.ResultSet, error) {
		return &pool.ResultSet{Columns: columns, Rows: rows}, nil
	}
}

func (p *Pool) Acquire(ctx context.Context) (pool.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.AcquireErrs) > 0 {
		err := p.AcquireErrs[0]
		p.AcquireErrs = p.AcquireErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	p.acquires++
	c := &Conn{pool: p}
	p.outstanding[c] = true
	return c, nil
}

func (p *Pool) Release(conn pool.Conn, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := conn.(*Conn)
	if !ok || !p.outstanding[c] {
		panic("pooltest: release of a connection that is not checked out")
	}
	delete(p.outstanding, c)
	p.releases++
	p.releaseErrs = append(p.releaseErrs, err)
}

// Counts returns successful acquisitions and releases so far.
func (p *Pool) Counts() (acquires, releases int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acquires, p.releases
}

// ReleaseErrs returns the error passed to each Release, in call order.
func (p *Pool) ReleaseErrs() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.releaseErrs...)
}

// Conn is the fake connection; every query is handed to Pool.Handler.
type Conn struct {
	pool *Pool
}

func (c *Conn) Query(ctx context.Context, limit int, query string, args ...any) (*pool.ResultSet, error) {
	rs, err := c.pool.Handler(ctx, strings.TrimSpace(query))
	if err != nil || rs == nil {
		return rs, err
	}
	if limit > 0 && len(rs.Rows) > limit {
		return &pool.ResultSet{Columns: rs.Columns, Rows: rs.Rows[:limit], Truncated: true}, nil
	}
	return rs, nil
}

func (c *Conn) Select(ctx context.Context, dest any, query string, args ...any) error {
	panic("pooltest: Select is not supported by the fake connection")
}
