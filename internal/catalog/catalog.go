// Package catalog reads table and column metadata from information_schema.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

var ErrUnknownTable = errors.New("unknown table")

const listTablesQuery = `
	SELECT TABLE_NAME AS table_name
	FROM information_schema.tables
	WHERE table_schema = ? AND table_type = 'BASE TABLE'
	ORDER BY table_name`

const describeTableQuery = `
	SELECT
		COLUMN_NAME AS column_name,
		DATA_TYPE AS data_type
	FROM information_schema.columns
	WHERE table_schema = ? AND table_name = ?
	ORDER BY ordinal_position`

// Catalog introspects one configured database through the pool.
type Catalog struct {
	pool     pool.Pool
	database string
}

func New(p pool.Pool, database string) *Catalog {
	return &Catalog{pool: p, database: database}
}

func (c *Catalog) Database() string {
	return c.database
}

// ListTables returns the base tables of the configured database.
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := pool.With(ctx, c.pool, func(ctx context.Context, conn pool.Conn) error {
		return conn.Select(ctx, &tables, listTablesQuery, c.database)
	})
	logger.LogDatabaseOperation("LIST_TABLES", listTablesQuery, int64(len(tables)), err)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return tables, nil
}

// Describe returns the columns of table in declaration order.
// A table with no visible columns does not exist (or was dropped since it was listed).
func (c *Catalog) Describe(ctx context.Context, table string) ([]mcpdb.ColumnDescriptor, error) {
	var columns []mcpdb.ColumnDescriptor
	err := pool.With(ctx, c.pool, func(ctx context.Context, conn pool.Conn) error {
		return conn.Select(ctx, &columns, describeTableQuery, c.database, table)
	})
	logger.LogDatabaseOperation("DESCRIBE_TABLE", describeTableQuery, int64(len(columns)), err)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", table, err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return columns, nil
}
