// Package resources serves the browsing surface: one schema resource per
// base table of the configured database.
package resources

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/AbdelilahOu/mysqlmcp/internal/catalog"
	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/metrics"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

// Catalog is the metadata source consumed by the dispatcher.
type Catalog interface {
	ListTables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) ([]mcpdb.ColumnDescriptor, error)
}

type Options struct {
	// CacheTTL keeps the table enumeration for this long. Zero disables caching.
	CacheTTL time.Duration
	Metrics  *metrics.Metrics
}

type Dispatcher struct {
	ns      Namespace
	catalog Catalog
	opts    Options
	now     func() time.Time

	mu       sync.Mutex
	cached   []string
	cachedAt time.Time
}

func NewDispatcher(ns Namespace, c Catalog, opts Options) *Dispatcher {
	return &Dispatcher{ns: ns, catalog: c, opts: opts, now: time.Now}
}

func (d *Dispatcher) Namespace() Namespace {
	return d.ns
}

// ListResources enumerates the tables, sorted by name.
func (d *Dispatcher) ListResources(ctx context.Context) ([]mcpdb.ResourceDescriptor, error) {
	tables, _, err := d.tables(ctx, false)
	if err != nil {
		return nil, err
	}

	resources := make([]mcpdb.ResourceDescriptor, 0, len(tables))
	for _, table := range tables {
		resources = append(resources, d.ns.Descriptor(table))
	}
	return resources, nil
}

// ReadResource returns the column list of the table addressed by uri.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (res mcpdb.ResourceContents, err error) {
	defer func() { d.opts.Metrics.RecordResourceRead(err != nil) }()

	table, err := d.ns.Parse(uri)
	if err != nil {
		return mcpdb.ResourceContents{}, err
	}

	if err := d.checkTable(ctx, table); err != nil {
		return mcpdb.ResourceContents{}, err
	}

	columns, err := d.catalog.Describe(ctx, table)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownTable) {
			d.invalidate()
		}
		return mcpdb.ResourceContents{}, err
	}

	text, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return mcpdb.ResourceContents{}, fmt.Errorf("marshal schema: %w", err)
	}

	return mcpdb.ResourceContents{
		Contents: []mcpdb.ResourceContent{{
			URI:      uri,
			MimeType: mcpdb.MimeTypeJSON,
			Text:     string(text),
		}},
	}, nil
}

// checkTable fails with catalog.ErrUnknownTable when table is not enumerated.
// A miss against a cached enumeration is re-checked against the database.
func (d *Dispatcher) checkTable(ctx context.Context, table string) error {
	tables, fromCache, err := d.tables(ctx, false)
	if err != nil {
		return err
	}
	if !slices.Contains(tables, table) && fromCache {
		if tables, _, err = d.tables(ctx, true); err != nil {
			return err
		}
	}
	if !slices.Contains(tables, table) {
		logger.Debug("Resource read for unknown table", map[string]interface{}{"table": table})
		return fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
	}
	return nil
}

func (d *Dispatcher) tables(ctx context.Context, fresh bool) ([]string, bool, error) {
	if d.opts.CacheTTL > 0 && !fresh {
		d.mu.Lock()
		if d.cached != nil && d.now().Sub(d.cachedAt) < d.opts.CacheTTL {
			tables := d.cached
			d.mu.Unlock()
			d.opts.Metrics.RecordResourceList("cache")
			return tables, true, nil
		}
		d.mu.Unlock()
	}

	tables, err := d.catalog.ListTables(ctx)
	if err != nil {
		return nil, false, err
	}
	tables = slices.Clone(tables)
	slices.Sort(tables)
	d.opts.Metrics.RecordResourceList("database")

	if d.opts.CacheTTL > 0 {
		d.mu.Lock()
		d.cached, d.cachedAt = tables, d.now()
		d.mu.Unlock()
	}
	return tables, false, nil
}

func (d *Dispatcher) invalidate() {
	d.mu.Lock()
	d.cached = nil
	d.mu.Unlock()
}
