// Package tools implements the mysql_query tool: argument validation, the
// safety gate and execution through the connection pool. Every outcome is
// returned as an envelope; nothing escapes as a transport error.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/metrics"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
	"github.com/AbdelilahOu/mysqlmcp/internal/safety"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

var (
	ErrUnknownTool     = errors.New("unknown tool")
	ErrMissingArgument = errors.New("missing or invalid argument")
	ErrQueryExecution  = errors.New("query execution failed")
)

type Options struct {
	// MaxRows caps the rows returned by one call; zero means no cap.
	MaxRows int
	// QueryTimeout bounds one statement; zero leaves it to the connection.
	QueryTimeout time.Duration
	Metrics      *metrics.Metrics
}

type Dispatcher struct {
	classifier safety.Classifier
	pool       pool.Pool
	opts       Options
}

func NewDispatcher(classifier safety.Classifier, p pool.Pool, opts Options) *Dispatcher {
	return &Dispatcher{classifier: classifier, pool: p, opts: opts}
}

func (d *Dispatcher) ListTools() []mcpdb.ToolDescriptor {
	return []mcpdb.ToolDescriptor{QueryToolDescriptor}
}

func (d *Dispatcher) CallTool(ctx context.Context, name string, arguments json.RawMessage) mcpdb.ToolEnvelope {
	callID := uuid.NewString()
	start := time.Now()

	env := d.callTool(ctx, callID, name, arguments)

	logger.LogToolCall(name, callID, env.IsError, time.Since(start))
	d.opts.Metrics.RecordToolCall(name, env.IsError)
	return env
}

func (d *Dispatcher) callTool(ctx context.Context, callID, name string, arguments json.RawMessage) mcpdb.ToolEnvelope {
	if name != mcpdb.QueryToolName {
		return errorEnvelope(fmt.Errorf("%w: %q (available: %s)", ErrUnknownTool, name, mcpdb.QueryToolName))
	}

	args, err := ParseQueryArguments(arguments)
	if err != nil {
		return errorEnvelope(err)
	}

	verdict := d.classifier.Classify(args.SQL)
	if !verdict.Allowed() {
		d.opts.Metrics.RecordRejection()
		logger.Warn("Query rejected", map[string]interface{}{
			"call_id":     callID,
			"error":       verdict.Err().Error(),
			"fingerprint": logger.Fingerprint(args.SQL),
		})
		return mcpdb.TextEnvelope("Query rejected: "+verdict.Reason, true)
	}

	rs, err := d.execute(ctx, args.SQL)
	if err != nil {
		return errorEnvelope(err)
	}

	text, err := encodeResultSet(rs, d.opts.MaxRows)
	if err != nil {
		return errorEnvelope(fmt.Errorf("failed to encode results: %w", err))
	}
	return mcpdb.TextEnvelope(text, false)
}

func (d *Dispatcher) execute(ctx context.Context, sql string) (*pool.ResultSet, error) {
	var rs *pool.ResultSet
	start := time.Now()

	err := pool.With(ctx, d.pool, func(ctx context.Context, conn pool.Conn) error {
		if d.opts.QueryTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.opts.QueryTimeout)
			defer cancel()
		}

		var err error
		rs, err = conn.Query(ctx, d.opts.MaxRows, sql)
		return err
	})

	d.opts.Metrics.RecordQueryDuration(time.Since(start))
	var rows int64
	if rs != nil {
		rows = int64(len(rs.Rows))
	}
	logger.LogDatabaseOperation("QUERY", sql, rows, err)

	switch {
	case err == nil:
		return rs, nil
	case isInfrastructure(err):
		return nil, err
	default:
		return nil, fmt.Errorf("%w: %v", ErrQueryExecution, err)
	}
}

func isInfrastructure(err error) bool {
	return errors.Is(err, pool.ErrPoolExhausted) ||
		errors.Is(err, pool.ErrConnectionFailure) ||
		errors.Is(err, pool.ErrClosed) ||
		pool.IsTransportError(err)
}

func errorEnvelope(err error) mcpdb.ToolEnvelope {
	if isInfrastructure(err) {
		return mcpdb.TextEnvelope("Database unavailable: "+err.Error(), true)
	}
	return mcpdb.TextEnvelope("Error: "+err.Error(), true)
}
