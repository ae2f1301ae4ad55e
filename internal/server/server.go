package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mysqlmcp/internal/catalog"
	"github.com/AbdelilahOu/mysqlmcp/internal/config"
	"github.com/AbdelilahOu/mysqlmcp/internal/logger"
	"github.com/AbdelilahOu/mysqlmcp/internal/metrics"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
	"github.com/AbdelilahOu/mysqlmcp/internal/resources"
	"github.com/AbdelilahOu/mysqlmcp/internal/safety"
	"github.com/AbdelilahOu/mysqlmcp/internal/tools"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

const serverName = "mysql-mcp-server"

// ToolHandler answers tools/list and tools/call.
type ToolHandler interface {
	ListTools() []mcpdb.ToolDescriptor
	CallTool(ctx context.Context, name string, arguments json.RawMessage) mcpdb.ToolEnvelope
}

// ResourceHandler answers resources/list and resources/read.
type ResourceHandler interface {
	Namespace() resources.Namespace
	ListResources(ctx context.Context) ([]mcpdb.ResourceDescriptor, error)
	ReadResource(ctx context.Context, uri string) (mcpdb.ResourceContents, error)
}

// Server owns the connection pool and the MCP server built on top of it.
type Server struct {
	cfg     *config.Config
	pool    *pool.MySQLPool
	catalog *catalog.Catalog
	metrics *metrics.Metrics
	mcp     *mcp.Server
}

func New(cfg *config.Config, version string) (*Server, error) {
	m := metrics.New()

	p, err := pool.NewMySQLPool(cfg.DSN(), pool.Options{
		Size:            cfg.MySQL.PoolSize,
		AcquireTimeout:  cfg.MySQL.AcquireTimeout,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		Metrics:         m,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := m.RegisterDB(p.DB(), cfg.MySQL.Database); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to register pool metrics: %w", err)
	}

	// The server starts without a reachable database; calls report it instead.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.MySQL.AcquireTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		logger.Warn("Database not reachable at startup", map[string]interface{}{
			"target": cfg.Redacted(),
			"error":  err.Error(),
		})
	} else {
		logger.LogConnectionEvent("connect", cfg.Redacted(), nil)
	}

	cat := catalog.New(p, cfg.MySQL.Database)
	td := tools.NewDispatcher(safety.NewLexicalClassifier(), p, tools.Options{
		MaxRows:      cfg.Server.MaxRows,
		QueryTimeout: cfg.MySQL.QueryTimeout,
		Metrics:      m,
	})
	rd := resources.NewDispatcher(resources.NewNamespace(cfg.MySQL.Host, cfg.MySQL.Port), cat, resources.Options{
		CacheTTL: cfg.Server.ResourceCacheTTL,
		Metrics:  m,
	})

	return &Server{
		cfg:     cfg,
		pool:    p,
		catalog: cat,
		metrics: m,
		mcp:     NewMCPServer(version, td, rd),
	}, nil
}

// NewMCPServer registers the tool and the schema resource template and routes
// the tool and resource methods to the given handlers.
func NewMCPServer(version string, th ToolHandler, rh ResourceHandler) *mcp.Server {
	s := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: version}, nil)

	for _, desc := range th.ListTools() {
		s.AddTool(toolFromDescriptor(desc), func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return callTool(ctx, th, req.Params.Name, req.Params.Arguments), nil
		})
	}

	s.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: rh.Namespace().Template(),
		Name:        "table schema",
		Description: "Column names and data types of a table in the configured database",
		MIMEType:    mcpdb.MimeTypeJSON,
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return readResource(ctx, rh, req.Params.URI)
	})

	s.AddReceivingMiddleware(routeMethods(th, rh))
	return s
}

// routeMethods answers the tool and resource methods directly: the resource
// list is dynamic and every tool call, known or not, must yield an envelope.
func routeMethods(th ToolHandler, rh ResourceHandler) mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			switch method {
			case "tools/call":
				if r, ok := req.(*mcp.CallToolRequest); ok {
					return callTool(ctx, th, r.Params.Name, r.Params.Arguments), nil
				}
			case "resources/list":
				return listResources(ctx, rh)
			case "resources/read":
				if r, ok := req.(*mcp.ReadResourceRequest); ok {
					return readResource(ctx, rh, r.Params.URI)
				}
			}
			return next(ctx, method, req)
		}
	}
}

func toolFromDescriptor(desc mcpdb.ToolDescriptor) *mcp.Tool {
	props := make(map[string]*jsonschema.Schema, len(desc.InputSchema.Properties))
	for name, p := range desc.InputSchema.Properties {
		props[name] = &jsonschema.Schema{Type: p.Type, Description: p.Description}
	}
	return &mcp.Tool{
		Name:        desc.Name,
		Description: desc.Description,
		InputSchema: &jsonschema.Schema{
			Type:       desc.InputSchema.Type,
			Properties: props,
			Required:   desc.InputSchema.Required,
		},
	}
}

func callTool(ctx context.Context, th ToolHandler, name string, arguments json.RawMessage) *mcp.CallToolResult {
	env := th.CallTool(ctx, name, arguments)

	content := make([]mcp.Content, 0, len(env.Content))
	for _, block := range env.Content {
		content = append(content, &mcp.TextContent{Text: block.Text})
	}
	return &mcp.CallToolResult{Content: content, IsError: env.IsError}
}

func listResources(ctx context.Context, rh ResourceHandler) (*mcp.ListResourcesResult, error) {
	descs, err := rh.ListResources(ctx)
	if err != nil {
		logger.Error("Failed to enumerate resources", err)
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}

	list := make([]*mcp.Resource, 0, len(descs))
	for _, d := range descs {
		list = append(list, &mcp.Resource{URI: d.URI, Name: d.Name, MIMEType: d.MimeType})
	}
	return &mcp.ListResourcesResult{Resources: list}, nil
}

func readResource(ctx context.Context, rh ResourceHandler, uri string) (*mcp.ReadResourceResult, error) {
	contents, err := rh.ReadResource(ctx, uri)
	switch {
	case errors.Is(err, catalog.ErrUnknownTable):
		return nil, mcp.ResourceNotFoundError(uri)
	case err != nil:
		logger.Warn("Resource read failed", map[string]interface{}{"uri": uri, "error": err.Error()})
		return nil, err
	}

	out := make([]*mcp.ResourceContents, 0, len(contents.Contents))
	for _, c := range contents.Contents {
		out = append(out, &mcp.ResourceContents{URI: c.URI, MIMEType: c.MimeType, Text: c.Text})
	}
	return &mcp.ReadResourceResult{Contents: out}, nil
}

// RunStdio serves one client over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	logger.Info("MySQL MCP server running on stdio", map[string]interface{}{
		"target":    s.cfg.Redacted(),
		"pool_size": s.cfg.MySQL.PoolSize,
	})
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// Check verifies connectivity and that the configured database is readable.
func (s *Server) Check(ctx context.Context) ([]string, error) {
	if err := s.pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	tables, err := s.catalog.ListTables(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("Database check passed", map[string]interface{}{
		"database": s.catalog.Database(),
		"tables":   len(tables),
	})
	return tables, nil
}

func (s *Server) Close() error {
	err := s.pool.Close()
	logger.LogConnectionEvent("close", s.cfg.Redacted(), err)
	return err
}
