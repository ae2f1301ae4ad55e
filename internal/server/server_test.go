package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/AbdelilahOu/mysqlmcp/internal/catalog"
	"github.com/AbdelilahOu/mysqlmcp/internal/config"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool/pooltest"
	"github.com/AbdelilahOu/mysqlmcp/internal/resources"
	"github.com/AbdelilahOu/mysqlmcp/internal/safety"
	"github.com/AbdelilahOu/mysqlmcp/internal/testdb"
	"github.com/AbdelilahOu/mysqlmcp/internal/tools"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

type staticCatalog map[string][]mcpdb.ColumnDescriptor

func (c staticCatalog) ListTables(ctx context.Context) ([]string, error) {
	var names []string
	for name := range c {
		names = append(names, name)
	}
	return names, nil
}

func (c staticCatalog) Describe(ctx context.Context, table string) ([]mcpdb.ColumnDescriptor, error) {
	cols, ok := c[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", catalog.ErrUnknownTable, table)
	}
	return cols, nil
}

func connect(t *testing.T, srv *mcp.Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	ss, err := srv.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { cs.Close() })
	return cs
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("got %d content blocks, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func newFakeMCPServer() (*mcp.Server, *pooltest.Pool) {
	p := pooltest.New(pooltest.Table(
		[]string{"id", "name"},
		[]any{int64(1), "test1"},
		[]any{int64(2), "test2"},
	))
	td := tools.NewDispatcher(safety.NewLexicalClassifier(), p, tools.Options{MaxRows: 100})
	rd := resources.NewDispatcher(resources.NewNamespace("127.0.0.1", 3306), staticCatalog{
		"test_table": {{ColumnName: "id", DataType: "int"}, {ColumnName: "name", DataType: "varchar"}},
	}, resources.Options{})
	return NewMCPServer("test", td, rd), p
}

func TestMCP_ListTools(t *testing.T) {
	srv, _ := newFakeMCPServer()
	cs := connect(t, srv)

	res, err := cs.ListTools(context.Background(), &mcp.ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(res.Tools) != 1 || res.Tools[0].Name != "mysql_query" {
		t.Fatalf("tools = %+v, want only mysql_query", res.Tools)
	}
}

func TestMCP_CallTool(t *testing.T) {
	srv, p := newFakeMCPServer()
	cs := connect(t, srv)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "mysql_query",
		Arguments: map[string]any{"sql": "SELECT * FROM test_table"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", textOf(t, res))
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(textOf(t, res)), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Errorf("got %d rows, want 2", len(rows))
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "mysql_query",
		Arguments: map[string]any{"sql": "DROP TABLE test_table"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.HasPrefix(textOf(t, res), "Query rejected") {
		t.Errorf("DROP result = %+v", res)
	}

	if acquires, releases := p.Counts(); acquires != 1 || releases != 1 {
		t.Errorf("acquires/releases = %d/%d, want 1/1", acquires, releases)
	}
}

func TestMCP_UnknownToolIsEnvelope(t *testing.T) {
	srv, _ := newFakeMCPServer()
	cs := connect(t, srv)

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "mysql_execute",
		Arguments: map[string]any{"sql": "SELECT 1"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError || !strings.Contains(textOf(t, res), "unknown tool") {
		t.Errorf("result = %+v", res)
	}
}

func TestMCP_Resources(t *testing.T) {
	srv, _ := newFakeMCPServer()
	cs := connect(t, srv)
	ctx := context.Background()

	list, err := cs.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		t.Fatalf("ListResources: %v", err)
	}
	if len(list.Resources) != 1 {
		t.Fatalf("resources = %+v, want 1", list.Resources)
	}
	r := list.Resources[0]
	if r.URI != "mysql://127.0.0.1:3306/test_table/schema" || r.MIMEType != "application/json" {
		t.Errorf("resource = %+v", r)
	}

	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: r.URI})
	if err != nil {
		t.Fatalf("ReadResource: %v", err)
	}
	if len(read.Contents) != 1 || !strings.Contains(read.Contents[0].Text, `"column_name": "id"`) {
		t.Errorf("contents = %+v", read.Contents)
	}

	if _, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mysql://127.0.0.1:3306/missing/schema"}); err == nil {
		t.Error("expected error reading an unknown table")
	}
	if _, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "mysql://other:3306/test_table/schema"}); err == nil {
		t.Error("expected error reading a foreign URI")
	}
}

func liveConfig(t *testing.T, db *testdb.DB) *config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(db.Config.Addr)
	if err != nil {
		t.Fatalf("split %q: %v", db.Config.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.MySQL.Host = host
	cfg.MySQL.Port = port
	cfg.MySQL.User = db.Config.User
	cfg.MySQL.Password = db.Config.Passwd
	cfg.MySQL.Database = db.Config.DBName
	cfg.MySQL.PoolSize = 2
	cfg.MySQL.AcquireTimeout = 5 * time.Second
	return cfg
}

func TestLive_EndToEnd(t *testing.T) {
	db := testdb.Open(t)
	cfg := liveConfig(t, db)

	s, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	cs := connect(t, s.mcp)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "mysql_query",
		Arguments: map[string]any{"sql": "SELECT * FROM test_table"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(textOf(t, res)), &rows); err != nil || len(rows) != 2 {
		t.Fatalf("rows = %v (err %v), want 2 rows", rows, err)
	}

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "mysql_query",
		Arguments: map[string]any{"sql": "DROP TABLE test_table"},
	})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if !res.IsError {
		t.Error("DROP was not rejected")
	}
	if !db.TableExists(t, testdb.TableName) {
		t.Fatal("test_table was dropped")
	}

	uri := resources.NewNamespace(cfg.MySQL.Host, cfg.MySQL.Port).URI(testdb.TableName)
	read, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: uri})
	if err != nil {
		t.Fatalf("ReadResource(%s): %v", uri, err)
	}
	var cols []mcpdb.ColumnDescriptor
	if err := json.Unmarshal([]byte(read.Contents[0].Text), &cols); err != nil {
		t.Fatal(err)
	}
	if len(cols) != 3 || cols[0].ColumnName != "id" {
		t.Errorf("columns = %+v", cols)
	}

	tables, err := s.Check(ctx)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(tables) == 0 {
		t.Error("Check returned no tables")
	}
}

func TestLive_HealthAndMetrics(t *testing.T) {
	db := testdb.Open(t)
	s, err := New(liveConfig(t, db), "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", resp.StatusCode)
	}
}

func TestHealth_DatabaseUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.MySQL.Port = 1
	cfg.MySQL.AcquireTimeout = time.Second

	s, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ts := httptest.NewServer(s.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/healthz status = %d, want 503", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "unavailable" {
		t.Errorf("body = %v", body)
	}

	metricsResp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	metricsResp.Body.Close()
	if metricsResp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d", metricsResp.StatusCode)
	}
}

func TestCheck_DatabaseUnreachable(t *testing.T) {
	cfg := config.Default()
	cfg.MySQL.Port = 1
	cfg.MySQL.AcquireTimeout = time.Second

	s, err := New(cfg, "test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	_, err = s.Check(context.Background())
	if !errors.Is(err, pool.ErrConnectionFailure) {
		t.Fatalf("Check() = %v, want ErrConnectionFailure", err)
	}
	if n := strings.Count(err.Error(), pool.ErrConnectionFailure.Error()); n != 1 {
		t.Errorf("Check() error %q names the failure %d times, want once", err, n)
	}
}
