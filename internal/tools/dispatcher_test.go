package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
	"github.com/AbdelilahOu/mysqlmcp/internal/pool/pooltest"
	"github.com/AbdelilahOu/mysqlmcp/internal/safety"
	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

func testTable() pooltest.QueryFunc {
	return pooltest.Table(
		[]string{"id", "name", "created_at"},
		[]any{int64(1), "alpha", "2024-01-01 00:00:00"},
		[]any{int64(2), "beta", "2024-01-02 00:00:00"},
	)
}

func newTestDispatcher(p pool.Pool, opts Options) *Dispatcher {
	return NewDispatcher(safety.NewLexicalClassifier(), p, opts)
}

func sqlArgs(t *testing.T, sql string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"sql": sql})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func onlyText(t *testing.T, env mcpdb.ToolEnvelope) string {
	t.Helper()
	if len(env.Content) != 1 {
		t.Fatalf("got %d content blocks, want 1", len(env.Content))
	}
	if env.Content[0].Type != mcpdb.ContentText {
		t.Fatalf("content type = %q, want text", env.Content[0].Type)
	}
	return env.Content[0].Text
}

func TestListTools(t *testing.T) {
	d := newTestDispatcher(pooltest.New(testTable()), Options{})
	tools := d.ListTools()
	if len(tools) != 1 {
		t.Fatalf("ListTools() returned %d tools, want 1", len(tools))
	}
	tool := tools[0]
	if tool.Name != "mysql_query" {
		t.Errorf("tool name = %q", tool.Name)
	}
	if tool.InputSchema.Type != "object" || len(tool.InputSchema.Required) != 1 || tool.InputSchema.Required[0] != "sql" {
		t.Errorf("input schema = %+v", tool.InputSchema)
	}
	if tool.InputSchema.Properties["sql"].Type != "string" {
		t.Errorf("sql property = %+v", tool.InputSchema.Properties["sql"])
	}
}

func TestCallTool_Select(t *testing.T) {
	p := pooltest.New(testTable())
	d := newTestDispatcher(p, Options{MaxRows: 100})

	env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, "SELECT * FROM test_table"))
	if env.IsError {
		t.Fatalf("IsError = true: %v", env.Content)
	}
	text := onlyText(t, env)

	var rows []map[string]any
	if err := json.Unmarshal([]byte(text), &rows); err != nil {
		t.Fatalf("decode %q: %v", text, err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1]["name"] != "beta" {
		t.Errorf("rows[1] = %v", rows[1])
	}

	first := strings.Index(text, `"id"`)
	second := strings.Index(text, `"name"`)
	third := strings.Index(text, `"created_at"`)
	if first < 0 || first >= second || second >= third {
		t.Errorf("keys not in column order:\n%s", text)
	}

	if acquires, releases := p.Counts(); acquires != 1 || releases != 1 {
		t.Errorf("acquires/releases = %d/%d, want 1/1", acquires, releases)
	}
}

func TestCallTool_RejectedNeverTouchesPool(t *testing.T) {
	p := pooltest.New(testTable())
	d := newTestDispatcher(p, Options{})

	tests := []struct {
		sql    string
		reason string
	}{
		{"DROP TABLE test_table", "DROP"},
		{"SELECT 1; DELETE FROM test_table", "multiple statements"},
		{"INSERT INTO test_table (name) VALUES ('x')", "INSERT"},
		{"", "empty query"},
	}
	for _, tt := range tests {
		t.Run(tt.sql, func(t *testing.T) {
			env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, tt.sql))
			if !env.IsError {
				t.Fatal("IsError = false, want true")
			}
			text := onlyText(t, env)
			if !strings.HasPrefix(text, "Query rejected: ") || !strings.Contains(text, tt.reason) {
				t.Errorf("text = %q, want rejection mentioning %q", text, tt.reason)
			}
		})
	}

	if acquires, _ := p.Counts(); acquires != 0 {
		t.Errorf("acquires = %d after rejected queries, want 0", acquires)
	}
}

func TestCallTool_UnknownTool(t *testing.T) {
	p := pooltest.New(testTable())
	d := newTestDispatcher(p, Options{})

	env := d.CallTool(context.Background(), "drop_everything", sqlArgs(t, "SELECT 1"))
	if !env.IsError {
		t.Fatal("IsError = false, want true")
	}
	text := onlyText(t, env)
	if !strings.Contains(text, "unknown tool") || !strings.Contains(text, "drop_everything") {
		t.Errorf("text = %q", text)
	}
	if acquires, _ := p.Counts(); acquires != 0 {
		t.Errorf("acquires = %d, want 0", acquires)
	}
}

func TestCallTool_InvalidArguments(t *testing.T) {
	d := newTestDispatcher(pooltest.New(testTable()), Options{})

	tests := []struct {
		name string
		args string
	}{
		{"absent", ``},
		{"null", `null`},
		{"no sql", `{}`},
		{"null sql", `{"sql": null}`},
		{"number", `{"sql": 42}`},
		{"array", `[1, 2]`},
		{"object sql", `{"sql": {"q": "SELECT 1"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := d.CallTool(context.Background(), "mysql_query", json.RawMessage(tt.args))
			if !env.IsError {
				t.Fatal("IsError = false, want true")
			}
			if text := onlyText(t, env); !strings.Contains(text, "sql") {
				t.Errorf("text = %q, want mention of sql", text)
			}
		})
	}
}

func TestParseQueryArguments(t *testing.T) {
	args, err := ParseQueryArguments(json.RawMessage(`{"sql": "SELECT 1", "extra": true}`))
	if err != nil {
		t.Fatalf("ParseQueryArguments: %v", err)
	}
	if args.SQL != "SELECT 1" {
		t.Errorf("SQL = %q", args.SQL)
	}

	if _, err := ParseQueryArguments(json.RawMessage(`{"sql": 1}`)); !errors.Is(err, ErrMissingArgument) {
		t.Errorf("error = %v, want ErrMissingArgument", err)
	}
}

func TestCallTool_ExecutionError(t *testing.T) {
	p := pooltest.New(func(ctx context.Context, query string) (*pool.ResultSet, error) {
		return nil, errors.New("Error 1146 (42S02): Table 'test.missing' doesn't exist")
	})
	d := newTestDispatcher(p, Options{})

	env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, "SELECT * FROM missing"))
	if !env.IsError {
		t.Fatal("IsError = false, want true")
	}
	text := onlyText(t, env)
	if !strings.HasPrefix(text, "Error: ") || !strings.Contains(text, "doesn't exist") {
		t.Errorf("text = %q", text)
	}
	if acquires, releases := p.Counts(); acquires != 1 || releases != 1 {
		t.Errorf("acquires/releases = %d/%d, want 1/1", acquires, releases)
	}
}

func TestCallTool_PoolExhausted(t *testing.T) {
	p := pooltest.New(testTable())
	p.AcquireErrs = []error{pool.ErrPoolExhausted, pool.ErrPoolExhausted}
	d := newTestDispatcher(p, Options{})

	env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, "SELECT 1"))
	if !env.IsError {
		t.Fatal("IsError = false, want true")
	}
	if text := onlyText(t, env); !strings.HasPrefix(text, "Database unavailable: ") {
		t.Errorf("text = %q", text)
	}
	if acquires, releases := p.Counts(); acquires != 0 || releases != 0 {
		t.Errorf("acquires/releases = %d/%d, want 0/0", acquires, releases)
	}
}

func TestCallTool_RecoversFromSingleExhaustion(t *testing.T) {
	p := pooltest.New(testTable())
	p.AcquireErrs = []error{pool.ErrPoolExhausted}
	d := newTestDispatcher(p, Options{})

	env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, "SELECT * FROM test_table"))
	if env.IsError {
		t.Fatalf("IsError = true: %v", env.Content)
	}
}

func TestCallTool_Truncated(t *testing.T) {
	p := pooltest.New(pooltest.Table(
		[]string{"n"},
		[]any{int64(1)}, []any{int64(2)}, []any{int64(3)},
	))
	d := newTestDispatcher(p, Options{MaxRows: 2})

	env := d.CallTool(context.Background(), "mysql_query", sqlArgs(t, "SELECT n FROM numbers"))
	if env.IsError {
		t.Fatalf("IsError = true: %v", env.Content)
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(onlyText(t, env)), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d entries, want 2 rows and a warning", len(rows))
	}
	if rows[2]["_warning"] != "Result truncated at 2 rows" {
		t.Errorf("warning entry = %v", rows[2])
	}
}

func TestEncodeResultSet(t *testing.T) {
	tests := []struct {
		name string
		rs   *pool.ResultSet
		want string
	}{
		{
			name: "empty",
			rs:   &pool.ResultSet{Columns: []string{"id"}},
			want: "[]",
		},
		{
			name: "null and duplicate columns",
			rs: &pool.ResultSet{
				Columns: []string{"id", "id", "note"},
				Rows:    [][]any{{int64(1), int64(7), nil}},
			},
			want: "[\n  {\n    \"id\": 1,\n    \"id_2\": 7,\n    \"note\": null\n  }\n]",
		},
		{
			name: "suffix skips a real column name",
			rs: &pool.ResultSet{
				Columns: []string{"id", "id", "id_2"},
				Rows:    [][]any{{int64(1), int64(2), int64(3)}},
			},
			want: "[\n  {\n    \"id\": 1,\n    \"id_3\": 2,\n    \"id_2\": 3\n  }\n]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeResultSet(tt.rs, 0)
			if err != nil {
				t.Fatalf("encodeResultSet: %v", err)
			}
			if got != tt.want {
				t.Errorf("encodeResultSet() =\n%s\nwant\n%s", got, tt.want)
			}
		})
	}
}
