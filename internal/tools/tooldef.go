package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	mcpdb "github.com/AbdelilahOu/mysqlmcp/pkg"
)

const queryToolDescription = "Run a read-only SQL query against the MySQL database and return the rows as JSON. " +
	"Only single SELECT, SHOW, DESCRIBE and EXPLAIN statements are accepted."

// QueryToolDescriptor is the only tool this server exposes.
var QueryToolDescriptor = mcpdb.ToolDescriptor{
	Name:        mcpdb.QueryToolName,
	Description: queryToolDescription,
	InputSchema: mcpdb.InputSchema{
		Type: "object",
		Properties: map[string]mcpdb.Property{
			"sql": {
				Type:        "string",
				Description: "The SQL query to execute (SELECT, SHOW, DESCRIBE or EXPLAIN)",
			},
		},
		Required: []string{"sql"},
	},
}

// QueryArguments are the validated arguments of a mysql_query call.
type QueryArguments struct {
	SQL string
}

// ParseQueryArguments validates the raw arguments object of a tool call.
func ParseQueryArguments(raw json.RawMessage) (QueryArguments, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return QueryArguments{}, fmt.Errorf("%w: sql is required", ErrMissingArgument)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return QueryArguments{}, fmt.Errorf("%w: arguments must be an object with a sql field: %v", ErrMissingArgument, err)
	}

	value, ok := fields["sql"]
	if !ok || string(value) == "null" {
		return QueryArguments{}, fmt.Errorf("%w: sql is required", ErrMissingArgument)
	}

	var sql string
	if err := json.Unmarshal(value, &sql); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return QueryArguments{}, fmt.Errorf("%w: sql must be a string, got %s", ErrMissingArgument, typeErr.Value)
		}
		return QueryArguments{}, fmt.Errorf("%w: sql: %v", ErrMissingArgument, err)
	}

	return QueryArguments{SQL: sql}, nil
}
