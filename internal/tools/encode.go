package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/AbdelilahOu/mysqlmcp/internal/pool"
)

// orderedRow marshals as a JSON object whose keys follow the column order.
type orderedRow struct {
	columns []string
	values  []any
}

func (r orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var v any
		if i < len(r.values) {
			v = r.values[i]
		}
		val, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", col, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// uniqueColumns suffixes repeated column names (SELECT a.id, b.id) so no key
// is lost. A generated name never collides with a later or earlier column.
func uniqueColumns(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	for _, col := range columns {
		taken[col] = true
	}

	emitted := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, col := range columns {
		name := col
		for n := 2; emitted[name]; n++ {
			if candidate := fmt.Sprintf("%s_%d", col, n); !taken[candidate] && !emitted[candidate] {
				name = candidate
			}
		}
		emitted[name] = true
		out[i] = name
	}
	return out
}

// encodeResultSet renders rows as a pretty-printed JSON array.
func encodeResultSet(rs *pool.ResultSet, maxRows int) (string, error) {
	columns := uniqueColumns(rs.Columns)

	rows := make([]any, 0, len(rs.Rows)+1)
	for _, values := range rs.Rows {
		rows = append(rows, orderedRow{columns: columns, values: values})
	}
	if rs.Truncated {
		rows = append(rows, map[string]string{
			"_warning": fmt.Sprintf("Result truncated at %d rows", maxRows),
		})
	}

	out, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
