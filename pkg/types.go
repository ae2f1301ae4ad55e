package mcpdb

// Protocol-facing contract types shared by the tool and resource dispatchers.
// They serialize to the JSON shapes MCP clients expect.

const (
	QueryToolName = "mysql_query"
	MimeTypeJSON  = "application/json"
	ContentText   = "text"
)

// ToolDescriptor describes a callable tool (tools/list entry)
type ToolDescriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ContentBlock: uniform wrapper for tool results
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToolEnvelope is the tools/call result. Errors are reported in-band with IsError set.
type ToolEnvelope struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

// TextEnvelope wraps a single text block.
func TextEnvelope(text string, isError bool) ToolEnvelope {
	return ToolEnvelope{
		Content: []ContentBlock{{Type: ContentText, Text: text}},
		IsError: isError,
	}
}

type ResourceDescriptor struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Name     string `json:"name"`
}

type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

type ResourceContents struct {
	Contents []ResourceContent `json:"contents"`
}

// ColumnDescriptor is one column of a table schema, in declaration order.
type ColumnDescriptor struct {
	ColumnName string `json:"column_name" db:"column_name"`
	DataType   string `json:"data_type" db:"data_type"`
}
