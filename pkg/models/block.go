package models

// BlockType discriminates the semantic block kinds in a composed answer.
type BlockType string

// Block type constants.
const (
	BlockTypeText       BlockType = "text"
	BlockTypeTable      BlockType = "table"
	BlockTypeTimeseries BlockType = "timeseries"
	BlockTypeGraph      BlockType = "graph"
	BlockTypeReferences BlockType = "references"
	BlockTypeMarkdown   BlockType = "markdown"
)

// Block is one semantic unit of a composed answer.
type Block struct {
	Type    BlockType      `json:"type"`
	Title   string         `json:"title,omitempty"`
	Text    string         `json:"text,omitempty"`
	Columns []string       `json:"columns,omitempty"`
	Rows    [][]any        `json:"rows,omitempty"`
	Series  []Series       `json:"series,omitempty"`
	Nodes   []GraphNode    `json:"nodes,omitempty"`
	Edges   []GraphEdge    `json:"edges,omitempty"`
	Refs    []Reference    `json:"refs,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Series is one named timeseries.
type Series struct {
	Name   string      `json:"name"`
	Points []DataPoint `json:"points"`
}

// DataPoint is one (timestamp, value) sample. Timestamps are unix millis.
type DataPoint struct {
	Timestamp int64   `json:"ts"`
	Value     float64 `json:"value"`
}

// GraphNode is one vertex of a graph block.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label,omitempty"`
	Kind       string         `json:"kind,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// GraphEdge is one relationship of a graph block.
type GraphEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Relation string `json:"relation,omitempty"`
}

// Reference points at the evidence behind an answer: a bound query, a tool
// call, a document, or an external URL.
type Reference struct {
	Kind   string `json:"kind"`
	Title  string `json:"title,omitempty"`
	Detail string `json:"detail,omitempty"`
	URL    string `json:"url,omitempty"`
}

// Key returns the dedup identity of a reference.
func (r Reference) Key() string {
	return r.Kind + "|" + r.Title + "|" + r.Detail + "|" + r.URL
}
