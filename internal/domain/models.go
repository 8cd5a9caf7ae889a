// Package domain holds the types shared by every resolution tier.
package domain

import (
	"sort"
	"strings"
)

// SchemaColumn describes one column of a table snapshot.
type SchemaColumn struct {
	Name             string `json:"column_name"`
	DataType         string `json:"data_type"`
	Nullable         bool   `json:"is_nullable"`
	MaxLength        *int64 `json:"character_maximum_length,omitempty"`
	NumericPrecision *int64 `json:"numeric_precision,omitempty"`
}

// TableSchema is the ordered column list of a table.
type TableSchema []SchemaColumn

// DatabaseSchema maps table name to its columns.
type DatabaseSchema map[string]TableSchema

// SchemaView maps a database alias to its tables for one tenant.
// It is built fresh for every request.
type SchemaView map[string]DatabaseSchema

// Aliases returns the database aliases in lexicographic order.
func (v SchemaView) Aliases() []string {
	aliases := make([]string, 0, len(v))
	for alias := range v {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// Tables returns the table names of a database in lexicographic order.
func (d DatabaseSchema) Tables() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the view has no databases.
func (v SchemaView) Empty() bool {
	return len(v) == 0
}

// Driver identifies the SQL dialect of a tenant database.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// DBConfig is the resolved connection for one tenant database alias.
type DBConfig struct {
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Alias    string `json:"db_name" yaml:"db_name"`
	Driver   Driver `json:"driver" yaml:"driver"`
	Host     string `json:"host,omitempty" yaml:"host"`
	Port     int    `json:"port,omitempty" yaml:"port"`
	Database string `json:"database" yaml:"database"`
	User     string `json:"user,omitempty" yaml:"user"`
	Password string `json:"-" yaml:"password"`
	// DSN overrides the host/port/user fields when set.
	DSN string `json:"-" yaml:"dsn"`
}

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Action names the kind of a resolved intent.
type Action string

const (
	ActionListTables Action = "list_tables"
	ActionExecute    Action = "query"
)

// Provenance records which resolver produced an intent.
type Provenance string

const (
	ProvenancePattern Provenance = "pattern_match"
	ProvenanceLLM     Provenance = "llm"
)

// ResolvedIntent is a structured resolution of a natural-language query.
// Table and Statement are only set for ActionExecute.
type ResolvedIntent struct {
	Action     Action     `json:"action"`
	Database   string     `json:"db"`
	Table      string     `json:"table,omitempty"`
	Statement  string     `json:"statement,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	Provenance Provenance `json:"provenance"`
	Pattern    string     `json:"pattern,omitempty"`
}

// ListTables builds a list-tables intent.
func ListTables(database string, confidence float64, p Provenance) *ResolvedIntent {
	return &ResolvedIntent{Action: ActionListTables, Database: database, Confidence: confidence, Provenance: p}
}

// Execute builds a statement intent.
func Execute(database, table, statement string, confidence float64, p Provenance) *ResolvedIntent {
	return &ResolvedIntent{
		Action:     ActionExecute,
		Database:   database,
		Table:      table,
		Statement:  statement,
		Confidence: confidence,
		Provenance: p,
	}
}

// Source is the tier tag attached to a response.
type Source string

const (
	SourceSemanticCache Source = "semantic_cache"
	SourcePatternMatch  Source = "pattern_match"
	SourceLLMFallback   Source = "llm_fallback"
)

// Result is the response payload returned to callers and stored in the
// semantic cache. Source, Similarity, OriginalQuery and Confidence are
// annotations set per request.
type Result struct {
	DB            string  `json:"db"`
	Table         string  `json:"table,omitempty"`
	Action        Action  `json:"action,omitempty"`
	Statement     string  `json:"statement,omitempty"`
	RowsReturned  *int    `json:"rows_returned,omitempty"`
	Data          any     `json:"data,omitempty"`
	Source        Source  `json:"source,omitempty"`
	Similarity    float64 `json:"similarity,omitempty"`
	OriginalQuery string  `json:"original_query,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
}

// Kind returns the action of the result, defaulting to a query.
func (r *Result) Kind() string {
	if r.Action == "" {
		return string(ActionExecute)
	}
	return string(r.Action)
}

// Stripped returns a copy without the per-request annotations, which is the
// form persisted in the cache.
func (r *Result) Stripped() *Result {
	c := *r
	c.Source = ""
	c.Similarity = 0
	c.OriginalQuery = ""
	c.Confidence = 0
	return &c
}

// QueryResult is the outcome of executing one statement.
type QueryResult struct {
	Rows      []map[string]any
	Truncated bool
}

// NormalizeQuery lower-cases and trims a query for matching and embedding.
func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}
