// Package intent resolves common natural-language queries to SQL with an
// ordered library of regular-expression rules.
package intent

import "regexp"

// Pattern is one rule of the library. Group indexes are 1-based capture
// groups of Regex; zero means the placeholder takes its default.
type Pattern struct {
	Name       string
	Regex      *regexp.Regexp
	TableHint  string
	Statement  string
	ListTables bool
	Confidence float64

	ColumnGroup int
	ValueGroup  int
	LimitGroup  int
}

const (
	defaultColumn = "id"
	defaultLimit  = "100"
)

var defaultPatterns = []Pattern{
	{
		Name:       "select_table",
		Regex:      regexp.MustCompile(`^(?:list|show|get|find)\s+(?:all\s+)?([\w_]+)$`),
		TableHint:  "$1",
		Statement:  "SELECT * FROM {table} LIMIT 100;",
		Confidence: 0.95,
	},
	{
		Name:       "show_rows_from",
		Regex:      regexp.MustCompile(`show\s+(?:all\s+)?(?:records?|rows?|data)\s+from\s+(\w+)`),
		TableHint:  "$1",
		Statement:  "SELECT * FROM {table} LIMIT 100;",
		Confidence: 0.9,
	},
	{
		Name:       "count_rows",
		Regex:      regexp.MustCompile(`count\s+(?:records?|rows?)\s+in\s+(\w+)`),
		TableHint:  "$1",
		Statement:  "SELECT COUNT(*) as count FROM {table};",
		Confidence: 0.9,
	},
	{
		Name:       "list_tables",
		Regex:      regexp.MustCompile(`list\s+(?:all\s+)?(?:tables?|schemas?)`),
		ListTables: true,
		Confidence: 0.95,
	},
	{
		Name:        "find_where",
		Regex:       regexp.MustCompile(`(?:find|search|get)\s+(\w+)\s+where\s+(\w+)\s*=\s*['"]?([^'"]+)['"]?`),
		TableHint:   "$1",
		Statement:   "SELECT * FROM {table} WHERE {column} ILIKE '{value}' LIMIT 50;",
		Confidence:  0.8,
		ColumnGroup: 2,
		ValueGroup:  3,
	},
	{
		Name:       "top_n",
		Regex:      regexp.MustCompile(`(?:top|first)\s+(\d+)\s+(?:records?|rows?)\s+from\s+(\w+)`),
		TableHint:  "$2",
		Statement:  "SELECT * FROM {table} LIMIT {limit};",
		Confidence: 0.85,
		LimitGroup: 1,
	},
}

// DefaultPatterns returns a copy of the built-in library in match order.
func DefaultPatterns() []Pattern {
	out := make([]Pattern, len(defaultPatterns))
	copy(out, defaultPatterns)
	return out
}

// Info is the read-only description of a pattern.
type Info struct {
	Name       string  `json:"name"`
	Regex      string  `json:"pattern"`
	TableHint  string  `json:"table_hint,omitempty"`
	Statement  string  `json:"sql_template"`
	Confidence float64 `json:"confidence_score"`
}

func (p Pattern) info() Info {
	stmt := p.Statement
	if p.ListTables {
		stmt = "LIST_TABLES"
	}
	return Info{
		Name:       p.Name,
		Regex:      p.Regex.String(),
		TableHint:  p.TableHint,
		Statement:  stmt,
		Confidence: p.Confidence,
	}
}
