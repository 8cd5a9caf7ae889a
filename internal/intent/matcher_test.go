package intent

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
)

func testView() domain.SchemaView {
	cols := domain.TableSchema{{Name: "id", DataType: "integer"}}
	return domain.SchemaView{
		"main": domain.DatabaseSchema{
			"users":  cols,
			"orders": cols,
		},
		"analytics": domain.DatabaseSchema{
			"events": cols,
		},
	}
}

func TestMatch_Scenarios(t *testing.T) {
	m := NewMatcher()
	view := testView()

	tests := []struct {
		name       string
		query      string
		db         string
		table      string
		statement  string
		confidence float64
		pattern    string
	}{
		{
			name:       "bare table",
			query:      "list users",
			db:         "main",
			table:      "users",
			statement:  "SELECT * FROM users LIMIT 100;",
			confidence: 0.95,
			pattern:    "select_table",
		},
		{
			name:       "show all with mixed case and padding",
			query:      "  Show ALL Orders ",
			db:         "main",
			table:      "orders",
			statement:  "SELECT * FROM orders LIMIT 100;",
			confidence: 0.95,
			pattern:    "select_table",
		},
		{
			name:       "rows from",
			query:      "show records from events",
			db:         "analytics",
			table:      "events",
			statement:  "SELECT * FROM events LIMIT 100;",
			confidence: 0.9,
			pattern:    "show_rows_from",
		},
		{
			name:       "count with singular hint",
			query:      "count rows in order",
			db:         "main",
			table:      "orders",
			statement:  "SELECT COUNT(*) as count FROM orders;",
			confidence: 0.9,
			pattern:    "count_rows",
		},
		{
			name:       "find where",
			query:      "find users where email = 'a@b.com'",
			db:         "main",
			table:      "users",
			statement:  "SELECT * FROM users WHERE email ILIKE 'a@b.com' LIMIT 50;",
			confidence: 0.8,
			pattern:    "find_where",
		},
		{
			name:       "top n",
			query:      "top 5 rows from users",
			db:         "main",
			table:      "users",
			statement:  "SELECT * FROM users LIMIT 5;",
			confidence: 0.85,
			pattern:    "top_n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(tt.query, view)
			require.True(t, ok)
			assert.Equal(t, domain.ActionExecute, got.Action)
			assert.Equal(t, tt.db, got.Database)
			assert.Equal(t, tt.table, got.Table)
			assert.Equal(t, tt.statement, got.Statement)
			assert.Equal(t, tt.confidence, got.Confidence)
			assert.Equal(t, tt.pattern, got.Pattern)
			assert.Equal(t, domain.ProvenancePattern, got.Provenance)
		})
	}
}

func TestMatch_ListTablesFallsThroughUnresolvedTable(t *testing.T) {
	m := NewMatcher()

	got, ok := m.Match("list tables", testView())
	require.True(t, ok)
	assert.Equal(t, domain.ActionListTables, got.Action)
	assert.Equal(t, "list_tables", got.Pattern)
	assert.Equal(t, 0.95, got.Confidence)
	assert.Equal(t, "analytics", got.Database, "lexicographically first alias")
	assert.Empty(t, got.Statement)
}

func TestMatch_ListTablesNamedDatabase(t *testing.T) {
	m := NewMatcher()

	got, ok := m.Match("list all tables in main", testView())
	require.True(t, ok)
	assert.Equal(t, domain.ActionListTables, got.Action)
	assert.Equal(t, "main", got.Database)
}

func TestMatch_NoMatch(t *testing.T) {
	m := NewMatcher()

	_, ok := m.Match("what was revenue growth last quarter?", testView())
	assert.False(t, ok)

	_, ok = m.Match("show invoices", testView())
	assert.False(t, ok, "unknown table does not resolve")

	_, ok = m.Match("list users", domain.SchemaView{})
	assert.False(t, ok)
}

func TestMatch_Deterministic(t *testing.T) {
	m := NewMatcher()
	view := domain.SchemaView{
		"b_db": domain.DatabaseSchema{"user_profiles": nil},
		"a_db": domain.DatabaseSchema{"users": nil, "app_users": nil},
	}

	first, ok := m.Match("list users", view)
	require.True(t, ok)
	for i := 0; i < 50; i++ {
		got, ok := m.Match("list users", view)
		require.True(t, ok)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, "a_db", first.Database)
	assert.Equal(t, "app_users", first.Table)
}

func TestMatch_EscapesValue(t *testing.T) {
	m := NewMatcher(Pattern{
		Name:        "by_name",
		Regex:       regexp.MustCompile(`^(\w+) named (.+)$`),
		TableHint:   "$1",
		Statement:   "SELECT * FROM {table} WHERE {column} = '{value}' LIMIT {limit};",
		Confidence:  0.9,
		ValueGroup:  2,
		ColumnGroup: 0,
	})

	got, ok := m.Match("users named o'brien", testView())
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM users WHERE id = 'o''brien' LIMIT 100;", got.Statement)
}

func TestPatterns(t *testing.T) {
	infos := NewMatcher().Patterns()
	require.Len(t, infos, 6)

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	assert.Equal(t, []string{"select_table", "show_rows_from", "count_rows", "list_tables", "find_where", "top_n"}, names)
	assert.Equal(t, "LIST_TABLES", infos[3].Statement)
	assert.Equal(t, 0.8, infos[4].Confidence)
}

func TestDefaultPatterns_ReturnsCopy(t *testing.T) {
	p := DefaultPatterns()
	p[0].Confidence = 0
	assert.Equal(t, 0.95, DefaultPatterns()[0].Confidence)
}
