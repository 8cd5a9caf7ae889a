package intent

import (
	"strings"

	"github.com/querydeck/querydeck/internal/domain"
)

// Matcher applies an ordered pattern library. It is immutable and safe for
// concurrent use.
type Matcher struct {
	patterns []Pattern
}

// NewMatcher creates a matcher over patterns, or the default library when
// none are given.
func NewMatcher(patterns ...Pattern) *Matcher {
	if len(patterns) == 0 {
		patterns = DefaultPatterns()
	}
	return &Matcher{patterns: patterns}
}

// Patterns describes the library in match order.
func (m *Matcher) Patterns() []Info {
	out := make([]Info, len(m.patterns))
	for i, p := range m.patterns {
		out[i] = p.info()
	}
	return out
}

// Match returns the intent of the first pattern whose regex matches and
// whose target resolves against view.
func (m *Matcher) Match(query string, view domain.SchemaView) (*domain.ResolvedIntent, bool) {
	if view.Empty() {
		return nil, false
	}
	q := domain.NormalizeQuery(query)

	for _, p := range m.patterns {
		loc := p.Regex.FindStringSubmatchIndex(q)
		if loc == nil {
			continue
		}

		if p.ListTables {
			intent := domain.ListTables(targetDatabase(q, view), p.Confidence, domain.ProvenancePattern)
			intent.Pattern = p.Name
			return intent, true
		}

		hint := string(p.Regex.ExpandString(nil, p.TableHint, q, loc))
		db, table, ok := resolveTable(hint, view)
		if !ok {
			continue
		}

		groups := submatches(q, loc)
		stmt := strings.NewReplacer(
			"{table}", table,
			"{column}", group(groups, p.ColumnGroup, defaultColumn),
			"{value}", escapeLiteral(group(groups, p.ValueGroup, "")),
			"{limit}", group(groups, p.LimitGroup, defaultLimit),
		).Replace(p.Statement)

		intent := domain.Execute(db, table, stmt, p.Confidence, domain.ProvenancePattern)
		intent.Pattern = p.Name
		return intent, true
	}
	return nil, false
}

// targetDatabase picks the first alias named in the query, else the first
// alias overall.
func targetDatabase(q string, view domain.SchemaView) string {
	aliases := view.Aliases()
	for _, alias := range aliases {
		if strings.Contains(q, strings.ToLower(alias)) {
			return alias
		}
	}
	return aliases[0]
}

// resolveTable finds the first table whose name contains the hint or is
// contained in it.
func resolveTable(hint string, view domain.SchemaView) (string, string, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" {
		return "", "", false
	}
	for _, alias := range view.Aliases() {
		for _, table := range view[alias].Tables() {
			name := strings.ToLower(table)
			if strings.Contains(name, hint) || strings.Contains(hint, name) {
				return alias, table, true
			}
		}
	}
	return "", "", false
}

func submatches(q string, loc []int) []string {
	out := make([]string, len(loc)/2)
	for i := range out {
		if loc[2*i] >= 0 {
			out[i] = q[loc[2*i]:loc[2*i+1]]
		}
	}
	return out
}

func group(groups []string, idx int, def string) string {
	if idx <= 0 || idx >= len(groups) || groups[idx] == "" {
		return def
	}
	return groups[idx]
}

func escapeLiteral(v string) string {
	return strings.ReplaceAll(strings.TrimSpace(v), "'", "''")
}
