package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/querydeck/querydeck/internal/domain"
)

const systemPromptTemplate = `You translate questions about relational databases into SQL.

The user has access to the following databases. The JSON maps each database
name to its tables, and each table to its columns:

%s

Answer with exactly one JSON object and nothing else, in one of two forms:

1. To run a query:
   {"db": "<database name>", "table": "<main table>", "query": "<SQL statement>"}
2. To list the tables of a database:
   {"action": "list_tables", "db": "<database name>"}

Rules:
- Use only databases, tables and columns that appear above.
- Generate a single read-only SELECT statement.
- Limit results to at most 100 rows unless the user asks for a count or a
  specific number of rows.
- Do not wrap the JSON in markdown and do not add explanations.`

// buildSystemPrompt renders the schema view into the instruction prompt.
// encoding/json sorts map keys, so the prompt is stable for a given view.
func buildSystemPrompt(view domain.SchemaView) (string, error) {
	compact := make(map[string]map[string][]string, len(view))
	for alias, tables := range view {
		db := make(map[string][]string, len(tables))
		for table, cols := range tables {
			names := make([]string, len(cols))
			for i, col := range cols {
				names[i] = fmt.Sprintf("%s (%s)", col.Name, col.DataType)
			}
			db[table] = names
		}
		compact[alias] = db
	}

	schemaJSON, err := json.MarshalIndent(compact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}
	return fmt.Sprintf(systemPromptTemplate, schemaJSON), nil
}

// buildMessages assembles the system prompt, the most recent history turns
// and the question.
func buildMessages(system, query string, history []domain.Message, maxHistory int) []chatMessage {
	messages := []chatMessage{{Role: "system", Content: system}}

	var turns []domain.Message
	for _, m := range history {
		role := strings.ToLower(strings.TrimSpace(m.Role))
		if (role != "user" && role != "assistant") || strings.TrimSpace(m.Content) == "" {
			continue
		}
		turns = append(turns, domain.Message{Role: role, Content: m.Content})
	}
	if maxHistory >= 0 && len(turns) > maxHistory {
		turns = turns[len(turns)-maxHistory:]
	}
	for _, m := range turns {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	return append(messages, chatMessage{Role: "user", Content: query})
}
