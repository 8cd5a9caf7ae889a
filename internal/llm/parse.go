package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/querydeck/querydeck/internal/domain"
)

// reply is the structured answer expected from the model.
type reply struct {
	Action string `json:"action"`
	DB     string `json:"db"`
	Table  string `json:"table"`
	Query  string `json:"query"`
}

var errNoJSON = errors.New("no JSON object in reply")

// parseReply extracts the first JSON object from content, tolerating
// markdown code fences and surrounding prose, and validates its keys.
func parseReply(content string) (*domain.ResolvedIntent, error) {
	text := strings.TrimSpace(content)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, errNoJSON
	}

	var r reply
	dec := json.NewDecoder(strings.NewReader(text[start:]))
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}

	return r.intent()
}

func (r reply) intent() (*domain.ResolvedIntent, error) {
	db := strings.TrimSpace(r.DB)
	if db == "" {
		return nil, errors.New("reply is missing \"db\"")
	}

	if strings.EqualFold(strings.TrimSpace(r.Action), string(domain.ActionListTables)) {
		return domain.ListTables(db, 0, domain.ProvenanceLLM), nil
	}

	stmt := strings.TrimSpace(r.Query)
	if stmt == "" {
		return nil, errors.New("reply is missing \"query\"")
	}
	table := strings.TrimSpace(r.Table)
	if table == "" {
		return nil, errors.New("reply is missing \"table\"")
	}
	return domain.Execute(db, table, stmt, 0, domain.ProvenanceLLM), nil
}
