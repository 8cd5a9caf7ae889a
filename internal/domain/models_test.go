package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaView_AliasesSorted(t *testing.T) {
	view := SchemaView{
		"warehouse": {},
		"analytics": {},
		"crm":       {},
	}
	assert.Equal(t, []string{"analytics", "crm", "warehouse"}, view.Aliases())
	assert.False(t, view.Empty())
	assert.True(t, SchemaView{}.Empty())
}

func TestResult_Stripped(t *testing.T) {
	r := &Result{DB: "hr", Source: SourcePatternMatch, Similarity: 0.9, OriginalQuery: "q", Confidence: 0.9}
	s := r.Stripped()

	assert.Equal(t, "hr", s.DB)
	assert.Empty(t, s.Source)
	assert.Zero(t, s.Similarity)
	assert.Empty(t, s.OriginalQuery)
	assert.Zero(t, s.Confidence)
	assert.Equal(t, SourcePatternMatch, r.Source, "original must be untouched")
}

func TestResult_Kind(t *testing.T) {
	assert.Equal(t, "query", (&Result{}).Kind())
	assert.Equal(t, "list_tables", (&Result{Action: ActionListTables}).Kind())
}

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("process: %w", LLMInvalidResponse("missing key", nil))
	assert.Equal(t, KindLLMInvalidResponse, KindOf(err))
	assert.True(t, IsKind(err, KindLLMInvalidResponse))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestDomainError_Message(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := LLMUnavailable("resolver unreachable", cause)
	assert.Equal(t, "[llm_unavailable] resolver unreachable: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[schema_unavailable] none", SchemaUnavailable("none", nil).Error())
}
