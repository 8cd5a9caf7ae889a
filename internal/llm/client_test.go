package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querydeck/querydeck/internal/domain"
	"github.com/querydeck/querydeck/internal/retry"
)

func testView() domain.SchemaView {
	return domain.SchemaView{
		"main": domain.DatabaseSchema{
			"users": {{Name: "id", DataType: "integer"}, {Name: "email", DataType: "text"}},
		},
	}
}

type chatServer struct {
	calls    int32
	failures int
	status   int
	reply    string
	lastReq  chatRequest
}

func (s *chatServer) start(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&s.calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		if int(n) <= s.failures {
			w.WriteHeader(s.status)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&s.lastReq))
		_, _ = w.Write([]byte(`{"id":"c1","choices":[{"message":{"role":"assistant","content":` + jsonString(s.reply) + `},"finish_reason":"stop"}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func newTestClient(url string) *Client {
	return NewClient(Config{
		APIKey:  "k",
		BaseURL: url,
		Retry:   retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	})
}

func TestResolve_Execute(t *testing.T) {
	s := &chatServer{reply: `{"db": "main", "table": "users", "query": "SELECT COUNT(*) FROM users;"}`}
	c := newTestClient(s.start(t).URL)

	history := []domain.Message{
		{Role: "user", Content: "list users"},
		{Role: "assistant", Content: "done"},
	}
	got, err := c.Resolve(context.Background(), "how many users signed up?", testView(), history)
	require.NoError(t, err)

	assert.Equal(t, domain.ActionExecute, got.Action)
	assert.Equal(t, "main", got.Database)
	assert.Equal(t, "users", got.Table)
	assert.Equal(t, "SELECT COUNT(*) FROM users;", got.Statement)
	assert.Equal(t, domain.ProvenanceLLM, got.Provenance)

	msgs := s.lastReq.Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "email (text)")
	assert.Equal(t, "how many users signed up?", msgs[3].Content)
	assert.Equal(t, "gpt-4o-mini", s.lastReq.Model)
}

func TestResolve_ListTablesInCodeFence(t *testing.T) {
	s := &chatServer{reply: "```json\n{\"action\": \"list_tables\", \"db\": \"main\"}\n```"}
	c := newTestClient(s.start(t).URL)

	got, err := c.Resolve(context.Background(), "what tables do I have", testView(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionListTables, got.Action)
	assert.Equal(t, "main", got.Database)
}

func TestResolve_InvalidReply(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{name: "prose", reply: "SELECT * FROM users"},
		{name: "missing query", reply: `{"db": "main", "table": "users"}`},
		{name: "missing db", reply: `{"table": "users", "query": "SELECT 1"}`},
		{name: "broken json", reply: `{"db": "main",`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &chatServer{reply: tt.reply}
			c := newTestClient(s.start(t).URL)

			_, err := c.Resolve(context.Background(), "q", testView(), nil)
			require.Error(t, err)
			assert.Equal(t, domain.KindLLMInvalidResponse, domain.KindOf(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(&s.calls), "invalid replies are not retried")
		})
	}
}

func TestResolve_RetriesThenUnavailable(t *testing.T) {
	s := &chatServer{failures: 10, status: http.StatusBadGateway}
	c := newTestClient(s.start(t).URL)

	_, err := c.Resolve(context.Background(), "q", testView(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindLLMUnavailable, domain.KindOf(err))
	assert.Equal(t, int32(3), atomic.LoadInt32(&s.calls))
}

func TestResolve_RecoversAfterTransientFailure(t *testing.T) {
	s := &chatServer{failures: 1, status: http.StatusTooManyRequests, reply: `{"db":"main","table":"users","query":"SELECT 1"}`}
	c := newTestClient(s.start(t).URL)

	_, err := c.Resolve(context.Background(), "q", testView(), nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&s.calls))
}

func TestResolve_TransportFailure(t *testing.T) {
	c := newTestClient("http://127.0.0.1:1")

	_, err := c.Resolve(context.Background(), "q", testView(), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindLLMUnavailable, domain.KindOf(err))
}

func TestParseReply_TrailingProse(t *testing.T) {
	got, err := parseReply(`Sure! {"db":"main","table":"users","query":"SELECT 1"} Hope this helps.`)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", got.Statement)
}

func TestBuildMessages_CapsHistory(t *testing.T) {
	var history []domain.Message
	for i := 0; i < 20; i++ {
		history = append(history, domain.Message{Role: "user", Content: strings.Repeat("x", i+1)})
	}
	history = append(history, domain.Message{Role: "tool", Content: "ignored"}, domain.Message{Role: "assistant", Content: " "})

	msgs := buildMessages("sys", "question", history, 12)
	require.Len(t, msgs, 14)
	assert.Equal(t, strings.Repeat("x", 9), msgs[1].Content)
	assert.Equal(t, strings.Repeat("x", 20), msgs[12].Content)
	assert.Equal(t, "question", msgs[13].Content)
}

func TestBuildSystemPrompt_Stable(t *testing.T) {
	view := domain.SchemaView{
		"b": domain.DatabaseSchema{"t2": {{Name: "id", DataType: "int"}}},
		"a": domain.DatabaseSchema{"t1": {{Name: "id", DataType: "int"}}},
	}
	p1, err := buildSystemPrompt(view)
	require.NoError(t, err)
	p2, err := buildSystemPrompt(view)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Less(t, strings.Index(p1, `"a"`), strings.Index(p1, `"b"`))
}
