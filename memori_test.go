package memori

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/llm"
)

func testConfig(mock AnalysisClient) Config {
	return Config{
		DatabaseURI:    "sqlite://:memory:",
		Namespace:      "test",
		AnalysisClient: mock,
		Workers:        1,
		AgentInterval:  time.Hour,
		SchemaInit:     true,
		Logger:         zap.NewNop(),
	}
}

func openTest(t *testing.T, cfg Config) *Orchestrator {
	t.Helper()
	o, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return o
}

func consciousExtraction(content, importance string) string {
	return fmt.Sprintf(`{"store":true,"summary":%q,"searchable_content":%q,"category":"fact",
		"importance":%q,"classification":"conscious_info","promotion_eligible":true,"retention":"long_term"}`,
		content, content, importance)
}

func waitStats(t *testing.T, o *Orchestrator, cond func(*MemoryStats) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := o.Stats(context.Background())
		return err == nil && cond(stats)
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Namespace: "x", AnalysisProvider: ProviderMock})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{DatabaseURI: "sqlite://:memory:"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{
		DatabaseURI:      "oracle://somewhere/db",
		AnalysisProvider: ProviderMock,
	})
	assert.Error(t, err)
}

func TestConsciousOneShotInjection(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{
		consciousExtraction("user name is Alice", "critical"),
		consciousExtraction("works at Foo", "high"),
		consciousExtraction("prefers Python", "medium"),
	}
	cfg := testConfig(mock)
	cfg.ConsciousIngest = true
	o := openTest(t, cfg)

	for i, input := range []string{"I am Alice", "I work at Foo", "I like Python"} {
		_, err := o.Record(input, fmt.Sprintf("noted %d", i), "gpt-4o-mini", nil)
		require.NoError(t, err)
	}
	waitStats(t, o, func(s *MemoryStats) bool { return s.LongTermCount == 3 })

	_, err := o.Enable(HookExplicit)
	require.NoError(t, err)
	waitStats(t, o, func(s *MemoryStats) bool { return s.WorkingCount == 3 })

	out := o.AddToMessages(context.Background(), "s1", []Message{{Role: "user", Content: "hi"}}, "")
	require.Len(t, out, 2)
	require.Equal(t, "system", out[0].Role)

	body := out[0].Content
	alice := strings.Index(body, "user name is Alice")
	foo := strings.Index(body, "works at Foo")
	py := strings.Index(body, "prefers Python")
	assert.True(t, alice >= 0 && alice < foo && foo < py, "importance-desc order, got:\n%s", body)

	// Same session: no re-injection.
	again := o.AddToMessages(context.Background(), "s1", []Message{{Role: "user", Content: "hello"}}, "")
	require.Len(t, again, 1)
	assert.Equal(t, "hello", again[0].Content)
}

func TestEnableTwiceDoesNotDoublePopulate(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Response = consciousExtraction("standing fact", "high")
	cfg := testConfig(mock)
	cfg.ConsciousIngest = true
	o := openTest(t, cfg)

	_, err := o.Record("remember this", "ok", "m", nil)
	require.NoError(t, err)
	waitStats(t, o, func(s *MemoryStats) bool { return s.LongTermCount == 1 })

	_, err = o.Enable(HookNative)
	require.NoError(t, err)
	report, err := o.Enable(HookNative)
	require.NoError(t, err)
	require.Len(t, report.Hooks, 1)
	assert.True(t, report.Hooks[0].Installed)

	waitStats(t, o, func(s *MemoryStats) bool { return s.WorkingCount == 1 })
	time.Sleep(50 * time.Millisecond)
	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.WorkingCount)
}

func TestAutoRetrievalInjection(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{
		`{"store":true,"summary":"kubernetes deployments","searchable_content":"the user deploys workloads on kubernetes","category":"skill","importance":"high","classification":"conversational","retention":"long_term"}`,
		`{"store":true,"summary":"pytorch training","searchable_content":"the user trains models with pytorch","category":"skill","importance":"high","classification":"conversational","retention":"long_term"}`,
	}
	cfg := testConfig(mock)
	cfg.AutoIngest = true
	o := openTest(t, cfg)

	_, err := o.Record("I deploy on kubernetes", "great", "m", nil)
	require.NoError(t, err)
	_, err = o.Record("I train with pytorch", "great", "m", nil)
	require.NoError(t, err)
	waitStats(t, o, func(s *MemoryStats) bool { return s.LongTermCount == 2 })

	out := o.AddToMessages(context.Background(), "s2", []Message{{Role: "user", Content: "tell me about kubernetes"}}, "")
	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "kubernetes")
	assert.NotContains(t, out[0].Content, "pytorch")
}

func TestDedupOnRecord(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{
		`{"store":true,"summary":"User name is Bob","searchable_content":"User name is Bob","category":"fact","importance":"medium","classification":"conversational","retention":"long_term"}`,
		`{"store":true,"summary":"user name is bob","searchable_content":"user name is bob","category":"fact","importance":"medium","classification":"conversational","retention":"long_term"}`,
	}
	o := openTest(t, testConfig(mock))

	_, err := o.Record("my name is Bob", "hi Bob", "m", nil)
	require.NoError(t, err)
	_, err = o.Record("I said my name is Bob", "yes, Bob", "m", nil)
	require.NoError(t, err)
	waitStats(t, o, func(s *MemoryStats) bool { return s.LongTermCount == 2 })

	results, err := o.Search(context.Background(), "Bob", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestClearNamespace(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Response = `{"store":false}`
	o := openTest(t, testConfig(mock))

	for i := 0; i < 10; i++ {
		_, err := o.Record(fmt.Sprintf("turn %d", i), "ok", "m", nil)
		require.NoError(t, err)
	}
	waitStats(t, o, func(s *MemoryStats) bool { return s.ChatCount == 10 })

	require.NoError(t, o.Clear(context.Background(), "all"))

	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.ChatCount)
	assert.Zero(t, stats.ShortTermCount)
	assert.Zero(t, stats.LongTermCount)
	assert.Zero(t, stats.WorkingCount)

	results, err := o.Search(context.Background(), "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchBounds(t *testing.T) {
	mock := llm.NewMockClient()
	o := openTest(t, testConfig(mock))

	results, err := o.Search(context.Background(), "empty store", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = o.Search(context.Background(), "", 5)
	assert.Error(t, err)
}

func TestStatsMatchesPipelineStored(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{
		`{"store":true,"summary":"short lived","searchable_content":"short lived detail","category":"context","importance":"low","classification":"conversational","retention":"short_term"}`,
		`{"store":true,"summary":"long lived","searchable_content":"long lived fact","category":"fact","importance":"high","classification":"conversational","retention":"long_term"}`,
	}
	o := openTest(t, testConfig(mock))

	_, err := o.Record("a", "b", "m", nil)
	require.NoError(t, err)
	_, err = o.Record("c", "d", "m", nil)
	require.NoError(t, err)

	waitStats(t, o, func(s *MemoryStats) bool {
		return int64(s.ShortTermCount+s.LongTermCount) == 2
	})
	assert.Equal(t, int64(2), o.pipe.Stored())
}

func newFakeOpenAI(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano()),
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": "a normal response"}, "finish_reason": "stop"}},
		})
	}))
}

func TestFailOpenInterception(t *testing.T) {
	srv := newFakeOpenAI(t)
	defer srv.Close()

	mock := llm.NewMockClient()
	mock.Err = errors.New("analysis permanently down")
	o := openTest(t, testConfig(mock))
	_, err := o.Enable(HookSubclass)
	require.NoError(t, err)

	apiCfg := openai.DefaultConfig("key")
	apiCfg.BaseURL = srv.URL + "/v1"
	client := o.WrapOpenAI(openai.NewClientWithConfig(apiCfg), "s5")

	for i := 0; i < 5; i++ {
		resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
			Model:    "gpt-4o-mini",
			Messages: []openai.ChatCompletionMessage{{Role: "user", Content: fmt.Sprintf("request %d", i)}},
		})
		require.NoError(t, err)
		assert.Equal(t, "a normal response", resp.Choices[0].Message.Content)
	}

	waitStats(t, o, func(s *MemoryStats) bool { return s.ChatCount == 5 })
	stats, err := o.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.LongTermCount)
	assert.Equal(t, int64(5), stats.DroppedExtractions)
}

func TestDisableRestoresState(t *testing.T) {
	mock := llm.NewMockClient()
	cfg := testConfig(mock)
	cfg.ConsciousIngest = true
	o := openTest(t, cfg)

	require.Zero(t, o.Hooks().Size())
	_, err := o.Enable(HookNative)
	require.NoError(t, err)
	assert.Equal(t, 2, o.Hooks().Size())
	assert.Contains(t, ActiveInstances(), o)

	o.Disable()
	assert.Zero(t, o.Hooks().Size())
	assert.NotContains(t, ActiveInstances(), o)
	assert.False(t, o.Enabled())

	// Idempotent.
	o.Disable()

	_, err = o.Enable(HookNative)
	assert.Error(t, err)
}

func TestRecordValidation(t *testing.T) {
	o := openTest(t, testConfig(llm.NewMockClient()))
	_, err := o.Record("", "", "m", nil)
	assert.Error(t, err)
}

func TestMetadataRoundTrip(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Response = `{"store":false}`
	o := openTest(t, testConfig(mock))

	_, err := o.Record("q", "a", "m", map[string]any{"source": "cli", "attempt": float64(2)})
	require.NoError(t, err)
	waitStats(t, o, func(s *MemoryStats) bool { return s.ChatCount == 1 })

	history, err := o.store.GetChatHistory(context.Background(), "test", DefaultSession, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, map[string]any{"source": "cli", "attempt": float64(2)}, history[0].Metadata)
}
