package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	memori "github.com/memorilabs/memori"
	"github.com/memorilabs/memori/internal/llm"
)

func newTestServer(t *testing.T, mock *llm.MockClient) (*httptest.Server, *memori.Orchestrator) {
	t.Helper()

	orc, err := memori.Open(context.Background(), memori.Config{
		DatabaseURI:    "sqlite://:memory:",
		Namespace:      "httpapi",
		AutoIngest:     true,
		AnalysisClient: mock,
		Workers:        1,
		SchemaInit:     true,
		Logger:         zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = orc.Close() })

	srv := httptest.NewServer(NewRouter(orc, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, orc
}

func extractionJSON(summary, content string) string {
	return fmt.Sprintf(`{"store":true,"summary":%q,"searchable_content":%q,"category":"fact",
		"importance":"medium","classification":"conversational","promotion_eligible":false,"retention":"long_term"}`,
		summary, content)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient())

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sqlite", body["dialect"])
}

func TestRecordTurnAndSearch(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{extractionJSON("User prefers Go", "The user prefers writing services in Go")}
	srv, orc := newTestServer(t, mock)

	resp := postJSON(t, srv.URL+"/v1/turns", recordTurnRequest{
		SessionID: "web-1",
		UserInput: "I prefer Go for services",
		AIOutput:  "Noted",
		Model:     "gpt-4o-mini",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created recordTurnResponse
	decodeBody(t, resp, &created)
	assert.NotEmpty(t, created.TurnID)

	// Extraction is asynchronous.
	require.Eventually(t, func() bool {
		stats, err := orc.Stats(context.Background())
		return err == nil && stats.LongTermCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(srv.URL + "/v1/memories/search?q=Go+services")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var found searchResponse
	decodeBody(t, resp, &found)
	require.Equal(t, 1, found.Count)
	assert.Contains(t, found.Results[0].SearchableContent, "Go")
}

func TestRecordTurnRejectsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient())

	resp := postJSON(t, srv.URL+"/v1/turns", recordTurnRequest{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient())

	resp, err := http.Get(srv.URL + "/v1/memories/search")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/v1/memories/search?q=x&limit=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient())

	resp := postJSON(t, srv.URL+"/v1/turns", recordTurnRequest{UserInput: "hi", AIOutput: "hello"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(srv.URL + "/v1/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats memori.MemoryStats
	decodeBody(t, resp, &stats)
	assert.Equal(t, "httpapi", stats.Namespace)
	assert.Equal(t, 1, stats.ChatCount)
}

func TestClear(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{extractionJSON("A fact", "A stored fact about the user")}
	srv, orc := newTestServer(t, mock)

	resp := postJSON(t, srv.URL+"/v1/turns", recordTurnRequest{UserInput: "a fact", AIOutput: "ok"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, func() bool {
		stats, err := orc.Stats(context.Background())
		return err == nil && stats.LongTermCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/memories/?type=all", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats, err := orc.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.LongTermCount)
	assert.Zero(t, stats.ChatCount)
}

func TestClearRejectsUnknownKind(t *testing.T) {
	srv, _ := newTestServer(t, llm.NewMockClient())

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/memories/?type=everything", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAugment(t *testing.T) {
	mock := llm.NewMockClient()
	mock.Responses = []string{extractionJSON("User deploys on Kubernetes", "The user deploys services on Kubernetes")}
	srv, orc := newTestServer(t, mock)

	_, err := orc.RecordSession("seed", "we deploy on kubernetes", "got it", "", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := orc.Stats(context.Background())
		return err == nil && stats.LongTermCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	resp := postJSON(t, srv.URL+"/v1/messages/augment", augmentRequest{
		SessionID: "web-2",
		Messages:  []memori.Message{{Role: "user", Content: "how do we deploy kubernetes services"}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out augmentResponse
	decodeBody(t, resp, &out)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, "system", out.Messages[0].Role)
	assert.Contains(t, out.Messages[0].Content, "Kubernetes")
}
