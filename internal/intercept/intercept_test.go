package intercept

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// recordingInterceptor injects a system message pre-request and records
// captures post-response.
type recordingInterceptor struct {
	mu       sync.Mutex
	inject   string
	panicPre bool
	captures []*Capture
}

func (r *recordingInterceptor) BeforeRequest(ctx context.Context, req *ChatRequest) {
	if r.panicPre {
		panic("hook blew up")
	}
	if r.inject != "" {
		sys := domain.Message{Role: domain.RoleSystem, Content: r.inject}
		req.Messages = append([]domain.Message{sys}, req.Messages...)
	}
}

func (r *recordingInterceptor) AfterResponse(ctx context.Context, cap *Capture) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, cap)
}

func (r *recordingInterceptor) captured() []*Capture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Capture(nil), r.captures...)
}

func TestRegistryFireAndUnregister(t *testing.T) {
	reg := NewRegistry(zap.NewNop())

	var preCalls, postCalls int
	unPre := reg.RegisterPre(func(ctx context.Context, req *ChatRequest) {
		preCalls++
		req.Messages = append(req.Messages, domain.Message{Role: domain.RoleSystem, Content: "added"})
	})
	unPost := reg.RegisterPost(func(ctx context.Context, cap *Capture) { postCalls++ })
	assert.Equal(t, 2, reg.Size())

	req := &ChatRequest{Model: "m"}
	reg.FirePre(context.Background(), req)
	reg.FirePost(context.Background(), &Capture{})
	assert.Equal(t, 1, preCalls)
	assert.Equal(t, 1, postCalls)
	assert.Len(t, req.Messages, 1)

	unPre()
	unPost()
	assert.Zero(t, reg.Size())

	reg.FirePre(context.Background(), req)
	reg.FirePost(context.Background(), &Capture{})
	assert.Equal(t, 1, preCalls)
	assert.Equal(t, 1, postCalls)
}

func TestRegistryFailOpenOnPanic(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.RegisterPre(func(ctx context.Context, req *ChatRequest) { panic("boom") })

	called := false
	reg.RegisterPre(func(ctx context.Context, req *ChatRequest) { called = true })

	assert.NotPanics(t, func() { reg.FirePre(context.Background(), &ChatRequest{}) })
	assert.True(t, called)
}

func TestDeduperByResponseID(t *testing.T) {
	d := NewDeduper()
	cap := &Capture{ResponseID: "resp-1", Timestamp: time.Now()}

	assert.True(t, d.FirstSighting(cap))
	assert.False(t, d.FirstSighting(cap))
	assert.True(t, d.FirstSighting(&Capture{ResponseID: "resp-2", Timestamp: time.Now()}))
}

func TestDeduperByContentHash(t *testing.T) {
	d := NewDeduper()
	now := time.Unix(1700000000, 0)

	a := &Capture{SessionID: "s1", UserInput: "hello", Timestamp: now}
	b := &Capture{SessionID: "s1", UserInput: "hello", Timestamp: now.Add(100 * time.Millisecond)}
	c := &Capture{SessionID: "s1", UserInput: "different", Timestamp: now}

	assert.True(t, d.FirstSighting(a))
	assert.False(t, d.FirstSighting(b))
	assert.True(t, d.FirstSighting(c))
}

func newOpenAIServer(t *testing.T, lastBody *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*lastBody = body
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-123",
			"object":  "chat.completion",
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{"index": 0, "message": map[string]any{"role": "assistant", "content": "hi from server"}, "finish_reason": "stop"}},
			"usage":   map[string]any{"total_tokens": 42},
		})
	}))
}

func newWrappedClient(baseURL string, ic Interceptor) *ChatClient {
	cfg := openai.DefaultConfig("test-key")
	cfg.BaseURL = baseURL + "/v1"
	return WrapOpenAI(openai.NewClientWithConfig(cfg), "sess-1", ic, zap.NewNop())
}

func TestChatClientInterception(t *testing.T) {
	var lastBody []byte
	srv := newOpenAIServer(t, &lastBody)
	defer srv.Close()

	ic := &recordingInterceptor{inject: "injected context"}
	client := newWrappedClient(srv.URL, ic)

	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "what do you know"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi from server", resp.Choices[0].Message.Content)

	// The injected system message went over the wire.
	var sent struct {
		Messages []wireMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(lastBody, &sent))
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Equal(t, "injected context", sent.Messages[0].Content)

	caps := ic.captured()
	require.Len(t, caps, 1)
	assert.Equal(t, "what do you know", caps[0].UserInput)
	assert.Equal(t, "hi from server", caps[0].AIOutput)
	assert.Equal(t, "chatcmpl-123", caps[0].ResponseID)
	assert.Equal(t, 42, caps[0].Tokens)
	assert.Equal(t, "sess-1", caps[0].SessionID)
}

func TestChatClientFailOpenOnHookPanic(t *testing.T) {
	var lastBody []byte
	srv := newOpenAIServer(t, &lastBody)
	defer srv.Close()

	ic := &recordingInterceptor{panicPre: true}
	client := newWrappedClient(srv.URL, ic)

	resp, err := client.CreateChatCompletion(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi from server", resp.Choices[0].Message.Content)
}

func TestChatClientStreamAccumulates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"hel"}}]}`,
			`{"id":"chatcmpl-s1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		}
		for _, c := range chunks {
			_, _ = io.WriteString(w, "data: "+c+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ic := &recordingInterceptor{}
	client := newWrappedClient(srv.URL, ic)

	stream, err := client.CreateChatCompletionStream(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Stream:   true,
		Messages: []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "say hello"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	for {
		_, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	caps := ic.captured()
	require.Len(t, caps, 1)
	assert.Equal(t, "hello", caps[0].AIOutput)
	assert.Equal(t, "say hello", caps[0].UserInput)
	assert.Equal(t, "chatcmpl-s1", caps[0].ResponseID)
}

func TestTransportInterceptsAllowedHost(t *testing.T) {
	var lastBody []byte
	srv := newOpenAIServer(t, &lastBody)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	llmEndpoints[u.Hostname()] = true
	defer delete(llmEndpoints, u.Hostname())

	ic := &recordingInterceptor{inject: "transport context"}
	client := &http.Client{Transport: NewTransport(nil, "sess-t", ic, zap.NewNop())}

	payload := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"ping"}]}`
	resp, err := client.Post(srv.URL+"/v1/chat/completions", "application/json", strings.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Request body was rewritten with the injected message.
	var sent struct {
		Messages []wireMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(lastBody, &sent))
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "transport context", sent.Messages[0].Content)

	// Response body is still readable by the caller.
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(respBody), "hi from server")

	caps := ic.captured()
	require.Len(t, caps, 1)
	assert.Equal(t, "ping", caps[0].UserInput)
	assert.Equal(t, "hi from server", caps[0].AIOutput)
	assert.Equal(t, "gpt-4o-mini", caps[0].Model)
}

func TestTransportPassesThroughUnknownHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "plain")
	}))
	defer srv.Close()

	ic := &recordingInterceptor{}
	client := &http.Client{Transport: NewTransport(nil, "sess-t", ic, zap.NewNop())}

	resp, err := client.Post(srv.URL, "application/json", strings.NewReader(`{"messages":[]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, ic.captured())
}
