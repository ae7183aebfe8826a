package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// llmEndpoints is the allow-list of hosts the transport inspects. Anything
// else passes through untouched.
var llmEndpoints = map[string]bool{
	"api.openai.com":    true,
	"api.anthropic.com": true,
}

// Transport is the fallback integration: an http.RoundTripper that inspects
// outgoing chat-completion calls, injects context into the request body and
// captures the finalized response. Parsing is generic over the OpenAI and
// Anthropic wire shapes; anything unrecognized passes through.
type Transport struct {
	base        http.RoundTripper
	interceptor Interceptor
	sessionID   string
	logger      *zap.Logger
}

func NewTransport(base http.RoundTripper, sessionID string, ic Interceptor, logger *zap.Logger) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{
		base:        base,
		interceptor: ic,
		sessionID:   sessionID,
		logger:      logger,
	}
}

// wireMessage is the shared request message shape of both supported APIs.
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || !llmEndpoints[req.URL.Hostname()] || req.Body == nil {
		return t.base.RoundTrip(req)
	}

	start := time.Now()
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, err
	}

	body, userInput, model := t.injectContext(req.Context(), body)
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))

	resp, err := t.base.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	if output, responseID, ok := parseResponse(respBody); ok {
		cap := &Capture{
			SessionID:  t.sessionID,
			Model:      model,
			UserInput:  userInput,
			AIOutput:   output,
			ResponseID: responseID,
			Duration:   time.Since(start),
			Timestamp:  time.Now().UTC(),
		}
		t.safely(func() { t.interceptor.AfterResponse(req.Context(), cap) })
	}
	return resp, nil
}

// injectContext runs the pre-hook over the parsed request body and returns
// the possibly rewritten body plus the original user input and model. Any
// parse trouble leaves the body untouched.
func (t *Transport) injectContext(ctx context.Context, body []byte) ([]byte, string, string) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, "", ""
	}

	var model string
	if raw, ok := payload["model"]; ok {
		_ = json.Unmarshal(raw, &model)
	}
	var wire []wireMessage
	if raw, ok := payload["messages"]; ok {
		if err := json.Unmarshal(raw, &wire); err != nil {
			return body, "", model
		}
	}

	messages := make([]domain.Message, 0, len(wire))
	for _, m := range wire {
		messages = append(messages, domain.Message{Role: m.Role, Content: m.Content})
	}
	userInput := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == domain.RoleUser {
			userInput = messages[i].Content
			break
		}
	}

	chatReq := &ChatRequest{Model: model, SessionID: t.sessionID, Messages: messages}
	t.safely(func() { t.interceptor.BeforeRequest(ctx, chatReq) })

	rewritten := make([]wireMessage, 0, len(chatReq.Messages))
	for _, m := range chatReq.Messages {
		rewritten = append(rewritten, wireMessage{Role: m.Role, Content: m.Content})
	}
	raw, err := json.Marshal(rewritten)
	if err != nil {
		return body, userInput, model
	}
	payload["messages"] = raw

	out, err := json.Marshal(payload)
	if err != nil {
		return body, userInput, model
	}
	return out, userInput, model
}

// parseResponse extracts the assistant text from either wire shape.
func parseResponse(body []byte) (output, responseID string, ok bool) {
	var openAIShape struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &openAIShape); err == nil && len(openAIShape.Choices) > 0 {
		return openAIShape.Choices[0].Message.Content, openAIShape.ID, true
	}

	var anthropicShape struct {
		ID      string `json:"id"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(body, &anthropicShape); err == nil && len(anthropicShape.Content) > 0 {
		return anthropicShape.Content[0].Text, anthropicShape.ID, true
	}
	return "", "", false
}

func (t *Transport) safely(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("transport hook panicked", zap.Any("panic", rec))
		}
	}()
	fn()
}
