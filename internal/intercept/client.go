package intercept

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/memorilabs/memori/internal/domain"
)

// Interceptor receives the pre- and post-request callbacks. Implementations
// must tolerate concurrent calls.
type Interceptor interface {
	BeforeRequest(ctx context.Context, req *ChatRequest)
	AfterResponse(ctx context.Context, cap *Capture)
}

// ChatClient wraps a go-openai client and runs interception around the chat
// completion entry points. Every other method passes through the embedded
// client untouched. Interceptor failures never break the underlying call.
type ChatClient struct {
	*openai.Client
	interceptor Interceptor
	sessionID   string
	logger      *zap.Logger
}

func WrapOpenAI(client *openai.Client, sessionID string, ic Interceptor, logger *zap.Logger) *ChatClient {
	return &ChatClient{
		Client:      client,
		interceptor: ic,
		sessionID:   sessionID,
		logger:      logger,
	}
}

func (c *ChatClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	start := time.Now()
	userInput := lastUserContent(req.Messages)

	chatReq := &ChatRequest{
		Model:     req.Model,
		SessionID: c.sessionID,
		Messages:  fromOpenAIMessages(req.Messages),
	}
	c.safely("pre", func() { c.interceptor.BeforeRequest(ctx, chatReq) })
	req.Messages = toOpenAIMessages(chatReq.Messages)

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return resp, err
	}

	output := ""
	if len(resp.Choices) > 0 {
		output = resp.Choices[0].Message.Content
	}
	cap := &Capture{
		SessionID:  c.sessionID,
		Model:      req.Model,
		UserInput:  userInput,
		AIOutput:   output,
		ResponseID: resp.ID,
		Tokens:     resp.Usage.TotalTokens,
		Duration:   time.Since(start),
		Timestamp:  time.Now().UTC(),
	}
	c.safely("post", func() { c.interceptor.AfterResponse(ctx, cap) })
	return resp, nil
}

// CreateChatCompletionStream intercepts the request and returns a stream
// that accumulates the final text, firing the post-hook once the stream
// finishes.
func (c *ChatClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*ChatStream, error) {
	start := time.Now()
	userInput := lastUserContent(req.Messages)

	chatReq := &ChatRequest{
		Model:     req.Model,
		SessionID: c.sessionID,
		Messages:  fromOpenAIMessages(req.Messages),
	}
	c.safely("pre", func() { c.interceptor.BeforeRequest(ctx, chatReq) })
	req.Messages = toOpenAIMessages(chatReq.Messages)

	inner, err := c.Client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return &ChatStream{
		ChatCompletionStream: inner,
		client:               c,
		ctx:                  ctx,
		model:                req.Model,
		userInput:            userInput,
		start:                start,
	}, nil
}

// ChatStream accumulates streamed deltas so the finalized message can be
// captured. Streaming semantics are otherwise unchanged.
type ChatStream struct {
	*openai.ChatCompletionStream
	client *ChatClient
	ctx    context.Context

	model      string
	userInput  string
	start      time.Time
	responseID string
	buf        strings.Builder
	captured   bool
}

func (s *ChatStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	resp, err := s.ChatCompletionStream.Recv()
	if err == nil {
		if resp.ID != "" {
			s.responseID = resp.ID
		}
		if len(resp.Choices) > 0 {
			s.buf.WriteString(resp.Choices[0].Delta.Content)
		}
		return resp, nil
	}
	if errors.Is(err, io.EOF) && !s.captured {
		s.captured = true
		cap := &Capture{
			SessionID:  s.client.sessionID,
			Model:      s.model,
			UserInput:  s.userInput,
			AIOutput:   s.buf.String(),
			ResponseID: s.responseID,
			Duration:   time.Since(s.start),
			Timestamp:  time.Now().UTC(),
		}
		s.client.safely("post", func() { s.client.interceptor.AfterResponse(s.ctx, cap) })
	}
	return resp, err
}

func (c *ChatClient) safely(kind string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("client hook panicked",
				zap.String("hook", kind),
				zap.Any("panic", rec))
		}
	}()
	fn()
}

func lastUserContent(messages []openai.ChatCompletionMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.ChatMessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func fromOpenAIMessages(in []openai.ChatCompletionMessage) []domain.Message {
	out := make([]domain.Message, 0, len(in))
	for _, m := range in {
		out = append(out, domain.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func toOpenAIMessages(in []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
