package llm

import (
	"context"

	"github.com/memorilabs/memori/internal/domain"
)

// MockClient is a configurable analysis client for testing.
// Set Response/Err to control what Chat returns; queue Responses for
// sequential calls.
type MockClient struct {
	Response  string
	Responses []string
	Err       error

	// Call tracking for assertions
	Calls []MockCall
}

type MockCall struct {
	Messages []domain.Message
	Options  domain.ChatOptions
}

func NewMockClient() *MockClient {
	return &MockClient{Response: "{}"}
}

func (c *MockClient) Chat(ctx context.Context, messages []domain.Message, opts domain.ChatOptions) (string, error) {
	c.Calls = append(c.Calls, MockCall{Messages: messages, Options: opts})
	if c.Err != nil {
		return "", c.Err
	}
	if len(c.Responses) > 0 {
		next := c.Responses[0]
		c.Responses = c.Responses[1:]
		return next, nil
	}
	return c.Response, nil
}

// Reset clears recorded calls and restores defaults.
func (c *MockClient) Reset() {
	c.Response = "{}"
	c.Responses = nil
	c.Err = nil
	c.Calls = nil
}
