package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatModel is what OpenAI-compatible agent gateways expect when the model is
// fixed server-side, as the DigitalOcean agent endpoints are.
const chatModel = "n/a"

// ChatCompleter is the subset of the OpenAI client the chat client needs.
// Declared as an interface for testability.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatClient converses with an OpenAI-compatible chat-completions endpoint.
// One Converse call is one turn exchange over the structured history.
type ChatClient struct {
	name   string
	model  string
	client ChatCompleter
}

// NewChatClient builds a chat client against the given endpoint. The endpoint
// is the agent's base URL; the OpenAI-compatible API root is under /api/v1.
func NewChatClient(name, endpoint, apiKey string) *ChatClient {
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = strings.TrimSuffix(endpoint, "/") + "/api/v1"
	return &ChatClient{
		name:   name,
		model:  chatModel,
		client: openai.NewClientWithConfig(cfg),
	}
}

// NewChatClientWith wraps an existing completer (useful for testing).
func NewChatClientWith(name string, client ChatCompleter) *ChatClient {
	return &ChatClient{name: name, model: chatModel, client: client}
}

// Name returns the logical agent name.
func (c *ChatClient) Name() string { return c.name }

// Converse sends the history as a chat-completions request and extracts the
// reply from the first choice. When the response shape is missing the
// expected field, the raw response is stringified instead of failing the
// exchange: an ugly reply beats a dropped one.
func (c *ChatClient) Converse(ctx context.Context, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, len(history))
	for i, m := range history {
		msgs[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return "", &UpstreamError{Agent: c.name, Err: err}
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return fmt.Sprintf("%+v", resp), nil
	}
	return resp.Choices[0].Message.Content, nil
}
