package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	defaultGeminiModel  = "gemini-2.5-flash"
	geminiClientTimeout = 30 * time.Second
)

// FreeformClient converses with Gemini through the Gen AI SDK. Unlike the
// chat kind it takes a single rendered prompt, so Converse flattens the
// structured history into a transcript before sending.
type FreeformClient struct {
	name   string
	model  string
	client *genai.Client
}

// NewFreeformClient builds a Gemini-backed freeform client.
func NewFreeformClient(name, apiKey, model string) (*FreeformClient, error) {
	if model == "" {
		model = defaultGeminiModel
	}

	ctx, cancel := context.WithTimeout(context.Background(), geminiClientTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &FreeformClient{name: name, model: model, client: client}, nil
}

// Name returns the logical agent name.
func (c *FreeformClient) Name() string { return c.name }

// Generate sends a single rendered prompt and returns the response text.
func (c *FreeformClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), nil)
	if err != nil {
		return "", &UpstreamError{Agent: c.name, Err: err}
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", &UpstreamError{Agent: c.name, Err: fmt.Errorf("no candidates in response")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	return text.String(), nil
}

// Converse flattens history into a transcript and sends it as one prompt,
// with a trailing "Assistant:" cue so the model continues the dialogue.
func (c *FreeformClient) Converse(ctx context.Context, history []Message) (string, error) {
	return c.Generate(ctx, FlattenTranscript(history))
}

// FlattenTranscript renders structured turns as "Role: content" lines with a
// trailing "Assistant:" cue.
func FlattenTranscript(history []Message) string {
	var b strings.Builder
	for _, m := range history {
		role := m.Role
		if role != "" {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("Assistant:")
	return b.String()
}
