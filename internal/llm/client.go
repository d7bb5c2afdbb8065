// Package llm wraps an OpenAI-compatible provider for the three calls the
// rest of the system needs: text embeddings, short one-shot completions
// (conversation titles), and streaming chat completions with tool support.
package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Dimensions is the fixed embedding vector length (text-embedding-3-small).
const Dimensions = 1536

const titlePrompt = "Generate a short title (at most 6 words) for a conversation " +
	"that starts with the following user message. Reply with the title only, " +
	"no quotes or punctuation around it."

// Client talks to an OpenAI-compatible API.
type Client struct {
	api       *openai.Client
	chatModel string
}

// Config holds provider settings. BaseURL is optional and allows pointing at
// any OpenAI-compatible endpoint (including test servers).
type Config struct {
	APIKey    string
	BaseURL   string
	ChatModel string
}

// NewClient creates a provider client.
func NewClient(cfg Config) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	chatModel := cfg.ChatModel
	if chatModel == "" {
		chatModel = openai.GPT4TurboPreview
	}
	return &Client{
		api:       openai.NewClientWithConfig(clientConfig),
		chatModel: chatModel,
	}
}

// ChatModel returns the default chat model used when a request names none.
func (c *Client) ChatModel() string {
	return c.chatModel
}

// Embed returns the embedding vector for text. Every call hits the provider;
// there is no caching, and provider errors propagate unchanged to the caller.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text must not be empty")
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("provider returned no embedding data")
	}
	vec := resp.Data[0].Embedding
	if len(vec) != Dimensions {
		return nil, fmt.Errorf("unexpected embedding dimension %d, want %d", len(vec), Dimensions)
	}
	return vec, nil
}

// GenerateTitle asks the provider for a short conversation title derived
// from the first user message. Callers apply their own fallback on error.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
			{Role: openai.ChatMessageRoleUser, Content: firstMessage},
		},
		MaxTokens: 32,
	})
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	title := strings.TrimSpace(resp.Choices[0].Message.Content)
	title = strings.Trim(title, `"'`)
	if title == "" {
		return "", fmt.Errorf("provider returned empty title")
	}
	return title, nil
}

// StreamChat opens a streaming chat completion. The caller owns the stream
// and must close it.
func (c *Client) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	if req.Model == "" {
		req.Model = c.chatModel
	}
	req.Stream = true
	return c.api.CreateChatCompletionStream(ctx, req)
}
