package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ink-chat/inkchat/internal/httpjson"
	"github.com/ink-chat/inkchat/internal/rag"
)

// Client wraps Ollama API interactions
type Client struct {
	baseURL string
	model   string
	http    *httpjson.Client
}

// NewClient creates a new Ollama client for model
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    httpjson.New("ollama", 5*time.Minute), // generation on CPU can be slow
	}
}

// Model returns the chat model in use
func (c *Client) Model() string {
	return c.model
}

// Message is one chat turn
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a /api/chat request
type ChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

// ChatResponse represents a non-streaming /api/chat response
type ChatResponse struct {
	Model           string  `json:"model"`
	CreatedAt       string  `json:"created_at"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	TotalDuration   int64   `json:"total_duration,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// Chat sends a chat request and returns the assistant message
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.Model == "" {
		return nil, fmt.Errorf("no ollama model configured")
	}
	req.Stream = false

	var resp ChatResponse
	url := fmt.Sprintf("%s/api/chat", c.baseURL)
	if err := c.http.Do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to chat with %s: %w", req.Model, err)
	}
	return &resp, nil
}

func messages(system, user string) []Message {
	var msgs []Message
	if system != "" {
		msgs = append(msgs, Message{Role: "system", Content: system})
	}
	return append(msgs, Message{Role: "user", Content: user})
}

// Complete returns free text limited to maxTokens
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	resp, err := c.Chat(ctx, &ChatRequest{
		Messages: messages(system, user),
		Options:  map[string]any{"num_predict": maxTokens},
	})
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// CompleteStructured constrains output to schema using Ollama's format field
func (c *Client) CompleteStructured(ctx context.Context, system, user string, schema rag.Schema, maxTokens int, out any) error {
	resp, err := c.Chat(ctx, &ChatRequest{
		Messages: messages(system, user),
		Format:   schema.Definition,
		Options:  map[string]any{"num_predict": maxTokens, "temperature": 0},
	})
	if err != nil {
		return err
	}
	if resp.DoneReason == "length" {
		return fmt.Errorf("structured output truncated at %d tokens", maxTokens)
	}
	if err := schema.Decode([]byte(resp.Message.Content), out); err != nil {
		return fmt.Errorf("ollama returned non-conforming output: %w", err)
	}
	return nil
}
