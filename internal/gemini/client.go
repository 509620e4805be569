// Package gemini talks to the Google Generative Language API for both
// embeddings and structured text generation.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ink-chat/inkchat/internal/httpjson"
)

// Defaults
const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultEmbedModel = "text-embedding-004"
	DefaultChatModel  = "gemini-2.0-flash"
	maxBatch          = 100
)

// Config configures a Client
type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
	Timeout    time.Duration
}

// Client implements both the embedder and the synthesizer
type Client struct {
	cfg  Config
	http *httpjson.Client
}

// NewClient creates a client, filling unset fields with defaults
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbedModel
	}
	cfg.EmbedModel = strings.TrimPrefix(cfg.EmbedModel, "models/")
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	hc := httpjson.New("gemini", cfg.Timeout)
	hc.Header.Set("x-goog-api-key", cfg.APIKey)
	return &Client{cfg: cfg, http: hc}, nil
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type embedContentRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed generates an embedding for one text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts with batchEmbedContents, at most 100 per request
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for lo := 0; lo < len(texts); lo += maxBatch {
		hi := min(lo+maxBatch, len(texts))
		vecs, err := c.embed(ctx, texts[lo:hi])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := "models/" + c.cfg.EmbedModel
	req := batchEmbedRequest{Requests: make([]embedContentRequest, len(texts))}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("text %d cannot be empty", i)
		}
		req.Requests[i] = embedContentRequest{Model: model, Content: content{Parts: []part{{Text: t}}}}
	}

	var resp batchEmbedResponse
	url := fmt.Sprintf("%s/%s:batchEmbedContents", c.cfg.BaseURL, model)
	if err := c.http.Do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to embed with %s: %w", c.cfg.EmbedModel, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}
	vecs := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, fmt.Errorf("empty embedding returned for text %d", i)
		}
		vecs[i] = e.Values
	}
	return vecs, nil
}
