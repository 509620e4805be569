package embeddings

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ink-chat/inkchat/internal/httpjson"
)

// ErrEmptyText is returned when asked to embed blank text
var ErrEmptyText = errors.New("text cannot be empty")

// TextEmbedder generates text embeddings using Ollama
type TextEmbedder struct {
	baseURL string
	model   string
	client  *httpjson.Client
}

// NewTextEmbedder creates a new text embedder
func NewTextEmbedder(baseURL, model string) *TextEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text" // Default embedding model
	}
	return &TextEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  httpjson.New("ollama", 2*time.Minute),
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for the given text
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request
func (e *TextEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
		input[i] = t
	}

	var resp embedResponse
	url := fmt.Sprintf("%s/api/embed", e.baseURL)
	if err := e.client.Do(ctx, http.MethodPost, url, embedRequest{Model: e.model, Input: input}, &resp); err != nil {
		return nil, fmt.Errorf("failed to embed with %s: %w", e.model, err)
	}
	if err := checkVectors(resp.Embeddings, len(texts)); err != nil {
		return nil, err
	}
	return resp.Embeddings, nil
}

func checkVectors(vecs [][]float32, want int) error {
	if len(vecs) != want {
		return fmt.Errorf("expected %d embeddings, got %d", want, len(vecs))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("empty embedding returned for text %d", i)
		}
		if len(v) != len(vecs[0]) {
			return fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(v), len(vecs[0]))
		}
	}
	return nil
}
