package ollama

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ModelInfo represents information about an Ollama model
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// ListModelsResponse represents the response from listing models
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// embedding-only models cannot answer chat requests
var embeddingModels = []string{"embed", "bge-", "minilm"}

// ModelSelector handles model selection logic
type ModelSelector struct {
	client *Client
}

// NewModelSelector creates a new model selector
func NewModelSelector(client *Client) *ModelSelector {
	return &ModelSelector{client: client}
}

// ListModels lists all available Ollama models
func (ms *ModelSelector) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var result ListModelsResponse
	url := fmt.Sprintf("%s/api/tags", ms.client.baseURL)
	if err := ms.client.http.Do(ctx, http.MethodGet, url, nil, &result); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}
	return result.Models, nil
}

// SelectBestModel picks a chat model that follows JSON-schema output well
func (ms *ModelSelector) SelectBestModel(ctx context.Context) (string, error) {
	models, err := ms.ListModels(ctx)
	if err != nil {
		return "", err
	}

	var chat []ModelInfo
	for _, m := range models {
		if !isEmbeddingModel(m.Name) {
			chat = append(chat, m)
		}
	}
	if len(chat) == 0 {
		return "", fmt.Errorf("no chat models available")
	}

	priorityModels := []string{
		"llama3.2",
		"llama3.1",
		"qwen2.5",
		"mistral",
		"llama3",
		"gemma",
	}
	for _, priority := range priorityModels {
		for _, model := range chat {
			if strings.Contains(strings.ToLower(model.Name), priority) {
				return model.Name, nil
			}
		}
	}

	// otherwise the largest model
	sort.Slice(chat, func(i, j int) bool {
		return chat[i].Size > chat[j].Size
	})
	return chat[0].Name, nil
}

// GetDefaultModel returns defaultModel when it is installed, else the best available
func (ms *ModelSelector) GetDefaultModel(ctx context.Context, defaultModel string) (string, error) {
	if defaultModel != "" {
		models, err := ms.ListModels(ctx)
		if err != nil {
			return "", err
		}
		for _, model := range models {
			if model.Name == defaultModel || strings.TrimSuffix(model.Name, ":latest") == defaultModel {
				return model.Name, nil
			}
		}
	}
	return ms.SelectBestModel(ctx)
}

// Resolve sets the client's model from GetDefaultModel
func (ms *ModelSelector) Resolve(ctx context.Context, defaultModel string) (string, error) {
	name, err := ms.GetDefaultModel(ctx, defaultModel)
	if err != nil {
		return "", err
	}
	ms.client.model = name
	return name, nil
}

func isEmbeddingModel(name string) bool {
	lower := strings.ToLower(name)
	for _, marker := range embeddingModels {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
