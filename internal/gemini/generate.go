package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/ink-chat/inkchat/internal/rag"
)

type generationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Complete returns free text
func (c *Client) Complete(ctx context.Context, system, user string, maxTokens int) (string, error) {
	return c.generate(ctx, system, user, &generationConfig{MaxOutputTokens: maxTokens})
}

// CompleteStructured asks for JSON constrained by schema and decodes it into out
func (c *Client) CompleteStructured(ctx context.Context, system, user string, schema rag.Schema, maxTokens int, out any) error {
	zero := 0.0
	text, err := c.generate(ctx, system, user, &generationConfig{
		Temperature:      &zero,
		MaxOutputTokens:  maxTokens,
		ResponseMimeType: "application/json",
		ResponseSchema:   toGeminiSchema(schema.Definition),
	})
	if err != nil {
		return err
	}
	if err := schema.Decode([]byte(text), out); err != nil {
		return fmt.Errorf("gemini returned non-conforming output: %w", err)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, system, user string, gc *generationConfig) (string, error) {
	req := generateRequest{
		Contents:         []content{{Role: "user", Parts: []part{{Text: user}}}},
		GenerationConfig: gc,
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.ChatModel)
	if err := c.http.Do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return "", fmt.Errorf("failed to generate with %s: %w", c.cfg.ChatModel, err)
	}
	if resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned")
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// toGeminiSchema rewrites a JSON schema into the OpenAPI subset Gemini
// accepts: upper-case type names, unsupported keywords removed.
func toGeminiSchema(def map[string]any) map[string]any {
	if def == nil {
		return nil
	}
	out := make(map[string]any, len(def))
	for k, v := range def {
		switch k {
		case "type":
			if s, ok := v.(string); ok {
				out[k] = strings.ToUpper(s)
			}
		case "properties":
			props, _ := v.(map[string]any)
			conv := make(map[string]any, len(props))
			for name, p := range props {
				if pm, ok := p.(map[string]any); ok {
					conv[name] = toGeminiSchema(pm)
				}
			}
			out[k] = conv
		case "items":
			if im, ok := v.(map[string]any); ok {
				out[k] = toGeminiSchema(im)
			}
		case "additionalProperties", "$schema":
		default:
			out[k] = v
		}
	}
	return out
}
