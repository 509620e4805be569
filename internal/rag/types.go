package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
)

// FallbackText is returned when no indexed content is relevant to the question
const FallbackText = "Invalid prompt, it seems your input is not related to the PDF."

// Embedder turns text into vectors of a fixed dimensionality
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex stores one named collection per document.
// Search and DeleteCollection on an unknown name return an error
// wrapping ErrCollectionNotFound.
type VectorIndex interface {
	CreateCollection(ctx context.Context, name string, entries []Entry) error
	Search(ctx context.Context, name string, vector []float32, k int) ([]Match, error)
	DeleteCollection(ctx context.Context, name string) error
}

// CollectionLister is implemented by indexes that can enumerate collections
type CollectionLister interface {
	ListCollections(ctx context.Context) ([]string, error)
}

// Synthesizer is the language model. Complete is free text; CompleteStructured
// decodes a JSON object conforming to schema into out.
type Synthesizer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
	CompleteStructured(ctx context.Context, system, user string, schema Schema, maxTokens int, out any) error
}

// Metadata travels with each indexed chunk
type Metadata struct {
	Page       int    `json:"page"`
	PageLabel  string `json:"page_label"`
	ChunkIndex int    `json:"chunk_index"`
}

// Entry is a chunk paired with its embedding
type Entry struct {
	Vector   []float32
	Text     string
	Metadata Metadata
}

// Match is a search hit. Score is cosine similarity, higher is closer.
type Match struct {
	Text     string
	Metadata Metadata
	Score    float32
}

// Answer is the structured response returned to callers
type Answer struct {
	Answer        string `json:"answer"`
	RelevantPages []int  `json:"relevant_pages"`
}

// FallbackAnswer is the fixed "no relevant content" response
func FallbackAnswer() Answer {
	return Answer{Answer: FallbackText, RelevantPages: []int{}}
}

// IsFallback reports whether a is the "no relevant content" response
func (a Answer) IsFallback() bool {
	return a.Answer == FallbackText && len(a.RelevantPages) == 0
}

// Schema describes a JSON object the synthesizer must produce
type Schema struct {
	Name       string
	Definition map[string]any
	Required   []string
}

// AnswerSchema is the schema for Answer
var AnswerSchema = Schema{
	Name: "answer",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"answer": map[string]any{"type": "string"},
			"relevant_pages": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "integer"},
			},
		},
		"required": []string{"answer", "relevant_pages"},
	},
	Required: []string{"answer", "relevant_pages"},
}

// Decode checks that raw is a JSON object holding every required field,
// then unmarshals it into out.
func (s Schema) Decode(raw []byte, out any) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("output is not a JSON object: %w", err)
	}
	for _, name := range s.Required {
		v, ok := fields[name]
		if !ok || string(v) == "null" {
			return fmt.Errorf("output is missing required field %q", name)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("output does not match schema %s: %w", s.Name, err)
	}
	return nil
}

// sortedPages returns the distinct pages of matches in ascending order
func sortedPages(matches []Match) []int {
	pages := make([]int, 0, len(matches))
	for _, m := range matches {
		if !slices.Contains(pages, m.Metadata.Page) {
			pages = append(pages, m.Metadata.Page)
		}
	}
	slices.Sort(pages)
	return pages
}
