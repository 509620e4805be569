// Package qdrant is a rag.VectorIndex backed by the Qdrant REST API.
// Every document gets its own collection using cosine distance.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ink-chat/inkchat/internal/httpjson"
	"github.com/ink-chat/inkchat/internal/rag"
)

const upsertBatch = 256

// Config configures a Store
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Store is a minimal REST client to Qdrant
type Store struct {
	endpoint string
	http     *httpjson.Client
}

// New creates a store
func New(cfg Config) *Store {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	hc := httpjson.New("qdrant", timeout)
	if cfg.APIKey != "" {
		hc.Header.Set("api-key", cfg.APIKey)
	}
	return &Store{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     hc,
	}
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type searchResponse struct {
	Result []struct {
		Score   float32 `json:"score"`
		Payload struct {
			Text       string `json:"text"`
			Page       int    `json:"page"`
			PageLabel  string `json:"page_label"`
			ChunkIndex int    `json:"chunk_index"`
		} `json:"payload"`
	} `json:"result"`
}

func (s *Store) collectionURL(name string, suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.endpoint, url.PathEscape(name), suffix)
}

// CreateCollection creates the collection and upserts every entry. If the
// create or any upsert fails the collection is dropped again.
func (s *Store) CreateCollection(ctx context.Context, name string, entries []rag.Entry) (err error) {
	if len(entries) == 0 {
		return fmt.Errorf("collection %q has no chunks", name)
	}
	dim := len(entries[0].Vector)
	for i, e := range entries {
		if len(e.Vector) != dim {
			return fmt.Errorf("chunk %d has dimension %d, expected %d", i, len(e.Vector), dim)
		}
	}

	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionExists)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dim,
			"distance": "Cosine",
		},
	}
	// a create whose response was lost may still have taken effect
	defer func() {
		if err != nil {
			// drop with a fresh context; ctx may be the reason we failed
			dropCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if dropErr := s.drop(dropCtx, name); dropErr != nil && !errors.Is(dropErr, rag.ErrCollectionNotFound) {
				err = errors.Join(err, fmt.Errorf("rollback failed: %w", dropErr))
			}
		}
	}()

	if err := s.http.Do(ctx, http.MethodPut, s.collectionURL(name, ""), body, nil); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for lo := 0; lo < len(entries); lo += upsertBatch {
		hi := min(lo+upsertBatch, len(entries))
		points := make([]point, 0, hi-lo)
		for _, e := range entries[lo:hi] {
			points = append(points, point{
				ID:     uuid.NewString(),
				Vector: e.Vector,
				Payload: map[string]any{
					"text":        e.Text,
					"page":        e.Metadata.Page,
					"page_label":  e.Metadata.PageLabel,
					"chunk_index": e.Metadata.ChunkIndex,
				},
			})
		}
		if err := s.http.Do(ctx, http.MethodPut, s.collectionURL(name, "/points?wait=true"),
			map[string]any{"points": points}, nil); err != nil {
			return fmt.Errorf("failed to upsert chunks %d-%d: %w", lo, hi, err)
		}
	}
	return nil
}

// Search returns the k nearest chunks
func (s *Store) Search(ctx context.Context, name string, vector []float32, k int) ([]rag.Match, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp searchResponse
	if err := s.http.Do(ctx, http.MethodPost, s.collectionURL(name, "/points/search"), req, &resp); err != nil {
		return nil, mapNotFound(name, fmt.Errorf("failed to search: %w", err))
	}

	matches := make([]rag.Match, 0, len(resp.Result))
	for _, r := range resp.Result {
		matches = append(matches, rag.Match{
			Text: r.Payload.Text,
			Metadata: rag.Metadata{
				Page:       r.Payload.Page,
				PageLabel:  r.Payload.PageLabel,
				ChunkIndex: r.Payload.ChunkIndex,
			},
			Score: r.Score,
		})
	}
	return matches, nil
}

// DeleteCollection drops the collection
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	exists, err := s.exists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%q: %w", name, rag.ErrCollectionNotFound)
	}
	return s.drop(ctx, name)
}

// ListCollections returns every collection name
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := s.http.Do(ctx, http.MethodGet, s.endpoint+"/collections", nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	names := make([]string, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}

func (s *Store) exists(ctx context.Context, name string) (bool, error) {
	err := s.http.Do(ctx, http.MethodGet, s.collectionURL(name, ""), nil, nil)
	if err == nil {
		return true, nil
	}
	var se *httpjson.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return false, nil
	}
	return false, fmt.Errorf("failed to get collection: %w", err)
}

func (s *Store) drop(ctx context.Context, name string) error {
	if err := s.http.Do(ctx, http.MethodDelete, s.collectionURL(name, ""), nil, nil); err != nil {
		return mapNotFound(name, fmt.Errorf("failed to delete collection: %w", err))
	}
	return nil
}

func mapNotFound(name string, err error) error {
	var se *httpjson.StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return fmt.Errorf("%q: %w", name, errors.Join(rag.ErrCollectionNotFound, err))
	}
	return err
}

var (
	_ rag.VectorIndex      = (*Store)(nil)
	_ rag.CollectionLister = (*Store)(nil)
)
