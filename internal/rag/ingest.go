package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ink-chat/inkchat/internal/documents"
)

// IngestResult reports the outcome of Ingest
type IngestResult struct {
	Success        bool
	CollectionName string
	Chunks         int
}

// Ingest parses, chunks and embeds a PDF, then writes every chunk into a new
// collection in a single call. Either the whole document becomes searchable
// under name or nothing does.
func (s *Service) Ingest(ctx context.Context, data []byte, name string) (IngestResult, error) {
	result := IngestResult{CollectionName: name}
	start := time.Now()

	entries, err := s.prepare(ctx, data)
	if err != nil {
		s.fail(name, err)
		return result, err
	}

	indexStart := time.Now()
	callCtx, cancel := s.callContext(ctx)
	err = s.index.CreateCollection(callCtx, name, entries)
	cancel()
	s.metrics.Stage("index", indexStart)
	if err != nil {
		err = newError(ErrVectorIndex, "create collection", err)
		s.fail(name, err)
		return result, err
	}

	result.Success = true
	result.Chunks = len(entries)
	s.metrics.Ingestion("success", len(entries))
	s.log.Infow("document ingested",
		"collection", name,
		"chunks", len(entries),
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *Service) fail(name string, err error) {
	s.metrics.Ingestion("failure", 0)
	s.log.Warnw("ingestion failed", "collection", name, "error", err)
}

// prepare runs parse, chunk and embed
func (s *Service) prepare(ctx context.Context, data []byte) ([]Entry, error) {
	parseStart := time.Now()
	pages, err := s.parser.Parse(ctx, data)
	s.metrics.Stage("parse", parseStart)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, newError(ErrDocumentParse, "parse", err)
	}

	chunks := s.chunker.Split(pages)
	if len(chunks) == 0 {
		return nil, newError(ErrDocumentParse, "chunk", errors.New("document produced no chunks"))
	}
	s.log.Debugw("document chunked", "pages", len(pages), "chunks", len(chunks))

	embedStart := time.Now()
	vectors, err := s.embedChunks(ctx, chunks)
	s.metrics.Stage("embed", embedStart)
	if err != nil {
		return nil, newError(ErrEmbeddingService, "embed chunks", err)
	}

	entries := make([]Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = Entry{
			Vector: vectors[i],
			Text:   c.Text,
			Metadata: Metadata{
				Page:       c.Page,
				PageLabel:  c.PageLabel,
				ChunkIndex: c.Index,
			},
		}
	}
	return entries, nil
}

// embedChunks embeds chunks in batches with at most s.workers requests in flight.
// The first failure cancels the remaining batches.
func (s *Service) embedChunks(ctx context.Context, chunks []documents.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for lo := 0; lo < len(chunks); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, hi-lo)
			for _, c := range chunks[lo:hi] {
				texts = append(texts, c.Text)
			}

			callCtx, cancel := s.callContext(gctx)
			defer cancel()
			batch, err := s.embedder.EmbedBatch(callCtx, texts)
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", lo, hi, err)
			}
			if len(batch) != len(texts) {
				return fmt.Errorf("batch %d-%d: got %d vectors for %d texts", lo, hi, len(batch), len(texts))
			}
			copy(vectors[lo:hi], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}
