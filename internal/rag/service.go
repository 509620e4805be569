package rag

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ink-chat/inkchat/internal/documents"
	"github.com/ink-chat/inkchat/internal/metrics"
)

// Retrieval constants
const (
	TopK              = 7
	MinScore          = 0.6
	HypotheticalMax   = 500
	AnswerMaxTokens   = 5000
	defaultBatchSize  = 64
	defaultWorkers    = 4
	defaultCallBudget = 60 * time.Second
)

// Service runs ingestion and retrieval against injected collaborators.
// It keeps no per-request state and is safe for concurrent use.
type Service struct {
	parser      documents.Parser
	chunker     *documents.Chunker
	embedder    Embedder
	index       VectorIndex
	synth       Synthesizer
	batchSize   int
	workers     int
	callTimeout time.Duration
	pages       PageValidation
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
}

// Option configures a Service
type Option func(*Service)

// WithChunker replaces the default 1000/200 chunker
func WithChunker(c *documents.Chunker) Option {
	return func(s *Service) { s.chunker = c }
}

// WithBatchSize sets how many chunks go into one embedding request
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithWorkers bounds the number of embedding requests in flight per ingestion
func WithWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithCallTimeout sets the deadline applied to each external call
func WithCallTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.callTimeout = d
		}
	}
}

// WithPageValidation sets how relevant_pages are checked
func WithPageValidation(v PageValidation) Option {
	return func(s *Service) { s.pages = v }
}

// WithLogger sets the logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService wires the pipeline
func NewService(parser documents.Parser, embedder Embedder, index VectorIndex, synth Synthesizer, opts ...Option) *Service {
	s := &Service{
		parser:      parser,
		chunker:     documents.NewChunker(),
		embedder:    embedder,
		index:       index,
		synth:       synth,
		batchSize:   defaultBatchSize,
		workers:     defaultWorkers,
		callTimeout: defaultCallBudget,
		pages:       PagesStrict,
		log:         zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DeleteResult reports the outcome of DeleteCollection
type DeleteResult struct {
	Success bool
}

// DeleteCollection removes a collection and all of its chunks
func (s *Service) DeleteCollection(ctx context.Context, name string) (DeleteResult, error) {
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.index.DeleteCollection(ctx, name); err != nil {
		s.log.Warnw("delete collection failed", "collection", name, "error", err)
		return DeleteResult{}, newError(ErrVectorIndex, "delete collection", err)
	}
	s.log.Infow("collection deleted", "collection", name)
	return DeleteResult{Success: true}, nil
}

// ListCollections returns the index's collections when it can enumerate them
func (s *Service) ListCollections(ctx context.Context) ([]string, error) {
	lister, ok := s.index.(CollectionLister)
	if !ok {
		return nil, fmt.Errorf("vector index %T cannot list collections", s.index)
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	names, err := lister.ListCollections(ctx)
	if err != nil {
		return nil, newError(ErrVectorIndex, "list collections", err)
	}
	return names, nil
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.callTimeout)
}
