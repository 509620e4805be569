package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ink-chat/inkchat/config"
	"github.com/ink-chat/inkchat/internal/db"
	"github.com/ink-chat/inkchat/internal/documents"
	"github.com/ink-chat/inkchat/internal/embeddings"
	"github.com/ink-chat/inkchat/internal/gemini"
	"github.com/ink-chat/inkchat/internal/logging"
	"github.com/ink-chat/inkchat/internal/metrics"
	"github.com/ink-chat/inkchat/internal/milvus"
	"github.com/ink-chat/inkchat/internal/ollama"
	"github.com/ink-chat/inkchat/internal/qdrant"
	"github.com/ink-chat/inkchat/internal/rag"
)

const fallbackChatModel = "llama3.2"

// app holds everything a command needs; close releases connections
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	svc      *rag.Service
	closers  []func()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the pipeline from config. quiet discards logs, for the TUI.
func newApp(ctx context.Context, cfgPath string, quiet bool) (_ *app, err error) {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.log = logging.Nop()
	if !quiet {
		a.log, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		if err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, func() { _ = a.log.Sync() })

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.registry)

	var gc *gemini.Client
	if cfg.Embeddings.Provider == config.ProviderGemini || cfg.Synthesis.Provider == config.ProviderGemini {
		gc, err = gemini.NewClient(gemini.Config{
			BaseURL:    cfg.Gemini.BaseURL,
			APIKey:     cfg.Gemini.APIKey,
			EmbedModel: cfg.Gemini.EmbedModel,
			ChatModel:  cfg.Gemini.ChatModel,
			Timeout:    cfg.Pipeline.CallTimeout,
		})
		if err != nil {
			return nil, err
		}
	}

	var embedder rag.Embedder
	switch cfg.Embeddings.Provider {
	case config.ProviderGemini:
		embedder = gc
	default:
		embedder = embeddings.NewTextEmbedder(cfg.Ollama.BaseURL, cfg.Embeddings.TextModel)
	}

	var synth rag.Synthesizer
	switch cfg.Synthesis.Provider {
	case config.ProviderGemini:
		synth = gc
	default:
		synth = a.ollamaSynthesizer(ctx)
	}

	index, err := a.vectorIndex(ctx)
	if err != nil {
		return nil, err
	}

	pages, err := rag.ParsePageValidation(cfg.Pipeline.PageValidation)
	if err != nil {
		return nil, err
	}

	a.svc = rag.NewService(documents.NewPDFParser(), embedder, index, synth,
		rag.WithChunker(documents.NewChunker(
			documents.WithChunkSize(cfg.Processing.ChunkSize),
			documents.WithOverlap(cfg.Processing.ChunkOverlap),
		)),
		rag.WithBatchSize(cfg.Embeddings.BatchSize),
		rag.WithWorkers(cfg.Embeddings.Workers),
		rag.WithCallTimeout(cfg.Pipeline.CallTimeout),
		rag.WithPageValidation(pages),
		rag.WithLogger(a.log),
		rag.WithMetrics(a.metrics),
	)
	a.log.Infow("pipeline ready",
		"embeddings", cfg.Embeddings.Provider,
		"synthesis", cfg.Synthesis.Provider,
		"backend", cfg.VectorIndex.Backend,
	)
	return a, nil
}

// ollamaSynthesizer picks the configured chat model when it is installed,
// otherwise the best installed one
func (a *app) ollamaSynthesizer(ctx context.Context) *ollama.Client {
	client := ollama.NewClient(a.cfg.Ollama.BaseURL, a.cfg.Ollama.DefaultModel)
	name, err := ollama.NewModelSelector(client).Resolve(ctx, a.cfg.Ollama.DefaultModel)
	if err != nil {
		model := a.cfg.Ollama.DefaultModel
		if model == "" {
			model = fallbackChatModel
		}
		a.log.Warnw("could not select an ollama model", "using", model, "error", err)
		return ollama.NewClient(a.cfg.Ollama.BaseURL, model)
	}
	a.log.Debugw("ollama chat model selected", "model", name)
	return client
}

func (a *app) vectorIndex(ctx context.Context) (rag.VectorIndex, error) {
	cfg := a.cfg
	switch cfg.VectorIndex.Backend {
	case config.BackendQdrant:
		return qdrant.New(qdrant.Config{
			Endpoint: cfg.VectorIndex.Qdrant.Endpoint,
			APIKey:   cfg.VectorIndex.Qdrant.APIKey,
			Timeout:  cfg.Pipeline.CallTimeout,
		}), nil
	case config.BackendMilvus:
		store, err := milvus.New(ctx, milvus.Config{
			Address:  cfg.VectorIndex.Milvus.Address,
			Database: cfg.VectorIndex.Milvus.Database,
			Username: cfg.VectorIndex.Milvus.Username,
			Password: cfg.VectorIndex.Milvus.Password,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close(context.Background()) })
		return store, nil
	case config.BackendPgvector:
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(cfg.Database.ConnectionString, "up", 0); err != nil {
				return nil, err
			}
		}
		database, err := db.New(ctx, cfg.Database.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, database.Close)
		return db.NewStore(database), nil
	}
	return nil, errors.New("unknown vector index backend " + cfg.VectorIndex.Backend)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
