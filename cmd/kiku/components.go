package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/filter"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/importer"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/storage"
)

// Components holds initialized services.
type Components struct {
	Storage   storage.Storage
	Embedder  embedding.Embedder
	Generator generation.Generator
	Metrics   *metrics.Metrics
	Knowledge *rag.Engine[*models.Knowledge]
	Products  *rag.Engine[*models.Product]
	Importer  *importer.Importer
	keywords  []keyword.Index
}

func (c *Components) Close() {
	for _, idx := range c.keywords {
		_ = idx.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// Initialize loads the cache of every enabled engine.
func (c *Components) Initialize(ctx context.Context, logger *zap.Logger) error {
	if c.Knowledge != nil {
		stats, err := c.Knowledge.Initialize(ctx)
		if err != nil {
			return err
		}
		logger.Info("Knowledge base loaded", zap.Int("cached", stats.Cached), zap.Int("embedded", stats.Embedded))
	}
	if c.Products != nil {
		stats, err := c.Products.Initialize(ctx)
		if err != nil {
			return err
		}
		logger.Info("Product catalog loaded", zap.Int("cached", stats.Cached), zap.Int("embedded", stats.Embedded))
	}
	return nil
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	if cfg.Metrics.Enabled {
		c.Metrics = metrics.New()
	}

	store, err := newStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := newEmbedder(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	generator, err := newGenerator(cfg.Generation)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize generator: %w", err)
	}
	c.Generator = generator

	// Adders stay nil interfaces for disabled corpora.
	var knowledgeAdder importer.Adder[*models.Knowledge]
	var productAdder importer.Adder[*models.Product]

	if cfg.Knowledge.IsEnabled() {
		opts, err := c.engineOptions(cfg, cfg.Knowledge, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Knowledge = rag.NewEngine(rag.KnowledgeVariant(), store.Knowledge(), embedder, generator, opts...)
		knowledgeAdder = c.Knowledge
	}
	if cfg.Products.IsEnabled() {
		opts, err := c.engineOptions(cfg, cfg.Products, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
		opts = append(opts, rag.WithFilterExtractor(filter.NewExtractor()))
		c.Products = rag.NewEngine(rag.ProductVariant(cfg.Products.Currency), store.Products(), embedder, generator, opts...)
		productAdder = c.Products
	}
	c.Importer = importer.New(knowledgeAdder, productAdder, importer.WithLogger(logger))

	logger.Info("Components initialized",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", embedder.Dimensions()),
		zap.String("generator", generator.Model()),
		zap.Bool("knowledge", c.Knowledge != nil),
		zap.Bool("products", c.Products != nil))
	return c, nil
}

func (c *Components) engineOptions(cfg *config.Config, corpus config.CorpusConfig, logger *zap.Logger) ([]rag.Option, error) {
	opts := []rag.Option{
		rag.WithLogger(logger),
		rag.WithTopK(corpus.TopK),
		rag.WithConversationLog(c.Storage.Conversations()),
		rag.WithMetrics(c.Metrics),
		rag.WithEmbedTimeout(cfg.Embedding.Timeout),
		rag.WithGenerateTimeout(cfg.Generation.Timeout),
		rag.WithGenerationOptions(generation.Options{MaxTokens: corpus.MaxTokens, Temperature: corpus.Temperature}),
	}
	if corpus.KeywordIndexEnabled() {
		idx, err := keyword.NewBleveIndex()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		c.keywords = append(c.keywords, idx)
		opts = append(opts, rag.WithKeywordIndex(idx))
	}
	return opts, nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Driver {
	case "sqlite":
		return storage.NewSQLiteStorage(cfg.DatabasePath)
	case "mongo", "mongodb":
		return storage.NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newEmbedder(cfg config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var inner embedding.Embedder
	switch cfg.Provider {
	case "onnx":
		onnx, err := embedding.NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
		if err != nil {
			logger.Warn("ONNX embedder unavailable, falling back to hashing embedder",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			inner = embedding.NewHashingEmbedder(cfg.Dimensions)
		} else {
			inner = onnx
		}
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     config.APIKey(cfg.APIKeyEnv),
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, err
		}
		inner = e
	case "hashing":
		inner = embedding.NewHashingEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	return embedding.NewCachedEmbedder(inner, cfg.CacheSize), nil
}

func newGenerator(cfg config.GenerationConfig) (generation.Generator, error) {
	switch cfg.Provider {
	case "openai":
		return generation.NewOpenAIGenerator(generation.OpenAIConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     config.APIKey(cfg.APIKeyEnv),
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		})
	case "ollama":
		return generation.NewOllamaGenerator(cfg.BaseURL, cfg.Model)
	case "none", "disabled":
		return generation.Disabled{}, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", cfg.Provider)
	}
}
