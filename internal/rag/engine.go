package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/filter"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/retrieval"
	"github.com/hyperjump/kiku/internal/storage"
	"github.com/hyperjump/kiku/internal/vector"
	"github.com/hyperjump/kiku/pkg/utils"
)

// ErrKeywordSearchDisabled is returned by KeywordSearch when no keyword index is configured.
var ErrKeywordSearchDisabled = errors.New("keyword search is not enabled")

// ChatRequest is one user turn.
type ChatRequest struct {
	Query     string
	SessionID string
	// Filter holds caller-supplied predicates. Extracted price bounds are
	// merged in; fields set here take precedence.
	Filter models.StructuredFilter
	// TopK overrides the variant's default retrieval depth when positive.
	TopK int
}

// ChatResult is the reply to a turn together with what it was grounded on.
type ChatResult[T any] struct {
	Query     string
	SessionID string
	Response  string
	Outcome   Outcome
	Retrieved []models.Scored[T]
	Filter    models.StructuredFilter
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	topK            int
	extractor       *filter.Extractor
	conversations   storage.ConversationLog
	keywords        keyword.Index
	metrics         *metrics.Metrics
	embedTimeout    time.Duration
	generateTimeout time.Duration
	genOpts         generation.Options
}

// WithLogger sets the logger for the engine and its cache and retriever.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTopK overrides the variant's default retrieval depth.
func WithTopK(k int) Option {
	return func(o *options) { o.topK = k }
}

// WithFilterExtractor derives price bounds from the query text of each turn.
func WithFilterExtractor(x *filter.Extractor) Option {
	return func(o *options) { o.extractor = x }
}

// WithConversationLog records turns that carry a session id.
func WithConversationLog(l storage.ConversationLog) Option {
	return func(o *options) { o.conversations = l }
}

// WithKeywordIndex maintains idx alongside the vector cache and enables KeywordSearch.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(o *options) { o.keywords = idx }
}

// WithMetrics records retrieval, generation and cache metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithEmbedTimeout bounds each embedding call.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *options) { o.embedTimeout = d }
}

// WithGenerationOptions overrides the variant's output length and sampling
// temperature. Zero fields keep the variant's value.
func WithGenerationOptions(opts generation.Options) Option {
	return func(o *options) { o.genOpts = opts }
}

// WithGenerateTimeout bounds each generation call.
func WithGenerateTimeout(d time.Duration) Option {
	return func(o *options) { o.generateTimeout = d }
}

// Engine answers queries over one corpus.
type Engine[T any] struct {
	variant   Variant[T]
	store     storage.CorpusStore[T]
	embedder  embedding.Embedder
	generator generation.Generator
	cache     *vector.Cache[T]
	retriever *retrieval.Retriever[T]

	extractor       *filter.Extractor
	conversations   storage.ConversationLog
	keywords        keyword.Index
	metrics         *metrics.Metrics
	logger          *zap.Logger
	topK            int
	embedTimeout    time.Duration
	generateTimeout time.Duration
	genOpts         generation.Options
}

// NewEngine wires an engine. A nil generator behaves like generation.Disabled.
// The cache is empty until Initialize.
func NewEngine[T any](variant Variant[T], store storage.CorpusStore[T], embedder embedding.Embedder, generator generation.Generator, opts ...Option) *Engine[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if generator == nil {
		generator = generation.Disabled{}
	}
	topK := o.topK
	if topK <= 0 {
		topK = variant.DefaultTopK()
	}
	genOpts := variant.GenerationOptions()
	if o.genOpts.MaxTokens > 0 {
		genOpts.MaxTokens = o.genOpts.MaxTokens
	}
	if o.genOpts.Temperature > 0 {
		genOpts.Temperature = o.genOpts.Temperature
	}
	logger := o.logger.With(zap.String("corpus", variant.Corpus()))
	cache := vector.NewCache[T](store, embedder, variant, vector.WithLogger(logger), vector.WithEmbedTimeout(o.embedTimeout))
	return &Engine[T]{
		variant:   variant,
		store:     store,
		embedder:  embedder,
		generator: generator,
		cache:     cache,
		retriever: retrieval.New[T](cache, embedder, variant.Match,
			retrieval.WithLogger(logger),
			retrieval.WithEmbedTimeout(o.embedTimeout)),
		extractor:       o.extractor,
		conversations:   o.conversations,
		keywords:        o.keywords,
		metrics:         o.metrics,
		logger:          logger,
		topK:            topK,
		embedTimeout:    o.embedTimeout,
		generateTimeout: o.generateTimeout,
		genOpts:         genOpts,
	}
}

// Corpus names the engine's corpus.
func (e *Engine[T]) Corpus() string {
	return e.variant.Corpus()
}

// Initialize performs the first cache load. An error means the engine cannot serve.
func (e *Engine[T]) Initialize(ctx context.Context) (vector.LoadStats, error) {
	stats, err := e.reload(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to initialize %s engine: %w", e.variant.Corpus(), err)
	}
	return stats, nil
}

// Refresh rebuilds the cache and keyword index from the store. It is the
// only path that drops entries deleted or changed outside this engine.
func (e *Engine[T]) Refresh(ctx context.Context) (vector.LoadStats, error) {
	stats, err := e.reload(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to refresh %s engine: %w", e.variant.Corpus(), err)
	}
	return stats, nil
}

func (e *Engine[T]) reload(ctx context.Context) (vector.LoadStats, error) {
	stats, err := e.cache.Refresh(ctx)
	if err != nil {
		return stats, err
	}
	e.metrics.SetCacheSize(e.variant.Corpus(), stats.Cached)
	if e.keywords != nil {
		snap := e.cache.Snapshot()
		docs := make(map[string]keyword.Document, snap.Len())
		for _, entry := range snap.Entries {
			docs[e.variant.ID(entry)] = e.variant.KeywordDocument(entry)
		}
		if err := e.keywords.Rebuild(ctx, docs); err != nil {
			e.logger.Warn("Failed to rebuild keyword index", zap.Error(err))
		}
	}
	return stats, nil
}

// Chat answers one turn. It always returns a reply: retrieval and generation
// failures degrade to fallbacks, and a conversation log failure is only logged.
func (e *Engine[T]) Chat(ctx context.Context, req ChatRequest) *ChatResult[T] {
	req.Query = utils.CollapseSpace(req.Query)
	e.logStage(stageExtractingFilter)
	f := e.filterFor(req)

	topK := req.TopK
	if topK <= 0 {
		topK = e.topK
	}
	e.logStage(stageRetrieving, zap.Int("top_k", topK), zap.Bool("filtered", !f.IsEmpty()))
	retrieved := e.retrieve(ctx, req.Query, topK, f)

	outcome := e.answer(ctx, req.Query, retrieved)
	e.metrics.IncOutcome(e.variant.Corpus(), string(outcome.Status))

	res := &ChatResult[T]{
		Query:     req.Query,
		SessionID: req.SessionID,
		Response:  outcome.Text,
		Outcome:   outcome,
		Retrieved: retrieved,
		Filter:    f,
	}
	if req.SessionID != "" && e.conversations != nil {
		e.appendTurn(ctx, res)
	}
	return res
}

func (e *Engine[T]) filterFor(req ChatRequest) models.StructuredFilter {
	if e.extractor == nil {
		return req.Filter
	}
	return filter.Merge(req.Filter, e.extractor.Extract(req.Query))
}

func (e *Engine[T]) retrieve(ctx context.Context, query string, topK int, f models.StructuredFilter) []models.Scored[T] {
	start := time.Now()
	retrieved, err := e.retriever.Retrieve(ctx, query, topK, f)
	if err != nil {
		e.metrics.IncEmbedFailure(e.variant.Corpus())
		e.logger.Warn("Retrieval degraded to no results", zap.Error(err))
	}
	top := 0.0
	if len(retrieved) > 0 {
		top = retrieved[0].Score
	}
	e.metrics.ObserveRetrieval(e.variant.Corpus(), start, len(retrieved), top)
	return retrieved
}

func (e *Engine[T]) appendTurn(ctx context.Context, res *ChatResult[T]) {
	tc := models.TurnContext{
		RetrievedIDs: make([]string, len(res.Retrieved)),
		UsedContext:  res.Outcome.UsedContext,
		Outcome:      string(res.Outcome.Status),
	}
	for i, r := range res.Retrieved {
		tc.RetrievedIDs[i] = e.variant.ID(r.Item)
	}
	if len(res.Retrieved) > 0 {
		tc.TopSimilarity = res.Retrieved[0].Score
	}
	if !res.Filter.IsEmpty() {
		f := res.Filter
		tc.Filter = &f
	}
	turn := &models.ConversationTurn{
		Corpus:      e.variant.Corpus(),
		SessionID:   res.SessionID,
		UserMessage: res.Query,
		BotResponse: res.Response,
		Context:     tc,
	}
	if err := e.conversations.AppendTurn(ctx, turn); err != nil {
		e.logger.Warn("Failed to record conversation turn",
			zap.String("session_id", res.SessionID), zap.Error(err))
	}
}

// AddEntry validates, stores and embeds entry, then makes it retrievable
// immediately. The id is returned even when embedding fails; such an entry
// becomes retrievable on the next Refresh.
func (e *Engine[T]) AddEntry(ctx context.Context, entry T) (string, error) {
	if err := e.variant.Prepare(entry); err != nil {
		return "", err
	}
	e.variant.SetEmbedding(entry, nil)
	id, err := e.store.Insert(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("failed to insert entry: %w", err)
	}
	e.metrics.IncEntriesAdded(e.variant.Corpus())

	emb, err := e.embed(ctx, e.variant.Text(entry))
	if err != nil {
		e.logger.Warn("Failed to embed new entry", zap.String("id", id), zap.Error(err))
		return id, nil
	}
	if err := e.store.UpdateEmbedding(ctx, id, emb); err != nil {
		e.logger.Warn("Failed to persist embedding", zap.String("id", id), zap.Error(err))
	}
	e.variant.SetEmbedding(entry, emb)
	if err := e.cache.Append(entry, emb); err != nil {
		e.logger.Warn("Failed to cache new entry", zap.String("id", id), zap.Error(err))
		return id, nil
	}
	e.metrics.SetCacheSize(e.variant.Corpus(), e.cache.Size())

	if e.keywords != nil {
		if err := e.keywords.Index(ctx, id, e.variant.KeywordDocument(entry)); err != nil {
			e.logger.Warn("Failed to index new entry", zap.String("id", id), zap.Error(err))
		}
	}
	return id, nil
}

func (e *Engine[T]) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.embedTimeout)
		defer cancel()
	}
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(emb) == 0 {
		return nil, vector.ErrEmptyEmbedding
	}
	return emb, nil
}

// Search retrieves without generating. Filter extraction applies as in Chat.
func (e *Engine[T]) Search(ctx context.Context, query string, topK int, f models.StructuredFilter) []models.Scored[T] {
	if topK <= 0 {
		topK = e.topK
	}
	return e.retrieve(ctx, query, topK, e.filterFor(ChatRequest{Query: query, Filter: f}))
}

// KeywordSearch runs a full-text query. Scores are normalized so the best hit scores 1.
func (e *Engine[T]) KeywordSearch(ctx context.Context, query string, limit int) ([]models.Scored[T], error) {
	if e.keywords == nil {
		return nil, ErrKeywordSearchDisabled
	}
	hits, err := e.keywords.Search(ctx, query, limit, &keyword.SearchOptions{TitleBoost: 2, FuzzyEnabled: true})
	if err != nil {
		return nil, err
	}
	maxScore := 0.0
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	snap := e.cache.Snapshot()
	byID := make(map[string]T, snap.Len())
	for _, entry := range snap.Entries {
		byID[e.variant.ID(entry)] = entry
	}
	out := make([]models.Scored[T], 0, len(hits))
	for _, h := range hits {
		entry, ok := byID[h.ID]
		if !ok {
			if entry, err = e.store.GetByID(ctx, h.ID); err != nil {
				continue
			}
		}
		score := 0.0
		if maxScore > 0 {
			score = h.Score / maxScore
		}
		out = append(out, models.Scored[T]{Item: entry, Score: score})
	}
	return out, nil
}

// Get returns one stored entry, or an error wrapping storage.ErrNotFound.
func (e *Engine[T]) Get(ctx context.Context, id string) (T, error) {
	return e.store.GetByID(ctx, id)
}

// List returns stored entries matching f, in insertion order.
func (e *Engine[T]) List(ctx context.Context, f *models.StructuredFilter) ([]T, error) {
	return e.store.ListAll(ctx, f)
}

// Delete removes an entry from the store and reconciles the cache.
func (e *Engine[T]) Delete(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	if _, err := e.Refresh(ctx); err != nil {
		return err
	}
	return nil
}

// History returns recent turns of a session, newest first.
func (e *Engine[T]) History(ctx context.Context, sessionID string, limit int) ([]*models.ConversationTurn, error) {
	if e.conversations == nil {
		return []*models.ConversationTurn{}, nil
	}
	return e.conversations.History(ctx, e.variant.Corpus(), sessionID, limit)
}

// CacheSize returns the number of retrievable entries.
func (e *Engine[T]) CacheSize() int {
	return e.cache.Size()
}

// Statistics summarizes the corpus and the cache.
func (e *Engine[T]) Statistics(ctx context.Context) (*models.Statistics, error) {
	total, err := e.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}
	withEmb, err := e.store.CountWithEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count embedded entries: %w", err)
	}
	extra, err := e.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["generator"] = e.generator.Model()

	stats := &models.Statistics{
		Corpus:         e.variant.Corpus(),
		CacheSize:      e.cache.Size(),
		CorpusSize:     total,
		WithEmbeddings: withEmb,
		Dimensions:     e.embedder.Dimensions(),
		Extra:          extra,
	}
	if e.conversations != nil {
		if stats.Conversations, err = e.conversations.CountTurns(ctx, e.variant.Corpus()); err != nil {
			return nil, fmt.Errorf("failed to count conversations: %w", err)
		}
	}
	if e.keywords != nil {
		if n, err := e.keywords.DocCount(); err == nil {
			extra["keyword_documents"] = n
		}
	}
	return stats, nil
}
