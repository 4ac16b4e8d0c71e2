// Package retrieval ranks cached corpus entries by similarity to a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/vector"
)

// RelevanceThreshold is the score a result must exceed to be returned.
const RelevanceThreshold = 0.2

var errEmptyQueryEmbedding = errors.New("query embedding is empty")

// Matcher reports whether entry satisfies every predicate set in f.
type Matcher[T any] func(entry T, f models.StructuredFilter) bool

// SnapshotSource provides the entries to rank.
type SnapshotSource[T any] interface {
	Snapshot() vector.Snapshot[T]
}

// Option configures a Retriever.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	timeout time.Duration
}

// WithLogger sets the logger for the retriever.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEmbedTimeout bounds the query embedding call. Zero means no bound beyond ctx.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// Retriever performs filtered cosine-similarity retrieval over a cache snapshot.
type Retriever[T any] struct {
	source   SnapshotSource[T]
	embedder embedding.Embedder
	match    Matcher[T]
	logger   *zap.Logger
	timeout  time.Duration
}

// New creates a retriever over source. match may be nil when the corpus has no filterable fields.
func New[T any](source SnapshotSource[T], embedder embedding.Embedder, match Matcher[T], opts ...Option) *Retriever[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Retriever[T]{
		source:   source,
		embedder: embedder,
		match:    match,
		logger:   o.logger,
		timeout:  o.timeout,
	}
}

// Retrieve returns at most topK entries whose similarity to query exceeds
// RelevanceThreshold, in descending score order with ties kept in cache order.
//
// An empty candidate set is a normal empty result. If the query cannot be
// embedded the result is empty and the embedding error is returned with it;
// callers treat that as "nothing relevant" rather than a failed turn.
func (r *Retriever[T]) Retrieve(ctx context.Context, query string, topK int, filter models.StructuredFilter) ([]models.Scored[T], error) {
	if topK <= 0 {
		return nil, nil
	}
	snap := r.source.Snapshot()
	if !filter.IsEmpty() && r.match != nil {
		snap = ApplyFilter(snap, filter, r.match)
	}
	if snap.Len() == 0 {
		return nil, nil
	}

	qvec, err := r.embedQuery(ctx, query)
	if err != nil {
		r.logger.Warn("Query embedding failed, returning no results", zap.Error(err))
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	// Candidates must strictly beat the threshold; a NaN score never does.
	scores := make([]float64, snap.Len())
	order := make([]int, 0, snap.Len())
	for i, emb := range snap.Embeddings {
		scores[i] = vector.CosineSimilarity(qvec, emb)
		if scores[i] > RelevanceThreshold {
			order = append(order, i)
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})
	if topK < len(order) {
		order = order[:topK]
	}

	results := make([]models.Scored[T], 0, len(order))
	for _, idx := range order {
		results = append(results, models.Scored[T]{Item: snap.Entries[idx], Score: scores[idx]})
	}

	r.logger.Debug("Retrieved",
		zap.Int("candidates", snap.Len()),
		zap.Int("returned", len(results)))
	return results, nil
}

func (r *Retriever[T]) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(qvec) == 0 {
		return nil, errEmptyQueryEmbedding
	}
	return qvec, nil
}

// ApplyFilter returns the aligned subset of snap whose entries satisfy f. It does not
// modify snap, and applying the same filter to its own output returns the same set.
func ApplyFilter[T any](snap vector.Snapshot[T], f models.StructuredFilter, match Matcher[T]) vector.Snapshot[T] {
	out := vector.Snapshot[T]{Generation: snap.Generation}
	for i, entry := range snap.Entries {
		if match(entry, f) {
			out.Entries = append(out.Entries, entry)
			out.Embeddings = append(out.Embeddings, snap.Embeddings[i])
		}
	}
	return out
}
