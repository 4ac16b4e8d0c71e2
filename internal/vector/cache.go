// Package vector holds the in-memory vector cache that mirrors a corpus store, and
// the similarity helpers used to rank it.
package vector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/models"
)

// ErrEmptyEmbedding is returned when appending an entry without an embedding.
var ErrEmptyEmbedding = errors.New("embedding is empty")

// Codec describes how the cache reads and writes one corpus entry type.
type Codec[T any] interface {
	ID(entry T) string
	Embedding(entry T) []float32
	SetEmbedding(entry T, embedding []float32)
	// Text is the canonical text projection embedded for the entry. It must be
	// deterministic: the same entry always yields the same text.
	Text(entry T) string
}

// Source is the corpus store a cache loads from.
type Source[T any] interface {
	ListAll(ctx context.Context, filter *models.StructuredFilter) ([]T, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
}

// Snapshot is an immutable, index-aligned view of the cache. Embeddings[i] belongs
// to Entries[i]. Callers must not modify either slice.
type Snapshot[T any] struct {
	Entries    []T
	Embeddings [][]float32
	Generation uint64
}

// Len returns the number of cached entries.
func (s Snapshot[T]) Len() int {
	return len(s.Entries)
}

// LoadStats reports what a Load did.
type LoadStats struct {
	Listed   int `json:"listed"`
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
	Cached   int `json:"cached"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	logger       *zap.Logger
	embedTimeout time.Duration
}

// WithLogger sets the logger for the cache.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithEmbedTimeout bounds each embedding call made while loading.
func WithEmbedTimeout(d time.Duration) Option {
	return func(o *options) {
		o.embedTimeout = d
	}
}

// Cache is the working set of embeddable corpus entries. Reads are lock-free against
// the current snapshot; Load, Refresh and Append are serialized by a writer lock.
type Cache[T any] struct {
	source   Source[T]
	embedder embedding.Embedder
	codec    Codec[T]
	logger   *zap.Logger
	timeout  time.Duration

	mu      sync.Mutex
	current atomic.Pointer[Snapshot[T]]
}

// NewCache creates an empty cache. Call Load to populate it.
func NewCache[T any](source Source[T], embedder embedding.Embedder, codec Codec[T], opts ...Option) *Cache[T] {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[T]{
		source:   source,
		embedder: embedder,
		codec:    codec,
		logger:   o.logger,
		timeout:  o.embedTimeout,
	}
	c.current.Store(&Snapshot[T]{})
	return c
}

// Load fetches every entry from the source, embeds and persists the ones lacking an
// embedding, and publishes the result as a new snapshot in one atomic swap. Entries
// that still have no embedding are left out. A source failure leaves the previous
// snapshot in place and is returned.
func (c *Cache[T]) Load(ctx context.Context) (LoadStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats LoadStats
	listed, err := c.source.ListAll(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to list corpus entries: %w", err)
	}
	stats.Listed = len(listed)

	entries := make([]T, 0, len(listed))
	embeddings := make([][]float32, 0, len(listed))
	for _, entry := range listed {
		emb := c.codec.Embedding(entry)
		if len(emb) == 0 {
			emb = c.embedMissing(ctx, entry)
			if len(emb) == 0 {
				stats.Skipped++
				continue
			}
			stats.Embedded++
		}
		entries = append(entries, entry)
		embeddings = append(embeddings, emb)
	}

	prev := c.current.Load()
	c.current.Store(&Snapshot[T]{
		Entries:    entries,
		Embeddings: embeddings,
		Generation: prev.Generation + 1,
	})
	stats.Cached = len(entries)

	c.logger.Info("Vector cache loaded",
		zap.Int("listed", stats.Listed),
		zap.Int("embedded", stats.Embedded),
		zap.Int("skipped", stats.Skipped),
		zap.Int("cached", stats.Cached))
	return stats, nil
}

func (c *Cache[T]) embedMissing(ctx context.Context, entry T) []float32 {
	id := c.codec.ID(entry)
	embedCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	emb, err := c.embedder.Embed(embedCtx, c.codec.Text(entry))
	if err != nil {
		c.logger.Warn("Failed to embed corpus entry", zap.String("id", id), zap.Error(err))
		return nil
	}
	if len(emb) == 0 {
		return nil
	}
	if err := c.source.UpdateEmbedding(ctx, id, emb); err != nil {
		c.logger.Warn("Failed to persist embedding", zap.String("id", id), zap.Error(err))
	}
	c.codec.SetEmbedding(entry, emb)
	return emb
}

// Refresh discards the cache contents and loads them again from the source.
func (c *Cache[T]) Refresh(ctx context.Context) (LoadStats, error) {
	return c.Load(ctx)
}

// Append adds one entry and its embedding to the end of the cache. An entry
// already cached under the same id is replaced in place instead, so a Load
// that picked the entry up first does not leave it cached twice. Earlier
// snapshots are unaffected: they never see indices past their own length.
func (c *Cache[T]) Append(entry T, emb []float32) error {
	if len(emb) == 0 {
		return ErrEmptyEmbedding
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.current.Load()
	next := &Snapshot[T]{Generation: cur.Generation + 1}
	if i := c.indexOf(cur, c.codec.ID(entry)); i >= 0 {
		next.Entries = append([]T(nil), cur.Entries...)
		next.Embeddings = append([][]float32(nil), cur.Embeddings...)
		next.Entries[i] = entry
		next.Embeddings[i] = emb
	} else {
		next.Entries = append(cur.Entries, entry)
		next.Embeddings = append(cur.Embeddings, emb)
	}
	c.current.Store(next)
	return nil
}

func (c *Cache[T]) indexOf(snap *Snapshot[T], id string) int {
	if id == "" {
		return -1
	}
	for i, e := range snap.Entries {
		if c.codec.ID(e) == id {
			return i
		}
	}
	return -1
}

// Snapshot returns the current view. It stays valid and unchanged for as long as
// the caller holds it.
func (c *Cache[T]) Snapshot() Snapshot[T] {
	return *c.current.Load()
}

// Size returns the number of cached entries.
func (c *Cache[T]) Size() int {
	return c.current.Load().Len()
}
