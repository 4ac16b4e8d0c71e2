package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	keywordanalyzer "github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// BleveIndex implements Index with an in-memory Bleve index.
type BleveIndex struct {
	mu    sync.RWMutex
	index bleve.Index
}

var _ Index = (*BleveIndex)(nil)

// NewBleveIndex creates an empty in-memory index.
func NewBleveIndex() (*BleveIndex, error) {
	index, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &BleveIndex{index: index}, nil
}

func newMemIndex() (bleve.Index, error) {
	index, err := bleve.NewMemOnly(newMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return index, nil
}

func newMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	// Standard analyzer lowercases and tokenizes without stemming, so that
	// product model names and Vietnamese words match as typed.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", text)
	docMapping.AddFieldMappingsAt("body", text)

	category := bleve.NewTextFieldMapping()
	category.Analyzer = keywordanalyzer.Name
	docMapping.AddFieldMappingsAt("category", category)

	im.DefaultMapping = docMapping
	return im
}

// Index adds or replaces the document stored under id.
func (b *BleveIndex) Index(ctx context.Context, id string, doc Document) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if err := b.index.Index(id, doc); err != nil {
		return fmt.Errorf("failed to index %s: %w", id, err)
	}
	return nil
}

// Delete removes a document from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.Delete(id)
}

// Rebuild indexes docs into a fresh index and swaps it in. The previous
// index keeps serving searches until the swap.
func (b *BleveIndex) Rebuild(ctx context.Context, docs map[string]Document) error {
	fresh, err := newMemIndex()
	if err != nil {
		return err
	}
	batch := fresh.NewBatch()
	for id, doc := range docs {
		if err := ctx.Err(); err != nil {
			_ = fresh.Close()
			return err
		}
		if err := batch.Index(id, doc); err != nil {
			_ = fresh.Close()
			return fmt.Errorf("failed to batch %s: %w", id, err)
		}
	}
	if err := fresh.Batch(batch); err != nil {
		_ = fresh.Close()
		return fmt.Errorf("failed to apply batch: %w", err)
	}

	b.mu.Lock()
	old := b.index
	b.index = fresh
	b.mu.Unlock()
	return old.Close()
}

// Search runs a match query over title and body and returns up to limit hits,
// best first. Title matches are weighted by opts.TitleBoost.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []*Result{}, nil
	}
	titleBoost := 1.0
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 1 {
			titleBoost = opts.TitleBoost
		}
		if opts.FuzzyEnabled {
			fuzziness = opts.Fuzziness
			if fuzziness <= 0 {
				fuzziness = 1
			}
		}
	}

	q := bleve.NewDisjunctionQuery(
		fieldQuery(query, "title", titleBoost, fuzziness),
		fieldQuery(query, "body", 1, fuzziness),
	)
	req := bleve.NewSearchRequest(q)
	req.Size = limit

	b.mu.RLock()
	results, err := b.index.SearchInContext(ctx, req)
	b.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*Result, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &Result{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// fieldQuery matches query against one field. With fuzziness > 0 every term
// becomes a fuzzy query and any term may match.
func fieldQuery(query, field string, boost float64, fuzziness int) blevequery.Query {
	if fuzziness > 0 {
		terms := strings.Fields(strings.ToLower(query))
		parts := make([]blevequery.Query, 0, len(terms))
		for _, term := range terms {
			fq := bleve.NewFuzzyQuery(term)
			fq.SetFuzziness(fuzziness)
			fq.SetField(field)
			fq.SetBoost(boost)
			parts = append(parts, fq)
		}
		return bleve.NewDisjunctionQuery(parts...)
	}
	mq := bleve.NewMatchQuery(query)
	mq.SetField(field)
	mq.SetBoost(boost)
	return mq
}

// DocCount returns the number of indexed documents.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the index.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.index.Close()
}
