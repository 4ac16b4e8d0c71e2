// Package keyword provides the full-text side index used for keyword search
// over a corpus. It is rebuilt together with the vector cache.
package keyword

import "context"

// Document is the searchable projection of a corpus entry. Title holds the
// question or product name, Body the answer or description.
type Document struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category"`
}

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score of title matches. Values <= 1 disable the boost.
	TitleBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance (1 or 2). Defaults to 1.
	Fuzziness int
}

// Result is a single keyword search hit.
type Result struct {
	ID    string
	Score float64
}

// Index defines keyword index operations.
type Index interface {
	Index(ctx context.Context, id string, doc Document) error
	Delete(ctx context.Context, id string) error
	// Rebuild replaces the whole index contents with docs.
	Rebuild(ctx context.Context, docs map[string]Document) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*Result, error)
	DocCount() (uint64, error)
	Close() error
}
