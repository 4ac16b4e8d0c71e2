// Package rag ties the vector cache, retriever and generator together into a
// retrieval-augmented chat engine for one corpus.
package rag

import (
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/vector"
)

// Corpus names.
const (
	CorpusKnowledge = "knowledge"
	CorpusProducts  = "products"
)

// Fallback kinds recorded on an Outcome when generation did not produce the reply.
const (
	FallbackDirectLookup = "direct_lookup"
	FallbackSummary      = "summary"
	FallbackApology      = "apology"
)

// Variant adapts one corpus entry type to the engine.
type Variant[T any] interface {
	vector.Codec[T]

	// Corpus names the corpus in logs, metrics and the conversation log.
	Corpus() string
	// DefaultTopK is the retrieval depth used when a request does not set one.
	DefaultTopK() int
	// Prepare validates entry and normalizes it in place before insertion.
	// Validation failures are *models.ValidationError.
	Prepare(entry T) error
	// Match reports whether entry satisfies every predicate set in f.
	Match(entry T, f models.StructuredFilter) bool

	// Prompt renders the grounded prompt. retrieved is never empty.
	Prompt(query string, retrieved []models.Scored[T]) string
	// EmptyRetrieval decides what an empty retrieval turns into: a prompt for
	// ungrounded generation, or a fixed reply that skips generation. Exactly
	// one of the two is non-empty.
	EmptyRetrieval(query string) (prompt, reply string)
	// Fallback answers from the top retrieved entry alone. retrieved is never
	// empty. It returns the reply and the fallback kind.
	Fallback(retrieved []models.Scored[T]) (text, kind string)
	GenerationOptions() generation.Options

	KeywordDocument(entry T) keyword.Document
}
