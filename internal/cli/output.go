// Package cli provides output formatting and an HTTP client for the kiku command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/kiku/internal/importer"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

const separator = "─────────────────────────────────────────────────────────"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteChatReply writes a chat reply to w in the given format.
func WriteChatReply(w io.Writer, reply *models.ChatReply, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, reply)
	}
	fmt.Fprintf(w, "\n%s\n\n", reply.Response)
	outcome := reply.Outcome
	if reply.Fallback != "" {
		outcome += " (" + reply.Fallback + ")"
	}
	fmt.Fprintf(w, "[%s] session %s | outcome: %s | context: %t\n", reply.Corpus, reply.SessionID, outcome, reply.UsedContext)
	if len(reply.Knowledge) > 0 || len(reply.Products) > 0 {
		fmt.Fprintln(w, "\nSources:")
		writeKnowledgeHits(w, reply.Knowledge)
		writeProductHits(w, reply.Products)
	}
	return nil
}

// SearchResults is the body of a search or keyword search response.
type SearchResults struct {
	Knowledge []*models.KnowledgeHit `json:"relevant_knowledge,omitempty"`
	Products  []*models.ProductHit   `json:"products,omitempty"`
	Count     int                    `json:"count"`
}

// WriteSearchResults writes retrieval results to w in the given format.
func WriteSearchResults(w io.Writer, results *SearchResults, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, results)
	}
	fmt.Fprintf(w, "\nFound %d results\n\n", results.Count)
	writeKnowledgeHits(w, results.Knowledge)
	writeProductHits(w, results.Products)
	return nil
}

func writeKnowledgeHits(w io.Writer, hits []*models.KnowledgeHit) {
	for i, h := range hits {
		fmt.Fprintln(w, separator)
		fmt.Fprintf(w, "%d. [%.4f] %s (%s)\n", i+1, h.Similarity, h.Question, h.Category)
		fmt.Fprintf(w, "   %s\n", utils.Truncate(h.Answer, 200))
	}
}

func writeProductHits(w io.Writer, hits []*models.ProductHit) {
	for i, h := range hits {
		fmt.Fprintln(w, separator)
		stock := "in stock"
		if !h.InStock {
			stock = "out of stock"
		}
		fmt.Fprintf(w, "%d. [%.4f] %s by %s | %s | %s\n", i+1, h.Similarity, h.Name, h.Brand, h.PriceFormatted, stock)
		if h.Description != "" {
			fmt.Fprintf(w, "   %s\n", utils.Truncate(h.Description, 200))
		}
	}
}

// WriteStatistics writes per-corpus statistics to w in the given format.
func WriteStatistics(w io.Writer, stats map[string]*models.Statistics, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, stats)
	}
	corpora := make([]string, 0, len(stats))
	for c := range stats {
		corpora = append(corpora, c)
	}
	sort.Strings(corpora)
	for _, c := range corpora {
		s := stats[c]
		fmt.Fprintf(w, "%s\n", strings.ToUpper(c))
		fmt.Fprintf(w, "  entries:        %d (%d embedded)\n", s.CorpusSize, s.WithEmbeddings)
		fmt.Fprintf(w, "  cache size:     %d\n", s.CacheSize)
		fmt.Fprintf(w, "  dimensions:     %d\n", s.Dimensions)
		fmt.Fprintf(w, "  conversations:  %d\n", s.Conversations)
		keys := make([]string, 0, len(s.Extra))
		for k := range s.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %-15s %v\n", k+":", s.Extra[k])
		}
	}
	return nil
}

// WriteImportResult writes the outcome of importing one seed file.
func WriteImportResult(w io.Writer, res *importer.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	if res.Unchanged {
		fmt.Fprintf(w, "%s: unchanged\n", res.Path)
		return nil
	}
	fmt.Fprintf(w, "%s: %d knowledge, %d products imported (%d invalid, %d ignored)\n",
		res.Path, res.Knowledge, res.Products, res.Invalid, res.Ignored)
	return nil
}
