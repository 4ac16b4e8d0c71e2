package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/importer"
	"github.com/hyperjump/kiku/internal/models"
)

func sampleReply() *models.ChatReply {
	return &models.ChatReply{
		Response:    "Python is a programming language.",
		SessionID:   "s-1",
		Corpus:      "knowledge",
		UsedContext: true,
		Outcome:     "fallen_back",
		Fallback:    "direct_lookup",
		Knowledge: []*models.KnowledgeHit{
			{ID: "k1", Question: "What is Python?", Answer: "A programming language.", Category: "programming", Similarity: 1},
		},
	}
}

func TestWriteChatReply_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChatReply(&buf, sampleReply(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ChatReply
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.SessionID != "s-1" || len(decoded.Knowledge) != 1 {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteChatReply_text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteChatReply(&buf, sampleReply(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Python is a programming language.", "session s-1", "outcome: fallen_back (direct_lookup)", "Sources:", "[1.0000] What is Python? (programming)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteSearchResults_products(t *testing.T) {
	results := &SearchResults{
		Products: []*models.ProductHit{
			{Name: "Galaxy S23", Brand: "Samsung", PriceFormatted: "18,990,000đ", InStock: false, Similarity: 0.8123},
		},
		Count: 1,
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, results, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Found 1 results") || !strings.Contains(out, "Galaxy S23 by Samsung | 18,990,000đ | out of stock") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteStatistics_text(t *testing.T) {
	stats := map[string]*models.Statistics{
		"products":  {Corpus: "products", CorpusSize: 3, WithEmbeddings: 2, CacheSize: 2, Extra: map[string]any{"in_stock": 1}},
		"knowledge": {Corpus: "knowledge", CorpusSize: 5, WithEmbeddings: 5, CacheSize: 5},
	}
	var buf bytes.Buffer
	if err := WriteStatistics(&buf, stats, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if strings.Index(out, "KNOWLEDGE") > strings.Index(out, "PRODUCTS") {
		t.Errorf("corpora should be sorted:\n%s", out)
	}
	if !strings.Contains(out, "entries:        3 (2 embedded)") || !strings.Contains(out, "in_stock:") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteImportResult(t *testing.T) {
	tests := []struct {
		name string
		res  *importer.Result
		want string
	}{
		{"imported", &importer.Result{Path: "/seeds/a.json", Knowledge: 2, Products: 1, Invalid: 1}, "/seeds/a.json: 2 knowledge, 1 products imported (1 invalid, 0 ignored)"},
		{"unchanged", &importer.Result{Path: "/seeds/a.json", Unchanged: true}, "/seeds/a.json: unchanged"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := WriteImportResult(&buf, tt.res, OutputText); err != nil {
				t.Fatal(err)
			}
			if got := strings.TrimSpace(buf.String()); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
