package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/filter"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/storage"
)

// topicEmbedder maps text to a one-hot vector by the first topic word it contains.
func topicEmbedder() embedding.Embedder {
	topics := []string{"python", "phone", "laptop"}
	return embedding.Func{Dim: 4, Fn: func(ctx context.Context, text string) ([]float32, error) {
		v := make([]float32, 4)
		lower := strings.ToLower(text)
		for i, topic := range topics {
			if strings.Contains(lower, topic) {
				v[i] = 1
				return v, nil
			}
		}
		v[3] = 1
		return v, nil
	}}
}

func failingEmbedder() embedding.Embedder {
	return embedding.Func{Dim: 4, Fn: func(context.Context, string) ([]float32, error) {
		return nil, errors.New("embedding backend down")
	}}
}

func newStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newKnowledgeEngine(t *testing.T, store *storage.SQLiteStorage, gen generation.Generator, opts ...Option) *Engine[*models.Knowledge] {
	t.Helper()
	opts = append([]Option{WithConversationLog(store.Conversations())}, opts...)
	e := NewEngine(KnowledgeVariant(), store.Knowledge(), topicEmbedder(), gen, opts...)
	if _, err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e
}

func newProductEngine(t *testing.T, store *storage.SQLiteStorage, gen generation.Generator) *Engine[*models.Product] {
	t.Helper()
	e := NewEngine(ProductVariant("VND"), store.Products(), topicEmbedder(), gen,
		WithFilterExtractor(filter.NewExtractor()),
		WithConversationLog(store.Conversations()))
	if _, err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e
}

func addKnowledge(t *testing.T, e *Engine[*models.Knowledge], question, answer string) string {
	t.Helper()
	id, err := e.AddEntry(context.Background(), &models.Knowledge{Question: question, Answer: answer})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func addProduct(t *testing.T, e *Engine[*models.Product], name string, price float64, stock int) string {
	t.Helper()
	specs := models.NewSpecifications()
	specs.Set("screen", "6.1 inch")
	specs.Set("battery", "4000mAh")
	specs.Set("storage", "128GB")
	specs.Set("color", "black")
	id, err := e.AddEntry(context.Background(), &models.Product{
		Name:           name,
		Description:    "A capable phone with a bright display.",
		Category:       "phone",
		Brand:          "Acme",
		Price:          price,
		Specifications: specs,
		Stock:          stock,
		Rating:         4.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEngine_PythonFallsBackToStoredAnswer(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGeneratorWithError("model unavailable"))
	answer := "Python is a high-level programming language."
	id := addKnowledge(t, e, "What is Python?", answer)

	res := e.Chat(context.Background(), ChatRequest{Query: "Tell me about Python"})
	if len(res.Retrieved) != 1 {
		t.Fatalf("expected 1 retrieved entry, got %d", len(res.Retrieved))
	}
	if res.Retrieved[0].Item.ID != id || res.Retrieved[0].Score != 1.0 {
		t.Errorf("retrieved %s with score %v, want %s with 1.0", res.Retrieved[0].Item.ID, res.Retrieved[0].Score, id)
	}
	if res.Response != answer {
		t.Errorf("response = %q, want the stored answer", res.Response)
	}
	if res.Outcome.Status != StatusFallenBack || res.Outcome.Fallback != FallbackDirectLookup {
		t.Errorf("outcome = %+v", res.Outcome)
	}
	if res.Outcome.Reason == nil || !strings.Contains(res.Outcome.Reason.Error(), "model unavailable") {
		t.Errorf("reason = %v", res.Outcome.Reason)
	}
}

func TestEngine_GeneratesFromContext(t *testing.T) {
	store := newStore(t)
	gen := generation.NewMockGenerator("  Python is a language.  ")
	e := newKnowledgeEngine(t, store, gen)
	addKnowledge(t, e, "What is Python?", "A programming language.")

	res := e.Chat(context.Background(), ChatRequest{Query: "Tell me about Python"})
	if res.Response != "Python is a language." {
		t.Errorf("response = %q, want trimmed generated text", res.Response)
	}
	if res.Outcome.Status != StatusSucceeded || !res.Outcome.Generated || !res.Outcome.UsedContext {
		t.Errorf("outcome = %+v", res.Outcome)
	}
	prompt := gen.LastPrompt()
	for _, want := range []string{"Context information:", "1. Q: What is Python?", "   A: A programming language.", "User Question: Tell me about Python", "Answer: "} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if opts := gen.LastOptions(); opts.MaxTokens != 500 || opts.Temperature != 0.7 {
		t.Errorf("options = %+v", opts)
	}
}

func TestEngine_GenerationOptionsOverride(t *testing.T) {
	store := newStore(t)
	gen := generation.NewMockGenerator("ok")
	e := newKnowledgeEngine(t, store, gen, WithGenerationOptions(generation.Options{MaxTokens: 120}))
	addKnowledge(t, e, "What is Python?", "A programming language.")

	e.Chat(context.Background(), ChatRequest{Query: "Python"})
	if opts := gen.LastOptions(); opts.MaxTokens != 120 || opts.Temperature != 0.7 {
		t.Errorf("options = %+v, want max tokens overridden and temperature kept", opts)
	}
}

func TestEngine_KnowledgeEmptyRetrievalGeneratesUngrounded(t *testing.T) {
	store := newStore(t)
	gen := generation.NewMockGenerator("I am not sure.")
	e := newKnowledgeEngine(t, store, gen)
	addKnowledge(t, e, "What is Python?", "A programming language.")

	res := e.Chat(context.Background(), ChatRequest{Query: "what's the weather"})
	if len(res.Retrieved) != 0 {
		t.Fatalf("expected no retrieved entries, got %d", len(res.Retrieved))
	}
	if gen.Calls() != 1 {
		t.Fatalf("generator calls = %d, want 1", gen.Calls())
	}
	if strings.Contains(gen.LastPrompt(), "Context information") {
		t.Error("ungrounded prompt should carry no context")
	}
	if res.Outcome.UsedContext {
		t.Error("UsedContext should be false")
	}
}

func TestEngine_ApologyWhenNothingRetrievedAndGenerationFails(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGeneratorWithError("boom"))

	res := e.Chat(context.Background(), ChatRequest{Query: "anything"})
	if res.Response != "I apologize, but I encountered an error: boom" {
		t.Errorf("response = %q", res.Response)
	}
	if res.Outcome.Fallback != FallbackApology {
		t.Errorf("fallback = %q", res.Outcome.Fallback)
	}
}

func TestEngine_EmptyGenerationFallsBack(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGenerator("   "))
	addKnowledge(t, e, "What is Python?", "A language.")

	res := e.Chat(context.Background(), ChatRequest{Query: "python?"})
	if res.Response != "A language." || !errors.Is(res.Outcome.Reason, generation.ErrEmptyResponse) {
		t.Errorf("response = %q, reason = %v", res.Response, res.Outcome.Reason)
	}
}

func TestEngine_NilGeneratorAlwaysFallsBack(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, nil)
	addKnowledge(t, e, "What is Python?", "A language.")

	res := e.Chat(context.Background(), ChatRequest{Query: "python"})
	if !errors.Is(res.Outcome.Reason, generation.ErrDisabled) {
		t.Errorf("reason = %v, want ErrDisabled", res.Outcome.Reason)
	}
}

func TestEngine_ProductEmptyRetrievalSkipsGeneration(t *testing.T) {
	store := newStore(t)
	gen := generation.NewMockGenerator("should not be used")
	e := newProductEngine(t, store, gen)
	addProduct(t, e, "Galaxy Phone", 12_000_000, 3)

	res := e.Chat(context.Background(), ChatRequest{Query: "gaming laptop"})
	if res.Response != NoMatchingProducts {
		t.Errorf("response = %q", res.Response)
	}
	if gen.Calls() != 0 {
		t.Errorf("generator called %d times", gen.Calls())
	}
	if res.Outcome.Status != StatusSucceeded || res.Outcome.Generated {
		t.Errorf("outcome = %+v", res.Outcome)
	}
}

func TestEngine_ProductFallbackIsDeterministic(t *testing.T) {
	store := newStore(t)
	e := newProductEngine(t, store, generation.NewMockGeneratorWithError("timeout"))
	addProduct(t, e, "Galaxy Phone", 28_990_000, 3)
	addProduct(t, e, "Pixel Phone", 19_990_000, 0)

	first := e.Chat(context.Background(), ChatRequest{Query: "a good phone"})
	second := e.Chat(context.Background(), ChatRequest{Query: "a good phone"})
	if first.Response != second.Response {
		t.Error("fallback text differs between identical turns")
	}
	for _, want := range []string{"**Galaxy Phone** by Acme", "Price: 28,990,000đ", "Rating: 4.5/5.0", "I also found 1 more similar products"} {
		if !strings.Contains(first.Response, want) {
			t.Errorf("fallback missing %q:\n%s", want, first.Response)
		}
	}
	if strings.Contains(first.Response, "Pixel") {
		t.Error("fallback must be derived from the top entry only")
	}
	if first.Outcome.Fallback != FallbackSummary {
		t.Errorf("fallback kind = %q", first.Outcome.Fallback)
	}
}

func TestEngine_ProductPromptAndPriceExtraction(t *testing.T) {
	store := newStore(t)
	gen := generation.NewMockGenerator("Try the Pixel.")
	e := newProductEngine(t, store, gen)
	addProduct(t, e, "Galaxy Phone", 28_990_000, 3)
	addProduct(t, e, "Pixel Phone", 9_990_000, 0)

	res := e.Chat(context.Background(), ChatRequest{Query: "phone under 10 million"})
	if len(res.Retrieved) != 1 || res.Retrieved[0].Item.Name != "Pixel Phone" {
		t.Fatalf("retrieved = %+v", res.Retrieved)
	}
	if res.Filter.MaxPrice == nil || *res.Filter.MaxPrice != 10_000_000 {
		t.Errorf("filter = %+v", res.Filter)
	}
	prompt := gen.LastPrompt()
	for _, want := range []string{"1. **Pixel Phone** (Acme)", "Price: 9,990,000đ", "Rating: 4.5/5.0", "Availability: Out of stock", "Specifications: screen: 6.1 inch, battery: 4000mAh, storage: 128GB", "Customer question: phone under 10 million"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "color: black") {
		t.Error("prompt should list at most 3 specifications")
	}
	if opts := gen.LastOptions(); opts.MaxTokens != 600 {
		t.Errorf("max tokens = %d, want 600", opts.MaxTokens)
	}

	inStock := e.Chat(context.Background(), ChatRequest{Query: "phone", Filter: models.StructuredFilter{InStockOnly: true}})
	if len(inStock.Retrieved) != 1 || inStock.Retrieved[0].Item.Name != "Galaxy Phone" {
		t.Errorf("in-stock retrieval = %+v", inStock.Retrieved)
	}
}

func TestEngine_EmbeddingFailureDegradesToNoResults(t *testing.T) {
	store := newStore(t)
	seed := newProductEngine(t, store, nil)
	addProduct(t, seed, "Galaxy Phone", 1_000_000, 1)

	gen := generation.NewMockGenerator("unused")
	e := NewEngine(ProductVariant("VND"), store.Products(), failingEmbedder(), gen)
	if _, err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1 (embedding already stored)", e.CacheSize())
	}
	res := e.Chat(context.Background(), ChatRequest{Query: "phone"})
	if res.Response != NoMatchingProducts || len(res.Retrieved) != 0 {
		t.Errorf("response = %q, retrieved = %d", res.Response, len(res.Retrieved))
	}
}

func TestEngine_AddEntryValidation(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, nil)

	_, err := e.AddEntry(context.Background(), &models.Knowledge{Question: "   ", Answer: "a"})
	var verr *models.ValidationError
	if !errors.As(err, &verr) || verr.Field != "question" {
		t.Fatalf("expected question validation error, got %v", err)
	}
	if n, _ := store.Knowledge().Count(context.Background()); n != 0 {
		t.Errorf("invalid entry was stored")
	}
	if e.CacheSize() != 0 {
		t.Errorf("invalid entry was cached")
	}

	pe := newProductEngine(t, store, nil)
	_, err = pe.AddEntry(context.Background(), &models.Product{Name: "X", Description: "d", Category: "c", Brand: "b", Price: 0})
	if !errors.As(err, &verr) || verr.Field != "price" {
		t.Errorf("expected price validation error, got %v", err)
	}
}

func TestEngine_AddEntryIsRetrievableImmediately(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGeneratorWithError("down"))

	k := &models.Knowledge{Question: "  Laptop battery life?  ", Answer: "About ten hours."}
	id, err := e.AddEntry(context.Background(), k)
	if err != nil {
		t.Fatal(err)
	}
	if k.Question != "Laptop battery life?" || k.Category != models.DefaultKnowledgeCategory {
		t.Errorf("entry not normalized: %+v", k)
	}
	if e.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", e.CacheSize())
	}
	stored, err := store.Knowledge().GetByID(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.HasEmbedding() {
		t.Error("embedding was not persisted")
	}
	results := e.Search(context.Background(), "laptop", 0, models.StructuredFilter{})
	if len(results) != 1 || results[0].Item.ID != id {
		t.Errorf("search results = %+v", results)
	}
}

func TestEngine_InitializeEmbedsStoredEntries(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for _, q := range []string{"What is Python?", "Phone warranty?"} {
		if _, err := store.Knowledge().Insert(ctx, &models.Knowledge{Question: q, Answer: "a", Category: "general"}); err != nil {
			t.Fatal(err)
		}
	}
	e := NewEngine(KnowledgeVariant(), store.Knowledge(), topicEmbedder(), nil)
	stats, err := e.Initialize(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Embedded != 2 || stats.Cached != 2 {
		t.Errorf("load stats = %+v", stats)
	}
	if n, _ := store.Knowledge().CountWithEmbeddings(ctx); n != 2 {
		t.Errorf("persisted embeddings = %d, want 2", n)
	}
}

func TestEngine_DeleteReconcilesCache(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, nil)
	id := addKnowledge(t, e, "What is Python?", "A language.")
	addKnowledge(t, e, "Phone warranty?", "One year.")

	if err := e.Delete(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	if e.CacheSize() != 1 {
		t.Errorf("cache size = %d, want 1", e.CacheSize())
	}
	if _, err := e.Get(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := e.Delete(context.Background(), id); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}
}

func TestEngine_ConversationLogged(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGenerator("Sure."))
	id := addKnowledge(t, e, "What is Python?", "A language.")

	e.Chat(context.Background(), ChatRequest{Query: "python", SessionID: "s1"})
	e.Chat(context.Background(), ChatRequest{Query: "no session"})

	history, err := e.History(context.Background(), "s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	turn := history[0]
	if turn.UserMessage != "python" || turn.BotResponse != "Sure." || turn.Corpus != CorpusKnowledge {
		t.Errorf("turn = %+v", turn)
	}
	if len(turn.Context.RetrievedIDs) != 1 || turn.Context.RetrievedIDs[0] != id || turn.Context.TopSimilarity != 1.0 {
		t.Errorf("turn context = %+v", turn.Context)
	}
}

type failingLog struct{}

func (failingLog) AppendTurn(context.Context, *models.ConversationTurn) error {
	return errors.New("disk full")
}

func (failingLog) History(context.Context, string, string, int) ([]*models.ConversationTurn, error) {
	return nil, nil
}

func (failingLog) CountTurns(context.Context, string) (int64, error) { return 0, nil }

func TestEngine_ConversationLogFailureDoesNotFailChat(t *testing.T) {
	store := newStore(t)
	e := NewEngine(KnowledgeVariant(), store.Knowledge(), topicEmbedder(), generation.NewMockGenerator("Hello."),
		WithConversationLog(failingLog{}))
	if _, err := e.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	res := e.Chat(context.Background(), ChatRequest{Query: "hi", SessionID: "s1"})
	if res.Response != "Hello." || res.Outcome.Status != StatusSucceeded {
		t.Errorf("result = %+v", res)
	}
}

func TestEngine_KeywordSearch(t *testing.T) {
	store := newStore(t)
	idx, err := keyword.NewBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()

	e := newKnowledgeEngine(t, store, nil, WithKeywordIndex(idx))
	addKnowledge(t, e, "What is Python?", "A language designed by Guido.")
	addKnowledge(t, e, "Phone warranty?", "One year for every phone.")

	results, err := e.KeywordSearch(context.Background(), "guido", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Item.Question != "What is Python?" || results[0].Score != 1 {
		t.Errorf("results = %+v", results)
	}

	if _, err := e.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.DocCount(); n != 2 {
		t.Errorf("keyword docs after refresh = %d, want 2", n)
	}

	plain := newKnowledgeEngine(t, newStore(t), nil)
	if _, err := plain.KeywordSearch(context.Background(), "x", 1); !errors.Is(err, ErrKeywordSearchDisabled) {
		t.Errorf("expected ErrKeywordSearchDisabled, got %v", err)
	}
}

func TestEngine_Statistics(t *testing.T) {
	store := newStore(t)
	e := newProductEngine(t, store, generation.NewMockGenerator("ok"))
	addProduct(t, e, "Galaxy Phone", 10, 1)
	addProduct(t, e, "Pixel Phone", 20, 0)
	e.Chat(context.Background(), ChatRequest{Query: "phone", SessionID: "s"})

	stats, err := e.Statistics(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Corpus != CorpusProducts || stats.CacheSize != 2 || stats.CorpusSize != 2 || stats.WithEmbeddings != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.Conversations != 1 || stats.Dimensions != 4 {
		t.Errorf("conversations = %d, dimensions = %d", stats.Conversations, stats.Dimensions)
	}
	if stats.Extra["generator"] != "mock" || stats.Extra["in_stock"] != int64(1) {
		t.Errorf("extra = %+v", stats.Extra)
	}
}

func TestReplies(t *testing.T) {
	res := &ChatResult[*models.Product]{
		SessionID: "s",
		Response:  "r",
		Outcome:   Outcome{Status: StatusSucceeded, UsedContext: true},
		Retrieved: []models.Scored[*models.Product]{{Item: &models.Product{ID: "p", Name: "Phone", Price: 28_990_000, Currency: "VND", Stock: 2}, Score: 0.8}},
	}
	reply := ProductReply(res)
	if reply.Corpus != CorpusProducts || reply.Outcome != "succeeded" || len(reply.Products) != 1 {
		t.Fatalf("reply = %+v", reply)
	}
	hit := reply.Products[0]
	if hit.PriceFormatted != "28,990,000đ" || !hit.InStock || hit.Similarity != 0.8 {
		t.Errorf("hit = %+v", hit)
	}
}

func TestEngine_AddEntrySameIDReplaces(t *testing.T) {
	store := newStore(t)
	e := newKnowledgeEngine(t, store, generation.NewMockGenerator("unused"))
	ctx := context.Background()

	for _, answer := range []string{"Old answer about python.", "New answer about python."} {
		if _, err := e.AddEntry(ctx, &models.Knowledge{ID: "seed-python", Question: "What is Python?", Answer: answer}); err != nil {
			t.Fatal(err)
		}
	}
	if e.CacheSize() != 1 {
		t.Fatalf("cache size = %d, want 1", e.CacheSize())
	}
	n, err := store.Knowledge().Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("stored = %d, want 1", n)
	}

	hits := e.Search(ctx, "python", 3, models.StructuredFilter{})
	if len(hits) != 1 || hits[0].Item.Answer != "New answer about python." {
		t.Errorf("hits = %+v", hits)
	}
}
