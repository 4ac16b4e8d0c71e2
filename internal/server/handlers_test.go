package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kiku/internal/config"
	"github.com/hyperjump/kiku/internal/embedding"
	"github.com/hyperjump/kiku/internal/filter"
	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/metrics"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/storage"
)

// topics embeds text as a one-hot vector over a few fixed topics.
var topics = embedding.Func{Dim: 4, Fn: func(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 4)
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "python"):
		v[0] = 1
	case strings.Contains(lower, "phone"):
		v[1] = 1
	case strings.Contains(lower, "laptop"):
		v[2] = 1
	default:
		v[3] = 1
	}
	return v, nil
}}

type fixture struct {
	handler   http.Handler
	knowledge *rag.Engine[*models.Knowledge]
	products  *rag.Engine[*models.Product]
	generator *generation.MockGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	idx, err := keyword.NewBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })

	gen := generation.NewMockGeneratorWithError("model offline")
	m := metrics.New()
	knowledge := rag.NewEngine(rag.KnowledgeVariant(), store.Knowledge(), topics, gen,
		rag.WithConversationLog(store.Conversations()),
		rag.WithKeywordIndex(idx),
		rag.WithMetrics(m))
	products := rag.NewEngine(rag.ProductVariant("VND"), store.Products(), topics, gen,
		rag.WithConversationLog(store.Conversations()),
		rag.WithFilterExtractor(filter.NewExtractor()),
		rag.WithMetrics(m))

	ctx := context.Background()
	if _, err := knowledge.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := products.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	srv := NewServer(knowledge, products, &config.ServerConfig{Port: 8080}, nil,
		WithMetrics(m, "/metrics"), WithVersion("test"), WithStorage(store))
	return &fixture{handler: srv.Router(), knowledge: knowledge, products: products, generator: gen}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return out
}

func (f *fixture) addKnowledge(t *testing.T, question, answer string) string {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/knowledge", map[string]any{"question": question, "answer": answer, "category": "programming"})
	if w.Code != http.StatusCreated {
		t.Fatalf("add knowledge: status %d: %s", w.Code, w.Body.String())
	}
	return decode[map[string]string](t, w)["id"]
}

func TestKnowledgeChat_FallbackAndSession(t *testing.T) {
	f := newFixture(t)
	f.addKnowledge(t, "What is Python?", "Python is a high-level programming language.")

	w := f.do(t, http.MethodPost, "/api/v1/knowledge/chat", map[string]any{"message": "What is Python?"})
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	reply := decode[models.ChatReply](t, w)
	if reply.Response != "Python is a high-level programming language." {
		t.Errorf("response = %q", reply.Response)
	}
	if reply.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if !reply.UsedContext || reply.Outcome != string(rag.StatusFallenBack) {
		t.Errorf("used_context=%v outcome=%q", reply.UsedContext, reply.Outcome)
	}
	if reply.Fallback != rag.FallbackDirectLookup {
		t.Errorf("fallback = %q, want %q", reply.Fallback, rag.FallbackDirectLookup)
	}
	if len(reply.Knowledge) != 1 || reply.Knowledge[0].Similarity < 0.99 {
		t.Errorf("relevant knowledge = %+v", reply.Knowledge)
	}

	hist := f.do(t, http.MethodGet, "/api/v1/conversations/"+reply.SessionID, nil)
	if hist.Code != http.StatusOK {
		t.Fatalf("history status %d", hist.Code)
	}
	out := decode[struct {
		History []*models.ConversationTurn `json:"history"`
	}](t, hist)
	if len(out.History) != 1 || out.History[0].UserMessage != "What is Python?" {
		t.Errorf("history = %+v", out.History)
	}
}

func TestChat_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		path string
		body any
	}{
		{"missing message", "/api/v1/knowledge/chat", map[string]any{"message": "  "}},
		{"malformed body", "/api/v1/products/chat", "{"},
		{"search without query", "/api/v1/products/search", map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := f.do(t, http.MethodPost, tt.path, tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestAddEntry_ValidationField(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/products", map[string]any{
		"name": "Phone", "description": "d", "category": "Phone", "brand": "X", "price": 0,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if got := decode[map[string]string](t, w)["field"]; got != "price" {
		t.Errorf("field = %q, want price", got)
	}
}

func TestProducts_ChatSearchAndList(t *testing.T) {
	f := newFixture(t)
	for _, p := range []map[string]any{
		{"name": "Budget Phone", "description": "A cheap phone.", "category": "Phone", "brand": "Nokia", "price": 3000000, "stock": 5},
		{"name": "Flagship Phone", "description": "An expensive phone.", "category": "Phone", "brand": "Apple", "price": 30000000, "stock": 0},
		{"name": "Gaming Laptop", "description": "A laptop.", "category": "Laptop", "brand": "Asus", "price": 25000000, "stock": 2},
	} {
		if w := f.do(t, http.MethodPost, "/api/v1/products", p); w.Code != http.StatusCreated {
			t.Fatalf("add product: %d %s", w.Code, w.Body.String())
		}
	}

	w := f.do(t, http.MethodPost, "/api/v1/products/chat", map[string]any{"message": "a phone under 10 million", "session_id": "s-1"})
	reply := decode[models.ChatReply](t, w)
	if reply.SessionID != "s-1" {
		t.Errorf("session id = %q", reply.SessionID)
	}
	if len(reply.Products) != 1 || reply.Products[0].Name != "Budget Phone" {
		t.Fatalf("products = %+v", reply.Products)
	}
	if !strings.Contains(reply.Response, "Budget Phone") {
		t.Errorf("fallback summary should name the product: %q", reply.Response)
	}
	if reply.Fallback != rag.FallbackSummary {
		t.Errorf("fallback = %q, want %q", reply.Fallback, rag.FallbackSummary)
	}

	w = f.do(t, http.MethodPost, "/api/v1/products/search", map[string]any{"query": "phone", "filters": map[string]any{"in_stock_only": true}})
	search := decode[struct {
		Products []*models.ProductHit `json:"products"`
		Count    int                  `json:"count"`
	}](t, w)
	if search.Count != 1 || !search.Products[0].InStock {
		t.Errorf("search = %+v", search)
	}

	w = f.do(t, http.MethodGet, "/api/v1/products?category=Phone&in_stock=true", nil)
	list := decode[struct {
		Items []*models.Product `json:"items"`
	}](t, w)
	if len(list.Items) != 1 || list.Items[0].Brand != "Nokia" {
		t.Errorf("list = %+v", list.Items)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/products?in_stock=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad in_stock: status %d", w.Code)
	}
}

func TestProducts_NoMatchSkipsGeneration(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/products/chat", map[string]any{"message": "a phone"})
	reply := decode[models.ChatReply](t, w)
	if reply.Response != rag.NoMatchingProducts {
		t.Errorf("response = %q", reply.Response)
	}
	if f.generator.Calls() != 0 {
		t.Errorf("generator called %d times", f.generator.Calls())
	}
}

func TestGetDeleteRefresh(t *testing.T) {
	f := newFixture(t)
	id := f.addKnowledge(t, "What is Python?", "A language.")

	w := f.do(t, http.MethodGet, "/api/v1/knowledge/"+id, nil)
	if w.Code != http.StatusOK || decode[models.Knowledge](t, w).Answer != "A language." {
		t.Fatalf("get: %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/knowledge/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing: status %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, "/api/v1/knowledge/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: status %d", w.Code)
	}
	if f.knowledge.CacheSize() != 0 {
		t.Errorf("cache size after delete = %d", f.knowledge.CacheSize())
	}
	if w := f.do(t, http.MethodDelete, "/api/v1/knowledge/"+id, nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status %d", w.Code)
	}

	w = f.do(t, http.MethodPost, "/api/v1/knowledge/refresh", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("refresh: status %d", w.Code)
	}
	if got := decode[map[string]any](t, w)["cache_size"]; got != float64(0) {
		t.Errorf("cache_size = %v", got)
	}
}

func TestKeywordSearch(t *testing.T) {
	f := newFixture(t)
	f.addKnowledge(t, "How do goroutines work?", "They are lightweight threads.")

	w := f.do(t, http.MethodGet, "/api/v1/knowledge/keyword?q=goroutines", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	out := decode[struct {
		Knowledge []*models.KnowledgeHit `json:"relevant_knowledge"`
	}](t, w)
	if len(out.Knowledge) != 1 || out.Knowledge[0].Similarity != 1 {
		t.Errorf("hits = %+v", out.Knowledge)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/knowledge/keyword", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: status %d", w.Code)
	}
	// The product engine has no keyword index.
	if w := f.do(t, http.MethodGet, "/api/v1/products/keyword?q=phone", nil); w.Code != http.StatusNotImplemented {
		t.Errorf("products keyword: status %d", w.Code)
	}
}

func TestHealthStatsMetrics(t *testing.T) {
	f := newFixture(t)
	f.addKnowledge(t, "What is Python?", "A language.")

	health := decode[struct {
		Status     string         `json:"status"`
		Version    string         `json:"version"`
		CacheSizes map[string]int `json:"cache_sizes"`
	}](t, f.do(t, http.MethodGet, "/health", nil))
	if health.Status != "ok" || health.Version != "test" || health.CacheSizes["knowledge"] != 1 {
		t.Errorf("health = %+v", health)
	}

	stats := decode[map[string]*models.Statistics](t, f.do(t, http.MethodGet, "/api/v1/stats", nil))
	if stats["knowledge"] == nil || stats["knowledge"].CorpusSize != 1 || stats["products"] == nil {
		t.Errorf("stats = %+v", stats)
	}

	w := f.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "kiku_entries_added_total") {
		t.Errorf("metrics: status %d", w.Code)
	}
}

func TestListEmptyCorpusReturnsEmptyArray(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/api/v1/products?brand=nobody", "/api/v1/knowledge"} {
		w := f.do(t, http.MethodGet, path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), `"items":[]`) {
			t.Errorf("%s: body = %s", path, w.Body.String())
		}
	}
}

func TestHealthDegradedWhenStorageDown(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	store.Close()

	srv := NewServer(nil, nil, &config.ServerConfig{}, nil, WithStorage(store))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"degraded"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestDisabledCorpusNotMounted(t *testing.T) {
	srv := NewServer(nil, nil, &config.ServerConfig{}, nil)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/knowledge/chat", strings.NewReader(`{"message":"hi"}`))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
