package keyword

import (
	"context"
	"testing"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex()
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestBleveIndex_SearchFindsBody(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	doc := Document{Title: "What is Python?", Body: "Python is a programming language created by Guido van Rossum.", Category: "programming"}
	if err := idx.Index(ctx, "k1", doc); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Index(ctx, "k2", Document{Title: "Shipping", Body: "Orders ship within two days."}); err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := idx.Search(ctx, "guido", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "k1" {
		t.Fatalf("results = %+v, want k1 only", results)
	}
	if results[0].Score <= 0 {
		t.Errorf("score = %v, want > 0", results[0].Score)
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()

	_ = idx.Index(ctx, "body", Document{Title: "Accessories", Body: "Works with the galaxy phone line and many others besides."})
	_ = idx.Index(ctx, "title", Document{Title: "Galaxy phone", Body: "Flagship handset with accessories and many others besides."})

	results, err := idx.Search(ctx, "galaxy", 10, &SearchOptions{TitleBoost: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "title" {
		t.Errorf("first result = %q, want title match first", results[0].ID)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "p1", Document{Title: "Laptop", Body: "Lightweight notebook"})

	exact, _ := idx.Search(ctx, "laptp", 10, nil)
	if len(exact) != 0 {
		t.Errorf("exact search for a typo should miss, got %d", len(exact))
	}
	fuzzy, err := idx.Search(ctx, "laptp", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(fuzzy) != 1 || fuzzy[0].ID != "p1" {
		t.Errorf("fuzzy results = %+v", fuzzy)
	}
}

func TestBleveIndex_Delete(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	if err := idx.Index(ctx, "doc1", Document{Title: "T", Body: "onlyindoc1"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx.Delete(ctx, "doc1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx.Search(ctx, "onlyindoc1", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}

func TestBleveIndex_Rebuild(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	_ = idx.Index(ctx, "stale", Document{Title: "stale entry"})

	err := idx.Rebuild(ctx, map[string]Document{
		"a": {Title: "fresh one"},
		"b": {Title: "fresh two"},
	})
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	n, err := idx.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DocCount = %d, want 2", n)
	}
	stale, _ := idx.Search(ctx, "stale", 10, nil)
	if len(stale) != 0 {
		t.Errorf("stale entry survived rebuild")
	}
	fresh, _ := idx.Search(ctx, "fresh", 10, nil)
	if len(fresh) != 2 {
		t.Errorf("expected 2 fresh hits, got %d", len(fresh))
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx := newTestIndex(t)
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("expected empty non-nil results, got %v", results)
	}
}
