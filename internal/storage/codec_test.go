package storage

import (
	"testing"

	"github.com/hyperjump/kiku/internal/models"
)

func TestEmbeddingBlob(t *testing.T) {
	v := []float32{0.25, -1.5, 3}
	got, err := decodeEmbedding(encodeEmbedding(v))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 0.25 || got[1] != -1.5 || got[2] != 3 {
		t.Errorf("got %v", got)
	}
	if encodeEmbedding(nil) != nil {
		t.Error("nil vector should encode to nil")
	}
	if _, err := decodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestSpecsKeepOrder(t *testing.T) {
	specs := models.NewSpecifications()
	specs.Set("ram", "16GB")
	specs.Set("cpu", "M3")
	specs.Set("display", "14 inch")

	s, err := marshalSpecs(specs)
	if err != nil {
		t.Fatal(err)
	}
	got, err := unmarshalSpecs(s)
	if err != nil {
		t.Fatal(err)
	}
	keys := []string{}
	for pair := got.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	if len(keys) != 3 || keys[0] != "ram" || keys[1] != "cpu" || keys[2] != "display" {
		t.Errorf("order lost: %v", keys)
	}
}
