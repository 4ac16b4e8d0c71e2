package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/hyperjump/kiku/internal/models"
)

// encodeEmbedding packs a vector as little-endian float32s. Nil and empty vectors encode to nil.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob has invalid length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

func marshalStrings(s []string) (string, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalStrings(s string) ([]string, error) {
	if s == "" || s == "[]" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalSpecs(specs *models.Specifications) (string, error) {
	if specs == nil || specs.Len() == 0 {
		return "", nil
	}
	data, err := json.Marshal(specs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalSpecs(s string) (*models.Specifications, error) {
	if s == "" {
		return nil, nil
	}
	specs := models.NewSpecifications()
	if err := json.Unmarshal([]byte(s), specs); err != nil {
		return nil, err
	}
	return specs, nil
}
