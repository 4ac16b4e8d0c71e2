package models

import (
	"strings"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultCurrency is assigned to products created without a currency.
const DefaultCurrency = "VND"

// Specifications is an insertion-ordered map of product attributes.
type Specifications = orderedmap.OrderedMap[string, string]

// NewSpecifications returns an empty specification map.
func NewSpecifications() *Specifications {
	return orderedmap.New[string, string]()
}

// Product is a listing in the product corpus.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	Brand          string          `json:"brand"`
	Price          float64         `json:"price"`
	Currency       string          `json:"currency"`
	Specifications *Specifications `json:"specifications,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Images         []string        `json:"images,omitempty"`
	Stock          int             `json:"stock"`
	Rating         float64         `json:"rating"`
	Embedding      []float32       `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// InStock reports whether at least one unit is available.
func (p *Product) InStock() bool {
	return p.Stock > 0
}

// HasEmbedding reports whether the entry is eligible for retrieval.
func (p *Product) HasEmbedding() bool {
	return len(p.Embedding) > 0
}

// SpecPairs returns the specifications in insertion order.
func (p *Product) SpecPairs() [][2]string {
	if p.Specifications == nil {
		return nil
	}
	pairs := make([][2]string, 0, p.Specifications.Len())
	for pair := p.Specifications.Oldest(); pair != nil; pair = pair.Next() {
		pairs = append(pairs, [2]string{pair.Key, pair.Value})
	}
	return pairs
}

// ProductInput is the input for creating a product.
type ProductInput struct {
	Name           string          `json:"name" yaml:"name"`
	Description    string          `json:"description" yaml:"description"`
	Category       string          `json:"category" yaml:"category"`
	Brand          string          `json:"brand" yaml:"brand"`
	Price          float64         `json:"price" yaml:"price"`
	Currency       string          `json:"currency,omitempty" yaml:"currency"`
	Specifications *Specifications `json:"specifications,omitempty" yaml:"-"`
	Tags           []string        `json:"tags,omitempty" yaml:"tags"`
	Images         []string        `json:"images,omitempty" yaml:"images"`
	Stock          int             `json:"stock" yaml:"stock"`
	Rating         float64         `json:"rating" yaml:"rating"`
}

// Validate trims the input, applies defaults and checks field constraints.
func (in *ProductInput) Validate() error {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Brand = strings.TrimSpace(in.Brand)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.Currency == "" {
		in.Currency = DefaultCurrency
	}

	if err := requireLength("name", in.Name, 1, 200); err != nil {
		return err
	}
	if in.Description == "" {
		return &ValidationError{Field: "description", Reason: "is required"}
	}
	if err := requireLength("category", in.Category, 1, 100); err != nil {
		return err
	}
	if err := requireLength("brand", in.Brand, 1, 100); err != nil {
		return err
	}
	if in.Price <= 0 {
		return &ValidationError{Field: "price", Reason: "must be greater than 0"}
	}
	if err := requireLength("currency", in.Currency, 1, 10); err != nil {
		return err
	}
	if in.Stock < 0 {
		return &ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	if in.Rating < 0 || in.Rating > 5 {
		return &ValidationError{Field: "rating", Reason: "must be between 0 and 5"}
	}
	return validateTags(in.Tags)
}

// Product converts a validated input into a new entry.
func (in *ProductInput) Product() *Product {
	now := time.Now().UTC()
	p := &Product{
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Brand:       in.Brand,
		Price:       in.Price,
		Currency:    in.Currency,
		Tags:        append([]string(nil), in.Tags...),
		Images:      append([]string(nil), in.Images...),
		Stock:       in.Stock,
		Rating:      in.Rating,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.Specifications != nil && in.Specifications.Len() > 0 {
		p.Specifications = NewSpecifications()
		for pair := in.Specifications.Oldest(); pair != nil; pair = pair.Next() {
			p.Specifications.Set(pair.Key, pair.Value)
		}
	}
	return p
}
