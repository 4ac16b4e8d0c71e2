package models

// StructuredFilter narrows the retrieval candidate set. Zero-valued fields are unset.
type StructuredFilter struct {
	Category    string   `json:"category,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	MinPrice    *float64 `json:"min_price,omitempty"`
	MaxPrice    *float64 `json:"max_price,omitempty"`
	InStockOnly bool     `json:"in_stock_only,omitempty"`
}

// IsEmpty reports whether no predicate is set.
func (f StructuredFilter) IsEmpty() bool {
	return f.Category == "" && f.Brand == "" && f.MinPrice == nil && f.MaxPrice == nil && !f.InStockOnly
}

// HasPriceRange reports whether either price bound is set.
func (f StructuredFilter) HasPriceRange() bool {
	return f.MinPrice != nil || f.MaxPrice != nil
}

// PriceInRange reports whether price lies within the inclusive bounds.
func (f StructuredFilter) PriceInRange(price float64) bool {
	if f.MinPrice != nil && price < *f.MinPrice {
		return false
	}
	if f.MaxPrice != nil && price > *f.MaxPrice {
		return false
	}
	return true
}

// Float returns a pointer to v, for populating price bounds.
func Float(v float64) *float64 {
	return &v
}
