package rag

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

// NoMatchingProducts is the reply when no product survives retrieval.
const NoMatchingProducts = "Sorry, I couldn't find any products matching your request. " +
	"Could you describe what you need in more detail or change your search criteria?"

type productVariant struct {
	currency string
}

// ProductVariant returns the adapter for the product catalog. currency is
// assigned to products created without one.
func ProductVariant(currency string) Variant[*models.Product] {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = models.DefaultCurrency
	}
	return productVariant{currency: currency}
}

func (productVariant) Corpus() string   { return CorpusProducts }
func (productVariant) DefaultTopK() int { return 5 }

func (productVariant) ID(p *models.Product) string           { return p.ID }
func (productVariant) Embedding(p *models.Product) []float32 { return p.Embedding }

func (productVariant) SetEmbedding(p *models.Product, emb []float32) {
	p.Embedding = emb
}

// Text joins the salient fields in a fixed order.
func (productVariant) Text(p *models.Product) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s | Category: %s | Brand: %s | Price: %s %s | Description: %s",
		p.Name, p.Category, p.Brand, utils.GroupThousands(p.Price), p.Currency, p.Description)
	if pairs := p.SpecPairs(); len(pairs) > 0 {
		b.WriteString(" | Specifications: ")
		b.WriteString(joinPairs(pairs))
	}
	if len(p.Tags) > 0 {
		b.WriteString(" | Tags: ")
		b.WriteString(strings.Join(p.Tags, ", "))
	}
	return b.String()
}

func joinPairs(pairs [][2]string) string {
	parts := make([]string, len(pairs))
	for i, kv := range pairs {
		parts[i] = kv[0] + ": " + kv[1]
	}
	return strings.Join(parts, ", ")
}

func (v productVariant) Prepare(p *models.Product) error {
	if strings.TrimSpace(p.Currency) == "" {
		p.Currency = v.currency
	}
	in := models.ProductInput{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Brand:       p.Brand,
		Price:       p.Price,
		Currency:    p.Currency,
		Tags:        p.Tags,
		Stock:       p.Stock,
		Rating:      p.Rating,
	}
	if err := in.Validate(); err != nil {
		return err
	}
	p.Name, p.Description, p.Category, p.Brand, p.Currency = in.Name, in.Description, in.Category, in.Brand, in.Currency
	return nil
}

func (productVariant) Match(p *models.Product, f models.StructuredFilter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Brand != "" && p.Brand != f.Brand {
		return false
	}
	if !f.PriceInRange(p.Price) {
		return false
	}
	if f.InStockOnly && !p.InStock() {
		return false
	}
	return true
}

func (productVariant) Prompt(query string, retrieved []models.Scored[*models.Product]) string {
	var b strings.Builder
	b.WriteString("Matching products:\n\n")
	for i, r := range retrieved {
		p := r.Item
		stock := "Out of stock"
		if p.InStock() {
			stock = "In stock"
		}
		fmt.Fprintf(&b, "%d. **%s** (%s)\n", i+1, p.Name, p.Brand)
		fmt.Fprintf(&b, "   - Price: %s\n", utils.FormatPrice(p.Price, p.Currency))
		fmt.Fprintf(&b, "   - Category: %s\n", p.Category)
		fmt.Fprintf(&b, "   - Rating: %.1f/5.0\n", p.Rating)
		fmt.Fprintf(&b, "   - Availability: %s\n", stock)
		fmt.Fprintf(&b, "   - Description: %s\n", utils.Truncate(p.Description, 200))
		if pairs := p.SpecPairs(); len(pairs) > 0 {
			if len(pairs) > 3 {
				pairs = pairs[:3]
			}
			fmt.Fprintf(&b, "   - Specifications: %s\n", joinPairs(pairs))
		}
		b.WriteString("\n")
	}
	return renderPrompt(consultationTemplate, b.String(), query)
}

// EmptyRetrieval answers with a fixed message and never calls the generator.
func (productVariant) EmptyRetrieval(string) (string, string) {
	return "", NoMatchingProducts
}

// Fallback summarizes the best match.
func (productVariant) Fallback(retrieved []models.Scored[*models.Product]) (string, string) {
	top := retrieved[0].Item
	text := fmt.Sprintf("Based on your request, I recommend **%s** by %s.\n\n"+
		"Price: %s\nRating: %.1f/5.0\n\n%s\n\n"+
		"I also found %d more similar products. Would you like more details on any of them?",
		top.Name, top.Brand,
		utils.FormatPrice(top.Price, top.Currency), top.Rating,
		utils.Truncate(top.Description, 300),
		len(retrieved)-1)
	return text, FallbackSummary
}

func (productVariant) GenerationOptions() generation.Options {
	return generation.Options{MaxTokens: 600, Temperature: 0.7}
}

func (productVariant) KeywordDocument(p *models.Product) keyword.Document {
	body := p.Description
	if pairs := p.SpecPairs(); len(pairs) > 0 {
		body += " " + joinPairs(pairs)
	}
	if len(p.Tags) > 0 {
		body += " " + strings.Join(p.Tags, " ")
	}
	return keyword.Document{Title: p.Name + " " + p.Brand, Body: body, Category: p.Category}
}
