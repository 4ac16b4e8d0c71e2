package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kiku/internal/models"
)

const productColumns = `id, name, description, category, brand, price, currency, specifications,
	tags, images, stock, rating, embedding, created_at, updated_at`

type sqliteProducts struct {
	db *sql.DB
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var specs, tags, images string
	var blob []byte
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Brand, &p.Price, &p.Currency, &specs,
		&tags, &images, &p.Stock, &p.Rating, &blob, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if p.Specifications, err = unmarshalSpecs(specs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal specifications: %w", err)
	}
	if p.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if p.Images, err = unmarshalStrings(images); err != nil {
		return nil, fmt.Errorf("failed to unmarshal images: %w", err)
	}
	if p.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListAll returns products in insertion order, narrowed by every predicate set in filter.
func (s *sqliteProducts) ListAll(ctx context.Context, filter *models.StructuredFilter) ([]*models.Product, error) {
	var where []string
	var args []any
	if filter != nil {
		if filter.Category != "" {
			where = append(where, "category = ?")
			args = append(args, filter.Category)
		}
		if filter.Brand != "" {
			where = append(where, "brand = ?")
			args = append(args, filter.Brand)
		}
		if filter.MinPrice != nil {
			where = append(where, "price >= ?")
			args = append(args, *filter.MinPrice)
		}
		if filter.MaxPrice != nil {
			where = append(where, "price <= ?")
			args = append(args, *filter.MaxPrice)
		}
		if filter.InStockOnly {
			where = append(where, "stock > 0")
		}
	}
	query := `SELECT ` + productColumns + ` FROM products`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Insert stores p and returns its id. An empty id gets a new UUID; a product
// already stored under p.ID is replaced, keeping its creation time.
func (s *sqliteProducts) Insert(ctx context.Context, p *models.Product) (string, error) {
	specs, err := marshalSpecs(p.Specifications)
	if err != nil {
		return "", fmt.Errorf("failed to marshal specifications: %w", err)
	}
	tags, err := marshalStrings(p.Tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	images, err := marshalStrings(p.Images)
	if err != nil {
		return "", fmt.Errorf("failed to marshal images: %w", err)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			category = excluded.category,
			brand = excluded.brand,
			price = excluded.price,
			currency = excluded.currency,
			specifications = excluded.specifications,
			tags = excluded.tags,
			images = excluded.images,
			stock = excluded.stock,
			rating = excluded.rating,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.Category, p.Brand, p.Price, p.Currency, specs,
		tags, images, p.Stock, p.Rating, encodeEmbedding(p.Embedding), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert product: %w", err)
	}
	return p.ID, nil
}

func (s *sqliteProducts) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return updateEmbedding(ctx, s.db, "products", id, embedding)
}

// GetByID returns the product with id, or ErrNotFound.
func (s *sqliteProducts) GetByID(ctx context.Context, id string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (s *sqliteProducts) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "products", id)
}

func (s *sqliteProducts) Count(ctx context.Context) (int64, error) {
	return countQuery(ctx, s.db, `SELECT COUNT(*) FROM products`)
}

func (s *sqliteProducts) CountWithEmbeddings(ctx context.Context) (int64, error) {
	return countQuery(ctx, s.db, `SELECT COUNT(*) FROM products WHERE length(embedding) > 0`)
}

// Stats returns stock counts, categories, brands and the price range.
func (s *sqliteProducts) Stats(ctx context.Context) (map[string]any, error) {
	inStock, err := countQuery(ctx, s.db, `SELECT COUNT(*) FROM products WHERE stock > 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to count in-stock products: %w", err)
	}
	total, err := s.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	categories, err := distinctStrings(ctx, s.db, `SELECT DISTINCT category FROM products ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	brands, err := distinctStrings(ctx, s.db, `SELECT DISTINCT brand FROM products ORDER BY brand`)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	var minPrice, maxPrice sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(price), MAX(price) FROM products`).Scan(&minPrice, &maxPrice); err != nil {
		return nil, fmt.Errorf("failed to compute price range: %w", err)
	}

	return map[string]any{
		"in_stock":     inStock,
		"out_of_stock": total - inStock,
		"categories":   categories,
		"brands":       brands,
		"price_range":  map[string]float64{"min": minPrice.Float64, "max": maxPrice.Float64},
	}, nil
}
