package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/hyperjump/kiku/internal/models"
)

type productDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	Name           string             `bson:"name"`
	Description    string             `bson:"description"`
	Category       string             `bson:"category"`
	Brand          string             `bson:"brand"`
	Price          float64            `bson:"price"`
	Currency       string             `bson:"currency"`
	Specifications bson.D             `bson:"specifications,omitempty"`
	Tags           []string           `bson:"tags"`
	Images         []string           `bson:"images"`
	Stock          int                `bson:"stock"`
	Rating         float64            `bson:"rating"`
	Embedding      []float64          `bson:"embedding,omitempty"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

func (d *productDoc) model() *models.Product {
	p := &models.Product{
		ID:          d.ID.Hex(),
		Name:        d.Name,
		Description: d.Description,
		Category:    d.Category,
		Brand:       d.Brand,
		Price:       d.Price,
		Currency:    d.Currency,
		Tags:        d.Tags,
		Images:      d.Images,
		Stock:       d.Stock,
		Rating:      d.Rating,
		Embedding:   toFloat32(d.Embedding),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	if len(d.Specifications) > 0 {
		p.Specifications = models.NewSpecifications()
		for _, e := range d.Specifications {
			p.Specifications.Set(e.Key, fmt.Sprint(e.Value))
		}
	}
	return p
}

func newProductDoc(p *models.Product) *productDoc {
	d := &productDoc{
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		Brand:       p.Brand,
		Price:       p.Price,
		Currency:    p.Currency,
		Tags:        p.Tags,
		Images:      p.Images,
		Stock:       p.Stock,
		Rating:      p.Rating,
		Embedding:   toFloat64(p.Embedding),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	for _, kv := range p.SpecPairs() {
		d.Specifications = append(d.Specifications, bson.E{Key: kv[0], Value: kv[1]})
	}
	return d
}

func productQuery(filter *models.StructuredFilter) bson.M {
	query := bson.M{}
	if filter == nil {
		return query
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Brand != "" {
		query["brand"] = filter.Brand
	}
	if filter.HasPriceRange() {
		price := bson.M{}
		if filter.MinPrice != nil {
			price["$gte"] = *filter.MinPrice
		}
		if filter.MaxPrice != nil {
			price["$lte"] = *filter.MaxPrice
		}
		query["price"] = price
	}
	if filter.InStockOnly {
		query["stock"] = bson.M{"$gt": 0}
	}
	return query
}

type mongoProducts struct {
	coll *mongo.Collection
}

func (s *mongoProducts) ListAll(ctx context.Context, filter *models.StructuredFilter) ([]*models.Product, error) {
	cur, err := s.coll.Find(ctx, productQuery(filter), insertionOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	var docs []productDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	out := make([]*models.Product, len(docs))
	for i := range docs {
		out[i] = docs[i].model()
	}
	return out, nil
}

func (s *mongoProducts) Insert(ctx context.Context, p *models.Product) (string, error) {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	id, err := mongoInsert(ctx, s.coll, p.ID, newProductDoc(p))
	if err != nil {
		return "", fmt.Errorf("failed to insert product: %w", err)
	}
	p.ID = id
	return id, nil
}

func (s *mongoProducts) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return mongoUpdateEmbedding(ctx, s.coll, id, embedding)
}

func (s *mongoProducts) GetByID(ctx context.Context, id string) (*models.Product, error) {
	var doc productDoc
	if err := mongoFindOne(ctx, s.coll, id, &doc); err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (s *mongoProducts) Delete(ctx context.Context, id string) error {
	return mongoDelete(ctx, s.coll, id)
}

func (s *mongoProducts) Count(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{})
}

func (s *mongoProducts) CountWithEmbeddings(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, hasEmbedding)
}

func (s *mongoProducts) Stats(ctx context.Context) (map[string]any, error) {
	total, err := s.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count products: %w", err)
	}
	inStock, err := s.coll.CountDocuments(ctx, bson.M{"stock": bson.M{"$gt": 0}})
	if err != nil {
		return nil, fmt.Errorf("failed to count in-stock products: %w", err)
	}
	categories, err := distinctCollectionStrings(ctx, s.coll, "category")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	brands, err := distinctCollectionStrings(ctx, s.coll, "brand")
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "min", Value: bson.D{{Key: "$min", Value: "$price"}}},
			{Key: "max", Value: bson.D{{Key: "$max", Value: "$price"}}},
		}}},
	}
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to compute price range: %w", err)
	}
	var ranges []struct {
		Min float64 `bson:"min"`
		Max float64 `bson:"max"`
	}
	if err := cur.All(ctx, &ranges); err != nil {
		return nil, fmt.Errorf("failed to decode price range: %w", err)
	}
	priceRange := map[string]float64{"min": 0, "max": 0}
	if len(ranges) > 0 {
		priceRange["min"] = ranges[0].Min
		priceRange["max"] = ranges[0].Max
	}

	return map[string]any{
		"in_stock":     inStock,
		"out_of_stock": total - inStock,
		"categories":   categories,
		"brands":       brands,
		"price_range":  priceRange,
	}, nil
}
