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

type knowledgeDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Question  string             `bson:"question"`
	Answer    string             `bson:"answer"`
	Category  string             `bson:"category"`
	Tags      []string           `bson:"tags"`
	Embedding []float64          `bson:"embedding,omitempty"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func (d *knowledgeDoc) model() *models.Knowledge {
	return &models.Knowledge{
		ID:        d.ID.Hex(),
		Question:  d.Question,
		Answer:    d.Answer,
		Category:  d.Category,
		Tags:      d.Tags,
		Embedding: toFloat32(d.Embedding),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func newKnowledgeDoc(k *models.Knowledge) *knowledgeDoc {
	return &knowledgeDoc{
		Question:  k.Question,
		Answer:    k.Answer,
		Category:  k.Category,
		Tags:      k.Tags,
		Embedding: toFloat64(k.Embedding),
		CreatedAt: k.CreatedAt,
		UpdatedAt: k.UpdatedAt,
	}
}

type mongoKnowledge struct {
	coll *mongo.Collection
}

func (s *mongoKnowledge) ListAll(ctx context.Context, filter *models.StructuredFilter) ([]*models.Knowledge, error) {
	query := bson.M{}
	if filter != nil && filter.Category != "" {
		query["category"] = filter.Category
	}
	cur, err := s.coll.Find(ctx, query, insertionOrder)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	var docs []knowledgeDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode knowledge: %w", err)
	}
	out := make([]*models.Knowledge, len(docs))
	for i := range docs {
		out[i] = docs[i].model()
	}
	return out, nil
}

func (s *mongoKnowledge) Insert(ctx context.Context, k *models.Knowledge) (string, error) {
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now
	id, err := mongoInsert(ctx, s.coll, k.ID, newKnowledgeDoc(k))
	if err != nil {
		return "", fmt.Errorf("failed to insert knowledge: %w", err)
	}
	k.ID = id
	return id, nil
}

func (s *mongoKnowledge) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return mongoUpdateEmbedding(ctx, s.coll, id, embedding)
}

func (s *mongoKnowledge) GetByID(ctx context.Context, id string) (*models.Knowledge, error) {
	var doc knowledgeDoc
	if err := mongoFindOne(ctx, s.coll, id, &doc); err != nil {
		return nil, err
	}
	return doc.model(), nil
}

func (s *mongoKnowledge) Delete(ctx context.Context, id string) error {
	return mongoDelete(ctx, s.coll, id)
}

func (s *mongoKnowledge) Count(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{})
}

func (s *mongoKnowledge) CountWithEmbeddings(ctx context.Context) (int64, error) {
	return s.coll.CountDocuments(ctx, hasEmbedding)
}

func (s *mongoKnowledge) Stats(ctx context.Context) (map[string]any, error) {
	categories, err := distinctCollectionStrings(ctx, s.coll, "category")
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return map[string]any{"categories": categories}, nil
}
