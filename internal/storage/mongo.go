package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/hyperjump/kiku/internal/models"
)

// Collection names shared with existing deployments of the chatbot database.
const (
	knowledgeCollection    = "knowledge_base"
	productsCollection     = "products"
	conversationCollection = "conversations"
)

// MongoStorage implements Storage on a MongoDB database.
type MongoStorage struct {
	client        *mongo.Client
	db            *mongo.Database
	knowledge     *mongoKnowledge
	products      *mongoProducts
	conversations *mongoConversations
}

// NewMongoStorage connects to uri, verifies the connection and ensures indexes.
func NewMongoStorage(ctx context.Context, uri, database string) (*MongoStorage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(database)
	s := &MongoStorage{
		client:        client,
		db:            db,
		knowledge:     &mongoKnowledge{coll: db.Collection(knowledgeCollection)},
		products:      &mongoProducts{coll: db.Collection(productsCollection)},
		conversations: &mongoConversations{coll: db.Collection(conversationCollection)},
	}
	if err := s.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStorage) ensureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.knowledge.coll: {
			{Keys: bson.D{{Key: "category", Value: 1}}},
		},
		s.products.coll: {
			{Keys: bson.D{{Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "brand", Value: 1}}},
			{Keys: bson.D{{Key: "price", Value: 1}}},
		},
		s.conversations.coll: {
			{Keys: bson.D{{Key: "corpus", Value: 1}, {Key: "session_id", Value: 1}, {Key: "timestamp", Value: -1}}},
		},
	}
	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

// Knowledge returns the knowledge corpus store.
func (s *MongoStorage) Knowledge() CorpusStore[*models.Knowledge] { return s.knowledge }

// Products returns the product corpus store.
func (s *MongoStorage) Products() CorpusStore[*models.Product] { return s.products }

// Conversations returns the conversation log.
func (s *MongoStorage) Conversations() ConversationLog { return s.conversations }

// Ping checks that the primary is reachable.
func (s *MongoStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *MongoStorage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid id %q: %w", id, ErrNotFound)
	}
	return oid, nil
}

// hasEmbedding matches documents whose embedding array has at least one element.
var hasEmbedding = bson.M{"embedding.0": bson.M{"$exists": true}}

func toFloat32(v []float64) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

// mongoInsert stores doc under id, or under a new ObjectID when id is empty.
// A document that already exists under id is updated in place; its
// created_at is kept and a missing embedding clears the stored one.
func mongoInsert(ctx context.Context, coll *mongo.Collection, id string, doc any) (string, error) {
	if id == "" {
		res, err := coll.InsertOne(ctx, doc)
		if err != nil {
			return "", err
		}
		oid, ok := res.InsertedID.(primitive.ObjectID)
		if !ok {
			return "", fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
		}
		return oid.Hex(), nil
	}

	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", id, err)
	}
	update, err := upsertUpdate(doc)
	if err != nil {
		return "", err
	}
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, update, options.Update().SetUpsert(true)); err != nil {
		return "", err
	}
	return id, nil
}

// upsertUpdate turns doc into an update that sets every field but _id and
// created_at, which is only written on insert.
func upsertUpdate(doc any) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var fields bson.D
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	set := make(bson.D, 0, len(fields))
	var createdAt any
	embedded := false
	for _, f := range fields {
		switch f.Key {
		case "_id":
		case "created_at":
			createdAt = f.Value
		default:
			embedded = embedded || f.Key == "embedding"
			set = append(set, f)
		}
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": createdAt},
	}
	if !embedded {
		update["$unset"] = bson.M{"embedding": ""}
	}
	return update, nil
}

func mongoUpdateEmbedding(ctx context.Context, coll *mongo.Collection, id string, embedding []float32) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"embedding":  toFloat64(embedding),
		"updated_at": time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s %s: %w", coll.Name(), id, ErrNotFound)
	}
	return nil
}

func mongoDelete(ctx context.Context, coll *mongo.Collection, id string) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	res, err := coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("failed to delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%s %s: %w", coll.Name(), id, ErrNotFound)
	}
	return nil
}

func mongoFindOne(ctx context.Context, coll *mongo.Collection, id string, out any) error {
	oid, err := objectID(id)
	if err != nil {
		return err
	}
	err = coll.FindOne(ctx, bson.M{"_id": oid}).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s %s: %w", coll.Name(), id, ErrNotFound)
	}
	return err
}

func distinctCollectionStrings(ctx context.Context, coll *mongo.Collection, field string) ([]string, error) {
	values, err := coll.Distinct(ctx, field, bson.D{})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out, nil
}

// insertionOrder sorts by _id, which grows with insertion time.
var insertionOrder = options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
