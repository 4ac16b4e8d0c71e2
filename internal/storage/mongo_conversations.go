package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/hyperjump/kiku/internal/models"
)

type turnContextDoc struct {
	RetrievedDocs []string                 `bson:"retrieved_docs"`
	TopSimilarity float64                  `bson:"top_similarity"`
	UsedContext   bool                     `bson:"used_context"`
	Outcome       string                   `bson:"outcome"`
	Filter        *models.StructuredFilter `bson:"filter,omitempty"`
}

type turnDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Corpus      string             `bson:"corpus"`
	SessionID   string             `bson:"session_id"`
	UserMessage string             `bson:"user_message"`
	BotResponse string             `bson:"bot_response"`
	Context     turnContextDoc     `bson:"context"`
	Timestamp   time.Time          `bson:"timestamp"`
}

type mongoConversations struct {
	coll *mongo.Collection
}

func (s *mongoConversations) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	doc := turnDoc{
		Corpus:      turn.Corpus,
		SessionID:   turn.SessionID,
		UserMessage: turn.UserMessage,
		BotResponse: turn.BotResponse,
		Context: turnContextDoc{
			RetrievedDocs: turn.Context.RetrievedIDs,
			TopSimilarity: turn.Context.TopSimilarity,
			UsedContext:   turn.Context.UsedContext,
			Outcome:       turn.Context.Outcome,
			Filter:        turn.Context.Filter,
		},
		Timestamp: turn.Timestamp,
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		turn.ID = oid.Hex()
	}
	return nil
}

func (s *mongoConversations) History(ctx context.Context, corpus, sessionID string, limit int) ([]*models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"corpus": corpus, "session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	var docs []turnDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	out := make([]*models.ConversationTurn, len(docs))
	for i, d := range docs {
		out[i] = &models.ConversationTurn{
			ID:          d.ID.Hex(),
			Corpus:      d.Corpus,
			SessionID:   d.SessionID,
			UserMessage: d.UserMessage,
			BotResponse: d.BotResponse,
			Context: models.TurnContext{
				RetrievedIDs:  d.Context.RetrievedDocs,
				TopSimilarity: d.Context.TopSimilarity,
				UsedContext:   d.Context.UsedContext,
				Outcome:       d.Context.Outcome,
				Filter:        d.Context.Filter,
			},
			Timestamp: d.Timestamp,
		}
	}
	return out, nil
}

func (s *mongoConversations) CountTurns(ctx context.Context, corpus string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{"corpus": corpus})
}
