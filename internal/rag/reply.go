package rag

import (
	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/pkg/utils"
)

// KnowledgeHits converts retrieved knowledge entries to their API view.
func KnowledgeHits(scored []models.Scored[*models.Knowledge]) []*models.KnowledgeHit {
	out := make([]*models.KnowledgeHit, len(scored))
	for i, s := range scored {
		k := s.Item
		out[i] = &models.KnowledgeHit{
			ID:         k.ID,
			Question:   k.Question,
			Answer:     k.Answer,
			Category:   k.Category,
			Tags:       k.Tags,
			Similarity: s.Score,
		}
	}
	return out
}

// ProductHits converts retrieved products to their API view.
func ProductHits(scored []models.Scored[*models.Product]) []*models.ProductHit {
	out := make([]*models.ProductHit, len(scored))
	for i, s := range scored {
		p := s.Item
		out[i] = &models.ProductHit{
			ID:             p.ID,
			Name:           p.Name,
			Category:       p.Category,
			Brand:          p.Brand,
			Price:          p.Price,
			Currency:       p.Currency,
			PriceFormatted: utils.FormatPrice(p.Price, p.Currency),
			Description:    p.Description,
			Specifications: p.Specifications,
			Rating:         p.Rating,
			Stock:          p.Stock,
			InStock:        p.InStock(),
			Images:         p.Images,
			Similarity:     s.Score,
		}
	}
	return out
}

func baseReply[T any](corpus string, res *ChatResult[T]) *models.ChatReply {
	return &models.ChatReply{
		Response:    res.Response,
		SessionID:   res.SessionID,
		Corpus:      corpus,
		UsedContext: res.Outcome.UsedContext,
		Outcome:     string(res.Outcome.Status),
		Fallback:    res.Outcome.Fallback,
	}
}

// KnowledgeReply builds the response body of a knowledge chat turn.
func KnowledgeReply(res *ChatResult[*models.Knowledge]) *models.ChatReply {
	reply := baseReply(CorpusKnowledge, res)
	reply.Knowledge = KnowledgeHits(res.Retrieved)
	return reply
}

// ProductReply builds the response body of a product chat turn.
func ProductReply(res *ChatResult[*models.Product]) *models.ChatReply {
	reply := baseReply(CorpusProducts, res)
	reply.Products = ProductHits(res.Retrieved)
	return reply
}
