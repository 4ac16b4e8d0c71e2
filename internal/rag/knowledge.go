package rag

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kiku/internal/generation"
	"github.com/hyperjump/kiku/internal/keyword"
	"github.com/hyperjump/kiku/internal/models"
)

type knowledgeVariant struct{}

// KnowledgeVariant returns the adapter for the question/answer corpus.
func KnowledgeVariant() Variant[*models.Knowledge] {
	return knowledgeVariant{}
}

func (knowledgeVariant) Corpus() string   { return CorpusKnowledge }
func (knowledgeVariant) DefaultTopK() int { return 3 }

func (knowledgeVariant) ID(k *models.Knowledge) string           { return k.ID }
func (knowledgeVariant) Embedding(k *models.Knowledge) []float32 { return k.Embedding }
func (knowledgeVariant) Text(k *models.Knowledge) string         { return k.Text() }

func (knowledgeVariant) SetEmbedding(k *models.Knowledge, emb []float32) {
	k.Embedding = emb
}

func (knowledgeVariant) Prepare(k *models.Knowledge) error {
	in := models.KnowledgeInput{Question: k.Question, Answer: k.Answer, Category: k.Category, Tags: k.Tags}
	if err := in.Validate(); err != nil {
		return err
	}
	k.Question, k.Answer, k.Category = in.Question, in.Answer, in.Category
	return nil
}

// Match applies the category predicate; the other predicates do not exist on this corpus.
func (knowledgeVariant) Match(k *models.Knowledge, f models.StructuredFilter) bool {
	return f.Category == "" || k.Category == f.Category
}

func (knowledgeVariant) Prompt(query string, retrieved []models.Scored[*models.Knowledge]) string {
	var b strings.Builder
	b.WriteString("Context information:\n")
	for i, r := range retrieved {
		fmt.Fprintf(&b, "\n%d. Q: %s\n   A: %s\n", i+1, r.Item.Question, r.Item.Answer)
	}
	return renderPrompt(promptTemplate, b.String(), query)
}

// EmptyRetrieval still generates, with no context.
func (knowledgeVariant) EmptyRetrieval(query string) (string, string) {
	return renderPrompt(promptTemplate, "", query), ""
}

// Fallback returns the best entry's answer as stored.
func (knowledgeVariant) Fallback(retrieved []models.Scored[*models.Knowledge]) (string, string) {
	return retrieved[0].Item.Answer, FallbackDirectLookup
}

func (knowledgeVariant) GenerationOptions() generation.Options {
	return generation.Options{MaxTokens: 500, Temperature: 0.7}
}

func (knowledgeVariant) KeywordDocument(k *models.Knowledge) keyword.Document {
	return keyword.Document{Title: k.Question, Body: k.Answer, Category: k.Category}
}
