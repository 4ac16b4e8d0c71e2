// Package models defines the corpus entries, filters, chat results and wire types shared across packages.
package models

import (
	"strings"
	"time"
)

// DefaultKnowledgeCategory is assigned to knowledge entries created without a category.
const DefaultKnowledgeCategory = "general"

// Knowledge is a question/answer pair in the knowledge corpus.
type Knowledge struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Category  string    `json:"category"`
	Tags      []string  `json:"tags,omitempty"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text returns the canonical text projection used for embedding.
func (k *Knowledge) Text() string {
	return k.Question + " " + k.Answer
}

// HasEmbedding reports whether the entry is eligible for retrieval.
func (k *Knowledge) HasEmbedding() bool {
	return len(k.Embedding) > 0
}

// KnowledgeInput is the input for creating a knowledge entry.
type KnowledgeInput struct {
	Question string   `json:"question" yaml:"question"`
	Answer   string   `json:"answer" yaml:"answer"`
	Category string   `json:"category,omitempty" yaml:"category"`
	Tags     []string `json:"tags,omitempty" yaml:"tags"`
}

// Validate trims the input, applies defaults and checks field constraints.
func (in *KnowledgeInput) Validate() error {
	in.Question = strings.TrimSpace(in.Question)
	in.Answer = strings.TrimSpace(in.Answer)
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = DefaultKnowledgeCategory
	}
	if err := requireLength("question", in.Question, 1, 2000); err != nil {
		return err
	}
	if err := requireLength("answer", in.Answer, 1, 10000); err != nil {
		return err
	}
	if err := requireLength("category", in.Category, 1, 100); err != nil {
		return err
	}
	return validateTags(in.Tags)
}

// Knowledge converts a validated input into a new entry.
func (in *KnowledgeInput) Knowledge() *Knowledge {
	now := time.Now().UTC()
	return &Knowledge{
		Question:  in.Question,
		Answer:    in.Answer,
		Category:  in.Category,
		Tags:      append([]string(nil), in.Tags...),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
