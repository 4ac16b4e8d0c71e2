// Package storage persists corpus entries and conversation turns.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kiku/internal/models"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("not found")

// CorpusStore persists one corpus. ListAll returns entries in insertion order.
type CorpusStore[T any] interface {
	ListAll(ctx context.Context, filter *models.StructuredFilter) ([]T, error)
	Insert(ctx context.Context, entry T) (string, error)
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	GetByID(ctx context.Context, id string) (T, error)
	Delete(ctx context.Context, id string) error

	Count(ctx context.Context) (int64, error)
	CountWithEmbeddings(ctx context.Context) (int64, error)
	// Stats returns corpus-specific aggregates such as categories or price range.
	Stats(ctx context.Context) (map[string]any, error)
}

// ConversationLog is the append-only record of chat turns.
type ConversationLog interface {
	AppendTurn(ctx context.Context, turn *models.ConversationTurn) error
	// History returns a session's turns for a corpus, newest first.
	History(ctx context.Context, corpus, sessionID string, limit int) ([]*models.ConversationTurn, error)
	CountTurns(ctx context.Context, corpus string) (int64, error)
}

// Storage groups the stores backed by one database.
type Storage interface {
	Knowledge() CorpusStore[*models.Knowledge]
	Products() CorpusStore[*models.Product]
	Conversations() ConversationLog
	Ping(ctx context.Context) error
	Close() error
}
