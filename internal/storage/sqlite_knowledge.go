package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kiku/internal/models"
)

const knowledgeColumns = `id, question, answer, category, tags, embedding, created_at, updated_at`

type sqliteKnowledge struct {
	db *sql.DB
}

func scanKnowledge(row rowScanner) (*models.Knowledge, error) {
	var k models.Knowledge
	var tags string
	var blob []byte
	if err := row.Scan(&k.ID, &k.Question, &k.Answer, &k.Category, &tags, &blob, &k.CreatedAt, &k.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if k.Tags, err = unmarshalStrings(tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	if k.Embedding, err = decodeEmbedding(blob); err != nil {
		return nil, err
	}
	return &k, nil
}

// ListAll returns knowledge entries in insertion order. Only the category
// predicate of filter applies to this corpus.
func (s *sqliteKnowledge) ListAll(ctx context.Context, filter *models.StructuredFilter) ([]*models.Knowledge, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge_base`
	var args []any
	if filter != nil && filter.Category != "" {
		query += ` WHERE category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Knowledge, 0)
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Insert stores k and returns its id. An empty id gets a new UUID; an entry
// already stored under k.ID is replaced, keeping its creation time.
func (s *sqliteKnowledge) Insert(ctx context.Context, k *models.Knowledge) (string, error) {
	tags, err := marshalStrings(k.Tags)
	if err != nil {
		return "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_base (`+knowledgeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			question = excluded.question,
			answer = excluded.answer,
			category = excluded.category,
			tags = excluded.tags,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		k.ID, k.Question, k.Answer, k.Category, tags, encodeEmbedding(k.Embedding), k.CreatedAt, k.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert knowledge: %w", err)
	}
	return k.ID, nil
}

func (s *sqliteKnowledge) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	return updateEmbedding(ctx, s.db, "knowledge_base", id, embedding)
}

// GetByID returns the entry with id, or ErrNotFound.
func (s *sqliteKnowledge) GetByID(ctx context.Context, id string) (*models.Knowledge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge_base WHERE id = ?`, id)
	k, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("knowledge %s: %w", id, ErrNotFound)
	}
	return k, err
}

func (s *sqliteKnowledge) Delete(ctx context.Context, id string) error {
	return deleteByID(ctx, s.db, "knowledge_base", id)
}

func (s *sqliteKnowledge) Count(ctx context.Context) (int64, error) {
	return countQuery(ctx, s.db, `SELECT COUNT(*) FROM knowledge_base`)
}

func (s *sqliteKnowledge) CountWithEmbeddings(ctx context.Context) (int64, error) {
	return countQuery(ctx, s.db, `SELECT COUNT(*) FROM knowledge_base WHERE length(embedding) > 0`)
}

// Stats returns the distinct categories.
func (s *sqliteKnowledge) Stats(ctx context.Context) (map[string]any, error) {
	categories, err := distinctStrings(ctx, s.db, `SELECT DISTINCT category FROM knowledge_base ORDER BY category`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return map[string]any{"categories": categories}, nil
}
