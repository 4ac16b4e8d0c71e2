package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/kiku/internal/models"
)

type sqliteConversations struct {
	db *sql.DB
}

// AppendTurn records turn, assigning an id and timestamp when missing.
func (s *sqliteConversations) AppendTurn(ctx context.Context, turn *models.ConversationTurn) error {
	ctxJSON, err := json.Marshal(turn.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal turn context: %w", err)
	}
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, corpus, session_id, user_message, bot_response, context, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.Corpus, turn.SessionID, turn.UserMessage, turn.BotResponse, string(ctxJSON), turn.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append conversation turn: %w", err)
	}
	return nil
}

func (s *sqliteConversations) History(ctx context.Context, corpus, sessionID string, limit int) ([]*models.ConversationTurn, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, corpus, session_id, user_message, bot_response, context, timestamp
		 FROM conversations WHERE corpus = ? AND session_id = ?
		 ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		corpus, sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := make([]*models.ConversationTurn, 0)
	for rows.Next() {
		var turn models.ConversationTurn
		var ctxJSON string
		if err := rows.Scan(&turn.ID, &turn.Corpus, &turn.SessionID, &turn.UserMessage, &turn.BotResponse, &ctxJSON, &turn.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ctxJSON), &turn.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn context: %w", err)
		}
		out = append(out, &turn)
	}
	return out, rows.Err()
}

func (s *sqliteConversations) CountTurns(ctx context.Context, corpus string) (int64, error) {
	return countQuery(ctx, s.db, `SELECT COUNT(*) FROM conversations WHERE corpus = ?`, corpus)
}
