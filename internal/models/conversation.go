package models

import "time"

// TurnContext is the retrieval metadata recorded with a conversation turn.
type TurnContext struct {
	RetrievedIDs  []string          `json:"retrieved_ids"`
	TopSimilarity float64           `json:"top_similarity"`
	UsedContext   bool              `json:"used_context"`
	Outcome       string            `json:"outcome"`
	Filter        *StructuredFilter `json:"filter,omitempty"`
}

// ConversationTurn is one completed chat exchange. Turns are append-only.
type ConversationTurn struct {
	ID          string      `json:"id"`
	Corpus      string      `json:"corpus"`
	SessionID   string      `json:"session_id"`
	UserMessage string      `json:"user_message"`
	BotResponse string      `json:"bot_response"`
	Context     TurnContext `json:"context"`
	Timestamp   time.Time   `json:"timestamp"`
}
