package models

// Scored pairs a corpus entry with its similarity to a query.
type Scored[T any] struct {
	Item  T
	Score float64
}

// Statistics summarizes one corpus engine.
type Statistics struct {
	Corpus         string         `json:"corpus"`
	CacheSize      int            `json:"cache_size"`
	CorpusSize     int64          `json:"corpus_size"`
	WithEmbeddings int64          `json:"with_embeddings"`
	Conversations  int64          `json:"conversations"`
	Dimensions     int            `json:"embedding_dimensions"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// KnowledgeHit is a retrieved knowledge entry as returned to API clients.
type KnowledgeHit struct {
	ID         string   `json:"id"`
	Question   string   `json:"question"`
	Answer     string   `json:"answer"`
	Category   string   `json:"category"`
	Tags       []string `json:"tags,omitempty"`
	Similarity float64  `json:"similarity"`
}

// ProductHit is a retrieved product as returned to API clients.
type ProductHit struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Brand          string          `json:"brand"`
	Price          float64         `json:"price"`
	Currency       string          `json:"currency"`
	PriceFormatted string          `json:"price_formatted"`
	Description    string          `json:"description"`
	Specifications *Specifications `json:"specifications,omitempty"`
	Rating         float64         `json:"rating"`
	Stock          int             `json:"stock"`
	InStock        bool            `json:"in_stock"`
	Images         []string        `json:"images,omitempty"`
	Similarity     float64         `json:"similarity"`
}

// ChatReply is the response body of a chat turn.
type ChatReply struct {
	Response    string          `json:"response"`
	SessionID   string          `json:"session_id"`
	Corpus      string          `json:"corpus"`
	UsedContext bool            `json:"used_context"`
	Outcome     string          `json:"outcome"`
	// Fallback names how a fallen-back reply was produced, e.g. "direct_lookup".
	Fallback    string          `json:"fallback,omitempty"`
	Knowledge   []*KnowledgeHit `json:"relevant_knowledge,omitempty"`
	Products    []*ProductHit   `json:"products,omitempty"`
}
