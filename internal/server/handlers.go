package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kiku/internal/models"
	"github.com/hyperjump/kiku/internal/rag"
	"github.com/hyperjump/kiku/internal/storage"
)

const defaultHistoryLimit = 10

type chatRequest struct {
	Message   string                   `json:"message"`
	SessionID string                   `json:"session_id,omitempty"`
	TopK      int                      `json:"top_k,omitempty"`
	Filters   *models.StructuredFilter `json:"filters,omitempty"`
}

type searchRequest struct {
	Query   string                   `json:"query"`
	TopK    int                      `json:"top_k,omitempty"`
	Filters *models.StructuredFilter `json:"filters,omitempty"`
}

// corpusAPI holds the parts of the HTTP surface that differ per corpus.
type corpusAPI[T any] struct {
	decode     func(r *http.Request) (T, error)
	reply      func(*rag.ChatResult[T]) *models.ChatReply
	hits       func([]models.Scored[T]) any
	listFilter func(r *http.Request) (*models.StructuredFilter, error)
	resultsKey string
}

var knowledgeAPI = corpusAPI[*models.Knowledge]{
	decode: func(r *http.Request) (*models.Knowledge, error) {
		var in models.KnowledgeInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return nil, errInvalidBody
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return in.Knowledge(), nil
	},
	reply: rag.KnowledgeReply,
	hits:  func(s []models.Scored[*models.Knowledge]) any { return rag.KnowledgeHits(s) },
	listFilter: func(r *http.Request) (*models.StructuredFilter, error) {
		q := r.URL.Query()
		return &models.StructuredFilter{Category: q.Get("category")}, nil
	},
	resultsKey: "relevant_knowledge",
}

var productAPI = corpusAPI[*models.Product]{
	decode: func(r *http.Request) (*models.Product, error) {
		var in models.ProductInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			return nil, errInvalidBody
		}
		if err := in.Validate(); err != nil {
			return nil, err
		}
		return in.Product(), nil
	},
	reply: rag.ProductReply,
	hits:  func(s []models.Scored[*models.Product]) any { return rag.ProductHits(s) },
	listFilter: func(r *http.Request) (*models.StructuredFilter, error) {
		q := r.URL.Query()
		f := &models.StructuredFilter{Category: q.Get("category"), Brand: q.Get("brand")}
		if v := q.Get("in_stock"); v != "" {
			inStock, err := strconv.ParseBool(v)
			if err != nil {
				return nil, &models.ValidationError{Field: "in_stock", Reason: "must be a boolean"}
			}
			f.InStockOnly = inStock
		}
		return f, nil
	},
	resultsKey: "products",
}

var errInvalidBody = errors.New("invalid request body")

// mountCorpus registers the routes shared by both corpora.
func mountCorpus[T any](r chi.Router, s *Server, e *rag.Engine[T], api corpusAPI[T]) {
	r.Post("/chat", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, errInvalidBody.Error())
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			s.respondError(w, http.StatusBadRequest, "missing required field: message")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}
		chat := rag.ChatRequest{Query: req.Message, SessionID: req.SessionID, TopK: req.TopK}
		if req.Filters != nil {
			chat.Filter = *req.Filters
		}
		s.logger.Debug("Chat request", zap.String("corpus", e.Corpus()), zap.String("session_id", req.SessionID))
		s.respondJSON(w, http.StatusOK, api.reply(e.Chat(r.Context(), chat)))
	})

	r.Post("/search", func(w http.ResponseWriter, r *http.Request) {
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, errInvalidBody.Error())
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			s.respondError(w, http.StatusBadRequest, "missing required field: query")
			return
		}
		var f models.StructuredFilter
		if req.Filters != nil {
			f = *req.Filters
		}
		scored := e.Search(r.Context(), req.Query, req.TopK, f)
		s.respondJSON(w, http.StatusOK, map[string]any{
			api.resultsKey: api.hits(scored),
			"count":        len(scored),
		})
	})

	r.Get("/keyword", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if strings.TrimSpace(query) == "" {
			s.respondError(w, http.StatusBadRequest, "missing required parameter: q")
			return
		}
		limit, err := intParam(r, "limit", 10)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		scored, err := e.KeywordSearch(r.Context(), query, limit)
		if errors.Is(err, rag.ErrKeywordSearchDisabled) {
			s.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			api.resultsKey: api.hits(scored),
			"count":        len(scored),
		})
	})

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		entry, err := api.decode(r)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		id, err := e.AddEntry(r.Context(), entry)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusCreated, map[string]string{"id": id, "status": "created"})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		f, err := api.listFilter(r)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		entries, err := e.List(r.Context(), f)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{"items": entries, "count": len(entries)})
	})

	r.Post("/refresh", func(w http.ResponseWriter, r *http.Request) {
		stats, err := e.Refresh(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"status":     "refreshed",
			"cache_size": e.CacheSize(),
			"load":       stats,
		})
	})

	r.Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
		entry, err := e.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, entry)
	})

	r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		s.logger.Debug("Delete request", zap.String("corpus", e.Corpus()), zap.String("id", id))
		if err := e.Delete(r.Context(), id); err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	caches := map[string]int{}
	if s.knowledge != nil {
		caches[rag.CorpusKnowledge] = s.knowledge.CacheSize()
	}
	if s.products != nil {
		caches[rag.CorpusProducts] = s.products.CacheSize()
	}
	body := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"cache_sizes": caches,
	}
	code := http.StatusOK
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			s.logger.Warn("Storage ping failed", zap.Error(err))
			body["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
		if sized, ok := s.store.(interface{ SizeBytes() (int64, error) }); ok {
			if n, err := sized.SizeBytes(); err == nil {
				body["storage_bytes"] = n
			}
		}
	}
	s.respondJSON(w, code, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]*models.Statistics{}
	if s.knowledge != nil {
		st, err := s.knowledge.Statistics(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		out[rag.CorpusKnowledge] = st
	}
	if s.products != nil {
		st, err := s.products.Statistics(r.Context())
		if err != nil {
			s.respondErr(w, err)
			return
		}
		out[rag.CorpusProducts] = st
	}
	s.respondJSON(w, http.StatusOK, out)
}

// handleConversation returns a session's turns across corpora, newest first.
// ?corpus= restricts the lookup to one corpus.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit, err := intParam(r, "limit", defaultHistoryLimit)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	corpus := r.URL.Query().Get("corpus")
	turns := []*models.ConversationTurn{}
	if s.knowledge != nil && (corpus == "" || corpus == rag.CorpusKnowledge) {
		kt, err := s.knowledge.History(r.Context(), sessionID, limit)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		turns = append(turns, kt...)
	}
	if s.products != nil && (corpus == "" || corpus == rag.CorpusProducts) {
		pt, err := s.products.History(r.Context(), sessionID, limit)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		turns = append(turns, pt...)
	}
	sort.SliceStable(turns, func(i, j int) bool { return turns[i].Timestamp.After(turns[j].Timestamp) })
	if len(turns) > limit {
		turns = turns[:limit]
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"history":    turns,
		"count":      len(turns),
	})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, &models.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return n, nil
}

// respondErr maps validation errors to 400, missing entries to 404 and anything else to 500.
func (s *Server) respondErr(w http.ResponseWriter, err error) {
	var verr *models.ValidationError
	switch {
	case errors.Is(err, errInvalidBody):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &verr):
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, storage.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("Request failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
