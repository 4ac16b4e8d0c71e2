package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/kiku/internal/models"
)

// Client talks to a running kiku server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// corpusPath maps a corpus name (or its singular) to its API prefix.
func corpusPath(corpus string) (string, error) {
	switch strings.ToLower(corpus) {
	case "knowledge", "":
		return "/api/v1/knowledge", nil
	case "product", "products":
		return "/api/v1/products", nil
	default:
		return "", fmt.Errorf("unknown corpus %q (use knowledge or products)", corpus)
	}
}

// Chat sends one message. An empty sessionID lets the server issue one.
func (c *Client) Chat(ctx context.Context, corpus, message, sessionID string) (*models.ChatReply, error) {
	prefix, err := corpusPath(corpus)
	if err != nil {
		return nil, err
	}
	var reply models.ChatReply
	body := map[string]any{"message": message}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if err := c.do(ctx, http.MethodPost, prefix+"/chat", body, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// Search retrieves without generation. keyword selects full-text search.
func (c *Client) Search(ctx context.Context, corpus, query string, topK int, keyword bool) (*SearchResults, error) {
	prefix, err := corpusPath(corpus)
	if err != nil {
		return nil, err
	}
	var out SearchResults
	if keyword {
		q := url.Values{"q": {query}}
		if topK > 0 {
			q.Set("limit", strconv.Itoa(topK))
		}
		err = c.do(ctx, http.MethodGet, prefix+"/keyword?"+q.Encode(), nil, &out)
	} else {
		err = c.do(ctx, http.MethodPost, prefix+"/search", map[string]any{"query": query, "top_k": topK}, &out)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh reloads a corpus cache and returns its new size.
func (c *Client) Refresh(ctx context.Context, corpus string) (int, error) {
	prefix, err := corpusPath(corpus)
	if err != nil {
		return 0, err
	}
	var out struct {
		CacheSize int `json:"cache_size"`
	}
	if err := c.do(ctx, http.MethodPost, prefix+"/refresh", nil, &out); err != nil {
		return 0, err
	}
	return out.CacheSize, nil
}

// Stats returns statistics for every served corpus.
func (c *Client) Stats(ctx context.Context) (map[string]*models.Statistics, error) {
	out := map[string]*models.Statistics{}
	if err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error == "" {
			apiErr.Error = resp.Status
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
