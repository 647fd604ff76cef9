package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/log"
)

const (
	// defaultSearchResults is returned when the model does not ask for a count.
	defaultSearchResults = 5
	// maxSearchResults bounds what the model may ask for.
	maxSearchResults = 10
	// maxSnippetLen truncates each result's content snippet.
	maxSnippetLen = 500

	searchTimeout = 15 * time.Second
)

// searchResult is one entry in a SearXNG JSON response.
type searchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// searchResponse is the subset of the SearXNG JSON response we consume.
type searchResponse struct {
	Results []searchResult `json:"results"`
}

// webSearcher queries a SearXNG instance.
type webSearcher struct {
	baseURL string
	client  *http.Client
	logger  log.Logger
}

// NewWebSearch creates the web_search tool backed by the configured
// SearXNG instance.
func NewWebSearch(cfg config.SearXNGConfig, logger log.Logger) (*Tool, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("searxng base URL is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	ws := &webSearcher{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: searchTimeout},
		logger:  logger,
	}
	return NewTool(
		"web_search",
		"Search the web for current information. Returns a list of results with title, URL, and a content snippet.",
		ws.search,
	)
}

func (ws *webSearcher) search(ctx context.Context, input WebSearchInput) *Result {
	if input.Query == "" {
		return Errorf(ErrCodeInvalidArgs, "query must not be empty")
	}

	limit := input.MaxResults
	if limit <= 0 {
		limit = defaultSearchResults
	}
	if limit > maxSearchResults {
		limit = maxSearchResults
	}

	endpoint := fmt.Sprintf("%s/search?q=%s&format=json", ws.baseURL, url.QueryEscape(input.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Errorf(ErrCodeInternal, "building search request: %v", err)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		ws.logger.Warn("web search request failed", "query", input.Query, "error", err)
		return Errorf(ErrCodeNetwork, "search request failed: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		ws.logger.Warn("web search returned non-OK status", "query", input.Query, "status", resp.StatusCode)
		return Errorf(ErrCodeNetwork, "search service returned status %d", resp.StatusCode)
	}

	var parsed searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&parsed); err != nil {
		return Errorf(ErrCodeIO, "decoding search response: %v", err)
	}

	results := parsed.Results
	if len(results) > limit {
		results = results[:limit]
	}

	entries := make([]map[string]any, 0, len(results))
	for _, r := range results {
		snippet := r.Content
		if len(snippet) > maxSnippetLen {
			snippet = snippet[:maxSnippetLen]
		}
		entries = append(entries, map[string]any{
			"title":   r.Title,
			"url":     r.URL,
			"snippet": snippet,
		})
	}

	ws.logger.Debug("web search completed", "query", input.Query, "results", len(entries))
	return &Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Found %d results for: %s", len(entries), input.Query),
		Data: map[string]any{
			"query":   input.Query,
			"results": entries,
		},
	}
}
