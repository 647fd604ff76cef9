package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/log"
)

const (
	defaultFetchTimeout  = 30 * time.Second
	defaultMaxBodyBytes  = 2 << 20
	fetchUserAgent       = "murmur/1.0 (+https://github.com/murmurhq/murmur)"
	maxExtractedTextRune = 40_000
)

// pageFetcher downloads pages and extracts readable article text.
type pageFetcher struct {
	client   *http.Client
	maxBytes int64
	logger   log.Logger
}

// NewFetchPage creates the fetch_page tool.
func NewFetchPage(cfg config.FetchConfig, logger log.Logger) (*Tool, error) {
	if logger == nil {
		logger = log.NewNop()
	}

	timeout := defaultFetchTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	maxBytes := int64(defaultMaxBodyBytes)
	if cfg.MaxBodyBytes > 0 {
		maxBytes = cfg.MaxBodyBytes
	}

	pf := &pageFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
		logger:   logger,
	}
	return NewTool(
		"fetch_page",
		"Fetch a web page and extract its readable text content. Use after web_search to read a result in full.",
		pf.fetch,
	)
}

func (pf *pageFetcher) fetch(ctx context.Context, input FetchPageInput) *Result {
	pageURL, err := url.Parse(input.URL)
	if err != nil || pageURL.Host == "" {
		return Errorf(ErrCodeInvalidArgs, "invalid URL: %q", input.URL)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return Errorf(ErrCodeInvalidArgs, "unsupported URL scheme %q; only http and https are allowed", pageURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return Errorf(ErrCodeInternal, "building fetch request: %v", err)
	}
	req.Header.Set("User-Agent", fetchUserAgent)

	resp, err := pf.client.Do(req)
	if err != nil {
		pf.logger.Warn("page fetch failed", "url", input.URL, "error", err)
		return Errorf(ErrCodeNetwork, "fetching page: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Errorf(ErrCodeNetwork, "page returned status %d", resp.StatusCode)
	}

	// Cap how much of the body we are willing to read.
	body := io.LimitReader(resp.Body, pf.maxBytes)

	article, err := readability.FromReader(body, pageURL)
	if err != nil {
		pf.logger.Warn("readability extraction failed", "url", input.URL, "error", err)
		return Errorf(ErrCodeIO, "extracting page content: %v", err)
	}

	text := strings.TrimSpace(article.TextContent)
	truncated := false
	if runes := []rune(text); len(runes) > maxExtractedTextRune {
		text = string(runes[:maxExtractedTextRune])
		truncated = true
	}
	if text == "" {
		return Errorf(ErrCodeIO, "no readable content found at %s", input.URL)
	}

	pf.logger.Debug("page fetched", "url", input.URL, "title", article.Title, "chars", len(text), "truncated", truncated)
	return &Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Fetched: %s", input.URL),
		Data: map[string]any{
			"url":       input.URL,
			"title":     article.Title,
			"byline":    article.Byline,
			"text":      text,
			"truncated": truncated,
		},
	}
}
