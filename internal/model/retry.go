package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
)

// RetryConfig configures the retry behavior for model calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because Genkit and LLM provider SDKs
// do not expose typed/sentinel errors for transient failures.
// This is a documented exception to the project rule against
// strings.Contains(err.Error(), ...).
// Re-evaluate if Genkit adds structured error types in a future version.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// generateFunc performs one model invocation attempt.
type generateFunc func(ctx context.Context) (*ai.ModelResponse, error)

// executeWithRetry executes generate with exponential backoff retry.
//
// Features:
//   - Rate limits EACH attempt
//   - Tracks elapsed time for observability
//   - Exponential backoff with configurable max interval
func (g *Gateway) executeWithRetry(ctx context.Context, generate generateFunc) (*ai.ModelResponse, error) {
	var lastErr error
	delay := g.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= g.retryConfig.MaxRetries; attempt++ {
		// Rate limit EACH attempt
		if g.rateLimiter != nil {
			if err := g.rateLimiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := generate(ctx)
		if err == nil {
			elapsed := time.Since(start)
			g.logger.Debug("model call succeeded",
				"attempts", attempt+1,
				"elapsed", elapsed,
			)
			return resp, nil
		}

		lastErr = err

		// Non-retryable error - fail immediately
		if !retryableError(err) {
			return nil, fmt.Errorf("model generate: %w", err)
		}

		// Last attempt - don't sleep
		if attempt == g.retryConfig.MaxRetries {
			break
		}

		// Exponential backoff with context cancellation check
		g.logger.Debug("retrying after error",
			"attempt", attempt+1,
			"delay", delay,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, g.retryConfig.MaxInterval)
		}
	}

	elapsed := time.Since(start)
	return nil, fmt.Errorf("%w: %d retries exhausted (elapsed: %v): %w",
		ErrModelUnavailable, g.retryConfig.MaxRetries, elapsed, lastErr)
}
