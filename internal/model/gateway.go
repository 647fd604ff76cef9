package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/murmurhq/murmur/internal/log"
)

// Config contains all required parameters for the Gateway.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string // Provider-qualified model name (e.g., "googleai/gemini-2.5-flash")
	Logger    log.Logger

	// Generation parameters
	Temperature float32
	MaxTokens   int

	// Resilience configuration
	RetryConfig          RetryConfig          // Retry settings (zero-value uses defaults)
	CircuitBreakerConfig CircuitBreakerConfig // Circuit breaker settings (zero-value uses defaults)
	RateLimiter          *rate.Limiter        // Optional: proactive rate limiting (nil = use default)
}

// validate checks if all required parameters are present.
func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return errors.New("model name is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Gateway is the Genkit-backed implementation of Client.
//
// All configuration values are captured immutably at construction time
// to ensure thread-safe concurrent access.
type Gateway struct {
	// Immutable configuration (captured at construction)
	modelName   string
	temperature float32
	maxTokens   int

	// Resilience (captured at construction)
	retryConfig    RetryConfig
	circuitBreaker *CircuitBreaker
	rateLimiter    *rate.Limiter

	// Dependencies (read-only after construction)
	g      *genkit.Genkit
	logger log.Logger
}

var _ Client = (*Gateway)(nil)

// NewGateway creates a Gateway with required configuration.
func NewGateway(cfg Config) (*Gateway, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	// Apply resilience defaults if not configured
	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	cbConfig := cfg.CircuitBreakerConfig
	if cbConfig.FailureThreshold == 0 {
		cbConfig = DefaultCircuitBreakerConfig()
	}

	// Use provided rate limiter or create default
	// Default: 10 requests/sec sustained, burst of 30
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	return &Gateway{
		modelName:      cfg.ModelName,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		retryConfig:    retryConfig,
		circuitBreaker: NewCircuitBreaker(cbConfig),
		rateLimiter:    rl,
		g:              cfg.Genkit,
		logger:         cfg.Logger,
	}, nil
}

// Complete runs one generation call and returns the full response.
func (g *Gateway) Complete(ctx context.Context, req *Request) (*Response, error) {
	return g.call(ctx, req, nil)
}

// Stream runs one generation call, forwarding text fragments to fn.
func (g *Gateway) Stream(ctx context.Context, req *Request, fn ChunkFunc) (*Response, error) {
	return g.call(ctx, req, fn)
}

// call is the unified generation path for both streaming and non-streaming modes.
func (g *Gateway) call(ctx context.Context, req *Request, fn ChunkFunc) (*Response, error) {
	// Check circuit breaker before attempting request
	if err := g.circuitBreaker.Allow(); err != nil {
		g.logger.Warn("circuit breaker is open, rejecting request",
			"state", g.circuitBreaker.State().String())
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	// Deep copy history before handing it to Genkit.
	// CRITICAL: Genkit's renderMessages() modifies msg.Content in-place, so
	// concurrent turns sharing the same message objects will race.
	messages := deepCopyMessages(req.Messages)

	resp, err := g.executeWithRetry(ctx, func(ctx context.Context) (*ai.ModelResponse, error) {
		opts := []ai.GenerateOption{
			ai.WithModelName(g.modelName),
			ai.WithMessages(messages...),
			// Tool-call requests surface to the caller; the agent loop owns
			// execution and result folding.
			ai.WithReturnToolRequests(true),
			ai.WithConfig(&genai.GenerateContentConfig{
				Temperature:     genai.Ptr(g.temperature),
				MaxOutputTokens: int32(g.maxTokens),
			}),
		}
		if req.System != "" {
			opts = append(opts, ai.WithSystem(req.System))
		}
		if len(req.Tools) > 0 {
			opts = append(opts, ai.WithTools(req.Tools...))
		}
		if fn != nil {
			opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				return fn(ctx, chunk.Text())
			}))
		}
		return genkit.Generate(ctx, g.g, opts...)
	})
	if err != nil {
		g.circuitBreaker.Failure()
		return nil, err
	}
	g.circuitBreaker.Success()

	return &Response{
		Text:      resp.Text(),
		ToolCalls: resp.ToolRequests(),
		Message:   resp.Message,
	}, nil
}

// deepCopyMessages creates independent copies of Message and Part structs.
//
// WORKAROUND: Genkit's renderMessages() modifies msg.Content in-place,
// causing data races in concurrent executions. This function creates
// independent struct copies to prevent the race.
//
// Tested version: github.com/firebase/genkit/go v1.4.0
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil // Preserve nil vs empty slice semantics
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart creates an independent copy of an ai.Part struct.
//
// Note on Input/Output fields: ToolRequest.Input and ToolResponse.Output
// are type `any` and copied by reference. This is acceptable because
// Genkit's renderMessages() only mutates msg.Content slice, not tool data.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input, // Reference copy - see function doc
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output, // Reference copy - see function doc
			Ref:    p.ToolResponse.Ref,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

// shallowCopyMap copies map keys and values but not nested structures.
// Nested maps, slices, or pointers remain shared with the original.
func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
