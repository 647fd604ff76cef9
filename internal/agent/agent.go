// Package agent executes conversational turns.
//
// A turn is an explicit state machine: load history, retrieve memory,
// then loop the model against the tool registry until it produces a
// final answer or runs out of steps. The whole turn commits to the
// session store in one atomic append; a failed or canceled turn commits
// nothing.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/murmurhq/murmur/internal/log"
	"github.com/murmurhq/murmur/internal/memory"
	"github.com/murmurhq/murmur/internal/model"
	"github.com/murmurhq/murmur/internal/observability"
	"github.com/murmurhq/murmur/internal/session"
	"github.com/murmurhq/murmur/internal/tools"
)

const (
	// DefaultMaxSteps bounds model invocations per turn.
	DefaultMaxSteps = 5

	// MaxAllowedSteps is the hard ceiling for configuration.
	MaxAllowedSteps = 25

	defaultHistoryLimit   = 100
	memoryRetrieveTimeout = 5 * time.Second
	memoryTopK            = 5

	// maxToolResultBytes caps a tool result folded into the transcript.
	maxToolResultBytes = 16 * 1024

	// degradedAnswer is committed when the step cap forces finalization.
	degradedAnswer = "I wasn't able to finish working on that request within my limits. Please try again or break it into smaller questions."

	// fallbackAnswer is committed when the model returns nothing at all.
	fallbackAnswer = "I apologize, but I couldn't generate a response. Please try rephrasing your question."
)

// ErrEmptyInput indicates the turn had no user input to work with.
var ErrEmptyInput = errors.New("input is required")

// SessionStore is the persistence surface the agent needs.
// *session.Store satisfies it.
type SessionStore interface {
	History(ctx context.Context, sessionID uuid.UUID, limit int) ([]*ai.Message, error)
	AppendMessages(ctx context.Context, sessionID uuid.UUID, messages []*session.Message) error
	SetTitle(ctx context.Context, sessionID uuid.UUID, title string) error
}

// MemoryStore is the long-term memory surface. *memory.Store satisfies it.
type MemoryStore interface {
	Retrieve(ctx context.Context, ownerID, query string, topK int) ([]*memory.Record, error)
	Persist(ctx context.Context, ownerID string, sessionID uuid.UUID, facts []string) error
}

// FactExtractor pulls persistable facts out of a finished exchange.
// *memory.Extractor satisfies it.
type FactExtractor interface {
	Extract(ctx context.Context, userInput, finalAnswer string) ([]string, error)
}

// EmitFunc receives streamed answer fragments in order.
type EmitFunc func(ctx context.Context, text string) error

// Config assembles an Agent.
type Config struct {
	Model    model.Client
	Tools    *tools.Registry
	Sessions SessionStore

	// Memory and Extractor are optional; both must be set for memory
	// to participate in turns.
	Memory    MemoryStore
	Extractor FactExtractor

	Logger  log.Logger
	Metrics *observability.TurnMetrics

	// MaxSteps bounds model invocations per turn (default 5, max 25).
	MaxSteps int

	// SystemPrompt is prepended to every model call.
	SystemPrompt string

	// HistoryLimit is how many stored messages seed the model (default 100).
	HistoryLimit int

	// BackgroundCtx outlives individual requests; background work such
	// as fact extraction runs on it. Defaults to context.Background().
	BackgroundCtx context.Context

	// WG tracks background goroutines for graceful shutdown.
	// Required when Memory is set.
	WG *sync.WaitGroup
}

func (cfg Config) validate() error {
	if cfg.Model == nil {
		return fmt.Errorf("model client is required")
	}
	if cfg.Tools == nil {
		return fmt.Errorf("tool registry is required")
	}
	if cfg.Sessions == nil {
		return fmt.Errorf("session store is required")
	}
	if (cfg.Memory == nil) != (cfg.Extractor == nil) {
		return fmt.Errorf("memory store and extractor must be configured together")
	}
	if cfg.Memory != nil && cfg.WG == nil {
		return fmt.Errorf("wait group is required when memory is configured")
	}
	if cfg.MaxSteps < 0 || cfg.MaxSteps > MaxAllowedSteps {
		return fmt.Errorf("max steps %d out of range [0, %d]", cfg.MaxSteps, MaxAllowedSteps)
	}
	return nil
}

// Agent runs turns. Safe for concurrent use; per-session serialization
// is the caller's job (session.Guard).
type Agent struct {
	model     model.Client
	tools     *tools.Registry
	sessions  SessionStore
	memory    MemoryStore
	extractor FactExtractor

	logger  log.Logger
	metrics *observability.TurnMetrics

	maxSteps     int
	systemPrompt string
	historyLimit int

	bgCtx context.Context
	wg    *sync.WaitGroup
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	maxSteps := cfg.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	bgCtx := cfg.BackgroundCtx
	if bgCtx == nil {
		bgCtx = context.Background()
	}
	wg := cfg.WG
	if wg == nil {
		wg = &sync.WaitGroup{}
	}

	return &Agent{
		model:        cfg.Model,
		tools:        cfg.Tools,
		sessions:     cfg.Sessions,
		memory:       cfg.Memory,
		extractor:    cfg.Extractor,
		logger:       logger,
		metrics:      cfg.Metrics,
		maxSteps:     maxSteps,
		systemPrompt: cfg.SystemPrompt,
		historyLimit: historyLimit,
		bgCtx:        bgCtx,
		wg:           wg,
	}, nil
}

// RunRequest describes one turn.
type RunRequest struct {
	SessionID uuid.UUID
	OwnerID   string
	Input     string

	// Emit, when non-nil, receives answer fragments as the model
	// produces them. Emit blocking blocks the turn (backpressure).
	Emit EmitFunc
}

// Result is the outcome of a committed turn.
type Result struct {
	Response  string
	Steps     int
	ToolCalls int

	// Degraded is set when the step cap forced the answer.
	Degraded bool
}

// Run executes one turn. On error nothing has been committed to the
// session; on success the user message, any tool results, and the
// final answer are stored atomically.
func (a *Agent) Run(ctx context.Context, req RunRequest) (*Result, error) {
	if req.SessionID == uuid.Nil {
		return nil, fmt.Errorf("session ID is required")
	}
	if strings.TrimSpace(req.Input) == "" {
		return nil, ErrEmptyInput
	}

	start := time.Now()
	tracer := tracing.TracerProvider().Tracer("murmur/agent")
	ctx, span := tracer.Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", req.SessionID.String()),
		attribute.Bool("streaming", req.Emit != nil),
	)

	res, err := a.run(ctx, span, req)

	outcome := "done"
	steps := 0
	if res != nil {
		steps = res.Steps
		if res.Degraded {
			outcome = "degraded"
		}
	}
	if err != nil {
		outcome = "failed"
	}
	a.metrics.RecordTurn(ctx, outcome, steps, time.Since(start))
	a.logger.Info("turn finished",
		"session_id", req.SessionID,
		"outcome", outcome,
		"steps", steps,
		"elapsed", time.Since(start),
	)
	return res, err
}

// transition records a state change on the turn span.
func transition(span trace.Span, to State) {
	span.AddEvent("state", trace.WithAttributes(attribute.String("state", to.String())))
}

func (a *Agent) run(ctx context.Context, span trace.Span, req RunRequest) (*Result, error) {
	// START: snapshot history.
	transition(span, StateStart)
	if err := ctx.Err(); err != nil {
		transition(span, StateFailed)
		return nil, err
	}
	history, err := a.sessions.History(ctx, req.SessionID, a.historyLimit)
	if err != nil {
		transition(span, StateFailed)
		return nil, fmt.Errorf("loading history: %w", err)
	}
	firstTurn := len(history) == 0

	// RETRIEVE_MEMORY: best-effort, bounded, never fails the turn.
	transition(span, StateRetrieveMemory)
	if err := ctx.Err(); err != nil {
		transition(span, StateFailed)
		return nil, err
	}
	system := a.composeSystem(ctx, req)

	messages := append(history, ai.NewUserTextMessage(req.Input))
	turn := []*session.Message{session.NewUserMessage(req.SessionID, req.Input)}

	var (
		finalText string
		steps     int
		toolCalls int
		degraded  bool
		streamed  bool
	)

	for {
		// THINK: the step counter moves before the model does, so a
		// runaway tool loop cannot spin past the cap.
		transition(span, StateThink)
		if err := ctx.Err(); err != nil {
			transition(span, StateFailed)
			return nil, err
		}
		// Only the round that produced the final answer counts as
		// streamed; preamble text from tool rounds does not.
		streamed = false
		steps++
		if steps > a.maxSteps {
			a.logger.Warn("step cap reached, degrading", "session_id", req.SessionID, "max_steps", a.maxSteps)
			degraded = true
			finalText = degradedAnswer
			steps = a.maxSteps
			break
		}

		resp, err := a.generate(ctx, system, messages, req.Emit)
		if err != nil {
			transition(span, StateFailed)
			return nil, fmt.Errorf("model call failed: %w", err)
		}
		if req.Emit != nil && resp.Text != "" {
			streamed = true
		}

		if !resp.HasToolCalls() {
			finalText = strings.TrimSpace(resp.Text)
			if finalText == "" {
				a.logger.Warn("model returned empty response", "session_id", req.SessionID)
				finalText = fallbackAnswer
				streamed = false
			}
			break
		}

		// TOOL_CALL: resolve every request once, fold results back.
		// The tool-request message stays in the model transcript only;
		// committed history keeps user, tool results, and the answer.
		transition(span, StateToolCall)
		if resp.Message != nil {
			messages = append(messages, resp.Message)
		}
		for _, tr := range resp.ToolCalls {
			if err := ctx.Err(); err != nil {
				transition(span, StateFailed)
				return nil, err
			}
			toolMsg := a.invokeTool(ctx, tr)
			messages = append(messages, toolMsg)
			turn = append(turn, session.FromAI(req.SessionID, toolMsg))
			toolCalls++
		}
	}

	// FINALIZE: commit the whole turn atomically.
	transition(span, StateFinalize)
	if err := ctx.Err(); err != nil {
		transition(span, StateFailed)
		return nil, err
	}

	// An answer the model never streamed (degraded or fallback) still
	// reaches a streaming client as one fragment.
	if req.Emit != nil && !streamed {
		if err := req.Emit(ctx, finalText); err != nil {
			transition(span, StateFailed)
			return nil, fmt.Errorf("emitting final answer: %w", err)
		}
	}

	turn = append(turn, session.FromAI(req.SessionID, ai.NewModelTextMessage(finalText)))
	if err := a.sessions.AppendMessages(ctx, req.SessionID, turn); err != nil {
		transition(span, StateFailed)
		return nil, fmt.Errorf("committing turn: %w", err)
	}

	a.afterCommit(req, finalText, firstTurn, degraded)

	transition(span, StateDone)
	return &Result{
		Response:  finalText,
		Steps:     steps,
		ToolCalls: toolCalls,
		Degraded:  degraded,
	}, nil
}

// generate runs one model invocation, streaming when emit is set.
func (a *Agent) generate(ctx context.Context, system string, messages []*ai.Message, emit EmitFunc) (*model.Response, error) {
	req := &model.Request{
		System:   system,
		Messages: messages,
		Tools:    a.tools.Refs(),
	}
	if emit == nil {
		return a.model.Complete(ctx, req)
	}
	return a.model.Stream(ctx, req, func(ctx context.Context, text string) error {
		// Client disconnects surface here first.
		if err := ctx.Err(); err != nil {
			return err
		}
		if text == "" {
			return nil
		}
		return emit(ctx, text)
	})
}

// composeSystem builds the system prompt, appending retrieved memory.
func (a *Agent) composeSystem(ctx context.Context, req RunRequest) string {
	system := a.systemPrompt
	if a.memory == nil || req.OwnerID == "" {
		return system
	}

	mctx, cancel := context.WithTimeout(ctx, memoryRetrieveTimeout)
	defer cancel()

	records, err := a.memory.Retrieve(mctx, req.OwnerID, req.Input, memoryTopK)
	if err != nil {
		a.logger.Debug("memory retrieval failed", "session_id", req.SessionID, "error", err)
		return system
	}
	if len(records) == 0 {
		return system
	}

	var sb strings.Builder
	sb.WriteString(system)
	if system != "" {
		sb.WriteString("\n\n")
	}
	sb.WriteString("Known facts about the user from previous conversations:\n")
	for _, rec := range records {
		sb.WriteString("- ")
		sb.WriteString(rec.Content)
		sb.WriteString("\n")
	}
	a.logger.Debug("injected memories", "session_id", req.SessionID, "count", len(records))
	return sb.String()
}

// invokeTool dispatches one tool request and folds the result into a
// tool-role message. Tool failures are payloads for the model, never
// turn errors.
func (a *Agent) invokeTool(ctx context.Context, tr *ai.ToolRequest) *ai.Message {
	args, err := json.Marshal(tr.Input)
	if err != nil {
		args = []byte("{}")
	}

	result := a.tools.Invoke(ctx, tr.Name, args)
	a.metrics.RecordToolCall(ctx, tr.Name, result.Status)

	return &ai.Message{
		Role: ai.RoleTool,
		Content: []*ai.Part{ai.NewToolResponsePart(&ai.ToolResponse{
			Name:   tr.Name,
			Ref:    tr.Ref,
			Output: foldResult(result),
		})},
	}
}

// foldResult renders a tool result as a transcript payload, bounded by
// maxToolResultBytes so one verbose tool cannot blow up the context.
func foldResult(res *tools.Result) map[string]any {
	raw, err := json.Marshal(res)
	if err != nil {
		return map[string]any{"status": tools.StatusError, "message": "unencodable tool result"}
	}
	if len(raw) > maxToolResultBytes {
		out := map[string]any{
			"status":    res.Status,
			"message":   res.Message,
			"truncated": true,
		}
		if res.Error != nil {
			out["error"] = map[string]any{"code": res.Error.Code, "message": res.Error.Message}
		}
		return out
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"status": tools.StatusError, "message": "unencodable tool result"}
	}
	return out
}

// afterCommit launches best-effort background work for a committed
// turn: fact extraction and first-turn titling. Both run on the
// background context so they outlive the request, and both are tracked
// for graceful shutdown.
func (a *Agent) afterCommit(req RunRequest, finalText string, firstTurn, degraded bool) {
	if a.memory != nil && a.extractor != nil && req.OwnerID != "" && !degraded {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.extractAndPersist(a.bgCtx, req, finalText)
		}()
	}

	if firstTurn {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			if title := a.GenerateTitle(a.bgCtx, req.Input); title != "" {
				if err := a.sessions.SetTitle(a.bgCtx, req.SessionID, title); err != nil {
					a.logger.Debug("setting session title", "session_id", req.SessionID, "error", err)
				}
			}
		}()
	}
}

// extractAndPersist stores facts from the finished exchange.
// Best-effort: every failure is logged and dropped.
func (a *Agent) extractAndPersist(ctx context.Context, req RunRequest, finalText string) {
	facts, err := a.extractor.Extract(ctx, req.Input, finalText)
	if err != nil {
		a.logger.Debug("memory extraction failed", "session_id", req.SessionID, "error", err)
		return
	}
	if len(facts) == 0 {
		return
	}
	if err := a.memory.Persist(ctx, req.OwnerID, req.SessionID, facts); err != nil {
		a.logger.Debug("persisting extracted facts", "session_id", req.SessionID, "error", err)
		return
	}
	a.logger.Debug("extracted memories", "session_id", req.SessionID, "count", len(facts))
}
