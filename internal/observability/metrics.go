package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TurnMetrics records per-turn agent metrics. A nil *TurnMetrics is
// valid and records nothing, so callers never need to branch.
type TurnMetrics struct {
	turns     metric.Int64Counter
	duration  metric.Float64Histogram
	steps     metric.Int64Histogram
	toolCalls metric.Int64Counter
}

// NewTurnMetrics creates the agent's metric instruments on the global
// meter provider.
func NewTurnMetrics() (*TurnMetrics, error) {
	meter := otel.Meter("murmur/agent")

	turns, err := meter.Int64Counter("agent.turns",
		metric.WithDescription("Completed agent turns by outcome"))
	if err != nil {
		return nil, fmt.Errorf("creating turns counter: %w", err)
	}
	duration, err := meter.Float64Histogram("agent.turn.duration",
		metric.WithDescription("Agent turn duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("creating duration histogram: %w", err)
	}
	steps, err := meter.Int64Histogram("agent.turn.steps",
		metric.WithDescription("Model invocations per turn"))
	if err != nil {
		return nil, fmt.Errorf("creating steps histogram: %w", err)
	}
	toolCalls, err := meter.Int64Counter("agent.tool.calls",
		metric.WithDescription("Tool invocations by tool and status"))
	if err != nil {
		return nil, fmt.Errorf("creating tool calls counter: %w", err)
	}

	return &TurnMetrics{
		turns:     turns,
		duration:  duration,
		steps:     steps,
		toolCalls: toolCalls,
	}, nil
}

// RecordTurn records one finished turn.
func (m *TurnMetrics) RecordTurn(ctx context.Context, outcome string, steps int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.turns.Add(ctx, 1, attrs)
	m.duration.Record(ctx, elapsed.Seconds(), attrs)
	m.steps.Record(ctx, int64(steps), attrs)
}

// RecordToolCall records one tool invocation.
func (m *TurnMetrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
}
