package services

import (
	"context"

	"github.com/jwebster45206/alignment-engine/pkg/chat"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jwebster45206/alignment-engine/internal/services"

// TracedLLM wraps an LLMService with one span per Chat call.
type TracedLLM struct {
	next   LLMService
	tracer trace.Tracer
	attrs  []attribute.KeyValue
}

// NewTracedLLM uses the global tracer provider, which is a no-op unless
// telemetry has been set up.
func NewTracedLLM(next LLMService, provider, model string) *TracedLLM {
	return NewTracedLLMWithTracer(next, otel.Tracer(tracerName), provider, model)
}

func NewTracedLLMWithTracer(next LLMService, tracer trace.Tracer, provider, model string) *TracedLLM {
	return &TracedLLM{
		next:   next,
		tracer: tracer,
		attrs: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		},
	}
}

func (t *TracedLLM) Chat(ctx context.Context, messages []chat.ChatMessage) (*chat.ChatResponse, error) {
	ctx, span := t.tracer.Start(ctx, "llm.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(t.attrs...),
		trace.WithAttributes(attribute.Int("llm.message_count", len(messages))),
	)
	defer span.End()

	resp, err := t.next.Chat(ctx, messages)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.response_length", len(resp.Message)))
	return resp, nil
}
