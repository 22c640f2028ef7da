package hook_test

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/arcflow/workflow-engine/engine/hook"
)

func TestOTelHandlerRecordsOneSpanPerEvent(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	h := hook.NewOTelHandler(tp.Tracer("workflow-engine-test"))
	err := h.Handle(context.Background(), hook.Payload{
		WorkflowID: "wf-1",
		Event:      hook.StepComplete,
		StepID:     "a",
		Data:       map[string]any{"durationMs": 12},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("want exactly one recorded span, got %d", len(spans))
	}
	if spans[0].Name != string(hook.StepComplete) {
		t.Fatalf("want the span named after the event, got %q", spans[0].Name)
	}
}

func TestOTelHandlerRecordsErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	h := hook.NewOTelHandler(tp.Tracer("workflow-engine-test"))
	err := h.Handle(context.Background(), hook.Payload{
		WorkflowID: "wf-1",
		Event:      hook.StepError,
		Data:       map[string]any{"error": "boom"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("want exactly one recorded span, got %d", len(spans))
	}
	if spans[0].Status.Code.String() != "Error" {
		t.Fatalf("want an error status recorded, got %v", spans[0].Status)
	}
}
