package hook

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelHandler records each emitted event as an OpenTelemetry span, named
// after the event, tagged with the workflow/step identifiers and any
// event data. Spans are point-in-time: started and ended immediately,
// since hook events represent instants rather than durations.
type OTelHandler struct {
	tracer trace.Tracer
}

// NewOTelHandler creates an OTelHandler using the given tracer, typically
// obtained from otel.Tracer("workflow-engine").
func NewOTelHandler(tracer trace.Tracer) *OTelHandler {
	return &OTelHandler{tracer: tracer}
}

// Handle satisfies hook.Handler; register it with Bus.Register.
func (o *OTelHandler) Handle(ctx context.Context, p Payload) error {
	_, span := o.tracer.Start(ctx, string(p.Event))
	defer span.End()

	span.SetAttributes(
		attribute.String("workflow.id", p.WorkflowID),
		attribute.String("workflow.event", string(p.Event)),
	)
	if p.StepID != "" {
		span.SetAttributes(attribute.String("workflow.step_id", p.StepID))
	}

	for key, value := range p.Data {
		attrKey := "workflow." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}

	if errMsg, ok := p.Data["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
	return nil
}
