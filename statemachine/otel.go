package statemachine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "statemachine"

// startEventSpan opens the span covering one external event. It uses the
// global tracer provider installed by the telemetry package.
// The caller is responsible for calling span.End().
//
//nolint:spancheck
func startEventSpan[D any](ctx context.Context, m *Machine[D], event EventID) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "statemachine.event")

	span.SetAttributes(
		attribute.String("machine", m.name),
		attribute.String("event", m.def.events[event]),
		attribute.String("state.from", m.def.states[m.current].name),
	)

	return ctx, span
}

// recordEvent tags the span with the event outcome and counts it.
func recordEvent(span trace.Span, machine, event, outcome string) {
	span.SetAttributes(attribute.String("outcome", outcome))
	eventsTotal.WithLabelValues(machine, event, outcome).Inc()
}

func setFinalState(span trace.Span, state string) {
	span.SetAttributes(attribute.String("state.to", state))
}
