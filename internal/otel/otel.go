package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/gqlbind/internal/eventbus"
	events "github.com/hanpama/gqlbind/internal/events"
	reqid "github.com/hanpama/gqlbind/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := Register(otel.Tracer("gqlbind"))

	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// Register subscribes span recording for client requests to the global
// eventbus. The returned function removes the subscriptions.
func Register(tracer trace.Tracer) (unregister func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer trace.Tracer
	spans  sync.Map // rid -> trace.Span
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.ClientRequestStart) {
			rid, _ := reqid.FromContext(ctx)
			_, span := s.tracer.Start(ctx, "graphql.client", trace.WithSpanKind(trace.SpanKindClient))
			span.SetAttributes(
				semconv.HTTPMethodKey.String("POST"),
				semconv.HTTPURLKey.String(e.URL),
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
			)
			s.spans.Store(rid, span)
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.ClientRequestFinish) {
			rid, _ := reqid.FromContext(ctx)
			v, ok := s.spans.LoadAndDelete(rid)
			if !ok {
				return
			}
			span := v.(trace.Span)
			if e.Status > 0 {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			}
			span.SetAttributes(attribute.String("graphql.outcome", e.Outcome))
			if e.Err != nil {
				span.RecordError(e.Err)
			}
			if e.Outcome == "error" || e.Outcome == "exception" {
				span.SetStatus(codes.Error, e.Outcome)
			}
			span.End()
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.BindingAbort) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.spans.Load(rid); ok {
				v.(trace.Span).AddEvent("abort")
			}
		}),

		eventbus.Subscribe(func(ctx context.Context, e events.BindingDispose) {
			rid, _ := reqid.FromContext(ctx)
			if v, ok := s.spans.Load(rid); ok {
				v.(trace.Span).AddEvent("dispose")
			}
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
