package logging

import (
	"context"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// SpanLogger is a span processor that writes every finished span to a zap
// logger: errored spans at warn level, the rest at debug level.
type SpanLogger struct {
	logger *zap.Logger
}

var _ sdktrace.SpanProcessor = (*SpanLogger)(nil)

// NewSpanLogger creates the processor. A nil logger logs nothing.
func NewSpanLogger(logger *zap.Logger) *SpanLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanLogger{logger: logger}
}

// NewTracerProvider returns a tracer provider that logs spans through
// logger.
func NewTracerProvider(logger *zap.Logger) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(NewSpanLogger(logger)))
}

func (s *SpanLogger) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (s *SpanLogger) OnEnd(span sdktrace.ReadOnlySpan) {
	fields := make([]zap.Field, 0, 3+len(span.Attributes()))
	fields = append(fields,
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.Duration("elapsed", span.EndTime().Sub(span.StartTime())))
	for _, kv := range span.Attributes() {
		fields = append(fields, zap.String(string(kv.Key), kv.Value.Emit()))
	}
	if st := span.Status(); st.Code == codes.Error {
		s.logger.Warn(span.Name(), append(fields, zap.String("status", st.Description))...)
		return
	}
	s.logger.Debug(span.Name(), fields...)
}

func (s *SpanLogger) Shutdown(context.Context) error {
	return s.logger.Sync()
}

func (s *SpanLogger) ForceFlush(context.Context) error { return nil }
