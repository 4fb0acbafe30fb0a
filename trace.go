package wrpc

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracePrefix = TRACEPAYLOAD + "."

// InjectTrace 把 ctx 中的链路追踪上下文注入 Header，随 CALL 包传播
func InjectTrace(ctx context.Context, h Header) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		h.Set(tracePrefix+k, v)
	}
}

// ExtractTrace 从 Header 还原链路上下文并开启方法级 span
//
// Header 中没有追踪信息时 span 为 nil。
func ExtractTrace(ctx context.Context, h Header, spanName string) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for k, vs := range h {
		if strings.HasPrefix(k, tracePrefix) && len(vs) > 0 {
			carrier[strings.TrimPrefix(k, tracePrefix)] = vs[0]
		}
	}
	if len(carrier) == 0 {
		return ctx, nil
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	return otel.GetTracerProvider().Tracer("wrpc-go").Start(ctx, spanName)
}

func setSpanError(span trace.Span, desc string) {
	if span != nil {
		span.SetStatus(codes.Error, desc)
	}
}

func endSpan(span trace.Span) {
	if span != nil {
		span.End()
	}
}
