package middleware

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"
)

var (
	tracingOnce  sync.Once
	instrumented bool
	tracerProv   *trace.TracerProvider
)

// Tracing wraps handlers with otelhttp when an OTLP endpoint is configured
// and passes through otherwise.
func Tracing(service string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	tracingOnce.Do(func() {
		endpoint := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
		if endpoint == "" {
			endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if endpoint == "" {
			return
		}
		var opts []otlptracehttp.Option
		if strings.HasPrefix(strings.ToLower(endpoint), "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(context.Background(), opts...)
		if err != nil {
			log.Warnw("tracing exporter init failed, instrumentation disabled", "err", err)
			return
		}
		res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(service)))
		if err != nil {
			log.Warnw("tracing resource init failed", "err", err)
			return
		}
		tracerProv = trace.NewTracerProvider(trace.WithBatcher(exp), trace.WithResource(res))
		otel.SetTracerProvider(tracerProv)
		instrumented = true
		log.Infow("tracing enabled", "endpoint", endpoint, "service", service)
	})
	if !instrumented {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler { return otelhttp.NewHandler(next, "http") }
}

// ShutdownTracing flushes pending spans.
func ShutdownTracing(ctx context.Context) error {
	if tracerProv == nil {
		return nil
	}
	return tracerProv.Shutdown(ctx)
}
