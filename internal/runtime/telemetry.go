package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/loqalabs/loqa-quiz/internal/config"
)

// telemetry holds the process-wide trace and meter providers installed by
// setupTelemetry.
type telemetry struct {
	resource *resource.Resource
	tracer   *sdktrace.TracerProvider
	meter    *sdkmetric.MeterProvider
	// metrics is nil when the /metrics endpoint is disabled.
	metrics http.Handler
}

func setupTelemetry(ctx context.Context, cfg config.Config, version string, logger *slog.Logger) (*telemetry, error) {
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithProcessRuntimeName(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceVersion(version),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry resource: %w", err)
	}

	exporter, exporterName, err := spanExporter(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("trace exporter %s: %w", exporterName, err)
	}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if exporter != nil {
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}

	t := &telemetry{
		resource: res,
		tracer:   sdktrace.NewTracerProvider(traceOpts...),
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if cfg.Telemetry.Metrics {
		reader, handler, err := prometheusReader()
		if err != nil {
			logger.Warn("metrics endpoint disabled", slog.String("error", err.Error()))
		} else {
			meterOpts = append(meterOpts, sdkmetric.WithReader(reader))
			t.metrics = handler
		}
	}
	t.meter = sdkmetric.NewMeterProvider(meterOpts...)

	otel.SetTracerProvider(t.tracer)
	otel.SetMeterProvider(t.meter)
	logger.Info("telemetry initialized",
		slog.String("exporter", exporterName),
		slog.Bool("metrics", t.metrics != nil),
		slog.String("version", version),
	)
	return t, nil
}

// spanExporter picks OTLP when an endpoint is configured, then stdout when
// requested. A nil exporter keeps spans in-process only.
func spanExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		return exp, "otlp", err
	}
	if cfg.StdoutTraces {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		return exp, "stdout", err
	}
	return nil, "none", nil
}

// prometheusReader exports to a private registry, not the default one.
func prometheusReader() (sdkmetric.Reader, http.Handler, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		return nil, nil, err
	}
	return exp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes pending metrics and spans.
func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meter.Shutdown(ctx), t.tracer.Shutdown(ctx))
}
