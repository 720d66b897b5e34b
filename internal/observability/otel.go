package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/imrishuroy/marketplace-orderflow/internal/config"
)

func newResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
		),
	)
}

// SetupLoggingSDK installs a global OTLP/HTTP logger provider.
func SetupLoggingSDK(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	res, err := newResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpoint(cfg.OtelEndpoint),
		otlploghttp.WithURLPath(config.LogsPath),
		otlploghttp.WithHeaders(map[string]string{"Authorization": cfg.OtelAuthHeader}),
	)
	if err != nil {
		return nil, fmt.Errorf("OTLP log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter,
			sdklog.WithExportTimeout(config.ExportTimeout),
			sdklog.WithMaxQueueSize(config.MaxQueueSize),
		)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(provider)
	return provider.Shutdown, nil
}

// SetupTracingSDK installs a global OTLP/HTTP tracer provider and the W3C
// propagators used for Kafka headers.
func SetupTracingSDK(ctx context.Context, cfg *config.Config) (trace.TracerProvider, func(context.Context) error, error) {
	res, err := newResource()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OtelEndpoint),
		otlptracehttp.WithURLPath(config.TracesPath),
		otlptracehttp.WithHeaders(map[string]string{"Authorization": cfg.OtelAuthHeader}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter,
			sdktrace.WithExportTimeout(config.ExportTimeout),
			sdktrace.WithMaxQueueSize(config.MaxQueueSize),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// Telemetry is what every binary needs from this package.
type Telemetry struct {
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	shutdownFuncs  []func(context.Context) error
}

// Setup builds the logger and tracer provider. Without an OTLP endpoint it
// returns a stdout logger and the global no-op tracer provider. Exporter
// failures are logged and do not stop the service.
func Setup(ctx context.Context, cfg *config.Config) (*Telemetry, error) {
	logger, err := NewLogger(cfg.LogLevel, nil)
	if err != nil {
		return nil, err
	}
	tel := &Telemetry{Logger: logger, TracerProvider: otel.GetTracerProvider()}
	if cfg.OtelEndpoint == "" {
		return tel, nil
	}

	if shutdown, err := SetupLoggingSDK(ctx, cfg); err != nil {
		logger.Error("failed to setup OpenTelemetry logging", zap.Error(err))
	} else {
		tel.shutdownFuncs = append(tel.shutdownFuncs, shutdown)
		if bridged, err := NewLogger(cfg.LogLevel, global.GetLoggerProvider()); err == nil {
			tel.Logger = bridged
		}
	}

	if tp, shutdown, err := SetupTracingSDK(ctx, cfg); err != nil {
		tel.Logger.Error("failed to setup OpenTelemetry tracing", zap.Error(err))
	} else {
		tel.TracerProvider = tp
		tel.shutdownFuncs = append(tel.shutdownFuncs, shutdown)
	}
	return tel, nil
}

// Shutdown flushes exporters and the logger.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var err error
	for _, fn := range t.shutdownFuncs {
		err = errors.Join(err, fn(ctx))
	}
	t.shutdownFuncs = nil
	_ = t.Logger.Sync()
	return err
}
