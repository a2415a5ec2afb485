package telemetry

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Options configures InitTracer.
type Options struct {
	// Writer receives exported spans. Defaults to stdout.
	Writer io.Writer
	// PrettyPrint indents exported spans.
	PrettyPrint bool
}

// InitTracer installs an SDK tracer provider that exports spans as JSON.
func InitTracer(serviceName string, logger *slog.Logger, optFns ...func(o *Options)) (ShutdownFunc, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	var exporterOpts []stdouttrace.Option
	if opts.Writer != nil {
		exporterOpts = append(exporterOpts, stdouttrace.WithWriter(opts.Writer))
	}
	if opts.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.Info("OpenTelemetry initialized", slog.String("service", serviceName))
	}
	return tp.Shutdown, nil
}

// Disable installs a no-op tracer provider.
func Disable() ShutdownFunc {
	otel.SetTracerProvider(noop.NewTracerProvider())
	return func(context.Context) error { return nil }
}
