package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.28.0"
	"go.opentelemetry.io/otel/trace"

	"keywarden/internal/config"
)

const (
	// ServiceVersion identifies the build in traces and metrics
	ServiceVersion = "1.0.0"
	// MeterName is the instrumentation scope for all keywarden telemetry
	MeterName = "keywarden"
)

// OTelProviders holds the OpenTelemetry providers
type OTelProviders struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
	PrometheusHTTP http.Handler
	Logger         *slog.Logger
}

// InitializeOTel initializes tracing and metrics from the telemetry section
// of the application config. When telemetry is disabled the returned
// providers carry the global no-op tracer and meter so callers can
// instrument unconditionally.
func InitializeOTel(cfg config.TelemetryConfig, logger *slog.Logger) (*OTelProviders, error) {
	ctx := context.Background()

	providers := &OTelProviders{
		Logger: logger,
		Tracer: otel.Tracer(MeterName),
		Meter:  otel.Meter(MeterName),
	}

	if !cfg.Enabled {
		logger.InfoContext(ctx, "Telemetry disabled, using no-op providers")
		return providers, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = MeterName
	}

	logger.InfoContext(ctx, "Initializing OpenTelemetry",
		slog.String("service", serviceName),
		slog.String("version", ServiceVersion),
		slog.Bool("stdout_traces", cfg.StdoutTraces))

	res, err := createResource(serviceName)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := initializeTracing(ctx, cfg, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := initializeMetrics(ctx, res, providers); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return providers, nil
}

// createResource creates the OpenTelemetry resource
func createResource(serviceName string) (*resource.Resource, error) {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(ServiceVersion),
		semconv.DeploymentEnvironmentName(env),
		attribute.String("service.instance.id", generateInstanceID()),
	), nil
}

// initializeTracing sets up the tracer provider. Spans are exported to
// stdout only when configured; otherwise they exist for trace propagation
// and context correlation.
func initializeTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, providers *OTelProviders) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	if cfg.StdoutTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	providers.TracerProvider = tp
	providers.Tracer = tp.Tracer(MeterName, trace.WithInstrumentationVersion(ServiceVersion))

	otel.SetTracerProvider(tp)

	providers.Logger.InfoContext(ctx, "Tracing initialized",
		slog.Bool("stdout_traces", cfg.StdoutTraces))

	return nil
}

// initializeMetrics sets up the meter provider with a Prometheus reader
func initializeMetrics(ctx context.Context, res *resource.Resource, providers *OTelProviders) error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	providers.PrometheusHTTP = promhttp.Handler()

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	providers.MeterProvider = mp
	providers.Meter = mp.Meter(MeterName, metric.WithInstrumentationVersion(ServiceVersion))

	otel.SetMeterProvider(mp)

	providers.Logger.InfoContext(ctx, "Metrics initialized",
		slog.String("exporter", "prometheus"))

	return nil
}

// CreateBusinessMetrics creates application-specific metrics
func CreateBusinessMetrics(meter metric.Meter) (*BusinessMetrics, error) {
	// HTTP metrics
	httpRequestsTotal, err := meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	httpActiveRequests, err := meter.Int64UpDownCounter(
		"http_active_requests",
		metric.WithDescription("Number of active HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	// License validation metrics
	validationChecks, err := meter.Int64Counter(
		"license_validation_checks_total",
		metric.WithDescription("Total number of license validation checks"),
	)
	if err != nil {
		return nil, err
	}

	validationFailures, err := meter.Int64Counter(
		"license_validation_failures_total",
		metric.WithDescription("Total number of license validation checks that came back invalid"),
	)
	if err != nil {
		return nil, err
	}

	validationDuration, err := meter.Float64Histogram(
		"license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	ipBindings, err := meter.Int64Counter(
		"license_ip_bindings_total",
		metric.WithDescription("Total number of first-use IP bindings"),
	)
	if err != nil {
		return nil, err
	}

	// License lifecycle metrics
	lifecycleOps, err := meter.Int64Counter(
		"license_lifecycle_operations_total",
		metric.WithDescription("Total number of license lifecycle operations"),
	)
	if err != nil {
		return nil, err
	}

	lifecycleDuration, err := meter.Float64Histogram(
		"license_lifecycle_operation_duration_seconds",
		metric.WithDescription("License lifecycle operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	exports, err := meter.Int64Counter(
		"license_exports_total",
		metric.WithDescription("Total number of license report exports"),
	)
	if err != nil {
		return nil, err
	}

	// Store metrics
	storeErrors, err := meter.Int64Counter(
		"store_errors_total",
		metric.WithDescription("Total number of license store failures"),
	)
	if err != nil {
		return nil, err
	}

	// Event stream metrics
	eventsPublished, err := meter.Int64Counter(
		"events_published_total",
		metric.WithDescription("Total number of events published to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	eventSubscribers, err := meter.Int64UpDownCounter(
		"event_subscribers_active",
		metric.WithDescription("Number of connected event stream subscribers"),
	)
	if err != nil {
		return nil, err
	}

	return &BusinessMetrics{
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestDuration: httpRequestDuration,
		HTTPActiveRequests:  httpActiveRequests,

		ValidationChecks:   validationChecks,
		ValidationFailures: validationFailures,
		ValidationDuration: validationDuration,
		IPBindings:         ipBindings,

		LifecycleOps:      lifecycleOps,
		LifecycleDuration: lifecycleDuration,
		Exports:           exports,

		StoreErrors: storeErrors,

		EventsPublished:  eventsPublished,
		EventSubscribers: eventSubscribers,
	}, nil
}

// BusinessMetrics holds all application-specific metrics
type BusinessMetrics struct {
	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram
	HTTPActiveRequests  metric.Int64UpDownCounter

	// License validation metrics
	ValidationChecks   metric.Int64Counter
	ValidationFailures metric.Int64Counter
	ValidationDuration metric.Float64Histogram
	IPBindings         metric.Int64Counter

	// License lifecycle metrics
	LifecycleOps      metric.Int64Counter
	LifecycleDuration metric.Float64Histogram
	Exports           metric.Int64Counter

	// Store metrics
	StoreErrors metric.Int64Counter

	// Event stream metrics
	EventsPublished  metric.Int64Counter
	EventSubscribers metric.Int64UpDownCounter
}

// Shutdown gracefully shuts down OpenTelemetry providers
func (p *OTelProviders) Shutdown(ctx context.Context) error {
	var errs []error

	if p.TracerProvider != nil {
		if err := p.TracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}

	if p.MeterProvider != nil {
		if err := p.MeterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter provider shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("opentelemetry shutdown errors: %v", errs)
	}

	p.Logger.InfoContext(ctx, "OpenTelemetry shutdown complete")
	return nil
}

// generateInstanceID generates a unique instance identifier
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d", hostname, time.Now().Unix())
}

// RecordError records an error on the current span
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordValidationMetrics records the outcome of a single validation check
func RecordValidationMetrics(ctx context.Context, metrics *BusinessMetrics, valid bool, reason string, duration time.Duration) {
	if metrics == nil {
		return
	}

	metrics.ValidationChecks.Add(ctx, 1)
	metrics.ValidationDuration.Record(ctx, duration.Seconds())

	if !valid {
		metrics.ValidationFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// RecordLifecycleMetrics records a lifecycle operation and its outcome
func RecordLifecycleMetrics(ctx context.Context, metrics *BusinessMetrics, operation string, err error, duration time.Duration) {
	if metrics == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)

	metrics.LifecycleOps.Add(ctx, 1, attrs)
	metrics.LifecycleDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordStoreError records a license store failure
func RecordStoreError(ctx context.Context, metrics *BusinessMetrics, operation string) {
	if metrics == nil {
		return
	}

	metrics.StoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("operation", operation)))
}

// RecordIPBinding records a first-time machine binding
func RecordIPBinding(ctx context.Context, metrics *BusinessMetrics) {
	if metrics == nil {
		return
	}

	metrics.IPBindings.Add(ctx, 1)
}

// RecordExport records a license report export by format
func RecordExport(ctx context.Context, metrics *BusinessMetrics, format string) {
	if metrics == nil {
		return
	}

	metrics.Exports.Add(ctx, 1,
		metric.WithAttributes(attribute.String("format", format)))
}
