package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keywarden/internal/exporter"
	"keywarden/internal/infrastructure"
	"keywarden/internal/license"
	"keywarden/internal/store"
	"keywarden/pkg/contracts/domain"
	"keywarden/pkg/contracts/events"
)

// EventPublisher is the event stream surface the service emits to.
type EventPublisher interface {
	Broadcast(eventType string, data interface{})
}

// LicenseService provides business logic for license operations.
type LicenseService interface {
	// Lifecycle operations (admin surface)
	Create(ctx context.Context, tier, ownerEmail string, days int) (*domain.License, error)
	Activate(ctx context.Context, key string, days int, ownerEmail string) (*domain.License, bool, error)
	Renew(ctx context.Context, key string, days int) (*domain.License, error)
	Deactivate(ctx context.Context, key string) error
	Unbind(ctx context.Context, key string) (*domain.License, error)
	Delete(ctx context.Context, key string) error

	// Client-facing operations (public surface)
	Validate(ctx context.Context, key, requesterIP string) (*domain.ValidationResult, error)
	Info(ctx context.Context, key string) (*domain.LicenseView, error)

	// Admin reads and reporting
	Get(ctx context.Context, key string) (*domain.License, error)
	List(ctx context.Context) ([]*domain.License, error)
	Export(ctx context.Context, w io.Writer, format string) error
}

// licenseService implements LicenseService on top of the lifecycle manager
// and validation engine.
type licenseService struct {
	manager   *license.Manager
	validator *license.Validator
	reports   *exporter.ReportWriter
	hub       EventPublisher
	metrics   *infrastructure.BusinessMetrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewLicenseService wires the lifecycle manager and validation engine into
// the transport-facing service. hub and metrics may be nil; the service
// then skips event emission and metric recording.
func NewLicenseService(manager *license.Manager, validator *license.Validator, hub EventPublisher, metrics *infrastructure.BusinessMetrics, tracer trace.Tracer, logger *slog.Logger) LicenseService {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = otel.Tracer(infrastructure.MeterName)
	}
	return &licenseService{
		manager:   manager,
		validator: validator,
		reports:   exporter.NewReportWriter(logger),
		hub:       hub,
		metrics:   metrics,
		tracer:    tracer,
		logger:    logger.With(slog.String("service", "license")),
	}
}

// Create issues a new license key for the given tier.
func (s *licenseService) Create(ctx context.Context, tier, ownerEmail string, days int) (*domain.License, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "LicenseService.Create",
		trace.WithAttributes(attribute.String("license.tier", tier)))
	defer span.End()

	parsed, err := domain.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", license.ErrInvalidTier, tier)
	}

	lic, err := s.manager.Create(ctx, parsed, ownerEmail, days)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "create", err, time.Since(start))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.logger.ErrorContext(ctx, "license creation failed",
			slog.String("tier", tier),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("create license: %w", err)
	}

	s.logger.InfoContext(ctx, "license creation succeeded",
		slog.String("license_key", maskLicenseKey(lic.Key)),
		slog.String("tier", string(lic.Tier)),
		slog.Duration("latency", time.Since(start)))

	s.publish(events.EventLicenseCreated, lifecyclePayload(lic))
	return lic, nil
}

// Activate turns a key on, provisioning it as tier Sentinel when it does
// not exist yet. The returned flag reports the provisioning case.
func (s *licenseService) Activate(ctx context.Context, key string, days int, ownerEmail string) (*domain.License, bool, error) {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Activate",
		trace.WithAttributes(attribute.String("license.key", maskedKey)))
	defer span.End()

	s.logger.InfoContext(ctx, "license activation started",
		slog.String("license_key", maskedKey))

	lic, created, err := s.manager.Activate(ctx, key, days, ownerEmail)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "activate", err, time.Since(start))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.logger.ErrorContext(ctx, "license activation failed",
			slog.String("license_key", maskedKey),
			slog.Duration("latency", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, false, fmt.Errorf("activate license: %w", err)
	}

	span.SetAttributes(attribute.Bool("license.created", created))
	s.logger.InfoContext(ctx, "license activation succeeded",
		slog.String("license_key", maskedKey),
		slog.Bool("created", created),
		slog.Duration("latency", time.Since(start)))

	if created {
		s.publish(events.EventLicenseCreated, lifecyclePayload(lic))
	}
	s.publish(events.EventLicenseActivated, lifecyclePayload(lic))
	return lic, created, nil
}

// Renew pushes the expiry window out from now and reactivates the record.
func (s *licenseService) Renew(ctx context.Context, key string, days int) (*domain.License, error) {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Renew",
		trace.WithAttributes(attribute.String("license.key", maskedKey)))
	defer span.End()

	lic, err := s.manager.Renew(ctx, key, days)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "renew", err, time.Since(start))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			infrastructure.RecordError(ctx, err)
		}
		s.logger.WarnContext(ctx, "license renewal failed",
			slog.String("license_key", maskedKey),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("renew license: %w", err)
	}

	s.logger.InfoContext(ctx, "license renewal succeeded",
		slog.String("license_key", maskedKey),
		slog.Time("expires_at", lic.ExpiresAt),
		slog.Duration("latency", time.Since(start)))

	s.publish(events.EventLicenseRenewed, lifecyclePayload(lic))
	return lic, nil
}

// Deactivate flips the kill switch off. Unknown keys succeed silently so
// revocation scripts can run unconditionally.
func (s *licenseService) Deactivate(ctx context.Context, key string) error {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Deactivate",
		trace.WithAttributes(attribute.String("license.key", maskedKey)))
	defer span.End()

	lic, err := s.manager.Deactivate(ctx, key)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "deactivate", err, time.Since(start))
	if err != nil {
		infrastructure.RecordError(ctx, err)
		s.logger.ErrorContext(ctx, "license deactivation failed",
			slog.String("license_key", maskedKey),
			slog.String("error", err.Error()))
		return fmt.Errorf("deactivate license: %w", err)
	}

	s.logger.InfoContext(ctx, "license deactivation succeeded",
		slog.String("license_key", maskedKey),
		slog.Bool("existed", lic != nil),
		slog.Duration("latency", time.Since(start)))

	if lic != nil {
		s.publish(events.EventLicenseDeactivated, lifecyclePayload(lic))
	}
	return nil
}

// Unbind clears the machine binding so the next validation binds anew.
func (s *licenseService) Unbind(ctx context.Context, key string) (*domain.License, error) {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Unbind",
		trace.WithAttributes(attribute.String("license.key", maskedKey)))
	defer span.End()

	lic, err := s.manager.Unbind(ctx, key)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "unbind", err, time.Since(start))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			infrastructure.RecordError(ctx, err)
		}
		s.logger.WarnContext(ctx, "license unbind failed",
			slog.String("license_key", maskedKey),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("unbind license: %w", err)
	}

	s.logger.InfoContext(ctx, "license unbind succeeded",
		slog.String("license_key", maskedKey),
		slog.Duration("latency", time.Since(start)))

	s.publish(events.EventLicenseUnbound, lifecyclePayload(lic))
	return lic, nil
}

// Delete removes a record permanently.
func (s *licenseService) Delete(ctx context.Context, key string) error {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Delete",
		trace.WithAttributes(attribute.String("license.key", maskedKey)))
	defer span.End()

	// Fetch the pre-image first so the emitted event carries the tier.
	lic, err := s.manager.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("delete license: %w", err)
	}

	err = s.manager.Delete(ctx, key)
	infrastructure.RecordLifecycleMetrics(ctx, s.metrics, "delete", err, time.Since(start))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			infrastructure.RecordError(ctx, err)
		}
		s.logger.WarnContext(ctx, "license deletion failed",
			slog.String("license_key", maskedKey),
			slog.String("error", err.Error()))
		return fmt.Errorf("delete license: %w", err)
	}

	s.logger.InfoContext(ctx, "license deletion succeeded",
		slog.String("license_key", maskedKey),
		slog.Duration("latency", time.Since(start)))

	s.publish(events.EventLicenseDeleted, lifecyclePayload(lic))
	return nil
}

// Validate runs the validation state machine for key as seen from
// requesterIP. Decidable outcomes return a result and a nil error; an error
// means the store failed.
func (s *licenseService) Validate(ctx context.Context, key, requesterIP string) (*domain.ValidationResult, error) {
	start := time.Now()
	maskedKey := maskLicenseKey(key)
	ctx, span := s.tracer.Start(ctx, "LicenseService.Validate",
		trace.WithAttributes(
			attribute.String("license.key", maskedKey),
			attribute.String("license.requester_ip", requesterIP)))
	defer span.End()

	res, err := s.validator.Validate(ctx, key, requesterIP)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		infrastructure.RecordStoreError(ctx, s.metrics, "validate")
		s.logger.ErrorContext(ctx, "license validation errored",
			slog.String("license_key", maskedKey),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("validate license: %w", err)
	}

	infrastructure.RecordValidationMetrics(ctx, s.metrics, res.Valid, res.Reason, time.Since(start))
	if res.BoundNow {
		infrastructure.RecordIPBinding(ctx, s.metrics)
		s.logger.InfoContext(ctx, "license bound to machine",
			slog.String("license_key", maskedKey),
			slog.String("bound_ip", res.BoundIP))
	}

	span.SetAttributes(
		attribute.Bool("license.valid", res.Valid),
		attribute.String("license.reason", res.Reason))
	s.logger.InfoContext(ctx, "license validation decided",
		slog.String("license_key", maskedKey),
		slog.Bool("valid", res.Valid),
		slog.String("reason", res.Reason),
		slog.String("requester_ip", requesterIP),
		slog.Duration("latency", time.Since(start)))

	s.publish(events.EventLicenseValidated, events.ValidationPayload{
		LicenseKey:  key,
		Valid:       res.Valid,
		Reason:      res.Reason,
		RequesterIP: requesterIP,
	})
	return res, nil
}

// Info returns the redacted public projection of a license record.
func (s *licenseService) Info(ctx context.Context, key string) (*domain.LicenseView, error) {
	ctx, span := s.tracer.Start(ctx, "LicenseService.Info",
		trace.WithAttributes(attribute.String("license.key", maskLicenseKey(key))))
	defer span.End()

	lic, err := s.manager.Get(ctx, key)
	if err != nil {
		// Lookups miss routinely; only backend failures are span errors.
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, license.ErrEmptyKey) {
			infrastructure.RecordError(ctx, err)
			infrastructure.RecordStoreError(ctx, s.metrics, "info")
		}
		return nil, err
	}

	view := lic.View()
	return &view, nil
}

// Get returns the full license record for the admin surface.
func (s *licenseService) Get(ctx context.Context, key string) (*domain.License, error) {
	ctx, span := s.tracer.Start(ctx, "LicenseService.Get",
		trace.WithAttributes(attribute.String("license.key", maskLicenseKey(key))))
	defer span.End()

	lic, err := s.manager.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) && !errors.Is(err, license.ErrEmptyKey) {
			infrastructure.RecordError(ctx, err)
			infrastructure.RecordStoreError(ctx, s.metrics, "get")
		}
		return nil, err
	}
	return lic, nil
}

// List returns every license record, newest first.
func (s *licenseService) List(ctx context.Context) ([]*domain.License, error) {
	ctx, span := s.tracer.Start(ctx, "LicenseService.List")
	defer span.End()

	licenses, err := s.manager.List(ctx)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		infrastructure.RecordStoreError(ctx, s.metrics, "list")
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	span.SetAttributes(attribute.Int("license.count", len(licenses)))
	return licenses, nil
}

// Export renders the license inventory as a report in the given format.
func (s *licenseService) Export(ctx context.Context, w io.Writer, format string) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "LicenseService.Export",
		trace.WithAttributes(attribute.String("report.format", format)))
	defer span.End()

	licenses, err := s.manager.List(ctx)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		infrastructure.RecordStoreError(ctx, s.metrics, "export")
		return fmt.Errorf("export licenses: %w", err)
	}

	if err := s.reports.Write(w, format, licenses); err != nil {
		infrastructure.RecordError(ctx, err)
		return fmt.Errorf("render %s report: %w", format, err)
	}

	infrastructure.RecordExport(ctx, s.metrics, format)
	s.logger.InfoContext(ctx, "license report exported",
		slog.String("format", format),
		slog.Int("record_count", len(licenses)),
		slog.Duration("latency", time.Since(start)))
	return nil
}

// publish fans an event out to the admin stream. Publication is advisory;
// a nil hub means events are not wired.
func (s *licenseService) publish(eventType events.EventType, payload interface{}) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(string(eventType), payload)
}

// lifecyclePayload flattens a record into the lifecycle event body.
func lifecyclePayload(lic *domain.License) events.LifecyclePayload {
	return events.LifecyclePayload{
		LicenseKey: lic.Key,
		Tier:       string(lic.Tier),
		ExpiresAt:  lic.ExpiresAt,
		Active:     lic.Active,
	}
}

// maskLicenseKey masks a license key for logging and tracing. The tier
// prefix and a few hex characters are enough to correlate log lines.
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "..."
}
