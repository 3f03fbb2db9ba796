// Package telemetry provides OpenTelemetry metrics for the vault.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const meterName = "github.com/wolfeidau/paper-vault"

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// FlushInterval is how often the OTLP reader exports (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	uploadsTotal      metric.Int64Counter
	uploadBytesTotal  metric.Int64Counter
	dedupHitsTotal    metric.Int64Counter
	extractionsTotal  metric.Int64Counter
	quotaRejectsTotal metric.Int64Counter

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system with a
// Prometheus exporter and, when an endpoint is configured, an OTLP
// gRPC exporter. Returns a shutdown function that should be called on
// application exit. Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "paper-vault"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	readers, err := buildReaders(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m := &Metrics{
		meterProvider: mp,
		promHandler:   promhttp.Handler(),
	}
	if err := m.createInstruments(mp.Meter(meterName)); err != nil {
		return err
	}

	globalMetrics = m
	return nil
}

// buildReaders returns the metric readers for the provider: the
// Prometheus exporter always, plus a periodic OTLP gRPC reader when an
// endpoint is configured.
func buildReaders(ctx context.Context, cfg MetricsConfig) ([]sdkmetric.Reader, error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	readers := []sdkmetric.Reader{promExp}

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return nil, err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	return readers, nil
}

func (m *Metrics) createInstruments(meter metric.Meter) error {
	var err error

	if m.uploadsTotal, err = meter.Int64Counter(
		"paper_vault_uploads_total",
		metric.WithDescription("Total number of document uploads"),
		metric.WithUnit("{upload}"),
	); err != nil {
		return err
	}

	if m.uploadBytesTotal, err = meter.Int64Counter(
		"paper_vault_upload_bytes_total",
		metric.WithDescription("Total bytes of new blob content stored"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}

	if m.dedupHitsTotal, err = meter.Int64Counter(
		"paper_vault_dedup_hits_total",
		metric.WithDescription("Uploads deduplicated against an existing blob"),
		metric.WithUnit("{upload}"),
	); err != nil {
		return err
	}

	if m.extractionsTotal, err = meter.Int64Counter(
		"paper_vault_extractions_total",
		metric.WithDescription("Metadata extraction calls by outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return err
	}

	if m.quotaRejectsTotal, err = meter.Int64Counter(
		"paper_vault_quota_rejects_total",
		metric.WithDescription("Uploads rejected by size or quota limits"),
		metric.WithUnit("{upload}"),
	); err != nil {
		return err
	}

	if m.backendRequestDuration, err = meter.Float64Histogram(
		"paper_vault_backend_request_duration_seconds",
		metric.WithDescription("Backend operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10),
	); err != nil {
		return err
	}

	if m.backendRequestsTotal, err = meter.Int64Counter(
		"paper_vault_backend_requests_total",
		metric.WithDescription("Backend operations by backend, op and outcome"),
		metric.WithUnit("{request}"),
	); err != nil {
		return err
	}

	if m.backendBytesTotal, err = meter.Int64Counter(
		"paper_vault_backend_bytes_total",
		metric.WithDescription("Bytes written to backends"),
		metric.WithUnit("By"),
	); err != nil {
		return err
	}

	return nil
}

func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil || globalMetrics.meterProvider == nil {
		return nil
	}
	return globalMetrics.meterProvider.Shutdown(ctx)
}

// Meter returns a meter from the configured provider. Safe to call
// before InitMetrics; instruments from the default no-op provider are
// returned in that case.
func Meter() metric.Meter {
	return otel.GetMeterProvider().Meter(meterName)
}

// PrometheusHandler returns the /metrics HTTP handler, or nil if
// metrics are not initialised.
func PrometheusHandler() http.Handler {
	if globalMetrics == nil {
		return nil
	}
	return globalMetrics.promHandler
}

// RecordUpload records a completed upload. dedup marks uploads that
// reused an existing blob; newBytes is zero for those.
func RecordUpload(ctx context.Context, dedup bool, newBytes int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.uploadsTotal.Add(ctx, 1)
	if dedup {
		globalMetrics.dedupHitsTotal.Add(ctx, 1)
		return
	}
	globalMetrics.uploadBytesTotal.Add(ctx, newBytes)
}

// RecordExtraction records a metadata extraction call outcome.
func RecordExtraction(ctx context.Context, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.extractionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordQuotaReject records an upload rejected by limits.
func RecordQuotaReject(ctx context.Context, reason string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.quotaRejectsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBackendOp records a single backend operation.
func RecordBackendOp(ctx context.Context, backendName, op, outcome string, d time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backendName),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.backendRequestDuration.Record(ctx, d.Seconds(), attrs)
	globalMetrics.backendRequestsTotal.Add(ctx, 1, attrs)
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, attrs)
	}
}
