package gc

import (
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds collector-related OpenTelemetry metric instruments.
type Metrics struct {
	sweepsTotal      metric.Int64Counter
	sweepDuration    metric.Float64Histogram
	documentsRemoved metric.Int64Counter
	blobsDeleted     metric.Int64Counter
	blobsRetained    metric.Int64Counter
	bytesReclaimed   metric.Int64Counter
	errorsTotal      metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	sweepsTotal, err := meter.Int64Counter(
		"paper_vault_gc_sweeps_total",
		metric.WithDescription("Total number of collector sweeps"),
		metric.WithUnit("{sweep}"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"paper_vault_gc_sweep_duration_seconds",
		metric.WithDescription("Collector sweep duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, err
	}

	documentsRemoved, err := meter.Int64Counter(
		"paper_vault_gc_documents_removed_total",
		metric.WithDescription("Total number of expired documents removed"),
		metric.WithUnit("{document}"),
	)
	if err != nil {
		return nil, err
	}

	blobsDeleted, err := meter.Int64Counter(
		"paper_vault_gc_blobs_deleted_total",
		metric.WithDescription("Total number of unreferenced blobs deleted"),
		metric.WithUnit("{blob}"),
	)
	if err != nil {
		return nil, err
	}

	blobsRetained, err := meter.Int64Counter(
		"paper_vault_gc_blobs_retained_total",
		metric.WithDescription("Blobs kept because another active document still references them"),
		metric.WithUnit("{blob}"),
	)
	if err != nil {
		return nil, err
	}

	bytesReclaimed, err := meter.Int64Counter(
		"paper_vault_gc_bytes_reclaimed_total",
		metric.WithDescription("Total bytes reclaimed by the collector"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	errorsTotal, err := meter.Int64Counter(
		"paper_vault_gc_errors_total",
		metric.WithDescription("Total number of collector errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		sweepsTotal:      sweepsTotal,
		sweepDuration:    sweepDuration,
		documentsRemoved: documentsRemoved,
		blobsDeleted:     blobsDeleted,
		blobsRetained:    blobsRetained,
		bytesReclaimed:   bytesReclaimed,
		errorsTotal:      errorsTotal,
	}, nil
}
